package application

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rentgrid/rentd/internal/core/domain"
	"github.com/rentgrid/rentd/internal/core/ports"
	"github.com/rentgrid/rentd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// RegistryService owns asset ownership: holders, approvals, consumer
// delegates and the enumeration. Every ownership-changing entry point runs
// the rent settlement guard before touching any registry state.
type RegistryService interface {
	Mint(ctx context.Context, caller, to domain.Address, asset uint64) error
	Burn(ctx context.Context, caller domain.Address, asset uint64) error

	Transfer(ctx context.Context, caller, from, to domain.Address, asset uint64) error
	SafeTransfer(ctx context.Context, caller, from, to domain.Address, asset uint64) error

	Approve(ctx context.Context, caller, approved domain.Address, asset uint64) error
	GetApproved(ctx context.Context, asset uint64) (domain.Address, error)
	SetApprovalForAll(ctx context.Context, caller, operator domain.Address, approved bool) error
	IsApprovedForAll(ctx context.Context, owner, operator domain.Address) (bool, error)

	ChangeConsumer(ctx context.Context, caller, consumer domain.Address, asset uint64) error
	ConsumerOf(ctx context.Context, asset uint64) (domain.Address, error)

	OwnerOf(ctx context.Context, asset uint64) (domain.Address, error)
	BalanceOf(ctx context.Context, owner domain.Address) (uint64, error)
	TotalSupply(ctx context.Context) (uint64, error)
	TokenByIndex(ctx context.Context, index uint64) (uint64, error)
	TokenOfOwnerByIndex(ctx context.Context, owner domain.Address, index uint64) (uint64, error)

	SetBaseURI(ctx context.Context, caller domain.Address, uri string) error
	TokenURI(ctx context.Context, asset uint64) (string, error)
}

type registryService struct {
	repoManager ports.RepoManager
	settler     AssetSettler
	receivers   ports.ReceiverRegistry
	admin       domain.Address
}

func NewRegistryService(
	repoManager ports.RepoManager, settler AssetSettler,
	receivers ports.ReceiverRegistry, admin domain.Address,
) (RegistryService, error) {
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if settler == nil {
		return nil, fmt.Errorf("missing asset settler")
	}
	if admin.IsZero() {
		return nil, fmt.Errorf("missing administrator address")
	}
	return &registryService{
		repoManager: repoManager,
		settler:     settler,
		receivers:   receivers,
		admin:       admin.Normalize(),
	}, nil
}

func (s *registryService) Mint(
	ctx context.Context, caller, to domain.Address, asset uint64,
) error {
	if caller.Normalize() != s.admin {
		return errors.UNAUTHORIZED.New("caller %s is not the administrator", caller).
			WithMetadata(map[string]any{"caller": string(caller)})
	}
	to = to.Normalize()
	if to.IsZero() {
		return errors.INVALID_ARGUMENT.New("cannot mint to the zero address")
	}
	existing, err := s.repoManager.Registry().GetRecord(ctx, asset)
	if err != nil {
		return err
	}
	if existing != nil {
		return errors.INVALID_ARGUMENT.New("asset %d already minted", asset)
	}

	if err := s.repoManager.Registry().AddRecord(ctx, domain.OwnershipRecord{
		Asset:    asset,
		Holder:   to,
		Approved: domain.ZeroAddress,
		Consumer: domain.ZeroAddress,
	}); err != nil {
		return err
	}

	s.appendTransferEvent(ctx, asset, domain.ZeroAddress, to)
	log.WithFields(log.Fields{"asset": asset, "to": to}).Debug("minted asset")
	return nil
}

func (s *registryService) Burn(ctx context.Context, caller domain.Address, asset uint64) error {
	record, operatorApproved, err := s.recordWithAuth(ctx, caller, asset)
	if err != nil {
		return err
	}
	if !record.IsApprovedOrOwner(caller.Normalize(), operatorApproved) {
		return errors.NOT_OWNER_NOR_APPROVED.New(
			"caller %s may not burn asset %d", caller, asset,
		).WithMetadata(errors.TransferMetadata{
			Asset: asset, From: string(record.Holder), Caller: string(caller),
		})
	}

	// settle first so nothing the rental source still holds gets orphaned
	if err := s.settler.SettleAsset(ctx, asset); err != nil {
		return err
	}
	balances, err := s.repoManager.Ledger().ListRentBalances(ctx, asset)
	if err != nil {
		return err
	}
	for _, balance := range balances {
		if balance.Amount > 0 {
			return errors.INVALID_ARGUMENT.New(
				"asset %d still has unclaimed rent in %s", asset, balance.Instrument,
			)
		}
	}

	if err := s.repoManager.Registry().RemoveRecord(ctx, asset); err != nil {
		return err
	}

	s.appendTransferEvent(ctx, asset, record.Holder, domain.ZeroAddress)
	log.WithFields(log.Fields{"asset": asset, "from": record.Holder}).Debug("burned asset")
	return nil
}

func (s *registryService) Transfer(
	ctx context.Context, caller, from, to domain.Address, asset uint64,
) error {
	return s.transfer(ctx, caller, from, to, asset, false)
}

func (s *registryService) SafeTransfer(
	ctx context.Context, caller, from, to domain.Address, asset uint64,
) error {
	return s.transfer(ctx, caller, from, to, asset, true)
}

func (s *registryService) transfer(
	ctx context.Context, caller, from, to domain.Address, asset uint64, safe bool,
) error {
	caller = caller.Normalize()
	from = from.Normalize()
	to = to.Normalize()

	record, operatorApproved, err := s.recordWithAuth(ctx, caller, asset)
	if err != nil {
		return err
	}
	if to.IsZero() {
		return errors.INVALID_ARGUMENT.New("cannot transfer to the zero address")
	}
	if record.Holder != from {
		return errors.NOT_OWNER_NOR_APPROVED.New(
			"asset %d is not held by %s", asset, from,
		).WithMetadata(errors.TransferMetadata{
			Asset: asset, From: string(from), To: string(to), Caller: string(caller),
		})
	}
	if !record.IsApprovedOrOwner(caller, operatorApproved) {
		return errors.NOT_OWNER_NOR_APPROVED.New(
			"caller %s may not move asset %d", caller, asset,
		).WithMetadata(errors.TransferMetadata{
			Asset: asset, From: string(from), To: string(to), Caller: string(caller),
		})
	}

	// pre-transfer guard: outstanding rent is settled into the ledger before
	// any ownership state changes; a failure aborts the whole transfer
	if err := s.settler.SettleAsset(ctx, asset); err != nil {
		return err
	}

	if safe {
		if err := s.acknowledgeReceipt(ctx, caller, from, to, asset); err != nil {
			return err
		}
	}

	record.Holder = to
	record.ClearTransientRights()
	if err := s.repoManager.Registry().UpdateRecord(ctx, *record); err != nil {
		return err
	}

	s.appendTransferEvent(ctx, asset, from, to)
	log.WithFields(log.Fields{
		"asset": asset, "from": from, "to": to, "caller": caller,
	}).Debug("transferred asset")
	return nil
}

func (s *registryService) acknowledgeReceipt(
	ctx context.Context, caller, from, to domain.Address, asset uint64,
) error {
	if s.receivers == nil {
		return nil
	}
	receiver, ok := s.receivers.Resolve(to)
	if !ok {
		return nil
	}
	ack, err := receiver.OnAssetReceived(ctx, caller, from, asset)
	if err != nil || ack != ports.ReceiptAck {
		rejection := errors.TRANSFER_REJECTED.New(
			"receiver %s declined asset %d", to, asset,
		).WithMetadata(errors.TransferMetadata{
			Asset: asset, From: string(from), To: string(to), Caller: string(caller),
		})
		if err != nil {
			rejection = errors.TRANSFER_REJECTED.Wrap(err).
				WithMetadata(errors.TransferMetadata{
					Asset: asset, From: string(from), To: string(to), Caller: string(caller),
				})
		}
		return rejection
	}
	return nil
}

func (s *registryService) Approve(
	ctx context.Context, caller, approved domain.Address, asset uint64,
) error {
	caller = caller.Normalize()
	approved = approved.Normalize()

	record, operatorApproved, err := s.recordWithAuth(ctx, caller, asset)
	if err != nil {
		return err
	}
	if approved == record.Holder && !approved.IsZero() {
		return errors.INVALID_ARGUMENT.New("cannot approve the current holder")
	}
	// only the holder or a blanket operator may manage the approval slot
	if caller != record.Holder && !operatorApproved {
		return errors.NOT_OWNER_NOR_APPROVED.New(
			"caller %s may not approve on asset %d", caller, asset,
		).WithMetadata(errors.TransferMetadata{
			Asset: asset, From: string(record.Holder), Caller: string(caller),
		})
	}

	record.Approved = approved
	if err := s.repoManager.Registry().UpdateRecord(ctx, *record); err != nil {
		return err
	}

	event := domain.NewEvent(domain.EventApproval)
	event.Asset = asset
	event.From = record.Holder
	event.To = approved
	s.appendEvents(ctx, event)
	return nil
}

func (s *registryService) GetApproved(
	ctx context.Context, asset uint64,
) (domain.Address, error) {
	record, err := s.requireRecord(ctx, asset)
	if err != nil {
		return domain.ZeroAddress, err
	}
	return record.Approved, nil
}

func (s *registryService) SetApprovalForAll(
	ctx context.Context, caller, operator domain.Address, approved bool,
) error {
	caller = caller.Normalize()
	operator = operator.Normalize()
	if operator.IsZero() {
		return errors.INVALID_ARGUMENT.New("operator is the zero address")
	}
	if operator == caller {
		return errors.INVALID_ARGUMENT.New("cannot set approval for self")
	}

	if err := s.repoManager.Registry().SetOperatorApproval(
		ctx, caller, operator, approved,
	); err != nil {
		return err
	}

	event := domain.NewEvent(domain.EventApprovalForAll)
	event.From = caller
	event.To = operator
	event.Accepted = approved
	s.appendEvents(ctx, event)
	return nil
}

func (s *registryService) IsApprovedForAll(
	ctx context.Context, owner, operator domain.Address,
) (bool, error) {
	return s.repoManager.Registry().IsOperatorApproved(
		ctx, owner.Normalize(), operator.Normalize(),
	)
}

func (s *registryService) ChangeConsumer(
	ctx context.Context, caller, consumer domain.Address, asset uint64,
) error {
	caller = caller.Normalize()

	record, operatorApproved, err := s.recordWithAuth(ctx, caller, asset)
	if err != nil {
		return err
	}
	if !record.IsApprovedOrOwner(caller, operatorApproved) {
		return errors.NOT_OWNER_NOR_APPROVED.New(
			"caller %s may not delegate consumption of asset %d", caller, asset,
		).WithMetadata(errors.TransferMetadata{
			Asset: asset, From: string(record.Holder), Caller: string(caller),
		})
	}

	record.Consumer = consumer.Normalize()
	if err := s.repoManager.Registry().UpdateRecord(ctx, *record); err != nil {
		return err
	}

	event := domain.NewEvent(domain.EventConsumerChanged)
	event.Asset = asset
	event.From = record.Holder
	event.To = record.Consumer
	s.appendEvents(ctx, event)
	return nil
}

func (s *registryService) ConsumerOf(
	ctx context.Context, asset uint64,
) (domain.Address, error) {
	record, err := s.requireRecord(ctx, asset)
	if err != nil {
		return domain.ZeroAddress, err
	}
	return record.Consumer, nil
}

func (s *registryService) OwnerOf(ctx context.Context, asset uint64) (domain.Address, error) {
	record, err := s.requireRecord(ctx, asset)
	if err != nil {
		return domain.ZeroAddress, err
	}
	return record.Holder, nil
}

func (s *registryService) BalanceOf(
	ctx context.Context, owner domain.Address,
) (uint64, error) {
	return s.repoManager.Registry().BalanceOf(ctx, owner.Normalize())
}

func (s *registryService) TotalSupply(ctx context.Context) (uint64, error) {
	return s.repoManager.Registry().TotalSupply(ctx)
}

func (s *registryService) TokenByIndex(ctx context.Context, index uint64) (uint64, error) {
	supply, err := s.repoManager.Registry().TotalSupply(ctx)
	if err != nil {
		return 0, err
	}
	if index >= supply {
		return 0, errors.INDEX_OUT_OF_RANGE.New("token index %d out of range", index).
			WithMetadata(errors.IndexMetadata{Index: index, Size: supply})
	}
	return s.repoManager.Registry().AssetByIndex(ctx, index)
}

func (s *registryService) TokenOfOwnerByIndex(
	ctx context.Context, owner domain.Address, index uint64,
) (uint64, error) {
	owner = owner.Normalize()
	held, err := s.repoManager.Registry().BalanceOf(ctx, owner)
	if err != nil {
		return 0, err
	}
	if index >= held {
		return 0, errors.INDEX_OUT_OF_RANGE.New(
			"owner token index %d out of range", index,
		).WithMetadata(errors.IndexMetadata{Index: index, Size: held})
	}
	return s.repoManager.Registry().AssetOfOwnerByIndex(ctx, owner, index)
}

func (s *registryService) SetBaseURI(
	ctx context.Context, caller domain.Address, uri string,
) error {
	if caller.Normalize() != s.admin {
		return errors.UNAUTHORIZED.New("caller %s is not the administrator", caller).
			WithMetadata(map[string]any{"caller": string(caller)})
	}

	settings := domain.Settings{BaseURI: uri}
	if err := s.repoManager.Settings().Upsert(ctx, settings); err != nil {
		return err
	}

	event := domain.NewEvent(domain.EventSetBaseURI)
	event.URI = uri
	s.appendEvents(ctx, event)
	return nil
}

func (s *registryService) TokenURI(ctx context.Context, asset uint64) (string, error) {
	if _, err := s.requireRecord(ctx, asset); err != nil {
		return "", err
	}
	settings, err := s.repoManager.Settings().Get(ctx)
	if err != nil {
		return "", err
	}
	base := ""
	if settings != nil {
		base = settings.BaseURI
	}
	return base + strconv.FormatUint(asset, 10), nil
}

func (s *registryService) requireRecord(
	ctx context.Context, asset uint64,
) (*domain.OwnershipRecord, error) {
	record, err := s.repoManager.Registry().GetRecord(ctx, asset)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.UNKNOWN_ASSET.New("asset %d was never minted", asset).
			WithMetadata(errors.AssetMetadata{Asset: asset})
	}
	return record, nil
}

func (s *registryService) recordWithAuth(
	ctx context.Context, caller domain.Address, asset uint64,
) (*domain.OwnershipRecord, bool, error) {
	record, err := s.requireRecord(ctx, asset)
	if err != nil {
		return nil, false, err
	}
	operatorApproved, err := s.repoManager.Registry().IsOperatorApproved(
		ctx, record.Holder, caller.Normalize(),
	)
	if err != nil {
		return nil, false, err
	}
	return record, operatorApproved, nil
}

func (s *registryService) appendTransferEvent(
	ctx context.Context, asset uint64, from, to domain.Address,
) {
	event := domain.NewEvent(domain.EventTransfer)
	event.Asset = asset
	event.From = from
	event.To = to
	s.appendEvents(ctx, event)
}

func (s *registryService) appendEvents(ctx context.Context, events ...domain.Event) {
	if err := s.repoManager.Events().Append(ctx, events...); err != nil {
		log.WithError(err).Warn("failed to append registry events")
	}
}
