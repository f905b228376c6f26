package application

import (
	"context"
	"fmt"

	"github.com/rentgrid/rentd/internal/core/domain"
	"github.com/rentgrid/rentd/internal/core/ports"
	"github.com/rentgrid/rentd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LedgerService owns the fee ledger: the enumerable instrument set, the
// per-(asset, instrument) rent balances and the per-instrument protocol
// balances. Claims zero balances before invoking the external payment
// primitive, so a re-entrant claim always observes a zero balance.
type LedgerService interface {
	SetTokenPayment(
		ctx context.Context, caller, instrument domain.Address,
		feePercentage uint64, accepted bool,
	) error
	SetFee(ctx context.Context, caller, instrument domain.Address, feePercentage uint64) error
	Accrue(ctx context.Context, asset uint64, instrument domain.Address, gross uint64) error
	SettleAsset(ctx context.Context, asset uint64) error

	ClaimRentFee(ctx context.Context, asset uint64) ([]Payout, error)
	ClaimMultipleRentFees(ctx context.Context, assets []uint64) ([]Payout, error)
	ClaimProtocolFee(ctx context.Context, caller, instrument domain.Address) (*Payout, error)
	ClaimProtocolFees(
		ctx context.Context, caller domain.Address, instruments []domain.Address,
	) ([]Payout, error)

	ProtocolFeeFor(ctx context.Context, instrument domain.Address) (uint64, error)
	AssetRentFeesFor(ctx context.Context, asset uint64, instrument domain.Address) (uint64, error)
	SupportsTokenPayment(ctx context.Context, instrument domain.Address) (bool, error)
	TotalTokenPayments(ctx context.Context) (uint64, error)
	TokenPaymentAt(ctx context.Context, index uint64) (domain.Address, error)
	FeePercentageFor(ctx context.Context, instrument domain.Address) (uint64, error)
	FeePrecision() uint64
}

type ledgerService struct {
	repoManager ports.RepoManager
	paymentSvc  ports.PaymentExecutor
	rentalSrc   ports.RentalSource
	admin       domain.Address
}

func NewLedgerService(
	repoManager ports.RepoManager, paymentSvc ports.PaymentExecutor,
	rentalSrc ports.RentalSource, admin domain.Address,
) (LedgerService, error) {
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if paymentSvc == nil {
		return nil, fmt.Errorf("missing payment executor")
	}
	if admin.IsZero() {
		return nil, fmt.Errorf("missing administrator address")
	}
	return &ledgerService{
		repoManager: repoManager,
		paymentSvc:  paymentSvc,
		rentalSrc:   rentalSrc,
		admin:       admin.Normalize(),
	}, nil
}

func (s *ledgerService) SetTokenPayment(
	ctx context.Context, caller, instrument domain.Address,
	feePercentage uint64, accepted bool,
) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	if feePercentage > domain.FeePrecision {
		return errors.INVALID_ARGUMENT.New(
			"fee percentage %d exceeds precision %d", feePercentage, domain.FeePrecision,
		)
	}

	instrument = instrument.Normalize()
	existing, err := s.repoManager.Ledger().GetInstrument(ctx, instrument)
	if err != nil {
		return err
	}

	updated := domain.PaymentInstrument{
		ID:            instrument,
		FeePercentage: feePercentage,
		Accepted:      accepted,
	}
	if existing != nil {
		updated.Position = existing.Position
	} else {
		// first registration appends to the enumerable set; instruments are
		// never removed so the count is the next free position
		all, err := s.repoManager.Ledger().ListInstruments(ctx)
		if err != nil {
			return err
		}
		updated.Position = uint64(len(all))
	}

	if err := s.repoManager.Ledger().UpsertInstrument(ctx, updated); err != nil {
		return err
	}

	event := domain.NewEvent(domain.EventSetTokenPayment)
	event.Instrument = instrument
	event.FeePct = feePercentage
	event.Accepted = accepted
	s.appendEvents(ctx, event)

	log.WithFields(log.Fields{
		"instrument": instrument,
		"feePct":     feePercentage,
		"accepted":   accepted,
	}).Debug("registered token payment")
	return nil
}

func (s *ledgerService) SetFee(
	ctx context.Context, caller, instrument domain.Address, feePercentage uint64,
) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	if feePercentage > domain.FeePrecision {
		return errors.INVALID_ARGUMENT.New(
			"fee percentage %d exceeds precision %d", feePercentage, domain.FeePrecision,
		)
	}

	instrument = instrument.Normalize()
	existing, err := s.repoManager.Ledger().GetInstrument(ctx, instrument)
	if err != nil {
		return err
	}
	if existing == nil {
		return errors.UNKNOWN_INSTRUMENT.New(
			"instrument %s was never registered", instrument,
		).WithMetadata(errors.InstrumentMetadata{Instrument: string(instrument)})
	}

	existing.FeePercentage = feePercentage
	if err := s.repoManager.Ledger().UpsertInstrument(ctx, *existing); err != nil {
		return err
	}

	event := domain.NewEvent(domain.EventSetFee)
	event.Instrument = instrument
	event.FeePct = feePercentage
	s.appendEvents(ctx, event)

	log.WithFields(log.Fields{
		"instrument": instrument, "feePct": feePercentage,
	}).Debug("updated fee percentage")
	return nil
}

func (s *ledgerService) Accrue(
	ctx context.Context, asset uint64, instrument domain.Address, gross uint64,
) error {
	instrument = instrument.Normalize()
	registered, err := s.repoManager.Ledger().GetInstrument(ctx, instrument)
	if err != nil {
		return err
	}
	if registered == nil || !registered.Accepted {
		return errors.INSTRUMENT_NOT_ACCEPTED.New(
			"instrument %s does not accrue rent", instrument,
		).WithMetadata(errors.InstrumentMetadata{Instrument: string(instrument)})
	}

	record, err := s.repoManager.Registry().GetRecord(ctx, asset)
	if err != nil {
		return err
	}
	if record == nil {
		return errors.UNKNOWN_ASSET.New("asset %d was never minted", asset).
			WithMetadata(errors.AssetMetadata{Asset: asset})
	}

	ownerShare, protocolShare, err := registered.Split(gross)
	if err != nil {
		return err
	}

	// validate both additions before writing either, so a late overflow
	// cannot leave a half-applied accrual behind
	rent, err := s.repoManager.Ledger().GetRentBalance(ctx, asset, instrument)
	if err != nil {
		return err
	}
	newRent, err := domain.CheckedAdd(rent, ownerShare)
	if err != nil {
		return err
	}
	protocol, err := s.repoManager.Ledger().GetProtocolBalance(ctx, instrument)
	if err != nil {
		return err
	}
	newProtocol, err := domain.CheckedAdd(protocol, protocolShare)
	if err != nil {
		return err
	}

	if err := s.repoManager.Ledger().SetRentBalance(ctx, asset, instrument, newRent); err != nil {
		return err
	}
	if err := s.repoManager.Ledger().SetProtocolBalance(ctx, instrument, newProtocol); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"asset":         asset,
		"instrument":    instrument,
		"gross":         gross,
		"ownerShare":    ownerShare,
		"protocolShare": protocolShare,
	}).Debug("accrued rent")
	return nil
}

// SettleAsset drains the external rental source for the asset into the
// ledger. It is the pre-transfer guard hook: a failure here aborts the
// enclosing transfer before any ownership state changes.
func (s *ledgerService) SettleAsset(ctx context.Context, asset uint64) error {
	if s.rentalSrc == nil {
		return nil
	}
	pending, err := s.rentalSrc.PendingRents(ctx, asset)
	if err != nil {
		return err
	}
	for _, rent := range pending {
		if err := s.Accrue(ctx, asset, rent.Instrument, rent.Gross); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		if err := s.rentalSrc.MarkSettled(ctx, asset); err != nil {
			return err
		}
	}
	return nil
}

// claim is a staged payout with its ledger bucket, so an aborted batch knows
// which balance to restore.
type claim struct {
	Payout
	protocol bool
}

func (s *ledgerService) ClaimRentFee(ctx context.Context, asset uint64) ([]Payout, error) {
	claims, err := s.stageRentClaims(ctx, asset)
	if err != nil {
		return nil, err
	}
	return s.executeClaims(ctx, claims, domain.EventClaimRentFee)
}

func (s *ledgerService) ClaimMultipleRentFees(
	ctx context.Context, assets []uint64,
) ([]Payout, error) {
	var claims []claim
	for _, asset := range assets {
		staged, err := s.stageRentClaims(ctx, asset)
		if err != nil {
			// restore anything already zeroed: the batch is all-or-nothing
			s.restoreClaims(ctx, claims)
			return nil, err
		}
		claims = append(claims, staged...)
	}
	return s.executeClaims(ctx, claims, domain.EventClaimRentFee)
}

func (s *ledgerService) ClaimProtocolFee(
	ctx context.Context, caller, instrument domain.Address,
) (*Payout, error) {
	payouts, err := s.ClaimProtocolFees(ctx, caller, []domain.Address{instrument})
	if err != nil {
		return nil, err
	}
	if len(payouts) == 0 {
		return nil, nil
	}
	return &payouts[0], nil
}

func (s *ledgerService) ClaimProtocolFees(
	ctx context.Context, caller domain.Address, instruments []domain.Address,
) ([]Payout, error) {
	if err := s.requireAdmin(caller); err != nil {
		return nil, err
	}

	var claims []claim
	for _, instrument := range instruments {
		instrument = instrument.Normalize()
		registered, err := s.repoManager.Ledger().GetInstrument(ctx, instrument)
		if err != nil {
			s.restoreClaims(ctx, claims)
			return nil, err
		}
		if registered == nil {
			s.restoreClaims(ctx, claims)
			return nil, errors.UNKNOWN_INSTRUMENT.New(
				"instrument %s was never registered", instrument,
			).WithMetadata(errors.InstrumentMetadata{Instrument: string(instrument)})
		}

		balance, err := s.repoManager.Ledger().GetProtocolBalance(ctx, instrument)
		if err != nil {
			s.restoreClaims(ctx, claims)
			return nil, err
		}
		if balance == 0 {
			continue
		}
		if err := s.repoManager.Ledger().SetProtocolBalance(ctx, instrument, 0); err != nil {
			s.restoreClaims(ctx, claims)
			return nil, err
		}
		claims = append(claims, claim{
			Payout: Payout{
				Instrument: instrument,
				Recipient:  s.admin,
				Amount:     balance,
			},
			protocol: true,
		})
	}

	return s.executeClaims(ctx, claims, domain.EventClaimProtocol)
}

func (s *ledgerService) ProtocolFeeFor(
	ctx context.Context, instrument domain.Address,
) (uint64, error) {
	return s.repoManager.Ledger().GetProtocolBalance(ctx, instrument.Normalize())
}

func (s *ledgerService) AssetRentFeesFor(
	ctx context.Context, asset uint64, instrument domain.Address,
) (uint64, error) {
	return s.repoManager.Ledger().GetRentBalance(ctx, asset, instrument.Normalize())
}

func (s *ledgerService) SupportsTokenPayment(
	ctx context.Context, instrument domain.Address,
) (bool, error) {
	registered, err := s.repoManager.Ledger().GetInstrument(ctx, instrument.Normalize())
	if err != nil {
		return false, err
	}
	return registered != nil && registered.Accepted, nil
}

func (s *ledgerService) TotalTokenPayments(ctx context.Context) (uint64, error) {
	all, err := s.repoManager.Ledger().ListInstruments(ctx)
	if err != nil {
		return 0, err
	}
	return uint64(len(all)), nil
}

func (s *ledgerService) TokenPaymentAt(
	ctx context.Context, index uint64,
) (domain.Address, error) {
	all, err := s.repoManager.Ledger().ListInstruments(ctx)
	if err != nil {
		return domain.ZeroAddress, err
	}
	if index >= uint64(len(all)) {
		return domain.ZeroAddress, errors.INDEX_OUT_OF_RANGE.New(
			"token payment index %d out of range", index,
		).WithMetadata(errors.IndexMetadata{Index: index, Size: uint64(len(all))})
	}
	return all[index].ID, nil
}

func (s *ledgerService) FeePercentageFor(
	ctx context.Context, instrument domain.Address,
) (uint64, error) {
	registered, err := s.repoManager.Ledger().GetInstrument(ctx, instrument.Normalize())
	if err != nil {
		return 0, err
	}
	if registered == nil {
		return 0, errors.UNKNOWN_INSTRUMENT.New(
			"instrument %s was never registered", instrument,
		).WithMetadata(errors.InstrumentMetadata{Instrument: string(instrument)})
	}
	return registered.FeePercentage, nil
}

func (s *ledgerService) FeePrecision() uint64 {
	return domain.FeePrecision
}

func (s *ledgerService) requireAdmin(caller domain.Address) error {
	if caller.Normalize() != s.admin {
		return errors.UNAUTHORIZED.New("caller %s is not the administrator", caller).
			WithMetadata(map[string]any{"caller": string(caller)})
	}
	return nil
}

// stageRentClaims zeroes every nonzero rent balance of the asset and returns
// the corresponding payouts, addressed to the asset's current holder. Zeroing
// happens before any external call so a re-entrant claim observes nothing
// left to pay.
func (s *ledgerService) stageRentClaims(ctx context.Context, asset uint64) ([]claim, error) {
	record, err := s.repoManager.Registry().GetRecord(ctx, asset)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.UNKNOWN_ASSET.New("asset %d was never minted", asset).
			WithMetadata(errors.AssetMetadata{Asset: asset})
	}

	balances, err := s.repoManager.Ledger().ListRentBalances(ctx, asset)
	if err != nil {
		return nil, err
	}

	claims := make([]claim, 0, len(balances))
	for _, balance := range balances {
		if balance.Amount == 0 {
			continue
		}
		if err := s.repoManager.Ledger().SetRentBalance(
			ctx, asset, balance.Instrument, 0,
		); err != nil {
			s.restoreClaims(ctx, claims)
			return nil, err
		}
		claims = append(claims, claim{
			Payout: Payout{
				Asset:      asset,
				Instrument: balance.Instrument,
				Recipient:  record.Holder,
				Amount:     balance.Amount,
			},
		})
	}
	return claims, nil
}

// executeClaims runs the external payment primitive for every staged claim.
// Any failure restores every staged balance and fails the whole batch.
func (s *ledgerService) executeClaims(
	ctx context.Context, claims []claim, eventType domain.EventType,
) ([]Payout, error) {
	for i, c := range claims {
		if err := s.paymentSvc.Transfer(
			ctx, c.Recipient, c.Instrument, c.Amount,
		); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"recipient":  c.Recipient,
				"instrument": c.Instrument,
				"amount":     c.Amount,
				"paid":       i,
			}).Warn("payment transfer failed, restoring claimed balances")
			// payouts before the failing one already left the ledger,
			// restoring their balances re-credits them. The host must
			// revert the executed transfers or reconcile against these.
			for _, paid := range claims[:i] {
				log.WithFields(log.Fields{
					"recipient":  paid.Recipient,
					"instrument": paid.Instrument,
					"amount":     paid.Amount,
				}).Warn("payout executed before aborted claim batch")
			}
			s.restoreClaims(ctx, claims)
			return nil, errors.PAYMENT_TRANSFER_FAILED.Wrap(err).
				WithMetadata(errors.PaymentMetadata{
					Recipient:  string(c.Recipient),
					Instrument: string(c.Instrument),
					Amount:     c.Amount,
				})
		}
	}

	payouts := make([]Payout, 0, len(claims))
	events := make([]domain.Event, 0, len(claims))
	for _, c := range claims {
		payouts = append(payouts, c.Payout)
		event := domain.NewEvent(eventType)
		event.Asset = c.Asset
		event.Instrument = c.Instrument
		event.Recipient = c.Recipient
		event.Amount = c.Amount
		events = append(events, event)
	}
	s.appendEvents(ctx, events...)
	return payouts, nil
}

// restoreClaims writes staged balances back after a failed batch.
func (s *ledgerService) restoreClaims(ctx context.Context, claims []claim) {
	for _, c := range claims {
		var err error
		if c.protocol {
			err = s.repoManager.Ledger().SetProtocolBalance(ctx, c.Instrument, c.Amount)
		} else {
			err = s.repoManager.Ledger().SetRentBalance(ctx, c.Asset, c.Instrument, c.Amount)
		}
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"asset":      c.Asset,
				"instrument": c.Instrument,
				"amount":     c.Amount,
			}).Error("failed to restore balance after aborted claim")
		}
	}
}

func (s *ledgerService) appendEvents(ctx context.Context, events ...domain.Event) {
	if len(events) == 0 {
		return
	}
	if err := s.repoManager.Events().Append(ctx, events...); err != nil {
		log.WithError(err).Warn("failed to append ledger events")
	}
}
