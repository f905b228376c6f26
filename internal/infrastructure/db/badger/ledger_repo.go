package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rentgrid/rentd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const (
	instrumentStoreDir = "instruments"
	rentStoreDir       = "rent_balances"
	protocolStoreDir   = "protocol_balances"
)

type ledgerRepository struct {
	instrumentStore *badgerhold.Store
	rentStore       *badgerhold.Store
	protocolStore   *badgerhold.Store
}

type rentBalanceDTO struct {
	domain.RentBalance
	UpdatedAt int64
}

type protocolBalanceDTO struct {
	domain.ProtocolBalance
	UpdatedAt int64
}

func NewLedgerRepository(config ...interface{}) (domain.LedgerRepository, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var instrumentDir, rentDir, protocolDir string
	if len(baseDir) > 0 {
		instrumentDir = filepath.Join(baseDir, instrumentStoreDir)
		rentDir = filepath.Join(baseDir, rentStoreDir)
		protocolDir = filepath.Join(baseDir, protocolStoreDir)
	}

	instrumentStore, err := createDB(instrumentDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open instrument store: %s", err)
	}
	rentStore, err := createDB(rentDir, logger)
	if err != nil {
		_ = instrumentStore.Close()
		return nil, fmt.Errorf("failed to open rent balance store: %s", err)
	}
	protocolStore, err := createDB(protocolDir, logger)
	if err != nil {
		_ = instrumentStore.Close()
		_ = rentStore.Close()
		return nil, fmt.Errorf("failed to open protocol balance store: %s", err)
	}

	return &ledgerRepository{instrumentStore, rentStore, protocolStore}, nil
}

func (r *ledgerRepository) UpsertInstrument(
	ctx context.Context, instrument domain.PaymentInstrument,
) error {
	upsertFn := func() error {
		return r.instrumentStore.Upsert(string(instrument.ID), &instrument)
	}
	return withRetry(upsertFn)
}

func (r *ledgerRepository) GetInstrument(
	ctx context.Context, id domain.Address,
) (*domain.PaymentInstrument, error) {
	var instrument domain.PaymentInstrument
	err := r.instrumentStore.Get(string(id), &instrument)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument: %w", err)
	}
	return &instrument, nil
}

func (r *ledgerRepository) ListInstruments(
	ctx context.Context,
) ([]domain.PaymentInstrument, error) {
	instruments := make([]domain.PaymentInstrument, 0)
	if err := r.instrumentStore.Find(&instruments, &badgerhold.Query{}); err != nil {
		return nil, err
	}
	sort.SliceStable(instruments, func(i, j int) bool {
		return instruments[i].Position < instruments[j].Position
	})
	return instruments, nil
}

func (r *ledgerRepository) GetRentBalance(
	ctx context.Context, asset uint64, instrument domain.Address,
) (uint64, error) {
	var dto rentBalanceDTO
	err := r.rentStore.Get(rentBalanceKey(asset, instrument), &dto)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return dto.Amount, nil
}

func (r *ledgerRepository) SetRentBalance(
	ctx context.Context, asset uint64, instrument domain.Address, amount uint64,
) error {
	dto := rentBalanceDTO{
		RentBalance: domain.RentBalance{
			Asset:      asset,
			Instrument: instrument,
			Amount:     amount,
		},
		UpdatedAt: time.Now().UnixMilli(),
	}
	upsertFn := func() error {
		return r.rentStore.Upsert(rentBalanceKey(asset, instrument), &dto)
	}
	return withRetry(upsertFn)
}

func (r *ledgerRepository) ListRentBalances(
	ctx context.Context, asset uint64,
) ([]domain.RentBalance, error) {
	dtos := make([]rentBalanceDTO, 0)
	query := badgerhold.Where("Asset").Eq(asset).And("Amount").Gt(uint64(0))
	if err := r.rentStore.Find(&dtos, query); err != nil {
		return nil, err
	}
	sort.SliceStable(dtos, func(i, j int) bool {
		return dtos[i].Instrument < dtos[j].Instrument
	})
	balances := make([]domain.RentBalance, 0, len(dtos))
	for _, dto := range dtos {
		balances = append(balances, dto.RentBalance)
	}
	return balances, nil
}

func (r *ledgerRepository) GetProtocolBalance(
	ctx context.Context, instrument domain.Address,
) (uint64, error) {
	var dto protocolBalanceDTO
	err := r.protocolStore.Get(string(instrument), &dto)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return dto.Amount, nil
}

func (r *ledgerRepository) SetProtocolBalance(
	ctx context.Context, instrument domain.Address, amount uint64,
) error {
	dto := protocolBalanceDTO{
		ProtocolBalance: domain.ProtocolBalance{
			Instrument: instrument,
			Amount:     amount,
		},
		UpdatedAt: time.Now().UnixMilli(),
	}
	upsertFn := func() error {
		return r.protocolStore.Upsert(string(instrument), &dto)
	}
	return withRetry(upsertFn)
}

func (r *ledgerRepository) Close() {
	// nolint:all
	r.instrumentStore.Close()
	// nolint:all
	r.rentStore.Close()
	// nolint:all
	r.protocolStore.Close()
}

func rentBalanceKey(asset uint64, instrument domain.Address) string {
	return fmt.Sprintf("%d/%s", asset, instrument)
}

func withRetry(writeFn func() error) error {
	err := writeFn()
	if errors.Is(err, badger.ErrConflict) {
		attempts := 1
		for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
			time.Sleep(100 * time.Millisecond)
			err = writeFn()
			attempts++
		}
	}
	return err
}
