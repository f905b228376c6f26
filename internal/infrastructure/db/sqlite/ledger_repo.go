package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rentgrid/rentd/internal/core/domain"
)

type ledgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(config ...interface{}) (domain.LedgerRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open ledger repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &ledgerRepository{db}, nil
}

func (r *ledgerRepository) UpsertInstrument(
	ctx context.Context, instrument domain.PaymentInstrument,
) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO payment_instrument (id, fee_percentage, accepted, position)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   fee_percentage = excluded.fee_percentage,
		   accepted = excluded.accepted`,
		string(instrument.ID), int64(instrument.FeePercentage),
		instrument.Accepted, int64(instrument.Position),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert instrument: %w", err)
	}
	return nil
}

func (r *ledgerRepository) GetInstrument(
	ctx context.Context, id domain.Address,
) (*domain.PaymentInstrument, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT id, fee_percentage, accepted, position
		 FROM payment_instrument WHERE id = ?`,
		string(id),
	)
	instrument, err := scanInstrument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument: %w", err)
	}
	return instrument, nil
}

func (r *ledgerRepository) ListInstruments(
	ctx context.Context,
) ([]domain.PaymentInstrument, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT id, fee_percentage, accepted, position
		 FROM payment_instrument ORDER BY position ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	defer rows.Close()

	instruments := make([]domain.PaymentInstrument, 0)
	for rows.Next() {
		instrument, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, *instrument)
	}
	return instruments, rows.Err()
}

func (r *ledgerRepository) GetRentBalance(
	ctx context.Context, asset uint64, instrument domain.Address,
) (uint64, error) {
	var amount int64
	err := r.db.QueryRowContext(
		ctx,
		`SELECT amount FROM rent_balance WHERE asset = ? AND instrument = ?`,
		int64(asset), string(instrument),
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get rent balance: %w", err)
	}
	return uint64(amount), nil
}

func (r *ledgerRepository) SetRentBalance(
	ctx context.Context, asset uint64, instrument domain.Address, amount uint64,
) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO rent_balance (asset, instrument, amount, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(asset, instrument) DO UPDATE SET
		   amount = excluded.amount,
		   updated_at = excluded.updated_at`,
		int64(asset), string(instrument), int64(amount), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to set rent balance: %w", err)
	}
	return nil
}

func (r *ledgerRepository) ListRentBalances(
	ctx context.Context, asset uint64,
) ([]domain.RentBalance, error) {
	rows, err := r.db.QueryContext(
		ctx,
		// amounts are stored as int64 casts, so values >= 2^63 appear
		// negative here. != 0 keeps them listed.
		`SELECT asset, instrument, amount FROM rent_balance
		 WHERE asset = ? AND amount != 0 ORDER BY instrument ASC`,
		int64(asset),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rent balances: %w", err)
	}
	defer rows.Close()

	balances := make([]domain.RentBalance, 0)
	for rows.Next() {
		var (
			assetID, amount int64
			instrument      string
		)
		if err := rows.Scan(&assetID, &instrument, &amount); err != nil {
			return nil, err
		}
		balances = append(balances, domain.RentBalance{
			Asset:      uint64(assetID),
			Instrument: domain.Address(instrument),
			Amount:     uint64(amount),
		})
	}
	return balances, rows.Err()
}

func (r *ledgerRepository) GetProtocolBalance(
	ctx context.Context, instrument domain.Address,
) (uint64, error) {
	var amount int64
	err := r.db.QueryRowContext(
		ctx,
		`SELECT amount FROM protocol_balance WHERE instrument = ?`,
		string(instrument),
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get protocol balance: %w", err)
	}
	return uint64(amount), nil
}

func (r *ledgerRepository) SetProtocolBalance(
	ctx context.Context, instrument domain.Address, amount uint64,
) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO protocol_balance (instrument, amount, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(instrument) DO UPDATE SET
		   amount = excluded.amount,
		   updated_at = excluded.updated_at`,
		string(instrument), int64(amount), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to set protocol balance: %w", err)
	}
	return nil
}

func (r *ledgerRepository) Close() {
	_ = r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstrument(row rowScanner) (*domain.PaymentInstrument, error) {
	var (
		id               string
		feePct, position int64
		accepted         bool
	)
	if err := row.Scan(&id, &feePct, &accepted, &position); err != nil {
		return nil, err
	}
	return &domain.PaymentInstrument{
		ID:            domain.Address(id),
		FeePercentage: uint64(feePct),
		Accepted:      accepted,
		Position:      uint64(position),
	}, nil
}
