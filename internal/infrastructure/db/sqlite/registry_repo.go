package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rentgrid/rentd/internal/core/domain"
)

type registryRepository struct {
	db *sql.DB
}

func NewRegistryRepository(config ...interface{}) (domain.RegistryRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open registry repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &registryRepository{db}, nil
}

func (r *registryRepository) AddRecord(
	ctx context.Context, record domain.OwnershipRecord,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	// nolint:all
	defer tx.Rollback()

	var total, ownerCount int64
	if err := tx.QueryRowContext(
		ctx, `SELECT COUNT(*) FROM ownership_record`,
	).Scan(&total); err != nil {
		return err
	}
	if err := tx.QueryRowContext(
		ctx, `SELECT COUNT(*) FROM ownership_record WHERE holder = ?`,
		string(record.Holder),
	).Scan(&ownerCount); err != nil {
		return err
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO ownership_record
		   (asset, holder, approved, consumer, global_index, owner_index)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		int64(record.Asset), string(record.Holder), string(record.Approved),
		string(record.Consumer), total, ownerCount,
	); err != nil {
		return fmt.Errorf("failed to add ownership record: %w", err)
	}

	return tx.Commit()
}

func (r *registryRepository) GetRecord(
	ctx context.Context, asset uint64,
) (*domain.OwnershipRecord, error) {
	record, err := getRecordTx(ctx, r.db, asset)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ownership record: %w", err)
	}
	return record, nil
}

func (r *registryRepository) UpdateRecord(
	ctx context.Context, record domain.OwnershipRecord,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	// nolint:all
	defer tx.Rollback()

	stored, err := getRecordTx(ctx, tx, record.Asset)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("asset %d not registered", record.Asset)
	}
	if err != nil {
		return err
	}

	ownerIndex := int64(stored.OwnerIndex)
	if record.Holder != stored.Holder {
		// swap-and-truncate the old holder's enumeration, then append to the
		// new holder's one.
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE ownership_record SET owner_index = ?
			 WHERE holder = ? AND owner_index = (
			   SELECT MAX(owner_index) FROM ownership_record WHERE holder = ?
			 ) AND asset != ?`,
			int64(stored.OwnerIndex), string(stored.Holder), string(stored.Holder),
			int64(record.Asset),
		); err != nil {
			return err
		}
		if err := tx.QueryRowContext(
			ctx,
			`SELECT COUNT(*) FROM ownership_record WHERE holder = ? AND asset != ?`,
			string(record.Holder), int64(record.Asset),
		).Scan(&ownerIndex); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE ownership_record
		 SET holder = ?, approved = ?, consumer = ?, owner_index = ?
		 WHERE asset = ?`,
		string(record.Holder), string(record.Approved), string(record.Consumer),
		ownerIndex, int64(record.Asset),
	); err != nil {
		return fmt.Errorf("failed to update ownership record: %w", err)
	}

	return tx.Commit()
}

func (r *registryRepository) RemoveRecord(ctx context.Context, asset uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	// nolint:all
	defer tx.Rollback()

	victim, err := getRecordTx(ctx, tx, asset)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("asset %d not registered", asset)
	}
	if err != nil {
		return err
	}

	// the records holding the last slot of each enumeration move into the
	// freed ones
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE ownership_record SET global_index = ?
		 WHERE global_index = (SELECT MAX(global_index) FROM ownership_record)
		 AND asset != ?`,
		int64(victim.GlobalIndex), int64(asset),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE ownership_record SET owner_index = ?
		 WHERE holder = ? AND owner_index = (
		   SELECT MAX(owner_index) FROM ownership_record WHERE holder = ?
		 ) AND asset != ?`,
		int64(victim.OwnerIndex), string(victim.Holder), string(victim.Holder),
		int64(asset),
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(
		ctx, `DELETE FROM ownership_record WHERE asset = ?`, int64(asset),
	); err != nil {
		return fmt.Errorf("failed to remove ownership record: %w", err)
	}

	return tx.Commit()
}

func (r *registryRepository) TotalSupply(ctx context.Context) (uint64, error) {
	var total int64
	if err := r.db.QueryRowContext(
		ctx, `SELECT COUNT(*) FROM ownership_record`,
	).Scan(&total); err != nil {
		return 0, err
	}
	return uint64(total), nil
}

func (r *registryRepository) AssetByIndex(
	ctx context.Context, index uint64,
) (uint64, error) {
	var asset int64
	err := r.db.QueryRowContext(
		ctx, `SELECT asset FROM ownership_record WHERE global_index = ?`,
		int64(index),
	).Scan(&asset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no asset at global index %d", index)
	}
	if err != nil {
		return 0, err
	}
	return uint64(asset), nil
}

func (r *registryRepository) AssetOfOwnerByIndex(
	ctx context.Context, owner domain.Address, index uint64,
) (uint64, error) {
	var asset int64
	err := r.db.QueryRowContext(
		ctx,
		`SELECT asset FROM ownership_record WHERE holder = ? AND owner_index = ?`,
		string(owner), int64(index),
	).Scan(&asset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no asset of %s at index %d", owner, index)
	}
	if err != nil {
		return 0, err
	}
	return uint64(asset), nil
}

func (r *registryRepository) BalanceOf(
	ctx context.Context, owner domain.Address,
) (uint64, error) {
	var count int64
	if err := r.db.QueryRowContext(
		ctx, `SELECT COUNT(*) FROM ownership_record WHERE holder = ?`,
		string(owner),
	).Scan(&count); err != nil {
		return 0, err
	}
	return uint64(count), nil
}

func (r *registryRepository) SetOperatorApproval(
	ctx context.Context, owner, operator domain.Address, approved bool,
) error {
	if approved {
		_, err := r.db.ExecContext(
			ctx,
			`INSERT INTO operator_approval (owner, operator) VALUES (?, ?)
			 ON CONFLICT(owner, operator) DO NOTHING`,
			string(owner), string(operator),
		)
		return err
	}
	_, err := r.db.ExecContext(
		ctx,
		`DELETE FROM operator_approval WHERE owner = ? AND operator = ?`,
		string(owner), string(operator),
	)
	return err
}

func (r *registryRepository) IsOperatorApproved(
	ctx context.Context, owner, operator domain.Address,
) (bool, error) {
	var count int64
	if err := r.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM operator_approval WHERE owner = ? AND operator = ?`,
		string(owner), string(operator),
	).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *registryRepository) Close() {
	_ = r.db.Close()
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecordTx(
	ctx context.Context, q rowQuerier, asset uint64,
) (*domain.OwnershipRecord, error) {
	var (
		assetID, globalIndex, ownerIndex int64
		holder, approved, consumer       string
	)
	if err := q.QueryRowContext(
		ctx,
		`SELECT asset, holder, approved, consumer, global_index, owner_index
		 FROM ownership_record WHERE asset = ?`,
		int64(asset),
	).Scan(
		&assetID, &holder, &approved, &consumer, &globalIndex, &ownerIndex,
	); err != nil {
		return nil, err
	}
	return &domain.OwnershipRecord{
		Asset:       uint64(assetID),
		Holder:      domain.Address(holder),
		Approved:    domain.Address(approved),
		Consumer:    domain.Address(consumer),
		GlobalIndex: uint64(globalIndex),
		OwnerIndex:  uint64(ownerIndex),
	}, nil
}
