package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rentgrid/rentd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const (
	recordStoreDir   = "ownership_records"
	approvalStoreDir = "operator_approvals"
)

type registryRepository struct {
	recordStore   *badgerhold.Store
	approvalStore *badgerhold.Store
}

func NewRegistryRepository(config ...interface{}) (domain.RegistryRepository, error) {
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

	var recordDir, approvalDir string
	if len(baseDir) > 0 {
		recordDir = filepath.Join(baseDir, recordStoreDir)
		approvalDir = filepath.Join(baseDir, approvalStoreDir)
	}

	recordStore, err := createDB(recordDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ownership record store: %s", err)
	}
	approvalStore, err := createDB(approvalDir, logger)
	if err != nil {
		_ = recordStore.Close()
		return nil, fmt.Errorf("failed to open operator approval store: %s", err)
	}

	return &registryRepository{recordStore, approvalStore}, nil
}

func (r *registryRepository) AddRecord(
	ctx context.Context, record domain.OwnershipRecord,
) error {
	var err error
	for range maxRetries {
		err = func() error {
			tx := r.recordStore.Badger().NewTransaction(true)
			defer tx.Discard()

			all, err := r.findRecords(tx, &badgerhold.Query{})
			if err != nil {
				return err
			}
			record.GlobalIndex = uint64(len(all))
			record.OwnerIndex = 0
			for _, rec := range all {
				if rec.Holder == record.Holder {
					record.OwnerIndex++
				}
			}

			if err := r.recordStore.TxInsert(
				tx, recordKey(record.Asset), &record,
			); err != nil {
				if errors.Is(err, badgerhold.ErrKeyExists) {
					return fmt.Errorf("asset %d already registered", record.Asset)
				}
				return err
			}
			return tx.Commit()
		}()
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		return err
	}
	return err
}

func (r *registryRepository) GetRecord(
	ctx context.Context, asset uint64,
) (*domain.OwnershipRecord, error) {
	var record domain.OwnershipRecord
	err := r.recordStore.Get(recordKey(asset), &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ownership record: %w", err)
	}
	return &record, nil
}

func (r *registryRepository) UpdateRecord(
	ctx context.Context, record domain.OwnershipRecord,
) error {
	var err error
	for range maxRetries {
		err = func() error {
			tx := r.recordStore.Badger().NewTransaction(true)
			defer tx.Discard()

			var stored domain.OwnershipRecord
			if err := r.recordStore.TxGet(tx, recordKey(record.Asset), &stored); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return fmt.Errorf("asset %d not registered", record.Asset)
				}
				return err
			}

			// indices are owned by the repository
			record.GlobalIndex = stored.GlobalIndex
			record.OwnerIndex = stored.OwnerIndex

			if record.Holder != stored.Holder {
				all, err := r.findRecords(tx, &badgerhold.Query{})
				if err != nil {
					return err
				}
				// swap-and-truncate the old holder's enumeration, then append
				// to the new holder's one.
				oldCount, newCount := uint64(0), uint64(0)
				var lastOfOldHolder *domain.OwnershipRecord
				for i := range all {
					switch all[i].Holder {
					case stored.Holder:
						oldCount++
						if lastOfOldHolder == nil ||
							all[i].OwnerIndex > lastOfOldHolder.OwnerIndex {
							lastOfOldHolder = &all[i]
						}
					case record.Holder:
						newCount++
					}
				}
				if lastOfOldHolder != nil && lastOfOldHolder.Asset != record.Asset {
					lastOfOldHolder.OwnerIndex = stored.OwnerIndex
					if err := r.recordStore.TxUpdate(
						tx, recordKey(lastOfOldHolder.Asset), lastOfOldHolder,
					); err != nil {
						return err
					}
				}
				record.OwnerIndex = newCount
			}

			if err := r.recordStore.TxUpdate(tx, recordKey(record.Asset), &record); err != nil {
				return err
			}
			return tx.Commit()
		}()
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		return err
	}
	return err
}

func (r *registryRepository) RemoveRecord(ctx context.Context, asset uint64) error {
	var err error
	for range maxRetries {
		err = func() error {
			tx := r.recordStore.Badger().NewTransaction(true)
			defer tx.Discard()

			var victim domain.OwnershipRecord
			if err := r.recordStore.TxGet(tx, recordKey(asset), &victim); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return fmt.Errorf("asset %d not registered", asset)
				}
				return err
			}

			all, err := r.findRecords(tx, &badgerhold.Query{})
			if err != nil {
				return err
			}

			// The record holding the last slot of either enumeration moves
			// into the freed one. Both movers may be the same record, so
			// mutations are collected before writing.
			moved := make(map[uint64]*domain.OwnershipRecord)
			lastGlobal := uint64(len(all)) - 1
			var lastOwnerIdx uint64
			for _, rec := range all {
				if rec.Holder == victim.Holder && rec.OwnerIndex > lastOwnerIdx {
					lastOwnerIdx = rec.OwnerIndex
				}
			}
			for i := range all {
				rec := all[i]
				if rec.Asset == asset {
					continue
				}
				if rec.GlobalIndex == lastGlobal {
					mover := mutated(moved, rec)
					mover.GlobalIndex = victim.GlobalIndex
				}
				if rec.Holder == victim.Holder && rec.OwnerIndex == lastOwnerIdx {
					mover := mutated(moved, rec)
					mover.OwnerIndex = victim.OwnerIndex
				}
			}
			for _, mover := range moved {
				if err := r.recordStore.TxUpdate(tx, recordKey(mover.Asset), mover); err != nil {
					return err
				}
			}

			if err := r.recordStore.TxDelete(tx, recordKey(asset), victim); err != nil {
				return err
			}
			return tx.Commit()
		}()
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		return err
	}
	return err
}

func (r *registryRepository) TotalSupply(ctx context.Context) (uint64, error) {
	records := make([]domain.OwnershipRecord, 0)
	if err := r.recordStore.Find(&records, &badgerhold.Query{}); err != nil {
		return 0, err
	}
	return uint64(len(records)), nil
}

func (r *registryRepository) AssetByIndex(
	ctx context.Context, index uint64,
) (uint64, error) {
	records := make([]domain.OwnershipRecord, 0)
	if err := r.recordStore.Find(
		&records, badgerhold.Where("GlobalIndex").Eq(index),
	); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("no asset at global index %d", index)
	}
	return records[0].Asset, nil
}

func (r *registryRepository) AssetOfOwnerByIndex(
	ctx context.Context, owner domain.Address, index uint64,
) (uint64, error) {
	records := make([]domain.OwnershipRecord, 0)
	if err := r.recordStore.Find(
		&records, badgerhold.Where("Holder").Eq(owner).And("OwnerIndex").Eq(index),
	); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("no asset of %s at index %d", owner, index)
	}
	return records[0].Asset, nil
}

func (r *registryRepository) BalanceOf(
	ctx context.Context, owner domain.Address,
) (uint64, error) {
	records := make([]domain.OwnershipRecord, 0)
	if err := r.recordStore.Find(
		&records, badgerhold.Where("Holder").Eq(owner),
	); err != nil {
		return 0, err
	}
	return uint64(len(records)), nil
}

func (r *registryRepository) SetOperatorApproval(
	ctx context.Context, owner, operator domain.Address, approved bool,
) error {
	key := approvalKey(owner, operator)
	if approved {
		approval := domain.OperatorApproval{Owner: owner, Operator: operator}
		upsertFn := func() error {
			return r.approvalStore.Upsert(key, &approval)
		}
		return withRetry(upsertFn)
	}

	var approval domain.OperatorApproval
	deleteFn := func() error {
		return r.approvalStore.Delete(key, &approval)
	}
	if err := withRetry(deleteFn); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (r *registryRepository) IsOperatorApproved(
	ctx context.Context, owner, operator domain.Address,
) (bool, error) {
	var approval domain.OperatorApproval
	err := r.approvalStore.Get(approvalKey(owner, operator), &approval)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *registryRepository) Close() {
	// nolint:all
	r.recordStore.Close()
	// nolint:all
	r.approvalStore.Close()
}

func (r *registryRepository) findRecords(
	tx *badger.Txn, query *badgerhold.Query,
) ([]domain.OwnershipRecord, error) {
	records := make([]domain.OwnershipRecord, 0)
	if err := r.recordStore.TxFind(tx, &records, query); err != nil {
		return nil, err
	}
	return records, nil
}

func mutated(
	moved map[uint64]*domain.OwnershipRecord, rec domain.OwnershipRecord,
) *domain.OwnershipRecord {
	if mover, ok := moved[rec.Asset]; ok {
		return mover
	}
	mover := rec
	moved[rec.Asset] = &mover
	return &mover
}

func recordKey(asset uint64) string {
	return strconv.FormatUint(asset, 10)
}

func approvalKey(owner, operator domain.Address) string {
	return fmt.Sprintf("%s/%s", owner, operator)
}
