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

const eventStoreDir = "events"

type eventRepository struct {
	store *badgerhold.Store
}

type eventDTO struct {
	domain.Event
	Seq uint64
}

func NewEventRepository(config ...interface{}) (domain.EventRepository, error) {
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

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, eventStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %s", err)
	}

	return &eventRepository{store}, nil
}

func (r *eventRepository) Append(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	var err error
	for range maxRetries {
		err = func() error {
			tx := r.store.Badger().NewTransaction(true)
			defer tx.Discard()

			existing := make([]eventDTO, 0)
			if err := r.store.TxFind(tx, &existing, &badgerhold.Query{}); err != nil {
				return err
			}
			seq := uint64(len(existing))

			for _, event := range events {
				dto := eventDTO{Event: event, Seq: seq}
				if err := r.store.TxInsert(tx, event.ID, &dto); err != nil {
					return err
				}
				seq++
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

func (r *eventRepository) List(ctx context.Context, limit int) ([]domain.Event, error) {
	dtos := make([]eventDTO, 0)
	if err := r.store.Find(&dtos, &badgerhold.Query{}); err != nil {
		return nil, err
	}
	sort.SliceStable(dtos, func(i, j int) bool {
		return dtos[i].Seq < dtos[j].Seq
	})
	if limit > 0 && len(dtos) > limit {
		dtos = dtos[len(dtos)-limit:]
	}
	events := make([]domain.Event, 0, len(dtos))
	for _, dto := range dtos {
		events = append(events, dto.Event)
	}
	return events, nil
}

func (r *eventRepository) Close() {
	// nolint:all
	r.store.Close()
}
