package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rentgrid/rentd/internal/core/domain"
)

type eventRepository struct {
	db *sql.DB
}

func NewEventRepository(config ...interface{}) (domain.EventRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open event repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &eventRepository{db}, nil
}

func (r *eventRepository) Append(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	// nolint:all
	defer tx.Rollback()

	for _, event := range events {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO event
			   (id, type, asset, instrument, from_addr, to_addr, recipient,
			    amount, fee_pct, accepted, uri, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID, string(event.Type), int64(event.Asset),
			string(event.Instrument), string(event.From), string(event.To),
			string(event.Recipient), int64(event.Amount), int64(event.FeePct),
			event.Accepted, event.URI, event.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
	}

	return tx.Commit()
}

func (r *eventRepository) List(ctx context.Context, limit int) ([]domain.Event, error) {
	query := `SELECT id, type, asset, instrument, from_addr, to_addr, recipient,
	            amount, fee_pct, accepted, uri, created_at
	          FROM event ORDER BY seq ASC`
	args := make([]any, 0, 1)
	if limit > 0 {
		// newest last, so the tail of the log is selected in reverse first
		query = `SELECT id, type, asset, instrument, from_addr, to_addr, recipient,
		           amount, fee_pct, accepted, uri, created_at
		         FROM (
		           SELECT * FROM event ORDER BY seq DESC LIMIT ?
		         ) ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			id, eventType, instrument, from, to, recipient, uri string
			asset, amount, feePct, createdAt                    int64
			accepted                                            bool
		)
		if err := rows.Scan(
			&id, &eventType, &asset, &instrument, &from, &to, &recipient,
			&amount, &feePct, &accepted, &uri, &createdAt,
		); err != nil {
			return nil, err
		}
		events = append(events, domain.Event{
			ID:         id,
			Type:       domain.EventType(eventType),
			Asset:      uint64(asset),
			Instrument: domain.Address(instrument),
			From:       domain.Address(from),
			To:         domain.Address(to),
			Recipient:  domain.Address(recipient),
			Amount:     uint64(amount),
			FeePct:     uint64(feePct),
			Accepted:   accepted,
			URI:        uri,
			CreatedAt:  createdAt,
		})
	}
	return events, rows.Err()
}

func (r *eventRepository) Close() {
	_ = r.db.Close()
}
