package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rentgrid/rentd/internal/core/domain"
)

type settingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(config ...interface{}) (domain.SettingsRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open settings repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &settingsRepository{db}, nil
}

func (r *settingsRepository) Get(ctx context.Context) (*domain.Settings, error) {
	var baseURI string
	err := r.db.QueryRowContext(
		ctx, `SELECT base_uri FROM settings WHERE id = 1`,
	).Scan(&baseURI)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &domain.Settings{BaseURI: baseURI}, nil
}

func (r *settingsRepository) Upsert(
	ctx context.Context, settings domain.Settings,
) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO settings (id, base_uri) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET base_uri = excluded.base_uri`,
		settings.BaseURI,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	return nil
}

func (r *settingsRepository) Close() {
	_ = r.db.Close()
}
