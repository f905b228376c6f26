package domain

import "context"

// Settings holds the mutable registry-wide parameters.
type Settings struct {
	BaseURI string
}

type SettingsRepository interface {
	Get(ctx context.Context) (*Settings, error)
	Upsert(ctx context.Context, settings Settings) error
	Close()
}
