package ports

import "github.com/rentgrid/rentd/internal/core/domain"

type RepoManager interface {
	Ledger() domain.LedgerRepository
	Registry() domain.RegistryRepository
	Settings() domain.SettingsRepository
	Events() domain.EventRepository
	Close()
}
