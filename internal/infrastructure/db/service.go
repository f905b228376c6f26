package db

import (
	"embed"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rentgrid/rentd/internal/core/domain"
	"github.com/rentgrid/rentd/internal/core/ports"
	badgerdb "github.com/rentgrid/rentd/internal/infrastructure/db/badger"
	sqlitedb "github.com/rentgrid/rentd/internal/infrastructure/db/sqlite"
)

//go:embed sqlite/migration/*
var migrations embed.FS

var (
	ledgerStoreTypes = map[string]func(...interface{}) (domain.LedgerRepository, error){
		"badger": badgerdb.NewLedgerRepository,
		"sqlite": sqlitedb.NewLedgerRepository,
	}
	registryStoreTypes = map[string]func(...interface{}) (domain.RegistryRepository, error){
		"badger": badgerdb.NewRegistryRepository,
		"sqlite": sqlitedb.NewRegistryRepository,
	}
	settingsStoreTypes = map[string]func(...interface{}) (domain.SettingsRepository, error){
		"badger": badgerdb.NewSettingsRepository,
		"sqlite": sqlitedb.NewSettingsRepository,
	}
	eventStoreTypes = map[string]func(...interface{}) (domain.EventRepository, error){
		"badger": badgerdb.NewEventRepository,
		"sqlite": sqlitedb.NewEventRepository,
	}
)

const sqliteDbFile = "sqlite.db"

type ServiceConfig struct {
	DataStoreType   string
	DataStoreConfig []interface{}
}

type service struct {
	ledgerStore   domain.LedgerRepository
	registryStore domain.RegistryRepository
	settingsStore domain.SettingsRepository
	eventStore    domain.EventRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	ledgerStoreFactory, ok := ledgerStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	registryStoreFactory, ok := registryStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	settingsStoreFactory, ok := settingsStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	eventStoreFactory, ok := eventStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}

	var ledgerStore domain.LedgerRepository
	var registryStore domain.RegistryRepository
	var settingsStore domain.SettingsRepository
	var eventStore domain.EventRepository
	var err error

	switch config.DataStoreType {
	case "badger":
		ledgerStore, err = ledgerStoreFactory(config.DataStoreConfig...)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger store: %s", err)
		}
		registryStore, err = registryStoreFactory(config.DataStoreConfig...)
		if err != nil {
			return nil, fmt.Errorf("failed to open registry store: %s", err)
		}
		settingsStore, err = settingsStoreFactory(config.DataStoreConfig...)
		if err != nil {
			return nil, fmt.Errorf("failed to open settings store: %s", err)
		}
		eventStore, err = eventStoreFactory(config.DataStoreConfig...)
		if err != nil {
			return nil, fmt.Errorf("failed to open event store: %s", err)
		}

	case "sqlite":
		if len(config.DataStoreConfig) != 1 {
			return nil, fmt.Errorf("invalid data store config")
		}

		baseDir, ok := config.DataStoreConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid base directory")
		}

		dbFile := ":memory:"
		if len(baseDir) > 0 {
			dbFile = filepath.Join(baseDir, sqliteDbFile)
		}
		db, err := sqlitedb.OpenDb(dbFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %s", err)
		}

		driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init driver: %s", err)
		}

		source, err := iofs.New(migrations, "sqlite/migration")
		if err != nil {
			return nil, fmt.Errorf("failed to embed migrations: %s", err)
		}

		m, err := migrate.NewWithInstance("iofs", source, "rentdb", driver)
		if err != nil {
			return nil, fmt.Errorf("failed to create migration instance: %s", err)
		}

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("failed to run migrations: %s", err)
		}

		ledgerStore, err = ledgerStoreFactory(db)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger store: %s", err)
		}
		registryStore, err = registryStoreFactory(db)
		if err != nil {
			return nil, fmt.Errorf("failed to open registry store: %s", err)
		}
		settingsStore, err = settingsStoreFactory(db)
		if err != nil {
			return nil, fmt.Errorf("failed to open settings store: %s", err)
		}
		eventStore, err = eventStoreFactory(db)
		if err != nil {
			return nil, fmt.Errorf("failed to open event store: %s", err)
		}

	default:
		return nil, fmt.Errorf("unknown data store db type")
	}

	return &service{
		ledgerStore:   ledgerStore,
		registryStore: registryStore,
		settingsStore: settingsStore,
		eventStore:    eventStore,
	}, nil
}

func (s *service) Ledger() domain.LedgerRepository {
	return s.ledgerStore
}

func (s *service) Registry() domain.RegistryRepository {
	return s.registryStore
}

func (s *service) Settings() domain.SettingsRepository {
	return s.settingsStore
}

func (s *service) Events() domain.EventRepository {
	return s.eventStore
}

func (s *service) Close() {
	s.ledgerStore.Close()
	s.registryStore.Close()
	s.settingsStore.Close()
	s.eventStore.Close()
}
