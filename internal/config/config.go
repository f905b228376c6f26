package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rentgrid/rentd/internal/core/application"
	"github.com/rentgrid/rentd/internal/core/domain"
	"github.com/rentgrid/rentd/internal/core/ports"
	"github.com/rentgrid/rentd/internal/infrastructure/db"
	"github.com/rentgrid/rentd/internal/infrastructure/payments"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var supportedDbs = supportedType{
	"badger": {},
	"sqlite": {},
}

var (
	defaultDatadir = func() string {
		home, err := os.UserHomeDir()
		if err != nil {
			return ".rentd"
		}
		return filepath.Join(home, ".rentd")
	}()
	defaultDbType   = "badger"
	defaultLogLevel = 4
)

// env returns a list of strings prefixed with `RENTD_`.
// This is used as a syntax sugar for defining env vars.
func env(values ...string) []string {
	envs := make([]string, len(values))

	for i, value := range values {
		envs[i] = fmt.Sprintf("RENTD_%s", value)
	}

	return envs
}

var (
	Datadir = &cli.StringFlag{
		Usage: "Directory to store data",
		Name:  "datadir", EnvVars: env("DATADIR"),
		Value: defaultDatadir,
	}

	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}

	DbType = &cli.StringFlag{
		Usage: "Database type (badger, sqlite)",
		Name:  "db-type", EnvVars: env("DB_TYPE"),
		Value: defaultDbType,
	}

	AdminAddress = &cli.StringFlag{
		Usage: "Address of the administrator account",
		Name:  "admin-address", EnvVars: env("ADMIN_ADDRESS"),
	}
)

var Flags = []cli.Flag{
	Datadir,
	LogLevel,
	DbType,
	AdminAddress,
}

type Config struct {
	Datadir      string
	DbDir        string
	DbType       string
	LogLevel     int
	AdminAddress string

	repo        ports.RepoManager
	paymentSvc  *payments.LogExecutor
	ledgerSvc   application.LedgerService
	registrySvc application.RegistryService
}

func (c *Config) String() string {
	json, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

func LoadConfig(c *cli.Context) (*Config, error) {
	if err := initDatadir(c); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	dbPath := filepath.Join(c.String(Datadir.Name), "db")

	return &Config{
		Datadir:      c.String(Datadir.Name),
		DbDir:        dbPath,
		DbType:       c.String(DbType.Name),
		LogLevel:     c.Int(LogLevel.Name),
		AdminAddress: c.String(AdminAddress.Name),
	}, nil
}

func (c *Config) Validate() error {
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if domain.Address(c.AdminAddress).IsZero() {
		return fmt.Errorf("missing administrator address")
	}

	if err := c.repoManager(); err != nil {
		return err
	}
	return c.services()
}

func (c *Config) RepoManager() ports.RepoManager {
	return c.repo
}

func (c *Config) LedgerService() application.LedgerService {
	return c.ledgerSvc
}

func (c *Config) RegistryService() application.RegistryService {
	return c.registrySvc
}

func (c *Config) PaymentExecutor() *payments.LogExecutor {
	return c.paymentSvc
}

func (c *Config) repoManager() error {
	var dataStoreConfig []interface{}
	logger := log.New()

	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, logger}
	case "sqlite":
		dataStoreConfig = []interface{}{c.DbDir}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		DataStoreType:   c.DbType,
		DataStoreConfig: dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) services() error {
	admin := domain.Address(c.AdminAddress)

	c.paymentSvc = payments.NewLogExecutor()
	ledgerSvc, err := application.NewLedgerService(c.repo, c.paymentSvc, nil, admin)
	if err != nil {
		return fmt.Errorf("failed to create ledger service: %s", err)
	}
	registrySvc, err := application.NewRegistryService(c.repo, ledgerSvc, nil, admin)
	if err != nil {
		return fmt.Errorf("failed to create registry service: %s", err)
	}

	c.ledgerSvc = ledgerSvc
	c.registrySvc = registrySvc
	return nil
}

func initDatadir(c *cli.Context) error {
	datadir := c.String(Datadir.Name)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0o755)
	}
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
