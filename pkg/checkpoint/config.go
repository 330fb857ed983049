package checkpoint

import (
	"context"
	"fmt"

	"github.com/ethpandaops/kpt/pkg/clickhouse"
	"github.com/sirupsen/logrus"
)

// Backend names
const (
	BackendClickHouse = "clickhouse"
	BackendPostgres   = "postgres"
	BackendMemory     = "memory"
)

// Config selects the checkpoint store
type Config struct {
	Backend  string         `yaml:"backend" default:"clickhouse"`
	Table    string         `yaml:"table" default:"kpt_checkpoints"`
	Migrate  bool           `yaml:"migrate" default:"true"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig configures the postgres backend
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns" default:"4"`
}

// Validate checks the configuration
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendClickHouse, BackendMemory:
		return nil
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return ErrDSNRequired
		}

		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownBackend, c.Backend)
	}
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// NewStore creates the configured store and, when enabled, its table. The
// ClickHouse client is only used by the clickhouse backend.
func NewStore(ctx context.Context, log logrus.FieldLogger, cfg *Config, ch clickhouse.ClientInterface) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Backend {
	case BackendClickHouse:
		store = NewClickHouseStore(ch, cfg.Table)
	case BackendPostgres:
		store, err = NewPostgresStore(ctx, cfg.Postgres.DSN, cfg.Table, cfg.Postgres.MaxConns)
	case BackendMemory:
		store = NewMemoryStore()
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}

	if err != nil {
		return nil, err
	}

	if m, ok := store.(migrator); ok && cfg.Migrate {
		if err := m.Migrate(ctx); err != nil {
			return nil, err
		}

		log.WithFields(logrus.Fields{"backend": cfg.Backend, "table": cfg.Table}).Info("Checkpoint table ready")
	}

	return store, nil
}
