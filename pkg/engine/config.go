// Package engine runs the KPI pipeline of entity types and wires the
// services around it
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/kpt/pkg/admin"
	"github.com/ethpandaops/kpt/pkg/api"
	"github.com/ethpandaops/kpt/pkg/cache"
	"github.com/ethpandaops/kpt/pkg/checkpoint"
	"github.com/ethpandaops/kpt/pkg/clickhouse"
	"github.com/ethpandaops/kpt/pkg/metadata"
	"github.com/ethpandaops/kpt/pkg/redis"
	"github.com/ethpandaops/kpt/pkg/scheduler"
	"github.com/ethpandaops/kpt/pkg/worker"
)

var (
	// ErrTenantRequired is returned when no tenant is configured
	ErrTenantRequired = errors.New("tenant is required")
	// ErrInvalidAlertStreamLength is returned for a negative alert stream cap
	ErrInvalidAlertStreamLength = errors.New("alert stream max length must not be negative")
)

// Config represents the complete engine configuration
type Config struct {
	Logging         string `yaml:"logging" default:"info"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9091"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`
	PProfAddr       string `yaml:"pprofAddr"`

	// Tenant every run belongs to
	Tenant string `yaml:"tenant"`

	Metadata   metadata.Config   `yaml:"metadata"`
	ClickHouse clickhouse.Config `yaml:"clickhouse"`
	Checkpoint checkpoint.Config `yaml:"checkpoint"`
	Cache      cache.Config      `yaml:"cache"`
	Redis      redis.Config      `yaml:"redis"`
	RunLog     admin.Config      `yaml:"runLog"`

	Scheduler scheduler.Config `yaml:"scheduler"`
	Worker    worker.Config    `yaml:"worker"`
	API       api.Config       `yaml:"api"`

	Engine RunConfig `yaml:"engine"`
}

// RunConfig holds the switches of pipeline runs
type RunConfig struct {
	// ProductionMode persists results, checkpoints and cached aggregates
	ProductionMode bool `yaml:"productionMode" default:"true"`
	// ConcatOnly appends cached aggregation inputs instead of merging them
	ConcatOnly bool `yaml:"concatOnly"`
	// AlertStream is the redis stream alerts are produced to, empty disables alerts
	AlertStream       string        `yaml:"alertStream" default:"kpt:alerts"`
	AlertStreamMaxLen int64         `yaml:"alertStreamMaxLen" default:"100000"`
	RunTimeout        time.Duration `yaml:"runTimeout" default:"2h"`
}

// Validate checks the run switches
func (c *RunConfig) Validate() error {
	if c.AlertStreamMaxLen < 0 {
		return ErrInvalidAlertStreamLength
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Tenant == "" {
		return ErrTenantRequired
	}

	validators := []struct {
		name string
		fn   func() error
	}{
		{"metadata", c.Metadata.Validate},
		{"clickhouse", c.ClickHouse.Validate},
		{"checkpoint", c.Checkpoint.Validate},
		{"cache", c.Cache.Validate},
		{"redis", c.Redis.Validate},
		{"runLog", c.RunLog.Validate},
		{"scheduler", c.Scheduler.Validate},
		{"worker", c.Worker.Validate},
		{"api", c.API.Validate},
		{"engine", c.Engine.Validate},
	}

	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("invalid %s configuration: %w", v.name, err)
		}
	}

	return nil
}

// SetDefaults fills the defaults of sub-configs that compute them in code
func (c *Config) SetDefaults() {
	c.ClickHouse.SetDefaults()
	c.Metadata.SetDefaults()
}
