package metadata

import (
	"errors"
	"time"
)

// ErrBaseURLRequired is returned when no metadata endpoint is configured
var ErrBaseURLRequired = errors.New("metadata base URL is required")

// Config configures the metadata REST client
type Config struct {
	BaseURL string        `yaml:"baseUrl"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout" default:"30s"`
	// CacheTTL keeps fetched engine inputs in redis, zero disables caching
	CacheTTL time.Duration `yaml:"cacheTtl" default:"0s"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker guarding the endpoint
type BreakerConfig struct {
	// FailThreshold is the number of consecutive failures opening the breaker
	FailThreshold uint32 `yaml:"failThreshold" default:"5"`
	// Cooldown is how long the breaker stays open before probing
	Cooldown time.Duration `yaml:"cooldown" default:"30s"`
	// FailWindow resets the failure counts while the breaker is closed
	FailWindow time.Duration `yaml:"failWindow" default:"60s"`
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrBaseURLRequired
	}

	return nil
}

// SetDefaults fills unset durations
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}

	if c.Breaker.FailThreshold == 0 {
		c.Breaker.FailThreshold = 5
	}

	if c.Breaker.Cooldown == 0 {
		c.Breaker.Cooldown = 30 * time.Second
	}

	if c.Breaker.FailWindow == 0 {
		c.Breaker.FailWindow = 60 * time.Second
	}
}
