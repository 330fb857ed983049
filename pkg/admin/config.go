package admin

import (
	"errors"
	"time"
)

// ErrInvalidKeep is returned when no run would be kept
var ErrInvalidKeep = errors.New("run log must keep at least one run")

// Config configures the run log
type Config struct {
	// Retention is how long a run document lives
	Retention time.Duration `yaml:"retention" default:"2160h"`
	// Keep caps the run history of each entity type
	Keep int64 `yaml:"keep" default:"100"`
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Keep <= 0 {
		return ErrInvalidKeep
	}

	return nil
}
