// Package scheduler enqueues pipeline runs on cron schedules
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidEntityType is returned for entries without a positive entity type id
	ErrInvalidEntityType = errors.New("entity type id must be positive")
	// ErrDuplicateEntityType is returned when an entity type is scheduled twice
	ErrDuplicateEntityType = errors.New("entity type scheduled more than once")
	// ErrInvalidCron is returned for cron specs asynq cannot schedule
	ErrInvalidCron = errors.New("invalid cron spec")
)

// Entry schedules the pipeline of one entity type
type Entry struct {
	EntityTypeID int `yaml:"entityTypeId"`
	// Cron falls back to Config.DefaultCron
	Cron  string `yaml:"cron"`
	Force bool   `yaml:"force"`
}

// Config defines scheduler configuration
type Config struct {
	Enabled     bool          `yaml:"enabled" default:"true"`
	DefaultCron string        `yaml:"defaultCron" default:"@every 15m"`
	Location    string        `yaml:"location" default:"UTC"`
	TaskTimeout time.Duration `yaml:"taskTimeout" default:"2h"`
	MaxRetry    int           `yaml:"maxRetry" default:"0"`
	EntityTypes []Entry       `yaml:"entityTypes"`
}

// Spec returns the cron spec of e
func (c *Config) Spec(e Entry) string {
	if e.Cron != "" {
		return e.Cron
	}

	return c.DefaultCron
}

// Validate checks if the scheduler configuration is valid
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Location); err != nil {
		return fmt.Errorf("invalid scheduler location %q: %w", c.Location, err)
	}

	seen := make(map[int]bool, len(c.EntityTypes))

	for _, e := range c.EntityTypes {
		if e.EntityTypeID <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidEntityType, e.EntityTypeID)
		}

		if seen[e.EntityTypeID] {
			return fmt.Errorf("%w: %d", ErrDuplicateEntityType, e.EntityTypeID)
		}

		seen[e.EntityTypeID] = true

		spec := c.Spec(e)
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%w %q for entity type %d: %w", ErrInvalidCron, spec, e.EntityTypeID, err)
		}
	}

	return nil
}
