// Package admin keeps the execution log of pipeline runs in redis
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRunNotFound is returned when a run id is unknown or expired
var ErrRunNotFound = errors.New("run not found")

// Status is the state of a run
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Run is one execution of the pipeline of an entity type
type Run struct {
	ID           string     `json:"id"`
	Tenant       string     `json:"tenant"`
	EntityTypeID int        `json:"entity_type_id"`
	EntityType   string     `json:"entity_type,omitempty"`
	Trigger      string     `json:"trigger,omitempty"`
	Status       Status     `json:"status"`
	Stage        string     `json:"stage,omitempty"`
	StagesDone   int        `json:"stages_done"`
	TotalStages  int        `json:"total_stages"`
	Error        string     `json:"error,omitempty"`
	LaunchedAt   time.Time  `json:"launched_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the run took, up to now while running
func (r *Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.LaunchedAt)
	}

	return time.Since(r.LaunchedAt)
}

// Service is the redis backed run log. Every run is a JSON document expiring
// after the retention, and each entity type keeps a capped list of its most
// recent run ids.
type Service struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
	keep      int64
	now       func() time.Time
}

// NewService creates a run log
func NewService(client *redis.Client, prefix string, retention time.Duration, keep int64) *Service {
	return &Service{
		client:    client,
		keyPrefix: prefix + ":runs:",
		retention: retention,
		keep:      keep,
		now:       time.Now,
	}
}

func (s *Service) runKey(id string) string {
	return s.keyPrefix + "run:" + id
}

func (s *Service) listKey(entityTypeID int) string {
	return fmt.Sprintf("%sentity_type:%d", s.keyPrefix, entityTypeID)
}

// Start records a new running run and returns it with its id set
func (s *Service) Start(ctx context.Context, run *Run) (*Run, error) {
	r := *run
	r.ID = uuid.NewString()
	r.Status = StatusRunning

	if r.LaunchedAt.IsZero() {
		r.LaunchedAt = s.now().UTC()
	}

	data, err := json.Marshal(&r)
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(r.ID), data, s.retention)
	pipe.LPush(ctx, s.listKey(r.EntityTypeID), r.ID)
	pipe.LTrim(ctx, s.listKey(r.EntityTypeID), 0, s.keep-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	return &r, nil
}

// Get returns a run
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}

		return nil, err
	}

	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}

	return &r, nil
}

// UpdateStage marks stage as the currently running stage
func (s *Service) UpdateStage(ctx context.Context, id, stage string) error {
	return s.update(ctx, id, func(r *Run) {
		r.Stage = stage
		r.StagesDone++
	})
}

// SetTotalStages records the expected number of stages
func (s *Service) SetTotalStages(ctx context.Context, id string, total int) error {
	return s.update(ctx, id, func(r *Run) {
		r.TotalStages = total
	})
}

// Finish closes a run, failed when runErr is set
func (s *Service) Finish(ctx context.Context, id string, runErr error) error {
	return s.update(ctx, id, func(r *Run) {
		now := s.now().UTC()
		r.FinishedAt = &now
		r.Status = StatusSuccess

		if runErr != nil {
			r.Status = StatusFailure
			r.Error = runErr.Error()
		}
	})
}

// Recent returns the latest n runs of an entity type, newest first
func (s *Service) Recent(ctx context.Context, entityTypeID int, n int64) ([]*Run, error) {
	if n <= 0 {
		n = s.keep
	}

	ids, err := s.client.LRange(ctx, s.listKey(entityTypeID), 0, n-1).Result()
	if err != nil {
		return nil, err
	}

	runs := make([]*Run, 0, len(ids))

	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if errors.Is(err, ErrRunNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		runs = append(runs, r)
	}

	return runs, nil
}

// update rewrites a run inside an optimistic transaction
func (s *Service) update(ctx context.Context, id string, mutate func(*Run)) error {
	key := s.runKey(id)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrRunNotFound, id)
			}

			return err
		}

		var r Run
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}

		mutate(&r)

		updated, err := json.Marshal(&r)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			return nil
		})

		return err
	}, key)
}
