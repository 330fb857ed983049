// Package tasks defines the asynq tasks that trigger pipeline runs
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TypePipelineRun is the task type running the pipeline of one entity type
	TypePipelineRun = "pipeline:run"
	// QueueName is the queue pipeline runs are enqueued on
	QueueName = "pipeline"
)

// Triggers recorded with a run
const (
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
	TriggerCLI      = "cli"
)

var (
	// ErrTenantRequired is returned for payloads without a tenant
	ErrTenantRequired = errors.New("tenant is required")
	// ErrEntityTypeRequired is returned for payloads without an entity type id
	ErrEntityTypeRequired = errors.New("entity type id is required")
)

// PipelinePayload is the payload of a pipeline:run task
type PipelinePayload struct {
	Tenant       string     `json:"tenant"`
	EntityTypeID int        `json:"entityTypeId"`
	Force        bool       `json:"force,omitempty"`
	Entities     []string   `json:"entities,omitempty"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	Trigger      string     `json:"trigger,omitempty"`
	EnqueuedAt   time.Time  `json:"enqueuedAt"`
}

// Validate checks the payload identifies an entity type
func (p PipelinePayload) Validate() error {
	if p.Tenant == "" {
		return ErrTenantRequired
	}

	if p.EntityTypeID <= 0 {
		return ErrEntityTypeRequired
	}

	return nil
}

// UniqueID identifies the run of an entity type; at most one is queued at a time
func (p PipelinePayload) UniqueID() string {
	return fmt.Sprintf("%s:%d", p.Tenant, p.EntityTypeID)
}

// NewPipelineTask wraps payload into an asynq task
func NewPipelineTask(payload PipelinePayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TypePipelineRun, data), nil
}

// ParsePipelinePayload decodes and validates the payload of t
func ParsePipelinePayload(t *asynq.Task) (PipelinePayload, error) {
	var payload PipelinePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return payload, payload.Validate()
}
