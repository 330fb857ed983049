package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/kpt/pkg/observability"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Runner executes the pipeline described by a payload
type Runner interface {
	RunPipeline(ctx context.Context, payload PipelinePayload) error
}

// TaskHandler handles task execution
type TaskHandler struct {
	runner Runner
	log    logrus.FieldLogger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(log logrus.FieldLogger, runner Runner) *TaskHandler {
	return &TaskHandler{
		runner: runner,
		log:    log.WithField("component", "task-handler"),
	}
}

// HandlePipelineRun handles pipeline:run tasks. Malformed payloads are not retried.
func (h *TaskHandler) HandlePipelineRun(ctx context.Context, t *asynq.Task) error {
	payload, err := ParsePipelinePayload(t)
	if err != nil {
		observability.RecordError("task-handler", "invalid_payload")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	entityType := fmt.Sprintf("%d", payload.EntityTypeID)

	log := h.log.WithFields(logrus.Fields{
		"tenant":         payload.Tenant,
		"entity_type_id": payload.EntityTypeID,
		"trigger":        payload.Trigger,
	})

	log.Info("Starting pipeline task")

	start := time.Now()

	if err := h.runner.RunPipeline(ctx, payload); err != nil {
		observability.RecordTaskComplete(entityType, "failed")
		observability.RecordError("task-handler", "execution_error")

		return fmt.Errorf("execution error: %w", err)
	}

	observability.RecordTaskComplete(entityType, "success")

	log.WithField("duration", time.Since(start)).Info("Task completed successfully")

	return nil
}

// Routes returns the task handler routes for Asynq
func (h *TaskHandler) Routes() map[string]asynq.HandlerFunc {
	return map[string]asynq.HandlerFunc{
		TypePipelineRun: h.HandlePipelineRun,
	}
}
