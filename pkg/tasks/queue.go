package tasks

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/kpt/pkg/observability"
	"github.com/hibiken/asynq"
)

// ErrAlreadyQueued is returned when a run of the entity type is already pending
var ErrAlreadyQueued = errors.New("pipeline run already queued")

// Enqueuer enqueues pipeline runs
type Enqueuer interface {
	EnqueuePipeline(payload PipelinePayload, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueManager manages task queuing
type QueueManager struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	timeout   time.Duration
	retries   int
}

// NewQueueManager creates a new queue manager
func NewQueueManager(redisOpt *asynq.RedisClientOpt, timeout time.Duration, retries int) *QueueManager {
	return &QueueManager{
		client:    asynq.NewClient(*redisOpt),
		inspector: asynq.NewInspector(*redisOpt),
		timeout:   timeout,
		retries:   retries,
	}
}

// Options returns the default options of a pipeline task
func (q *QueueManager) Options(payload PipelinePayload) []asynq.Option {
	return DefaultOptions(payload, q.timeout, q.retries)
}

// DefaultOptions are the queue, id, retry and timeout options of a pipeline task
func DefaultOptions(payload PipelinePayload, timeout time.Duration, retries int) []asynq.Option {
	opts := []asynq.Option{
		asynq.TaskID(payload.UniqueID()),
		asynq.Queue(QueueName),
		asynq.MaxRetry(retries),
	}

	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}

	return opts
}

// EnqueuePipeline enqueues a pipeline run. A run of the same entity type
// still pending yields ErrAlreadyQueued.
func (q *QueueManager) EnqueuePipeline(payload PipelinePayload, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = time.Now().UTC()
	}

	task, err := NewPipelineTask(payload)
	if err != nil {
		return nil, err
	}

	allOpts := append(q.Options(payload), opts...)

	info, err := q.client.Enqueue(task, allOpts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyQueued, payload.UniqueID())
		}

		return nil, err
	}

	observability.RecordTaskEnqueued(fmt.Sprintf("%d", payload.EntityTypeID), payload.Trigger)

	return info, nil
}

// IsTaskPendingOrRunning checks if a run of the entity type is pending or running
func (q *QueueManager) IsTaskPendingOrRunning(payload PipelinePayload) (bool, error) {
	info, err := q.inspector.GetTaskInfo(QueueName, payload.UniqueID())
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return false, nil
		}

		return false, err
	}

	return info.State == asynq.TaskStatePending ||
		info.State == asynq.TaskStateActive ||
		info.State == asynq.TaskStateRetry, nil
}

// Close closes the queue manager
func (q *QueueManager) Close() error {
	if err := q.inspector.Close(); err != nil {
		return err
	}

	return q.client.Close()
}
