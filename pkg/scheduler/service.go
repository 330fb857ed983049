package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/kpt/pkg/observability"
	r "github.com/ethpandaops/kpt/pkg/redis"
	"github.com/ethpandaops/kpt/pkg/tasks"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrScheduleRegistrationFailed is returned when one or more entries fail to register
var ErrScheduleRegistrationFailed = errors.New("failed to register scheduled tasks")

// Service defines the public interface for the scheduler
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

// ScheduledTask is one cron entry
type ScheduledTask struct {
	EntityTypeID int
	Spec         string
	Task         *asynq.Task
	Opts         []asynq.Option
}

// service registers cron entries while its instance holds leadership
type service struct {
	log    logrus.FieldLogger
	cfg    *Config
	tenant string

	done chan struct{}
	wg   sync.WaitGroup

	asynqRedis *asynq.RedisClientOpt
	location   *time.Location
	elector    LeaderElector

	mu        sync.Mutex
	scheduler *asynq.Scheduler
}

// NewService creates a new scheduler service
func NewService(log logrus.FieldLogger, cfg *Config, tenant string, redisOpt *redis.Options, redisCfg *r.Config) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return nil, err
	}

	return &service{
		log:        log.WithField("service", "scheduler"),
		cfg:        cfg,
		tenant:     tenant,
		done:       make(chan struct{}),
		asynqRedis: r.NewAsynqRedisOptions(redisOpt),
		location:   loc,
		elector:    NewLeaderElector(log, redisOpt, redisCfg.PrefixKey("scheduler:leader")),
	}, nil
}

// BuildTasks returns one pipeline:run entry per configured entity type
func BuildTasks(cfg *Config, tenant string) ([]ScheduledTask, error) {
	out := make([]ScheduledTask, 0, len(cfg.EntityTypes))

	for _, e := range cfg.EntityTypes {
		payload := tasks.PipelinePayload{
			Tenant:       tenant,
			EntityTypeID: e.EntityTypeID,
			Force:        e.Force,
			Trigger:      tasks.TriggerSchedule,
		}

		task, err := tasks.NewPipelineTask(payload)
		if err != nil {
			return nil, fmt.Errorf("entity type %d: %w", e.EntityTypeID, err)
		}

		out = append(out, ScheduledTask{
			EntityTypeID: e.EntityTypeID,
			Spec:         cfg.Spec(e),
			Task:         task,
			Opts:         tasks.DefaultOptions(payload, cfg.TaskTimeout, cfg.MaxRetry),
		})
	}

	return out, nil
}

// Start joins leader election; the leader runs the cron scheduler
func (s *service) Start(ctx context.Context) error {
	if !s.cfg.Enabled || len(s.cfg.EntityTypes) == 0 {
		s.log.Info("Scheduler disabled, no entity types scheduled")
		return nil
	}

	if err := s.elector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start leader election: %w", err)
	}

	s.wg.Add(1)
	go s.handleLeaderElection(ctx)

	s.log.WithField("entity_types", len(s.cfg.EntityTypes)).Info("Scheduler service started (participating in leader election)")

	return nil
}

// Stop gracefully shuts down the scheduler service
func (s *service) Stop() error {
	close(s.done)

	if err := s.elector.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to stop leader elector")
	}

	s.wg.Wait()
	s.stopScheduler()

	s.log.Info("Scheduler service stopped successfully")

	return nil
}

func (s *service) handleLeaderElection(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.elector.Promoted():
			s.log.Info("Promoted to scheduler leader - starting scheduler")

			if err := s.startScheduler(); err != nil {
				s.log.WithError(err).Error("Failed to start scheduler as leader")
			}
		case <-s.elector.Demoted():
			s.log.Info("Demoted from scheduler leader - stopping scheduler")
			s.stopScheduler()
		}
	}
}

func (s *service) startScheduler() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		return nil
	}

	scheduled, err := BuildTasks(s.cfg, s.tenant)
	if err != nil {
		return err
	}

	scheduler := asynq.NewScheduler(s.asynqRedis, &asynq.SchedulerOpts{
		Location:        s.location,
		LogLevel:        asynq.WarnLevel,
		PostEnqueueFunc: s.postEnqueue,
	})

	var failed int

	for _, st := range scheduled {
		entryID, err := scheduler.Register(st.Spec, st.Task, st.Opts...)
		if err != nil {
			failed++

			s.log.WithError(err).WithField("entity_type_id", st.EntityTypeID).Error("Failed to register scheduled task")

			continue
		}

		s.log.WithFields(logrus.Fields{
			"entity_type_id": st.EntityTypeID,
			"schedule":       st.Spec,
			"entry_id":       entryID,
		}).Info("Registered scheduled task")
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d tasks failed", ErrScheduleRegistrationFailed, failed)
	}

	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start asynq scheduler: %w", err)
	}

	s.scheduler = scheduler

	return nil
}

func (s *service) stopScheduler() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler == nil {
		return
	}

	s.scheduler.Shutdown()
	s.scheduler = nil
}

// postEnqueue treats a run still queued from the previous tick as a skip
func (s *service) postEnqueue(info *asynq.TaskInfo, err error) {
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			s.log.WithError(err).Debug("Previous run still queued, skipping tick")
			return
		}

		observability.RecordError("scheduler", "enqueue_error")
		s.log.WithError(err).Warn("Failed to enqueue scheduled run")

		return
	}

	payload, perr := tasks.ParsePipelinePayload(asynq.NewTask(info.Type, info.Payload))
	if perr != nil {
		return
	}

	observability.RecordTaskEnqueued(fmt.Sprintf("%d", payload.EntityTypeID), tasks.TriggerSchedule)
}

var _ Service = (*service)(nil)
