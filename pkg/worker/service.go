// Package worker executes queued pipeline runs
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethpandaops/kpt/pkg/tasks"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Service defines the public interface for the worker service
type Service interface {
	// Start initializes and starts the worker service
	Start(ctx context.Context) error

	// Stop gracefully shuts down the worker service
	Stop() error
}

type service struct {
	config *Config
	log    logrus.FieldLogger

	wg sync.WaitGroup

	runner   tasks.Runner
	redisOpt *asynq.RedisClientOpt

	server *asynq.Server
}

// NewService creates a worker consuming pipeline:run tasks
func NewService(log logrus.FieldLogger, cfg *Config, redisOpt *asynq.RedisClientOpt, runner tasks.Runner) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &service{
		log:      log.WithField("service", "worker"),
		config:   cfg,
		runner:   runner,
		redisOpt: redisOpt,
	}, nil
}

// NewServeMux routes every task type to its handler
func NewServeMux(log logrus.FieldLogger, runner tasks.Runner) *asynq.ServeMux {
	handler := tasks.NewTaskHandler(log, runner)

	mux := asynq.NewServeMux()
	for taskType, handlerFunc := range handler.Routes() {
		mux.HandleFunc(taskType, handlerFunc)
	}

	return mux
}

// Start initializes and starts the worker service
func (s *service) Start(_ context.Context) error {
	srv := asynq.NewServer(*s.redisOpt, asynq.Config{
		Concurrency:     s.config.Concurrency,
		Queues:          map[string]int{tasks.QueueName: 10},
		ShutdownTimeout: s.config.ShutdownTimeout,
		Logger:          &asynqLogger{log: s.log},
	})

	mux := NewServeMux(s.log, s.runner)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if runErr := srv.Run(mux); runErr != nil {
			s.log.WithError(runErr).Error("Worker server stopped with error")
		}
	}()

	s.server = srv

	s.log.WithField("concurrency", s.config.Concurrency).Info("Worker service started successfully")

	return nil
}

// Stop gracefully shuts down the worker service
func (s *service) Stop() error {
	if s.server != nil {
		s.server.Shutdown()
	}

	s.wg.Wait()

	s.log.Info("Worker service stopped successfully")

	return nil
}

// asynqLogger routes asynq's internal logging through logrus
type asynqLogger struct {
	log logrus.FieldLogger
}

func (l *asynqLogger) Debug(args ...any) { l.log.Debug(args...) }
func (l *asynqLogger) Info(args ...any)  { l.log.Info(args...) }
func (l *asynqLogger) Warn(args ...any)  { l.log.Warn(args...) }
func (l *asynqLogger) Error(args ...any) { l.log.Error(args...) }
func (l *asynqLogger) Fatal(args ...any) { l.log.Fatal(args...) }

var _ Service = (*service)(nil)
