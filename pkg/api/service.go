package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ethpandaops/kpt/pkg/api/handlers"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// Service defines the API service interface
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type service struct {
	app    *fiber.App
	config *Config
	deps   handlers.Dependencies
	log    logrus.FieldLogger
	done   chan struct{}
}

// NewService creates the API service
func NewService(log logrus.FieldLogger, cfg *Config, deps handlers.Dependencies) Service {
	return &service{
		config: cfg,
		deps:   deps,
		log:    log.WithField("service", "api"),
	}
}

// NewApp builds the fiber app with every route registered
func NewApp(log logrus.FieldLogger, deps handlers.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		AppName:      "kpt API",
	})

	setupMiddleware(app, log)

	server := handlers.NewServer(log, deps)

	app.Get("/healthz", server.Healthz)
	server.Register(app.Group("/api/v1"))

	return app
}

// Start listens on the configured address in the background
func (s *service) Start(_ context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API service is disabled")
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.app = NewApp(s.log, s.deps)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.log.WithField("addr", s.config.Addr).Info("Starting API server")

		if err := s.app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true}); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.WithError(err).Error("API server stopped with error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server
func (s *service) Stop() error {
	if s.app == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	<-s.done

	return nil
}
