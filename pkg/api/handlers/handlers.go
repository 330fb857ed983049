// Package handlers implements the status and trigger endpoints of the API
package handlers

import (
	"context"
	"strconv"

	"github.com/ethpandaops/kpt/pkg/admin"
	"github.com/ethpandaops/kpt/pkg/checkpoint"
	"github.com/ethpandaops/kpt/pkg/dependencies"
	"github.com/ethpandaops/kpt/pkg/tasks"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// RunStore reads the execution log
type RunStore interface {
	Get(ctx context.Context, id string) (*admin.Run, error)
	Recent(ctx context.Context, entityTypeID int, n int64) ([]*admin.Run, error)
}

// CheckpointReader reads stored checkpoints
type CheckpointReader interface {
	Entries(ctx context.Context, entityTypeID int) ([]checkpoint.Entry, error)
}

// TreeBuilder builds the KPI tree of an entity type
type TreeBuilder interface {
	Tree(ctx context.Context, tenant string, entityTypeID int) (*dependencies.Result, error)
}

// Dependencies are the backends served by the API. Nil members disable their routes.
type Dependencies struct {
	Tenant      string
	Runs        RunStore
	Checkpoints CheckpointReader
	Queue       tasks.Enqueuer
	Trees       TreeBuilder
}

// Server holds the request handlers
type Server struct {
	deps Dependencies
	log  logrus.FieldLogger
}

// NewServer creates a new API server instance
func NewServer(log logrus.FieldLogger, deps Dependencies) *Server {
	return &Server{
		deps: deps,
		log:  log.WithField("component", "api.handlers"),
	}
}

// Register mounts every route on router
func (s *Server) Register(router fiber.Router) {
	router.Get("/runs/:entityTypeId", s.ListRuns)
	router.Get("/runs/:entityTypeId/:runId", s.GetRun)
	router.Post("/runs/:entityTypeId", s.TriggerRun)
	router.Get("/checkpoints/:entityTypeId", s.ListCheckpoints)
	router.Get("/tree/:entityTypeId", s.GetTree)
}

// Healthz handles GET /healthz
func (s *Server) Healthz(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func entityTypeID(c fiber.Ctx) (int, error) {
	id, err := strconv.Atoi(c.Params("entityTypeId"))
	if err != nil || id <= 0 {
		return 0, ErrInvalidEntityTypeID
	}

	return id, nil
}
