package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/ethpandaops/kpt/pkg/admin"
	"github.com/ethpandaops/kpt/pkg/tasks"
	"github.com/gofiber/fiber/v3"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

// RunRequest is the optional body of POST /runs/:entityTypeId
type RunRequest struct {
	Force    bool       `json:"force"`
	Entities []string   `json:"entities"`
	Start    *time.Time `json:"start"`
	End      *time.Time `json:"end"`
}

// ListRuns handles GET /api/v1/runs/:entityTypeId
func (s *Server) ListRuns(c fiber.Ctx) error {
	if s.deps.Runs == nil {
		return ErrNotConfigured
	}

	id, err := entityTypeID(c)
	if err != nil {
		return err
	}

	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultRunLimit)))
	if err != nil || limit <= 0 || limit > maxRunLimit {
		limit = defaultRunLimit
	}

	runs, err := s.deps.Runs.Recent(c.Context(), id, int64(limit))
	if err != nil {
		s.log.WithError(err).WithField("entity_type_id", id).Error("Failed to list runs")
		return err
	}

	return c.JSON(fiber.Map{
		"runs":  runs,
		"total": len(runs),
	})
}

// GetRun handles GET /api/v1/runs/:entityTypeId/:runId
func (s *Server) GetRun(c fiber.Ctx) error {
	if s.deps.Runs == nil {
		return ErrNotConfigured
	}

	id, err := entityTypeID(c)
	if err != nil {
		return err
	}

	run, err := s.deps.Runs.Get(c.Context(), c.Params("runId"))
	if err != nil {
		if errors.Is(err, admin.ErrRunNotFound) {
			return ErrRunNotFound
		}

		return err
	}

	if run.EntityTypeID != id {
		return ErrRunNotFound
	}

	return c.JSON(run)
}

// TriggerRun handles POST /api/v1/runs/:entityTypeId
func (s *Server) TriggerRun(c fiber.Ctx) error {
	if s.deps.Queue == nil {
		return ErrNotConfigured
	}

	id, err := entityTypeID(c)
	if err != nil {
		return err
	}

	var req RunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return ErrInvalidRunRequest
		}
	}

	if req.Start != nil && req.End != nil && !req.Start.Before(*req.End) {
		return ErrInvalidRunRequest
	}

	info, err := s.deps.Queue.EnqueuePipeline(tasks.PipelinePayload{
		Tenant:       s.deps.Tenant,
		EntityTypeID: id,
		Force:        req.Force,
		Entities:     req.Entities,
		Start:        req.Start,
		End:          req.End,
		Trigger:      tasks.TriggerAPI,
	})
	if err != nil {
		if errors.Is(err, tasks.ErrAlreadyQueued) {
			return ErrRunAlreadyQueued
		}

		s.log.WithError(err).WithField("entity_type_id", id).Error("Failed to enqueue run")

		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"task_id": info.ID,
		"queue":   info.Queue,
	})
}
