package handlers

import (
	"time"

	"github.com/gofiber/fiber/v3"
)

// ListCheckpoints handles GET /api/v1/checkpoints/:entityTypeId. The
// optional metric and entity queries filter the entries.
func (s *Server) ListCheckpoints(c fiber.Ctx) error {
	if s.deps.Checkpoints == nil {
		return ErrNotConfigured
	}

	id, err := entityTypeID(c)
	if err != nil {
		return err
	}

	entries, err := s.deps.Checkpoints.Entries(c.Context(), id)
	if err != nil {
		return err
	}

	metric, entity := c.Query("metric"), c.Query("entity")

	type entry struct {
		Entity    string `json:"entity,omitempty"`
		Metric    string `json:"metric,omitempty"`
		Timestamp string `json:"timestamp"`
	}

	out := make([]entry, 0, len(entries))

	var lastExecution string

	for _, e := range entries {
		if e.IsSentinel() {
			lastExecution = e.Timestamp.UTC().Format(time.RFC3339)
			continue
		}

		if (metric != "" && e.Key != metric) || (entity != "" && e.EntityID != entity) {
			continue
		}

		out = append(out, entry{Entity: e.EntityID, Metric: e.Key, Timestamp: e.Timestamp.UTC().Format(time.RFC3339)})
	}

	return c.JSON(fiber.Map{
		"last_execution": lastExecution,
		"checkpoints":    out,
		"total":          len(out),
	})
}
