package handlers

import (
	"github.com/ethpandaops/kpt/pkg/dependencies"
	"github.com/gofiber/fiber/v3"
)

// GetTree handles GET /api/v1/tree/:entityTypeId
func (s *Server) GetTree(c fiber.Ctx) error {
	if s.deps.Trees == nil {
		return ErrNotConfigured
	}

	id, err := entityTypeID(c)
	if err != nil {
		return err
	}

	res, err := s.deps.Trees.Tree(c.Context(), s.deps.Tenant, id)
	if err != nil {
		return err
	}

	if c.Query("format") == "dot" {
		c.Set(fiber.HeaderContentType, "text/vnd.graphviz")
		return c.SendString(dependencies.GenerateDOTFormat(res))
	}

	return c.JSON(dependencies.GetTreeInfo(res))
}
