package handlers

import "github.com/gofiber/fiber/v3"

var (
	// ErrInvalidEntityTypeID is returned for non numeric entity type ids
	ErrInvalidEntityTypeID = fiber.NewError(fiber.StatusBadRequest, "invalid entity type id")
	// ErrRunNotFound is returned for unknown or expired runs
	ErrRunNotFound = fiber.NewError(fiber.StatusNotFound, "run not found")
	// ErrRunAlreadyQueued is returned when a run of the entity type is pending
	ErrRunAlreadyQueued = fiber.NewError(fiber.StatusConflict, "a run of this entity type is already queued")
	// ErrInvalidRunRequest is returned for malformed trigger bodies
	ErrInvalidRunRequest = fiber.NewError(fiber.StatusBadRequest, "invalid run request")
	// ErrNotConfigured is returned by routes whose backend is not wired
	ErrNotConfigured = fiber.NewError(fiber.StatusServiceUnavailable, "endpoint not configured")
)
