// Package internalapi provides the worker-facing run API. Workers append the
// records of the runs they execute here; it is served on the internal port
// only.
package internalapi

import (
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runstream/internal/service"
)

// Handler handles internal HTTP requests from workers.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new internal API handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers internal routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Record ingest
	e.POST("/internal/runs/:run_id/records", h.PublishRecord)
}
