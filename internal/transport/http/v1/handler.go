// Package v1 provides the public run API: run creation and lookup,
// cancellation and the pull, SSE and websocket forms of a run's history.
package v1

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xiaot623/gogo/runstream/internal/config"
	"github.com/xiaot623/gogo/runstream/internal/logging"
	"github.com/xiaot623/gogo/runstream/internal/metrics"
	"github.com/xiaot623/gogo/runstream/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	config   *config.Config
	logger   logging.Logger
	upgrader websocket.Upgrader
	streams  *prometheus.GaugeVec
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, cfg *config.Config, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	streams, err := metrics.Register(prometheus.DefaultRegisterer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "server",
		Name:      "streams_active",
		Help:      "Open run streams, by transport.",
	}, []string{"transport"}))
	if err != nil {
		logger.Warn("stream gauge not registered", "error", err)
		streams = nil
	}
	return &Handler{
		service: svc,
		config:  cfg,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		streams: streams,
	}
}

// RegisterRoutes registers public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Run API
	e.POST("/api/v1/runs", h.CreateRun)
	e.GET("/api/v1/runs/:run_id", h.GetRun)
	e.POST("/api/v1/runs/:run_id/cancel", h.CancelRun)

	// History
	e.GET("/api/v1/runs/:run_id/events", h.GetRunEvents)
	e.GET("/api/v1/runs/:run_id/stream", h.StreamRun)
	e.GET("/api/v1/runs/:run_id/ws", h.StreamRunWS)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func (h *Handler) trackStream(transport string) func() {
	if h.streams == nil {
		return func() {}
	}
	g := h.streams.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}
