// ABOUTME: Echo handler wiring for the agent API: service interface, routes, and response envelope.
// ABOUTME: Maps the agent error taxonomy onto HTTP status codes.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/2389/ephemera/internal/agent"
	"github.com/2389/ephemera/internal/dedupe"
	"github.com/2389/ephemera/internal/executor"
	"github.com/2389/ephemera/internal/program"
	"github.com/2389/ephemera/internal/reaper"
	"github.com/2389/ephemera/internal/store"
	"github.com/2389/ephemera/internal/supervisor"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	// HeaderIdempotencyKey names the request header used to dedupe creates.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay is set on responses served from the idempotency cache.
	HeaderIdempotentReplay = "Idempotent-Replayed"
)

// Service is the supervisor surface the API needs.
type Service interface {
	CreateTask(ctx context.Context, task program.Task, name string) (string, error)
	Execute(ctx context.Context, id string, args []any, kwargs map[string]any) (any, error)
	ExecuteOutOfProcess(ctx context.Context, id string, args ...any) (executor.Result, error)
	Cleanup(ctx context.Context, id string, delay time.Duration) bool
	Sweep(ctx context.Context) (int, error)
	EnsureCleanup(ctx context.Context) (int, error)
	Status(id string) (supervisor.Report, error)
	List() []agent.Entry
	History(ctx context.Context, id string, limit int) ([]store.AgentEvent, error)
	TimerState() reaper.State
	InactiveTimeout() time.Duration
}

var _ Service = (*supervisor.Supervisor)(nil)

// Handler handles HTTP requests.
type Handler struct {
	svc    Service
	idem   *dedupe.Cache
	logger *slog.Logger
}

// NewHandler creates a new handler. idem may be nil to disable
// Idempotency-Key support.
func NewHandler(svc Service, idem *dedupe.Cache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:    svc,
		idem:   idem,
		logger: logger.With("component", "api"),
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")
	api.POST("/create-agent", h.CreateAgent)
	api.POST("/run-agent/:id", h.RunAgent)
	api.GET("/agents", h.ListAgents)
	api.GET("/agents/:id", h.GetAgent)
	api.GET("/agents/:id/history", h.GetHistory)
	api.POST("/cleanup-agent/:id", h.CleanupAgent)
	api.POST("/check-cleanup", h.CheckCleanup)
	api.POST("/ensure-cleanup", h.EnsureCleanup)

	e.GET("/", h.Index)
	e.GET("/health", h.Health)
	e.GET("/health/ready", h.Ready)
}

// IsPublic reports whether the request path bypasses authentication.
func IsPublic(c echo.Context) bool {
	switch c.Path() {
	case "/health", "/health/ready":
		return true
	}
	return false
}

// Health returns liveness.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status": "healthy",
		"timer":  h.svc.TimerState().String(),
	})
}

// Ready reports whether the reclamation timer is armed.
// GET /health/ready
func (h *Handler) Ready(c echo.Context) error {
	state := h.svc.TimerState()
	if state == reaper.Idle {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"status": "not_ready",
			"timer":  state.String(),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status": "ready",
		"timer":  state.String(),
	})
}

func success(c echo.Context, code int, message string, fields echo.Map) error {
	body := echo.Map{"status": statusSuccess, "message": message}
	for k, v := range fields {
		body[k] = v
	}
	return c.JSON(code, body)
}

func failure(c echo.Context, code int, message string) error {
	return c.JSON(code, echo.Map{"status": statusError, "message": message})
}

// statusFor maps an error from the service onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, agent.ErrInvalidID), errors.Is(err, program.ErrInvalidTask):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) serviceError(c echo.Context, op string, err error) error {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", "error", err, "path", c.Request().URL.Path)
	} else {
		h.logger.Debug(op+" rejected", "error", err, "status", code)
	}
	return failure(c, code, err.Error())
}

// jsonSafe returns v if it encodes as JSON and its fmt representation otherwise.
func jsonSafe(v any) any {
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}
