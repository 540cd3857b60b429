// ABOUTME: Agent endpoints: create, run, list, status, history, and cleanup.
// ABOUTME: Request bodies are bound with echo; results go out in the success/error envelope.

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/2389/ephemera/internal/dedupe"
	"github.com/2389/ephemera/internal/program"
)

// CreateRequest is the body of POST /api/create-agent.
type CreateRequest struct {
	Name string        `json:"name"`
	Task *program.Task `json:"task"`
}

// RunRequest is the body of POST /api/run-agent/:id.
type RunRequest struct {
	Args       []any          `json:"args"`
	Kwargs     map[string]any `json:"kwargs"`
	Subprocess bool           `json:"subprocess"`
}

// CleanupRequest is the body of POST /api/cleanup-agent/:id.
type CleanupRequest struct {
	// Delay in seconds; zero removes immediately.
	Delay float64 `json:"delay"`
}

// AgentSummary is one entry of the agent listing.
type AgentSummary struct {
	Status   string  `json:"status"`
	IdleTime float64 `json:"idle_time"`
	TimeLeft float64 `json:"time_left"`
}

// CreateAgent registers a new agent.
// POST /api/create-agent
func (h *Handler) CreateAgent(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Task == nil {
		return failure(c, http.StatusBadRequest, "task is required")
	}

	key := c.Request().Header.Get(HeaderIdempotencyKey)
	if key != "" && h.idem != nil {
		claim := h.idem.Reserve(key)
		switch claim.State {
		case dedupe.Completed:
			c.Response().Header().Set(HeaderIdempotentReplay, "true")
			return success(c, http.StatusOK, fmt.Sprintf("Agent %s created successfully", claim.AgentID),
				echo.Map{"agent_id": claim.AgentID})
		case dedupe.Pending:
			return failure(c, http.StatusConflict, "a request with this idempotency key is in progress")
		}
	}

	id, err := h.svc.CreateTask(ctx, *req.Task, req.Name)
	if err != nil {
		if key != "" && h.idem != nil {
			h.idem.Release(key)
		}
		return h.serviceError(c, "create agent", err)
	}
	if key != "" && h.idem != nil {
		h.idem.Complete(key, id)
	}

	return success(c, http.StatusOK, fmt.Sprintf("Agent %s created successfully", id),
		echo.Map{"agent_id": id})
}

// RunAgent executes an agent in-process or in a child process.
// POST /api/run-agent/:id
func (h *Handler) RunAgent(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "invalid request body")
	}

	if req.Subprocess {
		res, err := h.svc.ExecuteOutOfProcess(ctx, id, req.Args...)
		if err != nil {
			return h.serviceError(c, "run agent process", err)
		}
		return success(c, http.StatusOK, fmt.Sprintf("Agent %s executed successfully", id),
			echo.Map{"result": res})
	}

	result, err := h.svc.Execute(ctx, id, req.Args, req.Kwargs)
	if err != nil {
		return h.serviceError(c, "run agent", err)
	}
	return success(c, http.StatusOK, fmt.Sprintf("Agent %s executed successfully", id),
		echo.Map{"result": jsonSafe(result)})
}

// ListAgents lists every registered agent.
// GET /api/agents
func (h *Handler) ListAgents(c echo.Context) error {
	entries := h.svc.List()

	agents := make(map[string]AgentSummary, len(entries))
	for _, e := range entries {
		agents[e.ID] = AgentSummary{
			Status:   string(e.Status),
			IdleTime: e.Idle.Seconds(),
			TimeLeft: e.Remaining.Seconds(),
		}
	}

	return success(c, http.StatusOK, fmt.Sprintf("%d active agents", len(agents)),
		echo.Map{
			"agents":           agents,
			"inactive_timeout": h.svc.InactiveTimeout().Seconds(),
		})
}

// GetAgent returns one agent's status.
// GET /api/agents/:id
func (h *Handler) GetAgent(c echo.Context) error {
	id := c.Param("id")

	report, err := h.svc.Status(id)
	if err != nil {
		return h.serviceError(c, "get agent", err)
	}
	return success(c, http.StatusOK, fmt.Sprintf("Agent %s is %s", id, report.Status),
		echo.Map{"agent": report})
}

// GetHistory returns the agent's lifecycle events.
// GET /api/agents/:id/history?limit=N
func (h *Handler) GetHistory(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return failure(c, http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	events, err := h.svc.History(ctx, id, limit)
	if err != nil {
		return h.serviceError(c, "get history", err)
	}
	return success(c, http.StatusOK, fmt.Sprintf("%d events", len(events)),
		echo.Map{"events": events})
}

// CleanupAgent removes an agent now or after a delay.
// POST /api/cleanup-agent/:id
func (h *Handler) CleanupAgent(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req CleanupRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Delay < 0 {
		return failure(c, http.StatusBadRequest, "delay must not be negative")
	}
	delay := time.Duration(req.Delay * float64(time.Second))

	if h.svc.Cleanup(ctx, id, delay) {
		verb := "completed"
		if delay > 0 {
			verb = "scheduled"
		}
		return success(c, http.StatusOK, fmt.Sprintf("Agent %s cleanup %s", id, verb), nil)
	}

	if _, err := h.svc.Status(id); err != nil {
		return h.serviceError(c, "cleanup agent", err)
	}
	return failure(c, http.StatusInternalServerError, fmt.Sprintf("Failed to clean up agent %s", id))
}

// CheckCleanup runs a reclamation sweep now.
// POST /api/check-cleanup
func (h *Handler) CheckCleanup(c echo.Context) error {
	ctx := c.Request().Context()

	removed, err := h.svc.Sweep(ctx)
	if err != nil {
		h.logger.Warn("manual sweep had failures", "error", err, "removed", removed)
	}

	entries := h.svc.List()
	remaining := make([]string, len(entries))
	for i, e := range entries {
		remaining[i] = e.ID
	}

	fields := echo.Map{"removed": removed, "remaining_agents": remaining}
	if err != nil {
		fields["errors"] = err.Error()
	}
	return success(c, http.StatusOK, "Cleanup check triggered", fields)
}

// EnsureCleanup removes every agent and orphaned program file.
// POST /api/ensure-cleanup
func (h *Handler) EnsureCleanup(c echo.Context) error {
	ctx := c.Request().Context()

	removed, err := h.svc.EnsureCleanup(ctx)
	if err != nil {
		h.logger.Error("ensure cleanup incomplete", "error", err, "removed", removed)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"status":  statusError,
			"message": err.Error(),
			"removed": removed,
		})
	}
	return success(c, http.StatusOK, fmt.Sprintf("Cleanup complete, removed %d files", removed),
		echo.Map{"removed": removed})
}
