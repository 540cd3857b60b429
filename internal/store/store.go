// ABOUTME: Ledger interface and lifecycle event types for the agent audit trail
// ABOUTME: Shared by the SQLite and in-memory implementations

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEvent is returned when an event is missing required fields.
var ErrInvalidEvent = errors.New("invalid event")

// EventKind categorizes a lifecycle event.
type EventKind string

const (
	EventCreated          EventKind = "created"
	EventExecuted         EventKind = "executed"
	EventFailed           EventKind = "failed"
	EventSpawned          EventKind = "spawned"
	EventCleanupScheduled EventKind = "cleanup_scheduled"
	EventRemoved          EventKind = "removed"
	EventReclaimed        EventKind = "reclaimed"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventCreated, EventExecuted, EventFailed, EventSpawned,
		EventCleanupScheduled, EventRemoved, EventReclaimed:
		return true
	}
	return false
}

// AgentEvent is one entry in the lifecycle ledger.
type AgentEvent struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Kind      EventKind `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ListParams selects events from the ledger.
type ListParams struct {
	AgentID string     // Optional: only events for this agent
	Kind    EventKind  // Optional: only events of this kind
	Since   *time.Time // Optional: only events at or after this time
	Limit   int        // 1-500, defaults to 50
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

func (p ListParams) limit() int {
	switch {
	case p.Limit <= 0:
		return defaultLimit
	case p.Limit > maxLimit:
		return maxLimit
	default:
		return p.Limit
	}
}

// Ledger stores and queries lifecycle events.
type Ledger interface {
	SaveEvent(ctx context.Context, event *AgentEvent) error
	ListEvents(ctx context.Context, params ListParams) ([]AgentEvent, error)
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

var (
	_ Ledger = (*SQLiteStore)(nil)
	_ Ledger = (*MockStore)(nil)
)

// prepare fills in a missing id and timestamp and validates the event.
func prepare(event *AgentEvent) error {
	if event.AgentID == "" {
		return fmt.Errorf("%w: agent id is required", ErrInvalidEvent)
	}
	if !event.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, event.Kind)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()
	return nil
}
