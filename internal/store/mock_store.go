// ABOUTME: In-memory Ledger implementation
// ABOUTME: Used by tests and embedders that do not need persistence

package store

import (
	"context"
	"sync"
	"time"
)

// MockStore is an in-memory Ledger.
type MockStore struct {
	mu     sync.RWMutex
	events []AgentEvent
	closed bool
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// SaveEvent appends a copy of event.
func (m *MockStore) SaveEvent(ctx context.Context, event *AgentEvent) error {
	if err := prepare(event); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

// ListEvents returns events matching params in insertion order.
func (m *MockStore) ListEvents(ctx context.Context, params ListParams) ([]AgentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := params.limit()
	var out []AgentEvent
	for _, ev := range m.events {
		if params.AgentID != "" && ev.AgentID != params.AgentID {
			continue
		}
		if params.Kind != "" && ev.Kind != params.Kind {
			continue
		}
		if params.Since != nil && ev.Timestamp.Before(*params.Since) {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// PruneEvents drops events older than before.
func (m *MockStore) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[:0]
	var n int64
	for _, ev := range m.events {
		if ev.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return n, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored events.
func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
