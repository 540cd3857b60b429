// ABOUTME: Thread-safe registry mapping agent ids to their records.
// ABOUTME: One RWMutex serializes mutations; snapshots and lookups share the read lock.

package agent

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry tracks every registered agent.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
	logger  *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock replaces time.Now as the registry's time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		records: make(map[string]*Record),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Insert registers a new agent with status created.
// Returns ErrDuplicateID if the id is already present.
func (r *Registry) Insert(id, location string) (Record, error) {
	return r.InsertFunc(id, location, nil)
}

// InsertFunc registers a new agent, running commit under the write lock
// after the duplicate check. The record is inserted only if commit succeeds,
// which lets callers move the program into place atomically with respect to
// every other registry operation.
func (r *Registry) InsertFunc(id, location string, commit func() error) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[id]; exists {
		return Record{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	if commit != nil {
		if err := commit(); err != nil {
			return Record{}, err
		}
	}

	now := r.now()
	rec := &Record{
		ID:         id,
		Location:   location,
		Status:     StatusCreated,
		LastActive: now,
		CreatedAt:  now,
	}
	r.records[id] = rec

	r.logger.Debug("agent registered", "agent_id", id, "total_agents", len(r.records))
	return *rec, nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *rec, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Update applies fn to the record for id and reports whether it was present.
// Updates for removed ids are dropped.
func (r *Registry) Update(id string, fn func(rec *Record)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	fn(rec)
	// Identity and ownership of the program are fixed at insert.
	rec.ID = id
	return true
}

// Touch refreshes the record's last-activity timestamp.
func (r *Registry) Touch(id string) bool {
	now := r.now()
	return r.Update(id, func(rec *Record) {
		rec.LastActive = now
	})
}

// Remove deletes the record for id. Removing an absent id returns false.
func (r *Registry) Remove(id string) bool {
	ok, _ := r.Release(id, nil, nil)
	return ok
}

// Release removes the record for id if cond (when non-nil) still holds,
// running release (when non-nil) first. Both happen under the write lock, so
// no other operation can observe the record after its resource is gone or
// race a second release of the same id. If release fails the record stays
// registered and the error is returned.
func (r *Registry) Release(id string, cond func(Record) bool, release func(Record) error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false, nil
	}
	if cond != nil && !cond(*rec) {
		return false, nil
	}
	if release != nil {
		if err := release(*rec); err != nil {
			return false, err
		}
	}

	delete(r.records, id)
	r.logger.Debug("agent unregistered", "agent_id", id, "total_agents", len(r.records))
	return true, nil
}

// ReleaseAbsent runs release under the write lock only if id is not
// registered, and reports whether it ran. An insert of id cannot interleave
// with release.
func (r *Registry) ReleaseAbsent(id string, release func() error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; ok {
		return false, nil
	}
	if err := release(); err != nil {
		return false, err
	}
	return true, nil
}

// Expired returns the ids eligible for reclamation at the current time.
// The returned ids are only candidates: callers removing them should re-check
// eligibility through Release.
func (r *Registry) Expired(timeout time.Duration) []string {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, rec := range r.records {
		if rec.Expired(now, timeout) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns the idle time and remaining lifetime of every agent,
// computed from the clock at call time.
func (r *Registry) Snapshot(timeout time.Duration) []Entry {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.records))
	for id, rec := range r.records {
		idle := rec.Idle(now)
		remaining := timeout - idle
		if remaining < 0 {
			remaining = 0
		}
		entries = append(entries, Entry{
			ID:        id,
			Status:    rec.Status,
			Idle:      idle,
			Remaining: remaining,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}
