// ABOUTME: Removal paths: direct and delayed cleanup, cleanup of everything, sweeps, and orphan removal.
// ABOUTME: Every path releases the program file before the record, under the registry lock.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/ephemera/internal/agent"
	"github.com/2389/ephemera/internal/program"
	"github.com/2389/ephemera/internal/store"
)

// Cleanup removes the agent. With delay > 0 the removal is scheduled and
// Cleanup returns true if the agent currently exists. With delay == 0 the
// agent is removed now; false means it was absent or its program file could
// not be removed.
func (s *Supervisor) Cleanup(ctx context.Context, id string, delay time.Duration) bool {
	if delay > 0 {
		if !s.registry.Has(id) {
			return false
		}
		s.reaper.RemoveAfter(id, delay)
		s.record(ctx, id, store.EventCleanupScheduled, delay.String())
		return true
	}
	return s.remove(ctx, id)
}

// CleanupAll removes every registered agent and returns how many were
// removed. Agents removed concurrently by the reaper are skipped.
func (s *Supervisor) CleanupAll(ctx context.Context) int {
	removed := 0
	for _, id := range s.registry.IDs() {
		if s.remove(ctx, id) {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("removed all agents", "removed", removed)
	}
	return removed
}

// Sweep reclaims every agent eligible under the inactive timeout. Candidates
// are collected first and each is re-checked under the registry lock before
// removal, so an agent that ran after collection is kept.
func (s *Supervisor) Sweep(ctx context.Context) (int, error) {
	candidates := s.registry.Expired(s.timeout)
	if len(candidates) == 0 {
		return 0, nil
	}

	stillExpired := func(rec agent.Record) bool {
		return rec.Expired(s.registry.Now(), s.timeout)
	}

	var errs []error
	removed := 0
	for _, id := range candidates {
		ok, err := s.registry.Release(id, stillExpired, s.releaseProgram)
		if err != nil {
			errs = append(errs, fmt.Errorf("reclaiming %s: %w", id, err))
			continue
		}
		if ok {
			removed++
			s.logger.Info("reclaimed idle agent", "agent_id", id, "inactive_timeout", s.timeout)
			s.record(ctx, id, store.EventReclaimed, "")
		}
	}
	return removed, errors.Join(errs...)
}

// EnsureCleanup removes every agent, then deletes program files that no
// registered agent owns and stale staging leftovers in the storage directory.
// Each program file is removed under the registry lock only while its id is
// still unregistered, so a concurrent create of the same id keeps its file.
// It returns the total number of agents and files removed.
func (s *Supervisor) EnsureCleanup(ctx context.Context) (int, error) {
	removed := s.CleanupAll(ctx)

	orphans, err := s.storage.Orphans(s.registry.Has, time.Now().Add(-program.StaleStageAge))
	if err != nil {
		return removed, err
	}

	var errs []error
	for _, o := range orphans {
		ok, err := s.removeOrphan(o)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
			s.logger.Info("removed orphaned program file", "path", o.Path)
		}
	}
	return removed, errors.Join(errs...)
}

func (s *Supervisor) removeOrphan(o program.Orphan) (bool, error) {
	if o.Staged {
		return true, s.storage.Remove(o.Path)
	}
	if s.beforeOrphanRemoval != nil {
		s.beforeOrphanRemoval(o.ID)
	}
	return s.registry.ReleaseAbsent(o.ID, func() error {
		return s.storage.Remove(o.Path)
	})
}

// remove releases the program file and then the record for id.
func (s *Supervisor) remove(ctx context.Context, id string) bool {
	ok, err := s.registry.Release(id, nil, s.releaseProgram)
	if err != nil {
		s.logger.Warn("failed to remove agent", "agent_id", id, "error", err)
		return false
	}
	if ok {
		s.logger.Info("agent removed", "agent_id", id)
		s.record(ctx, id, store.EventRemoved, "")
	}
	return ok
}

func (s *Supervisor) releaseProgram(rec agent.Record) error {
	return s.storage.Remove(rec.Location)
}
