// ABOUTME: Supervisor wiring registry, storage, executors, reaper, and ledger together.
// ABOUTME: Construction, timer start/stop, and the shutdown hook live here.

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/ephemera/internal/agent"
	"github.com/2389/ephemera/internal/executor"
	"github.com/2389/ephemera/internal/program"
	"github.com/2389/ephemera/internal/reaper"
	"github.com/2389/ephemera/internal/store"
)

// Options configures a Supervisor.
type Options struct {
	// Dir is where program files are stored. Required.
	Dir string
	// Extension of stored program files. Defaults to ".go".
	Extension string

	// InactiveTimeout is how long an agent may stay idle before the sweep
	// reclaims it. Zero reclaims completed and errored agents on the next
	// sweep and any other agent once it has been idle at all.
	InactiveTimeout time.Duration
	// SweepInterval is the reaper period. Defaults to reaper.DefaultInterval.
	SweepInterval time.Duration

	// Loader loads programs for in-process execution. Defaults to the yaegi
	// interpreter.
	Loader executor.Loader
	// EntryPoint is the symbol invoked in-process. Defaults to "Main".
	EntryPoint string
	// Command is the out-of-process command prefix. Defaults to this
	// binary's exec subcommand.
	Command []string
	// Env is appended to the environment of spawned agents.
	Env []string

	// Ledger records lifecycle events when non-nil.
	Ledger store.Ledger
	// OnTimerState is called when the reaper is armed or stopped.
	OnTimerState func(reaper.State)

	Logger *slog.Logger
	// Clock replaces time.Now for idle-time computations.
	Clock func() time.Time
}

// Supervisor manages registered agents.
type Supervisor struct {
	registry *agent.Registry
	storage  *program.Storage
	inproc   *executor.InProcess
	subproc  *executor.Subprocess
	reaper   *reaper.Reaper
	ledger   store.Ledger
	timeout  time.Duration
	logger   *slog.Logger

	// beforeOrphanRemoval runs between listing an orphan and removing it.
	beforeOrphanRemoval func(id string)
}

// New creates a Supervisor. The reaper is not started until Start.
func New(opts Options) (*Supervisor, error) {
	if opts.InactiveTimeout < 0 {
		return nil, fmt.Errorf("inactive timeout must not be negative: %s", opts.InactiveTimeout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	storage, err := program.NewStorage(opts.Dir, opts.Extension, logger)
	if err != nil {
		return nil, err
	}

	loader := opts.Loader
	if loader == nil {
		loader = &executor.Interpreter{}
	}

	command := opts.Command
	if len(command) == 0 {
		command, err = executor.SelfCommand()
		if err != nil {
			return nil, err
		}
	}
	subproc, err := executor.NewSubprocess(command, opts.Env, logger)
	if err != nil {
		return nil, err
	}

	regOpts := []agent.RegistryOption{agent.WithLogger(logger)}
	if opts.Clock != nil {
		regOpts = append(regOpts, agent.WithClock(opts.Clock))
	}

	s := &Supervisor{
		registry: agent.NewRegistry(regOpts...),
		storage:  storage,
		inproc:   executor.NewInProcess(loader, opts.EntryPoint, logger),
		subproc:  subproc,
		ledger:   opts.Ledger,
		timeout:  opts.InactiveTimeout,
		logger:   logger.With("component", "supervisor"),
	}

	reaperOpts := []reaper.Option{reaper.WithLogger(logger)}
	if opts.OnTimerState != nil {
		reaperOpts = append(reaperOpts, reaper.WithStateHook(opts.OnTimerState))
	}
	s.reaper = reaper.New(opts.SweepInterval, s.Sweep, func(ctx context.Context, id string) bool {
		return s.remove(ctx, id)
	}, reaperOpts...)

	s.logger.Info("supervisor ready",
		"dir", storage.Dir(),
		"inactive_timeout", s.timeout,
		"sweep_interval", s.reaper.Interval(),
		"entry_point", s.inproc.EntryPoint(),
	)
	return s, nil
}

// Start arms the periodic sweep. It returns false if it was already armed.
func (s *Supervisor) Start(ctx context.Context) bool {
	return s.reaper.Start(ctx)
}

// Close stops the periodic sweep and pending delayed removals, then removes
// every remaining agent. It returns how many agents were removed.
func (s *Supervisor) Close(ctx context.Context) int {
	s.reaper.Stop()
	n := s.CleanupAll(ctx)
	s.logger.Info("supervisor closed", "removed", n, "remaining", s.registry.Len())
	return n
}

// TimerState returns the reaper state.
func (s *Supervisor) TimerState() reaper.State {
	return s.reaper.State()
}

// InactiveTimeout returns the configured idle timeout.
func (s *Supervisor) InactiveTimeout() time.Duration {
	return s.timeout
}

// Dir returns the program storage directory.
func (s *Supervisor) Dir() string {
	return s.storage.Dir()
}

// History returns the ledger events recorded for id, oldest first.
// Without a ledger it returns no events.
func (s *Supervisor) History(ctx context.Context, id string, limit int) ([]store.AgentEvent, error) {
	if s.ledger == nil {
		return nil, nil
	}
	return s.ledger.ListEvents(ctx, store.ListParams{AgentID: id, Limit: limit})
}

func (s *Supervisor) record(ctx context.Context, id string, kind store.EventKind, detail string) {
	if s.ledger == nil {
		return
	}
	ev := &store.AgentEvent{
		AgentID:   id,
		Kind:      kind,
		Detail:    detail,
		Timestamp: s.registry.Now(),
	}
	if err := s.ledger.SaveEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("failed to record lifecycle event", "agent_id", id, "kind", kind, "error", err)
	}
}
