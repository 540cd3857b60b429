// ABOUTME: Periodic sweeper with Idle/Armed/Firing states and one-shot delayed removals.
// ABOUTME: Recovers panics from sweeps so the next tick always fires.

package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the sweep period used when none is given.
const DefaultInterval = 2 * time.Second

// State is the reaper's lifecycle state.
type State int

const (
	Idle State = iota
	Armed
	Firing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Firing:
		return "firing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SweepFunc reclaims eligible agents and returns how many were removed.
type SweepFunc func(ctx context.Context) (int, error)

// RemoveFunc removes a single agent and reports whether it was removed.
type RemoveFunc func(ctx context.Context, id string) bool

// Option configures a Reaper.
type Option func(*Reaper)

// WithLogger sets the reaper logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reaper) {
		r.logger = logger
	}
}

// WithStateHook registers fn to be called when the reaper is armed by Start
// or returned to Idle by Stop. fn must not call back into the Reaper.
func WithStateHook(fn func(State)) Option {
	return func(r *Reaper) {
		r.hook = fn
	}
}

type pendingRemoval struct {
	timer *time.Timer
}

// Reaper drives periodic sweeps and delayed removals.
type Reaper struct {
	interval time.Duration
	sweep    SweepFunc
	remove   RemoveFunc
	logger   *slog.Logger
	hook     func(State)

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	pending map[string]*pendingRemoval
}

// New creates an idle Reaper. remove may be nil if RemoveAfter is never used.
func New(interval time.Duration, sweep SweepFunc, remove RemoveFunc, opts ...Option) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Reaper{
		interval: interval,
		sweep:    sweep,
		remove:   remove,
		logger:   slog.Default(),
		pending:  make(map[string]*pendingRemoval),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reaper")
	return r
}

// Interval returns the sweep period.
func (r *Reaper) Interval() time.Duration {
	return r.interval
}

// State returns the current state.
func (r *Reaper) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start arms the periodic sweep. It returns false without doing anything if
// the reaper is already armed. The sweep loop ends when ctx is cancelled or
// Stop is called.
func (r *Reaper) Start(ctx context.Context) bool {
	r.mu.Lock()
	if r.state != Idle {
		r.mu.Unlock()
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.state = Armed
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.run(loopCtx, done)

	r.logger.Info("reaper armed", "interval", r.interval)
	r.notify(Armed)
	return true
}

// Stop disarms the periodic sweep, cancels pending delayed removals, and
// waits for an in-flight sweep to return.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	wasArmed := r.state != Idle
	r.state = Idle
	r.cancel = nil
	r.done = nil

	cancelled := len(r.pending)
	for id, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if wasArmed {
		r.logger.Info("reaper stopped", "cancelled_removals", cancelled)
		r.notify(Idle)
	}
}

func (r *Reaper) notify(s State) {
	if r.hook != nil {
		r.hook(s)
	}
}

func (r *Reaper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer r.disarm(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.fire(ctx)
		}
	}
}

// disarm returns the reaper to Idle when its loop ends on context
// cancellation rather than through Stop.
func (r *Reaper) disarm(done chan struct{}) {
	r.mu.Lock()
	if r.done != done {
		r.mu.Unlock()
		return
	}
	r.state = Idle
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	r.logger.Info("reaper disarmed by context cancellation")
	r.notify(Idle)
}

// fire runs one sweep if the reaper is armed.
func (r *Reaper) fire(ctx context.Context) {
	r.mu.Lock()
	if r.state != Armed {
		r.mu.Unlock()
		return
	}
	r.state = Firing
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.state == Firing {
			r.state = Armed
		}
		r.mu.Unlock()
	}()

	start := time.Now()
	removed, err := r.safeSweep(ctx)
	if err != nil {
		r.logger.Error("sweep failed", "error", err, "removed", removed)
		return
	}
	if removed > 0 {
		r.logger.Info("sweep reclaimed agents", "removed", removed, "duration", time.Since(start))
	}
}

func (r *Reaper) safeSweep(ctx context.Context) (removed int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sweep panicked: %v", p)
		}
	}()
	return r.sweep(ctx)
}

// RemoveAfter schedules a one-shot removal of id after delay, replacing any
// removal already pending for id.
func (r *Reaper) RemoveAfter(id string, delay time.Duration) {
	p := &pendingRemoval{}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.pending[id]; ok {
		prev.timer.Stop()
	}
	r.pending[id] = p
	p.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		if r.pending[id] != p {
			// Replaced or cancelled by Stop.
			r.mu.Unlock()
			return
		}
		delete(r.pending, id)
		r.mu.Unlock()

		r.runRemoval(id)
	})

	r.logger.Debug("scheduled delayed removal", "agent_id", id, "delay", delay)
}

func (r *Reaper) runRemoval(id string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("delayed removal panicked", "agent_id", id, "panic", p)
		}
	}()
	if r.remove == nil {
		return
	}
	if !r.remove(context.Background(), id) {
		r.logger.Debug("delayed removal found nothing to remove", "agent_id", id)
	}
}

// Pending returns the number of scheduled delayed removals.
func (r *Reaper) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
