// ABOUTME: Create, execute, status, and listing operations on supervised agents.
// ABOUTME: Execution outcomes are written back to the registry unless the agent was removed meanwhile.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/ephemera/internal/agent"
	"github.com/2389/ephemera/internal/executor"
	"github.com/2389/ephemera/internal/program"
	"github.com/2389/ephemera/internal/store"
)

// generateAttempts bounds retries when a generated id collides.
const generateAttempts = 5

// Report is a status snapshot of one agent.
type Report struct {
	agent.Record
	// Exists reports whether the program file is still on disk.
	Exists bool `json:"exists"`
}

// Create stores text as a new agent program and registers it. An empty name
// generates an id. Returns agent.ErrDuplicateID if name is taken,
// agent.ErrInvalidID if it cannot name a file, or agent.ErrResource if the
// program cannot be written.
func (s *Supervisor) Create(ctx context.Context, text, name string) (string, error) {
	if name != "" {
		if err := agent.ValidateID(name); err != nil {
			return "", err
		}
		if err := s.create(ctx, name, text); err != nil {
			return "", err
		}
		return name, nil
	}

	var err error
	for range generateAttempts {
		id := agent.NewID()
		err = s.create(ctx, id, text)
		if !errors.Is(err, agent.ErrDuplicateID) {
			if err != nil {
				return "", err
			}
			return id, nil
		}
	}
	return "", err
}

// CreateTask resolves task into program text and registers it.
func (s *Supervisor) CreateTask(ctx context.Context, task program.Task, name string) (string, error) {
	text, err := task.Resolve()
	if err != nil {
		return "", err
	}
	return s.Create(ctx, text, name)
}

func (s *Supervisor) create(ctx context.Context, id, text string) error {
	if s.registry.Has(id) {
		return fmt.Errorf("%w: %s", agent.ErrDuplicateID, id)
	}

	staged, err := s.storage.Stage(id, text)
	if err != nil {
		return err
	}

	// The file is renamed into place only after the duplicate check, under
	// the registry lock, so a racing create never overwrites a live program.
	if _, err := s.registry.InsertFunc(id, staged.Path(), staged.Commit); err != nil {
		staged.Discard()
		return err
	}

	s.logger.Info("agent created", "agent_id", id, "path", staged.Path(), "bytes", len(text))
	s.record(ctx, id, store.EventCreated, "")
	return nil
}

// Execute runs the agent's entry point in-process and returns its result.
// The record ends completed on success or error with LastError set; the error
// is returned to the caller either way.
func (s *Supervisor) Execute(ctx context.Context, id string, args []any, kwargs map[string]any) (any, error) {
	rec, err := s.begin(id)
	if err != nil {
		return nil, err
	}

	result, runErr := s.inproc.Run(rec.Location, args, kwargs)

	s.finish(id, runErr)
	if runErr != nil {
		s.logger.Warn("agent execution failed", "agent_id", id, "error", runErr)
		s.record(ctx, id, store.EventFailed, runErr.Error())
		return nil, runErr
	}

	s.logger.Debug("agent executed", "agent_id", id)
	s.record(ctx, id, store.EventExecuted, "in-process")
	return result, nil
}

// ExecuteOutOfProcess runs the agent in a child process. A non-zero exit is
// reported in the Result and recorded as an error status with stderr as
// LastError, but is not returned as an error. Only a failure to spawn returns
// an error.
func (s *Supervisor) ExecuteOutOfProcess(ctx context.Context, id string, args ...any) (executor.Result, error) {
	rec, err := s.begin(id)
	if err != nil {
		return executor.Result{}, err
	}

	res, runErr := s.subproc.Run(rec.Location, args)

	outcome := runErr
	if outcome == nil && !res.Success() {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		outcome = errors.New(detail)
	}
	s.finish(id, outcome)

	if runErr != nil {
		s.logger.Warn("agent process failed to start", "agent_id", id, "error", runErr)
		s.record(ctx, id, store.EventFailed, runErr.Error())
		return res, runErr
	}

	s.logger.Debug("agent process exited", "agent_id", id, "returncode", res.ExitCode)
	s.record(ctx, id, store.EventSpawned, fmt.Sprintf("returncode=%d", res.ExitCode))
	return res, nil
}

// begin copies the record and marks it running. The error of an earlier run
// is cleared since LastError is only kept alongside StatusError.
func (s *Supervisor) begin(id string) (agent.Record, error) {
	rec, err := s.registry.Get(id)
	if err != nil {
		return agent.Record{}, err
	}
	s.registry.Update(id, func(r *agent.Record) {
		r.Status = agent.StatusRunning
		r.LastError = ""
	})
	return rec, nil
}

// finish stores the execution outcome and refreshes LastActive. The update is
// dropped if the agent was removed while it ran.
func (s *Supervisor) finish(id string, outcome error) {
	now := s.registry.Now()
	ok := s.registry.Update(id, func(r *agent.Record) {
		r.LastActive = now
		if outcome != nil {
			r.Status = agent.StatusError
			r.LastError = outcome.Error()
			return
		}
		r.Status = agent.StatusCompleted
		r.LastError = ""
	})
	if !ok {
		s.logger.Info("agent removed during execution, outcome not recorded", "agent_id", id)
	}
}

// Status returns a snapshot of the agent's record.
func (s *Supervisor) Status(id string) (Report, error) {
	rec, err := s.registry.Get(id)
	if err != nil {
		return Report{}, err
	}
	return Report{Record: rec, Exists: s.storage.Exists(rec.Location)}, nil
}

// List returns idle time and remaining lifetime for every agent.
func (s *Supervisor) List() []agent.Entry {
	return s.registry.Snapshot(s.timeout)
}

// Touch refreshes the agent's last-activity time without running it.
func (s *Supervisor) Touch(id string) bool {
	return s.registry.Touch(id)
}
