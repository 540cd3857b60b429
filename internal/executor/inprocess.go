// ABOUTME: In-process executor: load a program, look up its entry point, call it.
// ABOUTME: Load failures, returned errors, and panics all surface as ErrExecutionFailed.

package executor

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/ephemera/internal/agent"
)

// DefaultEntryPoint is the symbol invoked when none is configured.
const DefaultEntryPoint = "Main"

// InProcess calls agent entry points on the caller's goroutine.
type InProcess struct {
	loader Loader
	entry  string
	logger *slog.Logger
}

// NewInProcess creates an in-process executor.
func NewInProcess(loader Loader, entry string, logger *slog.Logger) *InProcess {
	if entry == "" {
		entry = DefaultEntryPoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcess{
		loader: loader,
		entry:  entry,
		logger: logger.With("component", "executor", "mode", "in_process"),
	}
}

// EntryPoint returns the symbol this executor invokes.
func (e *InProcess) EntryPoint() string {
	return e.entry
}

// Run loads the program at location and calls its entry point.
func (e *InProcess) Run(location string, args []any, kwargs map[string]any) (result any, err error) {
	prog, err := e.loader.Load(location)
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %w", agent.ErrExecutionFailed, location, err)
	}

	fn, err := prog.Lookup(e.entry)
	if err != nil {
		if errors.Is(err, agent.ErrMissingEntryPoint) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", agent.ErrMissingEntryPoint, err)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("entry point panicked", "location", location, "panic", r)
			result = nil
			err = fmt.Errorf("%w: panic: %v", agent.ErrExecutionFailed, r)
		}
	}()

	if kwargs == nil {
		kwargs = map[string]any{}
	}
	result, err = fn(args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", agent.ErrExecutionFailed, err)
	}
	return result, nil
}
