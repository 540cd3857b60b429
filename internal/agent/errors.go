// ABOUTME: Error taxonomy shared by the registry, executor, storage, and supervisor.
// ABOUTME: Callers match these sentinels with errors.Is; wrappers add the agent id.

package agent

import "errors"

var (
	// ErrNotFound indicates an operation referenced an unknown agent id.
	ErrNotFound = errors.New("agent not found")

	// ErrDuplicateID indicates an agent with the requested id is already registered.
	ErrDuplicateID = errors.New("agent id already registered")

	// ErrInvalidID indicates a caller-supplied id cannot name a program resource.
	ErrInvalidID = errors.New("invalid agent id")

	// ErrMissingEntryPoint indicates the program does not export a usable entry point.
	ErrMissingEntryPoint = errors.New("missing entry point")

	// ErrExecutionFailed indicates loading or running the program failed.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrResource indicates a program file could not be written or removed.
	ErrResource = errors.New("resource error")
)
