// Package supervisor composes the agent registry, program storage, the two
// executors, and the reaper into the lifecycle operations exposed to callers.
//
// # Lifecycle
//
// Create stores the program and registers it with status created. Execute and
// ExecuteOutOfProcess mark it running, run it, and record completed or error
// together with a fresh last-activity time. Cleanup, CleanupAll, Sweep, and
// the reaper's periodic sweep remove it. Removal deletes the program file
// before the record, under the registry lock; if the file cannot be removed
// the record stays and the removal reports false.
//
// # Concurrency
//
// All registry access goes through agent.Registry. Execute works on a copy of
// the record taken when it starts; if the agent is removed while it runs, the
// final status update is dropped rather than re-creating the record.
//
// # Ledger
//
// When a store.Ledger is configured, every lifecycle transition is appended
// to it. Ledger failures are logged and never fail the operation.
package supervisor
