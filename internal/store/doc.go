// Package store persists the agent lifecycle ledger.
//
// # Ledger
//
// Every lifecycle transition the supervisor performs (creation, execution,
// failure, removal, reclamation, scheduled cleanup) can be appended as an
// AgentEvent. The ledger is an audit trail only: agent state itself lives in
// memory and on the filesystem, and nothing is restored from the ledger.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite backed, schema created on open
//   - MockStore: in-memory, for tests and for running without a database
//
// Both satisfy the Ledger interface.
package store
