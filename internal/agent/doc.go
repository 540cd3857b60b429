// Package agent holds the agent registry: the records tracking each stored
// agent program and the concurrent map they live in.
//
// # Records
//
// A Record describes one registered agent:
//
//	type Record struct {
//	    ID         string
//	    Location   string
//	    Status     Status
//	    LastActive time.Time
//	    LastError  string
//	    CreatedAt  time.Time
//	}
//
// Status moves created → running → completed | error. LastActive is set at
// creation and refreshed at the end of every execution and by Touch; it is
// the timestamp the reclamation sweep measures idleness from.
//
// # Registry
//
// The Registry maps ids to records behind a single sync.RWMutex:
//
//   - Insert / InsertFunc: add a record, rejecting duplicate ids
//   - Get: copy of a record, or ErrNotFound
//   - Update / Touch: mutate a record only if it is still registered
//   - Remove / Release: idempotent removal, Release runs the resource
//     cleanup inside the same critical section
//   - Snapshot / Expired: point-in-time views computed from the clock
//
// Readers receive value copies, so a caller holding a Record never observes
// a later mutation. Updates addressed to an id that has been removed are
// dropped; a removed record is never resurrected.
//
// # Reclamation
//
// Expired reports whether a record may be reclaimed for a given inactive
// timeout. Any agent idle for longer than the timeout is eligible. A zero
// timeout additionally makes finished agents (completed or error) eligible
// immediately, and any other agent as soon as it has been idle at all.
package agent
