// Package reaper runs the periodic reclamation of idle agents.
//
// # States
//
// A Reaper is Idle until Start arms it. While Armed, a ticker fires a sweep
// every interval; during a sweep the state is Firing and returns to Armed when
// the sweep finishes. Stop returns the Reaper to Idle and waits for an
// in-flight sweep to finish.
//
// # Failures
//
// A sweep that returns an error or panics is logged. The ticker keeps running
// and the next interval fires as usual.
//
// # Delayed removal
//
// RemoveAfter schedules a one-shot removal of a single agent. Scheduling the
// same id again replaces the earlier timer. Stop cancels every pending
// removal.
package reaper
