// Package server runs the ephemera HTTP API and gRPC health service around a
// single supervisor.
//
// New wires the configuration into a lifecycle ledger, a supervisor, an
// idempotency cache, and an echo router. Run arms the reclamation timer,
// serves until the context is cancelled, and then shuts down: listeners stop
// first, then the timer is disarmed and every remaining agent is cleaned up.
package server
