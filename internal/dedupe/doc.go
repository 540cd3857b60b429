// Package dedupe maps idempotency keys to the agents they created, so a
// retried create request returns the original agent instead of a new one.
package dedupe
