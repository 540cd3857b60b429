// ABOUTME: Agent record value type, lifecycle status, and reclamation eligibility.
// ABOUTME: Records are copied out of the registry so callers never share mutable state.

package agent

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a registered agent.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Finished reports whether the status is a terminal execution outcome.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusError
}

// IDPrefix is prepended to generated agent ids.
const IDPrefix = "agent_"

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// NewID generates an id of the form agent_xxxxxxxx with 8 random hex digits.
func NewID() string {
	u := uuid.New()
	return fmt.Sprintf("%s%x", IDPrefix, u[:4])
}

// ValidateID checks that id can be used to name a program file.
func ValidateID(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Record is a point-in-time copy of one agent's registry entry.
type Record struct {
	ID         string    `json:"id"`
	Location   string    `json:"location"`
	Status     Status    `json:"status"`
	LastActive time.Time `json:"last_active"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Idle returns how long the agent has been inactive as of now.
func (r Record) Idle(now time.Time) time.Duration {
	idle := now.Sub(r.LastActive)
	if idle < 0 {
		return 0
	}
	return idle
}

// Expired reports whether the record is eligible for reclamation: idle for
// longer than timeout in any status, or finished when timeout is zero.
func (r Record) Expired(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 && r.Status.Finished() {
		return true
	}
	return r.Idle(now) > timeout
}

// Entry is one row of a registry snapshot.
type Entry struct {
	ID        string        `json:"id"`
	Status    Status        `json:"status"`
	Idle      time.Duration `json:"idle"`
	Remaining time.Duration `json:"remaining"`
}
