// Package fetchstate implements a single-flight asynchronous fetch controller.
// A Controller issues one HTTP round trip per trigger and publishes a
// three-state result (loading, success with payload, failure with message) to
// any number of observers.
package fetchstate

import "time"

// Phase identifies the active variant of a State.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseSuccess Phase = "success"
	PhaseFailure Phase = "failure"
)

// State is the observable result of fetch attempts. At most one variant is
// active at a time: Loading is never paired with a non-empty Err, and a
// failure retains the previously committed Data (or the type's zero value
// when nothing has succeeded yet).
type State[T any] struct {
	Data       T         `json:"data"`
	Err        string    `json:"error,omitempty"`
	Loading    bool      `json:"loading"`
	Attempt    uint64    `json:"attempt"`
	StatusCode int       `json:"status_code,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Phase reports which variant is active.
func (s State[T]) Phase() Phase {
	switch {
	case s.Loading:
		return PhaseLoading
	case s.Err != "":
		return PhaseFailure
	case s.Attempt > 0:
		return PhaseSuccess
	default:
		return PhaseIdle
	}
}
