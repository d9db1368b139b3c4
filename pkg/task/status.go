package task

import "fmt"

// Status is a task's lifecycle state.
type Status string

// Strict task states for the lifecycle FSM
const (
	StatusCreated  Status = "created"  // Record exists, never started
	StatusStarting Status = "starting" // Worker spawned, start confirmation pending
	StatusRunning  Status = "running"  // Worker confirmed initialization
	StatusStopping Status = "stopping" // Cooperative shutdown requested
	StatusStopped  Status = "stopped"  // Worker exited cleanly
	StatusFailed   Status = "failed"   // Start timeout, crash, or forced termination
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[Status]map[Status]bool{
	StatusCreated: {
		StatusStarting: true, // Created → Starting (first start)
	},
	StatusStarting: {
		StatusRunning: true, // Starting → Running (start confirmation received)
		StatusFailed:  true, // Starting → Failed (timeout or crash before confirming)
	},
	StatusRunning: {
		StatusStopping: true, // Running → Stopping (stop requested)
		StatusStopped:  true, // Running → Stopped (worker exited on its own, code 0)
		StatusFailed:   true, // Running → Failed (worker exited abnormally)
	},
	StatusStopping: {
		StatusStopped: true, // Stopping → Stopped (worker exited within the window)
		StatusFailed:  true, // Stopping → Failed (forced termination was required)
	},
	StatusStopped: {
		StatusStarting: true, // Stopped → Starting (restart)
	},
	StatusFailed: {
		StatusStarting: true, // Failed → Starting (restart after failure)
	},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to Status) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsActive returns true while a lifecycle operation owns the worker process.
// A record may only be removed when it is not active, and the process handle
// is non-nil exactly while it is.
func IsActive(state Status) bool {
	return state == StatusStarting || state == StatusRunning || state == StatusStopping
}

// IsStartable returns true if a start operation is legal from this state.
func IsStartable(state Status) bool {
	return state == StatusCreated || state == StatusStopped || state == StatusFailed
}
