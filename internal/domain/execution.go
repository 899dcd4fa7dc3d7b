package domain

import "time"

// ExecutionState represents the lifecycle state of one engine execution.
type ExecutionState string

// Engine execution lifecycle states.
const (
	ExecutionStateSubmitted ExecutionState = "SUBMITTED"
	ExecutionStateQueued    ExecutionState = "QUEUED"
	ExecutionStateRunning   ExecutionState = "RUNNING"
	ExecutionStateSucceeded ExecutionState = "SUCCEEDED"
	ExecutionStateFailed    ExecutionState = "FAILED"
	ExecutionStateCancelled ExecutionState = "CANCELLED"
)

// Terminal reports whether the state is one the engine will never leave.
func (s ExecutionState) Terminal() bool {
	switch s {
	case ExecutionStateSucceeded, ExecutionStateFailed, ExecutionStateCancelled:
		return true
	}
	return false
}

// ExecutionStatus is one polled status observation. Reason is only set for
// FAILED states and carries the engine's state-change reason.
type ExecutionStatus struct {
	State  ExecutionState
	Reason string
}

// ExecutionHandle tracks one submitted execution. It is owned exclusively by
// the attempt driving it and discarded on terminal state or cancellation.
type ExecutionHandle struct {
	ExecutionID string
	State       ExecutionState
	SubmittedAt time.Time
	Attempt     int
}
