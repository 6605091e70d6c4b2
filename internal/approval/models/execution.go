package models

import "time"

// ExecutionStatus tracks the run of an approved operation.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is the claim that lets an approved operation run exactly once.
// A failed execution can be claimed again, and so can a running one whose
// claim is older than the stale cutoff (its runner is presumed dead).
type Execution struct {
	ServiceRequestID string          `json:"service_request_id"`
	Status           ExecutionStatus `json:"status"`
	ClaimedAt        time.Time       `json:"claimed_at"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
}

// Reclaimable reports whether a new run may start. A zero staleBefore never
// treats a running claim as abandoned.
func (e *Execution) Reclaimable(staleBefore time.Time) bool {
	switch e.Status {
	case ExecutionFailed:
		return true
	case ExecutionRunning:
		return !staleBefore.IsZero() && e.ClaimedAt.Before(staleBefore)
	default:
		return false
	}
}
