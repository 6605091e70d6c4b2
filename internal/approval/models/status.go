package models

import "approvalflow/pkg/statemachine"

// Status is the lifecycle state of a single approval level.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

// A level moves out of PENDING exactly once.
var statusMachine = statemachine.New(map[Status][]Status{
	StatusPending: {StatusApproved, StatusRejected, StatusExpired},
})

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

func (s Status) CanTransitionTo(next Status) bool {
	return statusMachine.CanTransition(s, next)
}

func (s Status) IsTerminal() bool {
	return statusMachine.IsTerminal(s)
}

// Blocks reports whether a required level in this state stops the workflow.
// EXPIRED blocks exactly like REJECTED and needs a fresh submission.
func (s Status) Blocks() bool {
	return s == StatusRejected || s == StatusExpired
}

func (s Status) String() string {
	return string(s)
}

// OverallStatus is the aggregated state of every level of one service request.
type OverallStatus string

const (
	OverallPending  OverallStatus = "pending"
	OverallApproved OverallStatus = "approved"
	OverallRejected OverallStatus = "rejected"
)
