// Package runrecord defines the durable record attached to a queued
// remediation run and the codec that normalizes legacy payloads at the
// storage boundary.
package runrecord

import "time"

// State is the lifecycle state of a run.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateDLQ       State = "dlq"
	StateCanceled  State = "canceled"
)

// SchemaVersion of the current payload shape. Version 0 payloads are the
// legacy flat shape without a queue sub-object.
const SchemaVersion = 1

// Approval status values.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Approval gates a run behind a human decision.
type Approval struct {
	Required   bool   `json:"required"`
	Status     string `json:"status,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// QueueMeta carries the retry and quarantine bookkeeping for a run.
type QueueMeta struct {
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	DLQ           bool       `json:"dlq"`
	ReplayOfRunID string     `json:"replay_of_run_id,omitempty"`
	Approval      *Approval  `json:"approval,omitempty"`
}

// RunRecord is the unit of queued work: one action against one host.
type RunRecord struct {
	Version     int       `json:"v"`
	RunID       string    `json:"run_id"`
	HostID      string    `json:"host_id"`
	ActionID    string    `json:"action_id"`
	State       State     `json:"state"`
	Commands    []string  `json:"commands"`
	Reason      string    `json:"reason,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Queue       QueueMeta `json:"queue"`
}

// Terminal reports whether the run can never execute again
// (dlq runs can only be replayed into a new record).
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateDLQ || s == StateCanceled
}

// Ready reports whether the queue metadata permits execution at now.
// A pending approval gate always blocks, regardless of nextAttemptAt.
func (q QueueMeta) Ready(now time.Time) bool {
	if q.Approval != nil && q.Approval.Required && q.Approval.Status != ApprovalApproved {
		return false
	}
	if q.NextAttemptAt == nil {
		return true
	}
	return !q.NextAttemptAt.After(now)
}
