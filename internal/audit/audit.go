package audit

import "time"

// EventType constants for audit log entries.
const (
	EventEnqueue  = "ENQUEUE"
	EventClaim    = "CLAIM"
	EventSuccess  = "SUCCEEDED"
	EventRetry    = "RETRY"
	EventDLQ      = "DEAD_LETTER"
	EventReplay   = "REPLAY"
	EventApproval = "APPROVAL"
	EventCancel   = "CANCELED"
	EventBlocked  = "BLOCKED"
)

// Entry represents a single audit log entry for a run transition.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	RunID     string    `json:"run_id,omitempty"`
	HostID    string    `json:"host_id,omitempty"`
	ActionID  string    `json:"action_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	EntryHash string    `json:"entry_hash"`
}
