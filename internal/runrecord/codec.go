package runrecord

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks payloads that cannot be normalized into a RunRecord.
// Callers must treat it as an input error, never enqueue or retry.
var ErrMalformed = errors.New("malformed run payload")

// ParseOptions control how legacy payloads are normalized.
type ParseOptions struct {
	// DefaultMaxAttempts is applied when a legacy payload carries no queue
	// metadata. Must be >= 1.
	DefaultMaxAttempts int
}

// envelope mirrors RunRecord but keeps Queue as a pointer so a missing
// queue sub-object (legacy flat shape) is distinguishable from a zero one.
type envelope struct {
	Version     int             `json:"v"`
	RunID       string          `json:"run_id"`
	HostID      string          `json:"host_id"`
	ActionID    string          `json:"action_id"`
	State       State           `json:"state"`
	Commands    json.RawMessage `json:"commands"`
	Reason      string          `json:"reason"`
	RequestedBy string          `json:"requested_by"`
	CreatedAt   json.RawMessage `json:"created_at"`
	UpdatedAt   json.RawMessage `json:"updated_at"`
	Queue       *QueueMeta      `json:"queue"`
}

// Parse decodes a stored payload into a RunRecord, synthesizing queue
// metadata for legacy flat payloads. Malformed input (missing action id,
// non-array commands) returns ErrMalformed.
func Parse(raw []byte, opts ParseOptions) (*RunRecord, error) {
	if opts.DefaultMaxAttempts < 1 {
		opts.DefaultMaxAttempts = 3
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.ActionID == "" {
		return nil, fmt.Errorf("%w: missing action_id", ErrMalformed)
	}

	rec := RunRecord{
		Version:     env.Version,
		RunID:       env.RunID,
		HostID:      env.HostID,
		ActionID:    env.ActionID,
		State:       env.State,
		Reason:      env.Reason,
		RequestedBy: env.RequestedBy,
	}

	if len(env.Commands) > 0 && string(env.Commands) != "null" {
		if err := json.Unmarshal(env.Commands, &rec.Commands); err != nil {
			return nil, fmt.Errorf("%w: commands is not a string array", ErrMalformed)
		}
	}
	if len(env.CreatedAt) > 0 && string(env.CreatedAt) != "null" {
		if err := json.Unmarshal(env.CreatedAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: bad created_at", ErrMalformed)
		}
	}
	if len(env.UpdatedAt) > 0 && string(env.UpdatedAt) != "null" {
		if err := json.Unmarshal(env.UpdatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: bad updated_at", ErrMalformed)
		}
	}

	if env.Queue != nil {
		rec.Queue = *env.Queue
		if rec.Queue.MaxAttempts < 1 {
			rec.Queue.MaxAttempts = opts.DefaultMaxAttempts
		}
	} else {
		// Legacy flat payload: synthesize fresh queue metadata.
		rec.Queue = QueueMeta{
			Attempts:    0,
			MaxAttempts: opts.DefaultMaxAttempts,
			DLQ:         false,
		}
	}

	if rec.State == "" {
		rec.State = StateQueued
	}
	rec.Version = SchemaVersion
	return &rec, nil
}

// Serialize encodes a RunRecord for storage. Parse(Serialize(r)) is
// lossless for every field on the record.
func Serialize(rec *RunRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", ErrMalformed)
	}
	out := *rec
	out.Version = SchemaVersion
	return json.Marshal(&out)
}
