package queue

import (
	"context"
	"fmt"

	"github.com/tinkerbelle-io/fleetmend/internal/runrecord"
)

// Counts partitions all runs by state, plus the cross-cutting count of runs
// still waiting on approval.
type Counts struct {
	Queued          int `json:"queued"`
	Running         int `json:"running"`
	Succeeded       int `json:"succeeded"`
	Failed          int `json:"failed"`
	DLQ             int `json:"dlq"`
	Canceled        int `json:"canceled"`
	ApprovalPending int `json:"approval_pending"`
}

// SnapshotOptions scope a snapshot.
type SnapshotOptions struct {
	Limit   int
	DLQOnly bool
}

// Snapshot is a point-in-time view of the queue.
type Snapshot struct {
	Items  []*runrecord.RunRecord `json:"items"`
	Counts Counts                 `json:"counts"`
}

// Snapshot returns the newest runs (optionally dead-letter only) and
// aggregate counts. Counts come from one grouped query, not per-run reads.
func (s *Store) Snapshot(ctx context.Context, opts SnapshotOptions) (*Snapshot, error) {
	if opts.Limit < 1 {
		opts.Limit = 50
	}

	snap := &Snapshot{}

	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM runs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("queue: count by state: %w", err)
	}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("queue: scan counts: %w", err)
		}
		switch runrecord.State(state) {
		case runrecord.StateQueued:
			snap.Counts.Queued = n
		case runrecord.StateRunning:
			snap.Counts.Running = n
		case runrecord.StateSucceeded:
			snap.Counts.Succeeded = n
		case runrecord.StateFailed:
			snap.Counts.Failed = n
		case runrecord.StateDLQ:
			snap.Counts.DLQ = n
		case runrecord.StateCanceled:
			snap.Counts.Canceled = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterate counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE state = ? AND approval_status = ?`,
		string(runrecord.StateQueued), runrecord.ApprovalPending).Scan(&snap.Counts.ApprovalPending); err != nil {
		return nil, fmt.Errorf("queue: count approval pending: %w", err)
	}

	query := `SELECT payload FROM runs ORDER BY enqueued_at DESC LIMIT ?`
	args := []any{opts.Limit}
	if opts.DLQOnly {
		query = `SELECT payload FROM runs WHERE state = ? ORDER BY enqueued_at DESC LIMIT ?`
		args = []any{string(runrecord.StateDLQ), opts.Limit}
	}

	itemRows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue: select snapshot items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var payload []byte
		if err := itemRows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("queue: scan snapshot item: %w", err)
		}
		rec, err := s.parse(payload)
		if err != nil {
			s.log.Warn("snapshot skipping unreadable payload", "error", err)
			continue
		}
		snap.Items = append(snap.Items, rec)
	}
	return snap, itemRows.Err()
}
