package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tinkerbelle-io/fleetmend/internal/audit"
	"github.com/tinkerbelle-io/fleetmend/internal/runrecord"
)

// ReplayResult summarizes a bulk replay of the dead-letter set.
type ReplayResult struct {
	OK             bool     `json:"ok"`
	Replayed       int      `json:"replayed"`
	Skipped        int      `json:"skipped"`
	RequestedLimit int      `json:"requested_limit"`
	RunIDs         []string `json:"run_ids,omitempty"`
}

// ReplayRun clones one dead-lettered run into a fresh queued run. The
// original record is left untouched; the clone starts at attempt zero with
// replay_of_run_id pointing back, and a fresh pending approval gate when the
// original required one.
func (s *Store) ReplayRun(ctx context.Context, runID, requestedBy string) (*runrecord.RunRecord, error) {
	orig, err := s.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if orig.State != runrecord.StateDLQ {
		return nil, fmt.Errorf("%w: %s is %s, only dlq runs can be replayed", ErrConflict, runID, orig.State)
	}
	return s.replayOne(ctx, orig, requestedBy)
}

// ReplayDeadLetters replays up to limit dead-lettered runs, oldest first.
// Runs whose clone fails to persist are counted as skipped; the pass keeps
// going so one bad record does not pin the whole dead-letter set.
func (s *Store) ReplayDeadLetters(ctx context.Context, limit int, requestedBy string) (*ReplayResult, error) {
	if limit < 1 {
		limit = DefaultDrainLimit
	}
	res := &ReplayResult{RequestedLimit: limit}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM runs WHERE state = ? ORDER BY enqueued_at ASC LIMIT ?`,
		string(runrecord.StateDLQ), limit)
	if err != nil {
		return nil, fmt.Errorf("queue: select dead letters: %w", err)
	}

	var dead []*runrecord.RunRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("queue: scan dead letter: %w", err)
		}
		rec, err := s.parse(payload)
		if err != nil {
			s.log.Warn("skipping unreadable dead letter", "error", err)
			res.Skipped++
			continue
		}
		dead = append(dead, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterate dead letters: %w", err)
	}

	for _, orig := range dead {
		clone, err := s.replayOne(ctx, orig, requestedBy)
		if err != nil {
			s.log.Warn("replay failed", "run", orig.RunID, "error", err)
			res.Skipped++
			continue
		}
		res.Replayed++
		res.RunIDs = append(res.RunIDs, clone.RunID)
	}

	res.OK = true
	s.refreshQueueDepth(ctx)
	return res, nil
}

func (s *Store) replayOne(ctx context.Context, orig *runrecord.RunRecord, requestedBy string) (*runrecord.RunRecord, error) {
	now := s.now().UTC()
	clone := &runrecord.RunRecord{
		Version:     runrecord.SchemaVersion,
		RunID:       uuid.NewString(),
		HostID:      orig.HostID,
		ActionID:    orig.ActionID,
		State:       runrecord.StateQueued,
		Commands:    append([]string(nil), orig.Commands...),
		Reason:      orig.Reason,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
		Queue: runrecord.QueueMeta{
			MaxAttempts:   orig.Queue.MaxAttempts,
			ReplayOfRunID: orig.RunID,
		},
	}
	if orig.Queue.Approval != nil && orig.Queue.Approval.Required {
		// The replay is a new decision: the original approval does not
		// carry over.
		clone.Queue.Approval = &runrecord.Approval{
			Required: true,
			Status:   runrecord.ApprovalPending,
		}
	}

	if err := s.insert(ctx, clone); err != nil {
		return nil, err
	}

	s.audit(audit.Entry{
		EventType: audit.EventReplay,
		RunID:     clone.RunID, HostID: clone.HostID, ActionID: clone.ActionID,
		ActorID: requestedBy, Detail: fmt.Sprintf("replay of %s", orig.RunID),
	})
	s.metrics.IncReplayed()
	s.log.Info("dead letter replayed", "run", clone.RunID, "replay_of", orig.RunID, "host", clone.HostID)
	return clone, nil
}
