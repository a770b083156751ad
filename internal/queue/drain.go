package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/tinkerbelle-io/fleetmend/internal/audit"
	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
	"github.com/tinkerbelle-io/fleetmend/internal/retry"
	"github.com/tinkerbelle-io/fleetmend/internal/runrecord"
)

// DefaultDrainLimit bounds a drain pass when the caller does not.
const DefaultDrainLimit = 10

// DrainResult summarizes one drain pass.
type DrainResult struct {
	OK             bool `json:"ok"`
	Processed      int  `json:"processed"`
	RequestedLimit int  `json:"requested_limit"`
}

// Drain claims and executes up to limit ready runs in FIFO enqueue order.
// Each run is claimed with a conditional update (claim-one, execute,
// claim-next), so concurrent drains never execute the same run twice. The
// claimed batch runs sequentially to bound host-side load. Persistence
// errors abort the pass and propagate; execution failures feed the
// retry/DLQ path.
func (s *Store) Drain(ctx context.Context, limit int) (*DrainResult, error) {
	if limit < 1 {
		limit = DefaultDrainLimit
	}
	res := &DrainResult{RequestedLimit: limit}
	if s.exec == nil {
		return nil, fmt.Errorf("queue: drain without an executor")
	}

	now := s.now().UTC()
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM runs
		 WHERE state = ? AND approval_status != ?
		   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY enqueued_at ASC LIMIT ?`,
		string(runrecord.StateQueued), runrecord.ApprovalPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("queue: select drain candidates: %w", err)
	}

	var batch []*runrecord.RunRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("queue: scan candidate: %w", err)
		}
		rec, err := s.parse(payload)
		if err != nil {
			s.log.Warn("skipping unreadable run payload", "error", err)
			continue
		}
		batch = append(batch, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterate candidates: %w", err)
	}

	for _, rec := range batch {
		if !rec.Queue.Ready(now) {
			continue
		}
		claimed, err := s.claim(ctx, rec)
		if err != nil {
			return res, err
		}
		if !claimed {
			// Another drain got there first.
			continue
		}
		if err := s.executeRun(ctx, rec); err != nil {
			return res, err
		}
		res.Processed++
	}

	res.OK = true
	s.refreshQueueDepth(ctx)
	return res, nil
}

// claim atomically transitions queued -> running. Returns false if the run
// was no longer queued.
func (s *Store) claim(ctx context.Context, rec *runrecord.RunRecord) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, updated_at = ? WHERE run_id = ? AND state = ?`,
		string(runrecord.StateRunning), s.now().UTC(), rec.RunID, string(runrecord.StateQueued))
	if err != nil {
		return false, fmt.Errorf("queue: claim %s: %w", rec.RunID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("queue: claim %s: %w", rec.RunID, err)
	}
	if n == 0 {
		return false, nil
	}

	rec.State = runrecord.StateRunning
	if err := s.save(ctx, rec); err != nil {
		return false, err
	}
	s.audit(audit.Entry{EventType: audit.EventClaim, RunID: rec.RunID, HostID: rec.HostID, ActionID: rec.ActionID})
	return true, nil
}

// executeRun runs the command list and applies the success/retry/DLQ
// transition.
func (s *Store) executeRun(ctx context.Context, rec *runrecord.RunRecord) error {
	host := s.resolveHost(ctx, rec.HostID)

	result, execErr := s.exec.Execute(ctx, host, rec.Commands)

	now := s.now().UTC()
	rec.Queue.Attempts++
	rec.Queue.LastAttemptAt = &now

	switch {
	case execErr != nil:
		// Environment failure (unreachable host, broken transport) is a
		// transient failure like any other.
		s.applyFailure(rec, now, execErr.Error())
	case result.OK:
		rec.State = runrecord.StateSucceeded
		rec.Queue.NextAttemptAt = nil
		rec.Queue.LastError = ""
		s.audit(audit.Entry{EventType: audit.EventSuccess, RunID: rec.RunID, HostID: rec.HostID, ActionID: rec.ActionID})
		s.metrics.IncSucceeded()
		s.log.Info("run succeeded", "run", rec.RunID, "host", rec.HostID, "attempt", rec.Queue.Attempts)
	default:
		s.applyFailure(rec, now, result.Error)
	}

	return s.save(ctx, rec)
}

func (s *Store) applyFailure(rec *runrecord.RunRecord, now time.Time, message string) {
	rec.Queue.LastError = message

	if retry.ShouldRetry(rec.Queue.Attempts, rec.Queue.MaxAttempts) {
		delay := retry.DelaySeconds(rec.Queue.Attempts, s.cfg.RetryBaseSeconds, s.cfg.RetryCapSeconds)
		next := retry.NextAttemptAt(now, delay)
		rec.State = runrecord.StateQueued
		rec.Queue.NextAttemptAt = &next
		s.audit(audit.Entry{
			EventType: audit.EventRetry, RunID: rec.RunID, HostID: rec.HostID, ActionID: rec.ActionID,
			Detail: fmt.Sprintf("attempt %d/%d failed, retry in %.0fs: %s", rec.Queue.Attempts, rec.Queue.MaxAttempts, delay, message),
		})
		s.metrics.IncRetried()
		s.log.Warn("run failed, retrying", "run", rec.RunID, "host", rec.HostID,
			"attempt", rec.Queue.Attempts, "max_attempts", rec.Queue.MaxAttempts, "delay_seconds", delay)
		return
	}

	rec.State = runrecord.StateDLQ
	rec.Queue.DLQ = true
	rec.Queue.NextAttemptAt = nil
	s.audit(audit.Entry{
		EventType: audit.EventDLQ, RunID: rec.RunID, HostID: rec.HostID, ActionID: rec.ActionID,
		Detail: fmt.Sprintf("attempts exhausted (%d/%d): %s", rec.Queue.Attempts, rec.Queue.MaxAttempts, message),
	})
	s.metrics.IncDeadLettered()
	s.log.Error("run dead-lettered", "run", rec.RunID, "host", rec.HostID, "error", message)
}

// resolveHost looks the host up in the directory so the executor gets its
// address and metadata; a miss degrades to an id-only host.
func (s *Store) resolveHost(ctx context.Context, hostID string) hostdir.Host {
	if s.dir != nil {
		if hosts, err := s.dir.Hosts(ctx); err == nil {
			for _, h := range hosts {
				if h.ID == hostID {
					return h
				}
			}
		}
	}
	return hostdir.Host{ID: hostID}
}

// RequeueStale re-queues runs stuck in running longer than grace: the
// recovery sweep for a drain that died mid-update. Returns the number of
// runs recovered.
func (s *Store) RequeueStale(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-grace)
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM runs WHERE state = ? AND updated_at < ?`,
		string(runrecord.StateRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("queue: select stale running: %w", err)
	}

	var stale []*runrecord.RunRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("queue: scan stale run: %w", err)
		}
		rec, err := s.parse(payload)
		if err != nil {
			continue
		}
		stale = append(stale, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("queue: iterate stale runs: %w", err)
	}

	recovered := 0
	for _, rec := range stale {
		rec.State = runrecord.StateQueued
		if err := s.save(ctx, rec); err != nil {
			return recovered, err
		}
		recovered++
		s.log.Warn("re-queued stale running run", "run", rec.RunID, "host", rec.HostID)
	}
	return recovered, nil
}

func (s *Store) refreshQueueDepth(ctx context.Context) {
	var depth int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE state = ?`, string(runrecord.StateQueued)).Scan(&depth); err == nil {
		s.metrics.SetQueueDepth(depth)
	}
}
