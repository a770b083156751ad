// Package queue owns the durable remediation run queue: enqueue, drain with
// retry/backoff, dead-letter quarantine, replay, and approval transitions.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tinkerbelle-io/fleetmend/internal/actions"
	"github.com/tinkerbelle-io/fleetmend/internal/audit"
	"github.com/tinkerbelle-io/fleetmend/internal/executor"
	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
	"github.com/tinkerbelle-io/fleetmend/internal/metrics"
	"github.com/tinkerbelle-io/fleetmend/internal/policy"
	"github.com/tinkerbelle-io/fleetmend/internal/runrecord"
)

var (
	// ErrNotFound means the run id does not resolve (404-equivalent).
	ErrNotFound = errors.New("run not found")
	// ErrConflict means the run is not in a state that permits the
	// requested transition (409-equivalent).
	ErrConflict = errors.New("run state conflict")
	// ErrInvalidInput marks synchronously rejected bad input.
	ErrInvalidInput = errors.New("invalid input")
)

// Config carries the queue's retry and approval policy.
type Config struct {
	DefaultMaxAttempts int
	RetryBaseSeconds   float64
	RetryCapSeconds    float64
	ApprovalThreshold  policy.RiskLevel
}

func (c Config) withDefaults() Config {
	if c.DefaultMaxAttempts < 1 {
		c.DefaultMaxAttempts = 3
	}
	if c.RetryBaseSeconds <= 0 {
		c.RetryBaseSeconds = 15
	}
	if c.RetryCapSeconds <= 0 {
		c.RetryCapSeconds = 900
	}
	if c.ApprovalThreshold == "" {
		c.ApprovalThreshold = policy.RiskHigh
	}
	return c
}

// Options wires the store's collaborators. Executor and Directory are
// required for drain; Audit and Metrics are optional.
type Options struct {
	Config    Config
	Executor  executor.Executor
	Directory hostdir.Directory
	Audit     *audit.Logger
	Metrics   *metrics.Metrics
}

// Store is the persisted run queue. Safe for concurrent callers: the
// queued -> running transition is a conditional update, so two drains can
// never claim the same run.
type Store struct {
	db      *sql.DB
	cfg     Config
	exec    executor.Executor
	dir     hostdir.Directory
	auditor *audit.Logger
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	host_id TEXT NOT NULL,
	action_id TEXT NOT NULL,
	state TEXT NOT NULL,
	approval_status TEXT NOT NULL DEFAULT '',
	next_attempt_at TIMESTAMP,
	enqueued_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_state_next ON runs(state, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_runs_host ON runs(host_id);
`

// Open opens (or creates) the queue database and applies the schema.
func Open(dbPath string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: migrate: %w", err)
	}

	return &Store{
		db:      db,
		cfg:     opts.Config.withDefaults(),
		exec:    opts.Executor,
		dir:     opts.Directory,
		auditor: opts.Audit,
		metrics: opts.Metrics,
		log:     slog.Default().With("component", "run-queue"),
		now:     time.Now,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue creates a queued run for one host. The approval gate is attached
// here, from the action's risk against the configured threshold, so every
// enqueue path (ad hoc or fleet stage) gets the same gating.
func (s *Store) Enqueue(ctx context.Context, hostID string, action actions.Action, reason, requestedBy string) (*runrecord.RunRecord, error) {
	if hostID == "" {
		return nil, fmt.Errorf("%w: missing host id", ErrInvalidInput)
	}
	if action.ID == "" || len(action.Commands) == 0 {
		return nil, fmt.Errorf("%w: action has no commands", ErrInvalidInput)
	}

	now := s.now().UTC()
	rec := &runrecord.RunRecord{
		Version:     runrecord.SchemaVersion,
		RunID:       uuid.NewString(),
		HostID:      hostID,
		ActionID:    action.ID,
		State:       runrecord.StateQueued,
		Commands:    action.Commands,
		Reason:      reason,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
		Queue: runrecord.QueueMeta{
			MaxAttempts: s.cfg.DefaultMaxAttempts,
		},
	}
	if policy.RiskRequiresApproval(action.RiskLevel(), s.cfg.ApprovalThreshold) {
		rec.Queue.Approval = &runrecord.Approval{
			Required: true,
			Status:   runrecord.ApprovalPending,
		}
	}

	if err := s.insert(ctx, rec); err != nil {
		return nil, err
	}

	s.audit(audit.Entry{
		EventType: audit.EventEnqueue,
		RunID:     rec.RunID, HostID: hostID, ActionID: action.ID,
		ActorID: requestedBy, Detail: reason,
	})
	s.metrics.IncEnqueued()
	s.log.Info("run enqueued", "run", rec.RunID, "host", hostID, "action", action.ID,
		"approval_required", rec.Queue.Approval != nil)
	return rec, nil
}

// Get loads a run by id.
func (s *Store) Get(ctx context.Context, runID string) (*runrecord.RunRecord, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("queue: load %s: %w", runID, err)
	}
	return s.parse(payload)
}

func (s *Store) parse(payload []byte) (*runrecord.RunRecord, error) {
	return runrecord.Parse(payload, runrecord.ParseOptions{DefaultMaxAttempts: s.cfg.DefaultMaxAttempts})
}

func (s *Store) insert(ctx context.Context, rec *runrecord.RunRecord) error {
	payload, err := runrecord.Serialize(rec)
	if err != nil {
		return fmt.Errorf("queue: serialize %s: %w", rec.RunID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, host_id, action_id, state, approval_status, next_attempt_at, enqueued_at, updated_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.HostID, rec.ActionID, string(rec.State), approvalStatus(rec),
		nullableTime(rec.Queue.NextAttemptAt), rec.CreatedAt, rec.UpdatedAt, payload)
	if err != nil {
		return fmt.Errorf("queue: insert %s: %w", rec.RunID, err)
	}
	return nil
}

// save persists the full record, overwriting the queryable columns to match
// the payload.
func (s *Store) save(ctx context.Context, rec *runrecord.RunRecord) error {
	rec.UpdatedAt = s.now().UTC()
	payload, err := runrecord.Serialize(rec)
	if err != nil {
		return fmt.Errorf("queue: serialize %s: %w", rec.RunID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, approval_status = ?, next_attempt_at = ?, updated_at = ?, payload = ? WHERE run_id = ?`,
		string(rec.State), approvalStatus(rec), nullableTime(rec.Queue.NextAttemptAt),
		rec.UpdatedAt, payload, rec.RunID)
	if err != nil {
		return fmt.Errorf("queue: save %s: %w", rec.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.RunID)
	}
	return nil
}

func approvalStatus(rec *runrecord.RunRecord) string {
	if rec.Queue.Approval == nil || !rec.Queue.Approval.Required {
		return ""
	}
	return rec.Queue.Approval.Status
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (s *Store) audit(entry audit.Entry) {
	if err := s.auditor.Log(entry); err != nil {
		s.log.Warn("audit write failed", "event", entry.EventType, "run", entry.RunID, "error", err)
	}
}
