package queue

import (
	"context"
	"testing"
	"time"

	"github.com/tinkerbelle-io/fleetmend/internal/runrecord"
)

func TestDrainExecutesReadyRun(t *testing.T) {
	exec := &stubExecutor{}
	s, _ := newTestStore(t, Config{}, exec)
	ctx := context.Background()

	rec, err := s.Enqueue(ctx, "web-01", restartAction(), "", "oncall")
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Drain(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Processed != 1 {
		t.Fatalf("drain = %+v, want 1 processed", res)
	}
	if got := exec.executed(); len(got) != 1 || got[0] != "web-01" {
		t.Fatalf("executed hosts = %v", got)
	}

	after, err := s.Get(ctx, rec.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if after.State != runrecord.StateSucceeded {
		t.Errorf("state = %s, want succeeded", after.State)
	}
	if after.Queue.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", after.Queue.Attempts)
	}
	if after.Queue.NextAttemptAt != nil {
		t.Error("succeeded run must not carry next_attempt_at")
	}
}

func TestDrainBackoffSchedule(t *testing.T) {
	exec := &stubExecutor{fail: true}
	s, clk := newTestStore(t, Config{RetryBaseSeconds: 15, RetryCapSeconds: 900}, exec)
	ctx := context.Background()

	rec, err := s.Enqueue(ctx, "web-01", restartAction(), "", "oncall")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Drain(ctx, 10); err != nil {
		t.Fatal(err)
	}
	after, err := s.Get(ctx, rec.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if after.State != runrecord.StateQueued {
		t.Fatalf("state = %s, want queued for retry", after.State)
	}
	want := clk.t.Add(15 * time.Second)
	if after.Queue.NextAttemptAt == nil || !after.Queue.NextAttemptAt.Equal(want) {
		t.Fatalf("next_attempt_at = %v, want %v", after.Queue.NextAttemptAt, want)
	}
	if after.Queue.LastError == "" {
		t.Error("failed attempt must record last_error")
	}

	// Before the backoff elapses the run is invisible to drain.
	res, err := s.Drain(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 0 {
		t.Fatalf("drain before backoff processed %d runs", res.Processed)
	}

	clk.advance(15 * time.Second)
	res, err = s.Drain(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 {
		t.Fatalf("drain after backoff processed %d runs, want 1", res.Processed)
	}
	after, _ = s.Get(ctx, rec.RunID)
	if after.Queue.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", after.Queue.Attempts)
	}
	// Second failure doubles the delay.
	want = clk.t.Add(30 * time.Second)
	if after.Queue.NextAttemptAt == nil || !after.Queue.NextAttemptAt.Equal(want) {
		t.Errorf("next_attempt_at = %v, want %v", after.Queue.NextAttemptAt, want)
	}
}

func TestDrainRetriesThenDeadLettersThenReplays(t *testing.T) {
	exec := &stubExecutor{fail: true}
	s, clk := newTestStore(t, Config{DefaultMaxAttempts: 3}, exec)
	ctx := context.Background()

	rec, err := s.Enqueue(ctx, "web-01", restartAction(), "oom loop", "oncall")
	if err != nil {
		t.Fatal(err)
	}

	wantStates := []runrecord.State{runrecord.StateQueued, runrecord.StateQueued, runrecord.StateDLQ}
	for i, want := range wantStates {
		if _, err := s.Drain(ctx, 10); err != nil {
			t.Fatal(err)
		}
		after, err := s.Get(ctx, rec.RunID)
		if err != nil {
			t.Fatal(err)
		}
		if after.State != want {
			t.Fatalf("after drain %d: state = %s, want %s", i+1, after.State, want)
		}
		if after.Queue.Attempts != i+1 {
			t.Fatalf("after drain %d: attempts = %d", i+1, after.Queue.Attempts)
		}
		clk.advance(time.Hour)
	}

	dead, _ := s.Get(ctx, rec.RunID)
	if !dead.Queue.DLQ {
		t.Error("exhausted run must set the dlq flag")
	}
	if dead.Queue.NextAttemptAt != nil {
		t.Error("dead-lettered run must not be scheduled")
	}

	// Dead letters never execute again on their own.
	before := len(exec.executed())
	if _, err := s.Drain(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if len(exec.executed()) != before {
		t.Fatal("drain executed a dead-lettered run")
	}

	clone, err := s.ReplayRun(ctx, rec.RunID, "oncall")
	if err != nil {
		t.Fatal(err)
	}
	if clone.RunID == rec.RunID {
		t.Fatal("replay must mint a new run id")
	}
	if clone.Queue.Attempts != 0 {
		t.Errorf("replayed attempts = %d, want 0", clone.Queue.Attempts)
	}
	if clone.Queue.ReplayOfRunID != rec.RunID {
		t.Errorf("replay_of_run_id = %q, want %q", clone.Queue.ReplayOfRunID, rec.RunID)
	}
	orig, _ := s.Get(ctx, rec.RunID)
	if orig.State != runrecord.StateDLQ {
		t.Errorf("original state = %s, replay must leave it in dlq", orig.State)
	}

	// Fixed host, replayed run succeeds on the next drain.
	exec.fail = false
	if _, err := s.Drain(ctx, 10); err != nil {
		t.Fatal(err)
	}
	replayed, _ := s.Get(ctx, clone.RunID)
	if replayed.State != runrecord.StateSucceeded {
		t.Errorf("replayed run state = %s, want succeeded", replayed.State)
	}
}

func TestDrainTreatsEnvironmentErrorAsFailure(t *testing.T) {
	exec := &stubExecutor{envFail: true}
	s, _ := newTestStore(t, Config{}, exec)
	ctx := context.Background()

	rec, err := s.Enqueue(ctx, "web-01", restartAction(), "", "oncall")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Drain(ctx, 10); err != nil {
		t.Fatal(err)
	}
	after, _ := s.Get(ctx, rec.RunID)
	if after.State != runrecord.StateQueued {
		t.Errorf("state = %s, want queued for retry", after.State)
	}
	if after.Queue.LastError != "host unreachable" {
		t.Errorf("last_error = %q", after.Queue.LastError)
	}
}

func TestDrainSkipsPendingApproval(t *testing.T) {
	exec := &stubExecutor{}
	s, _ := newTestStore(t, Config{}, exec)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, "db-01", rebootAction(), "", "oncall"); err != nil {
		t.Fatal(err)
	}
	res, err := s.Drain(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 0 || len(exec.executed()) != 0 {
		t.Fatalf("gated run executed: %+v, hosts %v", res, exec.executed())
	}
}

func TestDrainHonorsLimitInEnqueueOrder(t *testing.T) {
	exec := &stubExecutor{}
	s, clk := newTestStore(t, Config{}, exec)
	ctx := context.Background()

	for _, host := range []string{"web-01", "web-02", "web-03"} {
		if _, err := s.Enqueue(ctx, host, restartAction(), "", "oncall"); err != nil {
			t.Fatal(err)
		}
		clk.advance(time.Second)
	}

	res, err := s.Drain(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 2 {
		t.Fatalf("processed = %d, want 2", res.Processed)
	}
	got := exec.executed()
	if len(got) != 2 || got[0] != "web-01" || got[1] != "web-02" {
		t.Fatalf("executed %v, want oldest two in order", got)
	}
}

func TestRequeueStale(t *testing.T) {
	exec := &stubExecutor{}
	s, clk := newTestStore(t, Config{}, exec)
	ctx := context.Background()

	rec, err := s.Enqueue(ctx, "web-01", restartAction(), "", "oncall")
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a drain that died after the claim.
	rec.State = runrecord.StateRunning
	if err := s.save(ctx, rec); err != nil {
		t.Fatal(err)
	}

	// Inside the grace window the run is left alone.
	n, err := s.RequeueStale(ctx, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("recovered %d runs inside grace window", n)
	}

	clk.advance(11 * time.Minute)
	n, err = s.RequeueStale(ctx, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}
	after, _ := s.Get(ctx, rec.RunID)
	if after.State != runrecord.StateQueued {
		t.Errorf("state = %s, want queued", after.State)
	}

	// The recovered run drains normally.
	res, err := s.Drain(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 {
		t.Fatalf("processed = %d, want 1", res.Processed)
	}
}
