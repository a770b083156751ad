package queue

import (
	"context"
	"fmt"

	"github.com/tinkerbelle-io/fleetmend/internal/audit"
	"github.com/tinkerbelle-io/fleetmend/internal/runrecord"
)

// Approval decisions accepted by SetApproval.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// SetApproval records a human decision on a gated run. Approving an
// already-approved run and rejecting an already-rejected run are no-ops, so
// retried CLI calls and double-clicked buttons are harmless. A run without a
// gate, or one already decided the other way, is a conflict.
func (s *Store) SetApproval(ctx context.Context, runID, decision, actor, reason string) (*runrecord.RunRecord, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, fmt.Errorf("%w: decision must be %q or %q, got %q", ErrInvalidInput, DecisionApprove, DecisionReject, decision)
	}

	rec, err := s.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	gate := rec.Queue.Approval
	if gate == nil || !gate.Required {
		return nil, fmt.Errorf("%w: %s does not require approval", ErrConflict, runID)
	}

	switch {
	case decision == DecisionApprove && gate.Status == runrecord.ApprovalApproved:
		return rec, nil
	case decision == DecisionReject && gate.Status == runrecord.ApprovalRejected:
		return rec, nil
	case gate.Status != runrecord.ApprovalPending:
		return nil, fmt.Errorf("%w: %s approval already %s", ErrConflict, runID, gate.Status)
	}

	switch decision {
	case DecisionApprove:
		gate.Status = runrecord.ApprovalApproved
		gate.ApprovedBy = actor
		gate.Reason = reason
		s.audit(audit.Entry{
			EventType: audit.EventApproval,
			RunID:     rec.RunID, HostID: rec.HostID, ActionID: rec.ActionID,
			ActorID: actor, Detail: "approved: " + reason,
		})
		s.log.Info("run approved", "run", rec.RunID, "actor", actor)
	case DecisionReject:
		gate.Status = runrecord.ApprovalRejected
		gate.ApprovedBy = actor
		gate.Reason = reason
		rec.State = runrecord.StateCanceled
		s.audit(audit.Entry{
			EventType: audit.EventCancel,
			RunID:     rec.RunID, HostID: rec.HostID, ActionID: rec.ActionID,
			ActorID: actor, Detail: "approval rejected: " + reason,
		})
		s.metrics.IncCanceled()
		s.log.Info("run rejected and canceled", "run", rec.RunID, "actor", actor)
	}

	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
