package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinkerbelle-io/fleetmend/internal/actions"
	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
	"github.com/tinkerbelle-io/fleetmend/internal/policy"
	"github.com/tinkerbelle-io/fleetmend/internal/runrecord"
)

var (
	// ErrUnknownAction is an input error: the action id does not resolve.
	ErrUnknownAction = errors.New("unknown action")
	// ErrStageOutOfRange is a policy violation: the requested stage index
	// does not exist in the recomputed plan.
	ErrStageOutOfRange = errors.New("stage index out of range")
	// ErrConfirmMismatch is a policy violation: the confirmation phrase does
	// not match the one bound to the requested stage.
	ErrConfirmMismatch = errors.New("confirmation phrase mismatch")
)

// Enqueuer creates a queued run for one host. Implemented by the queue
// store; abstracted here so planning stays storage-free.
type Enqueuer interface {
	Enqueue(ctx context.Context, hostID string, action actions.Action, reason, requestedBy string) (*runrecord.RunRecord, error)
}

// PlannerConfig carries operator policy for rollouts.
type PlannerConfig struct {
	HardCaps          Caps
	BaseCanaryPercent int
	MaxAutoTier       policy.AutoTier
	DefaultStageSize  int
}

// Planner computes and executes staged fleet rollouts.
type Planner struct {
	dir     hostdir.Directory
	catalog *actions.Catalog
	queue   Enqueuer
	cfg     PlannerConfig
	log     *slog.Logger
}

// NewPlanner wires a planner.
func NewPlanner(dir hostdir.Directory, catalog *actions.Catalog, queue Enqueuer, cfg PlannerConfig) *Planner {
	if cfg.DefaultStageSize < 1 {
		cfg.DefaultStageSize = 5
	}
	if cfg.MaxAutoTier == "" {
		cfg.MaxAutoTier = policy.TierSafeAuto
	}
	return &Planner{
		dir:     dir,
		catalog: catalog,
		queue:   queue,
		cfg:     cfg,
		log:     slog.Default().With("component", "fleet-planner"),
	}
}

// PreviewRequest describes a rollout to plan.
type PreviewRequest struct {
	ActionID  string `json:"action_id"`
	Selector  any    `json:"selector"`
	StageSize int    `json:"stage_size"`
	Strategy  string `json:"strategy"`
	Caps      Caps   `json:"caps"`
}

// Plan is a computed rollout. Preview never mutates queue state.
type Plan struct {
	ActionID          string           `json:"action_id"`
	Tier              policy.AutoTier  `json:"tier"`
	Risk              policy.RiskLevel `json:"risk"`
	AutoExecutable    bool             `json:"auto_executable"`
	CanaryPercent     int              `json:"canary_percent"`
	Strategy          string           `json:"strategy"`
	Selector          Selector         `json:"selector"`
	MatchedHosts      int              `json:"matched_hosts"`
	TotalEnabledFleet int              `json:"total_enabled_fleet"`
	Safeguards        SafeguardResult  `json:"safeguards"`
	Stages            [][]string       `json:"stages"`
	ConfirmPhrases    []string         `json:"confirm_phrases"`
}

// StageConfirmPhrase is the phrase an operator must echo back to execute a
// given stage. Binding the index into the phrase stops a stale preview from
// executing the wrong stage.
func StageConfirmPhrase(stageIndex int) string {
	return fmt.Sprintf("apply stage %d", stageIndex)
}

// Preview computes the full stage plan and rejection reasons without
// touching the queue.
func (p *Planner) Preview(ctx context.Context, req PreviewRequest) (*Plan, error) {
	action, ok := p.catalog.Get(req.ActionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, req.ActionID)
	}

	all, err := p.dir.Hosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("host directory: %w", err)
	}

	totalEnabled := 0
	for _, h := range all {
		if h.Enabled {
			totalEnabled++
		}
	}

	sel := NormalizeSelector(req.Selector)
	var matched []hostdir.Host
	for _, h := range all {
		if sel.Matches(h) {
			matched = append(matched, h)
		}
	}
	sorted := SortForRollout(matched)

	guard := ApplySafeguards(SafeguardInput{
		Hosts:             sorted,
		TotalEnabledFleet: totalEnabled,
		Requested:         req.Caps,
		Hard:              p.cfg.HardCaps,
	})

	tier := action.Tier()
	canaryPercent := policy.CanaryPercentForTier(tier, p.cfg.BaseCanaryPercent)

	stageSize := req.StageSize
	if stageSize < 1 {
		stageSize = p.cfg.DefaultStageSize
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategySequential
	}

	ordered := guard.Accepted
	if strategy == StrategyGroupCanary {
		ordered = canaryFirst(guard.Accepted, req.ActionID, canaryPercent)
	}
	stages := BuildStages(ordered, stageSize, strategy)

	plan := &Plan{
		ActionID:          req.ActionID,
		Tier:              tier,
		Risk:              action.RiskLevel(),
		AutoExecutable:    policy.IsAutoExecutableTier(tier, p.cfg.MaxAutoTier),
		CanaryPercent:     canaryPercent,
		Strategy:          strategy,
		Selector:          sel,
		MatchedHosts:      len(matched),
		TotalEnabledFleet: totalEnabled,
		Safeguards:        guard,
	}
	for i, stage := range stages {
		ids := make([]string, len(stage))
		for j, h := range stage {
			ids[j] = h.ID
		}
		plan.Stages = append(plan.Stages, ids)
		plan.ConfirmPhrases = append(plan.ConfirmPhrases, StageConfirmPhrase(i))
	}
	return plan, nil
}

// canaryFirst moves the canary cohort for this action to the front of the
// rollout order. Relative order inside each half is preserved, so staging
// stays deterministic.
func canaryFirst(hosts []hostdir.Host, actionID string, percent int) []hostdir.Host {
	var canary, rest []hostdir.Host
	for _, h := range hosts {
		if policy.ShouldSelectCanary(h.ID, actionID, percent).Selected {
			canary = append(canary, h)
		} else {
			rest = append(rest, h)
		}
	}
	return append(canary, rest...)
}

// ExecuteRequest executes one explicit stage of a previewed rollout.
type ExecuteRequest struct {
	PreviewRequest
	StageIndex  int    `json:"stage_index"`
	Confirm     string `json:"confirm"`
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

// StageExecution reports the runs enqueued for one stage.
type StageExecution struct {
	StageIndex int      `json:"stage_index"`
	RunIDs     []string `json:"run_ids"`
	Enqueued   int      `json:"enqueued"`
}

// ExecuteStage recomputes the plan, validates the stage-bound confirmation
// phrase, and enqueues one run per host in the selected stage. The plan is
// recomputed from the same inputs rather than trusted from the client, so a
// forged preview cannot widen the blast radius.
func (p *Planner) ExecuteStage(ctx context.Context, req ExecuteRequest) (*StageExecution, error) {
	plan, err := p.Preview(ctx, req.PreviewRequest)
	if err != nil {
		return nil, err
	}
	if req.StageIndex < 0 || req.StageIndex >= len(plan.Stages) {
		return nil, fmt.Errorf("%w: stage %d of %d", ErrStageOutOfRange, req.StageIndex, len(plan.Stages))
	}
	if req.Confirm != StageConfirmPhrase(req.StageIndex) {
		return nil, fmt.Errorf("%w: expected %q", ErrConfirmMismatch, StageConfirmPhrase(req.StageIndex))
	}

	action, _ := p.catalog.Get(req.ActionID)
	exec := &StageExecution{StageIndex: req.StageIndex}
	for _, hostID := range plan.Stages[req.StageIndex] {
		rec, err := p.queue.Enqueue(ctx, hostID, action, req.Reason, req.RequestedBy)
		if err != nil {
			return exec, fmt.Errorf("enqueue %s: %w", hostID, err)
		}
		exec.RunIDs = append(exec.RunIDs, rec.RunID)
		exec.Enqueued++
	}

	p.log.Info("stage executed",
		"action", req.ActionID, "stage", req.StageIndex,
		"hosts", exec.Enqueued, "strategy", plan.Strategy)
	return exec, nil
}
