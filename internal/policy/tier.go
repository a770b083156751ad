// Package policy classifies remediation actions for autonomous execution:
// how much human gating an action needs, and whether a given host falls in
// the canary cohort for a staged rollout.
package policy

import "strings"

// AutoTier classifies how much human gating an action requires.
type AutoTier string

const (
	TierObserve     AutoTier = "observe"
	TierSafeAuto    AutoTier = "safe_auto"
	TierGuardedAuto AutoTier = "guarded_auto"
	TierRiskyManual AutoTier = "risky_manual"
)

// RiskLevel orders actions for approval-threshold comparison.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var tierRank = map[AutoTier]int{
	TierObserve:     0,
	TierSafeAuto:    1,
	TierGuardedAuto: 2,
	TierRiskyManual: 3,
}

var riskRank = map[RiskLevel]int{
	RiskNone:   0,
	RiskLow:    1,
	RiskMedium: 2,
	RiskHigh:   3,
}

// NormalizeAutoTier maps free-form input onto a known tier. Unrecognized
// input falls to safe_auto: bad data must never promote an action into a
// more permissive tier.
func NormalizeAutoTier(raw string) AutoTier {
	tier := AutoTier(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := tierRank[tier]; ok {
		return tier
	}
	return TierSafeAuto
}

// NormalizeApprovalThreshold maps free-form input onto a risk level,
// returning the caller-supplied fallback (org policy) when unrecognized.
func NormalizeApprovalThreshold(raw string, fallback RiskLevel) RiskLevel {
	risk := RiskLevel(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := riskRank[risk]; ok {
		return risk
	}
	return fallback
}

// IsAutoExecutableTier reports whether an action in tier may execute without
// a human in the loop, given the org's maximum autonomous tier. observe and
// risky_manual are never autonomous; safe_auto always is.
func IsAutoExecutableTier(tier, maxAutoTier AutoTier) bool {
	switch tier {
	case TierObserve, TierRiskyManual:
		return false
	case TierSafeAuto:
		return true
	case TierGuardedAuto:
		return tierRank[maxAutoTier] >= tierRank[TierGuardedAuto]
	default:
		return false
	}
}

// RiskRequiresApproval reports whether an action at the given risk level
// needs human approval under the configured threshold. A threshold of
// "none" is an explicit opt-out.
func RiskRequiresApproval(risk, threshold RiskLevel) bool {
	if threshold == RiskNone {
		return false
	}
	return riskRank[risk] >= riskRank[threshold]
}
