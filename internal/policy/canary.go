package policy

import "hash/fnv"

// CanaryPercentForTier resolves the effective canary percent for an action
// tier. Uniformly safe actions skip staged rollout entirely; tiers that are
// never autonomous never roll out.
func CanaryPercentForTier(tier AutoTier, basePercent int) int {
	switch tier {
	case TierSafeAuto:
		return 100
	case TierGuardedAuto:
		if basePercent < 0 {
			return 0
		}
		if basePercent > 100 {
			return 100
		}
		return basePercent
	default:
		return 0
	}
}

// StableCanaryBucket maps a key to a 0-99 slot. The same key always lands
// in the same bucket, so hosts never flap in or out of a canary cohort.
func StableCanaryBucket(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % 100)
}

// CanaryDecision is the outcome of a canary cohort check.
type CanaryDecision struct {
	Bucket   int  `json:"bucket"`
	Selected bool `json:"selected"`
}

// ShouldSelectCanary decides whether a host is in the canary cohort for an
// action at the given percent. The boundaries skip hashing: percent <= 0 is
// a sentinel "never" (bucket 99), percent >= 100 a sentinel "always"
// (bucket 0).
func ShouldSelectCanary(hostID, actionID string, percent int) CanaryDecision {
	if percent <= 0 {
		return CanaryDecision{Bucket: 99, Selected: false}
	}
	if percent >= 100 {
		return CanaryDecision{Bucket: 0, Selected: true}
	}
	bucket := StableCanaryBucket(hostID + "::" + actionID)
	return CanaryDecision{Bucket: bucket, Selected: bucket < percent}
}
