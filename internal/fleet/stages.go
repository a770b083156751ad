package fleet

import (
	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
)

// Rollout staging strategies.
const (
	StrategySequential  = "sequential"
	StrategyGroupCanary = "group_canary"
)

// BuildStages partitions accepted hosts into ordered stages of at most
// stageSize hosts. sequential chunks the list as-is; group_canary first
// interleaves hosts round-robin across groups so no single stage is
// dominated by one group. Every host lands in exactly one stage.
func BuildStages(hosts []hostdir.Host, stageSize int, strategy string) [][]hostdir.Host {
	if len(hosts) == 0 {
		return nil
	}
	if stageSize < 1 {
		stageSize = 1
	}

	ordered := hosts
	if strategy == StrategyGroupCanary {
		ordered = interleaveByGroup(hosts)
	}

	var stages [][]hostdir.Host
	for start := 0; start < len(ordered); start += stageSize {
		end := start + stageSize
		if end > len(ordered) {
			end = len(ordered)
		}
		stage := make([]hostdir.Host, end-start)
		copy(stage, ordered[start:end])
		stages = append(stages, stage)
	}
	return stages
}

// interleaveByGroup deals hosts round-robin from per-group queues. Groups
// keep their first-appearance order and hosts keep their relative order
// within a group, so the result is deterministic.
func interleaveByGroup(hosts []hostdir.Host) []hostdir.Host {
	var groupOrder []string
	queues := map[string][]hostdir.Host{}
	for _, h := range hosts {
		if _, seen := queues[h.Group]; !seen {
			groupOrder = append(groupOrder, h.Group)
		}
		queues[h.Group] = append(queues[h.Group], h)
	}

	out := make([]hostdir.Host, 0, len(hosts))
	for len(out) < len(hosts) {
		for _, g := range groupOrder {
			if q := queues[g]; len(q) > 0 {
				out = append(out, q[0])
				queues[g] = q[1:]
			}
		}
	}
	return out
}
