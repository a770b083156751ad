package fleet

import (
	"testing"
)

func TestBuildStagesSequential(t *testing.T) {
	hosts := mkHosts(
		[2]string{"a", "g1"}, [2]string{"b", "g1"}, [2]string{"c", "g2"},
		[2]string{"d", "g2"}, [2]string{"e", "g3"},
	)

	stages := BuildStages(hosts, 2, StrategySequential)
	if len(stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(stages))
	}
	want := [][]string{{"a", "b"}, {"c", "d"}, {"e"}}
	for i, stage := range stages {
		got := ids(stage)
		if len(got) != len(want[i]) {
			t.Fatalf("stage %d: got %v, want %v", i, got, want[i])
		}
		for j := range got {
			if got[j] != want[i][j] {
				t.Fatalf("stage %d: got %v, want %v", i, got, want[i])
			}
		}
	}
}

func TestBuildStagesGroupCanaryInterleaves(t *testing.T) {
	hosts := mkHosts(
		[2]string{"a1", "g1"}, [2]string{"a2", "g1"}, [2]string{"a3", "g1"},
		[2]string{"b1", "g2"}, [2]string{"b2", "g2"},
		[2]string{"c1", "g3"},
	)

	stages := BuildStages(hosts, 3, StrategyGroupCanary)
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(stages))
	}
	// Round-robin by group: g1,g2,g3,g1,g2,g1
	first := ids(stages[0])
	wantFirst := []string{"a1", "b1", "c1"}
	for i := range wantFirst {
		if first[i] != wantFirst[i] {
			t.Fatalf("stage 0 = %v, want %v", first, wantFirst)
		}
	}
	// First stage spans three groups rather than being all g1.
	groups := map[string]bool{}
	for _, h := range stages[0] {
		groups[h.Group] = true
	}
	if len(groups) != 3 {
		t.Errorf("first stage should span 3 groups, got %v", groups)
	}
}

func TestBuildStagesExhaustive(t *testing.T) {
	hosts := mkHosts(
		[2]string{"a", "g1"}, [2]string{"b", "g2"}, [2]string{"c", "g1"},
		[2]string{"d", "g3"}, [2]string{"e", "g2"}, [2]string{"f", "g1"},
		[2]string{"g", "g3"},
	)

	for _, strategy := range []string{StrategySequential, StrategyGroupCanary} {
		for _, size := range []int{1, 2, 3, 10} {
			stages := BuildStages(hosts, size, strategy)
			seen := map[string]int{}
			for _, stage := range stages {
				if len(stage) > size {
					t.Errorf("%s size %d: oversized stage %v", strategy, size, ids(stage))
				}
				for _, h := range stage {
					seen[h.ID]++
				}
			}
			if len(seen) != len(hosts) {
				t.Errorf("%s size %d: %d hosts staged, want %d", strategy, size, len(seen), len(hosts))
			}
			for id, n := range seen {
				if n != 1 {
					t.Errorf("%s size %d: host %s staged %d times", strategy, size, id, n)
				}
			}
		}
	}
}

func TestBuildStagesEdgeCases(t *testing.T) {
	if got := BuildStages(nil, 3, StrategySequential); got != nil {
		t.Errorf("no hosts should produce no stages, got %v", got)
	}
	// Stage size below 1 degrades to 1, not a panic or infinite loop.
	stages := BuildStages(mkHosts([2]string{"a", "g"}, [2]string{"b", "g"}), 0, StrategySequential)
	if len(stages) != 2 {
		t.Errorf("stage size 0 should degrade to 1 host per stage, got %d stages", len(stages))
	}
}
