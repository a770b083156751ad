package fleet

import (
	"testing"

	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
)

func mkHosts(specs ...[2]string) []hostdir.Host {
	out := make([]hostdir.Host, len(specs))
	for i, s := range specs {
		out[i] = hostdir.Host{ID: s[0], Group: s[1], Enabled: true}
	}
	return out
}

func TestSafeguardsMaxHosts(t *testing.T) {
	hosts := mkHosts([2]string{"a", "g1"}, [2]string{"b", "g1"}, [2]string{"c", "g2"})

	res := ApplySafeguards(SafeguardInput{
		Hosts:             hosts,
		TotalEnabledFleet: 100,
		Requested:         Caps{MaxHosts: 2},
	})
	if len(res.Accepted) != 2 {
		t.Fatalf("expected 2 accepted, got %d", len(res.Accepted))
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Reason != CapMaxHosts {
		t.Errorf("expected c rejected by %s, got %+v", CapMaxHosts, res.Rejected)
	}
}

func TestSafeguardsPerGroup(t *testing.T) {
	hosts := mkHosts(
		[2]string{"a", "g1"}, [2]string{"b", "g1"}, [2]string{"c", "g1"},
		[2]string{"d", "g2"},
	)

	res := ApplySafeguards(SafeguardInput{
		Hosts:             hosts,
		TotalEnabledFleet: 100,
		Requested:         Caps{MaxPerGroup: 2},
	})
	if got := ids(res.Accepted); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "d" {
		t.Fatalf("expected a,b,d accepted, got %v", got)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Host.ID != "c" || res.Rejected[0].Reason != CapMaxGroup {
		t.Errorf("expected c rejected by %s, got %+v", CapMaxGroup, res.Rejected)
	}
}

func TestSafeguardsPercentOfFleet(t *testing.T) {
	hosts := mkHosts([2]string{"a", "g"}, [2]string{"b", "g"}, [2]string{"c", "g"})

	res := ApplySafeguards(SafeguardInput{
		Hosts:             hosts,
		TotalEnabledFleet: 10,
		Requested:         Caps{MaxPercentOfEnabledFleet: 25},
	})
	if res.AllowedByPercent != 2 { // floor(10 * 25 / 100)
		t.Fatalf("AllowedByPercent = %d, want 2", res.AllowedByPercent)
	}
	if len(res.Accepted) != 2 {
		t.Fatalf("expected 2 accepted, got %d", len(res.Accepted))
	}
	if res.Rejected[0].Reason != CapMaxPercent {
		t.Errorf("expected rejection by %s, got %s", CapMaxPercent, res.Rejected[0].Reason)
	}
}

func TestSafeguardsHardCapsWin(t *testing.T) {
	hosts := mkHosts([2]string{"a", "g"}, [2]string{"b", "g"}, [2]string{"c", "g"})

	res := ApplySafeguards(SafeguardInput{
		Hosts:             hosts,
		TotalEnabledFleet: 100,
		Requested:         Caps{MaxHosts: 50},
		Hard:              Caps{MaxHosts: 1},
	})
	if res.MaxHostsEffective != 1 {
		t.Errorf("effective cap should be min(requested, hard) = 1, got %d", res.MaxHostsEffective)
	}
	if len(res.Accepted) != 1 {
		t.Errorf("expected 1 accepted, got %d", len(res.Accepted))
	}

	// Unlimited request defers to the hard cap; unlimited hard defers to
	// the request.
	res = ApplySafeguards(SafeguardInput{Hosts: hosts, TotalEnabledFleet: 100, Hard: Caps{MaxHosts: 2}})
	if res.MaxHostsEffective != 2 || len(res.Accepted) != 2 {
		t.Errorf("unlimited request should use hard cap, got eff=%d accepted=%d", res.MaxHostsEffective, len(res.Accepted))
	}
	res = ApplySafeguards(SafeguardInput{Hosts: hosts, TotalEnabledFleet: 100, Requested: Caps{MaxHosts: 2}})
	if res.MaxHostsEffective != 2 {
		t.Errorf("unlimited hard should use request, got %d", res.MaxHostsEffective)
	}
}

func TestSafeguardsNoCapsAcceptAll(t *testing.T) {
	hosts := mkHosts([2]string{"a", "g1"}, [2]string{"b", "g2"})
	res := ApplySafeguards(SafeguardInput{Hosts: hosts, TotalEnabledFleet: 2})
	if len(res.Accepted) != 2 || len(res.Rejected) != 0 {
		t.Errorf("no caps should accept everything: %+v", res)
	}
}

// Shrinking any cap must never grow the accepted set.
func TestSafeguardsMonotonic(t *testing.T) {
	hosts := mkHosts(
		[2]string{"a", "g1"}, [2]string{"b", "g1"}, [2]string{"c", "g2"},
		[2]string{"d", "g2"}, [2]string{"e", "g3"}, [2]string{"f", "g3"},
	)

	accepted := func(c Caps) int {
		return len(ApplySafeguards(SafeguardInput{
			Hosts: hosts, TotalEnabledFleet: 12, Requested: c,
		}).Accepted)
	}

	for maxHosts := 6; maxHosts >= 1; maxHosts-- {
		for perGroup := 2; perGroup >= 1; perGroup-- {
			for pct := 100; pct >= 10; pct -= 30 {
				base := accepted(Caps{MaxHosts: maxHosts, MaxPerGroup: perGroup, MaxPercentOfEnabledFleet: pct})
				for _, tighter := range []Caps{
					{MaxHosts: maxHosts - 1, MaxPerGroup: perGroup, MaxPercentOfEnabledFleet: pct},
					{MaxHosts: maxHosts, MaxPerGroup: perGroup - 1, MaxPercentOfEnabledFleet: pct},
					{MaxHosts: maxHosts, MaxPerGroup: perGroup, MaxPercentOfEnabledFleet: pct - 10},
				} {
					if tighter.MaxHosts < 1 || tighter.MaxPerGroup < 1 || tighter.MaxPercentOfEnabledFleet < 1 {
						continue
					}
					if got := accepted(tighter); got > base {
						t.Fatalf("shrinking caps grew accepted set: %+v -> %d, %+v -> %d", Caps{maxHosts, perGroup, pct}, base, tighter, got)
					}
				}
			}
		}
	}
}
