package fleet

import (
	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
)

// Safeguard cap identifiers, returned as rejection reasons so an operator
// can see which limit excluded a host.
const (
	CapMaxHosts   = "max_hosts"
	CapMaxGroup   = "max_per_group"
	CapMaxPercent = "max_percent_of_enabled_fleet"
)

// Caps are blast-radius limits. Zero or negative means unlimited.
type Caps struct {
	MaxHosts                 int `json:"max_hosts,omitempty"`
	MaxPerGroup              int `json:"max_per_group,omitempty"`
	MaxPercentOfEnabledFleet int `json:"max_percent_of_enabled_fleet,omitempty"`
}

// SafeguardInput is everything the blast-radius check needs.
type SafeguardInput struct {
	Hosts             []hostdir.Host
	TotalEnabledFleet int
	Requested         Caps // caller-requested caps
	Hard              Caps // operator-configured ceilings
}

// RejectedHost pairs an excluded host with the cap that excluded it.
type RejectedHost struct {
	Host   hostdir.Host `json:"host"`
	Reason string       `json:"reason"`
}

// SafeguardResult is the outcome of a blast-radius check.
type SafeguardResult struct {
	Accepted []hostdir.Host `json:"accepted"`
	Rejected []RejectedHost `json:"rejected"`

	MaxHostsEffective   int `json:"max_hosts_effective"`
	MaxPerGroupEffective int `json:"max_per_group_effective"`
	MaxPercentEffective int `json:"max_percent_of_enabled_fleet_effective"`
	AllowedByPercent    int `json:"allowed_by_percent"`
}

// effectiveCap combines a requested cap with a hard operator ceiling.
// Either being unlimited (<= 0) defers to the other; both unlimited is 0.
func effectiveCap(requested, hard int) int {
	switch {
	case requested <= 0:
		return hard
	case hard <= 0:
		return requested
	case requested < hard:
		return requested
	default:
		return hard
	}
}

// ApplySafeguards walks the (already sorted) candidate list in order and
// accepts each host that fits every cap simultaneously; every other host is
// rejected with the first cap that excluded it. Shrinking any cap never
// grows the accepted set.
func ApplySafeguards(in SafeguardInput) SafeguardResult {
	res := SafeguardResult{
		MaxHostsEffective:    effectiveCap(in.Requested.MaxHosts, in.Hard.MaxHosts),
		MaxPerGroupEffective: effectiveCap(in.Requested.MaxPerGroup, in.Hard.MaxPerGroup),
		MaxPercentEffective:  effectiveCap(in.Requested.MaxPercentOfEnabledFleet, in.Hard.MaxPercentOfEnabledFleet),
	}

	percentLimited := res.MaxPercentEffective > 0
	if percentLimited {
		res.AllowedByPercent = in.TotalEnabledFleet * res.MaxPercentEffective / 100
	} else {
		res.AllowedByPercent = len(in.Hosts)
	}

	perGroup := map[string]int{}
	for _, h := range in.Hosts {
		switch {
		case res.MaxHostsEffective > 0 && len(res.Accepted) >= res.MaxHostsEffective:
			res.Rejected = append(res.Rejected, RejectedHost{Host: h, Reason: CapMaxHosts})
		case percentLimited && len(res.Accepted) >= res.AllowedByPercent:
			res.Rejected = append(res.Rejected, RejectedHost{Host: h, Reason: CapMaxPercent})
		case res.MaxPerGroupEffective > 0 && perGroup[h.Group] >= res.MaxPerGroupEffective:
			res.Rejected = append(res.Rejected, RejectedHost{Host: h, Reason: CapMaxGroup})
		default:
			res.Accepted = append(res.Accepted, h)
			perGroup[h.Group]++
		}
	}
	return res
}
