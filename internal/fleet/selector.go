// Package fleet plans staged remediation rollouts: selector matching,
// blast-radius safeguards, and stage batching. Planning is pure; stage
// execution enqueues runs through an injected enqueuer.
package fleet

import (
	"sort"
	"strings"

	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
)

// Selector is a normalized fleet filter. The zero value matches every host.
type Selector struct {
	HostIDs     []string `json:"host_ids,omitempty"`
	Groups      []string `json:"groups,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	EnabledOnly bool     `json:"enabled_only,omitempty"`

	// MatchNone is set when the raw selector could not be understood.
	// Unparseable input degrades to matching nothing, never everything.
	MatchNone bool `json:"match_none,omitempty"`
}

// NormalizeSelector turns a decoded JSON value into a Selector. Accepted
// fields: host_ids, groups, tags (string or string list), enabled_only
// (bool). nil input matches all hosts; anything unrecognizable fails closed.
func NormalizeSelector(raw any) Selector {
	if raw == nil {
		return Selector{}
	}

	fields, ok := raw.(map[string]any)
	if !ok {
		return Selector{MatchNone: true}
	}

	var sel Selector
	for key, val := range fields {
		switch strings.ToLower(key) {
		case "host_ids", "hosts":
			ids, ok := stringList(val)
			if !ok {
				return Selector{MatchNone: true}
			}
			sel.HostIDs = ids
		case "groups", "group":
			groups, ok := stringList(val)
			if !ok {
				return Selector{MatchNone: true}
			}
			sel.Groups = groups
		case "tags", "tag":
			tags, ok := stringList(val)
			if !ok {
				return Selector{MatchNone: true}
			}
			sel.Tags = tags
		case "enabled_only":
			b, ok := val.(bool)
			if !ok {
				return Selector{MatchNone: true}
			}
			sel.EnabledOnly = b
		default:
			return Selector{MatchNone: true}
		}
	}
	return sel
}

func stringList(val any) ([]string, bool) {
	switch v := val.(type) {
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, true
		}
		return []string{v}, true
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// HasFilter reports whether the selector constrains the candidate set
// beyond "all hosts".
func (s Selector) HasFilter() bool {
	return s.MatchNone || s.EnabledOnly || len(s.HostIDs) > 0 || len(s.Groups) > 0 || len(s.Tags) > 0
}

// Matches reports whether a host satisfies every present predicate.
func (s Selector) Matches(h hostdir.Host) bool {
	if s.MatchNone {
		return false
	}
	if s.EnabledOnly && !h.Enabled {
		return false
	}
	if len(s.HostIDs) > 0 && !contains(s.HostIDs, h.ID) {
		return false
	}
	if len(s.Groups) > 0 && !contains(s.Groups, h.Group) {
		return false
	}
	for _, tag := range s.Tags {
		if !h.HasTag(tag) {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// SortForRollout orders hosts deterministically for staging: most recently
// seen first, id as tiebreaker. Stage membership is then reproducible for
// the same inputs.
func SortForRollout(hosts []hostdir.Host) []hostdir.Host {
	out := make([]hostdir.Host, len(hosts))
	copy(out, hosts)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].LastSeenAt.After(out[j].LastSeenAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
