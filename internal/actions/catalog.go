// Package actions holds the catalog of remediation actions the orchestrator
// may queue. The catalog is produced upstream; this core only looks actions
// up and reads their policy metadata.
package actions

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tinkerbelle-io/fleetmend/internal/policy"
)

// ErrConfirmRequired means an action that demands explicit confirmation was
// requested without (or with the wrong) confirmation phrase.
var ErrConfirmRequired = errors.New("confirmation required")

// Action is one remediation recipe: an ordered command list plus the policy
// metadata that gates its execution.
type Action struct {
	ID              string   `yaml:"id" json:"id"`
	Title           string   `yaml:"title" json:"title"`
	Commands        []string `yaml:"commands" json:"commands"`
	RollbackNotes   []string `yaml:"rollback_notes,omitempty" json:"rollback_notes,omitempty"`
	SourceCodes     []string `yaml:"source_codes,omitempty" json:"source_codes,omitempty"`
	RequiresConfirm bool     `yaml:"requires_confirm,omitempty" json:"requires_confirm,omitempty"`
	ConfirmPhrase   string   `yaml:"confirm_phrase,omitempty" json:"confirm_phrase,omitempty"`
	AutoTier        string   `yaml:"auto_tier,omitempty" json:"auto_tier,omitempty"`
	Risk            string   `yaml:"risk,omitempty" json:"risk,omitempty"`
}

// Tier returns the normalized autonomous tier for the action.
func (a Action) Tier() policy.AutoTier {
	return policy.NormalizeAutoTier(a.AutoTier)
}

// RiskLevel returns the normalized risk, defaulting unknown input to high:
// an action whose risk we cannot read is treated as the most dangerous.
func (a Action) RiskLevel() policy.RiskLevel {
	return policy.NormalizeApprovalThreshold(a.Risk, policy.RiskHigh)
}

// ConfirmText is the phrase an operator must echo for actions with
// requires_confirm. Actions without an explicit confirm_phrase get a
// derived one, so the gate never silently degrades to a free pass.
func (a Action) ConfirmText() string {
	if a.ConfirmPhrase != "" {
		return a.ConfirmPhrase
	}
	return "run " + a.ID
}

// CheckConfirm validates the operator-supplied confirmation for an ad hoc
// request. Staged fleet execution carries its own stage-bound phrase and
// does not pass through here.
func (a Action) CheckConfirm(confirm string) error {
	if !a.RequiresConfirm {
		return nil
	}
	if confirm != a.ConfirmText() {
		return fmt.Errorf("%w: action %s expects %q", ErrConfirmRequired, a.ID, a.ConfirmText())
	}
	return nil
}

// Catalog is a read-only id-indexed action set.
type Catalog struct {
	byID map[string]Action
}

// NewCatalog indexes the given actions. Duplicate ids are an error.
func NewCatalog(list []Action) (*Catalog, error) {
	byID := make(map[string]Action, len(list))
	for _, a := range list {
		if a.ID == "" {
			return nil, fmt.Errorf("catalog: action without id (%q)", a.Title)
		}
		if len(a.Commands) == 0 {
			return nil, fmt.Errorf("catalog: action %s has no commands", a.ID)
		}
		if _, dup := byID[a.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate action id %s", a.ID)
		}
		byID[a.ID] = a
	}
	return &Catalog{byID: byID}, nil
}

// catalogFile is the on-disk shape.
type catalogFile struct {
	Actions []Action `yaml:"actions"`
}

// Load reads a YAML action catalog.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return NewCatalog(f.Actions)
}

// Get looks an action up by id.
func (c *Catalog) Get(id string) (Action, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// List returns all actions ordered by id.
func (c *Catalog) List() []Action {
	out := make([]Action, 0, len(c.byID))
	for _, a := range c.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
