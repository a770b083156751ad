// Package hostdir provides read-only access to the host directory used for
// fleet selector matching and rollout ordering.
package hostdir

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Host is one fleet member as seen by the rollout planner.
type Host struct {
	ID         string    `yaml:"id" json:"id"`
	Address    string    `yaml:"address,omitempty" json:"address,omitempty"`
	Group      string    `yaml:"group,omitempty" json:"group,omitempty"`
	Tags       []string  `yaml:"tags,omitempty" json:"tags,omitempty"`
	Enabled    bool      `yaml:"enabled" json:"enabled"`
	LastSeenAt time.Time `yaml:"last_seen_at,omitempty" json:"last_seen_at,omitempty"`
}

// Directory lists fleet hosts.
type Directory interface {
	Hosts(ctx context.Context) ([]Host, error)
}

// HasTag reports whether the host carries the given tag.
func (h Host) HasTag(tag string) bool {
	for _, t := range h.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// inventoryFile is the on-disk shape of a static host inventory.
type inventoryFile struct {
	Hosts []Host `yaml:"hosts"`
}

// StaticDirectory serves hosts from an in-memory list, typically loaded
// from a YAML inventory file.
type StaticDirectory struct {
	hosts []Host
}

// NewStaticDirectory wraps a fixed host list.
func NewStaticDirectory(hosts []Host) *StaticDirectory {
	return &StaticDirectory{hosts: hosts}
}

// LoadStaticDirectory reads a YAML inventory file.
func LoadStaticDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inventory: read %s: %w", path, err)
	}
	var inv inventoryFile
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("inventory: parse %s: %w", path, err)
	}
	return &StaticDirectory{hosts: inv.Hosts}, nil
}

// Hosts returns a copy of the inventory.
func (d *StaticDirectory) Hosts(ctx context.Context) ([]Host, error) {
	out := make([]Host, len(d.hosts))
	copy(out, d.hosts)
	return out, nil
}
