// ABOUTME: AgentDescriptor type with validation and deep cloning
// ABOUTME: Field tags cover YAML, TOML and JSON descriptor files

package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidDescriptor indicates a descriptor failed validation.
var ErrInvalidDescriptor = errors.New("invalid agent descriptor")

// AgentDescriptor describes one schedulable agent.
type AgentDescriptor struct {
	ID                 string   `json:"id" yaml:"id" toml:"id"`
	Name               string   `json:"name" yaml:"name" toml:"name"`
	Type               string   `json:"type" yaml:"type" toml:"type"`
	Capabilities       []string `json:"capabilities" yaml:"capabilities" toml:"capabilities"`
	MaxConcurrentTasks int      `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks" toml:"max_concurrent_tasks"`
	MemoryLimit        uint64   `json:"memory_limit" yaml:"memory_limit" toml:"memory_limit"` // bytes, informational
	Priority           int      `json:"priority" yaml:"priority" toml:"priority"`
	Description        string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`

	// Source records where the descriptor came from ("builtin", a file path, "custom").
	Source string `json:"source,omitempty" yaml:"-" toml:"-"`
}

// Validate checks the fields the scheduler depends on.
func (d AgentDescriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDescriptor)
	}
	if strings.ContainsAny(d.ID, ": \t\n") {
		return fmt.Errorf("%w: id %q must not contain colons or whitespace", ErrInvalidDescriptor, d.ID)
	}
	if d.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("%w: %s: max_concurrent_tasks must be positive, got %d",
			ErrInvalidDescriptor, d.ID, d.MaxConcurrentTasks)
	}
	return nil
}

// HasCapability reports whether the descriptor declares the given tag.
func (d AgentDescriptor) HasCapability(tag string) bool {
	return slices.Contains(d.Capabilities, tag)
}

// Clone returns a deep copy.
func (d AgentDescriptor) Clone() AgentDescriptor {
	d.Capabilities = slices.Clone(d.Capabilities)
	return d
}

// withDefaults fills optional fields of a user-supplied descriptor.
func (d AgentDescriptor) withDefaults() AgentDescriptor {
	d.ID = strings.TrimSpace(d.ID)
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.Type == "" {
		d.Type = "custom"
	}
	if d.MaxConcurrentTasks == 0 {
		d.MaxConcurrentTasks = 1
	}
	return d
}
