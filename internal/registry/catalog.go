// ABOUTME: Built-in agent catalog compiled into the daemon
// ABOUTME: Validated strictly at load time; a bad entry aborts startup

package registry

import (
	"fmt"
	"log/slog"
)

// SourceBuiltin names the compiled-in catalog.
const SourceBuiltin = "builtin"

const mib = 1024 * 1024

var builtinCatalog = []AgentDescriptor{
	{
		ID:                 "backend-typescript-architect",
		Name:               "Backend TypeScript Architect",
		Type:               "development",
		Capabilities:       []string{"typescript", "backend", "architecture"},
		MaxConcurrentTasks: 3,
		MemoryLimit:        512 * mib,
		Priority:           9,
	},
	{
		ID:                 "rust-pro",
		Name:               "Rust Expert",
		Type:               "development",
		Capabilities:       []string{"rust", "systems", "performance"},
		MaxConcurrentTasks: 2,
		MemoryLimit:        256 * mib,
		Priority:           8,
	},
	{
		ID:                 "performance-optimizer",
		Name:               "Performance Optimizer",
		Type:               "optimization",
		Capabilities:       []string{"performance", "profiling", "optimization"},
		MaxConcurrentTasks: 1,
		MemoryLimit:        1024 * mib,
		Priority:           10,
	},
	{
		ID:                 "coder",
		Name:               "SPARC Coder",
		Type:               "sparc",
		Capabilities:       []string{"coding", "implementation"},
		MaxConcurrentTasks: 5,
		MemoryLimit:        512 * mib,
		Priority:           7,
	},
	{
		ID:                 "reviewer",
		Name:               "SPARC Reviewer",
		Type:               "sparc",
		Capabilities:       []string{"code-review", "quality"},
		MaxConcurrentTasks: 3,
		MemoryLimit:        256 * mib,
		Priority:           8,
	},
}

// StaticSource serves a fixed list of descriptors. Every entry must validate.
type StaticSource struct {
	Label  string
	Agents []AgentDescriptor
}

// BuiltinSource returns the compiled-in catalog.
func BuiltinSource() StaticSource {
	return StaticSource{Label: SourceBuiltin, Agents: builtinCatalog}
}

// Name implements Source.
func (s StaticSource) Name() string { return s.Label }

// Descriptors implements Source.
func (s StaticSource) Descriptors(_ *slog.Logger) ([]AgentDescriptor, error) {
	out := make([]AgentDescriptor, 0, len(s.Agents))
	for i, d := range s.Agents {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		d = d.Clone()
		d.Source = s.Label
		out = append(out, d)
	}
	return out, nil
}
