// Package registry holds the catalog of agents the daemon can schedule work for.
//
// # Descriptors
//
// An AgentDescriptor declares an agent's identity, category, capability tags,
// how many tasks it may run at once and its scheduling priority:
//
//	type AgentDescriptor struct {
//	    ID                 string
//	    Name               string
//	    Type               string
//	    Capabilities       []string
//	    MaxConcurrentTasks int
//	    MemoryLimit        uint64
//	    Priority           int
//	}
//
// Descriptors are values. The registry clones them on the way in and on the
// way out, so callers can never mutate registry state through a returned
// descriptor.
//
// # Loading
//
// Load merges one or more Sources in order:
//
//	reg := registry.New(logger)
//	err := reg.Load(registry.BuiltinSource(), registry.DirSource("~/.anf/agents"))
//
// The built-in catalog must be valid; an invalid built-in entry fails Load.
// Descriptor files are YAML, TOML or JSON (comments allowed). Files that do
// not parse and entries that fail validation are skipped with a warning. When
// two sources define the same id the later definition wins and a warning is
// logged.
//
// # Concurrency
//
// Reads go through an immutable snapshot published with an atomic pointer, so
// Get and List never block and never observe a half-applied update. Writers
// (Load, Register) serialise on a mutex and publish a fresh snapshot.
package registry
