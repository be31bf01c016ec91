// ABOUTME: Tests for the agent registry: loading, ordering, duplicates and runtime registration
// ABOUTME: Includes directory loading of YAML, TOML and JSONC descriptor files

package registry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestRegistry_LoadBuiltin(t *testing.T) {
	reg := New(testLogger())
	require.NoError(t, reg.Load(BuiltinSource()))

	assert.Equal(t, len(builtinCatalog), reg.Len())

	rust, ok := reg.Get("rust-pro")
	require.True(t, ok)
	assert.Equal(t, "Rust Expert", rust.Name)
	assert.Equal(t, 2, rust.MaxConcurrentTasks)
	assert.Equal(t, SourceBuiltin, rust.Source)

	_, ok = reg.Get("nope")
	assert.False(t, ok)
}

func TestRegistry_CorruptBuiltinIsFatal(t *testing.T) {
	reg := New(testLogger())
	bad := StaticSource{Label: SourceBuiltin, Agents: []AgentDescriptor{{ID: "broken", MaxConcurrentTasks: 0}}}

	err := reg.Load(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
	assert.Equal(t, 0, reg.Len(), "failed load must not publish partial state")
}

func TestRegistry_ListOrderAndFilter(t *testing.T) {
	reg := New(testLogger())
	require.NoError(t, reg.Load(BuiltinSource()))

	all := reg.List("")
	require.Len(t, all, 5)
	assert.Equal(t, "performance-optimizer", all[0].ID, "highest priority first")
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		if prev.Priority == cur.Priority {
			assert.Less(t, prev.ID, cur.ID, "ties ordered by id")
		} else {
			assert.Greater(t, prev.Priority, cur.Priority)
		}
	}

	sparc := reg.List("SPARC")
	require.Len(t, sparc, 2)
	assert.Equal(t, "reviewer", sparc[0].ID)
	assert.Equal(t, "coder", sparc[1].ID)

	assert.Empty(t, reg.List("gardening"))
}

func TestRegistry_DuplicateLastWriteWins(t *testing.T) {
	reg := New(testLogger())
	first := StaticSource{Label: "first", Agents: []AgentDescriptor{{ID: "a1", Name: "First", MaxConcurrentTasks: 1}}}
	second := StaticSource{Label: "second", Agents: []AgentDescriptor{{ID: "a1", Name: "Second", MaxConcurrentTasks: 4}}}

	require.NoError(t, reg.Load(first, second))

	got, ok := reg.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "Second", got.Name)
	assert.Equal(t, 4, got.MaxConcurrentTasks)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_ReturnedDescriptorsAreCopies(t *testing.T) {
	reg := New(testLogger())
	require.NoError(t, reg.Load(BuiltinSource()))

	d, _ := reg.Get("coder")
	d.Capabilities[0] = "mutated"
	d.MaxConcurrentTasks = 99

	again, _ := reg.Get("coder")
	assert.Equal(t, "coding", again.Capabilities[0])
	assert.Equal(t, 5, again.MaxConcurrentTasks)
}

func TestRegistry_Register(t *testing.T) {
	reg := New(testLogger())

	_, err := reg.Register(AgentDescriptor{ID: "", MaxConcurrentTasks: 1})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = reg.Register(AgentDescriptor{ID: "bad:id", MaxConcurrentTasks: 1})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	got, err := reg.Register(AgentDescriptor{ID: "helper", Name: "Helper", MaxConcurrentTasks: 2, Priority: 3})
	require.NoError(t, err)
	assert.Equal(t, SourceCustom, got.Source)

	stored, ok := reg.Get("helper")
	require.True(t, ok)
	assert.Equal(t, 2, stored.MaxConcurrentTasks)
}

func TestRegistry_ConcurrentReadsDuringRegister(t *testing.T) {
	reg := New(testLogger())
	require.NoError(t, reg.Load(BuiltinSource()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				for _, d := range reg.List("") {
					// Every observed descriptor must be fully formed.
					if d.ID == "" || d.MaxConcurrentTasks <= 0 {
						t.Errorf("observed partial descriptor: %+v", d)
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 100; i++ {
		_, err := reg.Register(AgentDescriptor{ID: fmt.Sprintf("custom-%d", i), MaxConcurrentTasks: 1})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, 105, reg.Len())
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "single.yaml", `
id: yaml-agent
name: YAML Agent
type: custom
capabilities: [docs, writing]
max_concurrent_tasks: 2
priority: 4
`)
	writeFile(t, dir, "many.toml", `
[[agents]]
id = "toml-one"
max_concurrent_tasks = 1
priority = 2

[[agents]]
id = "toml-two"
type = "ops"
max_concurrent_tasks = 3
`)
	writeFile(t, dir, "commented.jsonc", `{
  // user override of a builtin
  "id": "coder",
  "name": "My Coder",
  "type": "sparc",
  "max_concurrent_tasks": 1,
  "priority": 1,
}`)
	writeFile(t, dir, "broken.yaml", "id: [unterminated")
	writeFile(t, dir, "invalid.json", `{"id": "neg", "max_concurrent_tasks": -2}`)
	writeFile(t, dir, "noid.yml", "name: nameless\n")
	writeFile(t, dir, "README.md", "# not an agent")

	descs, err := NewDirSource(dir).Descriptors(testLogger())
	require.NoError(t, err)

	ids := make(map[string]AgentDescriptor)
	for _, d := range descs {
		ids[d.ID] = d
	}
	assert.Len(t, ids, 4)
	assert.Contains(t, ids, "yaml-agent")
	assert.Contains(t, ids, "toml-one")
	assert.Contains(t, ids, "toml-two")
	assert.Contains(t, ids, "coder")

	assert.Equal(t, []string{"docs", "writing"}, ids["yaml-agent"].Capabilities)
	assert.Equal(t, "custom", ids["toml-one"].Type, "type defaults to custom")
	assert.Equal(t, "toml-one", ids["toml-one"].Name, "name defaults to id")
	assert.Equal(t, filepath.Join(dir, "many.toml"), ids["toml-two"].Source)

	// Directory entries override builtins when loaded after them.
	reg := New(testLogger())
	require.NoError(t, reg.Load(BuiltinSource(), NewDirSource(dir)))
	coder, ok := reg.Get("coder")
	require.True(t, ok)
	assert.Equal(t, "My Coder", coder.Name)
	assert.Equal(t, 1, coder.MaxConcurrentTasks)
}

func TestDirSource_MissingDirectory(t *testing.T) {
	descs, err := NewDirSource(filepath.Join(t.TempDir(), "absent")).Descriptors(testLogger())
	require.NoError(t, err)
	assert.Empty(t, descs)
}

func TestParseDescriptors_UnsupportedExtension(t *testing.T) {
	_, err := ParseDescriptors("agent.ini", []byte("id=x"))
	assert.Error(t, err)
}
