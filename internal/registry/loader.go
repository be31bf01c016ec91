// ABOUTME: Loads user-defined agent descriptors from a directory of YAML, TOML or JSON files
// ABOUTME: Malformed files and invalid entries are skipped with a warning

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DirSource scans a directory for descriptor files.
type DirSource struct {
	Dir string
}

// NewDirSource returns a DirSource for dir. A leading "~/" is expanded to
// the user's home directory.
func NewDirSource(dir string) DirSource {
	return DirSource{Dir: expandHome(dir)}
}

// Name implements Source.
func (s DirSource) Name() string { return s.Dir }

// Descriptors implements Source. A missing directory yields no agents; any
// other problem is logged and the offending file skipped.
func (s DirSource) Descriptors(logger *slog.Logger) ([]AgentDescriptor, error) {
	if s.Dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("custom agent directory not found", "dir", s.Dir)
		return nil, nil
	}
	if err != nil {
		logger.Warn("cannot read custom agent directory", "dir", s.Dir, "error", err)
		return nil, nil
	}

	var out []AgentDescriptor
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(s.Dir, entry.Name())
		if !isDescriptorFile(path) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable agent file", "path", path, "error", err)
			continue
		}

		descs, err := ParseDescriptors(path, data)
		if err != nil {
			logger.Warn("skipping malformed agent file", "path", path, "error", err)
			continue
		}

		for _, d := range descs {
			d = d.withDefaults()
			if err := d.Validate(); err != nil {
				logger.Warn("skipping invalid agent entry", "path", path, "error", err)
				continue
			}
			d.Source = path
			out = append(out, d)
		}
	}
	return out, nil
}

// ParseDescriptors decodes a descriptor file. The format is chosen by file
// extension. A file holds either a single descriptor at the top level or a
// list under "agents".
func ParseDescriptors(path string, data []byte) ([]AgentDescriptor, error) {
	var list struct {
		Agents []AgentDescriptor `json:"agents" yaml:"agents" toml:"agents"`
	}
	var single AgentDescriptor

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
		if len(list.Agents) > 0 {
			return list.Agents, nil
		}
		if err := yaml.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}

	case ".toml":
		if _, err := toml.Decode(string(data), &list); err != nil {
			return nil, fmt.Errorf("parsing toml: %w", err)
		}
		if len(list.Agents) > 0 {
			return list.Agents, nil
		}
		if _, err := toml.Decode(string(data), &single); err != nil {
			return nil, fmt.Errorf("parsing toml: %w", err)
		}

	case ".json", ".jsonc":
		clean := jsonc.ToJSON(data)
		if err := json.Unmarshal(clean, &list); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
		if len(list.Agents) > 0 {
			return list.Agents, nil
		}
		if err := json.Unmarshal(clean, &single); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported descriptor format %q", filepath.Ext(path))
	}

	if single.ID == "" {
		return nil, errors.New("no agent id found")
	}
	return []AgentDescriptor{single}, nil
}

func isDescriptorFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".toml", ".json", ".jsonc":
		return true
	}
	return false
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
