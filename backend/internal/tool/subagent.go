package tool

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// agentFile is the on-disk shape of a .mux/agents/*.yaml subagent config.
type agentFile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Runnable    *bool  `yaml:"runnable"`
	Extends     string `yaml:"extends"`
}

// DiscoverSubagents reads every .mux/agents/*.yaml file under workspaceDir,
// resolving Runnable through the "extends" chain: an agent that does not
// set runnable inherits it from the base agent it extends.
func DiscoverSubagents(workspaceDir string) ([]SubagentDescriptor, error) {
	dir := filepath.Join(workspaceDir, ".mux", "agents")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tool: reading %s: %w", dir, err)
	}

	byName := make(map[string]agentFile)
	var order []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("tool: reading %s: %w", e.Name(), err)
		}
		var af agentFile
		if err := yaml.Unmarshal(data, &af); err != nil {
			return nil, fmt.Errorf("tool: parsing %s: %w", e.Name(), err)
		}
		if af.Name == "" {
			continue
		}
		byName[af.Name] = af
		order = append(order, af.Name)
	}

	out := make([]SubagentDescriptor, 0, len(order))
	for _, name := range order {
		af := byName[name]
		out = append(out, SubagentDescriptor{
			Name:        af.Name,
			Description: af.Description,
			Runnable:    resolveRunnable(af, byName, make(map[string]bool)),
		})
	}
	return out, nil
}

// resolveRunnable walks the extends chain; visiting guards against a cycle
// in a malformed config set.
func resolveRunnable(af agentFile, byName map[string]agentFile, visiting map[string]bool) bool {
	if af.Runnable != nil {
		return *af.Runnable
	}
	if af.Extends == "" || visiting[af.Name] {
		return true // default: runnable unless explicitly disabled
	}
	base, ok := byName[af.Extends]
	if !ok {
		return true
	}
	visiting[af.Name] = true
	return resolveRunnable(base, byName, visiting)
}
