// Package guard contains the policy modules evaluated by the pipeline. Each
// module is a self-contained predicate over the canonical event: it receives
// an untyped configuration mapping at construction and produces exactly one
// decision per event.
package guard

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/radiusguard/radius/internal/event"
	"github.com/radiusguard/radius/internal/pipeline"
)

// base carries the module identity shared by every guard.
type base struct {
	name   string
	phases []event.Phase
	mode   pipeline.Mode
}

func (b *base) Name() string          { return b.name }
func (b *base) Phases() []event.Phase { return b.phases }
func (b *base) Mode() pipeline.Mode   { return b.mode }

// newBase reads the shared "mode" key from a module config mapping.
func newBase(name string, phases []event.Phase, cfg map[string]interface{}) base {
	mode := pipeline.ModeEnforce
	if m, ok := cfg["mode"].(string); ok && m == string(pipeline.ModeObserve) {
		mode = pipeline.ModeObserve
	}
	return base{name: name, phases: phases, mode: mode}
}

// decodeConfig maps an untyped module config into a typed struct through a
// YAML round trip so the same tags and coercions apply as for the file.
func decodeConfig(cfg map[string]interface{}, out interface{}) error {
	if cfg == nil {
		return nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode module config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode module config: %w", err)
	}
	return nil
}

// fileTools is the set of tools fs_guard inspects.
var fileTools = map[string]bool{
	"Read": true, "Write": true, "Edit": true,
	"Glob": true, "Grep": true, "NotebookEdit": true,
}

// mutatingTools is the set self_defense treats as write-capable.
var mutatingTools = map[string]bool{
	"Write": true, "Edit": true, "NotebookEdit": true, "MultiEdit": true,
	"Delete": true, "Move": true, "Copy": true, "Rename": true,
	"Chmod": true, "Chown": true,
}

// defaultShellTools is the default shell-tool set for command-level guards.
var defaultShellTools = []string{"Bash"}

// pathArgKeys are the argument names a file path is extracted from.
var pathArgKeys = []string{"file_path", "path", "notebook_path"}

// stringArg returns the first string value among the given argument keys.
func stringArg(args map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := args[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// toStringSet turns a string slice into a membership set.
func toStringSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
