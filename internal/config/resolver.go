package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default file names probed in the working directory when no explicit path
// is given.
var defaultFileNames = []string{"radius.yaml", "radius.yml", ".radius.yaml"}

// Load resolves the configuration: built-in defaults <- profile defaults <-
// user document, then ${VAR} template expansion and normalization. An empty
// path probes the default file names; a missing file yields pure defaults.
func Load(path string) (*Config, error) {
	doc, err := readUserDocument(path)
	if err != nil {
		return nil, err
	}

	// The profile named by the user selects which defaults overlay applies,
	// so it has to be resolved before merging.
	profile, err := ResolveProfile(stringAt(doc, "global", "profile"))
	if err != nil {
		return nil, err
	}

	merged := deepMergeDoc(builtinDefaults(), profileDefaults(profile))
	merged = deepMergeDoc(merged, doc)

	normalizeAdapterKeys(merged)

	if err := expandTemplates(merged); err != nil {
		return nil, err
	}

	cfg, err := decode(merged)
	if err != nil {
		return nil, err
	}
	cfg.Global.Profile = profile

	switch cfg.Global.DefaultAction {
	case "allow", "deny":
	default:
		return nil, fmt.Errorf("global.defaultAction must be allow or deny, got %q", cfg.Global.DefaultAction)
	}

	return cfg, nil
}

// readUserDocument loads the YAML file into a generic mapping. Absent files
// resolve to an empty document.
func readUserDocument(path string) (map[string]interface{}, error) {
	if path == "" {
		for _, name := range defaultFileNames {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}
	if path == "" {
		return map[string]interface{}{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	doc := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return doc, nil
}

// decode round-trips the merged generic document through YAML into the typed
// Config so struct tags and type coercion apply uniformly.
func decode(doc map[string]interface{}) (*Config, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode merged config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode merged config: %w", err)
	}
	return cfg, nil
}

// normalizeAdapterKeys rewrites adapters.claudeTelegram to the canonical
// adapters.claude-telegram key.
func normalizeAdapterKeys(doc map[string]interface{}) {
	adapters, ok := doc["adapters"].(map[string]interface{})
	if !ok {
		return
	}
	if v, ok := adapters["claudeTelegram"]; ok {
		if _, exists := adapters["claude-telegram"]; !exists {
			adapters["claude-telegram"] = v
		}
		delete(adapters, "claudeTelegram")
	}
}

// deepMergeDoc merges overlay over base: map values merge recursively, every
// other type (sequences included) is replaced. Neither input is mutated.
func deepMergeDoc(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range overlay {
		if om, ok := ov.(map[string]interface{}); ok {
			if bm, ok := out[k].(map[string]interface{}); ok {
				out[k] = deepMergeDoc(bm, om)
				continue
			}
		}
		out[k] = ov
	}
	return out
}

// stringAt reads a nested string value from a generic document.
func stringAt(doc map[string]interface{}, keys ...string) string {
	cur := interface{}(doc)
	for _, k := range keys {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = m[k]
	}
	s, _ := cur.(string)
	return s
}

// builtinDefaults is the base configuration document every profile and user
// document overlays.
func builtinDefaults() map[string]interface{} {
	return map[string]interface{}{
		"global": map[string]interface{}{
			"profile":                ProfileStandard,
			"defaultAction":          "deny",
			"workspace":              "${CWD}",
			"onUndefinedTemplateVar": "error",
		},
		"audit": map[string]interface{}{
			"enabled":          true,
			"file":             "./radius-audit.jsonl",
			"stdout":           false,
			"includeArguments": false,
			"includeResults":   false,
		},
		"approval": map[string]interface{}{
			"enabled":            false,
			"mode":               "sync_wait",
			"defaultChannel":     "telegram",
			"onTimeout":          "deny",
			"onConnectorError":   "deny",
			"leaseDefaultTtlSec": 300,
			"leaseMaxTtlSec":     1800,
			"metadataChannelKeys": []interface{}{
				"channel", "transportChannel", "messenger",
			},
			"telegram": map[string]interface{}{
				"pollIntervalMs": 1000,
				"transport":      "polling",
			},
			"http": map[string]interface{}{
				"timeoutMs": 10000,
			},
			"store": map[string]interface{}{
				"driver": "memory",
				"path":   "./.radius/state.db",
			},
		},
		"adapters": map[string]interface{}{},
		"modules": []interface{}{
			"kill_switch", "self_defense", "tool_policy", "fs_guard",
			"command_guard", "egress_guard", "rate_budget",
			"repetition_guard", "skill_scanner", "output_dlp", "audit",
		},
		"moduleConfig": map[string]interface{}{},
	}
}
