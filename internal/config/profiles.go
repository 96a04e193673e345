package config

import "fmt"

// Canonical profile names.
const (
	ProfileLocal     = "local"
	ProfileStandard  = "standard"
	ProfileUnbounded = "unbounded"
)

// profileAliases maps accepted profile names to canonical ones.
var profileAliases = map[string]string{
	"local":     ProfileLocal,
	"standard":  ProfileStandard,
	"unbounded": ProfileUnbounded,
	"strict":    ProfileLocal,
	"balanced":  ProfileStandard,
	"monitor":   ProfileUnbounded,
	"bunker":    ProfileLocal,
	"tactical":  ProfileStandard,
	"yolo":      ProfileUnbounded,
	"unleashed": ProfileUnbounded,
}

// ResolveProfile maps a profile name through the alias table. Unknown names
// are a configuration error.
func ResolveProfile(name string) (string, error) {
	if name == "" {
		return ProfileStandard, nil
	}
	if canonical, ok := profileAliases[name]; ok {
		return canonical, nil
	}
	return "", fmt.Errorf("unknown profile %q", name)
}

// profileDefaults returns the defaults overlay document for a canonical
// profile. The overlay is expressed as a generic mapping so the resolver can
// deep-merge it between built-in defaults and the user document.
func profileDefaults(profile string) map[string]interface{} {
	switch profile {
	case ProfileLocal:
		return map[string]interface{}{
			"global": map[string]interface{}{
				"defaultAction": "deny",
			},
			"modules": []interface{}{
				"kill_switch", "self_defense", "tripwire_guard", "tool_policy",
				"fs_guard", "command_guard", "exec_sandbox", "egress_guard",
				"rate_budget", "repetition_guard", "skill_scanner",
				"output_dlp", "approval_gate", "audit",
			},
			"moduleConfig": map[string]interface{}{
				"command_guard": map[string]interface{}{
					"extraDenyPatterns": []interface{}{
						`(^|\s)(cat|less|more|head|tail|grep|awk|sed|strings)\s+[^|;&]*\.env\b`,
						`(^|\s)(printenv|env)(\s|$)`,
					},
				},
				"output_dlp": map[string]interface{}{
					"action": "deny",
				},
			},
		}

	case ProfileStandard:
		return map[string]interface{}{
			"global": map[string]interface{}{
				"defaultAction": "deny",
			},
			"modules": []interface{}{
				"kill_switch", "self_defense", "tool_policy", "fs_guard",
				"command_guard", "egress_guard", "rate_budget",
				"repetition_guard", "skill_scanner", "output_dlp", "audit",
			},
		}

	case ProfileUnbounded:
		return map[string]interface{}{
			"global": map[string]interface{}{
				"defaultAction": "allow",
			},
			"modules": []interface{}{
				"kill_switch", "output_dlp", "audit",
			},
			"moduleConfig": map[string]interface{}{
				"output_dlp": map[string]interface{}{
					"action": "alert",
				},
			},
		}
	}
	return map[string]interface{}{}
}
