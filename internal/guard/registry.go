package guard

import (
	"fmt"
	"log/slog"

	"github.com/radiusguard/radius/internal/audit"
	"github.com/radiusguard/radius/internal/config"
	"github.com/radiusguard/radius/internal/pipeline"
	"github.com/radiusguard/radius/internal/state"
)

// BuildModules instantiates the configured module list in order, applying
// per-module config overrides and deriving cross-module bindings: egress
// bindings fall out of tool_policy rules, and approval_gate inherits the
// approval subsystem's channel routing defaults.
func BuildModules(cfg *config.Config, store state.Store, recorder *audit.Recorder, logger *slog.Logger) ([]pipeline.Module, error) {
	if logger == nil {
		logger = slog.Default()
	}

	moduleCfg := func(name string) map[string]interface{} {
		if cfg.ModuleConfig == nil {
			return nil
		}
		return cfg.ModuleConfig[name]
	}

	// A module that declares store.required must never run against the
	// in-memory store.
	if _, persistent := store.(*state.SQLiteStore); !persistent {
		for _, name := range cfg.Modules {
			mc := moduleCfg(name)
			sc, _ := mc["store"].(map[string]interface{})
			if required, _ := sc["required"].(bool); required {
				return nil, fmt.Errorf("module %s requires a persistent store but driver is not sqlite", name)
			}
		}
	}

	// tool_policy is built eagerly (even if it appears later in the list)
	// so egress bindings can be derived from its rules.
	var toolPolicy *ToolPolicy
	for _, name := range cfg.Modules {
		if name == "tool_policy" {
			tp, err := NewToolPolicy(moduleCfg(name), logger)
			if err != nil {
				return nil, fmt.Errorf("module tool_policy: %w", err)
			}
			toolPolicy = tp
			break
		}
	}

	derivedBindings := map[string]map[string]interface{}{}
	if toolPolicy != nil {
		for _, rule := range toolPolicy.Rules() {
			tool, _ := rule["tool"].(string)
			egress, _ := rule["egress"].(map[string]interface{})
			if tool == "" || tool == "*" || egress == nil {
				continue
			}
			if _, exists := derivedBindings[tool]; !exists {
				derivedBindings[tool] = egress
			}
		}
	}

	var modules []pipeline.Module
	for _, name := range cfg.Modules {
		mc := moduleCfg(name)

		var (
			m   pipeline.Module
			err error
		)
		switch name {
		case "kill_switch":
			m, err = NewKillSwitch(mc, logger)
		case "tool_policy":
			m = toolPolicy
		case "fs_guard":
			m, err = NewFSGuard(mc, logger)
		case "command_guard":
			m, err = NewCommandGuard(mc, logger)
		case "exec_sandbox":
			m, err = NewExecSandbox(mc, logger)
		case "egress_guard":
			m, err = NewEgressGuard(mc, derivedBindings, logger)
		case "output_dlp":
			m, err = NewOutputDLP(mc, logger)
		case "rate_budget":
			m, err = NewRateBudget(mc, store, logger)
		case "repetition_guard":
			m, err = NewRepetitionGuard(mc, store, logger)
		case "tripwire_guard":
			m, err = NewTripwireGuard(mc, logger)
		case "self_defense":
			m, err = NewSelfDefense(mc, logger)
		case "approval_gate":
			m, err = NewApprovalGate(withApprovalDefaults(mc, cfg.Approval), logger)
		case "skill_scanner":
			m, err = NewSkillScanner(mc, logger)
		case "verdict_provider":
			m, err = NewVerdictProvider(mc, logger)
		case "audit":
			m = NewAuditModule(mc, recorder)
		default:
			return nil, fmt.Errorf("unknown module %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", name, err)
		}
		modules = append(modules, m)
	}

	return modules, nil
}

// withApprovalDefaults layers the approval subsystem's routing settings
// under the approval_gate module config.
func withApprovalDefaults(mc map[string]interface{}, ac config.ApprovalConfig) map[string]interface{} {
	out := map[string]interface{}{}
	if ac.DefaultChannel != "" {
		out["defaultChannel"] = ac.DefaultChannel
	}
	if len(ac.MetadataChannelKeys) > 0 {
		keys := make([]interface{}, len(ac.MetadataChannelKeys))
		for i, k := range ac.MetadataChannelKeys {
			keys[i] = k
		}
		out["metadataChannelKeys"] = keys
	}
	if len(ac.FrameworkChannels) > 0 {
		fc := map[string]interface{}{}
		for k, v := range ac.FrameworkChannels {
			fc[k] = v
		}
		out["frameworkChannels"] = fc
	}
	return pipeline.DeepMerge(out, mc)
}
