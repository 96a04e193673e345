package guard

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"

	"github.com/radiusguard/radius/internal/event"
)

// toolPolicyConfig configures the tool_policy module.
type toolPolicyConfig struct {
	Default string           `yaml:"default"` // allow or deny
	Rules   []toolPolicyRule `yaml:"rules"`
}

type toolPolicyRule struct {
	Tool           string                 `yaml:"tool"`
	When           map[string]interface{} `yaml:"when"`
	Condition      string                 `yaml:"condition"` // optional CEL refinement
	Action         string                 `yaml:"action"`    // allow, deny, challenge
	Reason         string                 `yaml:"reason"`
	Channel        string                 `yaml:"channel"`
	Prompt         string                 `yaml:"prompt"`
	TimeoutSeconds int                    `yaml:"timeoutSeconds"`
	Schema         *toolArgSchema         `yaml:"schema"`
	Egress         map[string]interface{} `yaml:"egress"` // consumed by egress_guard bindings
}

type toolArgSchema struct {
	RequiredArgs      []string                 `yaml:"requiredArgs"`
	AllowedArgs       []string                 `yaml:"allowedArgs"`
	ForbidUnknownArgs bool                     `yaml:"forbidUnknownArgs"`
	ArgConstraints    map[string]argConstraint `yaml:"argConstraints"`
}

type argConstraint struct {
	Type      string        `yaml:"type"` // string, number, boolean, object, array
	Pattern   string        `yaml:"pattern"`
	MinLength *int          `yaml:"minLength"`
	MaxLength *int          `yaml:"maxLength"`
	Min       *float64      `yaml:"min"`
	Max       *float64      `yaml:"max"`
	Enum      []interface{} `yaml:"enum"`
}

type compiledRule struct {
	toolPolicyRule
	patternRes map[string]*regexp.Regexp // constraint key -> compiled pattern
	condition  *celCondition
}

// ToolPolicy evaluates first-matching-rule tool policies at pre_tool.
type ToolPolicy struct {
	base
	defaultAction string
	rules         []compiledRule
	logger        *slog.Logger
}

// NewToolPolicy compiles the rule set. Regex patterns and CEL conditions are
// compiled once here, never in the hot path.
func NewToolPolicy(cfg map[string]interface{}, logger *slog.Logger) (*ToolPolicy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c toolPolicyConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.Default == "" {
		c.Default = "deny"
	}
	if c.Default != "allow" && c.Default != "deny" {
		return nil, fmt.Errorf("tool_policy default must be allow or deny, got %q", c.Default)
	}

	tp := &ToolPolicy{
		base:          newBase("tool_policy", []event.Phase{event.PhasePreTool}, cfg),
		defaultAction: c.Default,
		logger:        logger.With("component", "guard.ToolPolicy"),
	}

	var celEnv *celConditionEnv
	for i, r := range c.Rules {
		cr := compiledRule{toolPolicyRule: r}
		if r.Schema != nil {
			cr.patternRes = make(map[string]*regexp.Regexp)
			for key, cons := range r.Schema.ArgConstraints {
				if cons.Pattern == "" {
					continue
				}
				re, err := regexp.Compile(cons.Pattern)
				if err != nil {
					return nil, fmt.Errorf("tool_policy rule %d: bad pattern for %q: %w", i, key, err)
				}
				cr.patternRes[key] = re
			}
		}
		if r.Condition != "" {
			if celEnv == nil {
				env, err := newCELConditionEnv()
				if err != nil {
					return nil, err
				}
				celEnv = env
			}
			cond, err := celEnv.Compile(r.Condition)
			if err != nil {
				return nil, fmt.Errorf("tool_policy rule %d: %w", i, err)
			}
			cr.condition = cond
		}
		tp.rules = append(tp.rules, cr)
	}
	return tp, nil
}

// Rules exposes the raw rule configs so egress bindings can be derived.
func (tp *ToolPolicy) Rules() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tp.rules))
	for _, r := range tp.rules {
		out = append(out, map[string]interface{}{"tool": r.Tool, "egress": r.Egress})
	}
	return out
}

// Evaluate implements pipeline.Module.
func (tp *ToolPolicy) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	if ev.ToolCall == nil {
		return event.Allow(tp.name, "no tool call"), nil
	}
	name := ev.ToolCall.Name
	args := ev.ToolCall.Arguments

	for _, r := range tp.rules {
		if r.Tool != "*" && r.Tool != name {
			continue
		}
		if r.When != nil && !structuralMatch(r.When, mapToIface(args)) {
			continue
		}
		if r.condition != nil {
			matched, err := r.condition.Eval(ev)
			if err != nil {
				return event.Decision{}, fmt.Errorf("rule condition for tool %q: %w", r.Tool, err)
			}
			if !matched {
				continue
			}
		}

		if r.Schema != nil {
			if dec, violated := tp.checkSchema(&r, name, args); violated {
				return dec, nil
			}
		}

		switch r.Action {
		case "allow", "":
			return event.Allow(tp.name, fmt.Sprintf("rule for %q allows", r.Tool)), nil
		case "deny":
			reason := r.Reason
			if reason == "" {
				reason = fmt.Sprintf("tool %q denied by policy rule", name)
			}
			return event.Deny(tp.name, reason, event.SeverityHigh), nil
		case "challenge":
			prompt := r.Prompt
			if prompt == "" {
				prompt = fmt.Sprintf("Approve execution of %q?", name)
			}
			timeout := r.TimeoutSeconds
			if timeout <= 0 {
				timeout = 120
			}
			ch := &event.Challenge{
				Channel:        event.Channel(r.Channel),
				Prompt:         prompt,
				TimeoutSeconds: timeout,
			}
			return event.NewChallenge(tp.name, fmt.Sprintf("tool %q requires approval", name), ch), nil
		default:
			return event.Decision{}, fmt.Errorf("unknown rule action %q", r.Action)
		}
	}

	if tp.defaultAction == "allow" {
		return event.Allow(tp.name, "no rule matched, default allow"), nil
	}
	return event.Deny(tp.name, fmt.Sprintf("tool %q not permitted by policy (default deny)", name), event.SeverityHigh), nil
}

// checkSchema validates the call against the rule schema. The second return
// is true when a deny decision was produced.
func (tp *ToolPolicy) checkSchema(r *compiledRule, tool string, args map[string]interface{}) (event.Decision, bool) {
	s := r.Schema

	for _, req := range s.RequiredArgs {
		if _, ok := args[req]; !ok {
			return event.Deny(tp.name,
				fmt.Sprintf("tool %q missing required argument %q", tool, req),
				event.SeverityHigh), true
		}
	}

	allowed := s.AllowedArgs
	if len(allowed) == 0 && s.ForbidUnknownArgs {
		allowed = append(allowed, s.RequiredArgs...)
		for key := range s.ArgConstraints {
			allowed = append(allowed, key)
		}
	}
	if len(allowed) > 0 {
		allowedSet := toStringSet(allowed)
		for key := range args {
			if !allowedSet[key] {
				return event.Deny(tp.name,
					fmt.Sprintf("tool %q argument %q is not allowlisted", tool, key),
					event.SeverityHigh), true
			}
		}
	}

	for key, cons := range s.ArgConstraints {
		val, ok := args[key]
		if !ok {
			continue
		}
		if reason := checkConstraint(key, val, cons, r.patternRes[key]); reason != "" {
			return event.Deny(tp.name, fmt.Sprintf("tool %q %s", tool, reason), event.SeverityHigh), true
		}
	}

	return event.Decision{}, false
}

func checkConstraint(key string, val interface{}, cons argConstraint, re *regexp.Regexp) string {
	switch cons.Type {
	case "string":
		if _, ok := val.(string); !ok {
			return fmt.Sprintf("argument %q must be a string", key)
		}
	case "number":
		if _, ok := asFloat(val); !ok {
			return fmt.Sprintf("argument %q must be a number", key)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return fmt.Sprintf("argument %q must be a boolean", key)
		}
	case "object":
		if _, ok := val.(map[string]interface{}); !ok {
			return fmt.Sprintf("argument %q must be an object", key)
		}
	case "array":
		if _, ok := val.([]interface{}); !ok {
			return fmt.Sprintf("argument %q must be an array", key)
		}
	}

	if s, ok := val.(string); ok {
		if re != nil && !re.MatchString(s) {
			return fmt.Sprintf("argument %q does not match required pattern", key)
		}
		if cons.MinLength != nil && len(s) < *cons.MinLength {
			return fmt.Sprintf("argument %q is shorter than %d characters", key, *cons.MinLength)
		}
		if cons.MaxLength != nil && len(s) > *cons.MaxLength {
			return fmt.Sprintf("argument %q is longer than %d characters", key, *cons.MaxLength)
		}
	}

	if n, ok := asFloat(val); ok {
		if cons.Min != nil && n < *cons.Min {
			return fmt.Sprintf("argument %q is below minimum %v", key, *cons.Min)
		}
		if cons.Max != nil && n > *cons.Max {
			return fmt.Sprintf("argument %q is above maximum %v", key, *cons.Max)
		}
	}

	if len(cons.Enum) > 0 {
		for _, e := range cons.Enum {
			if scalarEqual(e, val) {
				return ""
			}
		}
		return fmt.Sprintf("argument %q is not one of the allowed values", key)
	}

	return ""
}

// structuralMatch implements the when-predicate: every key in want must be
// present in got and match recursively; sequences match pairwise with equal
// length; scalars by identity (NaN distinct).
func structuralMatch(want, got interface{}) bool {
	switch w := want.(type) {
	case map[string]interface{}:
		g, ok := got.(map[string]interface{})
		if !ok {
			return false
		}
		for k, wv := range w {
			gv, ok := g[k]
			if !ok {
				return false
			}
			if !structuralMatch(wv, gv) {
				return false
			}
		}
		return true
	case []interface{}:
		g, ok := got.([]interface{})
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !structuralMatch(w[i], g[i]) {
				return false
			}
		}
		return true
	default:
		return scalarEqual(want, got)
	}
}

// scalarEqual compares scalars, normalizing numeric types. NaN never equals
// NaN.
func scalarEqual(a, b interface{}) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		if !ok {
			return false
		}
		if math.IsNaN(af) || math.IsNaN(bf) {
			return false
		}
		return af == bf
	}
	return a == b
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func mapToIface(m map[string]interface{}) interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
