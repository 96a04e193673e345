package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/radiusguard/radius/internal/event"
)

// tripwireConfig configures the tripwire_guard module.
type tripwireConfig struct {
	Files          []tripwireFileRule `yaml:"files"`
	EnvTokens      []string           `yaml:"envTokens"`
	Action         string             `yaml:"action"` // alert, deny, kill_switch
	KillSwitchPath string             `yaml:"killSwitchPath"`
}

type tripwireFileRule struct {
	Path string `yaml:"path"` // exact path, or prefix with trailing /**
}

// tripwireRule is a canonicalized file rule.
type tripwireRule struct {
	path   string
	prefix bool
}

// TripwireGuard watches for touches of planted honeytokens. A hit is a
// deterministic compromise signal: the configured action fires and, for
// kill_switch, a marker file arms the kill switch for every later event.
type TripwireGuard struct {
	base
	rules          []tripwireRule
	envTokens      []string
	action         string
	killSwitchPath string
	logger         *slog.Logger
}

// NewTripwireGuard canonicalizes the rule paths once at construction.
func NewTripwireGuard(cfg map[string]interface{}, logger *slog.Logger) (*TripwireGuard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c tripwireConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.Action == "" {
		c.Action = "deny"
	}
	switch c.Action {
	case "alert", "deny", "kill_switch":
	default:
		return nil, fmt.Errorf("tripwire_guard action must be alert, deny, or kill_switch, got %q", c.Action)
	}
	if c.KillSwitchPath == "" {
		c.KillSwitchPath = filepath.Join(".radius", "KILL")
	}

	g := &TripwireGuard{
		base:           newBase("tripwire_guard", []event.Phase{event.PhasePreTool}, cfg),
		envTokens:      c.EnvTokens,
		action:         c.Action,
		killSwitchPath: c.KillSwitchPath,
		logger:         logger.With("component", "guard.TripwireGuard"),
	}

	for _, fr := range c.Files {
		p := fr.Path
		prefix := false
		if rest, ok := strings.CutSuffix(p, "/**"); ok {
			p = rest
			prefix = true
		}
		cp, err := canonicalPath(p)
		if err != nil {
			return nil, fmt.Errorf("tripwire_guard: bad path %q: %w", fr.Path, err)
		}
		g.rules = append(g.rules, tripwireRule{path: cp, prefix: prefix})
	}

	return g, nil
}

// Evaluate implements pipeline.Module.
func (g *TripwireGuard) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	if ev.ToolCall == nil {
		return event.Allow(g.name, "no tool call"), nil
	}

	for _, raw := range candidatePaths(ev.ToolCall.Arguments) {
		target, err := canonicalPath(raw)
		if err != nil {
			continue
		}
		for _, r := range g.rules {
			hit := target == r.path || (r.prefix && pathWithin(r.path, target))
			if hit {
				return g.fire(fmt.Sprintf("tripwire file %q touched via %q", r.path, raw)), nil
			}
		}
	}

	if len(g.envTokens) > 0 {
		serialized, err := json.Marshal(ev.ToolCall.Arguments)
		if err == nil {
			for _, tok := range g.envTokens {
				if tok != "" && strings.Contains(string(serialized), tok) {
					return event.Deny(g.name,
						fmt.Sprintf("tripwire env token %q appears in tool arguments", tok),
						event.SeverityCritical), nil
				}
			}
		}
	}

	return event.Allow(g.name, "no tripwire touched"), nil
}

// fire applies the configured action for a file tripwire hit.
func (g *TripwireGuard) fire(reason string) event.Decision {
	switch g.action {
	case "alert":
		return event.Alert(g.name, reason, event.SeverityCritical)
	case "kill_switch":
		g.writeKillMarker(reason)
		return event.Deny(g.name, reason+" (kill switch armed)", event.SeverityCritical)
	default:
		return event.Deny(g.name, reason, event.SeverityCritical)
	}
}

func (g *TripwireGuard) writeKillMarker(reason string) {
	if err := os.MkdirAll(filepath.Dir(g.killSwitchPath), 0o755); err != nil {
		g.logger.Error("failed to create kill switch dir", "error", err)
		return
	}
	if err := os.WriteFile(g.killSwitchPath, []byte(reason+"\n"), 0o644); err != nil {
		g.logger.Error("failed to write kill switch marker", "error", err)
	}
}

// candidatePaths collects path-like values from the arguments: known path
// keys plus path-shaped tokens inside command strings.
func candidatePaths(args map[string]interface{}) []string {
	var out []string
	for _, key := range pathArgKeys {
		if s, ok := args[key].(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if command := stringArg(args, "command"); command != "" {
		for _, tok := range strings.FieldsFunc(command, func(r rune) bool {
			return r == ' ' || r == '\t' || r == '\n' || r == ';' || r == '|' || r == '&' ||
				r == '"' || r == '\'' || r == '(' || r == ')' || r == '<' || r == '>'
		}) {
			if strings.HasPrefix(tok, "/") || strings.HasPrefix(tok, "~/") || strings.HasPrefix(tok, "./") {
				out = append(out, tok)
			}
		}
	}
	return out
}
