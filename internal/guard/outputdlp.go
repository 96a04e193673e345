package guard

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/radiusguard/radius/internal/event"
)

// outputDLPConfig configures the output_dlp module.
type outputDLPConfig struct {
	Action       string   `yaml:"action"` // deny, alert, redact
	KnownSecrets []string `yaml:"knownSecrets"`
	Patterns     []string `yaml:"patterns"`
}

// dlpPattern is one compiled secret detector.
type dlpPattern struct {
	name string
	re   *regexp.Regexp
}

// builtinDLPPatterns cover the common credential formats. All patterns are
// linear-time under Go's RE2 engine.
var builtinDLPPatterns = []struct {
	name    string
	pattern string
}{
	{"aws_access_key", `\bAKIA[0-9A-Z]{16}\b`},
	{"aws_secret_key", `\baws_secret_access_key\s*[=:]\s*[A-Za-z0-9/+=]{40}\b`},
	{"github_token", `\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36,255}\b`},
	{"github_pat", `\bgithub_pat_[A-Za-z0-9_]{22,255}\b`},
	{"generic_api_key", `(?i)\b(?:api[_-]?key|apikey)\s*[=:]\s*['"]?[A-Za-z0-9_\-]{16,}['"]?`},
	{"bearer_token", `(?i)\bBearer\s+[A-Za-z0-9\-._~+/]{20,}=*`},
	{"pem_private_key", `-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`},
	{"slack_token", `\bxox[baprs]-[A-Za-z0-9-]{10,}\b`},
	{"generic_secret", `(?i)\b(?:secret|password|passwd|token)\s*[=:]\s*['"]?[^\s'"]{8,}['"]?`},
}

// OutputDLP scans tool results and outgoing responses for leaked secrets.
type OutputDLP struct {
	base
	action       string
	patterns     []dlpPattern
	knownSecrets []string
	logger       *slog.Logger
}

// NewOutputDLP compiles the detector set once.
func NewOutputDLP(cfg map[string]interface{}, logger *slog.Logger) (*OutputDLP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c outputDLPConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.Action == "" {
		c.Action = "redact"
	}
	switch c.Action {
	case "deny", "alert", "redact":
	default:
		return nil, fmt.Errorf("output_dlp action must be deny, alert, or redact, got %q", c.Action)
	}

	g := &OutputDLP{
		base:         newBase("output_dlp", []event.Phase{event.PhasePostTool, event.PhasePreResponse}, cfg),
		action:       c.Action,
		knownSecrets: c.KnownSecrets,
		logger:       logger.With("component", "guard.OutputDLP"),
	}

	for _, bp := range builtinDLPPatterns {
		g.patterns = append(g.patterns, dlpPattern{name: bp.name, re: regexp.MustCompile(bp.pattern)})
	}
	for i, p := range c.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("output_dlp: bad pattern %d: %w", i, err)
		}
		g.patterns = append(g.patterns, dlpPattern{name: fmt.Sprintf("user_pattern_%d", i), re: re})
	}

	return g, nil
}

// Evaluate implements pipeline.Module.
func (g *OutputDLP) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	var text string
	switch ev.Phase {
	case event.PhasePostTool:
		if ev.ToolResult != nil {
			text = ev.ToolResult.Text
		}
	case event.PhasePreResponse:
		text = ev.Response
	}
	if text == "" {
		return event.Allow(g.name, "no text to scan"), nil
	}

	findings, redacted := g.scan(text)
	if len(findings) == 0 {
		return event.Allow(g.name, "no secrets detected"), nil
	}

	reason := fmt.Sprintf("detected %s in output", strings.Join(findings, ", "))

	switch g.action {
	case "deny":
		return event.Deny(g.name, reason, event.SeverityCritical), nil
	case "alert":
		return event.Alert(g.name, reason, event.SeverityHigh), nil
	default: // redact
		patch := &event.Patch{}
		if ev.Phase == event.PhasePostTool {
			patch.ToolResultText = &redacted
		} else {
			patch.ResponseText = &redacted
		}
		return event.Modify(g.name, reason+" (redacted)", patch), nil
	}
}

// scan returns the finding names and the fully redacted text.
func (g *OutputDLP) scan(text string) ([]string, string) {
	var findings []string
	redacted := text

	for _, p := range g.patterns {
		if p.re.MatchString(redacted) {
			findings = append(findings, p.name)
			redacted = p.re.ReplaceAllString(redacted, "[REDACTED]")
		}
	}
	for _, secret := range g.knownSecrets {
		if secret != "" && strings.Contains(redacted, secret) {
			findings = append(findings, "known_secret")
			redacted = strings.ReplaceAll(redacted, secret, "[REDACTED]")
		}
	}
	return findings, redacted
}
