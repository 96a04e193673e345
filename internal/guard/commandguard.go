package guard

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/radiusguard/radius/internal/event"
)

// commandGuardConfig configures the command_guard module.
type commandGuardConfig struct {
	ShellTools        []string `yaml:"shellTools"`
	DenyPatterns      []string `yaml:"denyPatterns"`
	ExtraDenyPatterns []string `yaml:"extraDenyPatterns"`
	AllowPatterns     []string `yaml:"allowPatterns"`
}

// defaultDenyPatterns block privilege escalation and destructive commands.
var defaultDenyPatterns = []string{
	`(^|\s)sudo\s`,
	`rm\s+-rf\s+/`,
	`(^|\s)mkfs(\.\w+)?\s`,
	`(^|\s)dd\s+if=`,
	`:\(\)\s*\{\s*:\|:&\s*\}\s*;`,
	`(^|\s)chmod\s+777\s+/`,
	`curl[^|;&]*\|\s*(ba)?sh`,
	`wget[^|;&]*\|\s*(ba)?sh`,
}

// segmentSplitRe splits a shell command on connectors so every pipeline
// stage is matched independently.
var segmentSplitRe = regexp.MustCompile(`&&|\|\||;|\|`)

// CommandGuard pattern-matches shell commands segment by segment.
type CommandGuard struct {
	base
	shellTools map[string]bool
	deny       []*regexp.Regexp
	allow      []*regexp.Regexp
	logger     *slog.Logger
}

// NewCommandGuard compiles the pattern sets once. All matching is
// case-insensitive.
func NewCommandGuard(cfg map[string]interface{}, logger *slog.Logger) (*CommandGuard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c commandGuardConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}

	g := &CommandGuard{
		base:   newBase("command_guard", []event.Phase{event.PhasePreTool}, cfg),
		logger: logger.With("component", "guard.CommandGuard"),
	}

	tools := c.ShellTools
	if len(tools) == 0 {
		tools = defaultShellTools
	}
	g.shellTools = toStringSet(tools)

	denyPatterns := c.DenyPatterns
	if denyPatterns == nil {
		denyPatterns = defaultDenyPatterns
	}
	denyPatterns = append(denyPatterns, c.ExtraDenyPatterns...)

	for _, p := range denyPatterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("command_guard: bad deny pattern %q: %w", p, err)
		}
		g.deny = append(g.deny, re)
	}
	for _, p := range c.AllowPatterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("command_guard: bad allow pattern %q: %w", p, err)
		}
		g.allow = append(g.allow, re)
	}

	return g, nil
}

// Evaluate implements pipeline.Module.
func (g *CommandGuard) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	if ev.ToolCall == nil || !g.shellTools[ev.ToolCall.Name] {
		return event.Allow(g.name, "not a shell tool"), nil
	}
	command := stringArg(ev.ToolCall.Arguments, "command")
	if command == "" {
		return event.Allow(g.name, "no command argument"), nil
	}

	for _, segment := range segmentSplitRe.Split(command, -1) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		for _, re := range g.deny {
			if re.MatchString(segment) {
				return event.Deny(g.name,
					fmt.Sprintf("command segment %q matches deny pattern %q", segment, re.String()),
					event.SeverityCritical), nil
			}
		}

		if len(g.allow) > 0 {
			matched := false
			for _, re := range g.allow {
				if re.MatchString(segment) {
					matched = true
					break
				}
			}
			if !matched {
				return event.Deny(g.name,
					fmt.Sprintf("command segment %q matches no allow pattern", segment),
					event.SeverityHigh), nil
			}
		}
	}

	return event.Allow(g.name, "command passed pattern checks"), nil
}
