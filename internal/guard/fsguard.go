package guard

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/radiusguard/radius/internal/event"
)

// fsGuardConfig configures the fs_guard module.
type fsGuardConfig struct {
	AllowedPaths     []string `yaml:"allowedPaths"`
	BlockedPaths     []string `yaml:"blockedPaths"`
	BlockedBasenames []string `yaml:"blockedBasenames"`
}

// defaultBlockedBasenames covers the usual credential files.
var defaultBlockedBasenames = []string{
	".env", ".envrc", "id_rsa", "id_ed25519", "credentials", ".netrc", ".npmrc", ".pypirc",
}

// FSGuard restricts file tools to configured path prefixes. Blocked prefixes
// take strict precedence over allowed ones; targets are canonicalized with
// ancestor-fallback realpath before matching.
type FSGuard struct {
	base
	allowed          []string
	blocked          []string
	blockedBasenames map[string]bool
	logger           *slog.Logger
}

// NewFSGuard canonicalizes the configured prefixes once at construction.
func NewFSGuard(cfg map[string]interface{}, logger *slog.Logger) (*FSGuard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c fsGuardConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}

	g := &FSGuard{
		base:   newBase("fs_guard", []event.Phase{event.PhasePreTool}, cfg),
		logger: logger.With("component", "guard.FSGuard"),
	}

	for _, p := range c.AllowedPaths {
		cp, err := canonicalPath(p)
		if err != nil {
			return nil, fmt.Errorf("fs_guard: bad allowed path %q: %w", p, err)
		}
		g.allowed = append(g.allowed, cp)
	}
	for _, p := range c.BlockedPaths {
		cp, err := canonicalPath(p)
		if err != nil {
			return nil, fmt.Errorf("fs_guard: bad blocked path %q: %w", p, err)
		}
		g.blocked = append(g.blocked, cp)
	}

	basenames := c.BlockedBasenames
	if basenames == nil {
		basenames = defaultBlockedBasenames
	}
	g.blockedBasenames = make(map[string]bool, len(basenames))
	for _, b := range basenames {
		g.blockedBasenames[strings.ToLower(b)] = true
	}

	return g, nil
}

// Evaluate implements pipeline.Module.
func (g *FSGuard) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	if ev.ToolCall == nil || !fileTools[ev.ToolCall.Name] {
		return event.Allow(g.name, "not a file tool"), nil
	}

	raw := stringArg(ev.ToolCall.Arguments, pathArgKeys...)
	if raw == "" {
		return event.Allow(g.name, "no path argument"), nil
	}

	target, err := canonicalPath(raw)
	if err != nil {
		return event.Decision{}, fmt.Errorf("failed to canonicalize %q: %w", raw, err)
	}

	for _, b := range g.blocked {
		if pathWithin(b, target) {
			return event.Deny(g.name,
				fmt.Sprintf("path %q is in blocked prefix %q", target, b),
				event.SeverityCritical), nil
		}
	}

	if g.blockedBasenames[strings.ToLower(filepath.Base(target))] {
		return event.Deny(g.name,
			fmt.Sprintf("file name %q is blocked", filepath.Base(target)),
			event.SeverityCritical), nil
	}

	for _, a := range g.allowed {
		if pathWithin(a, target) {
			return event.Allow(g.name, "path within allowed prefix"), nil
		}
	}

	return event.Deny(g.name,
		fmt.Sprintf("path %q is outside allowed prefixes", target),
		event.SeverityHigh), nil
}
