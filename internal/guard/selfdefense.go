package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/radiusguard/radius/internal/event"
)

// selfDefenseConfig configures the self_defense module.
type selfDefenseConfig struct {
	ImmutablePaths      []string `yaml:"immutablePaths"`
	DiscoverConfigFiles bool     `yaml:"discoverConfigFiles"`
	HookArtifacts       []string `yaml:"hookArtifacts"`
	OnWriteAttempt      string   `yaml:"onWriteAttempt"`  // deny or challenge
	OnHashMismatch      string   `yaml:"onHashMismatch"`  // deny or kill_switch
	KillSwitchPath      string   `yaml:"killSwitchPath"`
	UnlockTokenPath     string   `yaml:"unlockTokenPath"`
	UnlockTTLSec        int      `yaml:"unlockTtlSec"`
	ChallengeChannel    string   `yaml:"challengeChannel"`
	ChallengeTimeoutSec int      `yaml:"challengeTimeoutSec"`
}

// immutableRule is one protected target with its baseline digest.
type immutableRule struct {
	path     string
	isDir    bool
	baseline string
}

// SelfDefense protects the kernel's own configuration from the agent it
// governs: writes into immutable targets are blocked at pre_tool, and
// baseline digests are re-verified at pre_request and post_tool so an
// out-of-band mutation is caught on the next event.
type SelfDefense struct {
	base
	rules           []immutableRule
	onWriteAttempt  string
	onHashMismatch  string
	killSwitchPath  string
	unlockTokenPath string
	unlockTTLSec    int
	challenge       event.Challenge
	logger          *slog.Logger
}

// NewSelfDefense resolves the immutable target set and captures baseline
// digests at construction.
func NewSelfDefense(cfg map[string]interface{}, logger *slog.Logger) (*SelfDefense, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c selfDefenseConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.OnWriteAttempt == "" {
		c.OnWriteAttempt = "deny"
	}
	if c.OnHashMismatch == "" {
		c.OnHashMismatch = "deny"
	}
	if c.KillSwitchPath == "" {
		c.KillSwitchPath = filepath.Join(".radius", "KILL")
	}
	if c.UnlockTTLSec <= 0 {
		c.UnlockTTLSec = 300
	}

	targets := append([]string{}, c.ImmutablePaths...)
	if c.DiscoverConfigFiles {
		for _, name := range []string{"radius.yaml", "radius.yml", ".radius.yaml"} {
			if _, err := os.Stat(name); err == nil {
				targets = append(targets, name)
			}
		}
	}
	targets = append(targets, c.HookArtifacts...)

	g := &SelfDefense{
		base: newBase("self_defense",
			[]event.Phase{event.PhasePreRequest, event.PhasePreTool, event.PhasePostTool}, cfg),
		onWriteAttempt:  c.OnWriteAttempt,
		onHashMismatch:  c.OnHashMismatch,
		killSwitchPath:  c.KillSwitchPath,
		unlockTokenPath: c.UnlockTokenPath,
		unlockTTLSec:    c.UnlockTTLSec,
		challenge: event.Challenge{
			Channel:        event.Channel(c.ChallengeChannel),
			Prompt:         "Approve modification of a protected Radius file?",
			TimeoutSeconds: c.ChallengeTimeoutSec,
		},
		logger: logger.With("component", "guard.SelfDefense"),
	}
	if g.challenge.TimeoutSeconds <= 0 {
		g.challenge.TimeoutSeconds = 120
	}

	seen := map[string]bool{}
	for _, t := range targets {
		cp, err := canonicalPath(t)
		if err != nil || cp == "" || seen[cp] {
			continue
		}
		seen[cp] = true
		info, statErr := os.Stat(cp)
		rule := immutableRule{path: cp, isDir: statErr == nil && info.IsDir()}
		rule.baseline = digestTarget(rule.path, rule.isDir)
		g.rules = append(g.rules, rule)
	}

	return g, nil
}

// Evaluate implements pipeline.Module.
func (g *SelfDefense) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	if len(g.rules) == 0 {
		return event.Allow(g.name, "no immutable targets"), nil
	}
	if g.unlocked() {
		return event.Allow(g.name, "unlock token active"), nil
	}

	switch ev.Phase {
	case event.PhasePreTool:
		return g.checkWrite(ev), nil
	default:
		return g.checkBaselines(), nil
	}
}

// checkWrite blocks mutating tools whose path arguments land inside an
// immutable rule.
func (g *SelfDefense) checkWrite(ev *event.Event) event.Decision {
	if ev.ToolCall == nil || !mutatingTools[ev.ToolCall.Name] {
		return event.Allow(g.name, "not a mutating tool")
	}

	for _, raw := range candidatePaths(ev.ToolCall.Arguments) {
		target, err := canonicalPath(raw)
		if err != nil {
			continue
		}
		for _, r := range g.rules {
			hit := target == r.path || (r.isDir && pathWithin(r.path, target))
			if !hit {
				continue
			}
			reason := fmt.Sprintf("write to protected path %q blocked", r.path)
			if g.onWriteAttempt == "challenge" {
				ch := g.challenge
				return event.NewChallenge(g.name, reason, &ch)
			}
			return event.Deny(g.name, reason, event.SeverityCritical)
		}
	}
	return event.Allow(g.name, "no protected path touched")
}

// checkBaselines recomputes digests and reacts to drift.
func (g *SelfDefense) checkBaselines() event.Decision {
	for _, r := range g.rules {
		if digestTarget(r.path, r.isDir) == r.baseline {
			continue
		}
		reason := fmt.Sprintf("protected file %q changed since baseline", r.path)
		if g.onHashMismatch == "kill_switch" {
			g.writeKillMarker(reason)
			return event.Deny(g.name, reason+" (kill switch armed)", event.SeverityCritical)
		}
		return event.Deny(g.name, reason, event.SeverityCritical)
	}
	return event.Allow(g.name, "baselines intact")
}

// unlocked reports whether the unlock token file exists with a recent mtime.
func (g *SelfDefense) unlocked() bool {
	if g.unlockTokenPath == "" {
		return false
	}
	info, err := os.Stat(g.unlockTokenPath)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) <= time.Duration(g.unlockTTLSec)*time.Second
}

func (g *SelfDefense) writeKillMarker(reason string) {
	if err := os.MkdirAll(filepath.Dir(g.killSwitchPath), 0o755); err != nil {
		g.logger.Error("failed to create kill switch dir", "error", err)
		return
	}
	if err := os.WriteFile(g.killSwitchPath, []byte(reason+"\n"), 0o644); err != nil {
		g.logger.Error("failed to write kill switch marker", "error", err)
	}
}

// digestTarget hashes a file's contents, or for a directory the stable
// concatenation of its sorted entries. Missing targets digest to "absent".
func digestTarget(path string, isDir bool) string {
	if !isDir {
		data, err := os.ReadFile(path)
		if err != nil {
			return "absent"
		}
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}

	var entries []string
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil
		}
		rel, _ := filepath.Rel(path, p)
		sum := sha256.Sum256(data)
		entries = append(entries, rel+":"+hex.EncodeToString(sum[:]))
		return nil
	})
	sort.Strings(entries)
	sum := sha256.Sum256([]byte(strings.Join(entries, "\n")))
	return hex.EncodeToString(sum[:])
}
