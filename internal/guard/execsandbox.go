package guard

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/radiusguard/radius/internal/event"
)

// execSandboxConfig configures the exec_sandbox module.
type execSandboxConfig struct {
	Engine         string   `yaml:"engine"` // none or bwrap
	Required       bool     `yaml:"required"`
	ShellTools     []string `yaml:"shellTools"`
	Shell          string   `yaml:"shell"`
	ShellFlag      string   `yaml:"shellFlag"`
	WrapperBinary  string   `yaml:"wrapperBinary"`
	ShareNetwork   bool     `yaml:"shareNetwork"` // legacy knob, see childPolicy.network
	ChildPolicy    struct {
		Network string `yaml:"network"` // inherit or deny
	} `yaml:"childPolicy"`
	ReadOnlyPaths  []string `yaml:"readOnlyPaths"`
	ReadWritePaths []string `yaml:"readWritePaths"`
	TmpfsPaths     []string `yaml:"tmpfsPaths"`
}

// ExecSandbox rewrites shell commands to run inside a bubblewrap sandbox.
// It never executes the command itself; it prescribes the wrapper through a
// modify decision.
type ExecSandbox struct {
	base
	cfg    execSandboxConfig
	shells map[string]bool
	logger *slog.Logger

	probeOnce  sync.Once
	probeOK    bool
	probeError error
}

// NewExecSandbox builds the module. The wrapper availability probe runs on
// first evaluation and is cached.
func NewExecSandbox(cfg map[string]interface{}, logger *slog.Logger) (*ExecSandbox, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c execSandboxConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.Engine == "" {
		c.Engine = "none"
	}
	if c.Engine != "none" && c.Engine != "bwrap" {
		return nil, fmt.Errorf("exec_sandbox engine must be none or bwrap, got %q", c.Engine)
	}
	if c.Shell == "" {
		c.Shell = "/bin/sh"
	}
	if c.ShellFlag == "" {
		c.ShellFlag = "-c"
	}
	if c.WrapperBinary == "" {
		c.WrapperBinary = "bwrap"
	}

	tools := c.ShellTools
	if len(tools) == 0 {
		tools = defaultShellTools
	}

	return &ExecSandbox{
		base:   newBase("exec_sandbox", []event.Phase{event.PhasePreTool}, cfg),
		cfg:    c,
		shells: toStringSet(tools),
		logger: logger.With("component", "guard.ExecSandbox"),
	}, nil
}

// Evaluate implements pipeline.Module.
func (g *ExecSandbox) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	if ev.ToolCall == nil || !g.shells[ev.ToolCall.Name] {
		return event.Allow(g.name, "not a shell tool"), nil
	}
	command := stringArg(ev.ToolCall.Arguments, "command")
	if command == "" {
		return event.Allow(g.name, "no command argument"), nil
	}

	if g.cfg.Engine == "none" {
		if g.cfg.Required {
			return event.Deny(g.name, "sandbox required but engine is none", event.SeverityCritical), nil
		}
		return event.Alert(g.name, "command runs unsandboxed (engine=none)", event.SeverityMedium), nil
	}

	if !g.wrapperAvailable() {
		if g.cfg.Required {
			return event.Deny(g.name,
				fmt.Sprintf("sandbox required but %s is unavailable", g.cfg.WrapperBinary),
				event.SeverityCritical), nil
		}
		return event.Alert(g.name,
			fmt.Sprintf("%s unavailable, command runs unsandboxed", g.cfg.WrapperBinary),
			event.SeverityMedium), nil
	}

	wrapped := g.buildWrapper(command)
	patch := &event.Patch{
		ToolArguments: map[string]interface{}{"command": wrapped},
	}
	return event.Modify(g.name, "command wrapped in sandbox", patch), nil
}

// wrapperAvailable probes the wrapper binary once and caches the result.
func (g *ExecSandbox) wrapperAvailable() bool {
	g.probeOnce.Do(func() {
		path, err := exec.LookPath(g.cfg.WrapperBinary)
		if err != nil {
			g.probeError = err
			return
		}
		// A version probe catches binaries present but unusable (e.g. no
		// user namespaces).
		if err := exec.Command(path, "--version").Run(); err != nil {
			g.probeError = err
			return
		}
		g.probeOK = true
	})
	if !g.probeOK && g.probeError != nil {
		g.logger.Warn("sandbox wrapper probe failed", "wrapper", g.cfg.WrapperBinary, "error", g.probeError)
	}
	return g.probeOK
}

// buildWrapper assembles the full bwrap invocation for the original command.
func (g *ExecSandbox) buildWrapper(command string) string {
	argv := []string{
		g.cfg.WrapperBinary,
		"--die-with-parent",
		"--new-session",
		"--unshare-all",
	}

	shareNet := g.cfg.ShareNetwork
	if g.cfg.ChildPolicy.Network == "deny" {
		shareNet = false
	}
	if shareNet {
		argv = append(argv, "--share-net")
	}

	argv = append(argv, "--proc", "/proc", "--dev", "/dev")

	for _, p := range g.cfg.ReadOnlyPaths {
		argv = append(argv, "--ro-bind", p, p)
	}
	for _, p := range g.cfg.ReadWritePaths {
		argv = append(argv, "--bind", p, p)
	}
	for _, p := range g.cfg.TmpfsPaths {
		argv = append(argv, "--tmpfs", p)
	}

	argv = append(argv,
		"--setenv", "HOME", "/tmp",
		"--setenv", "TMPDIR", "/tmp",
		g.cfg.Shell, g.cfg.ShellFlag, command,
	)

	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// shellQuote single-quotes an argument, escaping embedded quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
