package guard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/radiusguard/radius/internal/event"
)

// approvalGateConfig configures the approval_gate module.
type approvalGateConfig struct {
	Rules               []approvalGateRule `yaml:"rules"`
	DefaultChannel      string             `yaml:"defaultChannel"`
	MetadataChannelKeys []string           `yaml:"metadataChannelKeys"`
	FrameworkChannels   map[string]string  `yaml:"frameworkChannels"`
}

type approvalGateRule struct {
	Tool           string `yaml:"tool"` // exact name or "*"
	Channel        string `yaml:"channel"` // explicit channel, or "auto"
	Prompt         string `yaml:"prompt"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// defaultMetadataChannelKeys are the metadata keys probed for a routing
// channel when a rule uses channel resolution.
var defaultMetadataChannelKeys = []string{"channel", "transportChannel", "messenger"}

// ApprovalGate turns selected tool calls into human approval challenges.
// It only emits the challenge; resolution and lease installation belong to
// the approval subsystem.
type ApprovalGate struct {
	base
	rules             []approvalGateRule
	defaultChannel    event.Channel
	metadataKeys      []string
	frameworkChannels map[string]string
	logger            *slog.Logger
}

// NewApprovalGate builds the module.
func NewApprovalGate(cfg map[string]interface{}, logger *slog.Logger) (*ApprovalGate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c approvalGateConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}

	g := &ApprovalGate{
		base:              newBase("approval_gate", []event.Phase{event.PhasePreTool}, cfg),
		rules:             c.Rules,
		defaultChannel:    event.ChannelTelegram,
		metadataKeys:      c.MetadataChannelKeys,
		frameworkChannels: c.FrameworkChannels,
		logger:            logger.With("component", "guard.ApprovalGate"),
	}
	if c.DefaultChannel != "" {
		g.defaultChannel = event.Channel(c.DefaultChannel)
	}
	if len(g.metadataKeys) == 0 {
		g.metadataKeys = defaultMetadataChannelKeys
	}
	return g, nil
}

// Evaluate implements pipeline.Module.
func (g *ApprovalGate) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	if ev.ToolCall == nil {
		return event.Allow(g.name, "no tool call"), nil
	}
	tool := ev.ToolCall.Name

	for _, r := range g.rules {
		if r.Tool != "*" && r.Tool != tool {
			continue
		}

		prompt := r.Prompt
		if prompt == "" {
			prompt = fmt.Sprintf("Approve execution of %q?", tool)
		}
		timeout := r.TimeoutSeconds
		if timeout <= 0 {
			timeout = 120
		}

		ch := &event.Challenge{
			Channel:        g.resolveChannel(r, ev),
			Prompt:         prompt,
			TimeoutSeconds: timeout,
		}
		return event.NewChallenge(g.name, fmt.Sprintf("tool %q requires approval", tool), ch), nil
	}

	return event.Allow(g.name, "no approval rule matched"), nil
}

// resolveChannel picks the challenge channel: explicit rule channel, then
// event metadata, then the framework default, then the global default.
func (g *ApprovalGate) resolveChannel(r approvalGateRule, ev *event.Event) event.Channel {
	if r.Channel != "" && r.Channel != "auto" {
		return event.Channel(r.Channel)
	}
	for _, key := range g.metadataKeys {
		if v := ev.MetaString(key); v != "" {
			return event.Channel(v)
		}
	}
	if fc, ok := g.frameworkChannels[string(ev.Framework)]; ok && fc != "" {
		return event.Channel(fc)
	}
	return g.defaultChannel
}
