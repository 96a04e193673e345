// Package approval converts pipeline challenges into final verdicts by
// asking a human over an external channel. Grants may install leases that
// suppress future challenges for a scope until expiry.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/radiusguard/radius/internal/config"
	"github.com/radiusguard/radius/internal/event"
	"github.com/radiusguard/radius/internal/state"
)

// Outcome is the connector-level resolution of a challenge.
type Outcome string

const (
	OutcomeApproved          Outcome = "approved"
	OutcomeApprovedTemporary Outcome = "approved_temporary"
	OutcomeDenied            Outcome = "denied"
	OutcomeTimeout           Outcome = "timeout"
	OutcomeError             Outcome = "error"
)

// Resolution is what a connector returns.
type Resolution struct {
	Outcome Outcome
	TTLSec  int // only meaningful for approved_temporary
	Reason  string
}

// Connector delivers a challenge to a human and waits for the verdict.
type Connector interface {
	// Name is the channel this connector serves.
	Name() event.Channel

	// Resolve blocks until the challenge is answered, times out, or the
	// context is cancelled.
	Resolve(ctx context.Context, approvalID string, ch *event.Challenge, ev *event.Event) Resolution
}

// Resolver owns challenge resolution and lease installation.
type Resolver struct {
	cfg        config.ApprovalConfig
	store      state.Store
	connectors map[event.Channel]Connector
	logger     *slog.Logger

	now func() time.Time
}

// NewResolver wires the configured connectors.
func NewResolver(cfg config.ApprovalConfig, store state.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		cfg:        cfg,
		store:      store,
		connectors: map[event.Channel]Connector{},
		logger:     logger.With("component", "approval.Resolver"),
		now:        time.Now,
	}
	if cfg.Telegram.BotToken != "" {
		tc := NewTelegramConnector(cfg.Telegram, r.logger)
		r.connectors[event.ChannelTelegram] = tc
		// Discord delivery rides the same chat protocol when configured.
		r.connectors[event.ChannelDiscord] = tc
	}
	if cfg.HTTP.URL != "" {
		r.connectors[event.ChannelHTTP] = NewHTTPConnector(cfg.HTTP, r.logger)
	}
	return r
}

// ActiveLease returns a lease covering the event's tool call, if any.
func (r *Resolver) ActiveLease(ev *event.Event) (*state.Lease, error) {
	return r.store.FindActiveLease(ev.SessionID, ev.AgentName, ev.ToolName(), r.now().UnixMilli())
}

// ResolveChallenge folds a challenge terminal into the pipeline result.
// Challenges routed to the orchestrator channel are left untouched: the
// orchestrator surface delivers those itself.
func (r *Resolver) ResolveChallenge(ctx context.Context, ev *event.Event, res *event.PipelineResult) {
	terminal := res.Terminal()
	if terminal == nil || terminal.Action != event.ActionChallenge || terminal.Challenge == nil {
		return
	}
	if terminal.Challenge.Channel == event.ChannelOrchestrator {
		return
	}

	if r.cfg.Mode != "sync_wait" {
		r.applyDeny(res, fmt.Sprintf("approval mode %q not implemented", r.cfg.Mode))
		return
	}

	conn, ok := r.connectors[terminal.Challenge.Channel]
	if !ok {
		r.applyConnectorError(res, fmt.Sprintf("no connector for channel %q", terminal.Challenge.Channel))
		return
	}

	approvalID := ulid.Make().String()
	r.logger.Info("resolving challenge",
		"approval_id", approvalID,
		"channel", string(terminal.Challenge.Channel),
		"tool", ev.ToolName(),
		"session_id", ev.SessionID,
	)

	resolution := conn.Resolve(ctx, approvalID, terminal.Challenge, ev)

	switch resolution.Outcome {
	case OutcomeApproved:
		res.Decisions = append(res.Decisions, event.Allow("approval", "approved by human"))
		res.Action = event.ActionAllow
		res.Reason = "approved by human"

	case OutcomeApprovedTemporary:
		ttl := resolution.TTLSec
		if ttl <= 0 {
			ttl = r.cfg.LeaseDefaultTTLSec
		}
		if r.cfg.LeaseMaxTTLSec > 0 && ttl > r.cfg.LeaseMaxTTLSec {
			ttl = r.cfg.LeaseMaxTTLSec
		}
		if ttl < 1 {
			ttl = 1
		}
		lease := state.Lease{
			ID:          approvalID,
			SessionID:   ev.SessionID,
			AgentName:   ev.AgentName,
			Tool:        "*",
			ExpiresAtMs: r.now().UnixMilli() + int64(ttl)*1000,
			Reason:      fmt.Sprintf("temporary approval via %s", conn.Name()),
		}
		if err := r.store.InsertLease(lease); err != nil {
			r.logger.Error("failed to install approval lease", "error", err)
		}
		res.Decisions = append(res.Decisions, event.Allow("approval",
			fmt.Sprintf("temporarily approved for %ds", ttl)))
		res.Action = event.ActionAllow
		res.Reason = "approved by human (temporary)"

	case OutcomeDenied:
		reason := fmt.Sprintf("%s: denied by approver", conn.Name())
		if resolution.Reason != "" {
			reason = fmt.Sprintf("%s: %s", conn.Name(), resolution.Reason)
		}
		r.applyDeny(res, reason)

	case OutcomeTimeout:
		if r.cfg.OnTimeout == "deny" {
			r.applyDeny(res, fmt.Sprintf("approval timed out after %ds", terminal.Challenge.TimeoutSeconds))
		} else {
			r.applyAlert(res, "approval timed out, allowed per onTimeout policy")
		}

	case OutcomeError:
		r.applyConnectorError(res, resolution.Reason)
	}
}

func (r *Resolver) applyDeny(res *event.PipelineResult, reason string) {
	res.Decisions = append(res.Decisions, event.Deny("approval", reason, event.SeverityHigh))
	res.Action = event.ActionDeny
	res.Reason = reason
}

func (r *Resolver) applyAlert(res *event.PipelineResult, reason string) {
	res.Alerts = append(res.Alerts, "[approval] "+reason)
	res.Decisions = append(res.Decisions, event.Alert("approval", reason, event.SeverityHigh))
	res.Action = event.ActionAllow
	res.Reason = reason
}

func (r *Resolver) applyConnectorError(res *event.PipelineResult, detail string) {
	reason := "approval connector error"
	if detail != "" {
		reason = "approval connector error: " + detail
	}
	if r.cfg.OnConnectorError == "deny" {
		r.applyDeny(res, reason)
	} else {
		r.applyAlert(res, reason+", allowed per onConnectorError policy")
	}
}
