package approval

import (
	"context"
	"strings"
	"testing"

	"github.com/radiusguard/radius/internal/config"
	"github.com/radiusguard/radius/internal/event"
	"github.com/radiusguard/radius/internal/state"
)

// scriptedConnector returns a fixed resolution and counts calls.
type scriptedConnector struct {
	channel    event.Channel
	resolution Resolution
	calls      int
}

func (c *scriptedConnector) Name() event.Channel { return c.channel }
func (c *scriptedConnector) Resolve(_ context.Context, _ string, _ *event.Challenge, _ *event.Event) Resolution {
	c.calls++
	return c.resolution
}

func challengeResult(channel event.Channel) event.PipelineResult {
	return event.PipelineResult{
		Action: event.ActionChallenge,
		Reason: "needs approval",
		Decisions: []event.Decision{
			event.NewChallenge("approval_gate", "needs approval", &event.Challenge{
				Channel:        channel,
				Prompt:         "Approve?",
				TimeoutSeconds: 30,
			}),
		},
	}
}

func testResolver(cfg config.ApprovalConfig, store state.Store, conn Connector) *Resolver {
	r := NewResolver(cfg, store, nil)
	if conn != nil {
		r.connectors[conn.Name()] = conn
	}
	return r
}

func approvalEvent() *event.Event {
	return &event.Event{
		Phase:     event.PhasePreTool,
		SessionID: "s-1",
		AgentName: "worker",
		ToolCall:  &event.ToolCall{Name: "Bash"},
	}
}

func TestResolver_Approved(t *testing.T) {
	conn := &scriptedConnector{channel: event.ChannelTelegram, resolution: Resolution{Outcome: OutcomeApproved}}
	r := testResolver(config.ApprovalConfig{Enabled: true, Mode: "sync_wait"}, state.NewMemoryStore(), conn)

	res := challengeResult(event.ChannelTelegram)
	r.ResolveChallenge(context.Background(), approvalEvent(), &res)

	if res.Action != event.ActionAllow {
		t.Errorf("result = %+v", res)
	}
	last := res.Decisions[len(res.Decisions)-1]
	if last.Action != event.ActionAllow || last.Module != "approval" || last.Severity != event.SeverityInfo {
		t.Errorf("terminal decision = %+v", last)
	}
}

func TestResolver_ApprovedTemporaryInstallsLease(t *testing.T) {
	store := state.NewMemoryStore()
	conn := &scriptedConnector{
		channel:    event.ChannelHTTP,
		resolution: Resolution{Outcome: OutcomeApprovedTemporary, TTLSec: 120},
	}
	r := testResolver(config.ApprovalConfig{
		Enabled: true, Mode: "sync_wait",
		LeaseDefaultTTLSec: 300, LeaseMaxTTLSec: 1800,
	}, store, conn)

	ev := approvalEvent()
	res := challengeResult(event.ChannelHTTP)
	r.ResolveChallenge(context.Background(), ev, &res)

	if res.Action != event.ActionAllow {
		t.Fatalf("result = %+v", res)
	}

	lease, err := r.ActiveLease(ev)
	if err != nil || lease == nil {
		t.Fatalf("lease = %v, err = %v", lease, err)
	}
	if lease.Tool != "*" || lease.SessionID != "s-1" || lease.AgentName != "worker" {
		t.Errorf("lease scope = %+v", lease)
	}

	// A lease-covered follow-up never needs the connector again.
	if l, _ := r.ActiveLease(ev); l == nil {
		t.Error("second lookup found no lease")
	}
	if conn.calls != 1 {
		t.Errorf("connector calls = %d, want 1", conn.calls)
	}
}

func TestResolver_TTLClampedToMax(t *testing.T) {
	store := state.NewMemoryStore()
	conn := &scriptedConnector{
		channel:    event.ChannelHTTP,
		resolution: Resolution{Outcome: OutcomeApprovedTemporary, TTLSec: 99999},
	}
	r := testResolver(config.ApprovalConfig{
		Enabled: true, Mode: "sync_wait", LeaseMaxTTLSec: 600,
	}, store, conn)

	ev := approvalEvent()
	res := challengeResult(event.ChannelHTTP)
	r.ResolveChallenge(context.Background(), ev, &res)

	lease, _ := r.ActiveLease(ev)
	if lease == nil {
		t.Fatal("no lease installed")
	}
	maxExpiry := r.now().UnixMilli() + 600_000
	if lease.ExpiresAtMs > maxExpiry {
		t.Errorf("lease TTL exceeds max: expires %d, cap %d", lease.ExpiresAtMs, maxExpiry)
	}
}

func TestResolver_Denied(t *testing.T) {
	conn := &scriptedConnector{
		channel:    event.ChannelTelegram,
		resolution: Resolution{Outcome: OutcomeDenied, Reason: "operator said no"},
	}
	r := testResolver(config.ApprovalConfig{Enabled: true, Mode: "sync_wait"}, state.NewMemoryStore(), conn)

	res := challengeResult(event.ChannelTelegram)
	r.ResolveChallenge(context.Background(), approvalEvent(), &res)

	if res.Action != event.ActionDeny {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Reason, "telegram:") {
		t.Errorf("Reason = %q, want channel prefix", res.Reason)
	}
}

func TestResolver_TimeoutPolicy(t *testing.T) {
	for _, tt := range []struct {
		onTimeout string
		want      event.Action
	}{
		{"deny", event.ActionDeny},
		{"alert", event.ActionAllow},
	} {
		conn := &scriptedConnector{channel: event.ChannelTelegram, resolution: Resolution{Outcome: OutcomeTimeout}}
		r := testResolver(config.ApprovalConfig{
			Enabled: true, Mode: "sync_wait", OnTimeout: tt.onTimeout,
		}, state.NewMemoryStore(), conn)

		res := challengeResult(event.ChannelTelegram)
		r.ResolveChallenge(context.Background(), approvalEvent(), &res)
		if res.Action != tt.want {
			t.Errorf("onTimeout=%s: action = %s, want %s", tt.onTimeout, res.Action, tt.want)
		}
		if tt.onTimeout == "alert" && len(res.Alerts) == 0 {
			t.Error("alert policy should append an alert line")
		}
	}
}

func TestResolver_ConnectorErrorPolicy(t *testing.T) {
	conn := &scriptedConnector{
		channel:    event.ChannelHTTP,
		resolution: Resolution{Outcome: OutcomeError, Reason: "bridge down"},
	}
	r := testResolver(config.ApprovalConfig{
		Enabled: true, Mode: "sync_wait", OnConnectorError: "deny",
	}, state.NewMemoryStore(), conn)

	res := challengeResult(event.ChannelHTTP)
	r.ResolveChallenge(context.Background(), approvalEvent(), &res)
	if res.Action != event.ActionDeny || !strings.Contains(res.Reason, "bridge down") {
		t.Errorf("result = %+v", res)
	}
}

func TestResolver_UnimplementedModeDenies(t *testing.T) {
	r := testResolver(config.ApprovalConfig{Enabled: true, Mode: "async_token"}, state.NewMemoryStore(), nil)

	res := challengeResult(event.ChannelTelegram)
	r.ResolveChallenge(context.Background(), approvalEvent(), &res)
	if res.Action != event.ActionDeny || !strings.Contains(res.Reason, "not implemented") {
		t.Errorf("result = %+v", res)
	}
}

func TestResolver_OrchestratorChannelUntouched(t *testing.T) {
	conn := &scriptedConnector{channel: event.ChannelTelegram, resolution: Resolution{Outcome: OutcomeApproved}}
	r := testResolver(config.ApprovalConfig{Enabled: true, Mode: "sync_wait"}, state.NewMemoryStore(), conn)

	res := challengeResult(event.ChannelOrchestrator)
	r.ResolveChallenge(context.Background(), approvalEvent(), &res)
	if res.Action != event.ActionChallenge {
		t.Errorf("orchestrator challenge was resolved: %+v", res)
	}
	if conn.calls != 0 {
		t.Error("connector invoked for orchestrator channel")
	}
}
