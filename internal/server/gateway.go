package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/radiusguard/radius/internal/event"
	"github.com/radiusguard/radius/internal/runtime"
)

// GatewayConfig configures the OpenClaw WebSocket proxy.
type GatewayConfig struct {
	UpstreamURL     string // real OpenClaw gateway, e.g. ws://localhost:4000
	AllowAllOrigins bool
}

// GatewayProxy is a transparent WebSocket reverse proxy between OpenClaw
// agents and their gateway. Every agent-originated frame is projected into
// a canonical pre_tool event and evaluated before forwarding; denied frames
// are answered with a block message and never reach the upstream. No
// modification to OpenClaw is required — installs point the gateway URL at
// this proxy.
type GatewayProxy struct {
	cfg      GatewayConfig
	rt       *runtime.Runtime
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]*websocket.Conn // agent -> upstream
}

// NewGatewayProxy creates the proxy.
func NewGatewayProxy(cfg GatewayConfig, rt *runtime.Runtime, logger *slog.Logger) *GatewayProxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayProxy{
		cfg: cfg,
		rt:  rt,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return cfg.AllowAllOrigins || r.Header.Get("Origin") == ""
			},
		},
		conns:  make(map[*websocket.Conn]*websocket.Conn),
		logger: logger.With("component", "server.GatewayProxy"),
	}
}

// ServeHTTP implements http.Handler: it upgrades the agent connection,
// dials the upstream gateway, and pumps frames both ways.
func (p *GatewayProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agent, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	upstream, _, err := websocket.DefaultDialer.Dial(p.cfg.UpstreamURL, nil)
	if err != nil {
		p.logger.Error("failed to dial upstream gateway", "url", p.cfg.UpstreamURL, "error", err)
		_ = agent.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "upstream unavailable"),
			time.Now().Add(time.Second))
		agent.Close()
		return
	}

	p.mu.Lock()
	p.conns[agent] = upstream
	p.mu.Unlock()

	done := make(chan struct{}, 2)
	go p.pumpFromAgent(r.Context(), agent, upstream, done)
	go p.pumpFromUpstream(agent, upstream, done)
	<-done

	p.mu.Lock()
	delete(p.conns, agent)
	p.mu.Unlock()
	agent.Close()
	upstream.Close()
}

// pumpFromAgent evaluates each agent frame before forwarding it upstream.
func (p *GatewayProxy) pumpFromAgent(ctx context.Context, agent, upstream *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		msgType, data, err := agent.ReadMessage()
		if err != nil {
			return
		}

		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			// Non-JSON frames pass through untouched.
			if err := upstream.WriteMessage(msgType, data); err != nil {
				return
			}
			continue
		}

		resp, err := p.rt.Check(ctx, event.FrameworkOpenClaw, frame)
		if err != nil {
			p.logger.Error("gateway frame evaluation failed", "error", err)
			continue
		}

		if decision, _ := resp["decision"].(string); decision != "allow" {
			blocked, _ := json.Marshal(map[string]interface{}{
				"type":   "radius.blocked",
				"reason": resp["reason"],
			})
			if err := agent.WriteMessage(websocket.TextMessage, blocked); err != nil {
				return
			}
			continue
		}

		// Apply argument transforms before forwarding.
		if updated, ok := resp["updatedInput"].(map[string]interface{}); ok {
			frame["tool_input"] = updated
			if data, err = json.Marshal(frame); err != nil {
				continue
			}
		}
		if err := upstream.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

// pumpFromUpstream forwards gateway frames back to the agent unchanged.
func (p *GatewayProxy) pumpFromUpstream(agent, upstream *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		msgType, data, err := upstream.ReadMessage()
		if err != nil {
			return
		}
		if err := agent.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

// CloseAll terminates every proxied connection pair.
func (p *GatewayProxy) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for agent, upstream := range p.conns {
		_ = agent.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "gateway shutting down"),
			time.Now().Add(time.Second))
		agent.Close()
		upstream.Close()
		delete(p.conns, agent)
	}
}
