package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/radiusguard/radius/internal/event"
	"github.com/radiusguard/radius/internal/state"
)

// rateBudgetConfig configures the rate_budget module.
type rateBudgetConfig struct {
	WindowSec         int `yaml:"windowSec"`
	MaxCallsPerWindow int `yaml:"maxCallsPerWindow"`
}

// RateBudget enforces a sliding-window call budget per session. The window
// bookkeeping lives in the shared state store, so the same semantics hold
// in memory and across processes when SQLite-backed.
type RateBudget struct {
	base
	windowSec int
	maxCalls  int
	store     state.Store
	logger    *slog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewRateBudget builds the module on top of the given store.
func NewRateBudget(cfg map[string]interface{}, store state.Store, logger *slog.Logger) (*RateBudget, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c rateBudgetConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.WindowSec <= 0 {
		c.WindowSec = 60
	}
	if c.MaxCallsPerWindow <= 0 {
		c.MaxCallsPerWindow = 60
	}

	return &RateBudget{
		base:      newBase("rate_budget", []event.Phase{event.PhasePreTool, event.PhasePreRequest}, cfg),
		windowSec: c.WindowSec,
		maxCalls:  c.MaxCallsPerWindow,
		store:     store,
		logger:    logger.With("component", "guard.RateBudget"),
		now:       time.Now,
	}, nil
}

// Evaluate implements pipeline.Module.
func (g *RateBudget) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	key := ev.SessionID
	nowMs := g.now().UnixMilli()

	count, allowed, err := g.store.ConsumeRateBudget(key, g.windowSec, g.maxCalls, nowMs)
	if err != nil {
		return event.Decision{}, fmt.Errorf("rate budget store: %w", err)
	}

	if !allowed {
		return event.Deny(g.name,
			fmt.Sprintf("rate limit exceeded: %d/%d calls in %ds window", count, g.maxCalls, g.windowSec),
			event.SeverityHigh), nil
	}
	return event.Allow(g.name, "within rate budget"), nil
}
