// Package runtime wires the kernel together: configuration to modules to
// pipeline to adapters to approval to audit. It is the single entry point
// every server or hook surface calls.
package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/radiusguard/radius/internal/adapter"
	"github.com/radiusguard/radius/internal/approval"
	"github.com/radiusguard/radius/internal/audit"
	"github.com/radiusguard/radius/internal/config"
	"github.com/radiusguard/radius/internal/event"
	"github.com/radiusguard/radius/internal/guard"
	"github.com/radiusguard/radius/internal/pipeline"
	"github.com/radiusguard/radius/internal/state"
)

// Runtime is the assembled policy kernel. It is safe for concurrent use:
// multiple events may be in flight at once, sharing only the state store.
type Runtime struct {
	cfg      *config.Config
	store    state.Store
	recorder *audit.Recorder
	executor *pipeline.Executor
	resolver *approval.Resolver
	adapters *adapter.Registry
	modules  []pipeline.Module
	logger   *slog.Logger
}

// New loads configuration and builds the full kernel. Configuration
// problems surface here and abort initialization.
func New(configPath string, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return NewWithConfig(cfg, logger)
}

// NewWithConfig builds the kernel from an already resolved configuration.
func NewWithConfig(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := state.Open(cfg.Approval.Store)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}

	recorder := audit.NewRecorder(cfg.Audit, logger)

	modules, err := guard.BuildModules(cfg, store, recorder, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("modules: %w", err)
	}

	defaultAction := event.ActionDeny
	if cfg.Global.DefaultAction == "allow" {
		defaultAction = event.ActionAllow
	}

	rt := &Runtime{
		cfg:      cfg,
		store:    store,
		recorder: recorder,
		executor: pipeline.NewExecutor(modules, defaultAction, logger),
		resolver: approval.NewResolver(cfg.Approval, store, logger),
		adapters: adapter.NewRegistry(),
		modules:  modules,
		logger:   logger.With("component", "runtime"),
	}

	rt.logger.Info("radius runtime initialized",
		"profile", cfg.Global.Profile,
		"modules", len(modules),
		"default_action", cfg.Global.DefaultAction,
	)
	return rt, nil
}

// Config returns the frozen configuration.
func (rt *Runtime) Config() *config.Config { return rt.cfg }

// Evaluate runs one canonical event through the pipeline, resolves any
// resulting challenge through the approval subsystem, and records the
// outcome. Every path ends in a PipelineResult.
func (rt *Runtime) Evaluate(ctx context.Context, ev *event.Event) event.PipelineResult {
	res := rt.executor.Evaluate(ctx, ev)

	if res.Action == event.ActionChallenge {
		if lease, err := rt.resolver.ActiveLease(ev); err != nil {
			rt.logger.Error("lease lookup failed", "error", err)
		} else if lease != nil {
			res.Decisions = append(res.Decisions, event.Allow("approval",
				fmt.Sprintf("approval lease %s active", lease.ID)))
			res.Action = event.ActionAllow
			res.Reason = "approval lease active"
		} else if rt.cfg.Approval.Enabled {
			rt.resolver.ResolveChallenge(ctx, ev, &res)
		}
	}

	rt.recorder.RecordResult(ev, &res)
	return res
}

// Check projects a raw framework payload to a canonical event, evaluates
// it, and renders the response in the framework's dialect.
func (rt *Runtime) Check(ctx context.Context, fw event.Framework, raw map[string]interface{}) (map[string]interface{}, error) {
	a, err := rt.adapters.Get(fw)
	if err != nil {
		return nil, err
	}
	ev := a.ToEvent(raw)
	res := rt.Evaluate(ctx, ev)
	return a.ToResponse(&res, ev), nil
}

// Close releases the store and any module resources.
func (rt *Runtime) Close() error {
	for _, m := range rt.modules {
		if c, ok := m.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	return rt.store.Close()
}
