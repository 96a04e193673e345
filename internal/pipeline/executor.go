package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/radiusguard/radius/internal/event"
)

// Executor runs an ordered module list against events. It is stateless apart
// from the module set and safe for concurrent use across events.
type Executor struct {
	modules       []Module
	defaultAction event.Action
	logger        *slog.Logger
}

// NewExecutor creates an Executor. defaultAction is returned when no module
// applies to an event's phase.
func NewExecutor(modules []Module, defaultAction event.Action, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		modules:       modules,
		defaultAction: defaultAction,
		logger:        logger.With("component", "pipeline.Executor"),
	}
}

// Modules returns the configured module list in evaluation order.
func (x *Executor) Modules() []Module { return x.modules }

// Evaluate runs the event through every module whose phase set contains the
// event phase, in configured order. It never returns an error: every path
// ends in a PipelineResult.
func (x *Executor) Evaluate(ctx context.Context, ev *event.Event) event.PipelineResult {
	res := event.PipelineResult{Action: event.ActionAllow}
	evaluated := false

	for _, m := range x.modules {
		if !HasPhase(m, ev.Phase) {
			continue
		}
		evaluated = true

		dec, err := x.evaluateOne(ctx, m, ev)
		if err != nil {
			if m.Mode() == ModeObserve {
				res.Alerts = append(res.Alerts, fmt.Sprintf("[%s] module error (observed): %v", m.Name(), err))
				continue
			}
			x.logger.Error("module error, failing closed",
				"module", m.Name(),
				"phase", string(ev.Phase),
				"session_id", ev.SessionID,
				"error", err,
			)
			res.Decisions = append(res.Decisions, event.Deny(
				m.Name(),
				fmt.Sprintf("module error (fail-closed): %v", err),
				event.SeverityCritical,
			))
			res.Action = event.ActionDeny
			res.Reason = res.Decisions[len(res.Decisions)-1].Reason
			return res
		}

		if m.Mode() == ModeObserve {
			switch dec.Action {
			case event.ActionDeny, event.ActionChallenge, event.ActionModify:
				res.Alerts = append(res.Alerts, fmt.Sprintf("[%s] observe-mode would %s: %s", m.Name(), dec.Action, dec.Reason))
				res.Decisions = append(res.Decisions, dec)
				continue
			}
		}

		switch dec.Action {
		case event.ActionDeny, event.ActionChallenge:
			res.Decisions = append(res.Decisions, dec)
			res.Action = dec.Action
			res.Reason = dec.Reason
			return res

		case event.ActionModify:
			res.Decisions = append(res.Decisions, dec)
			composePatch(&res.Transforms, dec.Patch)

		case event.ActionAlert:
			res.Alerts = append(res.Alerts, fmt.Sprintf("[%s] %s", m.Name(), dec.Reason))
			res.Decisions = append(res.Decisions, dec)

		case event.ActionAllow:
			// Module did not fire; keep going.
		}
	}

	if evaluated || len(res.Decisions) > 0 || len(res.Alerts) > 0 {
		res.Action = event.ActionAllow
		res.Reason = "allow after module evaluation"
		return res
	}

	res.Action = x.defaultAction
	res.Reason = "no applicable modules"
	return res
}

// evaluateOne invokes a module with panic capture so a misbehaving module
// cannot take down the pipeline.
func (x *Executor) evaluateOne(ctx context.Context, m Module, ev *event.Event) (dec event.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.Evaluate(ctx, ev)
}

// composePatch folds one modify patch onto accumulated transforms. Scalar
// slots are last-writer-wins; ToolArguments deep-merges.
func composePatch(t *event.Transforms, p *event.Patch) {
	if p == nil {
		return
	}
	if p.RequestText != nil {
		t.RequestText = p.RequestText
	}
	if p.ToolResultText != nil {
		t.ToolResultText = p.ToolResultText
	}
	if p.ResponseText != nil {
		t.ResponseText = p.ResponseText
	}
	if p.ToolArguments != nil {
		t.ToolArguments = DeepMerge(t.ToolArguments, p.ToolArguments)
	}
}

// DeepMerge merges b over a: map-valued keys merge recursively, every other
// type (including slices) is replaced. Neither input is mutated.
func DeepMerge(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, bv := range b {
		if bm, ok := bv.(map[string]interface{}); ok {
			if am, ok := out[k].(map[string]interface{}); ok {
				out[k] = DeepMerge(am, bm)
				continue
			}
		}
		out[k] = bv
	}
	return out
}
