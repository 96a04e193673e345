// Package pipeline implements the phased policy evaluation pipeline. Modules
// are evaluated in configured order; the first deny or challenge
// short-circuits, modify patches compose, and errors inside enforce-mode
// modules fail closed.
package pipeline

import (
	"context"

	"github.com/radiusguard/radius/internal/event"
)

// Mode controls whether a module's verdicts are enforced or only reported.
type Mode string

const (
	ModeEnforce Mode = "enforce"
	ModeObserve Mode = "observe"
)

// Module is a self-contained policy predicate. A module declares the phases
// it participates in as data; the executor performs a pure phase filter and
// calls Evaluate exactly once per applicable event.
type Module interface {
	// Name returns the stable module name used in config and audit entries.
	Name() string

	// Phases returns the phases this module evaluates.
	Phases() []event.Phase

	// Mode returns enforce or observe.
	Mode() Mode

	// Evaluate produces exactly one decision for the event. A returned error
	// is folded into fail-closed deny (enforce) or an alert (observe) by the
	// executor; modules should prefer returning decisions over errors.
	Evaluate(ctx context.Context, ev *event.Event) (event.Decision, error)
}

// HasPhase reports whether the module participates in the given phase.
func HasPhase(m Module, p event.Phase) bool {
	for _, mp := range m.Phases() {
		if mp == p {
			return true
		}
	}
	return false
}
