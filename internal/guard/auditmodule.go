package guard

import (
	"context"

	"github.com/radiusguard/radius/internal/audit"
	"github.com/radiusguard/radius/internal/event"
)

// AuditModule records every event passing through the pipeline. It always
// allows; the completed pipeline result is recorded separately by the
// runtime once the event terminates.
type AuditModule struct {
	base
	recorder *audit.Recorder
}

// NewAuditModule builds the module around a shared recorder.
func NewAuditModule(cfg map[string]interface{}, recorder *audit.Recorder) *AuditModule {
	return &AuditModule{
		base:     newBase("audit", event.AllPhases, cfg),
		recorder: recorder,
	}
}

// Evaluate implements pipeline.Module.
func (g *AuditModule) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	g.recorder.RecordEvent(ev)
	return event.Allow(g.name, "recorded"), nil
}
