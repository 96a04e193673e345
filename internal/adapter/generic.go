package adapter

import (
	"encoding/json"

	"github.com/radiusguard/radius/internal/event"
)

// GenericAdapter accepts canonical events directly and returns the pipeline
// result shape unchanged.
type GenericAdapter struct{}

// Name implements Adapter.
func (a *GenericAdapter) Name() event.Framework { return event.FrameworkGeneric }

// ToEvent implements Adapter.
func (a *GenericAdapter) ToEvent(raw map[string]interface{}) *event.Event {
	ev := &event.Event{
		Phase:     event.PhasePreTool,
		Framework: event.FrameworkGeneric,
		SessionID: "unknown",
		Metadata:  map[string]interface{}{},
	}
	if raw == nil {
		return ev
	}

	// Round-trip through JSON so the canonical field names apply directly.
	data, err := json.Marshal(raw)
	if err != nil {
		return ev
	}
	parsed := &event.Event{}
	if err := json.Unmarshal(data, parsed); err != nil {
		return ev
	}

	if parsed.Phase == "" {
		parsed.Phase = event.PhasePreTool
	}
	if parsed.Framework == "" {
		parsed.Framework = event.FrameworkGeneric
	}
	parsed.SessionID = sessionOrUnknown(parsed.SessionID)
	if parsed.Metadata == nil {
		parsed.Metadata = map[string]interface{}{}
	}
	return parsed
}

// ToResponse implements Adapter.
func (a *GenericAdapter) ToResponse(res *event.PipelineResult, _ *event.Event) map[string]interface{} {
	out := map[string]interface{}{
		"action": string(res.Action),
		"reason": res.Reason,
	}
	if !res.Transforms.Empty() {
		out["transforms"] = res.Transforms
	}
	if len(res.Alerts) > 0 {
		out["alerts"] = res.Alerts
	}
	if ch := challengePayload(res); ch != nil {
		out["challenge"] = ch
	}
	return out
}
