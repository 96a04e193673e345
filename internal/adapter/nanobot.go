package adapter

import (
	"github.com/radiusguard/radius/internal/event"
)

// NanobotAdapter speaks the MCP-style nanobot dialect: tools/call requests
// and responses in, {accept, reason, message, challenge} out.
type NanobotAdapter struct{}

// Name implements Adapter.
func (a *NanobotAdapter) Name() event.Framework { return event.FrameworkNanobot }

// ToEvent implements Adapter.
func (a *NanobotAdapter) ToEvent(raw map[string]interface{}) *event.Event {
	ev := &event.Event{
		Phase:     event.PhasePreTool,
		Framework: event.FrameworkNanobot,
		SessionID: "unknown",
		Metadata:  map[string]interface{}{},
	}
	if raw == nil {
		return ev
	}

	if str(raw, "direction") == "response" {
		ev.Phase = event.PhasePostTool
	}
	ev.SessionID = sessionOrUnknown(str(raw, "session_id", "sessionId"))

	params := objectField(raw, "params")
	if params != nil {
		ev.AgentName = str(params, "agent")
		if name := str(params, "name"); name != "" {
			ev.ToolCall = &event.ToolCall{
				Name:      name,
				Arguments: objectField(params, "arguments"),
				Raw:       raw,
			}
		}
		extractRouting(params, ev.Metadata)
	}

	if ev.Phase == event.PhasePostTool {
		result := &event.ToolResult{Raw: raw}
		if r := objectField(raw, "result"); r != nil {
			if isErr, ok := r["isError"].(bool); ok {
				result.IsError = isErr
			}
			if content, ok := r["content"].([]interface{}); ok {
				for _, item := range content {
					if m, ok := item.(map[string]interface{}); ok {
						if text := str(m, "text"); text != "" {
							if result.Text != "" {
								result.Text += "\n"
							}
							result.Text += text
						}
					}
				}
			}
		}
		ev.ToolResult = result
	}

	extractRouting(raw, ev.Metadata)
	return ev
}

// ToResponse implements Adapter.
func (a *NanobotAdapter) ToResponse(res *event.PipelineResult, _ *event.Event) map[string]interface{} {
	switch res.Action {
	case event.ActionDeny:
		return map[string]interface{}{
			"accept": false,
			"reason": res.Reason,
		}
	case event.ActionChallenge:
		out := map[string]interface{}{
			"accept":  false,
			"reason":  res.Reason,
			"message": res.Reason,
		}
		if ch := challengePayload(res); ch != nil {
			out["challenge"] = ch
		}
		return out
	default:
		out := map[string]interface{}{"accept": true}
		if res.Transforms.ToolArguments != nil {
			out["arguments"] = res.Transforms.ToolArguments
		}
		return out
	}
}
