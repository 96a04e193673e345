package adapter

import (
	"github.com/radiusguard/radius/internal/event"
)

// OpenClawAdapter speaks the OpenClaw hook dialect: PreToolUse/PostToolUse
// envelopes in, {decision, reason, updatedInput, challenge} out.
type OpenClawAdapter struct{}

// Name implements Adapter.
func (a *OpenClawAdapter) Name() event.Framework { return event.FrameworkOpenClaw }

// ToEvent implements Adapter.
func (a *OpenClawAdapter) ToEvent(raw map[string]interface{}) *event.Event {
	ev := &event.Event{
		Phase:     event.PhasePreTool,
		Framework: event.FrameworkOpenClaw,
		Metadata:  map[string]interface{}{},
	}
	if raw == nil {
		ev.SessionID = "unknown"
		return ev
	}

	switch str(raw, "hook_type", "hook_event_name") {
	case "PostToolUse":
		ev.Phase = event.PhasePostTool
	default:
		ev.Phase = event.PhasePreTool
	}

	ev.SessionID = sessionOrUnknown(str(raw, "session_id"))
	ev.AgentName = str(raw, "agent_name")
	ev.UserID = str(raw, "user_id")

	if toolName := str(raw, "tool_name"); toolName != "" {
		ev.ToolCall = &event.ToolCall{
			Name:      toolName,
			Arguments: objectField(raw, "tool_input", "tool_arguments"),
			Raw:       raw,
		}
	}

	if ev.Phase == event.PhasePostTool {
		result := &event.ToolResult{Raw: raw}
		result.Text = str(raw, "tool_output", "tool_response", "tool_result")
		if isErr, ok := raw["is_error"].(bool); ok {
			result.IsError = isErr
		}
		ev.ToolResult = result
	}

	extractRouting(raw, ev.Metadata)
	return ev
}

// ToResponse implements Adapter.
func (a *OpenClawAdapter) ToResponse(res *event.PipelineResult, _ *event.Event) map[string]interface{} {
	switch res.Action {
	case event.ActionDeny:
		return map[string]interface{}{
			"decision": "deny",
			"reason":   res.Reason,
		}
	case event.ActionChallenge:
		out := map[string]interface{}{
			"decision": "challenge",
			"reason":   res.Reason,
		}
		if ch := challengePayload(res); ch != nil {
			out["challenge"] = ch
		}
		return out
	default:
		out := map[string]interface{}{"decision": "allow"}
		if res.Transforms.ToolArguments != nil {
			out["updatedInput"] = res.Transforms.ToolArguments
		}
		return out
	}
}
