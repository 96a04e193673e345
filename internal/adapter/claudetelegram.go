package adapter

import (
	"fmt"

	"github.com/radiusguard/radius/internal/event"
)

// ClaudeTelegramAdapter speaks the chat-bridge dialect: beforeClaude and
// afterClaude hooks with a ctx block, {allow, reason, message, challenge}
// out.
type ClaudeTelegramAdapter struct{}

// Name implements Adapter.
func (a *ClaudeTelegramAdapter) Name() event.Framework { return event.FrameworkClaudeTelegram }

// ToEvent implements Adapter.
func (a *ClaudeTelegramAdapter) ToEvent(raw map[string]interface{}) *event.Event {
	ev := &event.Event{
		Phase:     event.PhasePreRequest,
		Framework: event.FrameworkClaudeTelegram,
		SessionID: "unknown",
		Metadata:  map[string]interface{}{},
	}
	if raw == nil {
		return ev
	}

	if str(raw, "hook") == "afterClaude" {
		ev.Phase = event.PhasePreResponse
		ev.Response = str(raw, "result")
	} else {
		ev.RequestText = str(raw, "message")
	}

	if ctx := objectField(raw, "ctx"); ctx != nil {
		if chatID, ok := ctx["chatId"]; ok {
			ev.SessionID = fmt.Sprintf("%v", chatID)
		}
		if userID, ok := ctx["userId"]; ok {
			ev.UserID = fmt.Sprintf("%v", userID)
		}
		ev.AgentName = str(ctx, "agentName")
		extractRouting(ctx, ev.Metadata)
		// Chat traffic always has a telegram routing channel.
		if _, ok := ev.Metadata[event.MetaChannel]; !ok {
			ev.Metadata[event.MetaChannel] = "telegram"
		}
	}

	extractRouting(raw, ev.Metadata)
	return ev
}

// ToResponse implements Adapter.
func (a *ClaudeTelegramAdapter) ToResponse(res *event.PipelineResult, ev *event.Event) map[string]interface{} {
	switch res.Action {
	case event.ActionDeny:
		return map[string]interface{}{
			"allow":   false,
			"reason":  res.Reason,
			"message": res.Reason,
		}
	case event.ActionChallenge:
		out := map[string]interface{}{
			"allow":  false,
			"reason": res.Reason,
		}
		if ch := challengePayload(res); ch != nil {
			out["challenge"] = ch
			out["message"] = ch["prompt"]
		}
		return out
	default:
		out := map[string]interface{}{"allow": true}
		if ev != nil && ev.Phase == event.PhasePreResponse && res.Transforms.ResponseText != nil {
			out["message"] = *res.Transforms.ResponseText
		}
		return out
	}
}
