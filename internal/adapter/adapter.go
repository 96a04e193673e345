// Package adapter translates orchestrator-specific payloads into the
// canonical event shape and renders pipeline results back in each
// framework's dialect. Adapters tolerate malformed input: a broken payload
// becomes an event with safe defaults, never an error.
package adapter

import (
	"fmt"

	"github.com/radiusguard/radius/internal/event"
)

// Adapter is the uniform per-framework contract.
type Adapter interface {
	// Name returns the framework tag this adapter serves.
	Name() event.Framework

	// ToEvent projects a raw payload into a canonical event.
	ToEvent(raw map[string]interface{}) *event.Event

	// ToResponse renders a pipeline result in the framework's dialect.
	ToResponse(res *event.PipelineResult, ev *event.Event) map[string]interface{}
}

// Registry maps framework tags to adapters.
type Registry struct {
	adapters map[event.Framework]Adapter
}

// NewRegistry builds the default adapter set.
func NewRegistry() *Registry {
	r := &Registry{adapters: map[event.Framework]Adapter{}}
	for _, a := range []Adapter{
		&OpenClawAdapter{},
		&NanobotAdapter{},
		&ClaudeTelegramAdapter{},
		&GenericAdapter{},
	} {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for a framework.
func (r *Registry) Get(fw event.Framework) (Adapter, error) {
	a, ok := r.adapters[fw]
	if !ok {
		return nil, fmt.Errorf("unknown framework %q", fw)
	}
	return a, nil
}

// routing hint aliases, per framework dialect, mapped to the canonical
// metadata keys.
var routingAliases = map[string]string{
	"channel":   event.MetaChannel,
	"transport": event.MetaChannel,
	"messenger": event.MetaChannel,
	"mode":      event.MetaModeHint,
	"profile":   event.MetaModeHint,
	"task_type": event.MetaTaskType,
	"taskType":  event.MetaTaskType,
	"tags":      event.MetaTags,
	"labels":    event.MetaTags,
}

// extractRouting copies known routing hints from a raw payload into
// canonical metadata keys.
func extractRouting(raw map[string]interface{}, meta map[string]interface{}) {
	for alias, canonical := range routingAliases {
		v, ok := raw[alias]
		if !ok {
			continue
		}
		if _, exists := meta[canonical]; exists {
			continue
		}
		meta[canonical] = v
	}
}

// str pulls a string field out of a raw map.
func str(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// objectField pulls a map field out of a raw map.
func objectField(raw map[string]interface{}, keys ...string) map[string]interface{} {
	for _, k := range keys {
		if m, ok := raw[k].(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

// sessionOrUnknown applies the required session default.
func sessionOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// challengePayload renders a challenge for response envelopes.
func challengePayload(res *event.PipelineResult) map[string]interface{} {
	t := res.Terminal()
	if t == nil || t.Challenge == nil {
		return nil
	}
	return map[string]interface{}{
		"channel":         string(t.Challenge.Channel),
		"prompt":          t.Challenge.Prompt,
		"timeout_seconds": t.Challenge.TimeoutSeconds,
	}
}
