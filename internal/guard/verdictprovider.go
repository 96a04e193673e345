package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/radiusguard/radius/internal/event"
)

// verdictProviderConfig configures the verdict_provider module.
type verdictProviderConfig struct {
	Providers       []providerConfig `yaml:"providers"`
	MinConfidence   float64          `yaml:"minConfidence"`
	OnProviderError string           `yaml:"onProviderError"` // alert or deny
}

type providerConfig struct {
	Name      string            `yaml:"name"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	TimeoutMs int               `yaml:"timeoutMs"`
}

// providerVerdict is the normalized provider response.
type providerVerdict struct {
	Action     string  `json:"action"` // allow, deny, alert
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category,omitempty"`
	Provider   string  `json:"provider"`
}

// rawVerdict accepts the wire forms providers actually send.
type rawVerdict struct {
	Action     string      `json:"action"`
	Confidence *float64    `json:"confidence"`
	Category   string      `json:"category"`
	Blocked    *bool       `json:"blocked"`
	Verdict    *rawVerdict `json:"verdict"`
}

// VerdictProvider bridges external scanning services into the pipeline.
// Each provider is POSTed the phase-appropriate content with an independent
// timeout; any deny verdict meeting the confidence floor denies.
type VerdictProvider struct {
	base
	providers       []providerConfig
	minConfidence   float64
	onProviderError string
	client          *http.Client
	logger          *slog.Logger
}

// NewVerdictProvider builds the module.
func NewVerdictProvider(cfg map[string]interface{}, logger *slog.Logger) (*VerdictProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c verdictProviderConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.5
	}
	if c.OnProviderError == "" {
		c.OnProviderError = "alert"
	}
	for i := range c.Providers {
		if c.Providers[i].TimeoutMs <= 0 {
			c.Providers[i].TimeoutMs = 3000
		}
	}

	return &VerdictProvider{
		base: newBase("verdict_provider",
			[]event.Phase{event.PhasePreRequest, event.PhasePreTool, event.PhasePreResponse}, cfg),
		providers:       c.Providers,
		minConfidence:   c.MinConfidence,
		onProviderError: c.OnProviderError,
		client:          &http.Client{},
		logger:          logger.With("component", "guard.VerdictProvider"),
	}, nil
}

// Evaluate implements pipeline.Module.
func (g *VerdictProvider) Evaluate(ctx context.Context, ev *event.Event) (event.Decision, error) {
	if len(g.providers) == 0 {
		return event.Allow(g.name, "no providers configured"), nil
	}

	payload, ok := g.payload(ev)
	if !ok {
		return event.Allow(g.name, "no content for this phase"), nil
	}

	var findings []string
	var errors []string

	for _, p := range g.providers {
		v, err := g.callProvider(ctx, p, payload)
		if err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		if v.Action == "deny" && v.Confidence >= g.minConfidence {
			return event.Deny(g.name,
				fmt.Sprintf("provider %s denied (%s, confidence %.2f)", v.Provider, v.Category, v.Confidence),
				event.SeverityHigh), nil
		}
		if v.Action != "allow" {
			findings = append(findings, fmt.Sprintf("%s: %s (%.2f)", v.Provider, v.Action, v.Confidence))
		}
	}

	if len(errors) > 0 && g.onProviderError == "deny" {
		return event.Deny(g.name,
			fmt.Sprintf("provider errors: %s", strings.Join(errors, "; ")),
			event.SeverityHigh), nil
	}
	if len(findings) > 0 || len(errors) > 0 {
		parts := append(findings, errors...)
		return event.Alert(g.name, strings.Join(parts, "; "), event.SeverityMedium), nil
	}
	return event.Allow(g.name, "providers returned allow"), nil
}

// payload builds the phase-appropriate request body.
func (g *VerdictProvider) payload(ev *event.Event) ([]byte, bool) {
	switch ev.Phase {
	case event.PhasePreRequest:
		if ev.RequestText == "" {
			return nil, false
		}
		b, _ := json.Marshal(map[string]string{"content": ev.RequestText})
		return b, true
	case event.PhasePreResponse:
		if ev.Response == "" {
			return nil, false
		}
		b, _ := json.Marshal(map[string]string{"content": ev.Response})
		return b, true
	case event.PhasePreTool:
		if ev.ToolCall == nil {
			return nil, false
		}
		b, _ := json.Marshal(map[string]interface{}{
			"tool":      ev.ToolCall.Name,
			"arguments": ev.ToolCall.Arguments,
		})
		return b, true
	}
	return nil, false
}

// callProvider POSTs content to one provider under its own timeout.
func (g *VerdictProvider) callProvider(ctx context.Context, p providerConfig, body []byte) (providerVerdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(p.TimeoutMs)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return providerVerdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return providerVerdict{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return providerVerdict{}, fmt.Errorf("provider returned %d", resp.StatusCode)
	}

	var raw rawVerdict
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return providerVerdict{}, fmt.Errorf("malformed provider response: %w", err)
	}
	return normalizeVerdict(raw, p.Name), nil
}

// normalizeVerdict folds the accepted wire forms into one shape.
func normalizeVerdict(raw rawVerdict, provider string) providerVerdict {
	if raw.Verdict != nil {
		return normalizeVerdict(*raw.Verdict, provider)
	}

	v := providerVerdict{Provider: provider, Category: raw.Category, Confidence: 1}
	if raw.Confidence != nil {
		v.Confidence = *raw.Confidence
		if v.Confidence < 0 {
			v.Confidence = 0
		}
		if v.Confidence > 1 {
			v.Confidence = 1
		}
	}

	switch {
	case raw.Action != "":
		switch strings.ToLower(raw.Action) {
		case "deny", "block", "blocked":
			v.Action = "deny"
		case "alert", "warn", "flag":
			v.Action = "alert"
		default:
			v.Action = "allow"
		}
	case raw.Blocked != nil:
		if *raw.Blocked {
			v.Action = "deny"
		} else {
			v.Action = "allow"
		}
	default:
		v.Action = "allow"
	}
	return v
}
