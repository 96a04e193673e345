package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/radiusguard/radius/internal/event"
	"github.com/radiusguard/radius/internal/state"
)

// repetitionConfig configures the repetition_guard module.
type repetitionConfig struct {
	Threshold   int    `yaml:"threshold"`
	CooldownSec int    `yaml:"cooldownSec"`
	OnRepeat    string `yaml:"onRepeat"` // deny or alert
}

// RepetitionGuard detects an agent stuck re-issuing the same tool call.
// Identical consecutive calls within the cooldown extend a streak; reaching
// the threshold fires.
type RepetitionGuard struct {
	base
	threshold   int
	cooldownSec int
	onRepeat    string
	store       state.Store
	logger      *slog.Logger

	now func() time.Time
}

// NewRepetitionGuard builds the module on the shared state store.
func NewRepetitionGuard(cfg map[string]interface{}, store state.Store, logger *slog.Logger) (*RepetitionGuard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c repetitionConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.CooldownSec <= 0 {
		c.CooldownSec = 60
	}
	if c.OnRepeat == "" {
		c.OnRepeat = "deny"
	}
	if c.OnRepeat != "deny" && c.OnRepeat != "alert" {
		return nil, fmt.Errorf("repetition_guard onRepeat must be deny or alert, got %q", c.OnRepeat)
	}

	return &RepetitionGuard{
		base:        newBase("repetition_guard", []event.Phase{event.PhasePreTool}, cfg),
		threshold:   c.Threshold,
		cooldownSec: c.CooldownSec,
		onRepeat:    c.OnRepeat,
		store:       store,
		logger:      logger.With("component", "guard.RepetitionGuard"),
		now:         time.Now,
	}, nil
}

// Evaluate implements pipeline.Module.
func (g *RepetitionGuard) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	if ev.ToolCall == nil {
		return event.Allow(g.name, "no tool call"), nil
	}

	fp := Fingerprint(ev.ToolCall.Name, ev.ToolCall.Arguments)
	bucket := strings.Join([]string{string(ev.Framework), ev.SessionID, ev.AgentName, ev.UserID}, "|")

	count, err := g.store.ConsumeRepetition(bucket, fp, g.cooldownSec, g.now().UnixMilli())
	if err != nil {
		return event.Decision{}, fmt.Errorf("repetition store: %w", err)
	}

	if count >= g.threshold {
		reason := fmt.Sprintf("tool %q repeated %d times with identical arguments (threshold %d)",
			ev.ToolCall.Name, count, g.threshold)
		if g.onRepeat == "alert" {
			return event.Alert(g.name, reason, event.SeverityHigh), nil
		}
		return event.Deny(g.name, reason, event.SeverityHigh), nil
	}
	return event.Allow(g.name, "no repetition streak"), nil
}

// Fingerprint hashes a tool call into a stable identity: SHA-256 of
// "name:stable-json(arguments)" with object keys sorted and cycles marked.
func Fingerprint(tool string, args map[string]interface{}) string {
	var sb strings.Builder
	sb.WriteString(tool)
	sb.WriteString(":")
	writeStableJSON(&sb, args, map[interface{}]bool{})
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// writeStableJSON serializes a value deterministically: map keys ascending,
// revisited containers replaced with a cycle marker.
func writeStableJSON(sb *strings.Builder, v interface{}, seen map[interface{}]bool) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case string:
		sb.WriteString(strconv.Quote(val))
	case float64:
		sb.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case int:
		sb.WriteString(strconv.Itoa(val))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case map[string]interface{}:
		key := fmt.Sprintf("%p", val)
		if seen[key] {
			sb.WriteString(`"<cycle>"`)
			return
		}
		seen[key] = true
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteString(":")
			writeStableJSON(sb, val[k], seen)
		}
		sb.WriteString("}")
		delete(seen, key)
	case []interface{}:
		key := fmt.Sprintf("%p", val)
		if seen[key] {
			sb.WriteString(`"<cycle>"`)
			return
		}
		seen[key] = true
		sb.WriteString("[")
		for i, item := range val {
			if i > 0 {
				sb.WriteString(",")
			}
			writeStableJSON(sb, item, seen)
		}
		sb.WriteString("]")
		delete(seen, key)
	default:
		sb.WriteString(fmt.Sprintf("%q", fmt.Sprintf("%v", val)))
	}
}
