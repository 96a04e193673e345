// Package audit implements the append-only decision log. Entries are JSON
// lines; the file sink is synchronous with an in-memory fallback buffer,
// remote sinks are dispatched fire-and-forget so they never sit in the
// pipeline's latency path.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/radiusguard/radius/internal/config"
	"github.com/radiusguard/radius/internal/event"
)

// Entry is one audit log line.
type Entry struct {
	ID            string                 `json:"id"`
	Timestamp     string                 `json:"timestamp"` // ISO-8601, millisecond precision
	Phase         string                 `json:"phase"`
	Framework     string                 `json:"framework"`
	SessionID     string                 `json:"sessionId"`
	UserID        string                 `json:"userId,omitempty"`
	AgentName     string                 `json:"agentName,omitempty"`
	ToolName      string                 `json:"toolName,omitempty"`
	ToolArguments map[string]interface{} `json:"toolArguments,omitempty"`
	ToolResult    *ResultSummary         `json:"toolResult,omitempty"`
	Artifact      *ArtifactSummary       `json:"artifact,omitempty"`
	Decisions     []DecisionSummary      `json:"decisions,omitempty"`
	FinalAction   string                 `json:"finalAction,omitempty"`
	FinalReason   string                 `json:"finalReason,omitempty"`
	Alerts        []string               `json:"alerts,omitempty"`
}

// ResultSummary avoids logging full tool output.
type ResultSummary struct {
	IsError    bool `json:"isError"`
	TextLength int  `json:"textLength"`
}

// ArtifactSummary carries provenance fields only, never content.
type ArtifactSummary struct {
	Kind              string `json:"kind"`
	SourceURI         string `json:"sourceUri,omitempty"`
	Hash              string `json:"hash,omitempty"`
	SignatureVerified bool   `json:"signatureVerified"`
	Signer            string `json:"signer,omitempty"`
	SBOMURI           string `json:"sbomUri,omitempty"`
	VersionPinned     bool   `json:"versionPinned"`
}

// DecisionSummary is the audit projection of a pipeline decision.
type DecisionSummary struct {
	Action   string `json:"action"`
	Module   string `json:"module"`
	Reason   string `json:"reason"`
	Severity string `json:"severity"`
}

// Recorder fans audit entries out to the configured sinks.
type Recorder struct {
	cfg    config.AuditConfig
	sinks  []sink
	logger *slog.Logger

	// fallback buffers lines that failed the synchronous file append; a
	// later successful append flushes it.
	mu       sync.Mutex
	fallback [][]byte
}

// NewRecorder builds the recorder and its sinks from config.
func NewRecorder(cfg config.AuditConfig, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		cfg:    cfg,
		logger: logger.With("component", "audit.Recorder"),
	}
	if !cfg.Enabled {
		return r
	}
	if cfg.File != "" {
		r.sinks = append(r.sinks, &fileSink{path: cfg.File, recorder: r})
	}
	if cfg.Stdout {
		r.sinks = append(r.sinks, stdoutSink{})
	}
	if cfg.Webhook.URL != "" {
		r.sinks = append(r.sinks, newWebhookSink(cfg.Webhook, false, r.logger))
	}
	if cfg.OTLP.URL != "" {
		r.sinks = append(r.sinks, newWebhookSink(config.AuditWebhookConfig{
			URL:       cfg.OTLP.URL,
			TimeoutMs: cfg.OTLP.TimeoutMs,
		}, true, r.logger))
	}
	return r
}

// RecordEvent logs an event sighting (called by the audit module inside the
// pipeline).
func (r *Recorder) RecordEvent(ev *event.Event) {
	if !r.cfg.Enabled {
		return
	}
	r.emit(r.entryFor(ev, nil))
}

// RecordResult logs a completed pipeline result for an event.
func (r *Recorder) RecordResult(ev *event.Event, res *event.PipelineResult) {
	if !r.cfg.Enabled {
		return
	}
	r.emit(r.entryFor(ev, res))
}

func (r *Recorder) entryFor(ev *event.Event, res *event.PipelineResult) Entry {
	e := Entry{
		ID:        ulid.Make().String(),
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Phase:     string(ev.Phase),
		Framework: string(ev.Framework),
		SessionID: ev.SessionID,
		UserID:    ev.UserID,
		AgentName: ev.AgentName,
	}
	if ev.ToolCall != nil {
		e.ToolName = ev.ToolCall.Name
		if r.cfg.IncludeArguments {
			e.ToolArguments = ev.ToolCall.Arguments
		}
	}
	if ev.ToolResult != nil && r.cfg.IncludeResults {
		e.ToolResult = &ResultSummary{
			IsError:    ev.ToolResult.IsError,
			TextLength: len(ev.ToolResult.Text),
		}
	}
	if ev.Artifact != nil {
		e.Artifact = &ArtifactSummary{
			Kind:              string(ev.Artifact.Kind),
			SourceURI:         ev.Artifact.SourceURI,
			Hash:              ev.Artifact.Hash,
			SignatureVerified: ev.Artifact.SignatureVerified,
			Signer:            ev.Artifact.Signer,
			SBOMURI:           ev.Artifact.SBOMURI,
			VersionPinned:     ev.Artifact.VersionPinned,
		}
	}
	if res != nil {
		e.FinalAction = string(res.Action)
		e.FinalReason = res.Reason
		e.Alerts = res.Alerts
		for _, d := range res.Decisions {
			e.Decisions = append(e.Decisions, DecisionSummary{
				Action:   string(d.Action),
				Module:   d.Module,
				Reason:   d.Reason,
				Severity: string(d.Severity),
			})
		}
	}
	return e
}

// emit serializes the entry and hands it to every sink. Sink failures are
// stderr diagnostics, never errors.
func (r *Recorder) emit(e Entry) {
	line, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "radius audit: failed to marshal entry: %v\n", err)
		return
	}
	for _, s := range r.sinks {
		s.write(line)
	}
}

// bufferLine stores a failed line for later flushing.
func (r *Recorder) bufferLine(line []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.fallback) >= 1000 {
		r.fallback = r.fallback[1:]
	}
	buf := make([]byte, len(line))
	copy(buf, line)
	r.fallback = append(r.fallback, buf)
}

// takeFallback drains the buffered lines.
func (r *Recorder) takeFallback() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.fallback
	r.fallback = nil
	return out
}
