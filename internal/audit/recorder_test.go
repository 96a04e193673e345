package audit

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/radiusguard/radius/internal/config"
	"github.com/radiusguard/radius/internal/event"
)

func sampleEvent() *event.Event {
	return &event.Event{
		Phase:     event.PhasePreTool,
		Framework: event.FrameworkOpenClaw,
		SessionID: "s-1",
		AgentName: "worker",
		ToolCall: &event.ToolCall{
			Name:      "Bash",
			Arguments: map[string]interface{}{"command": "ls"},
		},
	}
}

func sampleResult() *event.PipelineResult {
	return &event.PipelineResult{
		Action: event.ActionDeny,
		Reason: "blocked",
		Decisions: []event.Decision{
			event.Deny("command_guard", "blocked", event.SeverityCritical),
		},
	}
}

func readLines(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad audit line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestRecorder_FileSinkSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	r := NewRecorder(config.AuditConfig{
		Enabled:          true,
		File:             path,
		IncludeArguments: true,
	}, nil)

	r.RecordResult(sampleEvent(), sampleResult())

	entries := readLines(t, path)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Phase != "pre_tool" || e.Framework != "openclaw" || e.SessionID != "s-1" {
		t.Errorf("entry = %+v", e)
	}
	if e.ToolName != "Bash" || e.ToolArguments["command"] != "ls" {
		t.Errorf("tool fields = %q %v", e.ToolName, e.ToolArguments)
	}
	if len(e.Decisions) != 1 || e.Decisions[0].Module != "command_guard" {
		t.Errorf("decisions = %+v", e.Decisions)
	}
	if e.FinalAction != "deny" {
		t.Errorf("finalAction = %q", e.FinalAction)
	}
	if _, err := time.Parse("2006-01-02T15:04:05.000Z07:00", e.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", e.Timestamp, err)
	}
}

func TestRecorder_ArgumentsExcludedByDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	r := NewRecorder(config.AuditConfig{Enabled: true, File: path}, nil)

	r.RecordResult(sampleEvent(), sampleResult())

	entries := readLines(t, path)
	if entries[0].ToolArguments != nil {
		t.Error("arguments logged without includeArguments")
	}
}

func TestRecorder_FallbackBufferFlushes(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "missing-parent", "audit.jsonl")

	r := NewRecorder(config.AuditConfig{Enabled: true, File: blocked}, nil)
	r.RecordResult(sampleEvent(), sampleResult())

	// The write failed; the entry sits in the fallback buffer.
	if len(r.fallback) != 1 {
		t.Fatalf("fallback length = %d, want 1", len(r.fallback))
	}

	// Once the path becomes writable, the next append flushes the buffer.
	if err := os.MkdirAll(filepath.Dir(blocked), 0o755); err != nil {
		t.Fatal(err)
	}
	r.RecordResult(sampleEvent(), sampleResult())

	entries := readLines(t, blocked)
	if len(entries) != 2 {
		t.Errorf("entries = %d, want buffered + current", len(entries))
	}
	if len(r.fallback) != 0 {
		t.Errorf("fallback not drained: %d", len(r.fallback))
	}
}

func TestRecorder_WebhookSink(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	received := make(chan struct{}, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		mu.Lock()
		bodies = append(bodies, buf)
		mu.Unlock()
		received <- struct{}{}
	}))
	defer srv.Close()

	r := NewRecorder(config.AuditConfig{
		Enabled: true,
		Webhook: config.AuditWebhookConfig{URL: srv.URL, Secret: "s3cret"},
	}, nil)
	r.RecordResult(sampleEvent(), sampleResult())

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook sink never posted")
	}

	mu.Lock()
	defer mu.Unlock()
	var e Entry
	if err := json.Unmarshal(bodies[0], &e); err != nil {
		t.Fatalf("webhook body: %v", err)
	}
	if e.SessionID != "s-1" {
		t.Errorf("entry = %+v", e)
	}
}

func TestRecorder_OTLPEnvelope(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		received <- buf
	}))
	defer srv.Close()

	r := NewRecorder(config.AuditConfig{
		Enabled: true,
		OTLP:    config.AuditOTLPConfig{URL: srv.URL},
	}, nil)
	r.RecordResult(sampleEvent(), sampleResult())

	var body []byte
	select {
	case body = <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("otlp sink never posted")
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatal(err)
	}
	rl, _ := envelope["resourceLogs"].([]interface{})
	if len(rl) != 1 {
		t.Fatalf("resourceLogs = %v", envelope)
	}
	if !json.Valid(body) {
		t.Error("otlp body is not valid JSON")
	}
}

func TestRecorder_DisabledWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	r := NewRecorder(config.AuditConfig{Enabled: false, File: path}, nil)
	r.RecordResult(sampleEvent(), sampleResult())

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("disabled recorder touched the audit file")
	}
}
