package audit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/radiusguard/radius/internal/config"
)

// sink receives one serialized audit line at a time.
type sink interface {
	write(line []byte)
}

// fileSink appends synchronously. A failed append buffers the line in the
// recorder; the next successful append flushes the buffer first.
type fileSink struct {
	path     string
	recorder *Recorder
}

func (s *fileSink) write(line []byte) {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "radius audit: file sink open failed: %v\n", err)
		s.recorder.bufferLine(line)
		return
	}
	defer f.Close()

	for _, buffered := range s.recorder.takeFallback() {
		if _, err := f.Write(append(buffered, '\n')); err != nil {
			fmt.Fprintf(os.Stderr, "radius audit: flush of buffered entry failed: %v\n", err)
			s.recorder.bufferLine(buffered)
		}
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "radius audit: file sink write failed: %v\n", err)
		s.recorder.bufferLine(line)
	}
}

// stdoutSink prints entries as JSON lines.
type stdoutSink struct{}

func (stdoutSink) write(line []byte) {
	fmt.Fprintln(os.Stdout, string(line))
}

// webhookSink POSTs entries fire-and-forget. With otlp=true the line is
// wrapped in an OTLP-JSON resourceLogs envelope.
type webhookSink struct {
	cfg    config.AuditWebhookConfig
	otlp   bool
	client *http.Client
	logger *slog.Logger
}

func newWebhookSink(cfg config.AuditWebhookConfig, otlp bool, logger *slog.Logger) *webhookSink {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &webhookSink{
		cfg:    cfg,
		otlp:   otlp,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (s *webhookSink) write(line []byte) {
	body := line
	if s.otlp {
		body = otlpEnvelope(line)
	}
	// Dispatch without awaiting: remote sinks stay off the pipeline's
	// latency path.
	go s.post(body)
}

func (s *webhookSink) post(body []byte) {
	req, err := http.NewRequest(http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "radius audit: webhook request failed: %v\n", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Radius/1.0")
	if s.cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(s.cfg.Secret))
		mac.Write(body)
		req.Header.Set("X-Radius-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "radius audit: webhook post failed: %v\n", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "radius audit: webhook returned %d\n", resp.StatusCode)
	}
}

// otlpEnvelope wraps one audit line in resourceLogs/scopeLogs/logRecords.
func otlpEnvelope(line []byte) []byte {
	envelope := map[string]interface{}{
		"resourceLogs": []interface{}{
			map[string]interface{}{
				"resource": map[string]interface{}{
					"attributes": []interface{}{
						map[string]interface{}{
							"key":   "service.name",
							"value": map[string]interface{}{"stringValue": "radius"},
						},
					},
				},
				"scopeLogs": []interface{}{
					map[string]interface{}{
						"scope": map[string]interface{}{"name": "radius.audit"},
						"logRecords": []interface{}{
							map[string]interface{}{
								"timeUnixNano": fmt.Sprintf("%d", time.Now().UnixNano()),
								"body":         map[string]interface{}{"stringValue": string(line)},
							},
						},
					},
				},
			},
		},
	}
	out, err := json.Marshal(envelope)
	if err != nil {
		return line
	}
	return out
}
