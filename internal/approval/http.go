package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/radiusguard/radius/internal/config"
	"github.com/radiusguard/radius/internal/event"
)

// HTTPConnector resolves challenges through a custom HTTP bridge: a single
// POST carrying the approval request, optionally followed by GET polling
// when the bridge answers pending.
type HTTPConnector struct {
	cfg    config.HTTPConnectorConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPConnector builds the connector.
func NewHTTPConnector(cfg config.HTTPConnectorConfig, logger *slog.Logger) *HTTPConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPConnector{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger.With("component", "approval.HTTPConnector"),
	}
}

// Name implements Connector.
func (c *HTTPConnector) Name() event.Channel { return event.ChannelHTTP }

// bridgeResponse is the JSON body the bridge returns.
type bridgeResponse struct {
	Status       string `json:"status"`
	Reason       string `json:"reason"`
	TTLSec       int    `json:"ttlSec"`
	PollURL      string `json:"pollUrl"`
	RetryAfterMs int    `json:"retryAfterMs"`
}

// Resolve implements Connector. The effective per-call timeout is the
// smaller of the connector-configured and challenge-requested limits.
func (c *HTTPConnector) Resolve(ctx context.Context, approvalID string, ch *event.Challenge, ev *event.Event) Resolution {
	timeout := time.Duration(c.cfg.TimeoutMs) * time.Millisecond
	if challengeTimeout := time.Duration(ch.TimeoutSeconds) * time.Second; timeout <= 0 || challengeTimeout < timeout {
		timeout = challengeTimeout
	}
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	body, err := json.Marshal(map[string]interface{}{
		"approvalId": approvalID,
		"prompt":     ch.Prompt,
		"timeoutSec": ch.TimeoutSeconds,
		"event":      ev,
	})
	if err != nil {
		return Resolution{Outcome: OutcomeError, Reason: err.Error()}
	}

	br, err := c.do(ctx, http.MethodPost, c.cfg.URL, body)
	if err != nil {
		return errorResolution(err)
	}
	return c.interpret(ctx, br, deadline)
}

// interpret normalizes the bridge status, following the polling branch when
// asked to wait.
func (c *HTTPConnector) interpret(ctx context.Context, br *bridgeResponse, deadline time.Time) Resolution {
	switch strings.ToLower(br.Status) {
	case "approved", "allow", "allowed", "approve":
		return Resolution{Outcome: OutcomeApproved, Reason: br.Reason}

	case "approved_temporary", "approve_temporary", "temporary", "approved_30m", "allow_30m":
		ttl := br.TTLSec
		if ttl <= 0 {
			ttl = 1800
		}
		return Resolution{Outcome: OutcomeApprovedTemporary, TTLSec: ttl, Reason: br.Reason}

	case "pending", "wait":
		if br.PollURL == "" {
			return Resolution{Outcome: OutcomeError, Reason: "pending response without pollUrl"}
		}
		return c.poll(ctx, br.PollURL, br.RetryAfterMs, deadline)

	case "denied", "deny", "block", "blocked":
		return Resolution{Outcome: OutcomeDenied, Reason: br.Reason}

	case "timeout", "timed_out":
		return Resolution{Outcome: OutcomeTimeout, Reason: br.Reason}

	case "error", "failed":
		return Resolution{Outcome: OutcomeError, Reason: br.Reason}

	default:
		return Resolution{Outcome: OutcomeError, Reason: fmt.Sprintf("unknown bridge status %q", br.Status)}
	}
}

// poll GETs the poll URL until a terminal status arrives or the time budget
// runs out.
func (c *HTTPConnector) poll(ctx context.Context, pollURL string, retryAfterMs int, deadline time.Time) Resolution {
	interval := time.Duration(retryAfterMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return Resolution{Outcome: OutcomeTimeout}
		case <-time.After(interval):
		}
		if time.Now().After(deadline) {
			return Resolution{Outcome: OutcomeTimeout}
		}

		br, err := c.do(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return errorResolution(err)
		}
		if s := strings.ToLower(br.Status); s == "pending" || s == "wait" {
			if br.RetryAfterMs > 0 {
				interval = time.Duration(br.RetryAfterMs) * time.Millisecond
			}
			continue
		}
		return c.interpret(ctx, br, deadline)
	}
}

// do executes one bridge call with the configured headers.
func (c *HTTPConnector) do(ctx context.Context, method, url string, body []byte) (*bridgeResponse, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("bridge returned %d", resp.StatusCode)
	}

	br := &bridgeResponse{}
	if err := json.NewDecoder(resp.Body).Decode(br); err != nil {
		return nil, fmt.Errorf("malformed bridge response: %w", err)
	}
	return br, nil
}

// errorResolution maps transport failures: context expiry is a timeout,
// everything else an error.
func errorResolution(err error) Resolution {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Resolution{Outcome: OutcomeTimeout}
	}
	return Resolution{Outcome: OutcomeError, Reason: err.Error()}
}
