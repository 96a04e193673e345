package approval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/radiusguard/radius/internal/config"
	"github.com/radiusguard/radius/internal/event"
)

func httpChallenge() *event.Challenge {
	return &event.Challenge{Channel: event.ChannelHTTP, Prompt: "Approve?", TimeoutSeconds: 5}
}

func bridgeServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *HTTPConnector) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	conn := NewHTTPConnector(config.HTTPConnectorConfig{
		URL:       srv.URL,
		Headers:   map[string]string{"X-Auth": "secret"},
		TimeoutMs: 3000,
	}, nil)
	return srv, conn
}

func TestHTTPConnector_StatusNormalization(t *testing.T) {
	tests := []struct {
		status string
		want   Outcome
	}{
		{"approved", OutcomeApproved},
		{"allow", OutcomeApproved},
		{"allowed", OutcomeApproved},
		{"approve", OutcomeApproved},
		{"denied", OutcomeDenied},
		{"deny", OutcomeDenied},
		{"block", OutcomeDenied},
		{"blocked", OutcomeDenied},
		{"timeout", OutcomeTimeout},
		{"timed_out", OutcomeTimeout},
		{"error", OutcomeError},
		{"failed", OutcomeError},
		{"gibberish", OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			_, conn := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{"status": tt.status})
			})
			got := conn.Resolve(context.Background(), "ap-1", httpChallenge(), approvalEvent())
			if got.Outcome != tt.want {
				t.Errorf("status %q → %q, want %q", tt.status, got.Outcome, tt.want)
			}
		})
	}
}

func TestHTTPConnector_TemporaryGrant(t *testing.T) {
	_, conn := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "approved_temporary", "ttlSec": 120,
		})
	})

	got := conn.Resolve(context.Background(), "ap-1", httpChallenge(), approvalEvent())
	if got.Outcome != OutcomeApprovedTemporary || got.TTLSec != 120 {
		t.Errorf("resolution = %+v", got)
	}
}

func TestHTTPConnector_RequestShape(t *testing.T) {
	var seen map[string]interface{}
	_, conn := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth") != "secret" {
			t.Error("configured header missing")
		}
		json.NewDecoder(r.Body).Decode(&seen)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "approved"})
	})

	conn.Resolve(context.Background(), "ap-42", httpChallenge(), approvalEvent())

	if seen["approvalId"] != "ap-42" || seen["prompt"] != "Approve?" {
		t.Errorf("request body = %v", seen)
	}
	if _, ok := seen["event"]; !ok {
		t.Error("request body missing event")
	}
}

func TestHTTPConnector_PendingPollsToTerminal(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "pending", "pollUrl": srv.URL + "/poll", "retryAfterMs": 10,
		})
	})
	mux.HandleFunc("/poll", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 3 {
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "pending", "pollUrl": srv.URL + "/poll"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "approved"})
	})

	conn := NewHTTPConnector(config.HTTPConnectorConfig{URL: srv.URL + "/start", TimeoutMs: 3000}, nil)
	got := conn.Resolve(context.Background(), "ap-1", httpChallenge(), approvalEvent())
	if got.Outcome != OutcomeApproved {
		t.Errorf("resolution = %+v", got)
	}
	if atomic.LoadInt32(&polls) < 3 {
		t.Errorf("polls = %d, want at least 3", polls)
	}
}

func TestHTTPConnector_PendingWithoutPollURL(t *testing.T) {
	_, conn := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "pending"})
	})

	got := conn.Resolve(context.Background(), "ap-1", httpChallenge(), approvalEvent())
	if got.Outcome != OutcomeError {
		t.Errorf("pending without pollUrl: %+v", got)
	}
}

func TestHTTPConnector_DeadlineBecomesTimeout(t *testing.T) {
	_, conn := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ch := httpChallenge()
	ch.TimeoutSeconds = 0 // forces an immediate deadline

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := conn.Resolve(ctx, "ap-1", ch, approvalEvent())
	if got.Outcome != OutcomeTimeout {
		t.Errorf("cancelled context: %+v", got)
	}
}

func TestHTTPConnector_HTTPErrorIsError(t *testing.T) {
	_, conn := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	got := conn.Resolve(context.Background(), "ap-1", httpChallenge(), approvalEvent())
	if got.Outcome != OutcomeError {
		t.Errorf("502 response: %+v", got)
	}
}
