package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/radiusguard/radius/internal/event"
)

func providerServer(t *testing.T, response interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
}

func newProviderModule(t *testing.T, url string, extra map[string]interface{}) *VerdictProvider {
	t.Helper()
	cfg := map[string]interface{}{
		"providers": []interface{}{
			map[string]interface{}{"name": "scanner", "url": url},
		},
		"minConfidence": 0.7,
	}
	for k, v := range extra {
		cfg[k] = v
	}
	g, err := NewVerdictProvider(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestVerdictProvider_DenyAboveConfidence(t *testing.T) {
	srv := providerServer(t, map[string]interface{}{
		"action": "deny", "confidence": 0.9, "category": "prompt_injection",
	})
	defer srv.Close()

	g := newProviderModule(t, srv.URL, nil)
	dec, _ := g.Evaluate(context.Background(), toolEvent("Bash", map[string]interface{}{"command": "x"}))
	if dec.Action != event.ActionDeny || dec.Severity != event.SeverityHigh {
		t.Errorf("high-confidence deny: %+v", dec)
	}
}

func TestVerdictProvider_DenyBelowConfidenceAlerts(t *testing.T) {
	srv := providerServer(t, map[string]interface{}{"action": "deny", "confidence": 0.3})
	defer srv.Close()

	g := newProviderModule(t, srv.URL, nil)
	dec, _ := g.Evaluate(context.Background(), toolEvent("Bash", nil))
	if dec.Action != event.ActionAlert {
		t.Errorf("low-confidence deny: %+v", dec)
	}
}

func TestVerdictProvider_BlockedForm(t *testing.T) {
	srv := providerServer(t, map[string]interface{}{"blocked": true, "confidence": 1.0})
	defer srv.Close()

	g := newProviderModule(t, srv.URL, nil)
	dec, _ := g.Evaluate(context.Background(), toolEvent("Bash", nil))
	if dec.Action != event.ActionDeny {
		t.Errorf("blocked form: %+v", dec)
	}
}

func TestVerdictProvider_NestedVerdictForm(t *testing.T) {
	srv := providerServer(t, map[string]interface{}{
		"verdict": map[string]interface{}{"action": "deny", "confidence": 0.95},
	})
	defer srv.Close()

	g := newProviderModule(t, srv.URL, nil)
	dec, _ := g.Evaluate(context.Background(), toolEvent("Bash", nil))
	if dec.Action != event.ActionDeny {
		t.Errorf("nested verdict form: %+v", dec)
	}
}

func TestVerdictProvider_AllowPasses(t *testing.T) {
	srv := providerServer(t, map[string]interface{}{"action": "allow", "confidence": 1.0})
	defer srv.Close()

	g := newProviderModule(t, srv.URL, nil)
	dec, _ := g.Evaluate(context.Background(), toolEvent("Bash", nil))
	if dec.Action != event.ActionAllow {
		t.Errorf("allow verdict: %+v", dec)
	}
}

func TestVerdictProvider_ErrorPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := newProviderModule(t, srv.URL, nil)
	dec, _ := g.Evaluate(context.Background(), toolEvent("Bash", nil))
	if dec.Action != event.ActionAlert {
		t.Errorf("default error policy should alert: %+v", dec)
	}

	g = newProviderModule(t, srv.URL, map[string]interface{}{"onProviderError": "deny"})
	dec, _ = g.Evaluate(context.Background(), toolEvent("Bash", nil))
	if dec.Action != event.ActionDeny {
		t.Errorf("onProviderError=deny: %+v", dec)
	}
}

func TestVerdictProvider_TimeoutIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	g, err := NewVerdictProvider(map[string]interface{}{
		"providers": []interface{}{
			map[string]interface{}{"name": "slow", "url": srv.URL, "timeoutMs": 50},
		},
		"onProviderError": "deny",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	dec, _ := g.Evaluate(context.Background(), toolEvent("Bash", nil))
	if dec.Action != event.ActionDeny {
		t.Errorf("provider timeout with deny policy: %+v", dec)
	}
}

func TestVerdictProvider_NoContentForPhase(t *testing.T) {
	g := newProviderModule(t, "http://unused.invalid", nil)
	ev := &event.Event{Phase: event.PhasePreRequest, SessionID: "s-1"}
	dec, _ := g.Evaluate(context.Background(), ev)
	if dec.Action != event.ActionAllow {
		t.Errorf("empty request text: %+v", dec)
	}
}
