package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/radiusguard/radius/internal/config"
	"github.com/radiusguard/radius/internal/runtime"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Global:   config.GlobalConfig{Profile: "standard", DefaultAction: "deny"},
		Approval: config.ApprovalConfig{Mode: "sync_wait"},
		Modules:  []string{"command_guard"},
	}
	rt, err := runtime.NewWithConfig(cfg, nil)
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })

	srv := httptest.NewServer(New(rt, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestServer_CheckDeniesDangerousCommand(t *testing.T) {
	srv := testServer(t)

	body := `{"framework":"openclaw","payload":{"hook_type":"PreToolUse","tool_name":"Bash","tool_input":{"command":"sudo rm -rf /"},"session_id":"s-1"}}`
	resp, err := http.Post(srv.URL+"/check", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["decision"] != "deny" {
		t.Errorf("response = %v", out)
	}
}

func TestServer_CheckDefaultsToGeneric(t *testing.T) {
	srv := testServer(t)

	body := `{"payload":{"phase":"pre_tool","session_id":"s-1","tool_call":{"name":"Bash","arguments":{"command":"ls"}}}}`
	resp, err := http.Post(srv.URL+"/check", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	if out["action"] != "allow" {
		t.Errorf("response = %v", out)
	}
}

func TestServer_CheckRejectsBadBody(t *testing.T) {
	srv := testServer(t)
	resp, err := http.Post(srv.URL+"/check", "application/json", strings.NewReader("{{{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestServer_CheckMethodNotAllowed(t *testing.T) {
	srv := testServer(t)
	resp, err := http.Get(srv.URL + "/check")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestServer_Health(t *testing.T) {
	srv := testServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	if out["status"] != "ok" || out["profile"] != "standard" {
		t.Errorf("health = %v", out)
	}
}
