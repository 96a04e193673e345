package guard

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/radiusguard/radius/internal/event"
)

func TestTripwireGuard_ExactFile(t *testing.T) {
	dir := t.TempDir()
	honeypot := filepath.Join(dir, "secrets.txt")

	g, err := NewTripwireGuard(map[string]interface{}{
		"files": []interface{}{
			map[string]interface{}{"path": honeypot},
		},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	dec, _ := g.Evaluate(context.Background(), fsEvent("Read", "file_path", honeypot))
	if dec.Action != event.ActionDeny || dec.Severity != event.SeverityCritical {
		t.Errorf("tripwire read: %+v", dec)
	}

	dec, _ = g.Evaluate(context.Background(), fsEvent("Read", "file_path", filepath.Join(dir, "normal.txt")))
	if dec.Action != event.ActionAllow {
		t.Errorf("non-tripwire read: %+v", dec)
	}
}

func TestTripwireGuard_PrefixRule(t *testing.T) {
	dir := t.TempDir()
	trap := filepath.Join(dir, "trap")
	if err := os.MkdirAll(trap, 0o755); err != nil {
		t.Fatal(err)
	}

	g, err := NewTripwireGuard(map[string]interface{}{
		"files": []interface{}{
			map[string]interface{}{"path": trap + "/**"},
		},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	dec, _ := g.Evaluate(context.Background(), fsEvent("Read", "file_path", filepath.Join(trap, "deep", "file")))
	if dec.Action != event.ActionDeny {
		t.Errorf("prefix tripwire: %+v", dec)
	}
}

func TestTripwireGuard_CommandPathToken(t *testing.T) {
	dir := t.TempDir()
	honeypot := filepath.Join(dir, "bait")

	g, err := NewTripwireGuard(map[string]interface{}{
		"files": []interface{}{
			map[string]interface{}{"path": honeypot},
		},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	dec, _ := g.Evaluate(context.Background(), bashEvent("cat "+honeypot+" | head"))
	if dec.Action != event.ActionDeny {
		t.Errorf("command token tripwire: %+v", dec)
	}
}

func TestTripwireGuard_EnvToken(t *testing.T) {
	g, err := NewTripwireGuard(map[string]interface{}{
		"envTokens": []interface{}{"CANARY_AWS_KEY_7f3a"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	dec, _ := g.Evaluate(context.Background(), toolEvent("Fetch", map[string]interface{}{
		"headers": map[string]interface{}{"Authorization": "CANARY_AWS_KEY_7f3a"},
	}))
	if dec.Action != event.ActionDeny || dec.Severity != event.SeverityCritical {
		t.Errorf("env token in args: %+v", dec)
	}
}

func TestTripwireGuard_KillSwitchAction(t *testing.T) {
	dir := t.TempDir()
	honeypot := filepath.Join(dir, "bait")
	marker := filepath.Join(dir, "radius-state", "KILL")

	g, err := NewTripwireGuard(map[string]interface{}{
		"files": []interface{}{
			map[string]interface{}{"path": honeypot},
		},
		"action":         "kill_switch",
		"killSwitchPath": marker,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	dec, _ := g.Evaluate(context.Background(), fsEvent("Read", "file_path", honeypot))
	if dec.Action != event.ActionDeny {
		t.Fatalf("kill_switch action: %+v", dec)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("kill switch marker not written: %v", err)
	}
}

func TestTripwireGuard_AlertAction(t *testing.T) {
	dir := t.TempDir()
	honeypot := filepath.Join(dir, "bait")

	g, _ := NewTripwireGuard(map[string]interface{}{
		"files":  []interface{}{map[string]interface{}{"path": honeypot}},
		"action": "alert",
	}, nil)

	dec, _ := g.Evaluate(context.Background(), fsEvent("Read", "file_path", honeypot))
	if dec.Action != event.ActionAlert {
		t.Errorf("alert action: %+v", dec)
	}
}
