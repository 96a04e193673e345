package guard

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/radiusguard/radius/internal/event"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSelfDefense_BlocksWritesToProtectedPaths(t *testing.T) {
	dir := t.TempDir()
	protected := filepath.Join(dir, "radius.yaml")
	writeFile(t, protected, "global: {}\n")

	g, err := NewSelfDefense(map[string]interface{}{
		"immutablePaths": []interface{}{protected},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	dec, _ := g.Evaluate(context.Background(), fsEvent("Write", "file_path", protected))
	if dec.Action != event.ActionDeny || dec.Severity != event.SeverityCritical {
		t.Errorf("write to protected file: %+v", dec)
	}

	// Reads are not the mutating set's concern.
	dec, _ = g.Evaluate(context.Background(), fsEvent("Read", "file_path", protected))
	if dec.Action != event.ActionAllow {
		t.Errorf("read of protected file: %+v", dec)
	}
}

func TestSelfDefense_ChallengeOnWriteAttempt(t *testing.T) {
	dir := t.TempDir()
	protected := filepath.Join(dir, "hooks.json")
	writeFile(t, protected, "{}")

	g, _ := NewSelfDefense(map[string]interface{}{
		"immutablePaths": []interface{}{protected},
		"onWriteAttempt": "challenge",
	}, nil)

	dec, _ := g.Evaluate(context.Background(), fsEvent("Edit", "file_path", protected))
	if dec.Action != event.ActionChallenge || dec.Challenge == nil {
		t.Errorf("onWriteAttempt=challenge: %+v", dec)
	}
}

func TestSelfDefense_BaselineMismatch(t *testing.T) {
	dir := t.TempDir()
	protected := filepath.Join(dir, "radius.yaml")
	writeFile(t, protected, "original")

	g, err := NewSelfDefense(map[string]interface{}{
		"immutablePaths": []interface{}{protected},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	preReq := &event.Event{Phase: event.PhasePreRequest, SessionID: "s-1"}
	dec, _ := g.Evaluate(context.Background(), preReq)
	if dec.Action != event.ActionAllow {
		t.Fatalf("untouched baseline: %+v", dec)
	}

	writeFile(t, protected, "tampered")
	dec, _ = g.Evaluate(context.Background(), preReq)
	if dec.Action != event.ActionDeny || dec.Severity != event.SeverityCritical {
		t.Errorf("tampered baseline: %+v", dec)
	}
}

func TestSelfDefense_KillSwitchOnMismatch(t *testing.T) {
	dir := t.TempDir()
	protected := filepath.Join(dir, "radius.yaml")
	marker := filepath.Join(dir, "state", "KILL")
	writeFile(t, protected, "original")

	g, _ := NewSelfDefense(map[string]interface{}{
		"immutablePaths": []interface{}{protected},
		"onHashMismatch": "kill_switch",
		"killSwitchPath": marker,
	}, nil)

	writeFile(t, protected, "tampered")
	dec, _ := g.Evaluate(context.Background(), &event.Event{Phase: event.PhasePostTool, SessionID: "s-1"})
	if dec.Action != event.ActionDeny {
		t.Fatalf("mismatch with kill_switch: %+v", dec)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("kill marker not written: %v", err)
	}
}

func TestSelfDefense_DirectoryRule(t *testing.T) {
	dir := t.TempDir()
	hooks := filepath.Join(dir, "hooks")
	if err := os.MkdirAll(hooks, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(hooks, "pre.sh"), "#!/bin/sh\n")

	g, _ := NewSelfDefense(map[string]interface{}{
		"immutablePaths": []interface{}{hooks},
	}, nil)

	dec, _ := g.Evaluate(context.Background(), fsEvent("Write", "file_path", filepath.Join(hooks, "new.sh")))
	if dec.Action != event.ActionDeny {
		t.Errorf("write inside protected dir: %+v", dec)
	}

	writeFile(t, filepath.Join(hooks, "pre.sh"), "#!/bin/sh\nrm -rf /\n")
	dec, _ = g.Evaluate(context.Background(), &event.Event{Phase: event.PhasePreRequest, SessionID: "s-1"})
	if dec.Action != event.ActionDeny {
		t.Errorf("tampered dir baseline: %+v", dec)
	}
}

func TestSelfDefense_UnlockToken(t *testing.T) {
	dir := t.TempDir()
	protected := filepath.Join(dir, "radius.yaml")
	unlock := filepath.Join(dir, "unlock")
	writeFile(t, protected, "original")
	writeFile(t, unlock, "")

	g, _ := NewSelfDefense(map[string]interface{}{
		"immutablePaths":  []interface{}{protected},
		"unlockTokenPath": unlock,
		"unlockTtlSec":    600,
	}, nil)

	writeFile(t, protected, "legitimate edit")
	dec, _ := g.Evaluate(context.Background(), &event.Event{Phase: event.PhasePreRequest, SessionID: "s-1"})
	if dec.Action != event.ActionAllow {
		t.Errorf("fresh unlock token should disable checks: %+v", dec)
	}

	dec, _ = g.Evaluate(context.Background(), fsEvent("Write", "file_path", protected))
	if dec.Action != event.ActionAllow {
		t.Errorf("unlock token should also disable write protection: %+v", dec)
	}
}
