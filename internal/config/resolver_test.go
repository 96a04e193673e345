package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "radius.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Global.Profile != ProfileStandard {
		t.Errorf("Profile = %q, want standard", cfg.Global.Profile)
	}
	if cfg.Global.DefaultAction != "deny" {
		t.Errorf("DefaultAction = %q, want deny", cfg.Global.DefaultAction)
	}
	if cfg.Audit.File != "./radius-audit.jsonl" {
		t.Errorf("Audit.File = %q", cfg.Audit.File)
	}
	if cfg.Approval.Mode != "sync_wait" {
		t.Errorf("Approval.Mode = %q", cfg.Approval.Mode)
	}
	if len(cfg.Modules) == 0 {
		t.Error("default module list is empty")
	}
}

func TestLoad_ProfileAliases(t *testing.T) {
	tests := []struct {
		alias     string
		canonical string
		action    string
	}{
		{"strict", ProfileLocal, "deny"},
		{"bunker", ProfileLocal, "deny"},
		{"balanced", ProfileStandard, "deny"},
		{"tactical", ProfileStandard, "deny"},
		{"monitor", ProfileUnbounded, "allow"},
		{"yolo", ProfileUnbounded, "allow"},
		{"unleashed", ProfileUnbounded, "allow"},
	}

	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			path := writeConfig(t, "global:\n  profile: "+tt.alias+"\n")
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.Global.Profile != tt.canonical {
				t.Errorf("Profile = %q, want %q", cfg.Global.Profile, tt.canonical)
			}
			if cfg.Global.DefaultAction != tt.action {
				t.Errorf("DefaultAction = %q, want %q", cfg.Global.DefaultAction, tt.action)
			}
		})
	}
}

func TestLoad_UnknownProfile(t *testing.T) {
	path := writeConfig(t, "global:\n  profile: warpspeed\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() with unknown profile should fail")
	}
}

func TestLoad_UserOverridesProfile(t *testing.T) {
	path := writeConfig(t, `
global:
  profile: unbounded
  defaultAction: deny
modules: [kill_switch, audit]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Global.DefaultAction != "deny" {
		t.Errorf("user override lost: DefaultAction = %q", cfg.Global.DefaultAction)
	}
	if len(cfg.Modules) != 2 {
		t.Errorf("Modules = %v, want user list to replace profile list", cfg.Modules)
	}
}

func TestLoad_TemplateExpansion(t *testing.T) {
	os.Setenv("RADIUS_TEST_DIR", "/srv/agents")
	defer os.Unsetenv("RADIUS_TEST_DIR")

	path := writeConfig(t, `
global:
  workspace: ${RADIUS_TEST_DIR}/ws
audit:
  file: ${workspace}/audit.jsonl
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Global.Workspace != "/srv/agents/ws" {
		t.Errorf("Workspace = %q", cfg.Global.Workspace)
	}
	if cfg.Audit.File != "/srv/agents/ws/audit.jsonl" {
		t.Errorf("Audit.File = %q", cfg.Audit.File)
	}
}

func TestLoad_UndefinedTemplateVar(t *testing.T) {
	path := writeConfig(t, "audit:\n  file: ${SURELY_NOT_SET_ANYWHERE_123}/a.jsonl\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "SURELY_NOT_SET_ANYWHERE_123") {
		t.Errorf("Load() error = %v, want undefined variable error", err)
	}

	path = writeConfig(t, `
global:
  onUndefinedTemplateVar: empty
audit:
  file: ${SURELY_NOT_SET_ANYWHERE_123}/a.jsonl
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() with empty policy error: %v", err)
	}
	if cfg.Audit.File != "/a.jsonl" {
		t.Errorf("Audit.File = %q, want empty substitution", cfg.Audit.File)
	}
}

func TestLoad_NormalizesClaudeTelegramKey(t *testing.T) {
	path := writeConfig(t, `
adapters:
  claudeTelegram:
    enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if _, ok := cfg.Adapters["claude-telegram"]; !ok {
		t.Error("claudeTelegram was not normalized to claude-telegram")
	}
	if _, ok := cfg.Adapters["claudeTelegram"]; ok {
		t.Error("original claudeTelegram key still present")
	}
}

func TestLoad_LocalProfileAddsEnvReadPatterns(t *testing.T) {
	path := writeConfig(t, "global:\n  profile: local\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cg := cfg.ModuleConfig["command_guard"]
	if cg == nil {
		t.Fatal("local profile missing command_guard config")
	}
	patterns, _ := cg["extraDenyPatterns"].([]interface{})
	if len(patterns) == 0 {
		t.Error("local profile should add .env read deny patterns")
	}
}

func TestLoad_BadDefaultAction(t *testing.T) {
	path := writeConfig(t, "global:\n  defaultAction: maybe\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() with bad defaultAction should fail")
	}
}
