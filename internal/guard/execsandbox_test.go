package guard

import (
	"context"
	"strings"
	"testing"

	"github.com/radiusguard/radius/internal/event"
)

func TestExecSandbox_EngineNone(t *testing.T) {
	g, err := NewExecSandbox(map[string]interface{}{
		"engine":   "none",
		"required": true,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	dec, _ := g.Evaluate(context.Background(), bashEvent("ls"))
	if dec.Action != event.ActionDeny || dec.Severity != event.SeverityCritical {
		t.Errorf("required with engine=none: %+v", dec)
	}

	g, _ = NewExecSandbox(map[string]interface{}{"engine": "none"}, nil)
	dec, _ = g.Evaluate(context.Background(), bashEvent("ls"))
	if dec.Action != event.ActionAlert {
		t.Errorf("optional with engine=none: %+v", dec)
	}
}

func TestExecSandbox_WrapperUnavailable(t *testing.T) {
	g, err := NewExecSandbox(map[string]interface{}{
		"engine":        "bwrap",
		"required":      true,
		"wrapperBinary": "definitely-not-a-real-binary-xyz",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	dec, _ := g.Evaluate(context.Background(), bashEvent("ls"))
	if dec.Action != event.ActionDeny || dec.Severity != event.SeverityCritical {
		t.Errorf("missing wrapper with required=true: %+v", dec)
	}
}

func TestExecSandbox_BuildWrapper(t *testing.T) {
	g, err := NewExecSandbox(map[string]interface{}{
		"engine":         "bwrap",
		"readOnlyPaths":  []interface{}{"/usr", "/lib"},
		"readWritePaths": []interface{}{"/workspace"},
		"tmpfsPaths":     []interface{}{"/tmp"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	wrapped := g.buildWrapper("echo 'sandboxed'")

	for _, want := range []string{
		"'bwrap'",
		"'--die-with-parent'",
		"'--new-session'",
		"'--unshare-all'",
		"'--proc' '/proc'",
		"'--dev' '/dev'",
		"'--ro-bind' '/usr' '/usr'",
		"'--bind' '/workspace' '/workspace'",
		"'--tmpfs' '/tmp'",
		"'--setenv' 'HOME' '/tmp'",
		"'--setenv' 'TMPDIR' '/tmp'",
		"'/bin/sh' '-c'",
	} {
		if !strings.Contains(wrapped, want) {
			t.Errorf("wrapper missing %q:\n%s", want, wrapped)
		}
	}
	if !strings.HasPrefix(wrapped, "'bwrap'") {
		t.Errorf("wrapper must start with the wrapper binary: %s", wrapped)
	}
	if strings.Contains(wrapped, "--share-net") {
		t.Error("share-net present without shareNetwork")
	}
	if !strings.Contains(wrapped, `'echo '\''sandboxed'\'''`) {
		t.Errorf("embedded quotes not escaped: %s", wrapped)
	}
}

func TestExecSandbox_NetworkPolicy(t *testing.T) {
	g, _ := NewExecSandbox(map[string]interface{}{
		"engine":       "bwrap",
		"shareNetwork": true,
	}, nil)
	if !strings.Contains(g.buildWrapper("x"), "'--share-net'") {
		t.Error("legacy shareNetwork=true should share net")
	}

	g, _ = NewExecSandbox(map[string]interface{}{
		"engine":       "bwrap",
		"shareNetwork": true,
		"childPolicy":  map[string]interface{}{"network": "deny"},
	}, nil)
	if strings.Contains(g.buildWrapper("x"), "--share-net") {
		t.Error("childPolicy.network=deny must override shareNetwork")
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "'plain'"},
		{"has space", "'has space'"},
		{"it's", `'it'\''s'`},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
