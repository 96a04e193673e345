package guard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/radiusguard/radius/internal/event"
)

// killSwitchConfig configures the kill_switch module.
type killSwitchConfig struct {
	Enabled    *bool    `yaml:"enabled"`
	EnvVar     string   `yaml:"envVar"`
	FilePath   string   `yaml:"filePath"`
	DenyPhases []string `yaml:"denyPhases"`
}

// truthyValues are the environment values that arm the switch.
var truthyValues = map[string]bool{
	"1": true, "true": true, "on": true, "yes": true, "enabled": true,
}

// TriggerRecord logs one kill-switch activation for the status surface.
type TriggerRecord struct {
	Source    string    `json:"source"` // env, file
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// KillSwitch blocks agent actions when an environment variable is truthy or
// a sentinel file exists. It runs in every phase; phases outside the
// configured deny set degrade to alerts so post-hoc phases still surface the
// condition.
type KillSwitch struct {
	base
	enabled    bool
	envVar     string
	filePath   string
	denyPhases map[event.Phase]bool
	logger     *slog.Logger

	// fileSeen caches sentinel existence, kept current by the fsnotify
	// watcher; the stat fallback in Evaluate covers missed events.
	fileSeen atomic.Bool
	watcher  *fsnotify.Watcher

	histMu  sync.Mutex
	history []TriggerRecord
}

// NewKillSwitch builds the module and, when the sentinel directory exists,
// starts a file watcher on it.
func NewKillSwitch(cfg map[string]interface{}, logger *slog.Logger) (*KillSwitch, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c killSwitchConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}

	k := &KillSwitch{
		base:    newBase("kill_switch", event.AllPhases, cfg),
		enabled: c.Enabled == nil || *c.Enabled,
		envVar:  c.EnvVar,
		filePath: c.FilePath,
		denyPhases: map[event.Phase]bool{},
		logger:  logger.With("component", "guard.KillSwitch"),
	}
	if k.envVar == "" {
		k.envVar = "RADIUS_KILL_SWITCH"
	}
	if k.filePath == "" {
		k.filePath = filepath.Join(".radius", "KILL")
	}
	if len(c.DenyPhases) == 0 {
		k.denyPhases[event.PhasePreRequest] = true
		k.denyPhases[event.PhasePreTool] = true
	} else {
		for _, p := range c.DenyPhases {
			k.denyPhases[event.Phase(p)] = true
		}
	}

	if k.enabled {
		k.startWatcher()
	}
	return k, nil
}

// startWatcher begins watching the sentinel file's directory. Watch failures
// are non-fatal: the stat fallback still applies.
func (k *KillSwitch) startWatcher() {
	dir := filepath.Dir(k.filePath)
	if _, err := os.Stat(dir); err != nil {
		return
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		k.logger.Warn("kill switch file watcher unavailable", "error", err)
		return
	}
	if err := w.Add(dir); err != nil {
		k.logger.Warn("failed to watch kill switch dir", "dir", dir, "error", err)
		w.Close()
		return
	}
	k.watcher = w

	target, _ := filepath.Abs(k.filePath)
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				evPath, _ := filepath.Abs(ev.Name)
				if evPath != target {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					k.fileSeen.Store(true)
					k.record("file", "kill sentinel file created")
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					k.fileSeen.Store(false)
				}
			case <-w.Errors:
			}
		}
	}()
}

// Close stops the sentinel watcher.
func (k *KillSwitch) Close() error {
	if k.watcher != nil {
		return k.watcher.Close()
	}
	return nil
}

// Evaluate implements pipeline.Module.
func (k *KillSwitch) Evaluate(_ context.Context, ev *event.Event) (event.Decision, error) {
	if !k.enabled {
		return event.Allow(k.name, "kill switch disabled"), nil
	}

	active, source := k.active()
	if !active {
		return event.Allow(k.name, "kill switch not active"), nil
	}

	reason := fmt.Sprintf("kill switch active (%s)", source)
	if k.denyPhases[ev.Phase] {
		return event.Deny(k.name, reason, event.SeverityCritical), nil
	}
	return event.Alert(k.name, reason, event.SeverityCritical), nil
}

// active checks the environment variable and the sentinel file.
func (k *KillSwitch) active() (bool, string) {
	if v := strings.TrimSpace(strings.ToLower(os.Getenv(k.envVar))); truthyValues[v] {
		return true, "env " + k.envVar
	}
	if k.fileSeen.Load() {
		return true, "file " + k.filePath
	}
	if _, err := os.Stat(k.filePath); err == nil {
		k.fileSeen.Store(true)
		k.record("file", "kill sentinel file detected")
		return true, "file " + k.filePath
	}
	return false, ""
}

func (k *KillSwitch) record(source, reason string) {
	k.histMu.Lock()
	defer k.histMu.Unlock()
	if len(k.history) >= 100 {
		k.history = k.history[1:]
	}
	k.history = append(k.history, TriggerRecord{Source: source, Reason: reason, Timestamp: time.Now()})
	k.logger.Error("KILL SWITCH TRIGGERED", "source", source, "reason", reason)
}

// History returns the recorded activations.
func (k *KillSwitch) History() []TriggerRecord {
	k.histMu.Lock()
	defer k.histMu.Unlock()
	out := make([]TriggerRecord, len(k.history))
	copy(out, k.history)
	return out
}
