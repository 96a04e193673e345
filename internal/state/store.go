// Package state holds the durable kernel state: approval leases, rate-budget
// windows, and repetition streaks. Two implementations share one trait with
// identical observable behavior; the SQLite variant survives the process.
package state

import (
	"fmt"

	"github.com/radiusguard/radius/internal/config"
)

// Lease is a time-bounded approval that suppresses challenges for its scope.
// Leases are created exclusively by the approval resolver.
type Lease struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	AgentName   string `json:"agent_name,omitempty"`
	Tool        string `json:"tool"` // "*" or exact tool name
	ExpiresAtMs int64  `json:"expires_at_ms"`
	Reason      string `json:"reason,omitempty"`
}

// Matches reports whether the lease covers the given scope at nowMs.
func (l *Lease) Matches(sessionID, agentName, tool string, nowMs int64) bool {
	if l.SessionID != sessionID {
		return false
	}
	if l.AgentName != "" && l.AgentName != agentName {
		return false
	}
	if l.Tool != "*" && l.Tool != tool {
		return false
	}
	return l.ExpiresAtMs > nowMs
}

// Store is the durable state trait. All mutating operations are atomic per
// key: in-memory via a per-key lock table, SQL via one transaction per call.
type Store interface {
	// InsertLease stores a lease, replacing any expired entry with the same id.
	InsertLease(l Lease) error

	// FindActiveLease returns the most-recently-expiring lease matching the
	// scope at nowMs, or nil when none is active.
	FindActiveLease(sessionID, agentName, tool string, nowMs int64) (*Lease, error)

	// ConsumeRateBudget prunes events older than the window for the key,
	// counts the remainder, compares against max, then appends the call.
	// It returns the pre-insert count and whether the call is allowed.
	ConsumeRateBudget(key string, windowSec, max int, nowMs int64) (count int, allowed bool, err error)

	// ConsumeRepetition advances the streak for the bucket: a matching
	// fingerprint within the cooldown increments the count, anything else
	// resets it to 1. Returns the new count.
	ConsumeRepetition(bucket, fingerprint string, cooldownSec int, nowMs int64) (int, error)

	// Close releases store resources.
	Close() error
}

// rateRetentionMs bounds rate-event retention across all keys.
const rateRetentionMs = 24 * 60 * 60 * 1000

// Open builds a store from config. Required SQLite that cannot be opened is
// a construction error; non-required SQLite degrades to memory.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		if cfg.Required {
			return nil, fmt.Errorf("store.required=true needs driver=sqlite, got %q", cfg.Driver)
		}
		return NewMemoryStore(), nil
	case "sqlite":
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			if cfg.Required {
				return nil, fmt.Errorf("required sqlite store unavailable: %w", err)
			}
			return NewMemoryStore(), nil
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
