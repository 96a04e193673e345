package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on a single database file shared across
// modules. Every mutating call runs inside one immediate transaction with a
// five-second busy wait; the database runs in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the state database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "./.radius/state.db"
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS approval_leases (
		id             TEXT PRIMARY KEY,
		session_id     TEXT NOT NULL,
		agent_name     TEXT NOT NULL DEFAULT '',
		tool           TEXT NOT NULL,
		expires_at_ms  INTEGER NOT NULL,
		reason         TEXT
	);

	CREATE TABLE IF NOT EXISTS rate_budget_events (
		id     INTEGER PRIMARY KEY AUTOINCREMENT,
		key    TEXT NOT NULL,
		ts_ms  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS repetition_streaks (
		bucket        TEXT PRIMARY KEY,
		fingerprint   TEXT NOT NULL,
		count         INTEGER NOT NULL,
		last_seen_ms  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leases_scope
		ON approval_leases(session_id, agent_name, tool, expires_at_ms);
	CREATE INDEX IF NOT EXISTS idx_rate_events_key
		ON rate_budget_events(key, ts_ms);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize state schema: %w", err)
	}
	return nil
}

// InsertLease implements Store. Expired rows for the same scope are removed
// in the same transaction.
func (s *SQLiteStore) InsertLease(l Lease) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM approval_leases WHERE expires_at_ms <= ?`, l.ExpiresAtMs-1); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO approval_leases (id, session_id, agent_name, tool, expires_at_ms, reason)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.SessionID, l.AgentName, l.Tool, l.ExpiresAtMs, l.Reason,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// FindActiveLease implements Store. Expired rows are swept on every read.
func (s *SQLiteStore) FindActiveLease(sessionID, agentName, tool string, nowMs int64) (*Lease, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM approval_leases WHERE expires_at_ms <= ?`, nowMs); err != nil {
		return nil, err
	}

	row := tx.QueryRow(
		`SELECT id, session_id, agent_name, tool, expires_at_ms, COALESCE(reason, '')
		 FROM approval_leases
		 WHERE session_id = ?
		   AND (agent_name = '' OR agent_name = ?)
		   AND (tool = '*' OR tool = ?)
		   AND expires_at_ms > ?
		 ORDER BY expires_at_ms DESC
		 LIMIT 1`,
		sessionID, agentName, tool, nowMs,
	)

	l := &Lease{}
	err = row.Scan(&l.ID, &l.SessionID, &l.AgentName, &l.Tool, &l.ExpiresAtMs, &l.Reason)
	if err == sql.ErrNoRows {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return l, nil
}

// ConsumeRateBudget implements Store: prune, count, compare, insert under a
// single transaction per call, plus a retention prune across all keys.
func (s *SQLiteStore) ConsumeRateBudget(key string, windowSec, max int, nowMs int64) (int, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	cutoff := nowMs - int64(windowSec)*1000
	if _, err := tx.Exec(`DELETE FROM rate_budget_events WHERE key = ? AND ts_ms <= ?`, key, cutoff); err != nil {
		return 0, false, err
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM rate_budget_events WHERE key = ?`, key).Scan(&count); err != nil {
		return 0, false, err
	}

	allowed := count < max

	if _, err := tx.Exec(`INSERT INTO rate_budget_events (key, ts_ms) VALUES (?, ?)`, key, nowMs); err != nil {
		return 0, false, err
	}

	// Retention prune across all keys.
	if _, err := tx.Exec(`DELETE FROM rate_budget_events WHERE ts_ms <= ?`, nowMs-rateRetentionMs); err != nil {
		return 0, false, err
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return count, allowed, nil
}

// ConsumeRepetition implements Store with an atomic read-and-update per
// bucket.
func (s *SQLiteStore) ConsumeRepetition(bucket, fingerprint string, cooldownSec int, nowMs int64) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var prevFP string
	var count int
	var lastSeenMs int64
	err = tx.QueryRow(
		`SELECT fingerprint, count, last_seen_ms FROM repetition_streaks WHERE bucket = ?`, bucket,
	).Scan(&prevFP, &count, &lastSeenMs)

	switch {
	case err == sql.ErrNoRows:
		count = 1
	case err != nil:
		return 0, err
	case prevFP == fingerprint && nowMs-lastSeenMs <= int64(cooldownSec)*1000:
		count++
	default:
		count = 1
	}

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO repetition_streaks (bucket, fingerprint, count, last_seen_ms)
		 VALUES (?, ?, ?, ?)`,
		bucket, fingerprint, count, nowMs,
	); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }
