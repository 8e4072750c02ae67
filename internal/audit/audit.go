// Package audit records expansion history in SQLite. The trail answers
// "what fired, when, and did it work" without keeping any typed text
// beyond the keyword itself.
package audit

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the expansion history store.
const schema = `
CREATE TABLE IF NOT EXISTS fires (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    combo_id    TEXT NOT NULL,
    keyword     TEXT NOT NULL,
    fired_at_ns INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    outcome     TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_fires_time ON fires(fired_at_ns);
CREATE INDEX IF NOT EXISTS idx_fires_combo ON fires(combo_id, fired_at_ns);

CREATE TABLE IF NOT EXISTS usage (
    combo_id     TEXT PRIMARY KEY,
    use_count    INTEGER NOT NULL DEFAULT 0,
    last_used_ns INTEGER NOT NULL
);
`

// Outcome classifies how a fire ended.
type Outcome string

const (
	// OutcomeDelivered means the snippet reached the focused application.
	OutcomeDelivered Outcome = "delivered"

	// OutcomeRenderFailed means the snippet could not be rendered.
	OutcomeRenderFailed Outcome = "render_failed"

	// OutcomeDeliveryFailed means rendering succeeded but delivery did not.
	OutcomeDeliveryFailed Outcome = "delivery_failed"
)

// Fire is one recorded expansion attempt.
type Fire struct {
	ID       int64
	ComboID  string
	Keyword  string
	FiredAt  time.Time
	Duration time.Duration
	Outcome  Outcome
	Error    string
}

// Usage accumulates per-combo fire counts.
type Usage struct {
	ComboID  string
	UseCount int64
	LastUsed time.Time
}

// Store is the SQLite expansion history store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordFire inserts a fire and, for delivered fires, bumps the combo's
// usage row in the same transaction. Returns the fire id.
func (s *Store) RecordFire(f *Fire) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO fires (combo_id, keyword, fired_at_ns, duration_ms, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ComboID, f.Keyword, f.FiredAt.UnixNano(), f.Duration.Milliseconds(), string(f.Outcome), f.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("insert fire: %w", err)
	}

	if f.Outcome == OutcomeDelivered {
		_, err = tx.Exec(`
			INSERT INTO usage (combo_id, use_count, last_used_ns)
			VALUES (?, 1, ?)
			ON CONFLICT(combo_id) DO UPDATE SET
				use_count = use_count + 1,
				last_used_ns = excluded.last_used_ns`,
			f.ComboID, f.FiredAt.UnixNano(),
		)
		if err != nil {
			return 0, fmt.Errorf("update usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// RecentFires returns the newest fires, most recent first.
func (s *Store) RecentFires(limit int) ([]Fire, error) {
	rows, err := s.db.Query(`
		SELECT id, combo_id, keyword, fired_at_ns, duration_ms, outcome, error
		FROM fires
		ORDER BY fired_at_ns DESC, id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent fires: %w", err)
	}
	defer rows.Close()

	return scanFires(rows)
}

// FiresBetween returns fires within a time range, oldest first.
func (s *Store) FiresBetween(start, end time.Time) ([]Fire, error) {
	rows, err := s.db.Query(`
		SELECT id, combo_id, keyword, fired_at_ns, duration_ms, outcome, error
		FROM fires
		WHERE fired_at_ns >= ? AND fired_at_ns <= ?
		ORDER BY fired_at_ns ASC`, start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query fires by range: %w", err)
	}
	defer rows.Close()

	return scanFires(rows)
}

// Usage returns the usage row for a combo, or nil when it never fired.
func (s *Store) Usage(comboID string) (*Usage, error) {
	var u Usage
	var lastUsedNs int64

	err := s.db.QueryRow(`
		SELECT combo_id, use_count, last_used_ns
		FROM usage WHERE combo_id = ?`, comboID,
	).Scan(&u.ComboID, &u.UseCount, &lastUsedNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get usage: %w", err)
	}

	u.LastUsed = time.Unix(0, lastUsedNs)
	return &u, nil
}

// TopCombos returns the most used combos, highest count first.
func (s *Store) TopCombos(limit int) ([]Usage, error) {
	rows, err := s.db.Query(`
		SELECT combo_id, use_count, last_used_ns
		FROM usage
		ORDER BY use_count DESC, last_used_ns DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query top combos: %w", err)
	}
	defer rows.Close()

	var usages []Usage
	for rows.Next() {
		var u Usage
		var lastUsedNs int64
		if err := rows.Scan(&u.ComboID, &u.UseCount, &lastUsedNs); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		u.LastUsed = time.Unix(0, lastUsedNs)
		usages = append(usages, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage: %w", err)
	}
	return usages, nil
}

// PruneOlderThan deletes fires recorded before the cutoff and returns how
// many were removed. Usage totals survive pruning.
func (s *Store) PruneOlderThan(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM fires WHERE fired_at_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune fires: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned fires: %w", err)
	}
	return n, nil
}

func scanFires(rows *sql.Rows) ([]Fire, error) {
	var fires []Fire
	for rows.Next() {
		var f Fire
		var firedAtNs, durationMs int64
		var outcome string
		if err := rows.Scan(&f.ID, &f.ComboID, &f.Keyword, &firedAtNs, &durationMs, &outcome, &f.Error); err != nil {
			return nil, fmt.Errorf("scan fire: %w", err)
		}
		f.FiredAt = time.Unix(0, firedAtNs)
		f.Duration = time.Duration(durationMs) * time.Millisecond
		f.Outcome = Outcome(outcome)
		fires = append(fires, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fires: %w", err)
	}
	return fires, nil
}
