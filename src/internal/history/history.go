// Package history journals sidecar lifecycle events in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds recorded by the supervisor.
const (
	KindReap       = "reap"
	KindSpawn      = "spawn"
	KindSpawnError = "spawn_error"
	KindTerminated = "terminated"
	KindKilled     = "killed"
)

const schema = `
CREATE TABLE IF NOT EXISTS sidecar_events (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	at     TEXT NOT NULL,
	kind   TEXT NOT NULL,
	pid    INTEGER NOT NULL DEFAULT 0,
	port   INTEGER NOT NULL DEFAULT 0,
	detail TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sidecar_events_run ON sidecar_events(run_id);
`

// Entry is one journal row.
type Entry struct {
	ID     int64
	RunID  string
	At     time.Time
	Kind   string
	PID    int
	Port   int
	Detail string
}

// Journal is a handle to the history database.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends an entry. A zero At is replaced with the current time.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sidecar_events (run_id, at, kind, pid, port, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.At.UTC().Format(time.RFC3339Nano), e.Kind, e.PID, e.Port, e.Detail)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", e.Kind, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_id, at, kind, pid, port, detail FROM sidecar_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.ID, &e.RunID, &at, &e.Kind, &e.PID, &e.Port, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to read history row: %w", err)
		}
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q in history: %w", at, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
