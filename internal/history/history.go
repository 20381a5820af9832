// Package history persists run summaries in SQLite so past runs can be listed.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schema.sql
var schemaSQL string

// Entry is the stored summary of one run.
type Entry struct {
	ID           string        `json:"id"`
	Trigger      string        `json:"trigger"`
	Domain       string        `json:"domain"`
	Source       string        `json:"source,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"-"`
	DurationMS   int64         `json:"duration_ms"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	Succeeded    []string      `json:"succeeded"`
	Failed       []string      `json:"failed"`
	Error        string        `json:"error,omitempty"`
}

// Store is a SQLite-backed run history that keeps at most keep entries.
type Store struct {
	conn *sql.DB
	keep int
}

// Open opens or creates the history database at path. keep bounds the number
// of retained entries; zero or less keeps everything.
func Open(path string, keep int) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{conn: conn, keep: keep}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Record stores e and trims the history to the configured size.
func (s *Store) Record(ctx context.Context, e Entry) error {
	succeeded, err := json.Marshal(nonNil(e.Succeeded))
	if err != nil {
		return fmt.Errorf("failed to encode succeeded addresses: %w", err)
	}
	failed, err := json.Marshal(nonNil(e.Failed))
	if err != nil {
		return fmt.Errorf("failed to encode failed addresses: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO runs (id, trigger, domain, source, started_at, duration_ms,
			success_count, failure_count, succeeded, failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Trigger, e.Domain, e.Source, e.StartedAt.UnixNano(), e.Duration.Milliseconds(),
		e.SuccessCount, e.FailureCount, string(succeeded), string(failed), e.Error)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", e.ID, err)
	}

	if s.keep > 0 {
		_, err = s.conn.ExecContext(ctx, `
			DELETE FROM runs WHERE id NOT IN (
				SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
			)
		`, s.keep)
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
	}
	return nil
}

// List returns up to limit entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, trigger, domain, source, started_at, duration_ms,
			success_count, failure_count, succeeded, failed, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e                 Entry
			startedAt         int64
			succeeded, failed string
		)
		if err := rows.Scan(&e.ID, &e.Trigger, &e.Domain, &e.Source, &startedAt, &e.DurationMS,
			&e.SuccessCount, &e.FailureCount, &succeeded, &failed, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		e.StartedAt = time.Unix(0, startedAt).UTC()
		e.Duration = time.Duration(e.DurationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(succeeded), &e.Succeeded); err != nil {
			return nil, fmt.Errorf("failed to decode succeeded addresses of %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(failed), &e.Failed); err != nil {
			return nil, fmt.Errorf("failed to decode failed addresses of %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Health checks database connectivity.
func (s *Store) Health() error {
	return s.conn.Ping()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
