package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/obsidianstack/octo-agent/pkg/types"
)

// Store keeps the single latest Reading in SQLite so a restart can serve the
// last known value before the first refresh completes. The row records the
// portal account it was fetched for; it is only restored for that account.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies
// migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		path,
	)
	return openDSN(dsn)
}

func openDSN(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// One writer, one row; a single connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{db: db}, nil
}

// Save replaces the stored reading with r, fetched for username.
func (s *Store) Save(ctx context.Context, username string, r types.Reading) error {
	const query = `
		INSERT INTO latest_reading (id, username, value_km, observed_at, date_reported, fetched_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username      = excluded.username,
			value_km      = excluded.value_km,
			observed_at   = excluded.observed_at,
			date_reported = excluded.date_reported,
			fetched_at    = excluded.fetched_at
	`
	reported := 0
	if r.DateReported {
		reported = 1
	}
	if _, err := s.db.ExecContext(ctx, query,
		username, r.Value, formatTime(r.ObservedAt), reported, formatTime(r.FetchedAt),
	); err != nil {
		return fmt.Errorf("store: save reading: %w", err)
	}
	slog.Debug("store: reading saved", "km", r.Value)
	return nil
}

// Load returns the reading stored for username. ok is false when nothing has
// been saved or the stored reading belongs to another account.
func (s *Store) Load(ctx context.Context, username string) (r types.Reading, ok bool, err error) {
	const query = `
		SELECT value_km, observed_at, date_reported, fetched_at
		FROM latest_reading
		WHERE id = 1 AND username = ?
	`
	var (
		observed, fetched string
		reported          int
	)
	err = s.db.QueryRowContext(ctx, query, username).Scan(&r.Value, &observed, &reported, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Reading{}, false, nil
	}
	if err != nil {
		return types.Reading{}, false, fmt.Errorf("store: load reading: %w", err)
	}

	if r.ObservedAt, err = parseTime(observed); err != nil {
		return types.Reading{}, false, fmt.Errorf("store: observed_at: %w", err)
	}
	if r.FetchedAt, err = parseTime(fetched); err != nil {
		return types.Reading{}, false, fmt.Errorf("store: fetched_at: %w", err)
	}
	r.DateReported = reported == 1
	return r, true, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
