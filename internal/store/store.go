package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"photoscan/internal/config"
)

// ErrNotFound is returned when no session matches a title.
var ErrNotFound = errors.New("session not found")

// Store manages the session registry backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the registry database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the registry at an explicit database path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas are per connection; a single connection keeps them in force.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create registers a new session. Registering a title that already exists
// is a no-op so reconnecting clients do not reset recorded state.
func (s *Store) Create(ctx context.Context, sess Session) (*Session, error) {
	title := strings.TrimSpace(sess.Title)
	if title == "" {
		return nil, errors.New("session title is required")
	}
	if sess.State == "" {
		sess.State = StateIdle
	}
	now := timestamp(s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (title, flow, capture, state, image_count, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(title) DO NOTHING`,
		title, sess.Flow, sess.Capture, sess.State, sess.ImageCount, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.Get(ctx, title)
}

// Get fetches a session by title, returning ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, title string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE title = ?`, title)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, title)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// List returns every session, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY updated_at DESC, title`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// SetImageCount records how many raw images a session holds.
func (s *Store) SetImageCount(ctx context.Context, title string, count int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET image_count = ?, updated_at = ? WHERE title = ?`,
		count, timestamp(s.now()), title,
	)
	if err != nil {
		return fmt.Errorf("update image count: %w", err)
	}
	return requireRow(res, title)
}

// RecordEvent stores ev in the session's history and updates the session's
// current state to match. Failures set error_kind; any later non-failure
// event clears it.
func (s *Store) RecordEvent(ctx context.Context, ev Event) error {
	if strings.TrimSpace(ev.Title) == "" {
		return errors.New("event title is required")
	}
	now := s.now()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions
         SET state = ?, stage = ?, step = ?, message = ?, error_kind = ?, run_id = ?, updated_at = ?
         WHERE title = ?`,
		ev.State,
		nullableString(ev.Stage),
		nullableString(ev.Step),
		nullableString(ev.Message),
		nullableString(ev.ErrorKind),
		nullableString(ev.RunID),
		timestamp(now),
		ev.Title,
	)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	if err := requireRow(res, ev.Title); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_events (title, run_id, state, status, stage, step, message, error_kind, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Title,
		nullableString(ev.RunID),
		ev.State,
		ev.Status,
		nullableString(ev.Stage),
		nullableString(ev.Step),
		nullableString(ev.Message),
		nullableString(ev.ErrorKind),
		timestamp(ev.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// Events returns the most recent events for title in chronological order.
// A non-positive limit returns the whole history.
func (s *Store) Events(ctx context.Context, title string, limit int) ([]Event, error) {
	query := `SELECT ` + eventColumns + ` FROM session_events WHERE title = ? ORDER BY id DESC`
	args := []any{title}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	slices.Reverse(events)
	return events, nil
}

// Delete removes a session and its history. Deleting an unknown title is
// not an error.
func (s *Store) Delete(ctx context.Context, title string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_events WHERE title = ?`, title); err != nil {
		return fmt.Errorf("delete session events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE title = ?`, title); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, title string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, title)
	}
	return nil
}
