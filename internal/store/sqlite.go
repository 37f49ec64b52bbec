// Package store provides SQLite persistence for session state history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dansdan/dansbot/internal/state"
)

// Transition is one recorded state machine transition.
type Transition struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"session_id"`
	FromState state.State `json:"from_state"`
	ToState   state.State `json:"to_state"`
	Trigger   string      `json:"trigger"`
	Timestamp time.Time   `json:"timestamp"`
}

// SQLiteStore records the latest state per session and an audit log of
// transitions. It exists for operator inspection; the in-memory status
// store remains the source of truth while the process runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the state database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	migration := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		trigger TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_session ON transitions(session_id, timestamp DESC);
	`
	_, err := db.Exec(migration)
	return err
}

// SaveState upserts the latest known state for a session.
func (s *SQLiteStore) SaveState(ctx context.Context, sessionID string, st state.State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP`,
		sessionID, string(st))
	return err
}

// GetState returns the last persisted state for a session.
func (s *SQLiteStore) GetState(ctx context.Context, sessionID string) (state.State, error) {
	var st string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE session_id = ?`, sessionID).Scan(&st)
	if err == sql.ErrNoRows {
		return state.StateIdle, nil
	}
	if err != nil {
		return "", err
	}
	return state.State(st), nil
}

// LogTransition appends a transition to the audit log.
func (s *SQLiteStore) LogTransition(ctx context.Context, sessionID string, from, to state.State, trigger string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transitions (session_id, from_state, to_state, trigger)
		VALUES (?, ?, ?, ?)`,
		sessionID, string(from), string(to), trigger)
	return err
}

// History returns the most recent transitions for a session, newest first.
func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, from_state, to_state, trigger, timestamp
		FROM transitions WHERE session_id = ?
		ORDER BY id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		var from, to string
		if err := rows.Scan(&tr.ID, &tr.SessionID, &from, &to, &tr.Trigger, &tr.Timestamp); err != nil {
			return nil, err
		}
		tr.FromState = state.State(from)
		tr.ToState = state.State(to)
		out = append(out, tr)
	}
	return out, rows.Err()
}
