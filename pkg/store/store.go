// Package store persists chat sessions and their messages in PostgreSQL.
// Each completed run is recorded as a user/assistant message pair; the
// assistant message carries the run's execution data as JSONB.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound reports a missing session.
var ErrNotFound = errors.New("not found")

// Session is one chat session row.
type Session struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one chat message row. ExecutionData is set only on assistant
// messages and holds the run's trace, plan and token summary.
type Message struct {
	ID            int64           `json:"id"`
	SessionID     string          `json:"session_id"`
	Role          string          `json:"role"`
	Content       string          `json:"content"`
	ExecutionData json.RawMessage `json:"execution_data,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Store wraps a pgx pool. The pool is owned by the store; Close releases it.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, pings and applies pending migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := runMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool without running migrations. Tests use
// this after migrating the schema themselves.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database reachability for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertSession creates the session or bumps its updated_at. The title is
// set on first insert only, so the opening query names the session.
func (s *Store) UpsertSession(ctx context.Context, sessionID, title string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (session_id, title)
		 VALUES ($1, $2)
		 ON CONFLICT (session_id) DO UPDATE SET updated_at = now()`,
		sessionID, title)
	if err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}
	return nil
}

// GetSession returns one session or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, title, created_at, updated_at
		 FROM chat_sessions WHERE session_id = $1`, sessionID,
	).Scan(&sess.ID, &sess.SessionID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns sessions ordered by most recently updated first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, title, created_at, updated_at
		 FROM chat_sessions
		 ORDER BY updated_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.SessionID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes the session; messages cascade.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveExchange records a completed run: the session upsert, the user query
// and the assistant answer with its execution data, in one transaction.
func (s *Store) SaveExchange(ctx context.Context, sessionID, query, answer string, executionData json.RawMessage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO chat_sessions (session_id, title)
		 VALUES ($1, $2)
		 ON CONFLICT (session_id) DO UPDATE SET updated_at = now()`,
		sessionID, clipTitle(query))
	if err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO chat_messages (session_id, role, content) VALUES ($1, 'user', $2)`,
		sessionID, query)
	if err != nil {
		return fmt.Errorf("store: insert user message: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO chat_messages (session_id, role, content, execution_data)
		 VALUES ($1, 'assistant', $2, $3)`,
		sessionID, answer, executionData)
	if err != nil {
		return fmt.Errorf("store: insert assistant message: %w", err)
	}
	return tx.Commit(ctx)
}

// Messages returns the last limit messages of a session in chronological
// order.
func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, execution_data, created_at
		 FROM chat_messages
		 WHERE session_id = $1
		 ORDER BY id DESC
		 LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.ExecutionData, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate messages: %w", err)
	}

	// Reverse to chronological order (oldest first).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// clipTitle derives a session title from the opening query.
func clipTitle(query string) string {
	const limit = 80
	if len(query) <= limit {
		return query
	}
	return query[:limit] + "..."
}
