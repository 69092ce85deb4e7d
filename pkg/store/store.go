// Package store persists the message log. Messages are append-only: the rest
// of the system inserts and lists records but never mutates or deletes them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Direction values for persisted messages.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// ErrStoreClosed indicates the underlying database connection is unavailable.
var ErrStoreClosed = errors.New("store: closed")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	from_jid    TEXT NOT NULL,
	to_jid      TEXT NOT NULL,
	body        TEXT NOT NULL,
	direction   TEXT NOT NULL CHECK (direction IN ('in', 'out')),
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at DESC);
`

// Message is a single persisted message log entry.
type Message struct {
	ID        int64     `json:"id"`
	FromJID   string    `json:"fromJid"`
	ToJID     string    `json:"toJid"`
	Body      string    `json:"body"`
	Direction string    `json:"direction"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store manages SQLite database operations for the message log.
// Safe for concurrent use: writes are fire-and-forget from the relay, so
// Close may overlap in-flight inserts.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// handle returns the live connection, or ErrStoreClosed after Close.
func (s *Store) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	return s.db, nil
}

// Open opens (creating if needed) the message database at dbPath.
// Pass ":memory:" for an in-memory database.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time, but multiple readers with WAL mode
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of immediately returning SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection. Idempotent. Inserts still in flight
// finish against the closed handle and report an error instead of panicking.
func (s *Store) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()

	if db == nil {
		return nil
	}
	return db.Close()
}

// InsertMessage appends a message to the log and returns the stored record
// with its assigned ID and timestamp.
func (s *Store) InsertMessage(ctx context.Context, fromJID, toJID, body, direction string) (Message, error) {
	db, err := s.handle()
	if err != nil {
		return Message{}, err
	}
	if direction != DirectionIn && direction != DirectionOut {
		return Message{}, fmt.Errorf("invalid direction %q", direction)
	}

	now := time.Now().UTC()
	result, err := db.ExecContext(ctx,
		`INSERT INTO messages (from_jid, to_jid, body, direction, created_at) VALUES (?, ?, ?, ?, ?)`,
		fromJID, toJID, body, direction, now.UnixNano(),
	)
	if err != nil {
		return Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("failed to get message id: %w", err)
	}

	return Message{
		ID:        id,
		FromJID:   fromJID,
		ToJID:     toJID,
		Body:      body,
		Direction: direction,
		CreatedAt: now,
	}, nil
}

// ListMessages returns up to limit messages, newest first, skipping offset rows.
func (s *Store) ListMessages(ctx context.Context, limit, offset int) ([]Message, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, from_jid, to_jid, body, direction, created_at
		 FROM messages ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.FromJID, &m.ToJID, &m.Body, &m.Direction, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// CountMessages returns the total number of persisted messages.
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
