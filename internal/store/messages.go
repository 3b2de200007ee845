// Package store holds the application tier's data access. Every operation
// runs through the connection manager's scoped acquisition, so a stale handle
// is replaced transparently between units of work.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Message is the single application entity: an auto-generated identifier and
// a text payload.
type Message struct {
	ID        int64     `json:"id"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// connRunner is satisfied by *clients.MySQLManager.
type connRunner interface {
	WithConn(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error
}

// Messages reads and writes the messages table.
type Messages struct {
	mgr connRunner
}

// NewMessages constructs the store over the shared connection manager.
func NewMessages(mgr connRunner) *Messages {
	return &Messages{mgr: mgr}
}

// List returns all messages, oldest first.
func (s *Messages) List(ctx context.Context) ([]Message, error) {
	var out []Message

	err := s.mgr.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			"SELECT id, message, created_at FROM messages ORDER BY id")
		if err != nil {
			return err
		}
		defer rows.Close()

		// Reset on retry: WithConn may run this function twice after a
		// reconnect, and appending to a half-filled slice would duplicate.
		out = out[:0]
		for rows.Next() {
			var m Message
			if err := rows.Scan(&m.ID, &m.Body, &m.CreatedAt); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	if out == nil {
		out = []Message{}
	}
	return out, nil
}

// Insert stores a new message and returns it with its generated identifier
// and the server-assigned timestamp, so the response matches what a later
// List reads back.
func (s *Messages) Insert(ctx context.Context, body string) (Message, error) {
	var msg Message

	err := s.mgr.WithConn(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"INSERT INTO messages (message) VALUES (?)", body)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		var createdAt time.Time
		if err := db.QueryRowContext(ctx,
			"SELECT created_at FROM messages WHERE id = ?", id).Scan(&createdAt); err != nil {
			return err
		}

		msg = Message{ID: id, Body: body, CreatedAt: createdAt}
		return nil
	})
	if err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}

	return msg, nil
}
