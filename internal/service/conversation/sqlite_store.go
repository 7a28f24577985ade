package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/summarizer/summary-chat/internal/model/chat"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	summary_id    TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	messages      TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at DESC);
`

// SQLiteStore persists conversations in a single SQLite table with the
// transcript stored as a JSON column.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer at a time
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, conv chat.Conversation) error {
	messages, err := json.Marshal(nonNilMessages(conv.Messages))
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	const query = `
INSERT INTO conversations (id, summary_id, user_id, title, created_at, updated_at, message_count, messages)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title,
	user_id = excluded.user_id,
	updated_at = excluded.updated_at,
	message_count = excluded.message_count,
	messages = excluded.messages`

	_, err = s.db.ExecContext(ctx, query,
		conv.ID, conv.SummaryID, conv.UserID, conv.Title,
		conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano(),
		conv.MessageCount, string(messages),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (chat.Conversation, error) {
	const query = `
SELECT id, summary_id, user_id, title, created_at, updated_at, message_count, messages
FROM conversations WHERE id = ?`

	var (
		conv     chat.Conversation
		created  int64
		updated  int64
		messages string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.SummaryID, &conv.UserID, &conv.Title,
		&created, &updated, &conv.MessageCount, &messages,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, ErrNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("query conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(messages), &conv.Messages); err != nil {
		return chat.Conversation{}, fmt.Errorf("decode messages: %w", err)
	}
	conv.CreatedAt = time.Unix(0, created).UTC()
	conv.UpdatedAt = time.Unix(0, updated).UTC()
	conv.IsPersistent = true
	return conv, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]chat.Conversation, error) {
	const query = `
SELECT id, summary_id, user_id, title, created_at, updated_at, message_count
FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := make([]chat.Conversation, 0)
	for rows.Next() {
		var (
			conv    chat.Conversation
			created int64
			updated int64
		)
		if err := rows.Scan(&conv.ID, &conv.SummaryID, &conv.UserID, &conv.Title, &created, &updated, &conv.MessageCount); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		conv.CreatedAt = time.Unix(0, created).UTC()
		conv.UpdatedAt = time.Unix(0, updated).UTC()
		conv.IsPersistent = true
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func nonNilMessages(messages []chat.ChatMessage) []chat.ChatMessage {
	if messages == nil {
		return []chat.ChatMessage{}
	}
	return messages
}
