package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/a2639443196/my-vue-web/backend/internal/model/chat"
)

// SQLite is a file-backed store. It serves as the durable KV of a chat tab
// and as the message repository of the room server.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and prepares the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// sqlite 只允许单写者
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLite{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLite) createTables() error {
	tables := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL,
		avatar TEXT DEFAULT '',
		content TEXT NOT NULL,
		message_type TEXT DEFAULT 'text',
		is_system BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room_id, created_at);
	`

	_, err := s.db.Exec(tables)
	return err
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLite) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	return err
}

// SaveMessage inserts msg and trims the room to its newest keep messages.
func (s *SQLite) SaveMessage(ctx context.Context, msg chat.RoomMessage, keep int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_messages
		(id, room_id, user_id, username, avatar, content, message_type, is_system, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, msg.User.ID, msg.User.Username, msg.User.Avatar,
		msg.Content, msg.MessageType, msg.IsSystem, msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if keep > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM chat_messages WHERE room_id = ? AND id NOT IN (
				SELECT id FROM chat_messages WHERE room_id = ? ORDER BY created_at DESC LIMIT ?
			)`,
			msg.RoomID, msg.RoomID, keep,
		)
		if err != nil {
			return fmt.Errorf("trim room history: %w", err)
		}
	}

	return tx.Commit()
}

// RecentMessages returns up to limit newest messages of roomID, oldest first.
func (s *SQLite) RecentMessages(ctx context.Context, roomID string, limit int) ([]chat.RoomMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, user_id, username, avatar, content, message_type, is_system, created_at
		FROM chat_messages WHERE room_id = ? ORDER BY created_at DESC LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []chat.RoomMessage
	for rows.Next() {
		var msg chat.RoomMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.User.ID,
			&msg.User.Username,
			&msg.User.Avatar,
			&msg.Content,
			&msg.MessageType,
			&msg.IsSystem,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
