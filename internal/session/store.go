// Package session persists conversations so the desktop shell can
// resume them across restarts.
package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/oogalieboogalie/ThinkSpace/internal/llm"
)

// Conversation is one stored conversation.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a SQLite-backed conversation store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the session database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite",
		"file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureConversation creates the conversation if it does not exist yet.
func (s *Store) EnsureConversation(id, title string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, id, title, now, now)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// AppendMessage stores one message at the end of a conversation.
func (s *Store) AppendMessage(conversationID string, msg llm.Message) error {
	if err := s.EnsureConversation(conversationID, ""); err != nil {
		return err
	}

	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		encoded, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = string(encoded)
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	_, err := s.db.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), conversationID, msg.Role, msg.Content, toolCalls, nullable(msg.ToolCallID), ts)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		ts, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// Messages returns a conversation's messages in order.
func (s *Store) Messages(conversationID string) ([]llm.Message, error) {
	rows, err := s.db.Query(`
		SELECT role, content, tool_calls, tool_call_id, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []llm.Message
	for rows.Next() {
		var m llm.Message
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &toolCallID, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		if toolCallID.Valid {
			m.ToolCallID = toolCallID.String
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Conversations lists stored conversations, most recently updated first.
func (s *Store) Conversations() ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, title, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// SetTitle updates a conversation's title.
func (s *Store) SetTitle(conversationID, title string) error {
	_, err := s.db.Exec(`UPDATE conversations SET title = ? WHERE id = ?`, title, conversationID)
	return err
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(conversationID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// Stats reports store-wide counts.
func (s *Store) Stats() map[string]any {
	var convCount, msgCount int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&convCount)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&msgCount)
	return map[string]any{
		"conversations": convCount,
		"messages":      msgCount,
		"storage":       "sqlite",
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
