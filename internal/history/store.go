// Package history persists chats and their messages in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/iksnae/querychat/internal"
)

var (
	// ErrChatNotFound is returned when no chat matches an id or prefix
	ErrChatNotFound = errors.New("chat not found")
	// ErrAmbiguousChatID is returned when a prefix matches several chats
	ErrAmbiguousChatID = errors.New("chat id prefix is ambiguous")
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		database_type TEXT NOT NULL DEFAULT '',
		last_query TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		tool_call_json TEXT,
		FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats(updated_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id, created_at);`,
}

// ChatSummary describes a stored chat
type ChatSummary struct {
	ID           string    `json:"id" yaml:"id"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" yaml:"updatedAt"`
	DatabaseType string    `json:"databaseType" yaml:"databaseType"`
	LastQuery    string    `json:"lastQuery" yaml:"lastQuery"`
	MessageCount int       `json:"messageCount" yaml:"messageCount"`
}

// Store is the SQLite chat history. It implements internal.Persister.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ internal.Persister = (*Store)(nil)

// Open opens (creating if needed) the history database at path
func Open(path string) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, &internal.StorageError{Path: path, Op: "open", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &internal.StorageError{Path: path, Op: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, &internal.StorageError{Path: path, Op: "open", Err: err}
	}

	s, err := New(db, path)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and applies the schema
func New(db *sql.DB, path string) (*Store, error) {
	// one connection: SQLite has a single writer and :memory: is per connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := append([]string{"PRAGMA foreign_keys = ON;", "PRAGMA busy_timeout = 5000;"}, schema...)
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return &internal.StorageError{Path: s.path, Op: "migrate", Err: err}
		}
	}
	return nil
}

// Path returns the database location
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is usable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &internal.StorageError{Path: s.path, Op: "read", Err: err}
	}
	return nil
}

// CreateChat records a new chat. An empty id gets a generated one.
func (s *Store) CreateChat(ctx context.Context, id, databaseType string) (ChatSummary, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.UnixMilli(s.now().UnixMilli()).UTC()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chats(id, created_at, updated_at, database_type, last_query) VALUES(?, ?, ?, ?, '')",
		id, now.UnixMilli(), now.UnixMilli(), databaseType,
	)
	if err != nil {
		return ChatSummary{}, &internal.StorageError{Path: s.path, Op: "write", Err: fmt.Errorf("create chat %s: %w", id, err)}
	}
	internal.LogDebug("created chat %s", id)
	return ChatSummary{ID: id, CreatedAt: now, UpdatedAt: now, DatabaseType: databaseType}, nil
}

// SaveMessage inserts or replaces a message and touches its chat. The chat
// row is created on first use so messages are never orphaned.
func (s *Store) SaveMessage(chatID string, msg internal.ChatMessage) error {
	ctx := context.Background()

	var toolCall sql.NullString
	if msg.ToolCall != nil {
		data, err := json.Marshal(msg.ToolCall)
		if err != nil {
			return &internal.PersistError{ChatID: chatID, MessageID: msg.ID, Err: err}
		}
		toolCall = sql.NullString{String: string(data), Valid: true}
	}

	created := msg.Timestamp
	if created.IsZero() {
		created = s.now()
	}
	now := s.now().UTC().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &internal.PersistError{ChatID: chatID, MessageID: msg.ID, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO chats(id, created_at, updated_at, database_type, last_query) VALUES(?, ?, ?, '', '')",
		chatID, now, now,
	); err != nil {
		return &internal.PersistError{ChatID: chatID, MessageID: msg.ID, Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages(id, chat_id, type, content, created_at, tool_call_json) VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, tool_call_json = excluded.tool_call_json`,
		msg.ID, chatID, string(msg.Type), msg.Content, created.UnixMilli(), toolCall,
	); err != nil {
		return &internal.PersistError{ChatID: chatID, MessageID: msg.ID, Err: err}
	}

	touch := "UPDATE chats SET updated_at = ? WHERE id = ?"
	args := []any{now, chatID}
	if msg.Type == internal.MessageTypeUser {
		touch = "UPDATE chats SET updated_at = ?, last_query = ? WHERE id = ?"
		args = []any{now, msg.Content, chatID}
	}
	if _, err := tx.ExecContext(ctx, touch, args...); err != nil {
		return &internal.PersistError{ChatID: chatID, MessageID: msg.ID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &internal.PersistError{ChatID: chatID, MessageID: msg.ID, Err: err}
	}
	return nil
}

// LoadMessages returns a chat's messages in creation order
func (s *Store) LoadMessages(ctx context.Context, chatID string) ([]internal.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, type, content, created_at, tool_call_json FROM messages WHERE chat_id = ? ORDER BY created_at, rowid",
		chatID,
	)
	if err != nil {
		return nil, &internal.StorageError{Path: s.path, Op: "read", Err: err}
	}
	defer rows.Close()

	var messages []internal.ChatMessage
	for rows.Next() {
		var (
			msg      internal.ChatMessage
			msgType  string
			created  int64
			toolCall sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msgType, &msg.Content, &created, &toolCall); err != nil {
			return nil, &internal.StorageError{Path: s.path, Op: "read", Err: err}
		}
		msg.Type = internal.MessageType(msgType)
		msg.Timestamp = time.UnixMilli(created).UTC()
		if toolCall.Valid && toolCall.String != "" {
			var tc internal.ToolCall
			if err := json.Unmarshal([]byte(toolCall.String), &tc); err != nil {
				return nil, &internal.ParseError{Source: "history", Key: msg.ID, Err: err}
			}
			msg.ToolCall = &tc
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &internal.StorageError{Path: s.path, Op: "read", Err: err}
	}
	return messages, nil
}

const chatColumns = `c.id, c.created_at, c.updated_at, c.database_type, c.last_query,
	(SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id)`

func scanChat(sc interface{ Scan(...any) error }) (ChatSummary, error) {
	var (
		c                ChatSummary
		created, updated int64
	)
	if err := sc.Scan(&c.ID, &created, &updated, &c.DatabaseType, &c.LastQuery, &c.MessageCount); err != nil {
		return ChatSummary{}, err
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	c.UpdatedAt = time.UnixMilli(updated).UTC()
	return c, nil
}

// ListChats returns the most recently updated chats first. limit <= 0 means all.
func (s *Store) ListChats(ctx context.Context, limit int) ([]ChatSummary, error) {
	query := "SELECT " + chatColumns + " FROM chats c ORDER BY c.updated_at DESC, c.id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &internal.StorageError{Path: s.path, Op: "read", Err: err}
	}
	defer rows.Close()

	chats := make([]ChatSummary, 0)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, &internal.StorageError{Path: s.path, Op: "read", Err: err}
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &internal.StorageError{Path: s.path, Op: "read", Err: err}
	}
	return chats, nil
}

// GetChat looks a chat up by its full id or a unique prefix
func (s *Store) GetChat(ctx context.Context, idOrPrefix string) (ChatSummary, error) {
	if idOrPrefix == "" {
		return ChatSummary{}, ErrChatNotFound
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+chatColumns+" FROM chats c WHERE c.id = ?", idOrPrefix)
	c, err := scanChat(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ChatSummary{}, &internal.StorageError{Path: s.path, Op: "read", Err: err}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chatColumns+" FROM chats c WHERE substr(c.id, 1, ?) = ? LIMIT 2",
		len(idOrPrefix), idOrPrefix,
	)
	if err != nil {
		return ChatSummary{}, &internal.StorageError{Path: s.path, Op: "read", Err: err}
	}
	defer rows.Close()

	var matches []ChatSummary
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return ChatSummary{}, &internal.StorageError{Path: s.path, Op: "read", Err: err}
		}
		matches = append(matches, c)
	}
	if err := rows.Err(); err != nil {
		return ChatSummary{}, &internal.StorageError{Path: s.path, Op: "read", Err: err}
	}

	switch len(matches) {
	case 0:
		return ChatSummary{}, fmt.Errorf("%w: %s", ErrChatNotFound, idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		return ChatSummary{}, fmt.Errorf("%w: %s", ErrAmbiguousChatID, idOrPrefix)
	}
}

// Transcript loads a chat and its messages
func (s *Store) Transcript(ctx context.Context, idOrPrefix string) (*internal.Transcript, error) {
	chat, err := s.GetChat(ctx, idOrPrefix)
	if err != nil {
		return nil, err
	}
	messages, err := s.LoadMessages(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []internal.ChatMessage{}
	}
	return &internal.Transcript{
		ChatID:       chat.ID,
		DatabaseType: chat.DatabaseType,
		CreatedAt:    chat.CreatedAt,
		Messages:     messages,
	}, nil
}

// DeleteChat removes a chat and its messages
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return &internal.StorageError{Path: s.path, Op: "write", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	return nil
}
