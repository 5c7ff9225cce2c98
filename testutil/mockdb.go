package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

// CreateInMemoryDB creates an empty in-memory SQLite database for testing.
// It is limited to one connection so every query sees the same database.
func CreateInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// CreateTestDB creates an in-memory history database with sample chats
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := CreateInMemoryDB(t)
	seedHistory(t, db)
	return db
}

// InsertChat inserts a chat row
func InsertChat(t *testing.T, db *sql.DB, id, databaseType, lastQuery string, updatedAt int64) {
	t.Helper()
	_, err := db.Exec(
		"INSERT INTO chats(id, created_at, updated_at, database_type, last_query) VALUES(?, ?, ?, ?, ?)",
		id, updatedAt, updatedAt, databaseType, lastQuery,
	)
	if err != nil {
		t.Fatalf("Failed to insert chat: %v", err)
	}
}

// InsertMessage inserts a message row. toolCallJSON may be empty.
func InsertMessage(t *testing.T, db *sql.DB, chatID, id, msgType, content string, createdAt int64, toolCallJSON string) {
	t.Helper()
	var toolCall sql.NullString
	if toolCallJSON != "" {
		toolCall = sql.NullString{String: toolCallJSON, Valid: true}
	}
	_, err := db.Exec(
		"INSERT INTO messages(id, chat_id, type, content, created_at, tool_call_json) VALUES(?, ?, ?, ?, ?, ?)",
		id, chatID, msgType, content, createdAt, toolCall,
	)
	if err != nil {
		t.Fatalf("Failed to insert message: %v", err)
	}
}
