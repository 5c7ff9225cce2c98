package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// Sample chats written by CreateHistoryFixture and CreateTestDB
const (
	FixtureChatID      = "5b1e0c7a-0001-4d2a-9f00-aaaaaaaaaaaa"
	FixtureErrorChatID = "9d40f2be-0002-4c11-8e00-bbbbbbbbbbbb"
	FixtureQuery       = "top customers by revenue"
	FixtureSQL         = "SELECT CUSTOMER_ID, REVENUE FROM SALES ORDER BY REVENUE DESC"
)

// historySchema mirrors the tables the history store creates
const historySchema = `
CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	database_type TEXT NOT NULL DEFAULT '',
	last_query TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	tool_call_json TEXT,
	FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
);`

const completedToolCall = `{
	"name": "sql_query",
	"status": "completed",
	"result": {
		"columns": ["CUSTOMER_ID", "REVENUE"],
		"rows": [[101, 5400.5], [102, 3100]],
		"rowCount": 2,
		"executionTimeMs": 12
	},
	"metadata": {
		"queryId": "q-fixture-1",
		"sql": "` + FixtureSQL + `",
		"currentState": "completed"
	}
}`

const failedToolCall = `{
	"name": "sql_query",
	"status": "error",
	"error": "ORA-00904: \"CUSTMER_ID\": invalid identifier",
	"metadata": {
		"queryId": "q-fixture-2",
		"sql": "SELECT CUSTMER_ID FROM SALES",
		"failedStage": "execution",
		"suggestion": {
			"kind": "column",
			"message": "Did you mean CUSTOMER_ID?",
			"suggestedSql": "SELECT CUSTOMER_ID FROM SALES"
		}
	}
}`

// CreateHistoryFixture creates a history database file with sample chats
func CreateHistoryFixture(t *testing.T, dbPath string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		t.Fatalf("Failed to create fixture directory: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	seedHistory(t, db)
}

func seedHistory(t *testing.T, db *sql.DB) {
	t.Helper()
	if _, err := db.Exec(historySchema); err != nil {
		t.Fatalf("Failed to create history tables: %v", err)
	}

	// 2024-03-01T09:00:00Z in milliseconds
	const base int64 = 1709283600000

	InsertChat(t, db, FixtureChatID, "oracle", FixtureQuery, base+2000)
	InsertMessage(t, db, FixtureChatID, "m-1", "user", FixtureQuery, base, "")
	InsertMessage(t, db, FixtureChatID, "m-2", "assistant", "Query returned 2 rows in 12 ms.", base+1000, completedToolCall)

	InsertChat(t, db, FixtureErrorChatID, "oracle", "customer ids", base+1000)
	InsertMessage(t, db, FixtureErrorChatID, "m-3", "user", "customer ids", base+500, "")
	InsertMessage(t, db, FixtureErrorChatID, "m-4", "assistant", "", base+900, failedToolCall)
}
