package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/iksnae/querychat/internal"
)

// JSONLExporter exports transcripts in JSONL format (one message per line)
type JSONLExporter struct{}

// Export exports a transcript to JSONL format
func (e *JSONLExporter) Export(transcript *internal.Transcript, w io.Writer) error {
	enc := json.NewEncoder(w)

	for _, msg := range transcript.Messages {
		obj := map[string]interface{}{
			"chatId":  transcript.ChatID,
			"id":      msg.ID,
			"type":    msg.Type,
			"content": msg.Content,
		}

		if !msg.Timestamp.IsZero() {
			obj["timestamp"] = msg.Timestamp.UTC().Format(time.RFC3339)
		}

		if tc := msg.ToolCall; tc != nil {
			obj["status"] = tc.Status
			if tc.Metadata.SQL != "" {
				obj["sql"] = tc.Metadata.SQL
			}
			if tc.Error != "" {
				obj["error"] = tc.Error
			}
			if tc.Result != nil {
				obj["rowCount"] = tc.Result.RowCount
			}
		}

		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
	}

	return nil
}

// Extension returns the file extension for this format
func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
