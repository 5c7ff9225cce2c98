package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/iksnae/querychat/internal"
)

func TestJSONLExporter_Export(t *testing.T) {
	tests := []struct {
		name       string
		transcript *internal.Transcript
		wantLines  int
		want       []string
	}{
		{
			name:       "empty transcript",
			transcript: &internal.Transcript{ChatID: "chat-1"},
			wantLines:  0,
		},
		{
			name:       "transcript with queries",
			transcript: internal.CreateTestTranscript("chat-2"),
			wantLines:  4,
			want: []string{
				`"type":"user"`,
				`"type":"assistant"`,
				`"status":"completed"`,
				`"rowCount":2`,
				`"status":"error"`,
				`"timestamp":"2024-03-01T09:00:00Z"`,
			},
		},
		{
			name: "message without timestamp",
			transcript: &internal.Transcript{ChatID: "chat-3", Messages: []internal.ChatMessage{
				{ID: "m1", Type: internal.MessageTypeUser, Content: "Hello"},
			}},
			wantLines: 1,
			want:      []string{`"content":"Hello"`, `"chatId":"chat-3"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			exporter := &JSONLExporter{}

			if err := exporter.Export(tt.transcript, &buf); err != nil {
				t.Fatalf("JSONLExporter.Export() error = %v", err)
			}

			output := buf.String()
			if tt.wantLines == 0 {
				if output != "" {
					t.Errorf("Empty transcript should produce empty output, got: %q", output)
				}
				return
			}

			lines := strings.Split(strings.TrimSpace(output), "\n")
			if len(lines) != tt.wantLines {
				t.Fatalf("lines = %d, want %d", len(lines), tt.wantLines)
			}
			for i, line := range lines {
				var msg map[string]interface{}
				if err := json.Unmarshal([]byte(line), &msg); err != nil {
					t.Errorf("Line %d is not valid JSON: %v", i, err)
				}
				for _, field := range []string{"id", "type", "content"} {
					if _, ok := msg[field]; !ok {
						t.Errorf("Line %d missing %q field", i, field)
					}
				}
			}

			for _, wantStr := range tt.want {
				if !strings.Contains(output, wantStr) {
					t.Errorf("Output should contain %q", wantStr)
				}
			}
		})
	}
}

func TestJSONLExporter_OmitsZeroTimestamp(t *testing.T) {
	var buf bytes.Buffer
	tr := &internal.Transcript{ChatID: "c", Messages: []internal.ChatMessage{
		{ID: "m1", Type: internal.MessageTypeUser, Content: "x", Timestamp: time.Time{}},
	}}
	if err := (&JSONLExporter{}).Export(tr, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if strings.Contains(buf.String(), "timestamp") {
		t.Errorf("zero timestamp should be omitted, got %s", buf.String())
	}
}

func TestJSONLExporter_Extension(t *testing.T) {
	exporter := &JSONLExporter{}
	if got := exporter.Extension(); got != "jsonl" {
		t.Errorf("JSONLExporter.Extension() = %v, want jsonl", got)
	}
}
