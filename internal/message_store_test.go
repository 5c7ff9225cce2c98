package internal

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingPersister struct {
	mu    sync.Mutex
	saved []ChatMessage
	err   error
}

func (p *recordingPersister) SaveMessage(chatID string, msg ChatMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, msg)
	return p.err
}

func TestMessageStore_AddMessage(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewMessageStore("chat-1", WithClock(func() time.Time { return fixed }))

	msg := s.AddMessage(ChatMessage{Type: MessageTypeUser, Content: "hello"})
	if msg.ID == "" {
		t.Error("AddMessage() did not assign an ID")
	}
	if !msg.Timestamp.Equal(fixed) {
		t.Errorf("AddMessage() timestamp = %v, want %v", msg.Timestamp, fixed)
	}
	if s.Len() != 1 || s.QueryCount() != 1 {
		t.Errorf("Len() = %d, QueryCount() = %d, want 1, 1", s.Len(), s.QueryCount())
	}
	if s.ChatID() != "chat-1" {
		t.Errorf("ChatID() = %q, want chat-1", s.ChatID())
	}
}

func TestMessageStore_ReadersGetCopies(t *testing.T) {
	s := NewMessageStore("")
	msg := s.AddMessage(ChatMessage{
		Type:     MessageTypeAssistant,
		ToolCall: &ToolCall{Status: ToolCallPending, Metadata: Metadata{Extra: map[string]interface{}{"k": "v"}}},
	})

	got, _ := s.Get(msg.ID)
	got.ToolCall.Status = ToolCallCompleted
	got.ToolCall.Metadata.Extra["k"] = "changed"

	again, _ := s.Get(msg.ID)
	if again.ToolCall.Status != ToolCallPending || again.ToolCall.Metadata.Extra["k"] != "v" {
		t.Errorf("store state leaked through a returned copy: %+v", again.ToolCall)
	}
}

func TestMessageStore_MergeToolCall(t *testing.T) {
	s := NewMessageStore("")
	msg := s.AddMessage(ChatMessage{Type: MessageTypeAssistant, ToolCall: &ToolCall{Status: ToolCallPending}})

	done := "done"
	updated, applied, err := s.MergeToolCall(msg.ID, ToolCallPatch{Status: ToolCallCompleted, Content: &done})
	if err != nil || !applied {
		t.Fatalf("MergeToolCall() applied = %v, err = %v", applied, err)
	}
	if updated.Content != "done" || updated.ToolCall.Status != ToolCallCompleted {
		t.Errorf("MergeToolCall() = %+v", updated)
	}

	late := "late"
	updated, applied, _ = s.MergeToolCall(msg.ID, ToolCallPatch{Status: ToolCallPending, Content: &late, Metadata: Metadata{SQL: "SELECT 1 FROM DUAL"}})
	if applied {
		t.Error("MergeToolCall() applied a status change to a completed tool call")
	}
	if updated.Content != "done" {
		t.Errorf("content changed after completion: %q", updated.Content)
	}
	if updated.ToolCall.Metadata.SQL != "SELECT 1 FROM DUAL" {
		t.Error("metadata should still be merged after completion")
	}

	if _, _, err := s.MergeToolCall("missing", ToolCallPatch{}); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("MergeToolCall(missing) error = %v, want ErrMessageNotFound", err)
	}
}

func TestMessageStore_Pending(t *testing.T) {
	s := NewMessageStore("")
	if _, ok := s.Pending(); ok {
		t.Error("Pending() on empty store = true")
	}

	msg := s.AddMessage(ChatMessage{Type: MessageTypeAssistant, ToolCall: &ToolCall{Status: ToolCallPending}})
	if got, ok := s.Pending(); !ok || got.ID != msg.ID {
		t.Errorf("Pending() = %v, %v, want %s", got.ID, ok, msg.ID)
	}

	_, _, _ = s.MergeToolCall(msg.ID, ToolCallPatch{Status: ToolCallError, Error: "x"})
	if _, ok := s.Pending(); ok {
		t.Error("Pending() after error = true")
	}
}

func TestMessageStore_PersisterAndListener(t *testing.T) {
	p := &recordingPersister{err: errors.New("disk full")}
	var heard []string
	s := NewMessageStore("chat", WithPersister(p), WithListener(func(m ChatMessage) {
		heard = append(heard, m.Content)
	}))

	msg := s.AddMessage(ChatMessage{Type: MessageTypeUser, Content: "a"})
	if err := s.SetContent(msg.ID, "b"); err != nil {
		t.Fatalf("SetContent() error = %v", err)
	}

	if len(p.saved) != 2 {
		t.Errorf("persister saw %d saves, want 2", len(p.saved))
	}
	if len(heard) != 2 || heard[1] != "b" {
		t.Errorf("listener heard %v, want [a b]", heard)
	}
	if err := s.SetContent("missing", "x"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("SetContent(missing) error = %v, want ErrMessageNotFound", err)
	}
}

func TestMessageStore_LoadAndTranscript(t *testing.T) {
	s := NewMessageStore("chat")
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.Load([]ChatMessage{
		{ID: "u1", Type: MessageTypeUser, Content: "q", Timestamp: ts},
		{ID: "a1", Type: MessageTypeAssistant, Content: "r", Timestamp: ts.Add(time.Second)},
	})

	tr := s.Transcript()
	if tr.ChatID != "chat" || len(tr.Messages) != 2 || !tr.CreatedAt.Equal(ts) {
		t.Errorf("Transcript() = %+v", tr)
	}
	if tr.QueryCount() != 1 {
		t.Errorf("QueryCount() = %d, want 1", tr.QueryCount())
	}
	if _, ok := s.Get("a1"); !ok {
		t.Error("Get(a1) after Load = false")
	}
}

func TestMessageStore_ConcurrentMerges(t *testing.T) {
	s := NewMessageStore("")
	msg := s.AddMessage(ChatMessage{Type: MessageTypeAssistant, ToolCall: &ToolCall{Status: ToolCallPending}})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			_, _, _ = s.MergeToolCall(msg.ID, ToolCallPatch{Metadata: Metadata{Extra: map[string]interface{}{key: i}}})
		}(i)
	}
	wg.Wait()

	got, _ := s.Get(msg.ID)
	if len(got.ToolCall.Metadata.Extra) != 20 {
		t.Errorf("concurrent merges kept %d keys, want 20", len(got.ToolCall.Metadata.Extra))
	}
}
