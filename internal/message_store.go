package internal

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Persister saves messages as they change
type Persister interface {
	SaveMessage(chatID string, msg ChatMessage) error
}

// MessageListener is told about every message change. It must not call back
// into the store or the controller synchronously.
type MessageListener func(msg ChatMessage)

// StoreOption configures a MessageStore
type StoreOption func(*MessageStore)

// WithPersister saves every added or changed message
func WithPersister(p Persister) StoreOption {
	return func(s *MessageStore) {
		s.persister = p
	}
}

// WithListener registers a change listener
func WithListener(l MessageListener) StoreOption {
	return func(s *MessageStore) {
		s.listeners = append(s.listeners, l)
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) StoreOption {
	return func(s *MessageStore) {
		s.now = now
	}
}

// MessageStore is the ordered message log of one chat. Every mutation is a
// read-modify-write under the store lock; readers receive copies.
type MessageStore struct {
	mu        sync.RWMutex
	chatID    string
	messages  []ChatMessage
	index     map[string]int
	persister Persister
	listeners []MessageListener
	now       func() time.Time
}

// NewMessageStore creates an empty store for a chat. An empty chatID gets a generated one.
func NewMessageStore(chatID string, opts ...StoreOption) *MessageStore {
	if chatID == "" {
		chatID = uuid.NewString()
	}
	s := &MessageStore{
		chatID: chatID,
		index:  make(map[string]int),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChatID returns the chat this store belongs to
func (s *MessageStore) ChatID() string {
	return s.chatID
}

// Load replaces the log with previously persisted messages without re-saving them
func (s *MessageStore) Load(messages []ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]ChatMessage, 0, len(messages))
	s.index = make(map[string]int, len(messages))
	for _, m := range messages {
		s.index[m.ID] = len(s.messages)
		s.messages = append(s.messages, m.Clone())
	}
}

// AddMessage appends a message, filling in ID and Timestamp when unset
func (s *MessageStore) AddMessage(msg ChatMessage) ChatMessage {
	s.mu.Lock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	msg = msg.Clone()
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	out := msg.Clone()
	s.mu.Unlock()

	s.changed(out)
	return out
}

// Messages returns a copy of the log in order
func (s *MessageStore) Messages() []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ChatMessage, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Get returns a copy of one message
func (s *MessageStore) Get(id string) (ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return ChatMessage{}, false
	}
	return s.messages[i].Clone(), true
}

// Len returns the number of messages
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// QueryCount returns the number of user messages
func (s *MessageStore) QueryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.messages {
		if m.Type == MessageTypeUser {
			n++
		}
	}
	return n
}

// Pending returns the message whose tool call is still pending, if any
func (s *MessageStore) Pending() (ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		if tc := s.messages[i].ToolCall; tc != nil && tc.Status == ToolCallPending {
			return s.messages[i].Clone(), true
		}
	}
	return ChatMessage{}, false
}

// MergeToolCall merges patch into the message's tool call following the
// rules of the package-level MergeToolCall. It returns the updated message and
// whether status, result, error and content were applied.
func (s *MessageStore) MergeToolCall(id string, patch ToolCallPatch) (ChatMessage, bool, error) {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return ChatMessage{}, false, ErrMessageNotFound
	}

	msg := s.messages[i]
	current := ToolCall{Name: ToolCallName, Status: ToolCallPending}
	if msg.ToolCall != nil {
		current = *msg.ToolCall
	}
	merged, applied := MergeToolCall(current, patch)
	msg.ToolCall = &merged
	if applied && patch.Content != nil {
		msg.Content = *patch.Content
	}
	s.messages[i] = msg
	out := msg.Clone()
	s.mu.Unlock()

	s.changed(out)
	return out, applied, nil
}

// SetContent replaces a message's text
func (s *MessageStore) SetContent(id, content string) error {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	s.messages[i].Content = content
	out := s.messages[i].Clone()
	s.mu.Unlock()

	s.changed(out)
	return nil
}

// Transcript returns the log as a Transcript
func (s *MessageStore) Transcript() *Transcript {
	msgs := s.Messages()
	t := &Transcript{ChatID: s.chatID, Messages: msgs}
	if len(msgs) > 0 {
		t.CreatedAt = msgs[0].Timestamp
	}
	return t
}

func (s *MessageStore) changed(msg ChatMessage) {
	if s.persister != nil {
		if err := s.persister.SaveMessage(s.chatID, msg); err != nil {
			LogWarn("%v", &PersistError{ChatID: s.chatID, MessageID: msg.ID, Err: err})
		}
	}
	for _, l := range s.listeners {
		l(msg)
	}
}
