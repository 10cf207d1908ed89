package services

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/manthysbr/aulerag/internal/core/domain"
)

const (
	defaultShortTermSize   = 10
	defaultMaxContextToken = 4000
	defaultSessionBuffers  = 256
)

// ShortTermMemory is a bounded, token-aware window over recent messages.
// Safe for concurrent use.
type ShortTermMemory struct {
	mu          sync.RWMutex
	messages    []domain.Message
	maxMessages int
	maxTokens   int
}

// NewShortTermMemory creates a window. Non-positive limits use the defaults
// (10 messages, 4000 tokens).
func NewShortTermMemory(maxMessages, maxTokens int) *ShortTermMemory {
	if maxMessages <= 0 {
		maxMessages = defaultShortTermSize
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxContextToken
	}
	return &ShortTermMemory{
		maxMessages: maxMessages,
		maxTokens:   maxTokens,
	}
}

// EstimateTokens approximates the token count of text at four bytes per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

// Add appends a message and trims the window.
func (m *ShortTermMemory) Add(role domain.Role, content string, metadata map[string]string) {
	msg := domain.NewMessage(role, content)
	msg.Metadata = metadata

	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	m.trim()
}

// Messages returns a copy of the window in chronological order.
func (m *ShortTermMemory) Messages() []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Message(nil), m.messages...)
}

// Last returns up to n of the most recent messages, oldest first.
func (m *ShortTermMemory) Last(n int) []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || len(m.messages) == 0 {
		return nil
	}
	start := max(0, len(m.messages)-n)
	return append([]domain.Message(nil), m.messages[start:]...)
}

// Len returns the number of messages held.
func (m *ShortTermMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// trim enforces the message and token limits. Caller holds the write lock.
func (m *ShortTermMemory) trim() {
	if len(m.messages) > m.maxMessages {
		m.messages = append([]domain.Message(nil), m.messages[len(m.messages)-m.maxMessages:]...)
	}
	total := 0
	for _, msg := range m.messages {
		total += EstimateTokens(msg.Content)
	}
	if total > m.maxTokens {
		m.messages = withinTokenLimit(m.messages, m.maxTokens)
	}
}

// withinTokenLimit keeps the newest contiguous suffix of messages that fits.
func withinTokenLimit(messages []domain.Message, maxTokens int) []domain.Message {
	total := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		t := EstimateTokens(messages[i].Content)
		if total+t > maxTokens {
			break
		}
		total += t
		start = i
	}
	return append([]domain.Message(nil), messages[start:]...)
}

// SessionBuffers keeps one ShortTermMemory per session. The least recently
// used session is dropped once capacity is reached.
type SessionBuffers struct {
	mu          sync.Mutex
	sessions    *lru.Cache[string, *ShortTermMemory]
	maxMessages int
	maxTokens   int
}

// NewSessionBuffers holds up to capacity sessions, each windowed as in
// NewShortTermMemory. Non-positive capacity uses 256.
func NewSessionBuffers(capacity, maxMessages, maxTokens int) *SessionBuffers {
	if capacity <= 0 {
		capacity = defaultSessionBuffers
	}
	sessions, _ := lru.New[string, *ShortTermMemory](capacity)
	return &SessionBuffers{sessions: sessions, maxMessages: maxMessages, maxTokens: maxTokens}
}

// For returns the buffer of sessionID, creating it on first use. An empty id
// gets a fresh buffer that is not retained.
func (b *SessionBuffers) For(sessionID string) *ShortTermMemory {
	if sessionID == "" {
		return NewShortTermMemory(b.maxMessages, b.maxTokens)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.sessions.Get(sessionID); ok {
		return m
	}
	m := NewShortTermMemory(b.maxMessages, b.maxTokens)
	b.sessions.Add(sessionID, m)
	return m
}

// Len returns the number of retained sessions.
func (b *SessionBuffers) Len() int { return b.sessions.Len() }
