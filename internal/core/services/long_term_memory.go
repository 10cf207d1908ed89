package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
)

// LongTermMemory files conversations and facts under a session id and finds
// them again by semantic similarity. When disabled every method is a no-op.
type LongTermMemory struct {
	logger   *slog.Logger
	repo     ports.MemoryRepository
	embedder domain.EmbeddingProvider
	enabled  bool
}

var _ ports.MemoryStore = (*LongTermMemory)(nil)

// NewLongTermMemory creates the store. A nil repo or embedder disables it.
func NewLongTermMemory(logger *slog.Logger, repo ports.MemoryRepository, embedder domain.EmbeddingProvider, enabled bool) *LongTermMemory {
	if enabled && (repo == nil || embedder == nil) {
		logger.Warn("long-term memory disabled: missing repository or embedder")
		enabled = false
	}
	if !enabled {
		logger.Info("long-term memory is disabled")
	}
	return &LongTermMemory{
		logger:   logger,
		repo:     repo,
		embedder: embedder,
		enabled:  enabled,
	}
}

func (m *LongTermMemory) Enabled() bool { return m != nil && m.enabled }

// StoreConversation persists the messages as one conversation memory.
func (m *LongTermMemory) StoreConversation(ctx context.Context, sessionID string, messages []domain.Message) error {
	_, err := m.StoreConversationWithSummary(ctx, sessionID, messages, "")
	return err
}

// StoreConversationWithSummary persists the messages, prefixed by an optional
// summary, and returns the memory id.
func (m *LongTermMemory) StoreConversationWithSummary(ctx context.Context, sessionID string, messages []domain.Message, summary string) (string, error) {
	if !m.Enabled() || len(messages) == 0 {
		return "", nil
	}

	metadata := map[string]interface{}{
		"session_id":    sessionID,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"message_count": len(messages),
		"type":          string(domain.MemoryConversation),
	}
	if summary != "" {
		metadata["summary"] = summary
	}

	id, err := m.save(ctx, sessionID, domain.MemoryConversation, FormatConversation(messages, summary), metadata)
	if err != nil {
		return "", fmt.Errorf("store conversation: %w", err)
	}
	m.logger.Debug("stored conversation memory", "memory_id", id, "session_id", sessionID)
	return id, nil
}

// SearchMemories ranks memories by similarity to query. An empty sessionID
// searches across sessions.
func (m *LongTermMemory) SearchMemories(ctx context.Context, query, sessionID string, limit int) ([]domain.MemoryEntry, error) {
	if !m.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	vecs, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed memory query: %w", err)
	}
	entries, err := m.repo.SearchMemories(ctx, sessionID, vecs[0], limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	return entries, nil
}

// SessionMemories returns a session's memories, newest first.
func (m *LongTermMemory) SessionMemories(ctx context.Context, sessionID string, limit int) ([]domain.MemoryEntry, error) {
	if !m.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	return m.repo.ListSessionMemories(ctx, sessionID, limit)
}

// DeleteSession removes every memory of a session and returns how many.
func (m *LongTermMemory) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	if !m.Enabled() {
		return 0, nil
	}
	n, err := m.repo.DeleteSessionMemories(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session memories: %w", err)
	}
	m.logger.Info("deleted session memories", "session_id", sessionID, "count", n)
	return n, nil
}

func (m *LongTermMemory) save(ctx context.Context, sessionID string, kind domain.MemoryType, content string, metadata map[string]interface{}) (string, error) {
	vecs, err := m.embedder.Embed(ctx, []string{content})
	if err != nil {
		return "", fmt.Errorf("embed: %w", err)
	}
	entry := domain.MemoryEntry{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      kind,
		Content:   content,
		Metadata:  metadata,
		Embedding: vecs[0],
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.SaveMemory(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// FormatConversation renders messages as stored in long-term memory.
func FormatConversation(messages []domain.Message, summary string) string {
	var parts []string
	if summary != "" {
		parts = append(parts, fmt.Sprintf("Summary: %s\n", summary))
	}
	parts = append(parts, "Conversation:")
	for _, msg := range messages {
		parts = append(parts, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	return strings.Join(parts, "\n")
}
