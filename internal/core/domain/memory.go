package domain

import "time"

// MemoryType classifies long-term memory entries.
type MemoryType string

const (
	MemoryConversation MemoryType = "conversation"
	MemoryFact         MemoryType = "fact"
)

// MemoryEntry is one persisted long-term memory.
type MemoryEntry struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Type      MemoryType             `json:"type"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Embedding []float32              `json:"-"`
	CreatedAt time.Time              `json:"created_at"`
	Score     float64                `json:"score,omitempty"`
}

// Document is one chunk in the vector-searchable document collection.
type Document struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Embedding  []float32              `json:"-"`
	CreatedAt  time.Time              `json:"created_at"`
}

// SearchResult is a document ranked by similarity to a query.
type SearchResult struct {
	Document
	Score float64 `json:"score"`
}

// Source returns the document's "source" metadata or "unknown".
func (d Document) Source() string {
	if s, ok := d.Metadata["source"].(string); ok && s != "" {
		return s
	}
	return "unknown"
}
