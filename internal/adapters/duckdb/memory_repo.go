package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

// SaveMemory inserts one long-term memory entry.
func (r *Repository) SaveMemory(ctx context.Context, m domain.MemoryEntry) error {
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO memories (id, session_id, type, content, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, CAST(? AS FLOAT[]), ?)`,
		m.ID, m.SessionID, string(m.Type), m.Content, string(meta), vectorLiteral(m.Embedding), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("save memory %s: %w", m.ID, err)
	}
	return nil
}

// SearchMemories ranks memories by similarity. An empty sessionID searches
// every session.
func (r *Repository) SearchMemories(ctx context.Context, sessionID string, embedding []float32, limit int) ([]domain.MemoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, type, content, metadata, created_at,
		       list_cosine_similarity(embedding, CAST(? AS FLOAT[])) AS score
		FROM memories
		WHERE (? = '' OR session_id = ?) AND len(embedding) = ?
		ORDER BY score DESC NULLS LAST
		LIMIT ?`,
		vectorLiteral(embedding), sessionID, sessionID, len(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	return scanMemories(rows, true)
}

// ListSessionMemories returns a session's memories, newest first.
func (r *Repository) ListSessionMemories(ctx context.Context, sessionID string, limit int) ([]domain.MemoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, type, content, metadata, created_at
		FROM memories
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return scanMemories(rows, false)
}

// DeleteSessionMemories removes every memory of a session.
func (r *Repository) DeleteSessionMemories(ctx context.Context, sessionID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM memories WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session memories: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanMemories(rows *sql.Rows, withScore bool) ([]domain.MemoryEntry, error) {
	defer rows.Close()
	out := []domain.MemoryEntry{}
	for rows.Next() {
		var m domain.MemoryEntry
		var kind, meta string
		dest := []interface{}{&m.ID, &m.SessionID, &kind, &m.Content, &meta, &m.CreatedAt}
		var score sql.NullFloat64
		if withScore {
			dest = append(dest, &score)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		m.Type = domain.MemoryType(kind)
		m.Metadata = decodeMetadata(meta)
		m.Score = score.Float64
		out = append(out, m)
	}
	return out, rows.Err()
}
