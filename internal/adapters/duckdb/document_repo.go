package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/aulerag/internal/core/domain"
)

// AddDocuments stores docs, replacing any with the same id. Missing ids and
// timestamps are filled in.
func (r *Repository) AddDocuments(ctx context.Context, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO documents (id, collection, content, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, CAST(? AS FLOAT[]), ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return fmt.Errorf("document %q has no embedding", d.ID)
		}
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata of %s: %w", d.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.Collection, d.Content, string(meta), vectorLiteral(d.Embedding), d.CreatedAt); err != nil {
			return fmt.Errorf("insert document %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// SearchDocuments ranks the collection by cosine similarity to embedding.
func (r *Repository) SearchDocuments(ctx context.Context, collection string, embedding []float32, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, collection, content, metadata, created_at,
		       list_cosine_similarity(embedding, CAST(? AS FLOAT[])) AS score
		FROM documents
		WHERE collection = ? AND len(embedding) = ?
		ORDER BY score DESC NULLS LAST
		LIMIT ?`,
		vectorLiteral(embedding), collection, len(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	out := []domain.SearchResult{}
	for rows.Next() {
		var res domain.SearchResult
		var meta string
		var score sql.NullFloat64
		if err := rows.Scan(&res.ID, &res.Collection, &res.Content, &meta, &res.CreatedAt, &score); err != nil {
			return nil, err
		}
		res.Metadata = decodeMetadata(meta)
		res.Score = score.Float64
		out = append(out, res)
	}
	return out, rows.Err()
}

// CountDocuments returns the size of collection.
func (r *Repository) CountDocuments(ctx context.Context, collection string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM documents WHERE collection = ?`, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func decodeMetadata(raw string) map[string]interface{} {
	if raw == "" || raw == "null" || raw == "{}" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
