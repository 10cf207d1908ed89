package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/aulerag/internal/core/ports"
)

// Repository persists settings, traces, documents and long-term memories in
// one DuckDB database.
type Repository struct {
	db *sql.DB
}

var (
	_ ports.SettingsRepository = (*Repository)(nil)
	_ ports.TraceRepository    = (*Repository)(nil)
	_ ports.DocumentStore      = (*Repository)(nil)
	_ ports.MemoryRepository   = (*Repository)(nil)
)

// NewRepository opens (or creates) the database at path and applies the
// schema. An empty path or ":memory:" opens an in-memory database.
func NewRepository(path string) (*Repository, error) {
	if path == ":memory:" {
		path = ""
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	r := &Repository{db: db}
	if err := r.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

// DB exposes the connection pool, e.g. for the database_query tool.
func (r *Repository) DB() *sql.DB { return r.db }

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		key        VARCHAR PRIMARY KEY,
		value      VARCHAR NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS traces (
		id           VARCHAR PRIMARY KEY,
		name         VARCHAR NOT NULL,
		status       VARCHAR NOT NULL,
		session_id   VARCHAR NOT NULL DEFAULT '',
		tier         VARCHAR NOT NULL DEFAULT '',
		error        VARCHAR NOT NULL DEFAULT '',
		root_span_id VARCHAR NOT NULL,
		start_time   TIMESTAMP NOT NULL,
		end_time     TIMESTAMP,
		duration_ms  BIGINT NOT NULL DEFAULT 0,
		span_count   INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS spans (
		id          VARCHAR PRIMARY KEY,
		trace_id    VARCHAR NOT NULL,
		parent_id   VARCHAR NOT NULL DEFAULT '',
		name        VARCHAR NOT NULL,
		kind        VARCHAR NOT NULL,
		status      VARCHAR NOT NULL,
		input       VARCHAR NOT NULL DEFAULT '',
		output      VARCHAR NOT NULL DEFAULT '',
		error       VARCHAR NOT NULL DEFAULT '',
		model       VARCHAR NOT NULL DEFAULT '',
		attributes  VARCHAR NOT NULL DEFAULT '{}',
		start_time  TIMESTAMP NOT NULL,
		end_time    TIMESTAMP,
		duration_ms BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spans_trace ON spans(trace_id)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id         VARCHAR PRIMARY KEY,
		collection VARCHAR NOT NULL,
		content    VARCHAR NOT NULL,
		metadata   VARCHAR NOT NULL DEFAULT '{}',
		embedding  FLOAT[] NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection)`,
	`CREATE TABLE IF NOT EXISTS memories (
		id         VARCHAR PRIMARY KEY,
		session_id VARCHAR NOT NULL,
		type       VARCHAR NOT NULL,
		content    VARCHAR NOT NULL,
		metadata   VARCHAR NOT NULL DEFAULT '{}',
		embedding  FLOAT[] NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id)`,
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// vectorLiteral renders v as a DuckDB list literal, bound as VARCHAR and cast
// with CAST(? AS FLOAT[]).
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.Grow(len(v) * 10)
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
