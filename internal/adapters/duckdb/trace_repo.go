package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

const traceColumns = `id, name, status, tier, session_id, error, start_time, duration_ms, span_count`

// SaveTrace writes a trace and replaces its spans. Saving the same trace
// again updates it.
func (r *Repository) SaveTrace(ctx context.Context, trace *domain.Trace) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO traces (`+traceColumns+`, root_span_id, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status      = excluded.status,
			error       = excluded.error,
			end_time    = excluded.end_time,
			duration_ms = excluded.duration_ms,
			span_count  = excluded.span_count`,
		string(trace.ID), trace.Name, string(trace.Status), trace.Tier, trace.SessionID, trace.Error,
		trace.StartTime, trace.DurationMs, trace.SpanCount,
		string(trace.RootSpanID), trace.EndTime,
	)
	if err != nil {
		return fmt.Errorf("save trace: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM spans WHERE trace_id = ?`, string(trace.ID)); err != nil {
		return fmt.Errorf("clear spans: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO spans (id, trace_id, parent_id, name, kind, status,
		                   input, output, error, model, attributes, start_time, end_time, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare spans: %w", err)
	}
	defer stmt.Close()

	for _, s := range trace.Spans {
		attrs, err := json.Marshal(s.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes of span %s: %w", s.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			string(s.ID), string(trace.ID), string(s.ParentID), s.Name, string(s.Kind), string(s.Status),
			s.Input, s.Output, s.Error, s.Model, string(attrs), s.StartTime, s.EndTime, s.DurationMs,
		); err != nil {
			return fmt.Errorf("save span %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// ListTraces returns up to limit summaries, newest first.
func (r *Repository) ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+traceColumns+` FROM traces ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	out := []domain.TraceSummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetTrace loads a trace and its spans ordered by start time. Children are
// rebuilt from the parent ids.
func (r *Repository) GetTrace(ctx context.Context, id domain.TraceID) (*domain.Trace, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+traceColumns+`, root_span_id, end_time FROM traces WHERE id = ?`, string(id))

	var t domain.Trace
	var rootID string
	summary, err := scanSummary(row, &rootID, &t.EndTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTraceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get trace: %w", err)
	}
	t.TraceSummary = summary
	t.RootSpanID = domain.SpanID(rootID)

	t.Spans, err = r.spansOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner, extra ...any) (domain.TraceSummary, error) {
	var s domain.TraceSummary
	var status string
	dest := append([]any{&s.ID, &s.Name, &status, &s.Tier, &s.SessionID, &s.Error,
		&s.StartTime, &s.DurationMs, &s.SpanCount}, extra...)
	if err := row.Scan(dest...); err != nil {
		return s, err
	}
	s.Status = domain.SpanStatus(status)
	return s, nil
}

func (r *Repository) spansOf(ctx context.Context, traceID domain.TraceID) ([]domain.Span, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, parent_id, name, kind, status, input, output, error, model,
		       attributes, start_time, end_time, duration_ms
		FROM spans WHERE trace_id = ?
		ORDER BY start_time`, string(traceID))
	if err != nil {
		return nil, fmt.Errorf("load spans: %w", err)
	}
	defer rows.Close()

	var spans []domain.Span
	index := map[domain.SpanID]int{}
	for rows.Next() {
		s := domain.Span{TraceID: traceID}
		var kind, status, attrs string
		var end *time.Time
		if err := rows.Scan(&s.ID, &s.ParentID, &s.Name, &kind, &status, &s.Input, &s.Output,
			&s.Error, &s.Model, &attrs, &s.StartTime, &end, &s.DurationMs); err != nil {
			return nil, fmt.Errorf("scan span: %w", err)
		}
		s.Kind = domain.SpanKind(kind)
		s.Status = domain.SpanStatus(status)
		s.EndTime = end
		if attrs != "" && attrs != "null" {
			if err := json.Unmarshal([]byte(attrs), &s.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes of span %s: %w", s.ID, err)
			}
		}
		index[s.ID] = len(spans)
		spans = append(spans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, s := range spans {
		if i, ok := index[s.ParentID]; ok {
			spans[i].Children = append(spans[i].Children, s.ID)
		}
	}
	return spans, nil
}
