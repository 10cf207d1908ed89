package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
)

const (
	maxTraces      = 500
	maxInputOutput = 2000
	persistTimeout = 10 * time.Second
)

// traceEntry is a live trace and its spans in start order.
type traceEntry struct {
	trace domain.Trace
	spans []*domain.Span
}

func (e *traceEntry) snapshot() *domain.Trace {
	out := e.trace
	out.Spans = make([]domain.Span, 0, len(e.spans))
	for _, s := range e.spans {
		cp := *s
		cp.Children = append([]domain.SpanID(nil), s.Children...)
		out.Spans = append(out.Spans, cp)
	}
	return &out
}

// TraceCollector records one trace per query with a span for every agent
// run, model call, retrieval and tool call. The most recent traces are kept
// in memory; finished traces are also written to repo when one is set.
// A nil *TraceCollector is valid and records nothing.
type TraceCollector struct {
	logger   *slog.Logger
	eventBus *EventBus
	repo     ports.TraceRepository

	mu     sync.Mutex
	traces *lru.Cache[domain.TraceID, *traceEntry]
	spans  map[domain.SpanID]*domain.Span
}

// NewTraceCollector creates a collector. eventBus and repo may be nil.
func NewTraceCollector(logger *slog.Logger, eventBus *EventBus, repo ports.TraceRepository) *TraceCollector {
	tc := &TraceCollector{
		logger:   logger,
		eventBus: eventBus,
		repo:     repo,
		spans:    make(map[domain.SpanID]*domain.Span),
	}
	// Eviction runs inside Add, which is always called with tc.mu held.
	tc.traces, _ = lru.NewWithEvict(maxTraces, func(_ domain.TraceID, e *traceEntry) {
		for _, s := range e.spans {
			delete(tc.spans, s.ID)
		}
	})
	return tc
}

type traceCtxKey struct{}

type traceRef struct {
	trace domain.TraceID
	span  domain.SpanID
}

// ContextWithTrace makes spanID the parent of spans started from ctx.
func ContextWithTrace(ctx context.Context, traceID domain.TraceID, spanID domain.SpanID) context.Context {
	return context.WithValue(ctx, traceCtxKey{}, traceRef{trace: traceID, span: spanID})
}

// TraceFromContext returns the trace and current span carried by ctx.
func TraceFromContext(ctx context.Context) (domain.TraceID, domain.SpanID, bool) {
	ref, ok := ctx.Value(traceCtxKey{}).(traceRef)
	return ref.trace, ref.span, ok
}

// StartTrace opens a trace with its root query span. attrs "tier" and
// "session_id" are copied onto the trace.
func (tc *TraceCollector) StartTrace(ctx context.Context, name string, attrs map[string]string) (context.Context, domain.TraceID, domain.SpanID) {
	if tc == nil {
		return ctx, "", ""
	}
	now := time.Now()
	traceID := domain.TraceID(uuid.NewString())
	root := &domain.Span{
		ID:         domain.SpanID(uuid.NewString()),
		TraceID:    traceID,
		Name:       name,
		Kind:       domain.SpanKindQuery,
		Status:     domain.SpanStatusRunning,
		Attributes: attrs,
		StartTime:  now,
	}
	entry := &traceEntry{
		trace: domain.Trace{
			TraceSummary: domain.TraceSummary{
				ID:        traceID,
				Name:      name,
				Status:    domain.SpanStatusRunning,
				Tier:      attrs["tier"],
				SessionID: attrs["session_id"],
				StartTime: now,
				SpanCount: 1,
			},
			RootSpanID: root.ID,
		},
		spans: []*domain.Span{root},
	}

	tc.mu.Lock()
	tc.traces.Add(traceID, entry)
	tc.spans[root.ID] = root
	tc.mu.Unlock()

	tc.publishEvent(traceID, EventTypeTraceStart, map[string]interface{}{
		"trace_id": traceID,
		"name":     name,
		"tier":     entry.trace.Tier,
	})
	tc.logger.Debug("trace started", "trace_id", traceID, "name", name)
	return ContextWithTrace(ctx, traceID, root.ID), traceID, root.ID
}

// EndTrace closes the trace and its root span, then persists a snapshot in
// the background.
func (tc *TraceCollector) EndTrace(traceID domain.TraceID, status domain.SpanStatus, errMsg string) {
	if tc == nil || traceID == "" {
		return
	}
	now := time.Now()

	tc.mu.Lock()
	entry, ok := tc.traces.Peek(traceID)
	if !ok {
		tc.mu.Unlock()
		return
	}
	entry.trace.Status = status
	entry.trace.Error = errMsg
	entry.trace.EndTime = &now
	entry.trace.DurationMs = now.Sub(entry.trace.StartTime).Milliseconds()
	if root, ok := tc.spans[entry.trace.RootSpanID]; ok {
		root.Finish(now, status, errMsg)
	}
	var snap *domain.Trace
	if tc.repo != nil {
		snap = entry.snapshot()
	}
	durationMs := entry.trace.DurationMs
	tc.mu.Unlock()

	tc.publishEvent(traceID, EventTypeTraceEnd, map[string]interface{}{
		"trace_id":    traceID,
		"status":      status,
		"duration_ms": durationMs,
	})

	if snap != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := tc.repo.SaveTrace(ctx, snap); err != nil {
				tc.logger.Warn("failed to persist trace", "trace_id", traceID, "error", err)
			}
		}()
	}
}

// StartSpan opens a child of the span carried by ctx. Without a trace in ctx
// it returns an empty id and every later call on it is a no-op.
func (tc *TraceCollector) StartSpan(ctx context.Context, name string, kind domain.SpanKind, attrs map[string]string) (context.Context, domain.SpanID) {
	if tc == nil {
		return ctx, ""
	}
	traceID, parentID, ok := TraceFromContext(ctx)
	if !ok {
		return ctx, ""
	}
	span := &domain.Span{
		ID:         domain.SpanID(uuid.NewString()),
		ParentID:   parentID,
		TraceID:    traceID,
		Name:       name,
		Kind:       kind,
		Status:     domain.SpanStatusRunning,
		Attributes: attrs,
		StartTime:  time.Now(),
	}

	tc.mu.Lock()
	entry, ok := tc.traces.Peek(traceID)
	if !ok {
		tc.mu.Unlock()
		return ctx, ""
	}
	entry.spans = append(entry.spans, span)
	entry.trace.SpanCount++
	tc.spans[span.ID] = span
	if parent, ok := tc.spans[parentID]; ok {
		parent.Children = append(parent.Children, span.ID)
	}
	tc.mu.Unlock()

	tc.publishEvent(traceID, EventTypeSpanStart, map[string]interface{}{
		"span_id":   span.ID,
		"parent_id": parentID,
		"name":      name,
		"kind":      kind,
	})
	return ContextWithTrace(ctx, traceID, span.ID), span.ID
}

// EndSpan closes a span with its output.
func (tc *TraceCollector) EndSpan(spanID domain.SpanID, status domain.SpanStatus, output string, errMsg string) {
	if tc == nil || spanID == "" {
		return
	}
	tc.mu.Lock()
	span, ok := tc.spans[spanID]
	if !ok {
		tc.mu.Unlock()
		return
	}
	span.Output = truncate(output, maxInputOutput)
	span.Finish(time.Now(), status, errMsg)
	traceID, name, kind, duration := span.TraceID, span.Name, span.Kind, span.DurationMs
	tc.mu.Unlock()

	tc.publishEvent(traceID, EventTypeSpanEnd, map[string]interface{}{
		"span_id":     spanID,
		"name":        name,
		"kind":        kind,
		"status":      status,
		"duration_ms": duration,
	})
}

// SpanDone ends a span as ok or error depending on err.
func (tc *TraceCollector) SpanDone(spanID domain.SpanID, output string, err error) {
	if err != nil {
		tc.EndSpan(spanID, domain.SpanStatusError, output, err.Error())
		return
	}
	tc.EndSpan(spanID, domain.SpanStatusOK, output, "")
}

func (tc *TraceCollector) SetSpanInput(spanID domain.SpanID, input string) {
	tc.updateSpan(spanID, func(s *domain.Span) { s.Input = truncate(input, maxInputOutput) })
}

func (tc *TraceCollector) SetSpanModel(spanID domain.SpanID, model string) {
	tc.updateSpan(spanID, func(s *domain.Span) { s.Model = model })
}

func (tc *TraceCollector) updateSpan(spanID domain.SpanID, fn func(*domain.Span)) {
	if tc == nil || spanID == "" {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if span, ok := tc.spans[spanID]; ok {
		fn(span)
	}
}

// ListTraces returns up to limit summaries, newest first. limit <= 0 means
// all traces in memory. When nothing has been recorded since start the
// persisted traces are listed instead.
func (tc *TraceCollector) ListTraces(limit int) []domain.TraceSummary {
	if tc == nil {
		return nil
	}
	tc.mu.Lock()
	keys := tc.traces.Keys()
	if limit <= 0 || limit > len(keys) {
		limit = len(keys)
	}
	out := make([]domain.TraceSummary, 0, limit)
	for i := len(keys) - 1; i >= 0 && len(out) < limit; i-- {
		if e, ok := tc.traces.Peek(keys[i]); ok {
			out = append(out, e.trace.TraceSummary)
		}
	}
	tc.mu.Unlock()

	if len(keys) == 0 && tc.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		stored, err := tc.repo.ListTraces(ctx, limit)
		if err != nil {
			tc.logger.Warn("failed to list persisted traces", "error", err)
			return out
		}
		return stored
	}
	return out
}

// GetTrace returns a trace with its spans, falling back to the repository
// for traces no longer in memory.
func (tc *TraceCollector) GetTrace(ctx context.Context, traceID domain.TraceID) (*domain.Trace, error) {
	if tc == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTraceNotFound, traceID)
	}
	tc.mu.Lock()
	entry, ok := tc.traces.Peek(traceID)
	var snap *domain.Trace
	if ok {
		snap = entry.snapshot()
	}
	tc.mu.Unlock()
	if snap != nil {
		return snap, nil
	}

	if tc.repo != nil {
		if stored, err := tc.repo.GetTrace(ctx, traceID); err == nil {
			return stored, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrTraceNotFound, traceID)
}

func (tc *TraceCollector) publishEvent(traceID domain.TraceID, eventType EventType, data map[string]interface{}) {
	if tc.eventBus == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		tc.logger.Warn("failed to encode trace event", "type", eventType, "error", err)
		return
	}
	tc.eventBus.Publish(Event{
		Topic:     "trace:" + string(traceID),
		Type:      eventType,
		Data:      string(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}

func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return truncateRunes(s, maxLen) + "...[truncated]"
}
