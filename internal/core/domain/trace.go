package domain

import "time"

// TraceID identifies the trace of one orchestrator query.
type TraceID string

// SpanID identifies a span within a trace.
type SpanID string

type SpanKind string

const (
	SpanKindQuery     SpanKind = "query"
	SpanKindAgent     SpanKind = "agent"
	SpanKindLLM       SpanKind = "llm"
	SpanKindTool      SpanKind = "tool"
	SpanKindRetrieval SpanKind = "retrieval"
	SpanKindSynthesis SpanKind = "synthesis"
)

type SpanStatus string

const (
	SpanStatusRunning   SpanStatus = "running"
	SpanStatusOK        SpanStatus = "ok"
	SpanStatusError     SpanStatus = "error"
	SpanStatusCancelled SpanStatus = "cancelled"
)

// Span is one step of a query: a tier dispatch, an agent run, a model call,
// a retrieval or a tool call. Input and Output are truncated.
type Span struct {
	ID         SpanID            `json:"id"`
	ParentID   SpanID            `json:"parent_id,omitempty"`
	TraceID    TraceID           `json:"trace_id"`
	Name       string            `json:"name"`
	Kind       SpanKind          `json:"kind"`
	Status     SpanStatus        `json:"status"`
	Input      string            `json:"input,omitempty"`
	Output     string            `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"`
	Model      string            `json:"model,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    *time.Time        `json:"end_time,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	Children   []SpanID          `json:"children,omitempty"`
}

// Finish closes the span at t.
func (s *Span) Finish(t time.Time, status SpanStatus, errMsg string) {
	s.Status = status
	s.EndTime = &t
	s.DurationMs = t.Sub(s.StartTime).Milliseconds()
	if errMsg != "" {
		s.Error = errMsg
	}
}

// Trace groups the spans of one query. Spans is filled only when a single
// trace is requested and is ordered by start time.
type Trace struct {
	TraceSummary
	RootSpanID SpanID     `json:"root_span_id"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Spans      []Span     `json:"spans,omitempty"`
}

// TraceSummary is the listing view of a trace.
type TraceSummary struct {
	ID         TraceID    `json:"id"`
	Name       string     `json:"name"`
	Status     SpanStatus `json:"status"`
	Tier       string     `json:"tier,omitempty"`
	SessionID  string     `json:"session_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartTime  time.Time  `json:"start_time"`
	DurationMs int64      `json:"duration_ms"`
	SpanCount  int        `json:"span_count"`
}
