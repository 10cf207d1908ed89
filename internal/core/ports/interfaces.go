package ports

import (
	"context"

	"github.com/manthysbr/aulerag/internal/core/domain"
)

// Planner is a bounded reasoning loop. Both the ReAct and chain-of-thought
// variants implement it.
type Planner interface {
	// Kind identifies the variant.
	Kind() domain.PlannerKind

	// Plan runs the loop until a terminal answer or budget exhaustion.
	// Budget exhaustion is reported through PlanResult.Status, not err.
	Plan(ctx context.Context, query, extraContext string, call domain.ModelCall) (*domain.PlanResult, error)
}

// Retriever gathers source-specific context for a query. It must not fail:
// internal errors are described in the returned string.
type Retriever interface {
	RetrieveContext(ctx context.Context, query string) string
}

// AgentRequest is the input of Agent.Process.
type AgentRequest struct {
	Query        string
	SessionID    string
	ExtraContext string
}

// Agent answers queries from one context source.
type Agent interface {
	Name() string
	Description() string
	Retriever
	// Process never returns an error; failures are reported in the response.
	Process(ctx context.Context, req AgentRequest) domain.AgentResponse
}

// RoutingStrategy picks which agents handle a query. Implementations must be
// deterministic for a given query.
type RoutingStrategy interface {
	Select(query string) []string
}

// MemoryStore is long-horizon conversation memory. A disabled store is a no-op.
type MemoryStore interface {
	Enabled() bool
	SearchMemories(ctx context.Context, query, sessionID string, limit int) ([]domain.MemoryEntry, error)
	StoreConversation(ctx context.Context, sessionID string, messages []domain.Message) error
	SessionMemories(ctx context.Context, sessionID string, limit int) ([]domain.MemoryEntry, error)
	DeleteSession(ctx context.Context, sessionID string) (int, error)
}

// DocumentStore abstracts the vector-searchable document collection.
type DocumentStore interface {
	AddDocuments(ctx context.Context, docs []domain.Document) error
	SearchDocuments(ctx context.Context, collection string, embedding []float32, limit int) ([]domain.SearchResult, error)
	CountDocuments(ctx context.Context, collection string) (int, error)
}

// MemoryRepository persists long-term memory entries.
type MemoryRepository interface {
	SaveMemory(ctx context.Context, m domain.MemoryEntry) error
	SearchMemories(ctx context.Context, sessionID string, embedding []float32, limit int) ([]domain.MemoryEntry, error)
	ListSessionMemories(ctx context.Context, sessionID string, limit int) ([]domain.MemoryEntry, error)
	DeleteSessionMemories(ctx context.Context, sessionID string) (int, error)
}

// SQLDatabase is a read-only SQL source (database_query tool, warehouse agent).
type SQLDatabase interface {
	Query(ctx context.Context, sql string) (*domain.QueryResult, error)
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) (*domain.TableSchema, error)
	Dialect() string
}

// ObjectStore lists objects in a cloud bucket.
type ObjectStore interface {
	ListObjects(ctx context.Context, prefix string, max int) ([]domain.ObjectInfo, error)
	Location() string
}

// TraceRepository persists completed traces. trace.Spans carries the spans.
type TraceRepository interface {
	SaveTrace(ctx context.Context, trace *domain.Trace) error
	ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error)
	GetTrace(ctx context.Context, id domain.TraceID) (*domain.Trace, error)
}

// SettingsRepository stores key/value settings.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}
