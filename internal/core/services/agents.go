package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
)

// Agent names used by the router and the aggregator.
const (
	LocalAgentName     = "local"
	SearchAgentName    = "search"
	CloudAgentName     = "cloud"
	WarehouseAgentName = "warehouse"
)

const (
	localDescription = "You are a specialized agent for querying local documents and data. " +
		"You have access to a vector store of local documents and can retrieve " +
		"relevant information to answer questions."
	searchDescription = "You are a specialized agent for searching the web and finding " +
		"online information. You can search the internet to answer questions " +
		"that require current or external information."
	cloudDescription = "You are a specialized agent for accessing cloud storage and remote data. " +
		"You can retrieve documents and information from cloud storage services " +
		"like AWS S3 or Google Cloud Storage."
	warehouseDescription = "You are a specialized agent for querying a SQL data warehouse. " +
		"You can convert natural language queries to SQL and execute them " +
		"on the warehouse databases."
)

// AgentDeps are the collaborators shared by every specialized agent.
type AgentDeps struct {
	LLM      domain.LLMProvider
	LongTerm ports.MemoryStore
	Tracer   *TraceCollector
	Memory   domain.MemoryConfig
	// MaxIterations bounds both planner kinds. Zero uses the planner default.
	MaxIterations int
}

func (d AgentDeps) shortTerm() *SessionBuffers {
	return NewSessionBuffers(0, d.Memory.ShortTermSize, d.Memory.MaxContextTokens)
}

func (d AgentDeps) config(name, description string, r ports.Retriever, p ports.Planner) AgentConfig {
	return AgentConfig{
		Name:        name,
		Description: description,
		Retriever:   r,
		LLM:         d.LLM,
		Planner:     p,
		ShortTerm:   d.shortTerm(),
		LongTerm:    d.LongTerm,
		Tracer:      d.Tracer,
	}
}

// --- local documents ---

// LocalRetriever finds the documents most similar to the query.
type LocalRetriever struct {
	logger     *slog.Logger
	docs       ports.DocumentStore
	embedder   domain.EmbeddingProvider
	collection string
	limit      int
	tracer     *TraceCollector
}

// NewLocalRetriever creates a retriever over collection returning up to 5 chunks.
func NewLocalRetriever(logger *slog.Logger, docs ports.DocumentStore, embedder domain.EmbeddingProvider, collection string, tracer *TraceCollector) *LocalRetriever {
	return &LocalRetriever{logger: logger, docs: docs, embedder: embedder, collection: collection, limit: 5, tracer: tracer}
}

// Search embeds query and returns the nearest documents.
func (r *LocalRetriever) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if r.docs == nil || r.embedder == nil {
		return nil, fmt.Errorf("document store: %w", domain.ErrNotConfigured)
	}
	ctx, spanID := r.tracer.StartSpan(ctx, "retrieve:documents", domain.SpanKindRetrieval, map[string]string{"collection": r.collection})
	r.tracer.SetSpanInput(spanID, query)

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		r.tracer.SpanDone(spanID, "", err)
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := r.docs.SearchDocuments(ctx, r.collection, vecs[0], limit)
	r.tracer.SpanDone(spanID, fmt.Sprintf("%d documents", len(results)), err)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	return results, nil
}

func (r *LocalRetriever) RetrieveContext(ctx context.Context, query string) string {
	results, err := r.Search(ctx, query, r.limit)
	if err != nil {
		r.logger.Error("error retrieving local context", "error", err)
		return fmt.Sprintf("Error retrieving local documents: %v", err)
	}
	if len(results) == 0 {
		return "No relevant documents found in local data."
	}
	parts := []string{"Relevant documents from local data:"}
	for i, res := range results {
		parts = append(parts,
			fmt.Sprintf("\n[%d] Source: %s", i+1, res.Source()),
			fmt.Sprintf("Content: %s...", truncateRunes(res.Content, 500)))
	}
	return strings.Join(parts, "\n")
}

// NewLocalAgent builds the local documents agent. With planning it runs a
// ReAct planner over tools (the calculator is always present).
func NewLocalAgent(logger *slog.Logger, deps AgentDeps, retriever *LocalRetriever, planning bool, tools ...*domain.Tool) (*Agent, error) {
	var planner ports.Planner
	if planning {
		p, err := newToolPlanner(logger, deps, append([]*domain.Tool{NewCalculatorTool()}, tools...))
		if err != nil {
			return nil, err
		}
		planner = p
	}
	return NewAgent(logger, deps.config(LocalAgentName, localDescription, retriever, planner)), nil
}

// --- web search ---

// WebRetriever summarizes the top web results.
type WebRetriever struct {
	logger   *slog.Logger
	searcher *WebSearcher
}

func NewWebRetriever(logger *slog.Logger, searcher *WebSearcher) *WebRetriever {
	return &WebRetriever{logger: logger, searcher: searcher}
}

func (r *WebRetriever) RetrieveContext(ctx context.Context, query string) string {
	results, err := r.searcher.Search(ctx, query, 5)
	if err != nil {
		if errors.Is(err, ErrNoSearchKey) {
			return "No relevant information found from web search."
		}
		r.logger.Error("error retrieving web context", "error", err)
		return fmt.Sprintf("Error performing web search: %v", err)
	}
	if len(results) == 0 {
		return "No relevant information found from web search."
	}
	parts := []string{"Web search results:"}
	for i, res := range results {
		title := res.Title
		if title == "" {
			title = "No title"
		}
		parts = append(parts,
			fmt.Sprintf("\n[%d] %s", i+1, title),
			"URL: "+res.URL,
			fmt.Sprintf("Content: %s...", truncateRunes(res.Content, 300)))
	}
	return strings.Join(parts, "\n")
}

// NewSearchAgent builds the web search agent with a ReAct planner over
// web_search and any extra tools.
func NewSearchAgent(logger *slog.Logger, deps AgentDeps, searcher *WebSearcher, tools ...*domain.Tool) (*Agent, error) {
	planner, err := newToolPlanner(logger, deps, append([]*domain.Tool{NewWebSearchTool(searcher)}, tools...))
	if err != nil {
		return nil, err
	}
	return NewAgent(logger, deps.config(SearchAgentName, searchDescription, NewWebRetriever(logger, searcher), planner)), nil
}

// --- cloud storage ---

// CloudRetriever lists the objects of the configured bucket.
type CloudRetriever struct {
	logger *slog.Logger
	store  ports.ObjectStore
}

// NewCloudRetriever accepts a nil store, meaning cloud storage is not configured.
func NewCloudRetriever(logger *slog.Logger, store ports.ObjectStore) *CloudRetriever {
	if store == nil {
		logger.Warn("no cloud storage configured")
	}
	return &CloudRetriever{logger: logger, store: store}
}

func (r *CloudRetriever) RetrieveContext(ctx context.Context, _ string) string {
	if r.store == nil {
		return "Cloud storage is not configured."
	}
	objects, err := r.store.ListObjects(ctx, "", 10)
	if err != nil {
		r.logger.Error("error listing cloud objects", "location", r.store.Location(), "error", err)
		return fmt.Sprintf("Error retrieving from cloud storage: %v", err)
	}
	if len(objects) == 0 {
		return fmt.Sprintf("No documents found in %s.", r.store.Location())
	}
	parts := []string{fmt.Sprintf("Documents in %s:", r.store.Location())}
	for i, obj := range objects {
		if i == 5 {
			break
		}
		parts = append(parts, fmt.Sprintf("- %s (%d bytes)", obj.Key, obj.Size))
	}
	return strings.Join(parts, "\n")
}

// NewCloudAgent builds the cloud agent. With planning it reasons with
// chain-of-thought.
func NewCloudAgent(logger *slog.Logger, deps AgentDeps, store ports.ObjectStore, planning bool) *Agent {
	var planner ports.Planner
	if planning {
		planner = NewCoTPlanner(logger, deps.Tracer, deps.MaxIterations, true)
	}
	return NewAgent(logger, deps.config(CloudAgentName, cloudDescription, NewCloudRetriever(logger, store), planner))
}

// --- SQL warehouse ---

var dataIntentWords = []string{"show", "list", "get", "find", "select"}

// WarehouseRetriever describes the warehouse schema and, for data-seeking
// queries, runs a generated query and appends a sample of its rows.
type WarehouseRetriever struct {
	logger *slog.Logger
	db     ports.SQLDatabase
	llm    domain.LLMProvider

	mu     sync.Mutex
	tables []string
}

func NewWarehouseRetriever(logger *slog.Logger, db ports.SQLDatabase, llm domain.LLMProvider) *WarehouseRetriever {
	return &WarehouseRetriever{logger: logger, db: db, llm: llm}
}

// Tables returns the table list, cached after the first successful call.
func (r *WarehouseRetriever) Tables(ctx context.Context) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tables == nil {
		tables, err := r.db.ListTables(ctx)
		if err != nil {
			r.logger.Error("error listing warehouse tables", "error", err)
			return nil
		}
		r.tables = tables
	}
	return r.tables
}

// SchemaContext renders up to 10 tables with their first 5 columns.
func (r *WarehouseRetriever) SchemaContext(ctx context.Context) string {
	tables := r.Tables(ctx)
	if len(tables) == 0 {
		return "No tables available in the warehouse."
	}
	var sb strings.Builder
	sb.WriteString("Available warehouse tables:\n\n")
	for i, table := range tables {
		if i == 10 {
			break
		}
		fmt.Fprintf(&sb, "Table: %s\n", table)
		schema, err := r.db.DescribeTable(ctx, table)
		switch {
		case err != nil:
			r.logger.Warn("error getting table schema", "table", table, "error", err)
			sb.WriteString("Columns: (error retrieving schema)\n\n")
		case len(schema.Columns) == 0:
			sb.WriteString("Columns: (schema not available)\n\n")
		default:
			cols := schema.Columns
			if len(cols) > 5 {
				cols = cols[:5]
			}
			names := make([]string, len(cols))
			for j, c := range cols {
				names[j] = fmt.Sprintf("%s (%s)", c.Name, c.Type)
			}
			fmt.Fprintf(&sb, "Columns: %s\n\n", strings.Join(names, ", "))
		}
	}
	return sb.String()
}

// GenerateSQL turns a natural-language question into a SQL query.
func (r *WarehouseRetriever) GenerateSQL(ctx context.Context, query string) (string, error) {
	prompt := fmt.Sprintf(`You are a %[1]s SQL expert. Convert this natural language query to SQL.

Database context:
%[2]s

User query: %[3]s

Requirements:
1. Generate ONLY valid %[1]s SQL
2. Use proper table and column names from the context
3. Include appropriate filters and aggregations
4. Limit results to 100 rows for safety
5. Return ONLY the SQL query, no explanation

SQL Query:`, r.db.Dialect(), r.SchemaContext(ctx), query)

	out, err := r.llm.Chat(ctx, []domain.Message{
		domain.NewMessage(domain.RoleSystem, fmt.Sprintf("You are a %s SQL expert. Generate only valid SQL queries.", r.db.Dialect())),
		domain.NewMessage(domain.RoleUser, prompt),
	})
	if err != nil {
		return "", ClassifyModelError(r.llm.Name(), err)
	}
	return cleanSQL(out), nil
}

func (r *WarehouseRetriever) RetrieveContext(ctx context.Context, query string) string {
	schemaCtx := r.SchemaContext(ctx)
	if !hasDataIntent(query) {
		return schemaCtx
	}
	sql, err := r.GenerateSQL(ctx, query)
	if err != nil {
		r.logger.Warn("could not generate query for context", "error", err)
		return schemaCtx
	}
	res, err := RunReadOnlyQuery(ctx, r.db, sql, defaultQueryLimit)
	if err != nil {
		r.logger.Warn("could not execute query for context", "sql", sql, "error", err)
		return schemaCtx
	}
	return schemaCtx + "\n\nQuery Results:\n" + rowsJSON(res.Rows, 5)
}

// WarehouseAgent answers by generating and running SQL, then letting the base
// agent explain the results.
type WarehouseAgent struct {
	*Agent
	retriever *WarehouseRetriever
}

// NewWarehouseAgent builds the warehouse agent. With planning it reasons with
// chain-of-thought.
func NewWarehouseAgent(logger *slog.Logger, deps AgentDeps, db ports.SQLDatabase, planning bool) *WarehouseAgent {
	retriever := NewWarehouseRetriever(logger, db, deps.LLM)
	var planner ports.Planner
	if planning {
		planner = NewCoTPlanner(logger, deps.Tracer, deps.MaxIterations, true)
	}
	return &WarehouseAgent{
		Agent:     NewAgent(logger, deps.config(WarehouseAgentName, warehouseDescription, retriever, planner)),
		retriever: retriever,
	}
}

// Process generates SQL for the query, executes it and passes the results to
// the base agent as context. SQL failures are reported with the query.
func (w *WarehouseAgent) Process(ctx context.Context, req ports.AgentRequest) (resp domain.AgentResponse) {
	ctx, spanID := w.tracer.StartSpan(ctx, "agent:"+w.name, domain.SpanKindAgent, map[string]string{"agent": w.name})
	w.tracer.SetSpanInput(spanID, req.Query)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("agent panicked", "panic", r)
			resp = domain.AgentResponse{Success: false, Error: fmt.Sprintf("panic: %v", r), Agent: w.name}
		}
		if resp.Success {
			w.tracer.SpanDone(spanID, resp.Answer, nil)
		} else {
			w.tracer.SpanDone(spanID, "", fmt.Errorf("%s", resp.Error))
		}
	}()

	sql, err := w.retriever.GenerateSQL(ctx, req.Query)
	if err != nil {
		w.logger.Error("error generating SQL", "error", err)
		return w.failure(err)
	}
	w.logger.Info("generated SQL", "sql", sql)

	res, err := RunReadOnlyQuery(ctx, w.retriever.db, sql, defaultQueryLimit)
	if err != nil {
		return domain.AgentResponse{Success: false, Error: err.Error(), Agent: w.name, SQL: sql}
	}

	sqlCtx := fmt.Sprintf("SQL Query: %s\n\nResults (%d rows):\n%s", sql, len(res.Rows), rowsJSON(res.Rows, 10))
	resp = w.process(ctx, req.Query, req.SessionID, joinNonEmpty("\n\n", req.ExtraContext, sqlCtx))
	resp.SQL = sql
	return resp
}

// Status adds the SQL tool to the base status.
func (w *WarehouseAgent) Status() AgentStatus {
	st := w.Agent.Status()
	st.Tools = append(st.Tools, "database_query")
	return st
}

// --- helpers ---

func newToolPlanner(logger *slog.Logger, deps AgentDeps, tools []*domain.Tool) (*ReActPlanner, error) {
	broker := NewToolBroker(logger)
	for _, t := range tools {
		if err := broker.Register(t); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", t.Name, err)
		}
	}
	return NewReActPlanner(logger, broker, deps.Tracer, deps.MaxIterations), nil
}

func hasDataIntent(query string) bool {
	q := strings.ToLower(query)
	for _, w := range dataIntentWords {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

func cleanSQL(s string) string {
	s = strings.ReplaceAll(s, "```sql", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func rowsJSON(rows []map[string]interface{}, n int) string {
	if len(rows) > n {
		rows = rows[:n]
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", rows)
	}
	return string(data)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
