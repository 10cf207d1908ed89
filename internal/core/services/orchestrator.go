package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
)

// Version is reported by SystemInfo and the CLI.
const Version = "0.1.0"

const (
	basicSystemPrompt = "You are a helpful assistant that answers questions based on the provided context."
	basicResultLimit  = 5
	missingKeyMessage = "LLM API key not configured. Please set OPENAI_API_KEY in your .env file."
)

// QueryRequest is the input of Orchestrator.Query.
type QueryRequest struct {
	Query     string `json:"query"`
	Tier      string `json:"tier"`
	SessionID string `json:"session_id,omitempty"`
}

// OrchestratorDeps wires the orchestrator. Only Config is required; every
// missing collaborator degrades the tier that needs it.
type OrchestratorDeps struct {
	Config    *domain.AppConfig
	LLM       domain.LLMProvider
	Embedder  domain.EmbeddingProvider
	Documents ports.DocumentStore
	LongTerm  ports.MemoryStore
	Database  ports.SQLDatabase
	Warehouse ports.SQLDatabase
	Objects   ports.ObjectStore
	Searcher  *WebSearcher
	Tracer    *TraceCollector
	// ExtraTools are added to the agent tier, e.g. loaded plugins.
	ExtraTools    []*domain.Tool
	MaxIterations int
}

// Orchestrator maps a tier onto a pipeline. Agents are built on first use
// and reused.
type Orchestrator struct {
	logger *slog.Logger
	deps   OrchestratorDeps
	local  *LocalRetriever

	agentOnce sync.Once
	aggOnce   sync.Once

	mu         sync.RWMutex
	agentTier  *Agent
	agentErr   error
	aggregator *Aggregator
}

// NewOrchestrator creates an orchestrator. A nil config uses the defaults.
func NewOrchestrator(logger *slog.Logger, deps OrchestratorDeps) *Orchestrator {
	if deps.Config == nil {
		deps.Config = domain.DefaultConfig()
	}
	return &Orchestrator{
		logger: logger,
		deps:   deps,
		local:  NewLocalRetriever(logger, deps.Documents, deps.Embedder, deps.Config.Data.Collection, deps.Tracer),
	}
}

// Query runs req through its tier. Failures are reported in the envelope.
func (o *Orchestrator) Query(ctx context.Context, req QueryRequest) domain.QueryResponse {
	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		o.logger.Error("invalid tier", "tier", req.Tier)
		return domain.QueryResponse{Success: false, Error: "Invalid tier: " + req.Tier, Tier: tier}
	}
	if msg := o.credentialProblem(); msg != "" {
		return domain.QueryResponse{Success: false, Error: msg, Tier: tier}
	}

	ctx, traceID, _ := o.deps.Tracer.StartTrace(ctx, fmt.Sprintf("%s: %s", tier, truncate(req.Query, 60)), map[string]string{
		"tier":       string(tier),
		"session_id": req.SessionID,
	})

	var resp domain.QueryResponse
	switch tier {
	case domain.TierAgent:
		resp = o.queryAgent(ctx, req)
	case domain.TierAdvanced:
		resp = o.queryAdvanced(ctx, req)
	default:
		resp = o.queryBasic(ctx, req)
	}
	resp.Tier = tier

	if resp.Success {
		o.deps.Tracer.EndTrace(traceID, domain.SpanStatusOK, "")
	} else {
		o.logger.Error("query failed", "tier", tier, "error", resp.Error)
		o.deps.Tracer.EndTrace(traceID, domain.SpanStatusError, resp.Error)
	}
	return resp
}

func (o *Orchestrator) credentialProblem() string {
	if o.deps.LLM == nil {
		return missingKeyMessage
	}
	llm := o.deps.Config.LLM
	if llm.APIKey == "" && !llm.IsLocal() {
		return missingKeyMessage
	}
	return ""
}

func (o *Orchestrator) queryBasic(ctx context.Context, req QueryRequest) domain.QueryResponse {
	llm := o.deps.LLM
	results, err := o.local.Search(ctx, req.Query, basicResultLimit)
	if err != nil && !errors.Is(err, domain.ErrNotConfigured) {
		return domain.QueryResponse{Success: false, Error: QueryErrorMessage(llm.Name(), err)}
	}

	docCtx := "No relevant documents found in the knowledge base."
	var sources []domain.Source
	if len(results) > 0 {
		parts := []string{"Retrieved documents:"}
		for i, res := range results {
			parts = append(parts,
				fmt.Sprintf("\n[%d] Source: %s", i+1, res.Source()),
				fmt.Sprintf("Content: %s...", truncateRunes(res.Content, 500)))
			sources = append(sources, domain.Source{ID: res.ID, Metadata: res.Metadata})
		}
		docCtx = strings.Join(parts, "\n")
	}

	ctx, spanID := o.deps.Tracer.StartSpan(ctx, "llm:basic", domain.SpanKindLLM, nil)
	prompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", docCtx, req.Query)
	o.deps.Tracer.SetSpanInput(spanID, prompt)
	o.deps.Tracer.SetSpanModel(spanID, llm.Model())
	answer, err := llm.Chat(ctx, []domain.Message{
		domain.NewMessage(domain.RoleSystem, basicSystemPrompt),
		domain.NewMessage(domain.RoleUser, prompt),
	})
	o.deps.Tracer.SpanDone(spanID, answer, err)
	if err != nil {
		return domain.QueryResponse{Success: false, Error: QueryErrorMessage(llm.Name(), err)}
	}
	return domain.QueryResponse{
		Success: true,
		Answer:  answer,
		Sources: sources,
		Model:   llm.Model(),
	}
}

func (o *Orchestrator) queryAgent(ctx context.Context, req QueryRequest) domain.QueryResponse {
	agent, err := o.toolAgent()
	if err != nil {
		return domain.QueryResponse{Success: false, Error: "Error processing query: " + err.Error()}
	}
	return envelope(agent.Process(ctx, ports.AgentRequest{Query: req.Query, SessionID: req.SessionID}))
}

func (o *Orchestrator) queryAdvanced(ctx context.Context, req QueryRequest) domain.QueryResponse {
	res := o.Aggregator().Process(ctx, req.Query, req.SessionID)
	return envelope(res.AgentResponse)
}

func envelope(r domain.AgentResponse) domain.QueryResponse {
	return domain.QueryResponse{
		Success: r.Success,
		Answer:  r.Answer,
		Error:   r.Error,
		Sources: r.Sources,
		Model:   r.Model,
		Agent:   r.Agent,
	}
}

func (o *Orchestrator) agentDeps() AgentDeps {
	return AgentDeps{
		LLM:           o.deps.LLM,
		LongTerm:      o.deps.LongTerm,
		Tracer:        o.deps.Tracer,
		Memory:        o.deps.Config.Memory,
		MaxIterations: o.deps.MaxIterations,
	}
}

// TierTools returns the tools attached to the agent tier besides the
// calculator.
func (o *Orchestrator) TierTools() []*domain.Tool {
	var tools []*domain.Tool
	if o.deps.Searcher != nil && o.deps.Searcher.Configured() {
		tools = append(tools, NewWebSearchTool(o.deps.Searcher))
	}
	if o.deps.Database != nil && o.deps.Config.Data.DatabaseURL != "" {
		tools = append(tools,
			NewDatabaseQueryTool(o.deps.Database),
			NewTableSchemaTool(o.deps.Database),
			NewListTablesTool(o.deps.Database),
		)
	}
	return append(tools, o.deps.ExtraTools...)
}

func (o *Orchestrator) toolAgent() (*Agent, error) {
	o.agentOnce.Do(func() {
		agent, err := NewLocalAgent(o.logger, o.agentDeps(), o.local, true, o.TierTools()...)
		if err == nil {
			o.logger.Info("agent tier ready", "tools", agent.Status().Tools)
		}
		o.mu.Lock()
		o.agentTier, o.agentErr = agent, err
		o.mu.Unlock()
	})
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.agentTier, o.agentErr
}

// Aggregator returns the advanced-tier aggregator, building it on first use.
func (o *Orchestrator) Aggregator() *Aggregator {
	o.aggOnce.Do(func() {
		deps := o.agentDeps()
		withWarehouse := o.deps.Warehouse != nil
		router := NewKeywordRouter(o.logger, DefaultRoutes(withWarehouse)...)
		agg := NewAggregator(o.logger, o.deps.LLM, router, o.deps.Tracer)

		if local, err := NewLocalAgent(o.logger, deps, o.local, false); err == nil {
			agg.Register(local)
		}
		searcher := o.deps.Searcher
		if searcher == nil {
			searcher = NewWebSearcher(o.logger, o.deps.Config.Search, nil)
		}
		if search, err := NewSearchAgent(o.logger, deps, searcher); err == nil {
			agg.Register(search)
		} else {
			o.logger.Error("search agent unavailable", "error", err)
		}
		agg.Register(NewCloudAgent(o.logger, deps, o.deps.Objects, false))
		if withWarehouse {
			agg.Register(NewWarehouseAgent(o.logger, deps, o.deps.Warehouse, false))
		}
		o.mu.Lock()
		o.aggregator = agg
		o.mu.Unlock()
	})
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.aggregator
}

// StatusReport lists the tiers and the agents built so far.
type StatusReport struct {
	Tiers  []domain.Tier          `json:"tiers_available"`
	Agents map[string]AgentStatus `json:"agents"`
	Tools  []string               `json:"tools"`
}

type agentStatuser interface {
	Status() AgentStatus
}

// AgentStatus reports the agents that have been built. Building is lazy, so
// an idle orchestrator reports none.
func (o *Orchestrator) AgentStatus() StatusReport {
	report := StatusReport{
		Tiers:  domain.AllTiers(),
		Agents: make(map[string]AgentStatus),
		Tools:  []string{"calculator"},
	}
	for _, t := range o.TierTools() {
		report.Tools = append(report.Tools, t.Name)
	}
	o.mu.RLock()
	agentTier, agg := o.agentTier, o.aggregator
	o.mu.RUnlock()
	if agentTier != nil {
		report.Agents[LocalAgentName] = agentTier.Status()
	}
	if agg != nil {
		for _, ag := range agg.Agents() {
			if s, ok := ag.(agentStatuser); ok {
				report.Agents[AggregatorName+"/"+ag.Name()] = s.Status()
			}
		}
	}
	return report
}

// SystemInfo describes the running configuration.
type SystemInfo struct {
	Version        string          `json:"version"`
	Provider       string          `json:"provider"`
	Model          string          `json:"model"`
	EmbeddingModel string          `json:"embedding_model"`
	Collection     string          `json:"collection"`
	DocumentCount  int             `json:"document_count"`
	MemoryEnabled  bool            `json:"memory_enabled"`
	Tiers          []domain.Tier   `json:"tiers"`
	Tools          map[string]bool `json:"tools"`
}

// SystemInfo gathers configuration and collection statistics.
func (o *Orchestrator) SystemInfo(ctx context.Context) SystemInfo {
	cfg := o.deps.Config
	info := SystemInfo{
		Version:        Version,
		Provider:       cfg.LLM.Provider,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Collection:     cfg.Data.Collection,
		MemoryEnabled:  o.deps.LongTerm != nil && o.deps.LongTerm.Enabled(),
		Tiers:          domain.AllTiers(),
		Tools: map[string]bool{
			"calculator": true,
			"web_search": o.deps.Searcher != nil && o.deps.Searcher.Configured(),
			"database":   o.deps.Database != nil && cfg.Data.DatabaseURL != "",
			"warehouse":  o.deps.Warehouse != nil,
			"cloud":      o.deps.Objects != nil,
		},
	}
	if o.deps.LLM != nil {
		info.Model = o.deps.LLM.Model()
	}
	if o.deps.Documents != nil {
		n, err := o.deps.Documents.CountDocuments(ctx, cfg.Data.Collection)
		if err != nil {
			o.logger.Warn("failed to count documents", "error", err)
		}
		info.DocumentCount = n
	}
	return info
}
