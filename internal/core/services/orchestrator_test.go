package services

import (
	"context"
	"errors"
	"testing"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *domain.AppConfig {
	cfg := domain.DefaultConfig()
	cfg.LLM.APIKey = "sk-test"
	return cfg
}

func newTestOrchestrator(llm domain.LLMProvider, mutate func(*OrchestratorDeps)) (*Orchestrator, *memDocStore) {
	docs := &memDocStore{}
	deps := OrchestratorDeps{
		Config:    testConfig(),
		LLM:       llm,
		Embedder:  &fakeEmbedder{},
		Documents: docs,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return NewOrchestrator(testLogger(), deps), docs
}

func TestOrchestrator_InvalidTier(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeLLM("x"), nil)
	resp := o.Query(context.Background(), QueryRequest{Query: "q", Tier: "turbo"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid tier: turbo", resp.Error)
}

func TestOrchestrator_MissingAPIKey(t *testing.T) {
	llm := newFakeLLM("x")
	o, _ := newTestOrchestrator(llm, func(d *OrchestratorDeps) { d.Config.LLM.APIKey = "" })

	for _, tier := range []string{"basic", "agent", "advanced"} {
		resp := o.Query(context.Background(), QueryRequest{Query: "q", Tier: tier})
		assert.False(t, resp.Success, tier)
		assert.Equal(t, "LLM API key not configured. Please set OPENAI_API_KEY in your .env file.", resp.Error)
		assert.Equal(t, domain.Tier(tier), resp.Tier)
	}
	assert.Equal(t, 0, llm.calls())

	// Local providers need no key.
	o, _ = newTestOrchestrator(llm, func(d *OrchestratorDeps) {
		d.Config.LLM.APIKey = ""
		d.Config.LLM.Provider = domain.ProviderOllama
	})
	assert.True(t, o.Query(context.Background(), QueryRequest{Query: "q"}).Success)
}

func TestOrchestrator_BasicWithDocuments(t *testing.T) {
	llm := newFakeLLM("Paris")
	o, docs := newTestOrchestrator(llm, nil)
	docs.addText("d1", "geo.md", "The capital of France is Paris.")

	resp := o.Query(context.Background(), QueryRequest{Query: "capital of france", Tier: "basic"})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "Paris", resp.Answer)
	assert.Equal(t, domain.TierBasic, resp.Tier)
	assert.Equal(t, "fake-model", resp.Model)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "d1", resp.Sources[0].ID)
	assert.Equal(t, "geo.md", resp.Sources[0].Metadata["source"])

	require.Len(t, llm.chats, 1)
	assert.Equal(t, basicSystemPrompt, llm.chats[0][0].Content)
	prompt := llm.chats[0][1].Content
	assert.Contains(t, prompt, "Context:\nRetrieved documents:\n\n[1] Source: geo.md\nContent: The capital of France is Paris....")
	assert.Contains(t, prompt, "\n\nQuestion: capital of france")
}

func TestOrchestrator_BasicWithoutDocuments(t *testing.T) {
	llm := newFakeLLM("I don't know")
	o, _ := newTestOrchestrator(llm, nil)

	resp := o.Query(context.Background(), QueryRequest{Query: "anything"})
	require.True(t, resp.Success)
	assert.Empty(t, resp.Sources)
	assert.Contains(t, llm.chats[0][1].Content, "Context:\nNo relevant documents found in the knowledge base.")
}

func TestOrchestrator_BasicClassifiesModelErrors(t *testing.T) {
	llm := newFakeLLM("x")
	llm.failAt(0, errors.New("status 429: rate limited"))
	llm.failAt(1, errors.New("connection reset"))
	o, _ := newTestOrchestrator(llm, nil)

	resp := o.Query(context.Background(), QueryRequest{Query: "q"})
	assert.False(t, resp.Success)
	assert.Equal(t, "fake API quota exceeded. Please check your billing and plan details.", resp.Error)

	resp = o.Query(context.Background(), QueryRequest{Query: "q"})
	assert.Equal(t, "Error processing query: connection reset", resp.Error)
}

func TestOrchestrator_AgentTier(t *testing.T) {
	llm := newFakeLLM("Thought: easy\nFinal Answer: 42")
	o, _ := newTestOrchestrator(llm, func(d *OrchestratorDeps) {
		d.Searcher = NewWebSearcher(testLogger(), domain.SearchConfig{TavilyAPIKey: "tv"}, nil)
		d.Database = newFakeSQL()
		d.Config.Data.DatabaseURL = "duckdb://:memory:"
		d.ExtraTools = []*domain.Tool{echoTool("echo", "hi")}
	})

	resp := o.Query(context.Background(), QueryRequest{Query: "what is 6*7", Tier: "agent", SessionID: "s"})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "42", resp.Answer)
	assert.Equal(t, LocalAgentName, resp.Agent)
	assert.Equal(t, domain.TierAgent, resp.Tier)

	first, err := o.toolAgent()
	require.NoError(t, err)
	o.Query(context.Background(), QueryRequest{Query: "again", Tier: "agent"})
	second, _ := o.toolAgent()
	assert.Same(t, first, second)

	status := o.AgentStatus()
	require.Contains(t, status.Agents, LocalAgentName)
	assert.ElementsMatch(t,
		[]string{"calculator", "web_search", "database_query", "get_table_schema", "list_tables", "echo"},
		status.Agents[LocalAgentName].Tools)
	assert.Equal(t, domain.AllTiers(), status.Tiers)
}

func TestOrchestrator_AgentTierOmitsUnconfiguredTools(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeLLM("Final Answer: ok"), func(d *OrchestratorDeps) {
		d.Database = newFakeSQL() // no DATABASE_URL
	})
	assert.Empty(t, o.TierTools())
	assert.Equal(t, []string{"calculator"}, o.AgentStatus().Tools)
}

func TestOrchestrator_AdvancedTier(t *testing.T) {
	llm := newFakeLLM("Final Answer: combined")
	tracer := NewTraceCollector(testLogger(), nil, nil)
	o, docs := newTestOrchestrator(llm, func(d *OrchestratorDeps) {
		d.Tracer = tracer
		d.Warehouse = newFakeSQL()
	})
	docs.addText("d1", "notes.md", "quarterly notes")

	resp := o.Query(context.Background(), QueryRequest{Query: "summarize my notes", Tier: "advanced"})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, domain.TierAdvanced, resp.Tier)
	assert.Equal(t, AggregatorName, resp.Agent)

	agg := o.Aggregator()
	assert.Same(t, agg, o.Aggregator())
	var names []string
	for _, a := range agg.ListAgents() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{LocalAgentName, SearchAgentName, CloudAgentName, WarehouseAgentName}, names)

	traces := tracer.ListTraces(0)
	require.Len(t, traces, 1)
	assert.Equal(t, domain.SpanStatusOK, traces[0].Status)
	assert.Equal(t, "advanced: summarize my notes", traces[0].Name)
	assert.Greater(t, traces[0].SpanCount, 1)
}

func TestOrchestrator_SystemInfo(t *testing.T) {
	o, docs := newTestOrchestrator(newFakeLLM("x"), nil)
	docs.addText("a", "a.md", "alpha")
	docs.addText("b", "b.md", "beta")

	info := o.SystemInfo(context.Background())
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, domain.ProviderOpenAI, info.Provider)
	assert.Equal(t, "fake-model", info.Model)
	assert.Equal(t, "text-embedding-3-small", info.EmbeddingModel)
	assert.Equal(t, 2, info.DocumentCount)
	assert.False(t, info.MemoryEnabled)
	assert.True(t, info.Tools["calculator"])
	assert.False(t, info.Tools["web_search"])
}
