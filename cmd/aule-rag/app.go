package main

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/manthysbr/aulerag/internal/adapters/cloud"
	"github.com/manthysbr/aulerag/internal/adapters/duckdb"
	"github.com/manthysbr/aulerag/internal/adapters/providers"
	"github.com/manthysbr/aulerag/internal/adapters/sqldb"
	"github.com/manthysbr/aulerag/internal/config"
	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
	"github.com/manthysbr/aulerag/internal/core/services"
	"github.com/manthysbr/aulerag/pkg/kernel"
)

// stack is everything that depends on the runtime settings. It is rebuilt
// whenever the settings change and closed once its last user releases it.
type stack struct {
	cfg      *domain.AppConfig
	orch     *services.Orchestrator
	tools    *services.ToolBroker
	memory   *services.LongTermMemory
	embedder domain.EmbeddingProvider
	closers  []io.Closer

	// refs counts calls still running on this stack.
	refs sync.WaitGroup
}

func (s *stack) close(logger *slog.Logger) {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close data source", "error", err)
		}
	}
}

// app owns the long-lived pieces and swaps the settings-dependent stack.
type app struct {
	logger  *slog.Logger
	env     *config.Env
	repo    *duckdb.Repository
	tracer  *services.TraceCollector
	plugins []*domain.Tool

	mu  sync.RWMutex
	cur *stack

	// retiring tracks replaced stacks waiting for their calls to drain.
	retiring sync.WaitGroup
}

var (
	_ kernel.Engine     = (*app)(nil)
	_ kernel.ToolRunner = (*app)(nil)
	_ ports.MemoryStore = (*app)(nil)
)

func newApp(ctx context.Context, logger *slog.Logger, env *config.Env, repo *duckdb.Repository, tracer *services.TraceCollector, plugins []*domain.Tool, cfg *domain.AppConfig) *app {
	a := &app{logger: logger, env: env, repo: repo, tracer: tracer, plugins: plugins}
	a.cur = a.build(ctx, cfg)
	return a
}

// build wires the providers, data sources and orchestrator for cfg. Sources
// that fail to open are logged and left out so the tiers degrade.
func (a *app) build(ctx context.Context, cfg *domain.AppConfig) *stack {
	s := &stack{cfg: cfg}

	llmProvider, embedder, err := providers.Build(ctx, cfg)
	if err != nil {
		a.logger.Error("failed to build llm provider", "provider", cfg.LLM.Provider, "error", err)
	}
	if embedder != nil {
		s.embedder = services.NewCachedEmbedder(a.logger, embedder, cfg.LLM.EmbeddingModel, a.env.EmbeddingCacheSize, a.env.EmbeddingCacheTTL)
	}
	s.memory = services.NewLongTermMemory(a.logger, a.repo, s.embedder, cfg.Memory.LongTermEnabled)

	deps := services.OrchestratorDeps{
		Config:        cfg,
		LLM:           llmProvider,
		Embedder:      s.embedder,
		Documents:     a.repo,
		LongTerm:      s.memory,
		Searcher:      services.NewWebSearcher(a.logger, cfg.Search, nil),
		Tracer:        a.tracer,
		ExtraTools:    a.plugins,
		MaxIterations: a.env.MaxIterations,
	}
	if url := cfg.Data.DatabaseURL; url != "" {
		if db, err := sqldb.Open(url); err != nil {
			a.logger.Warn("database unavailable", "error", err)
		} else {
			deps.Database = db
			s.closers = append(s.closers, db)
		}
	}
	if url := cfg.Data.WarehouseURL; url != "" {
		if db, err := sqldb.Open(url); err != nil {
			a.logger.Warn("warehouse unavailable", "error", err)
		} else {
			deps.Warehouse = db
			s.closers = append(s.closers, db)
		}
	}
	if objects, err := cloud.New(ctx, cfg.Cloud, a.env.S3Endpoint); err != nil {
		a.logger.Warn("cloud storage unavailable", "error", err)
	} else if objects != nil {
		deps.Objects = objects
	}

	s.orch = services.NewOrchestrator(a.logger, deps)
	s.tools = services.NewToolBroker(a.logger)
	for _, tool := range append([]*domain.Tool{services.NewCalculatorTool()}, s.orch.TierTools()...) {
		if err := s.tools.Register(tool); err != nil {
			a.logger.Error("failed to register tool", "tool", tool.Name, "error", err)
		}
	}
	return s
}

// reload swaps in a stack built from cfg. It is registered as the settings
// OnChange callback. The previous stack keeps serving the calls that acquired
// it and is closed in the background once they return.
func (a *app) reload(cfg *domain.AppConfig) {
	next := a.build(context.Background(), cfg)
	a.mu.Lock()
	prev := a.cur
	a.cur = next
	a.mu.Unlock()

	a.retiring.Add(1)
	go func() {
		defer a.retiring.Done()
		prev.refs.Wait()
		prev.close(a.logger)
	}()
	a.logger.Info("providers hot-reloaded from settings change", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
}

func (a *app) current() *stack {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cur
}

// acquire returns the current stack and a release func. The stack is not
// closed before release is called.
func (a *app) acquire() (*stack, func()) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.cur
	s.refs.Add(1)
	return s, s.refs.Done
}

// Close waits for replaced stacks to drain, then closes the current one.
func (a *app) Close() {
	a.retiring.Wait()
	a.current().close(a.logger)
}

func (a *app) Query(ctx context.Context, req services.QueryRequest) domain.QueryResponse {
	s, release := a.acquire()
	defer release()
	return s.orch.Query(ctx, req)
}

func (a *app) AgentStatus() services.StatusReport { return a.current().orch.AgentStatus() }

func (a *app) SystemInfo(ctx context.Context) services.SystemInfo {
	s, release := a.acquire()
	defer release()
	return s.orch.SystemInfo(ctx)
}

func (a *app) Schemas() []domain.ToolSchema { return a.current().tools.Schemas() }

func (a *app) Execute(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	s, release := a.acquire()
	defer release()
	return s.tools.Execute(ctx, name, params)
}

// Ingestor returns an ingestor bound to the current embedder.
func (a *app) Ingestor() *services.Ingestor {
	s := a.current()
	return services.NewIngestor(a.logger, a.repo, s.embedder, s.cfg.Data.Collection, services.DefaultChunkSize)
}

func (a *app) Enabled() bool { return a.current().memory.Enabled() }

func (a *app) SearchMemories(ctx context.Context, query, sessionID string, limit int) ([]domain.MemoryEntry, error) {
	return a.current().memory.SearchMemories(ctx, query, sessionID, limit)
}

func (a *app) StoreConversation(ctx context.Context, sessionID string, messages []domain.Message) error {
	return a.current().memory.StoreConversation(ctx, sessionID, messages)
}

func (a *app) SessionMemories(ctx context.Context, sessionID string, limit int) ([]domain.MemoryEntry, error) {
	return a.current().memory.SessionMemories(ctx, sessionID, limit)
}

func (a *app) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	return a.current().memory.DeleteSession(ctx, sessionID)
}
