package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
)

const (
	noCompleteAnswer  = "I couldn't find a complete answer."
	memorySearchLimit = 3
	directHistorySize = 5
)

// AgentConfig wires an Agent. Retriever and LLM are required; the memories,
// planner and tracer are optional.
type AgentConfig struct {
	Name        string
	Description string
	Retriever   ports.Retriever
	LLM         domain.LLMProvider
	Planner     ports.Planner
	ShortTerm   *SessionBuffers
	LongTerm    ports.MemoryStore
	Tracer      *TraceCollector
}

// Agent answers a query from one context source, optionally through a
// planner. Specializations differ only in their Retriever.
type Agent struct {
	logger      *slog.Logger
	name        string
	description string
	retriever   ports.Retriever
	llm         domain.LLMProvider
	planner     ports.Planner
	shortTerm   *SessionBuffers
	longTerm    ports.MemoryStore
	tracer      *TraceCollector
}

var _ ports.Agent = (*Agent)(nil)

// NewAgent creates an agent.
func NewAgent(logger *slog.Logger, cfg AgentConfig) *Agent {
	return &Agent{
		logger:      logger.With("agent", cfg.Name),
		name:        cfg.Name,
		description: cfg.Description,
		retriever:   cfg.Retriever,
		llm:         cfg.LLM,
		planner:     cfg.Planner,
		shortTerm:   cfg.ShortTerm,
		longTerm:    cfg.LongTerm,
		tracer:      cfg.Tracer,
	}
}

func (a *Agent) Name() string        { return a.name }
func (a *Agent) Description() string { return a.description }

// Planner returns the configured planner or nil.
func (a *Agent) Planner() ports.Planner { return a.planner }

// ShortTerm returns the conversation buffer of sessionID, or nil when the
// agent keeps no short-term memory.
func (a *Agent) ShortTerm(sessionID string) *ShortTermMemory {
	if a.shortTerm == nil {
		return nil
	}
	return a.shortTerm.For(sessionID)
}

// RetrieveContext delegates to the agent's retriever.
func (a *Agent) RetrieveContext(ctx context.Context, query string) string {
	if a.retriever == nil {
		return ""
	}
	return a.retriever.RetrieveContext(ctx, query)
}

// Process answers req. Failures are reported in the response, never returned
// or propagated as panics.
func (a *Agent) Process(ctx context.Context, req ports.AgentRequest) (resp domain.AgentResponse) {
	ctx, spanID := a.tracer.StartSpan(ctx, "agent:"+a.name, domain.SpanKindAgent, map[string]string{
		"agent": a.name,
	})
	a.tracer.SetSpanInput(spanID, req.Query)

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("agent panicked", "panic", r)
			resp = domain.AgentResponse{Success: false, Error: fmt.Sprintf("panic: %v", r), Agent: a.name}
		}
		if resp.Success {
			a.tracer.SpanDone(spanID, resp.Answer, nil)
		} else {
			a.tracer.SpanDone(spanID, "", fmt.Errorf("%s", resp.Error))
		}
	}()

	// The retrieved context is folded into the caller-supplied context.
	sourceCtx := a.RetrieveContext(ctx, req.Query)
	extra := sourceCtx
	if req.ExtraContext != "" {
		extra = joinNonEmpty("\n\n", req.ExtraContext, sourceCtx)
	}
	return a.process(ctx, req.Query, req.SessionID, extra)
}

// process is the shared pipeline once the source context is known.
func (a *Agent) process(ctx context.Context, query, sessionID, extra string) domain.AgentResponse {
	if a.llm == nil {
		return a.failure(domain.ErrNoModelCall)
	}

	// history holds prior turns only; the current query is appended explicitly.
	buf := a.ShortTerm(sessionID)
	var history []domain.Message
	if buf != nil {
		history = buf.Last(directHistorySize - 1)
		buf.Add(domain.RoleUser, query, nil)
	}

	var memoryCtx string
	if sessionID != "" && a.longTerm != nil && a.longTerm.Enabled() {
		memories, err := a.longTerm.SearchMemories(ctx, query, sessionID, memorySearchLimit)
		if err != nil {
			a.logger.Warn("memory search failed", "session_id", sessionID, "error", err)
		}
		if len(memories) > 0 {
			contents := make([]string, len(memories))
			for i, m := range memories {
				contents[i] = m.Content
			}
			memoryCtx = "Relevant past conversations:\n" + strings.Join(contents, "\n")
		}
	}

	var extraBlock string
	if extra != "" {
		extraBlock = "Additional context:\n" + extra
	}
	fullCtx := joinNonEmpty("\n\n", memoryCtx, extraBlock)

	var (
		resp domain.AgentResponse
		err  error
	)
	if a.planner != nil {
		resp, err = a.processWithPlanning(ctx, query, fullCtx)
	} else {
		resp, err = a.processDirect(ctx, query, fullCtx, history)
	}
	if err != nil {
		a.logger.Error("error processing query", "error", err)
		return a.failure(err)
	}

	var exchange []domain.Message
	if buf != nil {
		buf.Add(domain.RoleAssistant, resp.Answer, nil)
		exchange = buf.Messages()
	}
	if sessionID != "" && a.longTerm != nil && a.longTerm.Enabled() {
		if err := a.longTerm.StoreConversation(ctx, sessionID, exchange); err != nil {
			a.logger.Warn("failed to store conversation", "session_id", sessionID, "error", err)
		}
	}
	return resp
}

func (a *Agent) processDirect(ctx context.Context, query, fullCtx string, history []domain.Message) (domain.AgentResponse, error) {
	system := a.description
	if fullCtx != "" {
		system += "\n\nContext: " + fullCtx
	}
	messages := []domain.Message{domain.NewMessage(domain.RoleSystem, system)}
	messages = append(messages, history...)
	messages = append(messages, domain.NewMessage(domain.RoleUser, query))

	answer, err := a.chat(ctx, messages)
	if err != nil {
		return domain.AgentResponse{}, err
	}
	return domain.AgentResponse{
		Success: true,
		Answer:  answer,
		Agent:   a.name,
		Model:   a.llm.Model(),
	}, nil
}

func (a *Agent) processWithPlanning(ctx context.Context, query, fullCtx string) (domain.AgentResponse, error) {
	plan, err := a.planner.Plan(ctx, query, fullCtx, a.ModelCall())
	if err != nil {
		return domain.AgentResponse{}, fmt.Errorf("plan: %w", err)
	}
	return domain.AgentResponse{
		Success: true,
		Answer:  plan.Answer(noCompleteAnswer),
		Agent:   a.name,
		Plan:    plan,
		Model:   a.llm.Model(),
	}, nil
}

// ModelCall adapts the agent's LLM into the planner capability: the agent
// description as system prompt, the planner prompt as the user turn.
func (a *Agent) ModelCall() domain.ModelCall {
	return func(ctx context.Context, prompt string) (string, error) {
		return a.chat(ctx, []domain.Message{
			domain.NewMessage(domain.RoleSystem, a.description),
			domain.NewMessage(domain.RoleUser, prompt),
		})
	}
}

func (a *Agent) chat(ctx context.Context, messages []domain.Message) (string, error) {
	answer, err := a.llm.Chat(ctx, messages)
	if err != nil {
		return "", ClassifyModelError(a.llm.Name(), err)
	}
	return answer, nil
}

func (a *Agent) failure(err error) domain.AgentResponse {
	return domain.AgentResponse{Success: false, Error: err.Error(), Agent: a.name}
}

// AgentStatus describes an agent for the status endpoint.
type AgentStatus struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Tools           []string `json:"tools"`
	MemoryEnabled   bool     `json:"memory_enabled"`
	PlanningEnabled bool     `json:"planning_enabled"`
	PlanningType    string   `json:"planning_type,omitempty"`
}

// Status reports the agent's configuration.
func (a *Agent) Status() AgentStatus {
	st := AgentStatus{
		Name:          a.name,
		Description:   a.description,
		Tools:         []string{},
		MemoryEnabled: a.shortTerm != nil || (a.longTerm != nil && a.longTerm.Enabled()),
	}
	if a.planner != nil {
		st.PlanningEnabled = true
		st.PlanningType = string(a.planner.Kind())
		if rp, ok := a.planner.(*ReActPlanner); ok {
			st.Tools = rp.Tools().Names()
		}
	}
	return st
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
