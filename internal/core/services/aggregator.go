package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

// AggregatorName is the Agent field of synthesized responses.
const AggregatorName = "aggregator"

const aggregatorDescription = "You are an aggregator agent that coordinates multiple specialized agents " +
	"to answer complex questions. You route queries to appropriate agents and " +
	"synthesize their responses into a comprehensive answer."

// AgentInfo is the public summary of a registered agent.
type AgentInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Aggregator fans a query out to the agents chosen by its routing strategy
// and merges their answers.
type Aggregator struct {
	logger *slog.Logger
	llm    domain.LLMProvider
	router ports.RoutingStrategy
	tracer *TraceCollector

	mu     sync.RWMutex
	agents map[string]ports.Agent
	order  []string
}

// NewAggregator creates an aggregator with no agents.
func NewAggregator(logger *slog.Logger, llm domain.LLMProvider, router ports.RoutingStrategy, tracer *TraceCollector) *Aggregator {
	return &Aggregator{
		logger: logger,
		llm:    llm,
		router: router,
		tracer: tracer,
		agents: make(map[string]ports.Agent),
	}
}

// Register adds an agent. Re-registering a name replaces the agent and keeps
// its original position.
func (a *Aggregator) Register(agent ports.Agent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.agents[agent.Name()]; !exists {
		a.order = append(a.order, agent.Name())
	}
	a.agents[agent.Name()] = agent
	a.logger.Info("agent registered", "agent", agent.Name())
}

// Agents returns the registered agents in registration order.
func (a *Aggregator) Agents() []ports.Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ports.Agent, len(a.order))
	for i, name := range a.order {
		out[i] = a.agents[name]
	}
	return out
}

// ListAgents returns name and description of each registered agent.
func (a *Aggregator) ListAgents() []AgentInfo {
	agents := a.Agents()
	out := make([]AgentInfo, len(agents))
	for i, ag := range agents {
		out[i] = AgentInfo{Name: ag.Name(), Description: ag.Description()}
	}
	return out
}

// SelectAgents returns the registered agents the router picks for query, in
// registration order.
func (a *Aggregator) SelectAgents(query string) []ports.Agent {
	picked := make(map[string]bool)
	for _, name := range a.router.Select(query) {
		picked[name] = true
	}
	var selected []ports.Agent
	for _, ag := range a.Agents() {
		if picked[ag.Name()] {
			selected = append(selected, ag)
		}
	}
	return selected
}

// Process runs every selected agent concurrently and synthesizes the result.
// One agent failing never cancels the others.
func (a *Aggregator) Process(ctx context.Context, query, sessionID string) domain.AggregationResult {
	agents := a.SelectAgents(query)
	names := make([]string, len(agents))
	for i, ag := range agents {
		names[i] = ag.Name()
	}
	a.logger.Info("aggregating", "agents", names)

	responses := make([]domain.AgentResponse, len(agents))
	var g errgroup.Group
	for i, ag := range agents {
		g.Go(func() error {
			responses[i] = a.runAgent(ctx, ag, query, sessionID)
			return nil
		})
	}
	_ = g.Wait()

	return a.synthesize(ctx, query, names, responses)
}

func (a *Aggregator) runAgent(ctx context.Context, ag ports.Agent, query, sessionID string) (resp domain.AgentResponse) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("error processing with agent", "agent", ag.Name(), "panic", r)
			resp = domain.AgentResponse{Success: false, Error: fmt.Sprintf("%v", r), Agent: ag.Name()}
		}
	}()
	return ag.Process(ctx, ports.AgentRequest{Query: query, SessionID: sessionID})
}

func (a *Aggregator) synthesize(ctx context.Context, query string, names []string, responses []domain.AgentResponse) domain.AggregationResult {
	all := make(map[string]domain.AgentResponse, len(responses))
	var okNames []string
	okResponses := make(map[string]domain.AgentResponse)
	for i, resp := range responses {
		all[names[i]] = resp
		if resp.Success {
			okNames = append(okNames, names[i])
			okResponses[names[i]] = resp
		}
	}

	switch len(okNames) {
	case 0:
		msgs := make([]string, len(names))
		for i, name := range names {
			msg := responses[i].Error
			if msg == "" {
				msg = "Unknown error"
			}
			msgs[i] = fmt.Sprintf("%s: %s", name, msg)
		}
		return domain.AggregationResult{
			AgentResponse: domain.AgentResponse{
				Success: false,
				Error:   "No agents provided successful responses. Errors: " + strings.Join(msgs, "; "),
				Agent:   AggregatorName,
			},
			AgentResponses: all,
		}
	case 1:
		return domain.AggregationResult{
			AgentResponse: okResponses[okNames[0]],
			AggregatedBy:  domain.AggregatedSingle,
			SourceAgents:  okNames,
		}
	}

	answer, err := a.merge(ctx, query, okNames, okResponses)
	if err != nil {
		a.logger.Error("error synthesizing responses", "error", err)
		return domain.AggregationResult{
			AgentResponse: okResponses[okNames[0]],
			AggregatedBy:  domain.AggregatedFallback,
			SourceAgents:  okNames,
		}
	}
	return domain.AggregationResult{
		AgentResponse: domain.AgentResponse{
			Success: true,
			Answer:  answer,
			Agent:   AggregatorName,
			Model:   a.llm.Model(),
		},
		AggregatedBy:   domain.AggregatedMultiple,
		SourceAgents:   okNames,
		AgentResponses: okResponses,
	}
}

func (a *Aggregator) merge(ctx context.Context, query string, names []string, responses map[string]domain.AgentResponse) (string, error) {
	if a.llm == nil {
		return "", domain.ErrNoModelCall
	}
	prompt := BuildSynthesisPrompt(query, names, responses)

	ctx, spanID := a.tracer.StartSpan(ctx, "synthesis", domain.SpanKindSynthesis, map[string]string{
		"agents": strings.Join(names, ","),
	})
	a.tracer.SetSpanInput(spanID, prompt)
	a.tracer.SetSpanModel(spanID, a.llm.Model())

	answer, err := a.llm.Chat(ctx, []domain.Message{
		domain.NewMessage(domain.RoleSystem, aggregatorDescription),
		domain.NewMessage(domain.RoleUser, prompt),
	})
	a.tracer.SpanDone(spanID, answer, err)
	if err != nil {
		return "", ClassifyModelError(a.llm.Name(), err)
	}
	return answer, nil
}

// BuildSynthesisPrompt lists each agent's answer under an "<NAME> Agent:"
// header, in the order of names.
func BuildSynthesisPrompt(query string, names []string, responses map[string]domain.AgentResponse) string {
	parts := []string{
		"You are synthesizing responses from multiple specialized agents.",
		"Original question: " + query,
		"",
		"Agent responses:",
	}
	for _, name := range names {
		answer := responses[name].Answer
		if answer == "" {
			answer = "No answer provided"
		}
		parts = append(parts, fmt.Sprintf("\n%s Agent:", strings.ToUpper(name)), answer)
	}
	parts = append(parts,
		"",
		"Synthesize these responses into a comprehensive, coherent answer.",
		"If there are conflicts, note them. If information is complementary, combine it.",
	)
	return strings.Join(parts, "\n")
}

// RetrieveContext gathers raw context from every selected agent, without
// running their models.
func (a *Aggregator) RetrieveContext(ctx context.Context, query string) string {
	agents := a.SelectAgents(query)
	contexts := make([]string, len(agents))
	var g errgroup.Group
	for i, ag := range agents {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					contexts[i] = fmt.Sprintf("Error: %v", r)
				}
			}()
			contexts[i] = ag.RetrieveContext(ctx, query)
			return nil
		})
	}
	_ = g.Wait()

	parts := []string{"Context from specialized agents:"}
	for i, ag := range agents {
		parts = append(parts, fmt.Sprintf("\n--- %s AGENT ---", strings.ToUpper(ag.Name())), contexts[i])
	}
	return strings.Join(parts, "\n")
}
