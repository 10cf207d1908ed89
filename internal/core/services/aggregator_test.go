package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRouter []string

func (r fixedRouter) Select(string) []string { return r }

func newTestAggregator(llm domain.LLMProvider, selected []string, agents ...ports.Agent) *Aggregator {
	agg := NewAggregator(testLogger(), llm, fixedRouter(selected), nil)
	for _, a := range agents {
		agg.Register(a)
	}
	return agg
}

func TestAggregator_AllFail(t *testing.T) {
	agg := newTestAggregator(newFakeLLM("unused"), []string{"local", "search"},
		failAgent("local", "x"), failAgent("search", "y"))

	res := agg.Process(context.Background(), "q", "")
	assert.False(t, res.Success)
	assert.Equal(t, "No agents provided successful responses. Errors: local: x; search: y", res.Error)
	assert.Len(t, res.AgentResponses, 2)
	assert.Empty(t, res.AggregatedBy)
}

func TestAggregator_SingleSuccessPassesThrough(t *testing.T) {
	llm := newFakeLLM("unused")
	agg := newTestAggregator(llm, []string{"local", "search"},
		okAgent("local", "from docs"), failAgent("search", "no key"))

	res := agg.Process(context.Background(), "q", "")
	require.True(t, res.Success)
	assert.Equal(t, "from docs", res.Answer)
	assert.Equal(t, "local", res.Agent)
	assert.Equal(t, domain.AggregatedSingle, res.AggregatedBy)
	assert.Equal(t, 0, llm.calls())
}

func TestAggregator_MultipleSuccessesAreSynthesized(t *testing.T) {
	llm := newFakeLLM("merged")
	agg := newTestAggregator(llm, []string{"search", "local"},
		okAgent("local", "A1"), okAgent("search", "A2"), okAgent("cloud", "unused"))

	res := agg.Process(context.Background(), "what?", "s1")
	require.True(t, res.Success)
	assert.Equal(t, "merged", res.Answer)
	assert.Equal(t, AggregatorName, res.Agent)
	assert.Equal(t, domain.AggregatedMultiple, res.AggregatedBy)
	assert.Equal(t, []string{"local", "search"}, res.SourceAgents)
	assert.Equal(t, "A1", res.AgentResponses["local"].Answer)
	assert.Equal(t, "A2", res.AgentResponses["search"].Answer)

	// Sections follow registration order, not router order.
	require.Len(t, llm.chats, 1)
	prompt := llm.chats[0][1].Content
	assert.Contains(t, prompt, "Original question: what?")
	assert.Less(t, strings.Index(prompt, "LOCAL Agent:\nA1"), strings.Index(prompt, "SEARCH Agent:\nA2"))
	assert.Equal(t, aggregatorDescription, llm.chats[0][0].Content)
}

func TestAggregator_SynthesisFailureFallsBack(t *testing.T) {
	llm := newFakeLLM("unused")
	llm.failAt(0, errors.New("boom"))
	agg := newTestAggregator(llm, []string{"local", "search"},
		okAgent("local", "A1"), okAgent("search", "A2"))

	res := agg.Process(context.Background(), "q", "")
	require.True(t, res.Success)
	assert.Equal(t, "A1", res.Answer)
	assert.Equal(t, domain.AggregatedFallback, res.AggregatedBy)
}

func TestAggregator_PanickingAgentDoesNotAbortSiblings(t *testing.T) {
	boom := &stubAgent{name: "cloud", panicMsg: "kaboom"}
	local := okAgent("local", "A1")
	agg := newTestAggregator(newFakeLLM("x"), []string{"local", "cloud"}, local, boom)

	res := agg.Process(context.Background(), "q", "")
	require.True(t, res.Success)
	assert.Equal(t, domain.AggregatedSingle, res.AggregatedBy)
	assert.Equal(t, 1, local.calls)
}

// slowAgent sleeps before answering and tracks concurrency.
type slowAgent struct {
	name     string
	delay    time.Duration
	inFlight *atomic.Int32
	peak     *atomic.Int32
}

func (s *slowAgent) Name() string                                   { return s.name }
func (s *slowAgent) Description() string                            { return "slow" }
func (s *slowAgent) RetrieveContext(context.Context, string) string { return s.name + " ctx" }
func (s *slowAgent) Process(ctx context.Context, _ ports.AgentRequest) domain.AgentResponse {
	n := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(s.delay)
	s.inFlight.Add(-1)
	return domain.AgentResponse{Success: true, Answer: s.name, Agent: s.name}
}

func TestAggregator_FanOutIsConcurrent(t *testing.T) {
	var inFlight, peak atomic.Int32
	mk := func(name string, d time.Duration) ports.Agent {
		return &slowAgent{name: name, delay: d, inFlight: &inFlight, peak: &peak}
	}
	// The first registered agent finishes last.
	agg := newTestAggregator(newFakeLLM("merged"), []string{"a", "b", "c"},
		mk("a", 80*time.Millisecond), mk("b", 30*time.Millisecond), mk("c", 40*time.Millisecond))

	res := agg.Process(context.Background(), "q", "")
	require.True(t, res.Success)
	assert.Equal(t, []string{"a", "b", "c"}, res.SourceAgents)
	assert.Equal(t, int32(3), peak.Load())
}

func TestAggregator_SelectAndList(t *testing.T) {
	router := NewKeywordRouter(testLogger(), DefaultRoutes(false)...)
	agg := NewAggregator(testLogger(), newFakeLLM("x"), router, nil)
	agg.Register(okAgent("local", ""))
	agg.Register(okAgent("search", ""))

	// cloud is routed but not registered.
	selected := agg.SelectAgents("search s3 storage")
	require.Len(t, selected, 1)
	assert.Equal(t, "search", selected[0].Name())

	assert.Equal(t, []AgentInfo{
		{Name: "local", Description: "local stub"},
		{Name: "search", Description: "search stub"},
	}, agg.ListAgents())

	// Re-registering keeps the position.
	agg.Register(okAgent("local", "v2"))
	assert.Equal(t, "local", agg.Agents()[0].Name())
	assert.Len(t, agg.Agents(), 2)
}

func TestAggregator_RetrieveContext(t *testing.T) {
	var a, b atomic.Int32
	agg := newTestAggregator(nil, []string{"x", "y"},
		&slowAgent{name: "x", inFlight: &a, peak: &b}, &slowAgent{name: "y", inFlight: &a, peak: &b})

	out := agg.RetrieveContext(context.Background(), "q")
	assert.Equal(t, "Context from specialized agents:\n\n--- X AGENT ---\nx ctx\n\n--- Y AGENT ---\ny ctx", out)
}

func TestBuildSynthesisPrompt(t *testing.T) {
	p := BuildSynthesisPrompt("q", []string{"local", "cloud"}, map[string]domain.AgentResponse{
		"local": {Answer: "A"},
		"cloud": {},
	})
	assert.Equal(t, "You are synthesizing responses from multiple specialized agents.\n"+
		"Original question: q\n\nAgent responses:\n"+
		"\nLOCAL Agent:\nA\n"+
		"\nCLOUD Agent:\nNo answer provided\n\n"+
		"Synthesize these responses into a comprehensive, coherent answer.\n"+
		"If there are conflicts, note them. If information is complementary, combine it.", p)
}
