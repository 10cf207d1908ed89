package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retrieverFunc func(ctx context.Context, query string) string

func (f retrieverFunc) RetrieveContext(ctx context.Context, query string) string { return f(ctx, query) }

func staticRetriever(s string) ports.Retriever {
	return retrieverFunc(func(context.Context, string) string { return s })
}

func TestAgent_DirectWithoutMemory(t *testing.T) {
	llm := newFakeLLM("the answer")
	agent := NewAgent(testLogger(), AgentConfig{
		Name:        "local",
		Description: "You answer questions.",
		Retriever:   staticRetriever("RETRIEVED"),
		LLM:         llm,
	})

	resp := agent.Process(context.Background(), ports.AgentRequest{Query: "what?", ExtraContext: "EXTRA"})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "the answer", resp.Answer)
	assert.Equal(t, "local", resp.Agent)
	assert.Equal(t, "fake-model", resp.Model)
	assert.Nil(t, resp.Plan)

	require.Len(t, llm.chats, 1)
	msgs := llm.chats[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleSystem, msgs[0].Role)
	assert.Equal(t, "You answer questions.\n\nContext: Additional context:\nEXTRA\n\nRETRIEVED", msgs[0].Content)
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "what?"}, domain.Message{Role: msgs[1].Role, Content: msgs[1].Content})
}

func TestAgent_DirectNoContext(t *testing.T) {
	llm := newFakeLLM("hi")
	agent := NewAgent(testLogger(), AgentConfig{Name: "a", Description: "desc", Retriever: staticRetriever(""), LLM: llm})

	resp := agent.Process(context.Background(), ports.AgentRequest{Query: "hello"})
	require.True(t, resp.Success)
	assert.Equal(t, "desc", llm.chats[0][0].Content)
}

func TestAgent_DirectUsesLastFiveMessages(t *testing.T) {
	llm := newFakeLLM("a1", "a2", "a3", "a4")
	agent := NewAgent(testLogger(), AgentConfig{Name: "a", Description: "d", Retriever: staticRetriever(""), LLM: llm, ShortTerm: NewSessionBuffers(0, 10, 4000)})

	for i := 1; i <= 4; i++ {
		resp := agent.Process(context.Background(), ports.AgentRequest{Query: fmt.Sprintf("q%d", i), SessionID: "s1"})
		require.True(t, resp.Success)
	}

	last := llm.chats[3]
	require.Len(t, last, 6) // system + 5 history
	var contents []string
	for _, m := range last[1:] {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"q2", "a2", "q3", "a3", "q4"}, contents)
	assert.Equal(t, 8, agent.ShortTerm("s1").Len())
}

func TestAgent_SessionsDoNotShareHistory(t *testing.T) {
	repo := &memMemoryRepo{}
	ltm := NewLongTermMemory(testLogger(), repo, &fakeEmbedder{}, true)
	llm := newFakeLLM("ok-a", "ok-b", "ok-c")
	agent := NewAgent(testLogger(), AgentConfig{
		Name:      "local",
		Retriever: staticRetriever(""),
		LLM:       llm,
		ShortTerm: NewSessionBuffers(0, 10, 4000),
		LongTerm:  ltm,
	})
	ctx := context.Background()

	require.True(t, agent.Process(ctx, ports.AgentRequest{Query: "alice secret: my ssn is 123", SessionID: "alice"}).Success)
	require.True(t, agent.Process(ctx, ports.AgentRequest{Query: "hello from bob", SessionID: "bob"}).Success)

	require.Len(t, llm.chats, 2)
	for _, m := range llm.chats[1] {
		assert.NotContains(t, m.Content, "alice secret")
		assert.NotContains(t, m.Content, "ok-a")
	}
	require.Len(t, llm.chats[1], 2)
	assert.Equal(t, "hello from bob", llm.chats[1][1].Content)

	bob, err := ltm.SessionMemories(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, bob, 1)
	assert.Equal(t, "Conversation:\nuser: hello from bob\nassistant: ok-b", bob[0].Content)

	assert.Equal(t, 2, agent.ShortTerm("alice").Len())
	assert.Equal(t, 2, agent.ShortTerm("bob").Len())

	// Requests without a session start from an empty buffer.
	require.True(t, agent.Process(ctx, ports.AgentRequest{Query: "anonymous"}).Success)
	require.Len(t, llm.chats[2], 2)
	assert.Equal(t, "anonymous", llm.chats[2][1].Content)
	assert.Equal(t, 0, agent.ShortTerm("").Len())
}

func TestAgent_WithReActPlanner(t *testing.T) {
	llm := newFakeLLM("Thought: easy\nFinal Answer: 42")
	agent := NewAgent(testLogger(), AgentConfig{
		Name:        "local",
		Description: "desc",
		Retriever:   staticRetriever("ctx"),
		LLM:         llm,
		Planner:     NewReActPlanner(testLogger(), nil, nil, 3),
	})

	resp := agent.Process(context.Background(), ports.AgentRequest{Query: "meaning of life"})
	require.True(t, resp.Success)
	assert.Equal(t, "42", resp.Answer)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, domain.PlanCompleted, resp.Plan.Status)

	// The planner prompt is sent as the user turn under the agent description.
	require.Len(t, llm.chats, 1)
	assert.Equal(t, "desc", llm.chats[0][0].Content)
	assert.Contains(t, llm.chats[0][1].Content, "meaning of life")
	assert.Contains(t, llm.chats[0][1].Content, "Additional context:\nctx")
}

func TestAgent_PlannerWithoutAnswerFallsBack(t *testing.T) {
	llm := newFakeLLM("Step 1: still thinking")
	agent := NewAgent(testLogger(), AgentConfig{
		Name:      "cloud",
		Retriever: staticRetriever(""),
		LLM:       llm,
		Planner:   NewCoTPlanner(testLogger(), nil, 2, false),
	})

	resp := agent.Process(context.Background(), ports.AgentRequest{Query: "q"})
	require.True(t, resp.Success)
	assert.Equal(t, "I couldn't find a complete answer.", resp.Answer)
	assert.Equal(t, domain.PlanMaxStepsReached, resp.Plan.Status)
}

func TestAgent_LongTermMemory(t *testing.T) {
	repo := &memMemoryRepo{}
	ltm := NewLongTermMemory(testLogger(), repo, &fakeEmbedder{}, true)
	ctx := context.Background()
	require.NoError(t, ltm.StoreConversation(ctx, "s1", []domain.Message{domain.NewMessage(domain.RoleUser, "my cat is named tom")}))

	llm := newFakeLLM("Tom")
	agent := NewAgent(testLogger(), AgentConfig{
		Name:      "local",
		Retriever: staticRetriever(""),
		LLM:       llm,
		ShortTerm: NewSessionBuffers(0, 10, 4000),
		LongTerm:  ltm,
	})

	resp := agent.Process(ctx, ports.AgentRequest{Query: "what is my cat named", SessionID: "s1"})
	require.True(t, resp.Success)
	assert.Contains(t, llm.chats[0][0].Content, "Context: Relevant past conversations:\nConversation:\nuser: my cat is named tom")

	// The exchange is persisted under the session.
	mems, err := ltm.SessionMemories(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, mems, 2)
	assert.Equal(t, "Conversation:\nuser: what is my cat named\nassistant: Tom", mems[0].Content)

	// Without a session id nothing is searched or stored.
	agent.Process(ctx, ports.AgentRequest{Query: "again"})
	assert.Len(t, repo.entries, 2)
}

func TestAgent_ModelErrorIsReported(t *testing.T) {
	llm := newFakeLLM("unused")
	llm.failAt(0, errors.New("HTTP 429: quota exceeded"))
	agent := NewAgent(testLogger(), AgentConfig{Name: "local", Retriever: staticRetriever(""), LLM: llm})

	resp := agent.Process(context.Background(), ports.AgentRequest{Query: "q"})
	assert.False(t, resp.Success)
	assert.Equal(t, "local", resp.Agent)
	assert.Equal(t, "fake API quota exceeded. Please check your billing and plan details.", resp.Error)
}

func TestAgent_PanicIsRecovered(t *testing.T) {
	agent := NewAgent(testLogger(), AgentConfig{
		Name:      "boom",
		Retriever: retrieverFunc(func(context.Context, string) string { panic("retriever exploded") }),
		LLM:       newFakeLLM("x"),
	})

	var resp domain.AgentResponse
	assert.NotPanics(t, func() {
		resp = agent.Process(context.Background(), ports.AgentRequest{Query: "q"})
	})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "retriever exploded")
}

func TestAgent_NoLLM(t *testing.T) {
	agent := NewAgent(testLogger(), AgentConfig{Name: "x", Retriever: staticRetriever("")})
	resp := agent.Process(context.Background(), ports.AgentRequest{Query: "q"})
	assert.False(t, resp.Success)
	assert.Equal(t, domain.ErrNoModelCall.Error(), resp.Error)
}

func TestAgent_TracesSpan(t *testing.T) {
	tc := NewTraceCollector(testLogger(), nil, nil)
	ctx, traceID, _ := tc.StartTrace(context.Background(), "query", nil)
	agent := NewAgent(testLogger(), AgentConfig{Name: "local", Retriever: staticRetriever(""), LLM: newFakeLLM("ok"), Tracer: tc})

	agent.Process(ctx, ports.AgentRequest{Query: "q"})
	tc.EndTrace(traceID, domain.SpanStatusOK, "")

	trace, err := tc.GetTrace(context.Background(), traceID)
	require.NoError(t, err)
	var found bool
	for _, s := range trace.Spans {
		if s.Kind == domain.SpanKindAgent {
			found = true
			assert.Equal(t, "agent:local", s.Name)
			assert.Equal(t, domain.SpanStatusOK, s.Status)
		}
	}
	assert.True(t, found)
}

func TestLocalRetriever(t *testing.T) {
	docs := &memDocStore{}
	r := NewLocalRetriever(testLogger(), docs, &fakeEmbedder{}, "documents", nil)
	assert.Equal(t, "No relevant documents found in local data.", r.RetrieveContext(context.Background(), "anything"))

	docs.addText("1", "guide.md", "zebras live in africa "+strings.Repeat("z", 600))
	docs.addText("2", "", "quantum")
	out := r.RetrieveContext(context.Background(), "zebras")
	assert.True(t, strings.HasPrefix(out, "Relevant documents from local data:\n\n[1] Source: guide.md\nContent: zebras live in africa"))
	assert.Contains(t, out, "[2] Source: unknown\nContent: quantum...")
	assert.NotContains(t, out, strings.Repeat("z", 600))

	docs.err = errors.New("disk gone")
	assert.Contains(t, r.RetrieveContext(context.Background(), "x"), "Error retrieving local documents: search documents: disk gone")
}

func TestCloudRetriever(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "Cloud storage is not configured.", NewCloudRetriever(testLogger(), nil).RetrieveContext(ctx, "q"))

	store := &fakeObjectStore{}
	r := NewCloudRetriever(testLogger(), store)
	assert.Equal(t, "No documents found in S3 bucket 'test-bucket'.", r.RetrieveContext(ctx, "q"))

	for i := 0; i < 7; i++ {
		store.objects = append(store.objects, domain.ObjectInfo{Key: fmt.Sprintf("k%d.txt", i), Size: int64(i * 10)})
	}
	out := r.RetrieveContext(ctx, "q")
	assert.Equal(t, "Documents in S3 bucket 'test-bucket':\n- k0.txt (0 bytes)\n- k1.txt (10 bytes)\n- k2.txt (20 bytes)\n- k3.txt (30 bytes)\n- k4.txt (40 bytes)", out)

	store.err = errors.New("denied")
	assert.Equal(t, "Error retrieving from cloud storage: denied", r.RetrieveContext(ctx, "q"))
}

func TestWebRetriever_Unconfigured(t *testing.T) {
	r := NewWebRetriever(testLogger(), NewWebSearcher(testLogger(), domain.SearchConfig{}, nil))
	assert.Equal(t, "No relevant information found from web search.", r.RetrieveContext(context.Background(), "q"))
}

func TestSpecializedAgentsStatus(t *testing.T) {
	deps := AgentDeps{LLM: newFakeLLM("x"), Memory: domain.DefaultConfig().Memory}

	local, err := NewLocalAgent(testLogger(), deps, NewLocalRetriever(testLogger(), &memDocStore{}, &fakeEmbedder{}, "documents", nil), true)
	require.NoError(t, err)
	st := local.Status()
	assert.Equal(t, "local", st.Name)
	assert.Equal(t, "react", st.PlanningType)
	assert.Equal(t, []string{"calculator"}, st.Tools)

	search, err := NewSearchAgent(testLogger(), deps, NewWebSearcher(testLogger(), domain.SearchConfig{}, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"web_search"}, search.Status().Tools)

	cloud := NewCloudAgent(testLogger(), deps, nil, true)
	assert.Equal(t, "cot", cloud.Status().PlanningType)

	wh := NewWarehouseAgent(testLogger(), deps, newFakeSQL(), false)
	assert.False(t, wh.Status().PlanningEnabled)
	assert.Equal(t, []string{"database_query"}, wh.Status().Tools)
}

func TestWarehouseRetriever(t *testing.T) {
	db := newFakeSQL()
	llm := newFakeLLM("```sql\nSELECT * FROM orders\n```")
	r := NewWarehouseRetriever(testLogger(), db, llm)
	ctx := context.Background()

	schema := r.SchemaContext(ctx)
	assert.Contains(t, schema, "Table: customers\nColumns: id (INTEGER), name (VARCHAR)")
	assert.Contains(t, schema, "Table: orders\nColumns: id (INTEGER), total (DOUBLE)")

	// No data intent: schema only, no model call.
	assert.Equal(t, schema, r.RetrieveContext(ctx, "describe the sales model"))
	assert.Equal(t, 0, llm.calls())

	out := r.RetrieveContext(ctx, "show me all orders")
	assert.Contains(t, out, "\n\nQuery Results:\n")
	assert.Contains(t, out, `"total": 9.5`)
	assert.Equal(t, "SELECT * FROM orders LIMIT 100", db.lastQuery())
}

func TestWarehouseAgent_Process(t *testing.T) {
	db := newFakeSQL()
	llm := newFakeLLM("SELECT id, total FROM orders", "Two orders totalling 29.5")
	agent := NewWarehouseAgent(testLogger(), AgentDeps{LLM: llm}, db, false)

	resp := agent.Process(context.Background(), ports.AgentRequest{Query: "total of orders?"})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "Two orders totalling 29.5", resp.Answer)
	assert.Equal(t, "SELECT id, total FROM orders", resp.SQL)
	assert.Equal(t, "warehouse", resp.Agent)

	system := llm.chats[1][0].Content
	assert.Contains(t, system, "Context: Additional context:\nSQL Query: SELECT id, total FROM orders\n\nResults (2 rows):\n[")
}

func TestWarehouseAgent_RejectsUnsafeSQL(t *testing.T) {
	db := newFakeSQL()
	llm := newFakeLLM("DROP TABLE orders")
	agent := NewWarehouseAgent(testLogger(), AgentDeps{LLM: llm}, db, false)

	resp := agent.Process(context.Background(), ports.AgentRequest{Query: "wipe it"})
	assert.False(t, resp.Success)
	assert.Equal(t, "DROP TABLE orders", resp.SQL)
	assert.Contains(t, resp.Error, "Only SELECT queries are allowed")
	assert.Empty(t, db.queries)
}

func TestWarehouseAgent_QueryError(t *testing.T) {
	db := newFakeSQL()
	db.err = errors.New("no such column: foo")
	agent := NewWarehouseAgent(testLogger(), AgentDeps{LLM: newFakeLLM("SELECT foo FROM orders")}, db, false)

	resp := agent.Process(context.Background(), ports.AgentRequest{Query: "foo?"})
	assert.False(t, resp.Success)
	assert.Equal(t, "no such column: foo", resp.Error)
}
