package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// scriptedModel replays canned responses in order; the last one repeats.
type scriptedModel struct {
	mu        sync.Mutex
	responses []string
	errs      map[int]error
	prompts   []string
}

func newScriptedModel(responses ...string) *scriptedModel {
	return &scriptedModel{responses: responses, errs: map[int]error{}}
}

func (m *scriptedModel) failAt(call int, err error) *scriptedModel {
	m.errs[call] = err
	return m
}

func (m *scriptedModel) Call(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	if err, ok := m.errs[idx]; ok {
		return "", err
	}
	if len(m.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	if idx >= len(m.responses) {
		return m.responses[len(m.responses)-1], nil
	}
	return m.responses[idx], nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func (m *scriptedModel) prompt(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[i]
}

// fakeLLM is a domain.LLMProvider backed by a scriptedModel.
type fakeLLM struct {
	*scriptedModel
	chats [][]domain.Message
}

func newFakeLLM(responses ...string) *fakeLLM {
	return &fakeLLM{scriptedModel: newScriptedModel(responses...)}
}

func (f *fakeLLM) GenerateText(ctx context.Context, prompt string) (string, error) {
	return f.Call(ctx, prompt)
}

func (f *fakeLLM) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	f.mu.Lock()
	f.chats = append(f.chats, append([]domain.Message(nil), messages...))
	f.mu.Unlock()
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(string(m.Role) + ": " + m.Content + "\n")
	}
	return f.Call(ctx, sb.String())
}

func (f *fakeLLM) Name() string  { return "fake" }
func (f *fakeLLM) Model() string { return "fake-model" }

// stubAgent returns a fixed response.
type stubAgent struct {
	name     string
	resp     domain.AgentResponse
	panicMsg string
	calls    int
	mu       sync.Mutex
}

func (s *stubAgent) Name() string        { return s.name }
func (s *stubAgent) Description() string { return s.name + " stub" }
func (s *stubAgent) RetrieveContext(context.Context, string) string {
	return ""
}

func (s *stubAgent) Process(_ context.Context, _ ports.AgentRequest) domain.AgentResponse {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	r := s.resp
	r.Agent = s.name
	return r
}

func okAgent(name, answer string) *stubAgent {
	return &stubAgent{name: name, resp: domain.AgentResponse{Success: true, Answer: answer}}
}

func failAgent(name, msg string) *stubAgent {
	return &stubAgent{name: name, resp: domain.AgentResponse{Success: false, Error: msg}}
}

// fakeEmbedder maps texts onto a tiny bag-of-letters vector.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls += len(texts)
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 26)
		for _, r := range strings.ToLower(t) {
			if r >= 'a' && r <= 'z' {
				v[r-'a']++
			}
		}
		out[i] = v
	}
	return out, nil
}

// fakeSQL is a ports.SQLDatabase serving fixed tables and recording queries.
type fakeSQL struct {
	mu      sync.Mutex
	tables  map[string][]domain.Column
	rows    []map[string]interface{}
	err     error
	queries []string
}

func newFakeSQL() *fakeSQL {
	return &fakeSQL{
		tables: map[string][]domain.Column{
			"orders":    {{Name: "id", Type: "INTEGER"}, {Name: "total", Type: "DOUBLE", Nullable: true}},
			"customers": {{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "VARCHAR"}},
		},
		rows: []map[string]interface{}{{"id": 1, "total": 9.5}, {"id": 2, "total": 20.0}},
	}
}

func (f *fakeSQL) Query(_ context.Context, sql string) (*domain.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sql)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.QueryResult{Columns: []string{"id", "total"}, Rows: f.rows}, nil
}

func (f *fakeSQL) ListTables(context.Context) ([]string, error) {
	return []string{"customers", "orders"}, nil
}

func (f *fakeSQL) DescribeTable(_ context.Context, table string) (*domain.TableSchema, error) {
	cols, ok := f.tables[table]
	if !ok {
		return nil, errors.New("table not found: " + table)
	}
	return &domain.TableSchema{Name: table, Columns: cols}, nil
}

func (f *fakeSQL) Dialect() string { return "duckdb" }

func (f *fakeSQL) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

// memDocStore is an in-process ports.DocumentStore.
type memDocStore struct {
	mu   sync.Mutex
	docs []domain.Document
	err  error
}

func (s *memDocStore) AddDocuments(_ context.Context, docs []domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, docs...)
	return nil
}

func (s *memDocStore) SearchDocuments(_ context.Context, collection string, embedding []float32, limit int) ([]domain.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.SearchResult
	for _, d := range s.docs {
		if d.Collection == collection {
			out = append(out, domain.SearchResult{Document: d, Score: cosine(d.Embedding, embedding)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memDocStore) CountDocuments(_ context.Context, collection string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.docs {
		if d.Collection == collection {
			n++
		}
	}
	return n, nil
}

// addText embeds and stores a document with the given source.
func (s *memDocStore) addText(id, source, content string) {
	vecs, _ := (&fakeEmbedder{}).Embed(context.Background(), []string{content})
	_ = s.AddDocuments(context.Background(), []domain.Document{{
		ID:         id,
		Collection: "documents",
		Content:    content,
		Metadata:   map[string]interface{}{"source": source},
		Embedding:  vecs[0],
	}})
}

// fakeObjectStore is a ports.ObjectStore with fixed contents.
type fakeObjectStore struct {
	objects []domain.ObjectInfo
	err     error
}

func (s *fakeObjectStore) ListObjects(_ context.Context, _ string, max int) ([]domain.ObjectInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.objects) > max {
		return s.objects[:max], nil
	}
	return s.objects, nil
}

func (s *fakeObjectStore) Location() string { return "S3 bucket 'test-bucket'" }
