package duckdb

import (
	"context"
	"testing"
	"time"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_Settings(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	v, err := repo.GetSetting(ctx, "llm.model")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, repo.SaveSetting(ctx, "llm.model", "gpt-4o"))
	require.NoError(t, repo.SaveSetting(ctx, "llm.model", "gpt-4o-mini"))
	v, err = repo.GetSetting(ctx, "llm.model")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", v)
}

func TestRepository_Documents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.AddDocuments(ctx, []domain.Document{
		{ID: "a", Collection: "documents", Content: "alpha", Metadata: map[string]interface{}{"source": "a.md"}, Embedding: []float32{1, 0, 0}},
		{ID: "b", Collection: "documents", Content: "beta", Embedding: []float32{0, 1, 0}},
		{ID: "c", Collection: "other", Content: "gamma", Embedding: []float32{1, 0, 0}},
		{Collection: "documents", Content: "near alpha", Embedding: []float32{0.9, 0.1, 0}},
	}))

	n, err := repo.CountDocuments(ctx, "documents")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := repo.SearchDocuments(ctx, "documents", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].ID)
	assert.Equal(t, "a.md", res[0].Source())
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
	assert.Equal(t, "near alpha", res[1].Content)
	assert.NotEmpty(t, res[1].ID)

	// Replacing keeps the count.
	require.NoError(t, repo.AddDocuments(ctx, []domain.Document{
		{ID: "a", Collection: "documents", Content: "alpha v2", Embedding: []float32{1, 0, 0}},
	}))
	n, _ = repo.CountDocuments(ctx, "documents")
	assert.Equal(t, 3, n)

	assert.Error(t, repo.AddDocuments(ctx, []domain.Document{{ID: "x", Collection: "documents"}}))
}

func TestRepository_Memories(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []domain.MemoryEntry{
		{ID: "m1", SessionID: "s1", Type: domain.MemoryConversation, Content: "likes go", Embedding: []float32{1, 0}, CreatedAt: now.Add(-2 * time.Minute)},
		{ID: "m2", SessionID: "s1", Type: domain.MemoryFact, Content: "lives in lisbon", Embedding: []float32{0, 1}, CreatedAt: now.Add(-time.Minute),
			Metadata: map[string]interface{}{"k": "v"}},
		{ID: "m3", SessionID: "s2", Type: domain.MemoryFact, Content: "other", Embedding: []float32{1, 0}, CreatedAt: now},
	}
	for _, e := range entries {
		require.NoError(t, repo.SaveMemory(ctx, e))
	}

	found, err := repo.SearchMemories(ctx, "s1", []float32{1, 0.1}, 5)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "m1", found[0].ID)
	assert.Greater(t, found[0].Score, found[1].Score)

	all, err := repo.SearchMemories(ctx, "", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	listed, err := repo.ListSessionMemories(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "m2", listed[0].ID)
	assert.Equal(t, domain.MemoryFact, listed[0].Type)
	assert.Equal(t, "v", listed[0].Metadata["k"])

	n, err := repo.DeleteSessionMemories(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRepository_Traces(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Millisecond)
	end := start.Add(150 * time.Millisecond)

	trace := &domain.Trace{
		TraceSummary: domain.TraceSummary{
			ID:         "t1",
			Name:       "basic: hello",
			Status:     domain.SpanStatusError,
			Tier:       "basic",
			SessionID:  "s1",
			Error:      "quota exceeded",
			StartTime:  start,
			DurationMs: 150,
			SpanCount:  2,
		},
		RootSpanID: "root",
		EndTime:    &end,
		Spans: []domain.Span{
			{ID: "root", TraceID: "t1", Name: "basic: hello", Kind: domain.SpanKindQuery, Status: domain.SpanStatusError, StartTime: start, EndTime: &end},
			{ID: "llm", TraceID: "t1", ParentID: "root", Name: "llm:basic", Kind: domain.SpanKindLLM, Status: domain.SpanStatusOK,
				Model: "gpt", Attributes: map[string]string{"tokens": "12"}, StartTime: start.Add(time.Millisecond)},
		},
	}
	require.NoError(t, repo.SaveTrace(ctx, trace))
	// Saving again upserts.
	require.NoError(t, repo.SaveTrace(ctx, trace))

	list, err := repo.ListTraces(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.TraceID("t1"), list[0].ID)
	assert.Equal(t, "basic", list[0].Tier)
	assert.Equal(t, "quota exceeded", list[0].Error)

	got, err := repo.GetTrace(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "basic", got.Tier)
	assert.Equal(t, domain.SpanID("root"), got.RootSpanID)
	require.NotNil(t, got.EndTime)
	require.Len(t, got.Spans, 2)
	assert.Equal(t, []domain.SpanID{"llm"}, got.Spans[0].Children)
	assert.Equal(t, domain.SpanID("root"), got.Spans[1].ParentID)
	assert.Equal(t, "12", got.Spans[1].Attributes["tokens"])

	_, err = repo.GetTrace(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTraceNotFound)
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[1,0.5,-2]", vectorLiteral([]float32{1, 0.5, -2}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}
