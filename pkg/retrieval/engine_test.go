package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/db"
	"github.com/quarrylabs/quarry/pkg/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, store db.Store, provider *llm.MockProvider, cfg Config) *Engine {
	t.Helper()
	engine, err := New(Deps{
		Store:    store,
		Expander: provider,
		Embedder: provider,
		Reranker: provider,
		Answerer: provider,
		Logger:   discardLogger(),
	}, cfg)
	require.NoError(t, err)
	return engine
}

func seedRepo(t *testing.T, store *db.MockStore, id string) {
	t.Helper()
	require.NoError(t, store.UpsertRepo(db.Repo{ID: id, Owner: "acme", Name: "demo", DefaultBranch: "main"}))
	require.NoError(t, store.MarkRepoIngested(id))
}

// unitEmbedder makes every query embed to the same unit vector, so
// distances depend only on the seeded record vectors
func unitEmbedder(provider *llm.MockProvider) {
	provider.Dim = 2
	provider.EmbedFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i := range texts {
			vectors[i] = []float32{1, 0}
		}
		return vectors, nil
	}
}

func seedEmbeddings(t *testing.T, store *db.MockStore, repoID string) {
	t.Helper()
	require.NoError(t, store.InsertEmbeddings([]db.EmbeddingRecord{
		{RepoID: repoID, NodeID: "n1", EmbeddedContent: "auth middleware summary", ChunkContent: "func AuthMiddleware(next http.Handler) http.Handler { ... }", Vector: []float32{1, 0}},
		{RepoID: repoID, NodeID: "n2", EmbeddedContent: "session store summary", ChunkContent: "type SessionStore struct { ... }", Vector: []float32{1, 1}},
		{RepoID: repoID, NodeID: "n3", EmbeddedContent: "unrelated build script", ChunkContent: "build: \n\tgo build ./...", Vector: []float32{0, 1}},
	}))
}

func TestQueryReturnsRerankedContext(t *testing.T) {
	store := db.NewMockStore()
	seedRepo(t, store, "r1")
	seedEmbeddings(t, store, "r1")

	provider := llm.NewMockProvider()
	unitEmbedder(provider)
	provider.RerankFunc = func(_ context.Context, _ string, documents []llm.Document, _ int) ([]llm.RankedDocument, error) {
		// Promote the second-nearest candidate
		return []llm.RankedDocument{
			{Index: 1, RelevanceScore: 0.92},
			{Index: 0, RelevanceScore: 0.41},
		}, nil
	}

	engine := newTestEngine(t, store, provider, DefaultConfig())
	answer, err := engine.Query(context.Background(), "r1", "how is authentication handled?")
	require.NoError(t, err)

	assert.Equal(t, "Answer to: how is authentication handled?", answer.Text)
	require.Len(t, answer.Context, 2)
	assert.Equal(t, "n2", answer.Context[0].NodeID)
	assert.Equal(t, 0.92, answer.Context[0].RelevanceScore)
	assert.Equal(t, 1, answer.Context[0].Index, "index points into the candidate pool, not the reranked order")
	assert.Equal(t, "n1", answer.Context[1].NodeID)
	assert.Equal(t, 0, answer.Context[1].Index)
}

func TestRerankKeepsCandidatePoolIndex(t *testing.T) {
	store := db.NewMockStore()
	seedRepo(t, store, "r1")
	seedEmbeddings(t, store, "r1")

	provider := llm.NewMockProvider()
	unitEmbedder(provider)
	provider.RerankFunc = func(_ context.Context, _ string, _ []llm.Document, _ int) ([]llm.RankedDocument, error) {
		// Only the farthest candidate survives reranking
		return []llm.RankedDocument{{Index: 2, RelevanceScore: 0.77}}, nil
	}

	engine := newTestEngine(t, store, provider, DefaultConfig())
	answer, err := engine.Query(context.Background(), "r1", "where is the config parsed?")
	require.NoError(t, err)

	require.Len(t, answer.Context, 1)
	assert.Equal(t, "n3", answer.Context[0].NodeID)
	assert.Equal(t, 2, answer.Context[0].Index)
}

func TestQueryDeduplicatesAcrossVariants(t *testing.T) {
	store := db.NewMockStore()
	seedRepo(t, store, "r1")
	require.NoError(t, store.InsertEmbeddings([]db.EmbeddingRecord{
		{RepoID: "r1", NodeID: "n1", EmbeddedContent: "summary", ChunkContent: "the only chunk", Vector: []float32{1, 0}},
	}))

	provider := llm.NewMockProvider()
	unitEmbedder(provider)
	// The default expansion mocks produce several query variants, all
	// of which hit the same record

	engine := newTestEngine(t, store, provider, DefaultConfig())
	answer, err := engine.Query(context.Background(), "r1", "what does this do?")
	require.NoError(t, err)

	require.Len(t, answer.Context, 1)
	assert.Equal(t, "the only chunk", answer.Context[0].Text)
	assert.Equal(t, 1, provider.CallCount("ExpandQuery:"))
	assert.Equal(t, 1, provider.CallCount("DecomposeQuery:"))
	assert.Equal(t, 1, provider.CallCount("HypotheticalAnswer:"))
}

func TestExpansionFailuresDoNotAbortQuery(t *testing.T) {
	store := db.NewMockStore()
	seedRepo(t, store, "r1")
	seedEmbeddings(t, store, "r1")

	provider := llm.NewMockProvider()
	unitEmbedder(provider)
	provider.ExpandQueryFunc = func(_ context.Context, _ string) (*llm.QueryExpansion, error) {
		return nil, errors.New("expansion unavailable")
	}
	provider.DecomposeQueryFunc = func(_ context.Context, _ string) (*llm.QueryDecomposition, error) {
		return nil, errors.New("decomposition unavailable")
	}
	provider.HypotheticalAnswerFunc = func(_ context.Context, _ string) (*llm.HyDEAnswer, error) {
		return nil, errors.New("hyde unavailable")
	}

	engine := newTestEngine(t, store, provider, DefaultConfig())
	answer, err := engine.Query(context.Background(), "r1", "how is authentication handled?")
	require.NoError(t, err)
	require.NotEmpty(t, answer.Context)

	// Only the original query was embedded
	assert.Equal(t, 1, provider.CallCount("Embed:1"))
}

func TestRerankFallbackUsesDistanceOrder(t *testing.T) {
	store := db.NewMockStore()
	seedRepo(t, store, "r1")
	seedEmbeddings(t, store, "r1")

	provider := llm.NewMockProvider()
	unitEmbedder(provider)
	provider.RerankFunc = func(_ context.Context, _ string, _ []llm.Document, _ int) ([]llm.RankedDocument, error) {
		return nil, errors.New("rerank service down")
	}

	engine := newTestEngine(t, store, provider, DefaultConfig())
	answer, err := engine.Query(context.Background(), "r1", "how is authentication handled?")
	require.NoError(t, err)

	require.Len(t, answer.Context, 3)
	assert.Equal(t, "n1", answer.Context[0].NodeID)
	assert.Equal(t, "n2", answer.Context[1].NodeID)
	assert.Equal(t, "n3", answer.Context[2].NodeID)
	assert.Greater(t, answer.Context[0].RelevanceScore, answer.Context[1].RelevanceScore)
}

func TestEmptyIndexReturnsFallbackAnswer(t *testing.T) {
	store := db.NewMockStore()
	seedRepo(t, store, "r1")

	provider := llm.NewMockProvider()
	unitEmbedder(provider)

	engine := newTestEngine(t, store, provider, DefaultConfig())
	answer, err := engine.Query(context.Background(), "r1", "anything at all?")
	require.NoError(t, err)

	assert.Contains(t, answer.Text, "No relevant context")
	assert.Empty(t, answer.Context)
	assert.Zero(t, provider.CallCount("GenerateAnswer:"))
}

func TestQueryValidation(t *testing.T) {
	store := db.NewMockStore()
	seedRepo(t, store, "r1")
	provider := llm.NewMockProvider()

	engine := newTestEngine(t, store, provider, DefaultConfig())

	_, err := engine.Query(context.Background(), "r1", "   ")
	assert.Error(t, err)

	_, err = engine.Query(context.Background(), "missing", "a question")
	assert.Error(t, err)
}
