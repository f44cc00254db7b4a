package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/db"
	"github.com/quarrylabs/quarry/pkg/llm"
	"github.com/quarrylabs/quarry/pkg/queue"
	"github.com/quarrylabs/quarry/pkg/tree"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubTreeSource struct {
	tree *tree.Tree
	err  error
}

func (s stubTreeSource) FetchTree(_ context.Context, _ db.Repo) (*tree.Tree, error) {
	return s.tree, s.err
}

type stubFetcher struct {
	contents map[string]string
	err      error
}

func (s stubFetcher) FetchContent(_ context.Context, _ db.Repo, node db.Node) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.contents[node.Path], nil
}

func newTestEngine(t *testing.T, store db.Store, provider *llm.MockProvider, source TreeSource, fetcher ContentFetcher, cfg Config) (*Engine, func()) {
	t.Helper()
	queues := queue.NewService(discardLogger())
	engine, err := New(Deps{
		Store:      store,
		Fetcher:    fetcher,
		TreeSource: source,
		Pruner:     provider,
		Summarizer: provider,
		Questions:  provider,
		Embedder:   provider,
		Queues:     queues,
		Events:     queue.NewEventBus(),
		Logger:     discardLogger(),
	}, cfg)
	require.NoError(t, err)
	require.NoError(t, queues.Start(context.Background()))
	return engine, queues.Stop
}

const sampleGoFile = `package util

import "strings"

func Upper(s string) string {
	return strings.ToUpper(s)
}

func Lower(s string) string {
	return strings.ToLower(s)
}
`

func fixtureTree() *tree.Tree {
	return &tree.Tree{
		SHA: "abc123",
		Entries: []tree.Entry{
			{Path: "cmd", Type: tree.EntryFolder, SHA: "t1"},
			{Path: "cmd/main.go", Type: tree.EntryFile, SHA: "b1", Size: 120},
			{Path: "pkg", Type: tree.EntryFolder, SHA: "t2"},
			{Path: "pkg/util", Type: tree.EntryFolder, SHA: "t3"},
			{Path: "pkg/util/util.go", Type: tree.EntryFile, SHA: "b2", Size: 140},
			{Path: "pkg/util/strings.go", Type: tree.EntryFile, SHA: "b3", Size: 140},
			{Path: "README.md", Type: tree.EntryFile, SHA: "b4", Size: 80},
		},
	}
}

func fixtureContents() map[string]string {
	return map[string]string{
		"cmd/main.go":         "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n",
		"pkg/util/util.go":    sampleGoFile,
		"pkg/util/strings.go": sampleGoFile,
		"README.md":           "# demo\n\nA sample project.\n",
	}
}

func waitForRoot(t *testing.T, store db.Store, repoID string) *db.Node {
	t.Helper()
	require.Eventually(t, func() bool {
		root, err := store.GetNode(repoID, "/")
		if err != nil {
			return false
		}
		return root.Status == db.StatusCompleted && root.UpstreamSummary != nil
	}, 5*time.Second, 10*time.Millisecond)
	root, err := store.GetNode(repoID, "/")
	require.NoError(t, err)
	return root
}

func TestIngestConvergesTree(t *testing.T) {
	store := db.NewMockStore()
	require.NoError(t, store.UpsertRepo(db.Repo{ID: "r1", Owner: "acme", Name: "demo", DefaultBranch: "main"}))
	provider := llm.NewMockProvider()

	engine, stop := newTestEngine(t, store, provider,
		stubTreeSource{tree: fixtureTree()},
		stubFetcher{contents: fixtureContents()},
		DefaultConfig())
	defer stop()

	require.NoError(t, engine.Ingest(context.Background(), "r1"))
	waitForRoot(t, store, "r1")

	repo, err := store.GetRepo("r1")
	require.NoError(t, err)
	assert.True(t, repo.Initialized)
	assert.True(t, repo.Ingested)

	// Chunk work may still be in flight when the root completes, the
	// parent trigger fires on the file summary alone
	require.Eventually(t, func() bool {
		nodes, err := store.ListNodes("r1")
		if err != nil {
			return false
		}
		for _, node := range nodes {
			if node.Status != db.StatusCompleted || node.UpstreamSummary == nil {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	count, err := store.CountEmbeddings("r1")
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}

func TestEmptyFileCompletesBenignly(t *testing.T) {
	store := db.NewMockStore()
	require.NoError(t, store.UpsertRepo(db.Repo{ID: "r1", Owner: "acme", Name: "demo", DefaultBranch: "main"}))
	provider := llm.NewMockProvider()

	source := stubTreeSource{tree: &tree.Tree{
		SHA:     "abc",
		Entries: []tree.Entry{{Path: "NOTES.md", Type: tree.EntryFile, SHA: "b1"}},
	}}

	engine, stop := newTestEngine(t, store, provider, source, stubFetcher{contents: map[string]string{"NOTES.md": "   \n"}}, DefaultConfig())
	defer stop()

	require.NoError(t, engine.Ingest(context.Background(), "r1"))
	root := waitForRoot(t, store, "r1")

	file, err := store.GetNode("r1", "NOTES.md")
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, file.Status)
	require.NotNil(t, file.UpstreamSummary)
	assert.Equal(t, "This file is empty", *file.UpstreamSummary)

	// Single child, so the root's summary is the file's verbatim
	assert.Equal(t, "This file is empty", *root.UpstreamSummary)
	assert.Zero(t, provider.CallCount("SummarizeCode:NOTES.md"))

	count, err := store.CountEmbeddings("r1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSingleChildFolderPassesSummaryThrough(t *testing.T) {
	store := db.NewMockStore()
	require.NoError(t, store.UpsertRepo(db.Repo{ID: "r1", Owner: "acme", Name: "demo", DefaultBranch: "main"}))
	provider := llm.NewMockProvider()

	source := stubTreeSource{tree: &tree.Tree{
		SHA: "abc",
		Entries: []tree.Entry{
			{Path: "lib", Type: tree.EntryFolder, SHA: "t1"},
			{Path: "lib/a.go", Type: tree.EntryFile, SHA: "b1", Size: 100},
			{Path: "main.go", Type: tree.EntryFile, SHA: "b2", Size: 100},
		},
	}}
	fetcher := stubFetcher{contents: map[string]string{
		"lib/a.go": sampleGoFile,
		"main.go":  "package main\n\nfunc main() {}\n",
	}}

	engine, stop := newTestEngine(t, store, provider, source, fetcher, DefaultConfig())
	defer stop()

	require.NoError(t, engine.Ingest(context.Background(), "r1"))
	waitForRoot(t, store, "r1")

	folder, err := store.GetNode("r1", "lib")
	require.NoError(t, err)
	file, err := store.GetNode("r1", "lib/a.go")
	require.NoError(t, err)

	require.NotNil(t, folder.UpstreamSummary)
	require.NotNil(t, file.UpstreamSummary)
	assert.Equal(t, *file.UpstreamSummary, *folder.UpstreamSummary)
	assert.Zero(t, provider.CallCount("SummarizeFolder:lib"))
	assert.Equal(t, 1, provider.CallCount("SummarizeFolder:/"))
}

func TestDuplicateFolderTriggerIsNoOp(t *testing.T) {
	store := db.NewMockStore()
	require.NoError(t, store.UpsertRepo(db.Repo{ID: "r1", Owner: "acme", Name: "demo", DefaultBranch: "main"}))
	provider := llm.NewMockProvider()

	engine, stop := newTestEngine(t, store, provider,
		stubTreeSource{tree: fixtureTree()}, stubFetcher{}, DefaultConfig())
	defer stop()

	summaryA := "Summary of a.go"
	summaryB := "Summary of b.go"
	folderID, err := store.UpsertNode(db.Node{ID: "folder-1", RepoID: "r1", Path: "internal", Type: db.NodeTypeFolder, Status: db.StatusPending})
	require.NoError(t, err)
	_, err = store.UpsertNode(db.Node{ID: "file-a", RepoID: "r1", Path: "internal/a.go", Type: db.NodeTypeFile, Status: db.StatusCompleted, ParentID: &folderID, UpstreamSummary: &summaryA})
	require.NoError(t, err)
	_, err = store.UpsertNode(db.Node{ID: "file-b", RepoID: "r1", Path: "internal/b.go", Type: db.NodeTypeFile, Status: db.StatusCompleted, ParentID: &folderID, UpstreamSummary: &summaryB})
	require.NoError(t, err)

	payload, err := json.Marshal(nodePayload{NodeID: folderID, RepoID: "r1", Path: "internal"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, engine.handleFolderJob(context.Background(), payload))
	}

	assert.Equal(t, 1, provider.CallCount("SummarizeFolder:internal"))

	completions := 0
	for _, update := range store.StatusUpdates {
		if update == folderID+":"+string(db.StatusCompleted) {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
}

func TestFolderJobWaitsForUnreadyChildren(t *testing.T) {
	store := db.NewMockStore()
	require.NoError(t, store.UpsertRepo(db.Repo{ID: "r1", Owner: "acme", Name: "demo", DefaultBranch: "main"}))
	provider := llm.NewMockProvider()

	engine, stop := newTestEngine(t, store, provider,
		stubTreeSource{tree: fixtureTree()}, stubFetcher{}, DefaultConfig())
	defer stop()

	summary := "done"
	folderID, err := store.UpsertNode(db.Node{ID: "folder-1", RepoID: "r1", Path: "internal", Type: db.NodeTypeFolder, Status: db.StatusPending})
	require.NoError(t, err)
	_, err = store.UpsertNode(db.Node{ID: "file-a", RepoID: "r1", Path: "internal/a.go", Type: db.NodeTypeFile, Status: db.StatusCompleted, ParentID: &folderID, UpstreamSummary: &summary})
	require.NoError(t, err)
	_, err = store.UpsertNode(db.Node{ID: "file-b", RepoID: "r1", Path: "internal/b.go", Type: db.NodeTypeFile, Status: db.StatusProcessing, ParentID: &folderID})
	require.NoError(t, err)

	payload, err := json.Marshal(nodePayload{NodeID: folderID, RepoID: "r1", Path: "internal"})
	require.NoError(t, err)
	require.NoError(t, engine.handleFolderJob(context.Background(), payload))

	folder, err := store.GetNodeByID(folderID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusPending, folder.Status)
	assert.Zero(t, provider.CallCount("SummarizeFolder:internal"))
}

func TestFileJobEmbedsPrefixAndChunks(t *testing.T) {
	store := db.NewMockStore()
	require.NoError(t, store.UpsertRepo(db.Repo{ID: "r1", Owner: "acme", Name: "demo", DefaultBranch: "main"}))
	provider := llm.NewMockProvider()

	content := strings.Repeat(sampleGoFile, 6)
	cfg := DefaultConfig()
	cfg.ChunkSize = 64
	cfg.ChunkOverlap = 8

	engine, stop := newTestEngine(t, store, provider,
		stubTreeSource{tree: fixtureTree()},
		stubFetcher{contents: map[string]string{"main.go": content}},
		cfg)
	defer stop()

	_, err := store.UpsertNode(db.Node{ID: "f1", RepoID: "r1", Path: "main.go", Type: db.NodeTypeFile, Status: db.StatusPending})
	require.NoError(t, err)

	payload, err := json.Marshal(nodePayload{NodeID: "f1", RepoID: "r1", Path: "main.go"})
	require.NoError(t, err)
	require.NoError(t, engine.handleFileJob(context.Background(), payload))

	node, err := store.GetNodeByID("f1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, node.Status)
	require.NotNil(t, node.UpstreamSummary)

	prefix := content[:2*cfg.ChunkSize]
	records := store.EmbeddingsForNode("f1")
	require.NotEmpty(t, records)

	var prefixRecords, rawChunkRecords int
	for _, rec := range records {
		if rec.ChunkContent == prefix {
			prefixRecords++
		}
		if rec.EmbeddedContent == rec.ChunkContent && rec.ChunkContent != prefix {
			rawChunkRecords++
		}
	}
	assert.Greater(t, prefixRecords, 0, "file-level artifacts should anchor on the content prefix")
	assert.Greater(t, rawChunkRecords, 1, "each chunk should be embedded as raw content")
}

func TestFileJobPrefixBreaksOnRuneBoundary(t *testing.T) {
	store := db.NewMockStore()
	require.NoError(t, store.UpsertRepo(db.Repo{ID: "r1", Owner: "acme", Name: "demo", DefaultBranch: "main"}))
	provider := llm.NewMockProvider()

	// Three-byte runes, so a prefix cut at 2*ChunkSize=16 bytes would
	// land mid-rune
	content := strings.Repeat("世", 60)
	cfg := DefaultConfig()
	cfg.ChunkSize = 8
	cfg.ChunkOverlap = 2

	engine, stop := newTestEngine(t, store, provider,
		stubTreeSource{tree: fixtureTree()},
		stubFetcher{contents: map[string]string{"main.go": content}},
		cfg)
	defer stop()

	_, err := store.UpsertNode(db.Node{ID: "f1", RepoID: "r1", Path: "main.go", Type: db.NodeTypeFile, Status: db.StatusPending})
	require.NoError(t, err)

	payload, err := json.Marshal(nodePayload{NodeID: "f1", RepoID: "r1", Path: "main.go"})
	require.NoError(t, err)
	require.NoError(t, engine.handleFileJob(context.Background(), payload))

	wantPrefix := strings.Repeat("世", 5)
	var prefixRecords int
	for _, rec := range store.EmbeddingsForNode("f1") {
		assert.True(t, utf8.ValidString(rec.ChunkContent))
		if rec.ChunkContent == wantPrefix {
			prefixRecords++
		}
	}
	assert.Greater(t, prefixRecords, 0)
}

func TestFileJobEmbedFailureMarksNodeFailed(t *testing.T) {
	store := db.NewMockStore()
	require.NoError(t, store.UpsertRepo(db.Repo{ID: "r1", Owner: "acme", Name: "demo", DefaultBranch: "main"}))
	provider := llm.NewMockProvider()
	provider.EmbedFunc = func(_ context.Context, _ []string) ([][]float32, error) {
		return nil, errors.New("embedding service unavailable")
	}

	engine, stop := newTestEngine(t, store, provider,
		stubTreeSource{tree: fixtureTree()},
		stubFetcher{contents: map[string]string{"main.go": sampleGoFile}},
		DefaultConfig())
	defer stop()

	_, err := store.UpsertNode(db.Node{ID: "f1", RepoID: "r1", Path: "main.go", Type: db.NodeTypeFile, Status: db.StatusPending})
	require.NoError(t, err)

	payload, err := json.Marshal(nodePayload{NodeID: "f1", RepoID: "r1", Path: "main.go"})
	require.NoError(t, err)
	require.Error(t, engine.handleFileJob(context.Background(), payload))

	node, err := store.GetNodeByID("f1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, node.Status)
}

func TestIngestPruneFailsOpen(t *testing.T) {
	store := db.NewMockStore()
	require.NoError(t, store.UpsertRepo(db.Repo{ID: "r1", Owner: "acme", Name: "demo", DefaultBranch: "main"}))
	provider := llm.NewMockProvider()
	provider.PruneTreeFunc = func(_ context.Context, _ string) (*llm.PruneSuggestions, error) {
		return nil, errors.New("model overloaded")
	}

	engine, stop := newTestEngine(t, store, provider,
		stubTreeSource{tree: fixtureTree()},
		stubFetcher{contents: fixtureContents()},
		DefaultConfig())
	defer stop()

	require.NoError(t, engine.Ingest(context.Background(), "r1"))
	waitForRoot(t, store, "r1")

	// Every statically filtered entry survived despite the failed pass
	for path := range fixtureContents() {
		_, err := store.GetNode("r1", path)
		assert.NoError(t, err, "expected %s to be ingested", path)
	}
}

func TestIngestAppliesPruneSuggestions(t *testing.T) {
	store := db.NewMockStore()
	require.NoError(t, store.UpsertRepo(db.Repo{ID: "r1", Owner: "acme", Name: "demo", DefaultBranch: "main"}))
	provider := llm.NewMockProvider()
	provider.PruneTreeFunc = func(_ context.Context, _ string) (*llm.PruneSuggestions, error) {
		return &llm.PruneSuggestions{
			PathsToExclude: []llm.PruneExclusion{
				{Path: "pkg", Reason: "generated"},
				{Path: "does/not/exist.go", Reason: "stale suggestion"},
			},
		}, nil
	}

	engine, stop := newTestEngine(t, store, provider,
		stubTreeSource{tree: fixtureTree()},
		stubFetcher{contents: fixtureContents()},
		DefaultConfig())
	defer stop()

	require.NoError(t, engine.Ingest(context.Background(), "r1"))
	waitForRoot(t, store, "r1")

	_, err := store.GetNode("r1", "pkg/util/util.go")
	assert.Error(t, err, "pruned subtree should not be persisted")
	_, err = store.GetNode("r1", "cmd/main.go")
	assert.NoError(t, err)
}

func TestIngestConvergesWhenPruneEmptiesFolder(t *testing.T) {
	store := db.NewMockStore()
	require.NoError(t, store.UpsertRepo(db.Repo{ID: "r1", Owner: "acme", Name: "demo", DefaultBranch: "main"}))
	provider := llm.NewMockProvider()
	provider.PruneTreeFunc = func(_ context.Context, _ string) (*llm.PruneSuggestions, error) {
		// Excludes the folder's only file but not the folder itself
		return &llm.PruneSuggestions{
			PathsToExclude: []llm.PruneExclusion{{Path: "docs/readme.md", Reason: "prose"}},
		}, nil
	}

	source := stubTreeSource{tree: &tree.Tree{Entries: []tree.Entry{
		{Path: "main.go", Type: tree.EntryFile, Size: 64},
		{Path: "docs", Type: tree.EntryFolder},
		{Path: "docs/readme.md", Type: tree.EntryFile, Size: 64},
	}}}
	fetcher := stubFetcher{contents: map[string]string{
		"main.go":        sampleGoFile,
		"docs/readme.md": "# demo\n",
	}}

	engine, stop := newTestEngine(t, store, provider, source, fetcher, DefaultConfig())
	defer stop()

	require.NoError(t, engine.Ingest(context.Background(), "r1"))
	waitForRoot(t, store, "r1")

	_, err := store.GetNode("r1", "docs")
	assert.Error(t, err, "childless folder should not be persisted")
}

func TestSkipIngestionMarksRepo(t *testing.T) {
	store := db.NewMockStore()
	require.NoError(t, store.UpsertRepo(db.Repo{ID: "r1", Owner: "acme", Name: "demo", DefaultBranch: "main"}))
	provider := llm.NewMockProvider()

	engine, stop := newTestEngine(t, store, provider,
		stubTreeSource{tree: fixtureTree()}, stubFetcher{}, DefaultConfig())
	defer stop()

	require.NoError(t, engine.SkipIngestion("r1"))
	repo, err := store.GetRepo("r1")
	require.NoError(t, err)
	assert.True(t, repo.Ingested)
}
