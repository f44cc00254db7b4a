package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quarrylabs/quarry/pkg/db"
	"github.com/quarrylabs/quarry/pkg/llm"
	"github.com/quarrylabs/quarry/pkg/metrics"
	"github.com/quarrylabs/quarry/pkg/queue"
	"github.com/quarrylabs/quarry/pkg/tree"
)

// Queue names for ingestion jobs
const (
	FileQueue   = "fileIngest"
	FolderQueue = "folderIngest"
)

// ContentFetcher resolves a node's raw file content
type ContentFetcher interface {
	FetchContent(ctx context.Context, repo db.Repo, node db.Node) (string, error)
}

// TreeSource lists a repository's file tree at its default branch
type TreeSource interface {
	FetchTree(ctx context.Context, repo db.Repo) (*tree.Tree, error)
}

// Config tunes the ingestion pipeline
type Config struct {
	ChunkSize    int
	ChunkOverlap int

	// LeafBatchSize bounds how many file jobs are enqueued per batch
	LeafBatchSize int
	// ChunkBatchSize bounds how many chunks are summarized concurrently
	ChunkBatchSize int
	// EmbedBatchSize bounds texts per embedding call
	EmbedBatchSize int
	// FolderFanIn caps how many child summaries feed a folder prompt
	FolderFanIn int

	FileWorkers   int
	FolderWorkers int
	QueueBuffer   int

	// SkipLLMPrune disables the model-assisted tree pruning pass
	SkipLLMPrune bool
}

// DefaultConfig returns the standard pipeline tuning
func DefaultConfig() Config {
	return Config{
		ChunkSize:      4096,
		ChunkOverlap:   256,
		LeafBatchSize:  100,
		ChunkBatchSize: 100,
		EmbedBatchSize: 40,
		FolderFanIn:    10,
		FileWorkers:    4,
		FolderWorkers:  2,
		QueueBuffer:    1024,
	}
}

// Engine drives bottom-up ingestion of a repository graph. Files are
// processed first; a folder becomes eligible once every child has
// written its upstream summary. Coordination happens entirely through
// persisted state, so racing or duplicated triggers degrade to no-ops.
type Engine struct {
	store      db.Store
	fetcher    ContentFetcher
	treeSource TreeSource
	pruner     llm.TreePruner
	summarizer llm.Summarizer
	questions  llm.QuestionGenerator
	embedder   llm.EmbeddingProvider
	queues     *queue.Service
	events     *queue.EventBus
	logger     *slog.Logger
	cfg        Config
}

// Deps bundles the engine's collaborators
type Deps struct {
	Store      db.Store
	Fetcher    ContentFetcher
	TreeSource TreeSource
	Pruner     llm.TreePruner
	Summarizer llm.Summarizer
	Questions  llm.QuestionGenerator
	Embedder   llm.EmbeddingProvider
	Queues     *queue.Service
	Events     *queue.EventBus
	Logger     *slog.Logger
}

// New creates an ingestion engine and registers its queues
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("content fetcher is required")
	}
	if deps.TreeSource == nil {
		return nil, fmt.Errorf("tree source is required")
	}
	if deps.Summarizer == nil || deps.Questions == nil || deps.Embedder == nil {
		return nil, fmt.Errorf("llm providers are required")
	}
	if deps.Queues == nil {
		return nil, fmt.Errorf("queue service is required")
	}
	if deps.Events == nil {
		deps.Events = queue.NewEventBus()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.ChunkSize <= 0 {
		cfg = DefaultConfig()
	}

	engine := &Engine{
		store:      deps.Store,
		fetcher:    deps.Fetcher,
		treeSource: deps.TreeSource,
		pruner:     deps.Pruner,
		summarizer: deps.Summarizer,
		questions:  deps.Questions,
		embedder:   deps.Embedder,
		queues:     deps.Queues,
		events:     deps.Events,
		logger:     deps.Logger,
		cfg:        cfg,
	}

	if err := deps.Queues.Register(FileQueue, cfg.FileWorkers, cfg.QueueBuffer, engine.handleFileJob); err != nil {
		return nil, fmt.Errorf("failed to register file queue: %w", err)
	}
	if err := deps.Queues.Register(FolderQueue, cfg.FolderWorkers, cfg.QueueBuffer, engine.handleFolderJob); err != nil {
		return nil, fmt.Errorf("failed to register folder queue: %w", err)
	}
	return engine, nil
}

// Events exposes the progress event bus
func (e *Engine) Events() *queue.EventBus {
	return e.events
}

// nodePayload identifies the node a queued job operates on
type nodePayload struct {
	NodeID string `json:"nodeId"`
	RepoID string `json:"repoId"`
	Path   string `json:"path"`
}

func (e *Engine) emit(repoID, nodeID, queueName string, status db.Status, percentage float64) {
	e.events.Publish(repoID, queue.Event{
		NodeID:     nodeID,
		Queue:      queueName,
		Status:     string(status),
		Percentage: percentage,
	})
}

// setStatus persists a node status change and publishes it
func (e *Engine) setStatus(node *db.Node, queueName string, status db.Status) error {
	if err := e.store.UpdateNodeStatus(node.ID, status); err != nil {
		return err
	}
	node.Status = status
	e.emit(node.RepoID, node.ID, queueName, status, 0)
	return nil
}

// pendingEmbedding is one text waiting to be embedded and stored
type pendingEmbedding struct {
	embeddedContent string
	chunkContent    string
}

// embedAndStore embeds texts in bounded batches and inserts the
// resulting records
func (e *Engine) embedAndStore(ctx context.Context, node *db.Node, pending []pendingEmbedding) error {
	for start := 0; start < len(pending); start += e.cfg.EmbedBatchSize {
		end := start + e.cfg.EmbedBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, item := range batch {
			texts[i] = item.embeddedContent
		}

		vectors, err := e.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch failed: %w", err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding count mismatch: sent %d, got %d", len(batch), len(vectors))
		}

		records := make([]db.EmbeddingRecord, len(batch))
		for i, item := range batch {
			records[i] = db.EmbeddingRecord{
				RepoID:          node.RepoID,
				NodeID:          node.ID,
				EmbeddedContent: item.embeddedContent,
				ChunkContent:    item.chunkContent,
				Vector:          vectors[i],
			}
		}
		if err := e.store.InsertEmbeddings(records); err != nil {
			return fmt.Errorf("failed to insert embeddings: %w", err)
		}
		metrics.EmbeddingsInserted.Add(float64(len(records)))
	}
	return nil
}

// summaryEmbeddings expands a code summary into its embeddable texts
func summaryEmbeddings(summary *llm.CodeSummary, chunkContent string) []pendingEmbedding {
	if summary == nil {
		return nil
	}
	pending := []pendingEmbedding{
		{embeddedContent: summary.Summary, chunkContent: chunkContent},
	}
	for _, element := range summary.KeyElements {
		pending = append(pending, pendingEmbedding{
			embeddedContent: fmt.Sprintf("%s: %s - %s", element.Type, element.Name, element.Description),
			chunkContent:    chunkContent,
		})
	}
	if summary.TechnicalDetails.PrimaryPurpose != "" {
		pending = append(pending, pendingEmbedding{
			embeddedContent: summary.TechnicalDetails.PrimaryPurpose,
			chunkContent:    chunkContent,
		})
	}
	return pending
}

// questionEmbeddings expands generated questions into embeddable texts
func questionEmbeddings(questions *llm.PossibleQuestions, chunkContent string) []pendingEmbedding {
	if questions == nil {
		return nil
	}
	var pending []pendingEmbedding
	for _, q := range questions.FunctionalityQuestions {
		pending = append(pending, pendingEmbedding{
			embeddedContent: q.Question,
			chunkContent:    chunkContent,
		})
	}
	return pending
}
