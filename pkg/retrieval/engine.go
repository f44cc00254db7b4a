package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quarrylabs/quarry/pkg/db"
	"github.com/quarrylabs/quarry/pkg/llm"
	"github.com/quarrylabs/quarry/pkg/metrics"
)

// Config tunes the retrieval pipeline
type Config struct {
	SearchK       int // nearest neighbors fetched per search query
	TopN          int // context items kept after reranking
	MaxCandidates int // deduplicated candidates offered to the reranker
}

// DefaultConfig returns the standard retrieval tuning
func DefaultConfig() Config {
	return Config{
		SearchK:       25,
		TopN:          10,
		MaxCandidates: 100,
	}
}

// Engine answers natural-language questions about an ingested
// repository. A query is expanded into alternative phrasings,
// sub-questions and a hypothetical answer; every variant is searched,
// results are deduplicated and reranked against the original query,
// and the surviving context feeds the answer model.
type Engine struct {
	store    db.Store
	expander llm.QueryExpander
	embedder llm.EmbeddingProvider
	reranker llm.Reranker
	answerer llm.AnswerGenerator
	logger   *slog.Logger
	cfg      Config
}

// Deps collects the engine's collaborators
type Deps struct {
	Store    db.Store
	Expander llm.QueryExpander
	Embedder llm.EmbeddingProvider
	Reranker llm.Reranker
	Answerer llm.AnswerGenerator
	Logger   *slog.Logger
}

// New validates dependencies and builds an engine
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("retrieval engine requires a store")
	}
	if deps.Expander == nil || deps.Embedder == nil || deps.Answerer == nil {
		return nil, fmt.Errorf("retrieval engine requires expander, embedder and answer generator")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.SearchK <= 0 || cfg.TopN <= 0 {
		return nil, fmt.Errorf("retrieval config needs positive SearchK and TopN")
	}
	if cfg.MaxCandidates < cfg.TopN {
		cfg.MaxCandidates = cfg.TopN
	}
	return &Engine{
		store:    deps.Store,
		expander: deps.Expander,
		embedder: deps.Embedder,
		reranker: deps.Reranker,
		answerer: deps.Answerer,
		logger:   deps.Logger,
		cfg:      cfg,
	}, nil
}

// ContextItem is one chunk of repository context backing an answer
type ContextItem struct {
	NodeID         string  `json:"nodeId"`
	Text           string  `json:"text"`
	RelevanceScore float64 `json:"relevanceScore"`
	Index          int     `json:"index"`
}

// Answer is the final response to a query
type Answer struct {
	Text    string        `json:"text"`
	Context []ContextItem `json:"context"`
}

type candidate struct {
	nodeID   string
	text     string
	distance float64
}

// Query runs the full retrieval pipeline for one question
func (e *Engine) Query(ctx context.Context, repoID, query string) (*Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	repo, err := e.store.GetRepo(repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to load repo: %w", err)
	}
	if !repo.Ingested {
		e.logger.Warn("querying a repo that has not finished ingesting", "repo", repoID)
	}

	start := time.Now()

	searchQueries := e.expandQuery(ctx, query)
	candidates, err := e.search(ctx, repoID, searchQueries)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return &Answer{Text: "No relevant context was found in this repository for the question."}, nil
	}

	items := e.rerank(ctx, query, candidates)

	blocks := make([]string, len(items))
	for i, item := range items {
		blocks[i] = item.Text
	}
	text, err := e.answerer.GenerateAnswer(ctx, query, blocks)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	metrics.QueriesServed.Inc()
	metrics.QueryDuration.Observe(time.Since(start).Seconds())

	return &Answer{Text: text, Context: items}, nil
}

// expandQuery gathers alternative search queries. Each expansion method
// settles independently: a failed one is logged and skipped, the
// original query always survives.
func (e *Engine) expandQuery(ctx context.Context, query string) []string {
	var (
		wg            sync.WaitGroup
		expansion     *llm.QueryExpansion
		decomposition *llm.QueryDecomposition
		hyde          *llm.HyDEAnswer
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		result, err := e.expander.ExpandQuery(ctx, query)
		if err != nil {
			e.logger.Warn("query expansion failed", "error", err)
			return
		}
		expansion = result
	}()
	go func() {
		defer wg.Done()
		result, err := e.expander.DecomposeQuery(ctx, query)
		if err != nil {
			e.logger.Warn("query decomposition failed", "error", err)
			return
		}
		decomposition = result
	}()
	go func() {
		defer wg.Done()
		result, err := e.expander.HypotheticalAnswer(ctx, query)
		if err != nil {
			e.logger.Warn("hypothetical answer failed", "error", err)
			return
		}
		hyde = result
	}()
	wg.Wait()

	seen := map[string]struct{}{}
	var queries []string
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" {
			return
		}
		if _, dup := seen[q]; dup {
			return
		}
		seen[q] = struct{}{}
		queries = append(queries, q)
	}

	add(query)
	if expansion != nil {
		for _, q := range expansion.ExpandedQueries {
			add(q)
		}
	}
	if decomposition != nil {
		for _, sub := range decomposition.SubQuestions {
			add(sub.Question)
			for _, q := range sub.SearchQueries {
				add(q)
			}
		}
		for _, q := range decomposition.AlternativePhrasings {
			add(q)
		}
	}
	if hyde != nil {
		add(hyde.HypotheticalAnswer)
	}
	return queries
}

// search embeds every query, searches them concurrently and
// deduplicates hits on (node, chunk), keeping the best distance
func (e *Engine) search(ctx context.Context, repoID string, queries []string) ([]candidate, error) {
	vectors, err := e.embedder.Embed(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search queries: %w", err)
	}
	if len(vectors) != len(queries) {
		return nil, fmt.Errorf("embedding count mismatch: %d queries, %d vectors", len(queries), len(vectors))
	}

	results := make([][]db.SearchResult, len(vectors))
	var wg sync.WaitGroup
	for i, vector := range vectors {
		wg.Add(1)
		go func(i int, vector []float32) {
			defer wg.Done()
			hits, err := e.store.SearchNearest(repoID, vector, e.cfg.SearchK)
			if err != nil {
				e.logger.Warn("vector search failed", "query", queries[i], "error", err)
				return
			}
			results[i] = hits
		}(i, vector)
	}
	wg.Wait()

	best := map[string]candidate{}
	for _, hits := range results {
		for _, hit := range hits {
			key := hit.NodeID + "\x00" + hit.ChunkContent
			if existing, ok := best[key]; !ok || hit.Distance < existing.distance {
				best[key] = candidate{nodeID: hit.NodeID, text: hit.ChunkContent, distance: hit.Distance}
			}
		}
	}

	candidates := make([]candidate, 0, len(best))
	for _, c := range best {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
	if len(candidates) > e.cfg.MaxCandidates {
		candidates = candidates[:e.cfg.MaxCandidates]
	}
	return candidates, nil
}

// rerank orders candidates by relevance to the original query. When the
// reranker is absent or fails, candidates fall back to distance order
// with a synthetic score.
func (e *Engine) rerank(ctx context.Context, query string, candidates []candidate) []ContextItem {
	topN := e.cfg.TopN
	if topN > len(candidates) {
		topN = len(candidates)
	}

	if e.reranker != nil {
		documents := make([]llm.Document, len(candidates))
		for i, c := range candidates {
			documents[i] = llm.Document{ID: c.nodeID, Text: c.text}
		}
		ranked, err := e.reranker.Rerank(ctx, query, documents, topN)
		if err == nil && len(ranked) > 0 {
			items := make([]ContextItem, 0, len(ranked))
			for _, r := range ranked {
				if r.Index < 0 || r.Index >= len(candidates) {
					continue
				}
				c := candidates[r.Index]
				items = append(items, ContextItem{
					NodeID:         c.nodeID,
					Text:           c.text,
					RelevanceScore: r.RelevanceScore,
					Index:          r.Index,
				})
			}
			if len(items) > 0 {
				return items
			}
		}
		if err != nil {
			e.logger.Warn("reranking failed, falling back to distance order", "error", err)
		}
	}

	metrics.RerankFallbacks.Inc()
	items := make([]ContextItem, topN)
	for i := 0; i < topN; i++ {
		items[i] = ContextItem{
			NodeID:         candidates[i].nodeID,
			Text:           candidates[i].text,
			RelevanceScore: 1 - candidates[i].distance,
			Index:          i,
		}
	}
	return items
}
