package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/quarrylabs/quarry/pkg/chunker"
	"github.com/quarrylabs/quarry/pkg/db"
	"github.com/quarrylabs/quarry/pkg/llm"
	"github.com/quarrylabs/quarry/pkg/metrics"
)

const emptyFileSummary = "This file is empty"

// handleFileJob processes one leaf file: fetch, chunk, summarize,
// embed. The parent trigger fires as soon as the file-level summary is
// persisted, before per-chunk work finishes, to shorten the critical
// path of deep trees.
func (e *Engine) handleFileJob(ctx context.Context, payload []byte) error {
	var job nodePayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("invalid file job payload: %w", err)
	}

	node, err := e.store.GetNode(job.RepoID, job.Path)
	if err != nil {
		e.logger.Warn("file job for unknown node", "repo", job.RepoID, "path", job.Path)
		return nil
	}

	repo, err := e.store.GetRepo(node.RepoID)
	if err != nil {
		return fmt.Errorf("failed to load repo for node %s: %w", node.ID, err)
	}

	if err := e.setStatus(node, FileQueue, db.StatusProcessing); err != nil {
		return fmt.Errorf("failed to mark node processing: %w", err)
	}

	// Re-ingestion idempotency: a prior run's embeddings go first
	if err := e.store.DeleteEmbeddingsForNode(node.ID); err != nil {
		e.failNode(node, FileQueue)
		return fmt.Errorf("failed to delete stale embeddings: %w", err)
	}

	content, err := e.fetcher.FetchContent(ctx, *repo, *node)
	if err != nil || strings.TrimSpace(content) == "" {
		if err != nil {
			e.logger.Warn("content fetch failed, treating as empty file", "path", node.Path, "error", err)
		}
		return e.completeEmptyFile(node)
	}

	normalized := chunker.Normalize(content)
	chunks := chunker.Split(normalized.Content, chunker.Config{
		ChunkSize: e.cfg.ChunkSize,
		Overlap:   e.cfg.ChunkOverlap,
	})
	metrics.ChunksSplit.Add(float64(len(chunks)))

	// A bounded prefix of the raw content stands in for "the file" in
	// file-level prompts and context assembly
	prefixLen := 2 * e.cfg.ChunkSize
	if prefixLen > len(content) {
		prefixLen = len(content)
	}
	for prefixLen > 0 && prefixLen < len(content) && !utf8.RuneStart(content[prefixLen]) {
		prefixLen--
	}
	prefix := content[:prefixLen]
	prefixEndLine := normalized.TotalLines
	for line := 1; line <= normalized.TotalLines; line++ {
		if span, ok := normalized.Span(line); ok && span.End >= prefixLen {
			prefixEndLine = line
			break
		}
	}

	if err := e.setStatus(node, FileQueue, db.StatusSummarizing); err != nil {
		return fmt.Errorf("failed to mark node summarizing: %w", err)
	}

	fileInput := llm.SummaryInput{Path: node.Path, StartLine: 1, EndLine: prefixEndLine, Code: prefix}

	fileSummary, err := e.summarizer.SummarizeCode(ctx, fileInput)
	if err != nil {
		e.logger.Warn("file summary failed", "path", node.Path, "error", err)
		fileSummary = nil
	}
	fileQuestions, err := e.questions.CodeQuestions(ctx, fileInput)
	if err != nil {
		e.logger.Warn("file questions failed", "path", node.Path, "error", err)
		fileQuestions = nil
	}

	if err := e.setStatus(node, FileQueue, db.StatusEmbedding); err != nil {
		return fmt.Errorf("failed to mark node embedding: %w", err)
	}

	filePending := append(summaryEmbeddings(fileSummary, prefix), questionEmbeddings(fileQuestions, prefix)...)
	if err := e.embedAndStore(ctx, node, filePending); err != nil {
		e.failNode(node, FileQueue)
		return fmt.Errorf("file-level embedding for %s failed: %w", node.Path, err)
	}

	if fileSummary != nil {
		if err := e.store.SetUpstreamSummary(node.ID, fileSummary.Summary); err != nil {
			e.failNode(node, FileQueue)
			return fmt.Errorf("failed to persist upstream summary: %w", err)
		}
	}

	// Trigger before chunk work: the parent only needs the summary
	e.checkAndTriggerParent(node.ID)

	if err := e.processChunks(ctx, node, chunks); err != nil {
		e.failNode(node, FileQueue)
		return err
	}

	if err := e.setStatus(node, FileQueue, db.StatusCompleted); err != nil {
		return fmt.Errorf("failed to mark node completed: %w", err)
	}
	metrics.NodesProcessed.WithLabelValues(string(db.NodeTypeFile), string(db.StatusCompleted)).Inc()
	return nil
}

// completeEmptyFile handles unreadable or blank content as a benign
// completion so the parent folder is never blocked on it
func (e *Engine) completeEmptyFile(node *db.Node) error {
	if err := e.store.SetUpstreamSummary(node.ID, emptyFileSummary); err != nil {
		return fmt.Errorf("failed to set empty-file summary: %w", err)
	}
	if err := e.setStatus(node, FileQueue, db.StatusCompleted); err != nil {
		return fmt.Errorf("failed to complete empty file: %w", err)
	}
	metrics.NodesProcessed.WithLabelValues(string(db.NodeTypeFile), string(db.StatusCompleted)).Inc()
	e.checkAndTriggerParent(node.ID)
	return nil
}

// chunkResult carries one chunk's summarization output
type chunkResult struct {
	chunk     chunker.Chunk
	summary   *llm.CodeSummary
	questions *llm.PossibleQuestions
}

// processChunks summarizes and embeds chunks in bounded batches. Within
// a batch every chunk settles independently: one failed summarization
// never blocks the others, the chunk's raw content is embedded
// regardless.
func (e *Engine) processChunks(ctx context.Context, node *db.Node, chunks []chunker.Chunk) error {
	total := len(chunks)
	processed := 0

	for start := 0; start < total; start += e.cfg.ChunkBatchSize {
		end := start + e.cfg.ChunkBatchSize
		if end > total {
			end = total
		}
		batch := chunks[start:end]

		results := make([]chunkResult, len(batch))
		var wg sync.WaitGroup
		for i, chunk := range batch {
			wg.Add(1)
			go func(i int, chunk chunker.Chunk) {
				defer wg.Done()
				input := llm.SummaryInput{
					Path:      node.Path,
					StartLine: chunk.StartLine,
					EndLine:   chunk.EndLine,
					Code:      chunk.Content,
				}
				summary, err := e.summarizer.SummarizeCode(ctx, input)
				if err != nil {
					e.logger.Warn("chunk summary failed", "path", node.Path, "startLine", chunk.StartLine, "error", err)
					summary = nil
				}
				questions, err := e.questions.CodeQuestions(ctx, input)
				if err != nil {
					e.logger.Warn("chunk questions failed", "path", node.Path, "startLine", chunk.StartLine, "error", err)
					questions = nil
				}
				results[i] = chunkResult{chunk: chunk, summary: summary, questions: questions}
			}(i, chunk)
		}
		wg.Wait()

		var pending []pendingEmbedding
		for _, result := range results {
			pending = append(pending, pendingEmbedding{
				embeddedContent: result.chunk.Content,
				chunkContent:    result.chunk.Content,
			})
			pending = append(pending, questionEmbeddings(result.questions, result.chunk.Content)...)
			pending = append(pending, summaryEmbeddings(result.summary, result.chunk.Content)...)
		}

		if err := e.embedAndStore(ctx, node, pending); err != nil {
			return fmt.Errorf("chunk embedding for %s failed: %w", node.Path, err)
		}

		processed += len(batch)
		percentage := float64(processed) / float64(total) * 100
		e.emit(node.RepoID, node.ID, FileQueue, db.StatusEmbedding, percentage)
	}
	return nil
}

// failNode marks a node failed, tolerating a failure of the update
// itself
func (e *Engine) failNode(node *db.Node, queueName string) {
	if err := e.setStatus(node, queueName, db.StatusFailed); err != nil {
		e.logger.Error("failed to mark node failed", "node", node.ID, "error", err)
	}
	metrics.NodesProcessed.WithLabelValues(string(node.Type), string(db.StatusFailed)).Inc()
}
