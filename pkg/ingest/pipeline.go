package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quarrylabs/quarry/pkg/dag"
	"github.com/quarrylabs/quarry/pkg/db"
	"github.com/quarrylabs/quarry/pkg/queue"
	"github.com/quarrylabs/quarry/pkg/tree"
)

// pruneOutput is the prune step's result passed down the flow
type pruneOutput struct {
	Entries  []tree.Entry     `json:"entries"`
	Applied  []tree.Exclusion `json:"applied,omitempty"`
	Rendered string           `json:"rendered,omitempty"`
}

// Ingest runs the full pipeline for a repository: prune the tree, build
// and persist the DAG, then enqueue every leaf file job. Folder jobs
// follow on their own as children converge.
func (e *Engine) Ingest(ctx context.Context, repoID string) error {
	repo, err := e.store.GetRepo(repoID)
	if err != nil {
		return fmt.Errorf("failed to load repo: %w", err)
	}

	steps := []queue.Step{
		{
			Name: "prune",
			Run: func(ctx context.Context, _ map[string][]byte) ([]byte, error) {
				output, err := e.pruneStep(ctx, *repo)
				if err != nil {
					return nil, err
				}
				return json.Marshal(output)
			},
		},
		{
			Name:      "buildDAG",
			DependsOn: []string{"prune"},
			Run: func(ctx context.Context, upstream map[string][]byte) ([]byte, error) {
				var pruned pruneOutput
				if err := json.Unmarshal(upstream["prune"], &pruned); err != nil {
					return nil, fmt.Errorf("failed to decode prune output: %w", err)
				}
				graph, err := e.buildDAGStep(repoID, pruned.Entries)
				if err != nil {
					return nil, err
				}
				leaves := graph.Leaves()
				payloads := make([]nodePayload, len(leaves))
				for i, leaf := range leaves {
					payloads[i] = nodePayload{NodeID: leaf.ID, RepoID: repoID, Path: leaf.Path}
				}
				return json.Marshal(payloads)
			},
		},
		{
			Name:      "triggerLeaves",
			DependsOn: []string{"buildDAG"},
			Run: func(ctx context.Context, upstream map[string][]byte) ([]byte, error) {
				var leaves []nodePayload
				if err := json.Unmarshal(upstream["buildDAG"], &leaves); err != nil {
					return nil, fmt.Errorf("failed to decode leaf payloads: %w", err)
				}
				return nil, e.triggerLeavesStep(repoID, leaves)
			},
		},
	}

	if _, err := queue.RunFlow(ctx, steps); err != nil {
		return err
	}
	return nil
}

// pruneStep fetches the tree, applies the static filter and the
// optional model-assisted pass. The model pass fails open: any provider
// error leaves the statically filtered tree untouched.
func (e *Engine) pruneStep(ctx context.Context, repo db.Repo) (*pruneOutput, error) {
	fetched, err := e.treeSource.FetchTree(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tree: %w", err)
	}
	if len(fetched.Entries) == 0 {
		return nil, fmt.Errorf("repo %s has an empty tree", repo.ID)
	}
	if fetched.Truncated {
		e.logger.Warn("tree listing truncated", "repo", repo.ID)
	}

	filtered := tree.Prefilter(fetched.Entries, tree.DefaultFilterConfig())
	rendered := tree.RenderMarkdown(filtered)

	output := &pruneOutput{Entries: filtered, Rendered: rendered}

	if e.cfg.SkipLLMPrune || e.pruner == nil {
		return output, nil
	}

	suggestions, err := e.pruner.PruneTree(ctx, rendered)
	if err != nil {
		e.logger.Warn("model-assisted pruning failed, keeping static filter result", "repo", repo.ID, "error", err)
		return output, nil
	}
	if suggestions == nil || len(suggestions.PathsToExclude) == 0 {
		return output, nil
	}

	exclusions := make([]tree.Exclusion, len(suggestions.PathsToExclude))
	for i, excl := range suggestions.PathsToExclude {
		exclusions[i] = tree.Exclusion{Path: excl.Path, Reason: excl.Reason}
	}

	result := tree.ApplySuggestions(filtered, exclusions)
	for _, miss := range result.Unmatched {
		e.logger.Debug("pruning suggestion did not match any path", "repo", repo.ID, "path", miss.Path)
	}

	output.Entries = result.Entries
	output.Applied = result.Applied
	return output, nil
}

// buildDAGStep constructs and persists the node graph
func (e *Engine) buildDAGStep(repoID string, entries []tree.Entry) (*dag.Graph, error) {
	graph, err := dag.Build(repoID, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph: %w", err)
	}
	if failures := graph.Persist(e.store, e.logger); failures > 0 {
		e.logger.Warn("some nodes failed to persist", "repo", repoID, "failures", failures)
	}
	return graph, nil
}

// triggerLeavesStep enqueues all file jobs in bounded batches and marks
// the repository initialized
func (e *Engine) triggerLeavesStep(repoID string, leaves []nodePayload) error {
	if len(leaves) == 0 {
		return fmt.Errorf("repo %s has no leaf nodes to process", repoID)
	}

	for start := 0; start < len(leaves); start += e.cfg.LeafBatchSize {
		end := start + e.cfg.LeafBatchSize
		if end > len(leaves) {
			end = len(leaves)
		}
		for _, leaf := range leaves[start:end] {
			if err := e.queues.Enqueue(FileQueue, leaf); err != nil {
				return fmt.Errorf("failed to enqueue leaf %s: %w", leaf.Path, err)
			}
		}
	}

	if err := e.store.MarkRepoInitialized(repoID); err != nil {
		return fmt.Errorf("failed to mark repo initialized: %w", err)
	}
	e.logger.Info("leaf jobs enqueued", "repo", repoID, "leaves", len(leaves))
	return nil
}

// SkipIngestion marks a repository ingested without waiting for
// outstanding jobs, which continue in the background and converge
// normally
func (e *Engine) SkipIngestion(repoID string) error {
	if err := e.store.MarkRepoIngested(repoID); err != nil {
		return fmt.Errorf("failed to skip ingestion: %w", err)
	}
	e.logger.Info("ingestion skipped", "repo", repoID)
	return nil
}
