package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quarrylabs/quarry/pkg/db"
	"github.com/quarrylabs/quarry/pkg/llm"
	"github.com/quarrylabs/quarry/pkg/metrics"
)

// handleFolderJob summarizes a folder once every direct child carries
// an upstream summary. Readiness is recomputed from persisted state at
// the start of the job, so duplicate triggers degrade to no-ops.
func (e *Engine) handleFolderJob(ctx context.Context, payload []byte) error {
	var job nodePayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("invalid folder job payload: %w", err)
	}

	node, err := e.store.GetNodeByID(job.NodeID)
	if err != nil {
		e.logger.Warn("folder job for unknown node", "node", job.NodeID, "path", job.Path)
		return nil
	}
	if node.Type != db.NodeTypeFolder {
		return fmt.Errorf("folder job for non-folder node %s (%s)", node.ID, node.Path)
	}

	if node.Status == db.StatusCompleted && node.UpstreamSummary != nil {
		e.logger.Debug("folder already summarized", "path", node.Path)
		return nil
	}

	children, err := e.store.GetChildren(node.ID)
	if err != nil {
		return fmt.Errorf("failed to load children of %s: %w", node.Path, err)
	}
	for _, child := range children {
		if child.UpstreamSummary == nil {
			e.logger.Debug("folder not ready", "path", node.Path, "waitingOn", child.Path)
			return nil
		}
	}

	switch len(children) {
	case 0:
		// Folders are only persisted when they have surviving children,
		// so this is a stale trigger. Complete without a summary.
		if err := e.setStatus(node, FolderQueue, db.StatusCompleted); err != nil {
			return fmt.Errorf("failed to complete empty folder: %w", err)
		}
		e.checkAndTriggerParent(node.ID)
		return nil
	case 1:
		// A single-child folder adds nothing over the child itself
		if err := e.store.SetUpstreamSummary(node.ID, *children[0].UpstreamSummary); err != nil {
			return fmt.Errorf("failed to pass through child summary: %w", err)
		}
		if err := e.setStatus(node, FolderQueue, db.StatusCompleted); err != nil {
			return fmt.Errorf("failed to complete pass-through folder: %w", err)
		}
		metrics.NodesProcessed.WithLabelValues(string(db.NodeTypeFolder), string(db.StatusCompleted)).Inc()
		e.checkAndTriggerParent(node.ID)
		return nil
	}

	if err := e.setStatus(node, FolderQueue, db.StatusProcessing); err != nil {
		return fmt.Errorf("failed to mark folder processing: %w", err)
	}

	// GetChildren orders by path, so the fan-in window is deterministic
	fanIn := e.cfg.FolderFanIn
	if fanIn > len(children) {
		fanIn = len(children)
	}
	rendered := make([]string, 0, fanIn)
	for _, child := range children[:fanIn] {
		rendered = append(rendered, fmt.Sprintf("Path: %s\nType: %s\nSummary: %s",
			child.Path, child.Type, *child.UpstreamSummary))
	}
	childListing := strings.Join(rendered, "\n\n")

	if err := e.setStatus(node, FolderQueue, db.StatusSummarizing); err != nil {
		return fmt.Errorf("failed to mark folder summarizing: %w", err)
	}

	input := llm.FolderInput{Path: node.Path, Children: childListing}

	folderSummary, err := e.summarizer.SummarizeFolder(ctx, input)
	if err != nil {
		e.logger.Warn("folder summary failed", "path", node.Path, "error", err)
		folderSummary = nil
	}
	folderQuestions, err := e.questions.FolderQuestions(ctx, input)
	if err != nil {
		e.logger.Warn("folder questions failed", "path", node.Path, "error", err)
		folderQuestions = nil
	}

	// The folder has no content of its own; the summary (or at worst
	// the path) stands in for it in search results
	assumedContent := node.Path
	if folderSummary != nil && folderSummary.Summary != "" {
		assumedContent = folderSummary.Summary
	}

	if err := e.setStatus(node, FolderQueue, db.StatusEmbedding); err != nil {
		return fmt.Errorf("failed to mark folder embedding: %w", err)
	}

	pending := append(folderSummaryEmbeddings(folderSummary, assumedContent),
		questionEmbeddings(folderQuestions, assumedContent)...)
	if err := e.embedAndStore(ctx, node, pending); err != nil {
		e.failNode(node, FolderQueue)
		return fmt.Errorf("folder embedding for %s failed: %w", node.Path, err)
	}

	if folderSummary != nil {
		if err := e.store.SetUpstreamSummary(node.ID, folderSummary.Summary); err != nil {
			e.failNode(node, FolderQueue)
			return fmt.Errorf("failed to persist folder summary: %w", err)
		}
	}

	if err := e.setStatus(node, FolderQueue, db.StatusCompleted); err != nil {
		return fmt.Errorf("failed to complete folder: %w", err)
	}
	metrics.NodesProcessed.WithLabelValues(string(db.NodeTypeFolder), string(db.StatusCompleted)).Inc()

	// Marking on every folder keeps the flag correct without a
	// dedicated root check: the root folder is always the last to
	// complete, and earlier marks are harmless overwrites.
	if err := e.store.MarkRepoIngested(node.RepoID); err != nil {
		e.logger.Warn("failed to mark repo ingested", "repo", node.RepoID, "error", err)
	}

	e.checkAndTriggerParent(node.ID)
	return nil
}

// checkAndTriggerParent enqueues the parent folder when every one of
// its direct children has an upstream summary. Callers invoke it
// unconditionally after persisting a summary; the readiness check here
// and at folder-job start make concurrent calls safe.
func (e *Engine) checkAndTriggerParent(nodeID string) {
	node, err := e.store.GetNodeByID(nodeID)
	if err != nil {
		e.logger.Error("failed to load node for parent trigger", "node", nodeID, "error", err)
		return
	}
	if node.ParentID == nil {
		return
	}

	parent, err := e.store.GetNodeByID(*node.ParentID)
	if err != nil {
		e.logger.Error("failed to load parent", "node", nodeID, "parent", *node.ParentID, "error", err)
		return
	}
	if parent.Type != db.NodeTypeFolder {
		e.logger.Error("parent is not a folder", "node", nodeID, "parent", parent.Path)
		return
	}

	siblings, err := e.store.GetChildren(parent.ID)
	if err != nil {
		e.logger.Error("failed to load siblings", "parent", parent.Path, "error", err)
		return
	}
	for _, sibling := range siblings {
		if sibling.UpstreamSummary == nil {
			return
		}
	}

	if err := e.queues.Enqueue(FolderQueue, nodePayload{
		NodeID: parent.ID,
		RepoID: parent.RepoID,
		Path:   parent.Path,
	}); err != nil {
		e.logger.Error("failed to enqueue parent folder", "parent", parent.Path, "error", err)
	}
}

// folderSummaryEmbeddings expands a folder summary into embeddable
// texts the same way summaryEmbeddings does for code
func folderSummaryEmbeddings(summary *llm.FolderSummary, chunkContent string) []pendingEmbedding {
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
	if summary.ArchitecturalDetails.PrimaryPurpose != "" {
		pending = append(pending, pendingEmbedding{
			embeddedContent: summary.ArchitecturalDetails.PrimaryPurpose,
			chunkContent:    chunkContent,
		})
	}
	return pending
}
