package db

import (
	"database/sql"
	"fmt"
)

// Status is the processing state of a node
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusSummarizing Status = "summarizing"
	StatusEmbedding   Status = "embedding"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// validTransitions maps each status to the set of statuses it may move to.
// Completed and failed nodes may re-enter processing on re-ingest or retry.
var validTransitions = map[Status][]Status{
	StatusPending:     {StatusProcessing, StatusCompleted, StatusFailed},
	StatusProcessing:  {StatusSummarizing, StatusEmbedding, StatusCompleted, StatusFailed},
	StatusSummarizing: {StatusEmbedding, StatusCompleted, StatusFailed},
	StatusEmbedding:   {StatusCompleted, StatusFailed},
	StatusCompleted:   {StatusProcessing},
	StatusFailed:      {StatusProcessing},
}

// CanTransition reports whether a status change is allowed.
// A same-status update is always a permitted no-op.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NodeType distinguishes files from folders
type NodeType string

const (
	NodeTypeFile   NodeType = "file"
	NodeTypeFolder NodeType = "folder"
)

// Node is a file or folder in a repository tree
type Node struct {
	ID              string
	RepoID          string
	Path            string
	Type            NodeType
	Status          Status
	ParentID        *string
	SHA             string
	URL             string
	UpstreamSummary *string
}

// UpsertNode inserts a node or updates it in place. When a node with the
// same (repo_id, path) already exists its id is preserved so embeddings
// and parent references stay valid across re-ingests.
func (db *DB) UpsertNode(node Node) (string, error) {
	if node.ID == "" {
		return "", fmt.Errorf("node id cannot be empty")
	}
	if node.RepoID == "" {
		return "", fmt.Errorf("node repo_id cannot be empty")
	}
	if node.Status == "" {
		node.Status = StatusPending
	}

	var existingID string
	err := db.conn.QueryRow(
		"SELECT id FROM repo_nodes WHERE repo_id = ? AND path = ?",
		node.RepoID, node.Path,
	).Scan(&existingID)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to check existing node: %w", err)
	}

	if err == sql.ErrNoRows {
		_, err = db.conn.Exec(`
			INSERT INTO repo_nodes (id, repo_id, path, node_type, status, parent_id, sha, url, upstream_summary)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			node.ID, node.RepoID, node.Path, node.Type, node.Status, node.ParentID, node.SHA, node.URL, node.UpstreamSummary,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert node: %w", err)
		}
		return node.ID, nil
	}

	_, err = db.conn.Exec(`
		UPDATE repo_nodes
		SET node_type = ?, status = ?, parent_id = ?, sha = ?, url = ?, upstream_summary = ?
		WHERE id = ?`,
		node.Type, node.Status, node.ParentID, node.SHA, node.URL, node.UpstreamSummary, existingID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to update node: %w", err)
	}
	return existingID, nil
}

// GetNode retrieves a node by repository and path
func (db *DB) GetNode(repoID, path string) (*Node, error) {
	return db.scanNode(db.conn.QueryRow(
		"SELECT id, repo_id, path, node_type, status, parent_id, sha, url, upstream_summary FROM repo_nodes WHERE repo_id = ? AND path = ?",
		repoID, path,
	))
}

// GetNodeByID retrieves a node by its id
func (db *DB) GetNodeByID(id string) (*Node, error) {
	return db.scanNode(db.conn.QueryRow(
		"SELECT id, repo_id, path, node_type, status, parent_id, sha, url, upstream_summary FROM repo_nodes WHERE id = ?",
		id,
	))
}

func (db *DB) scanNode(row *sql.Row) (*Node, error) {
	var node Node
	var parentID sql.NullString
	var summary sql.NullString
	err := row.Scan(&node.ID, &node.RepoID, &node.Path, &node.Type, &node.Status, &parentID, &node.SHA, &node.URL, &summary)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}
	if parentID.Valid {
		node.ParentID = &parentID.String
	}
	if summary.Valid {
		node.UpstreamSummary = &summary.String
	}
	return &node, nil
}

// GetChildren retrieves the direct children of a node, ordered by path
func (db *DB) GetChildren(parentID string) ([]Node, error) {
	rows, err := db.conn.Query(
		"SELECT id, repo_id, path, node_type, status, parent_id, sha, url, upstream_summary FROM repo_nodes WHERE parent_id = ? ORDER BY path",
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ListNodes retrieves all nodes for a repository, ordered by path
func (db *DB) ListNodes(repoID string) ([]Node, error) {
	rows, err := db.conn.Query(
		"SELECT id, repo_id, path, node_type, status, parent_id, sha, url, upstream_summary FROM repo_nodes WHERE repo_id = ? ORDER BY path",
		repoID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		var node Node
		var parentID sql.NullString
		var summary sql.NullString
		if err := rows.Scan(&node.ID, &node.RepoID, &node.Path, &node.Type, &node.Status, &parentID, &node.SHA, &node.URL, &summary); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		if parentID.Valid {
			node.ParentID = &parentID.String
		}
		if summary.Valid {
			node.UpstreamSummary = &summary.String
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nodes: %w", err)
	}
	return nodes, nil
}

// UpdateNodeStatus transitions a node to a new status, rejecting moves
// the lifecycle does not allow
func (db *DB) UpdateNodeStatus(id string, status Status) error {
	node, err := db.GetNodeByID(id)
	if err != nil {
		return fmt.Errorf("failed to load node for status update: %w", err)
	}
	if !CanTransition(node.Status, status) {
		return fmt.Errorf("invalid status transition for node %s: %s -> %s", id, node.Status, status)
	}
	_, err = db.conn.Exec("UPDATE repo_nodes SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update node status: %w", err)
	}
	return nil
}

// SetUpstreamSummary stores the summary a node passes up to its parent
func (db *DB) SetUpstreamSummary(id string, summary string) error {
	result, err := db.conn.Exec("UPDATE repo_nodes SET upstream_summary = ? WHERE id = ?", summary, id)
	if err != nil {
		return fmt.Errorf("failed to set upstream summary: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("node not found: %s", id)
	}
	return nil
}

// CountNodesByStatus returns node counts per status for a repository
func (db *DB) CountNodesByStatus(repoID string) (map[Status]int, error) {
	rows, err := db.conn.Query(
		"SELECT status, COUNT(*) FROM repo_nodes WHERE repo_id = ? GROUP BY status",
		repoID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count nodes: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate counts: %w", err)
	}
	return counts, nil
}
