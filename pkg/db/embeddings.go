package db

import (
	"database/sql"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// EmbeddingRecord is one embedded chunk of a node
type EmbeddingRecord struct {
	RepoID          string
	NodeID          string
	EmbeddedContent string
	ChunkContent    string
	Vector          []float32
}

// SearchResult is a nearest-neighbor match
type SearchResult struct {
	NodeID          string
	EmbeddedContent string
	ChunkContent    string
	Distance        float64
}

// InsertEmbeddings stores a batch of embedding records in one transaction
func (db *DB) InsertEmbeddings(records []EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO vec_embeddings (repo_id, node_id, embedded_content, chunk_content, embedding)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if len(rec.Vector) != db.embeddingDim {
			return fmt.Errorf("embedding dimension mismatch for node %s: expected %d, got %d",
				rec.NodeID, db.embeddingDim, len(rec.Vector))
		}
		blob, err := db.serializeVector(rec.Vector)
		if err != nil {
			return fmt.Errorf("failed to serialize vector for node %s: %w", rec.NodeID, err)
		}
		if _, err := stmt.Exec(rec.RepoID, rec.NodeID, rec.EmbeddedContent, rec.ChunkContent, blob); err != nil {
			return fmt.Errorf("failed to insert embedding for node %s: %w", rec.NodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit embeddings: %w", err)
	}
	return nil
}

// DeleteEmbeddingsForNode removes all embeddings of a node, used before
// re-ingesting changed content
func (db *DB) DeleteEmbeddingsForNode(nodeID string) error {
	_, err := db.conn.Exec("DELETE FROM vec_embeddings WHERE node_id = ?", nodeID)
	if err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return nil
}

// SearchNearest runs a KNN query scoped to one repository
func (db *DB) SearchNearest(repoID string, vector []float32, k int) ([]SearchResult, error) {
	if len(vector) != db.embeddingDim {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", db.embeddingDim, len(vector))
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	blob, err := db.serializeVector(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query vector: %w", err)
	}

	var query string
	if db.skipVec {
		// Plain table has no KNN support; return rows scoped to the repo
		// and let callers score. Only used in tests.
		query = `
			SELECT node_id, embedded_content, chunk_content, 0.0
			FROM vec_embeddings
			WHERE repo_id = ?
			LIMIT ?`
		rows, err := db.conn.Query(query, repoID, k)
		if err != nil {
			return nil, fmt.Errorf("failed to run search: %w", err)
		}
		defer rows.Close()
		return scanSearchResults(rows)
	}

	query = `
		SELECT node_id, embedded_content, chunk_content, distance
		FROM vec_embeddings
		WHERE embedding MATCH ? AND k = ? AND repo_id = ?
		ORDER BY distance`
	rows, err := db.conn.Query(query, blob, k, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer rows.Close()
	return scanSearchResults(rows)
}

func scanSearchResults(rows *sql.Rows) ([]SearchResult, error) {
	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.NodeID, &r.EmbeddedContent, &r.ChunkContent, &r.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}
	return results, nil
}

// CountEmbeddings returns the number of stored embeddings for a repository
func (db *DB) CountEmbeddings(repoID string) (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM vec_embeddings WHERE repo_id = ?", repoID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return count, nil
}

func (db *DB) serializeVector(vector []float32) ([]byte, error) {
	if db.skipVec {
		// Plain table stores raw little-endian floats without the vec0 header
		blob := make([]byte, 0, len(vector)*4)
		for _, v := range vector {
			bits := math.Float32bits(v)
			blob = append(blob, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
		}
		return blob, nil
	}
	return sqlite_vec.SerializeFloat32(vector)
}
