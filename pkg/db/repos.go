package db

import (
	"database/sql"
	"fmt"
)

// Repo is a tracked repository
type Repo struct {
	ID            string
	Owner         string
	Name          string
	DefaultBranch string
	Initialized   bool
	Ingested      bool
}

// UpsertRepo creates or updates a repository record
func (db *DB) UpsertRepo(repo Repo) error {
	if repo.ID == "" {
		return fmt.Errorf("repo id cannot be empty")
	}
	_, err := db.conn.Exec(`
		INSERT INTO repos (id, owner, name, default_branch, initialized, ingested)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			name = excluded.name,
			default_branch = excluded.default_branch`,
		repo.ID, repo.Owner, repo.Name, repo.DefaultBranch, repo.Initialized, repo.Ingested,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert repo: %w", err)
	}
	return nil
}

// GetRepo retrieves a repository by id
func (db *DB) GetRepo(id string) (*Repo, error) {
	var repo Repo
	err := db.conn.QueryRow(
		"SELECT id, owner, name, default_branch, initialized, ingested FROM repos WHERE id = ?",
		id,
	).Scan(&repo.ID, &repo.Owner, &repo.Name, &repo.DefaultBranch, &repo.Initialized, &repo.Ingested)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repo not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repo: %w", err)
	}
	return &repo, nil
}

// MarkRepoInitialized flags a repository as having its node graph persisted
func (db *DB) MarkRepoInitialized(id string) error {
	result, err := db.conn.Exec("UPDATE repos SET initialized = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark repo initialized: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("repo not found: %s", id)
	}
	return nil
}

// MarkRepoIngested flags a repository as fully processed
func (db *DB) MarkRepoIngested(id string) error {
	result, err := db.conn.Exec("UPDATE repos SET ingested = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark repo ingested: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("repo not found: %s", id)
	}
	return nil
}

// DeleteRepo removes a repository with all of its nodes and embeddings
func (db *DB) DeleteRepo(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM vec_embeddings WHERE repo_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM repo_nodes WHERE repo_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}
	result, err := tx.Exec("DELETE FROM repos WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete repo: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("repo not found: %s", id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
