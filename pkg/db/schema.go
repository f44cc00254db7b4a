package db

// Schema version for migration tracking
const SchemaVersion = "1.1.0"

// DDL statements for database initialization
const (
	// Meta table stores configuration and version info
	CreateMetaTable = `
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

	// Repos table tracks repositories known to the indexer
	CreateReposTable = `
CREATE TABLE IF NOT EXISTS repos (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    name TEXT NOT NULL,
    default_branch TEXT NOT NULL DEFAULT 'main',
    initialized INTEGER NOT NULL DEFAULT 0,
    ingested INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

	// Repo nodes table holds one row per file or folder in a repo's DAG.
	// The (repo_id, path) pair is the upsert key so re-ingesting an
	// unchanged tree never duplicates nodes.
	CreateNodesTable = `
CREATE TABLE IF NOT EXISTS repo_nodes (
    id TEXT PRIMARY KEY,
    repo_id TEXT NOT NULL,
    path TEXT NOT NULL,
    node_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    parent_id TEXT,
    sha TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    upstream_summary TEXT,
    UNIQUE(repo_id, path),
    FOREIGN KEY(repo_id) REFERENCES repos(id) ON DELETE CASCADE
);`

	// Index for child lookups during parent-readiness checks
	CreateNodesParentIndex = `
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON repo_nodes(parent_id);`

	// Index for status breakdowns per repo
	CreateNodesStatusIndex = `
CREATE INDEX IF NOT EXISTS idx_nodes_status ON repo_nodes(repo_id, status);`

	// Vec_embeddings virtual table for vector similarity search.
	// repo_id is a partition key so nearest-neighbor queries stay scoped
	// to one repository. Dimension must be specified at creation time.
	// Cosine distance works best for text embeddings.
	CreateVecEmbeddingsTableTemplate = `
CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(
    embedding_id INTEGER PRIMARY KEY,
    repo_id TEXT partition key,
    node_id TEXT,
    embedded_content TEXT,
    chunk_content TEXT,
    embedding FLOAT[%d] distance_metric=cosine
);`

	// Fallback table used when sqlite-vec is unavailable (testing)
	CreatePlainEmbeddingsTable = `
CREATE TABLE IF NOT EXISTS vec_embeddings (
    embedding_id INTEGER PRIMARY KEY AUTOINCREMENT,
    repo_id TEXT NOT NULL,
    node_id TEXT NOT NULL,
    embedded_content TEXT NOT NULL,
    chunk_content TEXT NOT NULL,
    embedding BLOB
);`

	// Enable WAL mode for concurrent reads/writes
	EnableWALMode = `PRAGMA journal_mode=WAL;`

	// Set reasonable WAL checkpoint parameters
	SetWALCheckpoint = `PRAGMA wal_autocheckpoint=1000;`

	// Enable foreign key constraints
	EnableForeignKeys = `PRAGMA foreign_keys=ON;`
)

// MetaKeys are standard keys stored in the meta table
const (
	MetaKeySchemaVersion = "schema_version"
	MetaKeyCreatedAt     = "created_at"
	MetaKeyEmbeddingDim  = "embedding_dimension"
)
