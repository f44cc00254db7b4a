package db

// Store defines the persistence operations the ingestion and retrieval
// engines depend on
type Store interface {
	// Repos
	UpsertRepo(repo Repo) error
	GetRepo(id string) (*Repo, error)
	MarkRepoInitialized(id string) error
	MarkRepoIngested(id string) error
	DeleteRepo(id string) error

	// Nodes
	UpsertNode(node Node) (string, error)
	GetNode(repoID, path string) (*Node, error)
	GetNodeByID(id string) (*Node, error)
	GetChildren(parentID string) ([]Node, error)
	ListNodes(repoID string) ([]Node, error)
	UpdateNodeStatus(id string, status Status) error
	SetUpstreamSummary(id string, summary string) error
	CountNodesByStatus(repoID string) (map[Status]int, error)

	// Embeddings
	InsertEmbeddings(records []EmbeddingRecord) error
	DeleteEmbeddingsForNode(nodeID string) error
	SearchNearest(repoID string, vector []float32, k int) ([]SearchResult, error)
	CountEmbeddings(repoID string) (int, error)

	// Meta
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error
	HealthCheck() error
	Close() error
}

// Ensure DB implements Store
var _ Store = (*DB)(nil)
