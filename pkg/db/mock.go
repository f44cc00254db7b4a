package db

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// MockStore is an in-memory Store for tests. Vector search ranks by
// cosine distance over the stored float slices, so retrieval behavior
// can be exercised without the sqlite-vec extension.
type MockStore struct {
	mu         sync.Mutex
	repos      map[string]Repo
	nodes      map[string]Node // by id
	pathIndex  map[string]string
	embeddings []EmbeddingRecord
	meta       map[string]string

	// StatusUpdates records every UpdateNodeStatus call in order
	StatusUpdates []string

	// FailStatusUpdate, when set, makes UpdateNodeStatus fail for that node id
	FailStatusUpdate string
}

// NewMockStore creates an empty in-memory store
func NewMockStore() *MockStore {
	return &MockStore{
		repos:     make(map[string]Repo),
		nodes:     make(map[string]Node),
		pathIndex: make(map[string]string),
		meta:      make(map[string]string),
	}
}

func pathKey(repoID, path string) string {
	return repoID + "\x00" + path
}

func (m *MockStore) UpsertRepo(repo Repo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if repo.ID == "" {
		return fmt.Errorf("repo id cannot be empty")
	}
	if existing, ok := m.repos[repo.ID]; ok {
		repo.Initialized = existing.Initialized
		repo.Ingested = existing.Ingested
	}
	m.repos[repo.ID] = repo
	return nil
}

func (m *MockStore) GetRepo(id string) (*Repo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo, ok := m.repos[id]
	if !ok {
		return nil, fmt.Errorf("repo not found: %s", id)
	}
	return &repo, nil
}

func (m *MockStore) MarkRepoInitialized(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo, ok := m.repos[id]
	if !ok {
		return fmt.Errorf("repo not found: %s", id)
	}
	repo.Initialized = true
	m.repos[id] = repo
	return nil
}

func (m *MockStore) MarkRepoIngested(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	repo, ok := m.repos[id]
	if !ok {
		return fmt.Errorf("repo not found: %s", id)
	}
	repo.Ingested = true
	m.repos[id] = repo
	return nil
}

func (m *MockStore) DeleteRepo(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[id]; !ok {
		return fmt.Errorf("repo not found: %s", id)
	}
	delete(m.repos, id)
	for nodeID, node := range m.nodes {
		if node.RepoID == id {
			delete(m.nodes, nodeID)
			delete(m.pathIndex, pathKey(id, node.Path))
		}
	}
	kept := m.embeddings[:0]
	for _, rec := range m.embeddings {
		if rec.RepoID != id {
			kept = append(kept, rec)
		}
	}
	m.embeddings = kept
	return nil
}

func (m *MockStore) UpsertNode(node Node) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node.ID == "" {
		return "", fmt.Errorf("node id cannot be empty")
	}
	if node.Status == "" {
		node.Status = StatusPending
	}
	key := pathKey(node.RepoID, node.Path)
	if existingID, ok := m.pathIndex[key]; ok {
		node.ID = existingID
	}
	m.nodes[node.ID] = node
	m.pathIndex[key] = node.ID
	return node.ID, nil
}

func (m *MockStore) GetNode(repoID, path string) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.pathIndex[pathKey(repoID, path)]
	if !ok {
		return nil, fmt.Errorf("node not found")
	}
	node := m.nodes[id]
	return &node, nil
}

func (m *MockStore) GetNodeByID(id string) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found")
	}
	return &node, nil
}

func (m *MockStore) GetChildren(parentID string) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var children []Node
	for _, node := range m.nodes {
		if node.ParentID != nil && *node.ParentID == parentID {
			children = append(children, node)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })
	return children, nil
}

func (m *MockStore) ListNodes(repoID string) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var nodes []Node
	for _, node := range m.nodes {
		if node.RepoID == repoID {
			nodes = append(nodes, node)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	return nodes, nil
}

func (m *MockStore) UpdateNodeStatus(id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailStatusUpdate == id {
		return fmt.Errorf("injected status update failure for %s", id)
	}
	node, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("node not found")
	}
	if !CanTransition(node.Status, status) {
		return fmt.Errorf("invalid status transition for node %s: %s -> %s", id, node.Status, status)
	}
	node.Status = status
	m.nodes[id] = node
	m.StatusUpdates = append(m.StatusUpdates, fmt.Sprintf("%s:%s", id, status))
	return nil
}

func (m *MockStore) SetUpstreamSummary(id string, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("node not found: %s", id)
	}
	node.UpstreamSummary = &summary
	m.nodes[id] = node
	return nil
}

func (m *MockStore) CountNodesByStatus(repoID string) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[Status]int)
	for _, node := range m.nodes {
		if node.RepoID == repoID {
			counts[node.Status]++
		}
	}
	return counts, nil
}

func (m *MockStore) InsertEmbeddings(records []EmbeddingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings = append(m.embeddings, records...)
	return nil
}

func (m *MockStore) DeleteEmbeddingsForNode(nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.embeddings[:0]
	for _, rec := range m.embeddings {
		if rec.NodeID != nodeID {
			kept = append(kept, rec)
		}
	}
	m.embeddings = kept
	return nil
}

func (m *MockStore) SearchNearest(repoID string, vector []float32, k int) ([]SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []SearchResult
	for _, rec := range m.embeddings {
		if rec.RepoID != repoID {
			continue
		}
		results = append(results, SearchResult{
			NodeID:          rec.NodeID,
			EmbeddedContent: rec.EmbeddedContent,
			ChunkContent:    rec.ChunkContent,
			Distance:        cosineDistance(vector, rec.Vector),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// EmbeddingsForNode returns copies of the stored records for one node
func (m *MockStore) EmbeddingsForNode(nodeID string) []EmbeddingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []EmbeddingRecord
	for _, rec := range m.embeddings {
		if rec.NodeID == nodeID {
			records = append(records, rec)
		}
	}
	return records
}

func (m *MockStore) CountEmbeddings(repoID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, rec := range m.embeddings {
		if rec.RepoID == repoID {
			count++
		}
	}
	return count, nil
}

func (m *MockStore) GetMeta(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.meta[key]
	if !ok {
		return "", fmt.Errorf("meta key not found: %s", key)
	}
	return value, nil
}

func (m *MockStore) SetMeta(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[key] = value
	return nil
}

func (m *MockStore) HealthCheck() error { return nil }

func (m *MockStore) Close() error { return nil }

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}
	return 1.0 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

var _ Store = (*MockStore)(nil)
