package dag

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/quarrylabs/quarry/pkg/db"
	"github.com/quarrylabs/quarry/pkg/tree"
)

// RootPath is the synthetic root folder every repository graph hangs off
const RootPath = "/"

// Node is one vertex of the repository graph
type Node struct {
	ID   string
	Path string
	Type db.NodeType
	SHA  string
	URL  string
	Size int64
}

// Graph is an in-memory arena of repository nodes with adjacency lists.
// Indices are stable for the lifetime of the graph; edges reference
// indices, not pointers.
type Graph struct {
	RepoID   string
	Nodes    []Node
	Parent   []int   // parent index per node, -1 for the root
	Children [][]int // child indices per node, path-ordered

	pathIndex map[string]int
}

// Build constructs the graph for a filtered tree. Every entry becomes a
// node; the parent edge follows the last path segment. Entries whose
// parent folder was filtered out attach to the nearest surviving
// ancestor, falling back to the root.
func Build(repoID string, entries []tree.Entry) (*Graph, error) {
	if repoID == "" {
		return nil, fmt.Errorf("repo id cannot be empty")
	}

	g := &Graph{
		RepoID:    repoID,
		pathIndex: make(map[string]int, len(entries)+1),
	}

	g.addNode(Node{
		ID:   uuid.NewString(),
		Path: RootPath,
		Type: db.NodeTypeFolder,
	})

	// Sort by path so every folder is added before its contents
	sorted := make([]tree.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	for _, entry := range sorted {
		if entry.Path == "" || entry.Path == RootPath {
			continue
		}
		if _, exists := g.pathIndex[entry.Path]; exists {
			continue
		}
		nodeType := db.NodeTypeFile
		if entry.Type == tree.EntryFolder {
			nodeType = db.NodeTypeFolder
		}
		g.addNode(Node{
			ID:   uuid.NewString(),
			Path: entry.Path,
			Type: nodeType,
			SHA:  entry.SHA,
			URL:  entry.URL,
			Size: entry.Size,
		})
	}

	for idx := 1; idx < len(g.Nodes); idx++ {
		parentIdx := g.resolveParent(g.Nodes[idx].Path)
		g.Parent[idx] = parentIdx
		g.Children[parentIdx] = append(g.Children[parentIdx], idx)
	}

	for idx := range g.Children {
		children := g.Children[idx]
		sort.Slice(children, func(i, j int) bool {
			return g.Nodes[children[i]].Path < g.Nodes[children[j]].Path
		})
	}

	return g, nil
}

func (g *Graph) addNode(node Node) int {
	idx := len(g.Nodes)
	g.Nodes = append(g.Nodes, node)
	g.Parent = append(g.Parent, -1)
	g.Children = append(g.Children, nil)
	g.pathIndex[node.Path] = idx
	return idx
}

// resolveParent walks ancestor paths until one exists in the graph
func (g *Graph) resolveParent(path string) int {
	current := path
	for {
		idx := strings.LastIndex(current, "/")
		if idx < 0 {
			return 0
		}
		current = current[:idx]
		if parentIdx, ok := g.pathIndex[current]; ok {
			return parentIdx
		}
	}
}

// Root returns the synthetic root node
func (g *Graph) Root() Node {
	return g.Nodes[0]
}

// Lookup finds a node by path
func (g *Graph) Lookup(path string) (Node, bool) {
	idx, ok := g.pathIndex[path]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[idx], true
}

// Leaves returns all file nodes, path-ordered
func (g *Graph) Leaves() []Node {
	var leaves []Node
	for _, node := range g.Nodes {
		if node.Type == db.NodeTypeFile {
			leaves = append(leaves, node)
		}
	}
	return leaves
}

// ParentOf returns the parent of the node at the given path
func (g *Graph) ParentOf(path string) (Node, bool) {
	idx, ok := g.pathIndex[path]
	if !ok || g.Parent[idx] < 0 {
		return Node{}, false
	}
	return g.Nodes[g.Parent[idx]], true
}

// ChildrenOf returns the direct children of the node at the given path
func (g *Graph) ChildrenOf(path string) []Node {
	idx, ok := g.pathIndex[path]
	if !ok {
		return nil
	}
	children := make([]Node, 0, len(g.Children[idx]))
	for _, childIdx := range g.Children[idx] {
		children = append(children, g.Nodes[childIdx])
	}
	return children
}

// Persist upserts every node. Persistence is best-effort: failures are
// logged and do not invalidate the in-memory graph, which remains
// usable for enqueuing. On upsert the store may return a previously
// assigned id for the path; the graph adopts it so ids stay stable
// across re-ingests.
func (g *Graph) Persist(store db.Store, logger *slog.Logger) int {
	failures := 0
	for idx := range g.Nodes {
		node := &g.Nodes[idx]
		var parentID *string
		if g.Parent[idx] >= 0 {
			pid := g.Nodes[g.Parent[idx]].ID
			parentID = &pid
		}
		storedID, err := store.UpsertNode(db.Node{
			ID:       node.ID,
			RepoID:   g.RepoID,
			Path:     node.Path,
			Type:     node.Type,
			Status:   db.StatusPending,
			ParentID: parentID,
			SHA:      node.SHA,
			URL:      node.URL,
		})
		if err != nil {
			failures++
			logger.Error("failed to persist node", "repo", g.RepoID, "path", node.Path, "error", err)
			continue
		}
		if storedID != node.ID {
			node.ID = storedID
		}
	}
	return failures
}
