package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/pkg/db"
	"github.com/quarrylabs/quarry/pkg/ingest"
	"github.com/quarrylabs/quarry/pkg/tree"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultTimeout = 60 * time.Second
)

// Client fetches repository trees and blob contents from the GitHub
// REST API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string // override for GitHub Enterprise
	Token   string // empty is allowed for public repositories
	Timeout time.Duration
	Logger  *slog.Logger
}

// New creates a GitHub client
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}
}

var (
	_ ingest.TreeSource     = (*Client)(nil)
	_ ingest.ContentFetcher = (*Client)(nil)
)

type treeResponse struct {
	SHA       string `json:"sha"`
	Truncated bool   `json:"truncated"`
	Tree      []struct {
		Path string `json:"path"`
		Type string `json:"type"` // "blob", "tree" or "commit"
		SHA  string `json:"sha"`
		Size int64  `json:"size"`
		URL  string `json:"url"`
	} `json:"tree"`
}

// FetchTree lists the repository's full tree at its default branch
func (c *Client) FetchTree(ctx context.Context, repo db.Repo) (*tree.Tree, error) {
	branch := repo.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	url := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", c.baseURL, repo.Owner, repo.Name, branch)

	var response treeResponse
	if err := c.getJSON(ctx, url, &response); err != nil {
		return nil, fmt.Errorf("failed to fetch tree for %s/%s: %w", repo.Owner, repo.Name, err)
	}

	result := &tree.Tree{SHA: response.SHA, Truncated: response.Truncated}
	for _, entry := range response.Tree {
		var entryType tree.EntryType
		switch entry.Type {
		case "blob":
			entryType = tree.EntryFile
		case "tree":
			entryType = tree.EntryFolder
		default:
			// Submodule pointers and the like carry no content
			continue
		}
		result.Entries = append(result.Entries, tree.Entry{
			Path: entry.Path,
			Type: entryType,
			Size: entry.Size,
			SHA:  entry.SHA,
			URL:  entry.URL,
		})
	}
	return result, nil
}

type blobResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int64  `json:"size"`
}

// FetchContent retrieves and decodes a file's blob
func (c *Client) FetchContent(ctx context.Context, repo db.Repo, node db.Node) (string, error) {
	if node.SHA == "" {
		return "", fmt.Errorf("node %s has no blob sha", node.Path)
	}
	url := fmt.Sprintf("%s/repos/%s/%s/git/blobs/%s", c.baseURL, repo.Owner, repo.Name, node.SHA)

	var response blobResponse
	if err := c.getJSON(ctx, url, &response); err != nil {
		return "", fmt.Errorf("failed to fetch blob for %s: %w", node.Path, err)
	}

	switch response.Encoding {
	case "base64":
		// GitHub wraps base64 payloads with newlines
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(response.Content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("failed to decode blob for %s: %w", node.Path, err)
		}
		return string(decoded), nil
	case "utf-8":
		return response.Content, nil
	default:
		return "", fmt.Errorf("unexpected blob encoding %q for %s", response.Encoding, node.Path)
	}
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return fmt.Errorf("rate limited, resets at %s", resp.Header.Get("X-RateLimit-Reset"))
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
