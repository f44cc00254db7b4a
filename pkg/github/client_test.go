package github

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/db"
	"github.com/quarrylabs/quarry/pkg/tree"
)

func testRepo() db.Repo {
	return db.Repo{ID: "r1", Owner: "acme", Name: "demo", DefaultBranch: "main"}
}

func TestFetchTree(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/demo/git/trees/main", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"sha": "abc",
			"truncated": false,
			"tree": [
				{"path": "src", "type": "tree", "sha": "t1"},
				{"path": "src/main.go", "type": "blob", "sha": "b1", "size": 42},
				{"path": "vendor-module", "type": "commit", "sha": "c1"}
			]
		}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Token: "tok"})
	fetched, err := client.FetchTree(context.Background(), testRepo())
	require.NoError(t, err)

	assert.Equal(t, "abc", fetched.SHA)
	require.Len(t, fetched.Entries, 2, "submodule entries should be skipped")
	assert.Equal(t, tree.EntryFolder, fetched.Entries[0].Type)
	assert.Equal(t, "src/main.go", fetched.Entries[1].Path)
	assert.Equal(t, int64(42), fetched.Entries[1].Size)
}

func TestFetchContentDecodesBase64(t *testing.T) {
	content := "package main\n\nfunc main() {}\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	// GitHub inserts line breaks into the payload
	wrapped := encoded[:10] + `\n` + encoded[10:]

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/demo/git/blobs/b1", r.URL.Path)
		w.Write([]byte(`{"content": "` + wrapped + `", "encoding": "base64"}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	got, err := client.FetchContent(context.Background(), testRepo(), db.Node{Path: "main.go", SHA: "b1"})
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestFetchContentRejectsMissingSHA(t *testing.T) {
	client := New(Config{BaseURL: "http://unused"})
	_, err := client.FetchContent(context.Background(), testRepo(), db.Node{Path: "main.go"})
	assert.Error(t, err)
}

func TestFetchTreeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "Not Found"}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	_, err := client.FetchTree(context.Background(), testRepo())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
