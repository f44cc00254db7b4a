package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{
		BaseURL:    server.URL,
		APIKey:     "test-key",
		ChatModel:  "gpt-4o-mini",
		EmbedModel: "text-embedding-3-small",
		Dimension:  3,
	})
	require.NoError(t, err)
	client.retryBase = time.Millisecond
	return client
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}, "finish_reason": "stop"},
		},
	}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func summaryInput() llm.SummaryInput {
	return llm.SummaryInput{Path: "src/parse.go", StartLine: 1, EndLine: 40, Code: "func Parse() {}"}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{ChatModel: "m", Dimension: 3})
	assert.Error(t, err, "missing api key")

	_, err = New(Config{APIKey: "k", Dimension: 3})
	assert.Error(t, err, "missing chat model")

	_, err = New(Config{APIKey: "k", ChatModel: "m"})
	assert.Error(t, err, "missing dimension")
}

func TestSummarizeCodeParsesStructuredOutput(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		format, _ := req["response_format"].(map[string]any)
		assert.Equal(t, "json_object", format["type"])

		chatReply(t, w, `{"summary":"Parses manifests","key_elements":[{"type":"function","name":"Parse","description":"entry point"}],"technical_details":{"patterns_used":["visitor"],"primary_purpose":"parsing","dependencies":["encoding/json"]}}`)
	})

	summary, err := client.SummarizeCode(context.Background(), summaryInput())
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "Parses manifests", summary.Summary)
	require.Len(t, summary.KeyElements, 1)
	assert.Equal(t, "Parse", summary.KeyElements[0].Name)
	assert.Equal(t, "parsing", summary.TechnicalDetails.PrimaryPurpose)
}

func TestSummarizeCodeStripsCodeFence(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "```json\n{\"summary\":\"Fenced\",\"key_elements\":[],\"technical_details\":{\"patterns_used\":[],\"primary_purpose\":\"x\",\"dependencies\":[]}}\n```")
	})

	summary, err := client.SummarizeCode(context.Background(), summaryInput())
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "Fenced", summary.Summary)
}

func TestSummarizeCodeRefusalReturnsNil(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": ""}, "finish_reason": "content_filter"},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	summary, err := client.SummarizeCode(context.Background(), summaryInput())
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestEmbedBatchesAndStripsNewlines(t *testing.T) {
	var received [][]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received = append(received, req.Input)

		resp := embeddingResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(i), 1, 2}})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	texts := make([]string, embedBatchSize+5)
	for i := range texts {
		texts[i] = "line one\nline two"
	}

	vectors, err := client.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vectors, embedBatchSize+5)

	require.Len(t, received, 2)
	assert.Len(t, received[0], embedBatchSize)
	assert.Len(t, received[1], 5)
	assert.Equal(t, "line one line two", received[0][0])
}

func TestEmbedEmptyInput(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty input")
	})
	vectors, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		chatReply(t, w, `{"originalQuery":"q","expandedQueries":["a","b"],"queryIntent":"i","keyTerms":[]}`)
	})

	expansion, err := client.ExpandQuery(context.Background(), "q")
	require.NoError(t, err)
	require.NotNil(t, expansion)
	assert.Equal(t, []string{"a", "b"}, expansion.ExpandedQueries)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.ExpandQuery(context.Background(), "q")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateAnswerWithContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "[1] first passage")
		assert.Contains(t, req.Messages[1].Content, "Question: how does parsing work?")
		assert.Nil(t, req.ResponseFormat)

		chatReply(t, w, "Parsing works via the Parse function.")
	})

	answer, err := client.GenerateAnswer(context.Background(), "how does parsing work?", []string{"first passage"})
	require.NoError(t, err)
	assert.Equal(t, "Parsing works via the Parse function.", answer)
}
