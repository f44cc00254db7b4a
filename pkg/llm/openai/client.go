package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/pkg/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 120 * time.Second

	// Embedding inputs are sent in batches of this size
	embedBatchSize = 100

	maxRetries = 3
)

// Client talks to an OpenAI-compatible API
type Client struct {
	baseURL    string
	apiKey     string
	chatModel  string
	embedModel string
	dimension  int
	httpClient *http.Client
	logger     *slog.Logger
	retryBase  time.Duration
}

// Config holds client configuration
type Config struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
	Dimension  int
	Timeout    time.Duration
	Logger     *slog.Logger
}

// New creates an OpenAI client
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key cannot be empty")
	}
	if cfg.ChatModel == "" {
		return nil, fmt.Errorf("chat model cannot be empty")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive")
	}
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
		apiKey:     cfg.APIKey,
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
		retryBase:  2 * time.Second,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

func (c *Client) doRequestWithRetry(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * c.retryBase
			c.logger.Warn("retrying request", "path", path, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("request failed after %d attempts: %w", maxRetries, lastErr)
}

// chatJSON runs a chat completion with JSON response format and decodes
// the content into out. A refusal (empty content or finish_reason
// content_filter) yields (false, nil) so callers can treat it as "no
// answer".
func (c *Client) chatJSON(ctx context.Context, system, user string, out any) (bool, error) {
	req := chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0.2,
	}

	var resp chatResponse
	if err := c.doRequestWithRetry(ctx, "/chat/completions", req, &resp); err != nil {
		return false, err
	}
	if resp.Error != nil {
		return false, fmt.Errorf("api error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return false, nil
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" || strings.TrimSpace(choice.Message.Content) == "" {
		return false, nil
	}

	content := llm.StripMarkdownCodeFence(choice.Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return false, fmt.Errorf("failed to parse structured output: %w", err)
	}
	return true, nil
}

// chatText runs a plain chat completion and returns the text content
func (c *Client) chatText(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.3,
	}

	var resp chatResponse
	if err := c.doRequestWithRetry(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("api error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed converts texts to vectors. Newlines are folded to spaces before
// embedding; inputs are sent in bounded batches and results keep input
// order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	cleaned := make([]string, len(texts))
	for i, text := range texts {
		cleaned[i] = strings.ReplaceAll(text, "\n", " ")
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(cleaned); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(cleaned) {
			end = len(cleaned)
		}

		req := embeddingRequest{Model: c.embedModel, Input: cleaned[start:end]}
		var resp embeddingResponse
		if err := c.doRequestWithRetry(ctx, "/embeddings", req, &resp); err != nil {
			return nil, fmt.Errorf("embedding batch %d failed: %w", start/embedBatchSize, err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("api error: %s", resp.Error.Message)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", end-start, len(resp.Data))
		}

		batch := make([][]float32, end-start)
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(batch) {
				return nil, fmt.Errorf("embedding index %d out of range", item.Index)
			}
			batch[item.Index] = item.Embedding
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// Dimension returns the configured embedding dimension
func (c *Client) Dimension() int {
	return c.dimension
}

var (
	_ llm.Summarizer        = (*Client)(nil)
	_ llm.QuestionGenerator = (*Client)(nil)
	_ llm.TreePruner        = (*Client)(nil)
	_ llm.EmbeddingProvider = (*Client)(nil)
	_ llm.QueryExpander     = (*Client)(nil)
	_ llm.AnswerGenerator   = (*Client)(nil)
)
