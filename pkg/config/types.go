package config

import (
	"fmt"
	"log/slog"
)

// GlobalConfig represents the main configuration file at ~/.quarry/config.yaml
type GlobalConfig struct {
	Version       string              `yaml:"version"`
	ActiveProfile string              `yaml:"active_profile"`
	Profiles      map[string]*Profile `yaml:"profiles"`
}

// Profile represents a single configuration profile with all settings
type Profile struct {
	// Storage
	DBPath       string `yaml:"db_path,omitempty"`
	EmbeddingDim int    `yaml:"embedding_dim,omitempty"`

	// Chunking
	ChunkSize    int `yaml:"chunk_size,omitempty"`
	ChunkOverlap int `yaml:"chunk_overlap,omitempty"`

	// Model provider settings
	LLMBaseURL     string `yaml:"llm_base_url,omitempty"`
	LLMAPIKey      string `yaml:"llm_api_key,omitempty"`
	ChatModel      string `yaml:"chat_model,omitempty"`
	EmbeddingModel string `yaml:"embedding_model,omitempty"`

	// Reranker settings
	RerankBaseURL string `yaml:"rerank_base_url,omitempty"`
	RerankAPIKey  string `yaml:"rerank_api_key,omitempty"`
	RerankModel   string `yaml:"rerank_model,omitempty"`

	// Source host settings
	GitHubToken   string `yaml:"github_token,omitempty"`
	GitHubBaseURL string `yaml:"github_base_url,omitempty"`

	// Ingestion tuning
	FileWorkers   int  `yaml:"file_workers,omitempty"`
	FolderWorkers int  `yaml:"folder_workers,omitempty"`
	SkipLLMPrune  bool `yaml:"skip_llm_prune,omitempty"`

	// Logging
	LogLevel string `yaml:"log_level,omitempty"`
}

// Active returns the profile named by active_profile
func (c *GlobalConfig) Active() (*Profile, error) {
	profile, ok := c.Profiles[c.ActiveProfile]
	if !ok {
		return nil, fmt.Errorf("active profile %s not found in config", c.ActiveProfile)
	}
	return profile, nil
}

// SlogLevel maps the profile's log_level to a slog level, defaulting
// to info
func (p *Profile) SlogLevel() slog.Level {
	switch p.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// applyDefaults fills zero-valued tuning fields
func (p *Profile) applyDefaults(home string) {
	if p.DBPath == "" {
		p.DBPath = home + "/.quarry/quarry.db"
	}
	if p.EmbeddingDim == 0 {
		p.EmbeddingDim = 1536
	}
	if p.ChunkSize == 0 {
		p.ChunkSize = 4096
	}
	if p.ChunkOverlap == 0 {
		p.ChunkOverlap = 256
	}
	if p.FileWorkers == 0 {
		p.FileWorkers = 4
	}
	if p.FolderWorkers == 0 {
		p.FolderWorkers = 2
	}
}
