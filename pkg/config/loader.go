package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the global config location relative to the home
// directory
const DefaultPath = ".quarry/config.yaml"

// Loader handles loading and validating configurations
type Loader struct {
	fs FileSystem
}

// NewLoader creates a new Loader with the given filesystem
func NewLoader(fs FileSystem) *Loader {
	return &Loader{fs: fs}
}

// NewDefaultLoader creates a Loader with real filesystem operations
func NewDefaultLoader() *Loader {
	return &Loader{fs: &RealFileSystem{}}
}

// Load reads the global configuration from ~/.quarry/config.yaml
func (l *Loader) Load() (*GlobalConfig, error) {
	home, err := l.fs.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return l.LoadFromPath(home + "/" + DefaultPath)
}

// LoadFromPath reads a global config file, validates it and applies
// profile defaults. API keys may also come from the environment;
// QUARRY_LLM_API_KEY, QUARRY_RERANK_API_KEY and QUARRY_GITHUB_TOKEN
// override the file values when set.
func (l *Loader) LoadFromPath(path string) (*GlobalConfig, error) {
	data, err := l.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config GlobalConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.ActiveProfile == "" {
		return nil, fmt.Errorf("active_profile not specified in config")
	}
	profile, ok := config.Profiles[config.ActiveProfile]
	if !ok {
		return nil, fmt.Errorf("active profile %s not found in config", config.ActiveProfile)
	}

	home, err := l.fs.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	profile.applyDefaults(home)

	if key := os.Getenv("QUARRY_LLM_API_KEY"); key != "" {
		profile.LLMAPIKey = key
	}
	if key := os.Getenv("QUARRY_RERANK_API_KEY"); key != "" {
		profile.RerankAPIKey = key
	}
	if token := os.Getenv("QUARRY_GITHUB_TOKEN"); token != "" {
		profile.GitHubToken = token
	}

	if err := validateProfile(profile); err != nil {
		return nil, fmt.Errorf("profile %s is invalid: %w", config.ActiveProfile, err)
	}

	return &config, nil
}

func validateProfile(p *Profile) error {
	if p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", p.ChunkOverlap, p.ChunkSize)
	}
	if p.EmbeddingDim < 0 {
		return fmt.Errorf("embedding_dim cannot be negative")
	}
	switch p.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", p.LogLevel)
	}
	return nil
}
