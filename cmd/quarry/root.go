package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/pkg/config"
	"github.com/quarrylabs/quarry/pkg/db"
	"github.com/quarrylabs/quarry/pkg/llm/openai"
)

const version = "0.1.0"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "quarry",
	Short:         "Semantic code search over GitHub repositories",
	Long:          "quarry ingests a repository into summarized, embedded chunks and answers natural-language questions about it.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/"+config.DefaultPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quarry version %s\n", version)
		},
	})
}

// logLevel backs every handler, so config reloads can retune verbosity
// on a running command
var logLevel slog.LevelVar

func newLogger() *slog.Logger {
	logLevel.Set(slog.LevelInfo)
	if verbose {
		logLevel.Set(slog.LevelDebug)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel}))
}

// applyLogLevel takes the profile's log_level unless --verbose pinned
// debug
func applyLogLevel(profile *config.Profile) {
	if verbose {
		return
	}
	logLevel.Set(profile.SlogLevel())
}

// configPath resolves the config file actually in use
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return home + "/" + config.DefaultPath, nil
}

func loadProfile() (*config.Profile, error) {
	loader := config.NewDefaultLoader()
	var (
		global *config.GlobalConfig
		err    error
	)
	if cfgFile != "" {
		global, err = loader.LoadFromPath(cfgFile)
	} else {
		global, err = loader.Load()
	}
	if err != nil {
		return nil, err
	}
	profile, err := global.Active()
	if err != nil {
		return nil, err
	}
	applyLogLevel(profile)
	return profile, nil
}

// parseRepoArg splits an "owner/name" argument
func parseRepoArg(arg string) (owner, name string, err error) {
	parts := strings.Split(arg, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected repository as owner/name, got %q", arg)
	}
	return parts[0], parts[1], nil
}

func openStore(profile *config.Profile) (*db.DB, error) {
	return db.Open(db.Config{
		Path:         profile.DBPath,
		EmbeddingDim: profile.EmbeddingDim,
	})
}

func newModelClient(profile *config.Profile, logger *slog.Logger) (*openai.Client, error) {
	return openai.New(openai.Config{
		BaseURL:    profile.LLMBaseURL,
		APIKey:     profile.LLMAPIKey,
		ChatModel:  profile.ChatModel,
		EmbedModel: profile.EmbeddingModel,
		Dimension:  profile.EmbeddingDim,
		Logger:     logger,
	})
}
