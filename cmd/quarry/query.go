package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/pkg/llm"
	"github.com/quarrylabs/quarry/pkg/llm/cohere"
	"github.com/quarrylabs/quarry/pkg/retrieval"
)

var showContext bool

var queryCmd = &cobra.Command{
	Use:   "query owner/name question...",
	Short: "Ask a question about an ingested repository",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&showContext, "show-context", false, "print the context chunks behind the answer")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	owner, name, err := parseRepoArg(args[0])
	if err != nil {
		return err
	}
	question := strings.Join(args[1:], " ")
	logger := newLogger()

	profile, err := loadProfile()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := openStore(profile)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	modelClient, err := newModelClient(profile, logger)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	// Without a rerank key the engine falls back to distance ordering
	var reranker llm.Reranker
	if profile.RerankAPIKey != "" {
		reranker, err = cohere.New(cohere.Config{
			BaseURL: profile.RerankBaseURL,
			APIKey:  profile.RerankAPIKey,
			Model:   profile.RerankModel,
		})
		if err != nil {
			return fmt.Errorf("failed to create rerank client: %w", err)
		}
	}

	engine, err := retrieval.New(retrieval.Deps{
		Store:    store,
		Expander: modelClient,
		Embedder: modelClient,
		Reranker: reranker,
		Answerer: modelClient,
		Logger:   logger,
	}, retrieval.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to build retrieval engine: %w", err)
	}

	answer, err := engine.Query(cmd.Context(), owner+"/"+name, question)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), answer.Text)
	if showContext {
		for _, item := range answer.Context {
			fmt.Fprintf(cmd.OutOrStdout(), "\n--- context %d (node %s, score %.3f) ---\n%s\n",
				item.Index, item.NodeID, item.RelevanceScore, item.Text)
		}
	}
	return nil
}
