package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/pkg/db"
)

var statusCmd = &cobra.Command{
	Use:   "status owner/name",
	Short: "Show ingestion progress for a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	owner, name, err := parseRepoArg(args[0])
	if err != nil {
		return err
	}

	profile, err := loadProfile()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := openStore(profile)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	repoID := owner + "/" + name
	repo, err := store.GetRepo(repoID)
	if err != nil {
		return fmt.Errorf("repository %s is not known, run ingest first", repoID)
	}

	counts, err := store.CountNodesByStatus(repoID)
	if err != nil {
		return fmt.Errorf("failed to count nodes: %w", err)
	}
	embeddings, err := store.CountEmbeddings(repoID)
	if err != nil {
		return fmt.Errorf("failed to count embeddings: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Repository: %s (branch %s)\n", repoID, repo.DefaultBranch)
	fmt.Fprintf(out, "Initialized: %v\nIngested: %v\n\n", repo.Initialized, repo.Ingested)
	for _, status := range []db.Status{
		db.StatusPending, db.StatusProcessing, db.StatusSummarizing,
		db.StatusEmbedding, db.StatusCompleted, db.StatusFailed,
	} {
		if counts[status] > 0 {
			fmt.Fprintf(out, "%-12s %d\n", status, counts[status])
		}
	}
	fmt.Fprintf(out, "\nEmbeddings: %d\n", embeddings)
	return nil
}
