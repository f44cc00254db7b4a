package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/pkg/config"
	"github.com/quarrylabs/quarry/pkg/db"
	"github.com/quarrylabs/quarry/pkg/github"
	"github.com/quarrylabs/quarry/pkg/ingest"
	"github.com/quarrylabs/quarry/pkg/queue"
)

var (
	ingestBranch      string
	ingestNoWait      bool
	ingestMetricsAddr string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest owner/name",
	Short: "Index a repository for semantic search",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestBranch, "branch", "main", "branch to index")
	ingestCmd.Flags().BoolVar(&ingestNoWait, "no-wait", false, "return after enqueueing instead of waiting for convergence")
	ingestCmd.Flags().StringVar(&ingestMetricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address while ingesting (e.g. :9090)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	owner, name, err := parseRepoArg(args[0])
	if err != nil {
		return err
	}
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

	ghClient := github.New(github.Config{
		BaseURL: profile.GitHubBaseURL,
		Token:   profile.GitHubToken,
		Logger:  logger,
	})

	cfg := ingest.DefaultConfig()
	cfg.ChunkSize = profile.ChunkSize
	cfg.ChunkOverlap = profile.ChunkOverlap
	cfg.FileWorkers = profile.FileWorkers
	cfg.FolderWorkers = profile.FolderWorkers
	cfg.SkipLLMPrune = profile.SkipLLMPrune

	queues := queue.NewService(logger)
	events := queue.NewEventBus()

	engine, err := ingest.New(ingest.Deps{
		Store:      store,
		Fetcher:    ghClient,
		TreeSource: ghClient,
		Pruner:     modelClient,
		Summarizer: modelClient,
		Questions:  modelClient,
		Embedder:   modelClient,
		Queues:     queues,
		Events:     events,
		Logger:     logger,
	}, cfg)
	if err != nil {
		return fmt.Errorf("failed to build ingestion engine: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := queues.Start(ctx); err != nil {
		return err
	}
	defer queues.Stop()

	repoID := owner + "/" + name
	if err := store.UpsertRepo(db.Repo{ID: repoID, Owner: owner, Name: name, DefaultBranch: ingestBranch}); err != nil {
		return fmt.Errorf("failed to register repo: %w", err)
	}

	progress, unsubscribe := events.Subscribe(repoID)
	defer unsubscribe()
	go func() {
		for event := range progress {
			logger.Debug("progress", "node", event.NodeID, "queue", event.Queue, "status", event.Status)
		}
	}()

	if ingestMetricsAddr != "" {
		stopMetrics := serveMetrics(ingestMetricsAddr, logger)
		defer stopMetrics()
	}

	logger.Info("starting ingestion", "repo", repoID, "branch", ingestBranch)
	if err := engine.Ingest(ctx, repoID); err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	if ingestNoWait {
		logger.Info("jobs enqueued, exiting without waiting")
		return nil
	}

	if watcher := watchConfig(logger); watcher != nil {
		defer watcher.Close()
	}

	return waitForConvergence(ctx, store, queues, repoID, logger)
}

// watchConfig hot-reloads the config file while the command waits for
// convergence. Only the log level takes effect on a running ingest;
// other settings apply on the next run. Returns nil when watching is
// unavailable, which is not fatal.
func watchConfig(logger *slog.Logger) *config.ReloadWatcher {
	path, err := configPath()
	if err != nil {
		logger.Warn("config hot reload unavailable", "error", err)
		return nil
	}
	watcher, err := config.NewReloadWatcher(path, config.NewDefaultLoader(), logger)
	if err != nil {
		logger.Warn("config hot reload unavailable", "error", err)
		return nil
	}
	watcher.OnReload(func(global *config.GlobalConfig) {
		profile, err := global.Active()
		if err != nil {
			logger.Warn("reloaded config has no active profile", "error", err)
			return
		}
		applyLogLevel(profile)
	})
	return watcher
}

// serveMetrics exposes the Prometheus registry for the duration of the
// ingest
func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("metrics listener started", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener failed", "error", err)
		}
	}()
	return func() { server.Close() }
}

func waitForConvergence(ctx context.Context, store db.Store, queues *queue.Service, repoID string, logger *slog.Logger) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			counts, err := store.CountNodesByStatus(repoID)
			if err != nil {
				return fmt.Errorf("failed to poll node status: %w", err)
			}
			active := counts[db.StatusPending] + counts[db.StatusProcessing] +
				counts[db.StatusSummarizing] + counts[db.StatusEmbedding]
			if active > 0 || queues.Depth(ingest.FileQueue) > 0 || queues.Depth(ingest.FolderQueue) > 0 {
				logger.Info("ingesting", "active", active,
					"completed", counts[db.StatusCompleted], "failed", counts[db.StatusFailed])
				continue
			}
			if counts[db.StatusFailed] > 0 {
				return fmt.Errorf("ingestion finished with %d failed nodes", counts[db.StatusFailed])
			}
			logger.Info("ingestion complete", "nodes", counts[db.StatusCompleted])
			return nil
		}
	}
}
