package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/haloview/tvbrain/internal/api"
	"github.com/haloview/tvbrain/internal/brain"
	"github.com/haloview/tvbrain/internal/config"
	"github.com/haloview/tvbrain/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

// housekeepInterval drives pattern eviction and trend pruning between sync rounds.
const housekeepInterval = time.Minute

var rootCmd = &cobra.Command{
	Use:   "tvbrain",
	Short: "TVBrain - on-device recommendation engine",
	RunE:  run,
}

func init() {
	rootCmd.Version = Version
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	// 4. Initialize the engine (store, vector index, embedder, memory, pipeline, syncer)
	engine, err := brain.New(cfg, logger)
	if err != nil {
		return err
	}
	slog.Info("engine initialized",
		"db", cfg.Database.Path,
		"embedding_provider", cfg.Embedding.Provider,
		"device_id", cfg.Sync.DeviceID,
	)

	// 5. Initialize HTTP router
	handler := api.NewHandler(engine, Version)
	router := api.NewRouter(handler)

	// 6. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 7. Background workers
	var wg sync.WaitGroup

	consolidation := worker.NewConsolidationCoordinator(
		engine.Pipeline(),
		engine.Store(),
		engine.Index(),
		engine.Memory(),
		cfg.Patterns.MaxPatterns,
		housekeepInterval,
	)
	startWorker(ctx, &wg, "consolidation", consolidation.Run)

	if s := engine.Syncer(); s != nil {
		interval := time.Duration(cfg.Sync.Interval)
		coordinator := worker.NewSyncCoordinator(s, interval, interval/10)
		startWorker(ctx, &wg, "sync", coordinator.Run)
	} else {
		slog.Info("sync disabled: no aggregator configured")
	}

	// 8. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 9. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 10. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 10a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 10b. Wait for workers to complete
	wg.Wait()

	// 10c. Close the engine (flushes and closes the store)
	if err := engine.Shutdown(); err != nil {
		slog.Error("engine shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tvbrain %s\n", Version)
	},
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
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

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
