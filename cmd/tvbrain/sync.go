package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haloview/tvbrain/internal/brain"
	"github.com/haloview/tvbrain/internal/config"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync round against the aggregator and exit",
	Long: "Opens the local pattern store, pushes the quality-gated delta to the " +
		"configured aggregator, merges the returned global patterns, and exits.",
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// One-shot invocations keep stdout for the result; logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	engine, err := brain.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Shutdown(); err != nil {
			slog.Error("engine shutdown error", "error", err)
		}
	}()

	syncCtx, syncCancel := context.WithTimeout(ctx, time.Duration(cfg.Sync.Timeout))
	defer syncCancel()

	result, err := engine.Sync(syncCtx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"pushed=%d received=%d trends=%d version=%d sent=%dB recv=%dB\n",
		result.PatternsPushed, result.PatternsReceived, result.TrendsReceived,
		result.GlobalVersion, result.BytesSent, result.BytesReceived)
	return nil
}
