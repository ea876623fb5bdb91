package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/haloview/tvbrain/internal/syncer"
	"github.com/haloview/tvbrain/internal/types"
)

// SyncRunner is implemented by syncer.Syncer.
type SyncRunner interface {
	Sync(ctx context.Context) (*types.SyncResult, error)
}

// SyncCoordinator runs scheduled delta syncs against the aggregator.
type SyncCoordinator struct {
	runner   SyncRunner
	interval time.Duration
	jitter   time.Duration
}

// NewSyncCoordinator creates a coordinator that syncs every interval,
// plus up to jitter of random skew so a fleet of devices does not hit
// the aggregator in lockstep.
func NewSyncCoordinator(runner SyncRunner, interval, jitter time.Duration) *SyncCoordinator {
	return &SyncCoordinator{
		runner:   runner,
		interval: interval,
		jitter:   jitter,
	}
}

// Run starts the sync loop. It blocks until ctx is cancelled.
//
// The first sync fires after one full (jittered) interval, not at start:
// a freshly booted device has no quality patterns to share and gains
// nothing from an immediate heartbeat.
func (c *SyncCoordinator) Run(ctx context.Context) {
	slog.Info("sync coordinator started",
		"component", "worker",
		"worker", "sync-coordinator",
		"interval", c.interval.String(),
		"jitter", c.jitter.String(),
	)

	timer := time.NewTimer(c.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync coordinator stopped",
				"component", "worker",
				"worker", "sync-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-timer.C:
			c.runOnce(ctx)
			timer.Reset(c.nextInterval())
		}
	}
}

func (c *SyncCoordinator) nextInterval() time.Duration {
	if c.jitter <= 0 {
		return c.interval
	}
	return c.interval + time.Duration(rand.Int63n(int64(c.jitter)))
}

// runOnce performs one sync round. Failures are logged and absorbed; the
// next tick retries.
func (c *SyncCoordinator) runOnce(ctx context.Context) {
	result, err := c.runner.Sync(ctx)
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			slog.Debug("sync tick skipped, round already in flight",
				"component", "worker",
				"worker", "sync-coordinator",
			)
			return
		}
		slog.Warn("scheduled sync failed",
			"component", "worker",
			"worker", "sync-coordinator",
			"error", err,
		)
		return
	}

	slog.Debug("scheduled sync complete",
		"component", "worker",
		"worker", "sync-coordinator",
		"pushed", result.PatternsPushed,
		"received", result.PatternsReceived,
		"global_version", result.GlobalVersion,
	)
}
