package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/haloview/tvbrain/internal/memory"
	"github.com/haloview/tvbrain/internal/metrics"
	"github.com/haloview/tvbrain/internal/observe"
)

// Consolidator is implemented by observe.Pipeline.
type Consolidator interface {
	Consolidations() <-chan observe.Consolidation
	Consolidate(ctx context.Context, job observe.Consolidation) error
	DrainDelay() time.Duration
}

// HousekeepingStore covers the periodic maintenance the coordinator runs
// between consolidation jobs.
type HousekeepingStore interface {
	EvictOldest(ctx context.Context, max int) ([]string, error)
	PruneTrends(ctx context.Context, now time.Time) (int64, error)
}

// IndexRemover removes evicted patterns from the vector index.
type IndexRemover interface {
	Remove(ctx context.Context, ids ...string) error
}

// ConsolidationCoordinator drains deferred observation work and runs
// periodic housekeeping: pattern eviction, stale trend pruning, and
// memory tier pruning.
type ConsolidationCoordinator struct {
	pipeline    Consolidator
	store       HousekeepingStore
	index       IndexRemover
	mem         *memory.Store
	maxPatterns int
	interval    time.Duration
}

// NewConsolidationCoordinator creates the coordinator. interval paces the
// housekeeping pass; consolidation jobs are drained as they arrive.
func NewConsolidationCoordinator(pipeline Consolidator, store HousekeepingStore, index IndexRemover, mem *memory.Store, maxPatterns int, interval time.Duration) *ConsolidationCoordinator {
	return &ConsolidationCoordinator{
		pipeline:    pipeline,
		store:       store,
		index:       index,
		mem:         mem,
		maxPatterns: maxPatterns,
		interval:    interval,
	}
}

// Run starts the drain loop. It blocks until ctx is cancelled.
func (c *ConsolidationCoordinator) Run(ctx context.Context) {
	delay := c.pipeline.DrainDelay()
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	slog.Info("consolidation coordinator started",
		"component", "worker",
		"worker", "consolidation-coordinator",
		"drain_delay", delay.String(),
		"interval", c.interval.String(),
		"max_patterns", c.maxPatterns,
	)

	// Jobs accumulate on the pipeline's queue and are drained in batches,
	// so every scheduled consolidation runs within one drain delay.
	drain := time.NewTicker(delay)
	defer drain.Stop()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("consolidation coordinator stopped",
				"component", "worker",
				"worker", "consolidation-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-drain.C:
			c.drainJobs(ctx)
		case <-ticker.C:
			c.housekeep(ctx)
		}
	}
}

// drainJobs processes every queued consolidation without blocking on an
// empty queue.
func (c *ConsolidationCoordinator) drainJobs(ctx context.Context) {
	for {
		select {
		case job := <-c.pipeline.Consolidations():
			if err := c.pipeline.Consolidate(ctx, job); err != nil {
				slog.Warn("consolidation job failed",
					"component", "worker",
					"worker", "consolidation-coordinator",
					"pattern_id", job.PatternID,
					"error", err,
				)
			}
		default:
			return
		}
	}
}

// housekeep evicts above-cap patterns, prunes stale trends, and drops
// aged-out memory entries.
func (c *ConsolidationCoordinator) housekeep(ctx context.Context) {
	evicted, err := c.store.EvictOldest(ctx, c.maxPatterns)
	if err != nil {
		slog.Warn("pattern eviction failed",
			"component", "worker",
			"worker", "consolidation-coordinator",
			"error", err,
		)
	} else if len(evicted) > 0 {
		metrics.PatternsEvicted.Add(float64(len(evicted)))
		if c.index != nil {
			if err := c.index.Remove(ctx, evicted...); err != nil {
				slog.Warn("index eviction failed",
					"component", "worker",
					"worker", "consolidation-coordinator",
					"error", err,
				)
			}
		}
		slog.Debug("evicted stale patterns",
			"component", "worker",
			"worker", "consolidation-coordinator",
			"count", len(evicted),
		)
	}

	if _, err := c.store.PruneTrends(ctx, time.Now()); err != nil {
		slog.Warn("trend pruning failed",
			"component", "worker",
			"worker", "consolidation-coordinator",
			"error", err,
		)
	}

	if c.mem != nil {
		c.mem.Prune()
	}
}
