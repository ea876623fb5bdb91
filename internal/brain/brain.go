// Package brain assembles the engine: pattern store, vector index, tiered
// memory, embedder, recommendation and observation paths, and the
// optional aggregator sync. One Brain is constructed per process at
// startup; there is no global instance.
package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haloview/tvbrain/internal/config"
	"github.com/haloview/tvbrain/internal/embedding"
	"github.com/haloview/tvbrain/internal/memory"
	"github.com/haloview/tvbrain/internal/observe"
	"github.com/haloview/tvbrain/internal/protocol"
	"github.com/haloview/tvbrain/internal/recommend"
	"github.com/haloview/tvbrain/internal/store"
	"github.com/haloview/tvbrain/internal/syncer"
	"github.com/haloview/tvbrain/internal/types"
	"github.com/haloview/tvbrain/internal/vector"
)

// ErrSyncDisabled is returned by Sync when no aggregator is configured.
var ErrSyncDisabled = errors.New("sync disabled: no aggregator configured")

// Brain is the assembled engine.
type Brain struct {
	cfg          *config.Config
	store        *store.SQLiteStore
	index        *vector.ChromemIndex
	mem          *memory.Store
	embedder     embedding.Embedder
	orchestrator *recommend.Orchestrator
	pipeline     *observe.Pipeline
	syncer       *syncer.Syncer
	client       *protocol.Client
	logger       *slog.Logger
}

// New builds a Brain from config. The vector index is rebuilt from the
// persisted patterns so search survives restarts.
func New(cfg *config.Config, logger *slog.Logger) (*Brain, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open pattern store: %w", err)
	}

	index, err := vector.NewChromemIndex()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create vector index: %w", err)
	}

	if err := rebuildIndex(db, index); err != nil {
		db.Close()
		return nil, err
	}

	embedder, err := embedding.NewFromConfig(cfg.Embedding)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	mem := memory.NewStore(nil)

	b := &Brain{
		cfg:      cfg,
		store:    db,
		index:    index,
		mem:      mem,
		embedder: embedder,
		logger:   logger,
	}

	b.orchestrator = recommend.NewOrchestrator(cfg.Recommend, embedder, index, mem, db, db, logger)
	b.pipeline = observe.NewPipeline(cfg.Observe, embedder, index, db, mem, logger)

	if cfg.Sync.AggregatorURL != "" {
		client, err := protocol.NewClient(protocol.ClientConfig{
			BaseURL:          cfg.Sync.AggregatorURL,
			DeviceID:         cfg.Sync.DeviceID,
			Timeout:          time.Duration(cfg.Sync.Timeout),
			MaxResponseBytes: cfg.Sync.MaxResponseBytes,
			Logger:           logger,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create aggregator client: %w", err)
		}
		b.client = client
		b.syncer = syncer.NewSyncer(cfg.Sync, db, client, client.Codec(), index, logger)
	}

	logger.Info("brain assembled",
		"device_id", cfg.Sync.DeviceID,
		"embedder", embedder.ModelName(),
		"patterns", index.Count(),
		"sync_enabled", b.syncer != nil)
	return b, nil
}

func rebuildIndex(db *store.SQLiteStore, index *vector.ChromemIndex) error {
	ctx := context.Background()
	patterns, err := db.AllPatterns(ctx)
	if err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}
	for _, p := range patterns {
		if err := index.Add(ctx, p.ID, p.Embedding, map[string]string{"tag": p.Tag}); err != nil {
			return fmt.Errorf("index pattern %s: %w", p.ID, err)
		}
	}
	return nil
}

// Recommend returns ranked recommendations for the context.
func (b *Brain) Recommend(ctx context.Context, vc types.ViewContext) ([]types.Recommendation, error) {
	return b.orchestrator.Recommend(ctx, vc)
}

// Observe records a viewing event.
func (b *Brain) Observe(ctx context.Context, event types.ViewingEvent) error {
	return b.pipeline.Observe(ctx, event)
}

// Sync runs one manual sync round.
func (b *Brain) Sync(ctx context.Context) (*types.SyncResult, error) {
	if b.syncer == nil {
		return nil, ErrSyncDisabled
	}
	return b.syncer.Sync(ctx)
}

// Health reports component liveness. The aggregator being unreachable
// does not make the device unhealthy.
func (b *Brain) Health(ctx context.Context) map[string]string {
	health := map[string]string{
		"store":    "ok",
		"embedder": b.embedder.ModelName(),
	}
	if _, err := b.store.Count(ctx); err != nil {
		health["store"] = err.Error()
	}

	if b.client == nil {
		health["aggregator"] = "disabled"
	} else if err := b.client.Health(ctx); err != nil {
		health["aggregator"] = "unreachable"
	} else {
		health["aggregator"] = "ok"
	}
	return health
}

// Stats returns store statistics for the stats endpoint.
func (b *Brain) Stats(ctx context.Context) (*store.Stats, error) {
	return b.store.Stats(ctx)
}

// Pipeline exposes the observation pipeline for the consolidation worker.
func (b *Brain) Pipeline() *observe.Pipeline {
	return b.pipeline
}

// Syncer exposes the sync runner for the sync worker, nil when disabled.
func (b *Brain) Syncer() *syncer.Syncer {
	return b.syncer
}

// Store exposes the pattern store for housekeeping.
func (b *Brain) Store() *store.SQLiteStore {
	return b.store
}

// Index exposes the vector index for housekeeping.
func (b *Brain) Index() *vector.ChromemIndex {
	return b.index
}

// Memory exposes the tiered memory for housekeeping.
func (b *Brain) Memory() *memory.Store {
	return b.mem
}

// Shutdown releases storage after in-flight writes have settled.
func (b *Brain) Shutdown() error {
	b.logger.Info("brain shutting down")
	return b.store.Close()
}
