// Package observe turns viewing events into learned patterns. The hot
// path validates, embeds, and applies the reward update, then hands the
// heavy consolidation work to a background drain.
package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/haloview/tvbrain/internal/config"
	"github.com/haloview/tvbrain/internal/embedding"
	"github.com/haloview/tvbrain/internal/memory"
	"github.com/haloview/tvbrain/internal/metrics"
	"github.com/haloview/tvbrain/internal/types"
	"github.com/haloview/tvbrain/internal/vector"
)

// ErrInvalidEvent is returned when an event's bounded fields are out of
// range or the content id is missing.
var ErrInvalidEvent = errors.New("invalid viewing event")

const (
	watchWeight      = 0.7
	engagementWeight = 0.3
)

// Reward computes the learning signal for an event, clamped to [0,1].
func Reward(e types.ViewingEvent) float64 {
	r := watchWeight*e.WatchPercentage + engagementWeight*e.EngagementScore
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// PatternWriter is the store surface the pipeline needs.
type PatternWriter interface {
	CreatePattern(ctx context.Context, embedding []float32, reward float64, tag string) (*types.Pattern, error)
	ObservePattern(ctx context.Context, id string, reward float64) (*types.Pattern, error)
	GetPattern(ctx context.Context, id string) (*types.Pattern, error)
}

// Consolidation is a deferred follow-up for one observation.
type Consolidation struct {
	PatternID string
	EntryID   string
}

// Pipeline processes viewing events.
type Pipeline struct {
	cfg      config.ObserveConfig
	embedder embedding.Embedder
	index    vector.Index
	store    PatternWriter
	mem      *memory.Store
	jobs     chan Consolidation
	logger   *slog.Logger
}

// NewPipeline wires the observation path.
func NewPipeline(cfg config.ObserveConfig, embedder embedding.Embedder, index vector.Index, store PatternWriter, mem *memory.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		store:    store,
		mem:      mem,
		jobs:     make(chan Consolidation, 256),
		logger:   logger.With("component", "observe"),
	}
}

// Observe records a viewing event. It validates, computes the reward,
// folds it into the nearest pattern (or creates one), and schedules
// consolidation without blocking the caller.
func (p *Pipeline) Observe(ctx context.Context, event types.ViewingEvent) error {
	if !event.Valid() {
		metrics.ObservationsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: content_id %q watch %.2f engagement %.2f",
			ErrInvalidEvent, event.ContentID, event.WatchPercentage, event.EngagementScore)
	}

	reward := Reward(event)

	query, err := p.embedder.Embed(ctx, embedding.EventText(event))
	if err != nil {
		metrics.ObservationsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("embed event: %w", err)
	}

	pattern, err := p.applyReward(ctx, query, reward, event.ContentID)
	if err != nil {
		metrics.ObservationsTotal.WithLabelValues("rejected").Inc()
		return err
	}

	entryID := event.EventID
	if entryID == "" {
		entryID = ulid.Make().String()
	}
	p.mem.Record(memory.Entry{
		ID:         entryID,
		ContentID:  event.ContentID,
		Embedding:  query,
		Confidence: reward,
		RecordedAt: event.Timestamp,
	}, memory.TierSession, memory.TierEpisodic)

	p.schedule(Consolidation{PatternID: pattern.ID, EntryID: entryID})

	metrics.ObservationsTotal.WithLabelValues("accepted").Inc()
	return nil
}

// applyReward reuses the nearest pattern at or above the similarity
// threshold, otherwise creates a new one.
func (p *Pipeline) applyReward(ctx context.Context, query []float32, reward float64, contentID string) (*types.Pattern, error) {
	hits, err := p.index.Search(ctx, query, 1)
	if err != nil {
		p.logger.Warn("nearest pattern search failed, creating new pattern", "error", err)
	}

	if err == nil && len(hits) > 0 && float64(hits[0].Score) >= p.cfg.SimilarityThreshold {
		pattern, err := p.store.ObservePattern(ctx, hits[0].ID, reward)
		if err == nil {
			return pattern, nil
		}
		p.logger.Warn("reward update failed, creating new pattern", "pattern_id", hits[0].ID, "error", err)
	}

	pattern, err := p.store.CreatePattern(ctx, query, reward, contentID)
	if err != nil {
		return nil, fmt.Errorf("create pattern: %w", err)
	}
	if err := p.index.Add(ctx, pattern.ID, query, map[string]string{"tag": contentID}); err != nil {
		p.logger.Warn("index add failed", "pattern_id", pattern.ID, "error", err)
	}
	metrics.PatternsCreated.Inc()
	return pattern, nil
}

// schedule queues a consolidation job without blocking. A full queue
// drops the job; the next observation of the pattern reschedules it.
func (p *Pipeline) schedule(job Consolidation) {
	select {
	case p.jobs <- job:
	default:
		p.logger.Warn("consolidation queue full, dropping job", "pattern_id", job.PatternID)
	}
}

// Consolidations exposes the pending job queue to the background drain.
func (p *Pipeline) Consolidations() <-chan Consolidation {
	return p.jobs
}

// Consolidate runs one deferred job: a pattern that has accumulated
// enough samples gets its memory entry promoted to a longer-retention
// tier.
func (p *Pipeline) Consolidate(ctx context.Context, job Consolidation) error {
	pattern, err := p.store.GetPattern(ctx, job.PatternID)
	if err != nil {
		return fmt.Errorf("load pattern %s: %w", job.PatternID, err)
	}

	if pattern.SampleCount >= p.cfg.PromotionSamples {
		if p.mem.Promote(job.EntryID, memory.TierSemantic) {
			p.logger.Debug("promoted entry to semantic tier",
				"pattern_id", pattern.ID, "sample_count", pattern.SampleCount)
		}
	}
	return nil
}

// DrainDelay is the bound within which scheduled consolidations should run.
func (p *Pipeline) DrainDelay() time.Duration {
	return time.Duration(p.cfg.ConsolidationDelay)
}
