// Package recommend ranks content for a viewing context under a strict
// latency budget. The embed, vector-search, and memory-recall sub-calls
// are independent and joined at a single merge point; losing one source
// degrades the result set instead of failing the call.
package recommend

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/haloview/tvbrain/internal/config"
	"github.com/haloview/tvbrain/internal/embedding"
	"github.com/haloview/tvbrain/internal/memory"
	"github.com/haloview/tvbrain/internal/metrics"
	"github.com/haloview/tvbrain/internal/types"
	"github.com/haloview/tvbrain/internal/vector"
)

var (
	// ErrUnavailable is returned when every candidate source failed.
	ErrUnavailable = errors.New("no recommendation source available")

	// ErrDeadlineExceeded is returned when the deadline expired with no
	// partial results to serve.
	ErrDeadlineExceeded = errors.New("recommendation deadline exceeded")
)

// recencyHalfLife controls how fast the recency term decays.
const recencyHalfLife = 24 * time.Hour

// PatternSource resolves vector-index hits to their pattern records.
type PatternSource interface {
	GetPattern(ctx context.Context, id string) (*types.Pattern, error)
}

// TrendSource supplies fresh network-wide trend signals.
type TrendSource interface {
	FreshTrends(ctx context.Context, now time.Time) ([]types.TrendSignal, error)
}

// Orchestrator merges vector and memory candidates into a ranked list.
type Orchestrator struct {
	cfg      config.RecommendConfig
	embedder embedding.Embedder
	index    vector.Index
	recall   memory.Recaller
	patterns PatternSource
	trends   TrendSource
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator wires the recommendation path. The trend source may be
// nil when no aggregator is configured.
func NewOrchestrator(cfg config.RecommendConfig, embedder embedding.Embedder, index vector.Index, recall memory.Recaller, patterns PatternSource, trends TrendSource, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		recall:   recall,
		patterns: patterns,
		trends:   trends,
		logger:   logger.With("component", "recommend"),
		now:      time.Now,
	}
}

// candidate is an unscored merge input.
type candidate struct {
	contentID  string
	source     types.RecommendationSource
	similarity float64
	success    float64
	confidence float64
	updatedAt  time.Time
}

// Recommend returns up to MaxResults ranked recommendations for the
// context, within the configured deadline.
func (o *Orchestrator) Recommend(ctx context.Context, vc types.ViewContext) ([]types.Recommendation, error) {
	start := o.now()
	defer func() {
		metrics.RecommendDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.Timeout))
	defer cancel()

	query := o.embedContext(ctx, vc)

	vectorCands, memoryCands := o.gather(ctx, query)

	if len(vectorCands) == 0 && len(memoryCands) == 0 {
		if ctx.Err() != nil {
			metrics.RecommendErrors.WithLabelValues("deadline").Inc()
			return nil, ErrDeadlineExceeded
		}
		metrics.RecommendErrors.WithLabelValues("unavailable").Inc()
		return nil, ErrUnavailable
	}

	merged := mergeByContent(append(vectorCands, memoryCands...))
	recs := o.score(ctx, merged)

	if len(recs) > o.cfg.MaxResults {
		recs = recs[:o.cfg.MaxResults]
	}
	return recs, nil
}

// embedContext embeds the view context under its own sub-budget. A nil
// return means the caller proceeds memory-only.
func (o *Orchestrator) embedContext(ctx context.Context, vc types.ViewContext) []float32 {
	embedCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.EmbedBudget))
	defer cancel()

	query, err := o.embedder.Embed(embedCtx, embedding.ContextText(vc))
	if err != nil {
		o.logger.Warn("context embedding failed, falling back to memory-only", "error", err)
		metrics.RecommendFallbacks.WithLabelValues("embed_timeout").Inc()
		return nil
	}
	return query
}

// gather runs the vector search and memory recall concurrently and joins
// them. A nil query skips the vector leg entirely.
func (o *Orchestrator) gather(ctx context.Context, query []float32) (vectorCands, memoryCands []candidate) {
	var wg sync.WaitGroup

	if query != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := o.index.Search(ctx, query, o.cfg.VectorTopK)
			if err != nil {
				o.logger.Warn("vector search failed, continuing memory-only", "error", err)
				metrics.RecommendFallbacks.WithLabelValues("vector_error").Inc()
				return
			}
			vectorCands = o.resolveVectorHits(ctx, hits)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		hits, err := o.recall.Recall(ctx, query, []memory.Tier{memory.TierInstant, memory.TierSession, memory.TierEpisodic, memory.TierSemantic}, o.cfg.VectorTopK)
		if err != nil {
			o.logger.Warn("memory recall failed", "error", err)
			metrics.RecommendFallbacks.WithLabelValues("memory_error").Inc()
			return
		}
		for _, h := range hits {
			memoryCands = append(memoryCands, candidate{
				contentID:  h.ContentID,
				source:     types.SourceMemory,
				similarity: h.Score,
				confidence: h.Confidence,
				updatedAt:  h.RecordedAt,
			})
		}
	}()

	wg.Wait()
	return vectorCands, memoryCands
}

// resolveVectorHits maps index hits to content candidates through their
// pattern records. Patterns missing from the store are skipped.
func (o *Orchestrator) resolveVectorHits(ctx context.Context, hits []vector.Hit) []candidate {
	cands := make([]candidate, 0, len(hits))
	for _, h := range hits {
		p, err := o.patterns.GetPattern(ctx, h.ID)
		if err != nil {
			continue
		}
		contentID := p.Tag
		if contentID == "" {
			contentID = p.ID
		}
		cands = append(cands, candidate{
			contentID:  contentID,
			source:     types.SourceVector,
			similarity: float64(h.Score),
			success:    p.SuccessRate,
			confidence: float64(h.Score),
			updatedAt:  p.UpdatedAt,
		})
	}
	return cands
}

// mergeByContent dedupes candidates by content id, keeping the source with
// the highest confidence.
func mergeByContent(cands []candidate) []candidate {
	best := make(map[string]candidate, len(cands))
	for _, c := range cands {
		if prev, ok := best[c.contentID]; ok && prev.confidence >= c.confidence {
			continue
		}
		best[c.contentID] = c
	}
	out := make([]candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	return out
}

// score blends similarity, recency, and success into a final ranking, and
// folds in fresh trend signals.
func (o *Orchestrator) score(ctx context.Context, cands []candidate) []types.Recommendation {
	now := o.now()
	trendByContent := o.freshTrends(ctx, now)

	type ranked struct {
		rec       types.Recommendation
		updatedAt time.Time
	}

	out := make([]ranked, 0, len(cands)+len(trendByContent))
	for _, c := range cands {
		score := o.cfg.SimilarityWeight*c.similarity +
			o.cfg.RecencyWeight*recencyDecay(now, c.updatedAt) +
			o.cfg.SuccessWeight*c.success
		if t, ok := trendByContent[c.contentID]; ok {
			score += o.cfg.TrendBoost * t.Score
			delete(trendByContent, c.contentID)
		}
		out = append(out, ranked{
			rec: types.Recommendation{
				ContentID:  c.contentID,
				Score:      score,
				Source:     c.source,
				Confidence: c.confidence,
			},
			updatedAt: c.updatedAt,
		})
	}

	// Trends not matching any local candidate still surface, ranked by
	// their boost contribution alone.
	for _, t := range trendByContent {
		out = append(out, ranked{
			rec: types.Recommendation{
				ContentID:  t.ContentID,
				Score:      o.cfg.TrendBoost * t.Score,
				Source:     types.SourceTrend,
				Confidence: t.Score,
			},
			updatedAt: t.CalculatedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].rec.Score != out[j].rec.Score {
			return out[i].rec.Score > out[j].rec.Score
		}
		return out[i].updatedAt.After(out[j].updatedAt)
	})

	recs := make([]types.Recommendation, len(out))
	for i, r := range out {
		recs[i] = r.rec
	}
	return recs
}

func (o *Orchestrator) freshTrends(ctx context.Context, now time.Time) map[string]types.TrendSignal {
	if o.trends == nil {
		return nil
	}
	trends, err := o.trends.FreshTrends(ctx, now)
	if err != nil {
		o.logger.Warn("trend lookup failed", "error", err)
		return nil
	}
	byContent := make(map[string]types.TrendSignal, len(trends))
	for _, t := range trends {
		if t.Fresh(now) {
			byContent[t.ContentID] = t
		}
	}
	return byContent
}

func recencyDecay(now, updatedAt time.Time) float64 {
	if updatedAt.IsZero() {
		return 0
	}
	age := now.Sub(updatedAt)
	if age < 0 {
		age = 0
	}
	return math.Exp2(-age.Hours() / recencyHalfLife.Hours())
}
