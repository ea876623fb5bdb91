package brain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/haloview/tvbrain/internal/config"
	"github.com/haloview/tvbrain/internal/types"
)

func testBrainConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Path: filepath.Join(t.TempDir(), "brain.db"),
		},
		Embedding: config.EmbeddingConfig{
			Provider:  "local",
			Dimension: types.Dimension,
		},
		Recommend: config.RecommendConfig{
			Timeout:          config.Duration(50 * time.Millisecond),
			EmbedBudget:      config.Duration(20 * time.Millisecond),
			VectorTopK:       50,
			MaxResults:       20,
			SimilarityWeight: 0.5,
			RecencyWeight:    0.2,
			SuccessWeight:    0.3,
			TrendBoost:       0.1,
		},
		Observe: config.ObserveConfig{
			SimilarityThreshold: 0.85,
			ConsolidationDelay:  config.Duration(100 * time.Millisecond),
			PromotionSamples:    25,
		},
		Patterns: config.PatternsConfig{MaxPatterns: 1000},
	}
	return cfg
}

func newTestBrain(t *testing.T, cfg *config.Config) *Brain {
	t.Helper()
	b, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Shutdown() })
	return b
}

func TestBrain_ObserveThenRecommend(t *testing.T) {
	b := newTestBrain(t, testBrainConfig(t))
	ctx := context.Background()

	err := b.Observe(ctx, types.ViewingEvent{
		EventID:         "evt-1",
		ContentID:       "movie-1",
		ContentType:     "movie",
		Genre:           "drama",
		WatchPercentage: 0.9,
		EngagementScore: 0.8,
		Timestamp:       time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	recs, err := b.Recommend(ctx, types.ViewContext{
		UserID:    "u1",
		TimeOfDay: 20,
		DayOfWeek: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) == 0 {
		t.Fatal("Expected recommendations after an observation")
	}
	if recs[0].ContentID != "movie-1" {
		t.Errorf("Expected movie-1, got %s", recs[0].ContentID)
	}
}

func TestBrain_IndexSurvivesRestart(t *testing.T) {
	cfg := testBrainConfig(t)
	ctx := context.Background()

	b, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Observe(ctx, types.ViewingEvent{
		EventID: "evt-1", ContentID: "movie-1", WatchPercentage: 0.9, EngagementScore: 0.8,
	}); err != nil {
		t.Fatal(err)
	}
	if err := b.Shutdown(); err != nil {
		t.Fatal(err)
	}

	restarted := newTestBrain(t, cfg)
	if restarted.Index().Count() != 1 {
		t.Errorf("Expected index rebuilt with 1 pattern, got %d", restarted.Index().Count())
	}

	recs, err := restarted.Recommend(ctx, types.ViewContext{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) == 0 {
		t.Error("Expected recommendations from the rebuilt index")
	}
}

func TestBrain_SyncDisabledWithoutAggregator(t *testing.T) {
	b := newTestBrain(t, testBrainConfig(t))

	_, err := b.Sync(context.Background())
	if !errors.Is(err, ErrSyncDisabled) {
		t.Errorf("Expected ErrSyncDisabled, got %v", err)
	}
	if b.Syncer() != nil {
		t.Error("Expected nil syncer without aggregator URL")
	}
}

func TestBrain_Health(t *testing.T) {
	b := newTestBrain(t, testBrainConfig(t))

	health := b.Health(context.Background())
	if health["store"] != "ok" {
		t.Errorf("Expected healthy store, got %q", health["store"])
	}
	if health["aggregator"] != "disabled" {
		t.Errorf("Expected aggregator disabled, got %q", health["aggregator"])
	}
}
