package observe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/haloview/tvbrain/internal/config"
	"github.com/haloview/tvbrain/internal/embedding"
	"github.com/haloview/tvbrain/internal/memory"
	"github.com/haloview/tvbrain/internal/store"
	"github.com/haloview/tvbrain/internal/types"
	"github.com/haloview/tvbrain/internal/vector"
)

func testPipeline(t *testing.T) (*Pipeline, *store.SQLiteStore, *memory.Store) {
	t.Helper()

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	index, err := vector.NewChromemIndex()
	if err != nil {
		t.Fatal(err)
	}

	mem := memory.NewStore(nil)
	cfg := config.ObserveConfig{
		SimilarityThreshold: 0.85,
		ConsolidationDelay:  config.Duration(100 * time.Millisecond),
		PromotionSamples:    5,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewPipeline(cfg, embedding.NewLocal(types.Dimension), index, db, mem, logger), db, mem
}

func event(contentID string, watch, engagement float64) types.ViewingEvent {
	return types.ViewingEvent{
		EventID:         "evt-" + contentID,
		SessionID:       "session-1",
		ContentID:       contentID,
		ContentType:     "movie",
		Genre:           "drama",
		WatchPercentage: watch,
		EngagementScore: engagement,
		Timestamp:       time.Now(),
	}
}

func TestReward(t *testing.T) {
	tests := []struct {
		name       string
		watch      float64
		engagement float64
		want       float64
	}{
		{"full watch full engagement", 1.0, 1.0, 1.0},
		{"nothing", 0.0, 0.0, 0.0},
		{"weighted blend", 0.5, 1.0, 0.65},
		{"watch dominates", 1.0, 0.0, 0.7},
		{"engagement alone", 0.0, 1.0, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reward(event("c", tt.watch, tt.engagement))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Reward() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestObserve_RejectsInvalidEvent(t *testing.T) {
	p, _, _ := testPipeline(t)

	tests := []struct {
		name  string
		event types.ViewingEvent
	}{
		{"watch above one", event("c", 1.5, 0.5)},
		{"negative engagement", event("c", 0.5, -0.1)},
		{"missing content id", event("", 0.5, 0.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Observe(context.Background(), tt.event)
			if !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("Expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}

func TestObserve_CreatesPatternOnFirstEvent(t *testing.T) {
	p, db, mem := testPipeline(t)
	ctx := context.Background()

	if err := p.Observe(ctx, event("movie-1", 0.8, 0.6)); err != nil {
		t.Fatal(err)
	}

	count, err := db.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 pattern, got %d", count)
	}

	patterns, err := db.AllPatterns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := 0.7*0.8 + 0.3*0.6
	if math.Abs(patterns[0].SuccessRate-want) > 1e-9 {
		t.Errorf("Expected success rate %f, got %f", want, patterns[0].SuccessRate)
	}
	if patterns[0].Tag != "movie-1" {
		t.Errorf("Expected tag movie-1, got %q", patterns[0].Tag)
	}

	if mem.Len(memory.TierSession) != 1 || mem.Len(memory.TierEpisodic) != 1 {
		t.Error("Expected event recorded in session and episodic tiers")
	}
}

func TestObserve_RepeatedEventsConverge(t *testing.T) {
	p, db, _ := testPipeline(t)
	ctx := context.Background()

	// The local embedder is deterministic, so identical events map onto
	// one pattern.
	for i := 0; i < 10; i++ {
		if err := p.Observe(ctx, event("movie-1", 1.0, 1.0)); err != nil {
			t.Fatal(err)
		}
	}

	count, err := db.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 converged pattern, got %d", count)
	}

	patterns, err := db.AllPatterns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if patterns[0].SampleCount != 10 {
		t.Errorf("Expected sample count 10, got %d", patterns[0].SampleCount)
	}
	if math.Abs(patterns[0].SuccessRate-1.0) > 1e-9 {
		t.Errorf("Expected success rate 1.0, got %f", patterns[0].SuccessRate)
	}
}

func TestObserve_DistinctEventsCreateDistinctPatterns(t *testing.T) {
	p, db, _ := testPipeline(t)
	ctx := context.Background()

	if err := p.Observe(ctx, event("movie-1", 0.9, 0.9)); err != nil {
		t.Fatal(err)
	}
	if err := p.Observe(ctx, event("documentary-7", 0.4, 0.1)); err != nil {
		t.Fatal(err)
	}

	count, err := db.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("Expected 2 patterns for dissimilar events, got %d", count)
	}
}

func TestObserve_SchedulesConsolidation(t *testing.T) {
	p, _, _ := testPipeline(t)

	if err := p.Observe(context.Background(), event("movie-1", 0.8, 0.8)); err != nil {
		t.Fatal(err)
	}

	select {
	case job := <-p.Consolidations():
		if job.PatternID == "" || job.EntryID == "" {
			t.Errorf("Incomplete consolidation job: %+v", job)
		}
	default:
		t.Fatal("Expected a queued consolidation job")
	}
}

func TestConsolidate_PromotesAfterEnoughSamples(t *testing.T) {
	p, _, mem := testPipeline(t)
	ctx := context.Background()

	var last Consolidation
	for i := 0; i < 5; i++ {
		if err := p.Observe(ctx, event("movie-1", 1.0, 1.0)); err != nil {
			t.Fatal(err)
		}
		last = <-p.Consolidations()
	}

	if err := p.Consolidate(ctx, last); err != nil {
		t.Fatal(err)
	}
	if mem.Len(memory.TierSemantic) != 1 {
		t.Errorf("Expected promotion into semantic tier, got %d entries", mem.Len(memory.TierSemantic))
	}

	// Below the sample threshold nothing is promoted.
	p2, _, mem2 := testPipeline(t)
	if err := p2.Observe(ctx, event("movie-2", 1.0, 1.0)); err != nil {
		t.Fatal(err)
	}
	job := <-p2.Consolidations()
	if err := p2.Consolidate(ctx, job); err != nil {
		t.Fatal(err)
	}
	if mem2.Len(memory.TierSemantic) != 0 {
		t.Error("Expected no promotion below the sample threshold")
	}
}
