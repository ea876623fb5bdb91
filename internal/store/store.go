package store

import (
	"context"
	"time"

	"github.com/haloview/tvbrain/internal/types"
)

// PatternStore defines the interface contract for pattern persistence.
type PatternStore interface {
	CreatePattern(ctx context.Context, embedding []float32, reward float64, tag string) (*types.Pattern, error)
	GetPattern(ctx context.Context, id string) (*types.Pattern, error)
	ObservePattern(ctx context.Context, id string, reward float64) (*types.Pattern, error)
	AllPatterns(ctx context.Context) ([]types.Pattern, error)
	QualitySnapshot(ctx context.Context, minRate float64, minSamples uint64) ([]types.Pattern, error)
	MergeGlobal(ctx context.Context, patterns []types.Pattern) (merged int, err error)
	EvictOldest(ctx context.Context, max int) (evicted []string, err error)
	Count(ctx context.Context) (int, error)

	UpsertTrends(ctx context.Context, trends []types.TrendSignal) error
	FreshTrends(ctx context.Context, now time.Time) ([]types.TrendSignal, error)
	PruneTrends(ctx context.Context, now time.Time) (int64, error)

	SyncVersion(ctx context.Context) (uint64, error)
	SetSyncVersion(ctx context.Context, version uint64) error
	LastSyncAt(ctx context.Context) (time.Time, error)
	SetLastSyncAt(ctx context.Context, t time.Time) error

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Stats are aggregate counters surfaced on the stats endpoint.
type Stats struct {
	PatternCount   int       `json:"pattern_count"`
	TrendCount     int       `json:"trend_count"`
	SyncVersion    uint64    `json:"sync_version"`
	LastSyncAt     time.Time `json:"last_sync_at"`
	AvgSuccessRate float64   `json:"avg_success_rate"`
	TotalSamples   uint64    `json:"total_samples"`
}
