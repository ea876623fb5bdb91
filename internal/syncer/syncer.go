// Package syncer exchanges quality-filtered pattern deltas with the
// aggregator. Sync failures are local and recoverable; they never
// propagate into the recommend or observe paths.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/haloview/tvbrain/internal/config"
	"github.com/haloview/tvbrain/internal/metrics"
	"github.com/haloview/tvbrain/internal/protocol"
	"github.com/haloview/tvbrain/internal/types"
)

// ErrSyncInProgress is returned when a sync round is already running.
// The caller skips; the round in flight carries the work.
var ErrSyncInProgress = errors.New("sync already in progress")

// fullResyncGap is how far ahead the aggregator's version must be before
// the client abandons deltas and requests the full set.
const fullResyncGap = 10

// SyncStore is the persistence surface the syncer needs.
type SyncStore interface {
	QualitySnapshot(ctx context.Context, minRate float64, minSamples uint64) ([]types.Pattern, error)
	MergeGlobal(ctx context.Context, patterns []types.Pattern) (int, error)
	UpsertTrends(ctx context.Context, trends []types.TrendSignal) error
	PruneTrends(ctx context.Context, now time.Time) (int64, error)
	SyncVersion(ctx context.Context) (uint64, error)
	SetSyncVersion(ctx context.Context, version uint64) error
	SetLastSyncAt(ctx context.Context, t time.Time) error
}

// Transport is the aggregator client surface the syncer needs.
type Transport interface {
	PushDelta(ctx context.Context, payload []byte, version uint64) (*types.GlobalPatterns, int, error)
	RemoteVersion(ctx context.Context) (uint64, error)
}

// Merger applies received global patterns to the local vector index.
type Merger interface {
	Add(ctx context.Context, id string, embedding []float32, metadata map[string]string) error
}

// Syncer runs the delta sync protocol.
type Syncer struct {
	cfg       config.SyncConfig
	store     SyncStore
	client    Transport
	codec     *protocol.Codec
	index     Merger
	logger    *slog.Logger
	inFlight  atomic.Bool
	now       func() time.Time
	retryBase time.Duration
}

// NewSyncer creates a Syncer. The index may be nil; merged patterns are
// then only persisted, not searchable until restart.
func NewSyncer(cfg config.SyncConfig, st SyncStore, client Transport, codec *protocol.Codec, index Merger, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		cfg:       cfg,
		store:     st,
		client:    client,
		codec:     codec,
		index:     index,
		logger:    logger.With("component", "syncer"),
		now:       time.Now,
		retryBase: time.Second,
	}
}

// Sync runs one complete round: filter, package, compress, transmit,
// merge, advance. It is self-exclusive; a concurrent call returns
// ErrSyncInProgress without touching the network.
func (s *Syncer) Sync(ctx context.Context) (*types.SyncResult, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.SyncAttempts.WithLabelValues("skipped").Inc()
		return nil, ErrSyncInProgress
	}
	defer s.inFlight.Store(false)

	result, err := s.run(ctx)
	if err != nil {
		metrics.SyncAttempts.WithLabelValues("failure").Inc()
		s.logger.Warn("sync round failed", "error", err)
		return nil, err
	}

	metrics.SyncAttempts.WithLabelValues("success").Inc()
	metrics.SyncBytesSent.Add(float64(result.BytesSent))
	metrics.SyncBytesReceived.Add(float64(result.BytesReceived))
	metrics.SyncPatternsPushed.Add(float64(result.PatternsPushed))
	metrics.SyncVersion.Set(float64(result.GlobalVersion))

	s.logger.Info("sync round complete",
		"pushed", result.PatternsPushed,
		"received", result.PatternsReceived,
		"trends", result.TrendsReceived,
		"global_version", result.GlobalVersion,
		"bytes_sent", result.BytesSent,
		"bytes_received", result.BytesReceived)
	return result, nil
}

func (s *Syncer) run(ctx context.Context) (*types.SyncResult, error) {
	version, err := s.store.SyncVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read sync version: %w", err)
	}

	// A far-ahead aggregator means our delta baseline is useless; ask
	// for the full set by presenting version zero.
	if remote, err := s.client.RemoteVersion(ctx); err == nil {
		if remote > version && remote-version > fullResyncGap {
			s.logger.Info("aggregator far ahead, requesting full resync",
				"local_version", version, "remote_version", remote)
			version = 0
		}
	} else {
		s.logger.Debug("remote version probe failed, proceeding with delta", "error", err)
	}

	patterns, err := s.store.QualitySnapshot(ctx, s.cfg.MinSuccessRate, s.cfg.MinSampleCount)
	if err != nil {
		return nil, fmt.Errorf("quality snapshot: %w", err)
	}

	// An empty pattern set still syncs: the heartbeat keeps trends and
	// global patterns flowing in.
	payload, pushed, err := s.buildPayload(patterns, version)
	if err != nil {
		return nil, err
	}

	global, received, err := s.transmit(ctx, payload, version)
	if errors.Is(err, protocol.ErrVersionConflict) && version != 0 {
		// The aggregator rejected our baseline. Fall back to a full
		// resync in the same round instead of failing it.
		s.logger.Info("sync version rejected, retrying as full resync",
			"local_version", version)
		version = 0
		payload, pushed, err = s.buildPayload(patterns, version)
		if err != nil {
			return nil, err
		}
		global, received, err = s.transmit(ctx, payload, version)
	}
	if err != nil {
		return nil, err
	}

	merged, trendsKept, err := s.merge(ctx, global)
	if err != nil {
		return nil, err
	}

	// Version advances only after the entire round succeeded.
	if err := s.store.SetSyncVersion(ctx, global.Version); err != nil {
		return nil, fmt.Errorf("advance sync version: %w", err)
	}
	if err := s.store.SetLastSyncAt(ctx, s.now()); err != nil {
		return nil, fmt.Errorf("record sync time: %w", err)
	}

	return &types.SyncResult{
		PatternsPushed:   pushed,
		PatternsReceived: merged,
		TrendsReceived:   trendsKept,
		GlobalVersion:    global.Version,
		BytesSent:        len(payload),
		BytesReceived:    received,
	}, nil
}

// buildPayload compresses the delta, dropping lowest-confidence patterns
// from the tail until the compressed form fits the ceiling. Records are
// dropped whole, never truncated.
func (s *Syncer) buildPayload(patterns []types.Pattern, version uint64) ([]byte, int, error) {
	for {
		delta := types.SyncDelta{
			DeviceID:  s.cfg.DeviceID,
			Patterns:  patterns,
			Version:   version,
			Timestamp: s.now().UTC(),
		}

		payload, err := s.codec.MarshalLimit(delta, s.cfg.MaxDeltaBytes)
		if err == nil {
			return payload, len(patterns), nil
		}
		if !errors.Is(err, protocol.ErrCompressionLimit) {
			return nil, 0, err
		}
		if len(patterns) == 0 {
			return nil, 0, fmt.Errorf("empty delta over ceiling: %w", err)
		}

		// QualitySnapshot orders best-first, so the tail is the lowest
		// confidence record.
		s.logger.Debug("delta over ceiling, dropping lowest-confidence pattern",
			"patterns", len(patterns))
		patterns = patterns[:len(patterns)-1]
	}
}

// transmit pushes the payload with exponential backoff and jitter.
// Only transport errors retry; protocol errors fail the round at once.
func (s *Syncer) transmit(ctx context.Context, payload []byte, version uint64) (*types.GlobalPatterns, int, error) {
	backoff := retry.NewExponential(s.retryBase)
	backoff = retry.WithJitter(500*time.Millisecond, backoff)
	backoff = retry.WithMaxRetries(uint64(s.cfg.RetryAttempts), backoff)

	var global *types.GlobalPatterns
	var received int

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.Timeout))
		defer cancel()

		g, n, err := s.client.PushDelta(attemptCtx, payload, version)
		if err != nil {
			if protocol.Retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		global, received = g, n
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("transmit delta: %w", err)
	}
	return global, received, nil
}

// merge applies the aggregator response: upsert patterns, index the
// winners, keep fresh trends, prune stale ones.
func (s *Syncer) merge(ctx context.Context, global *types.GlobalPatterns) (merged, trendsKept int, err error) {
	merged, err = s.store.MergeGlobal(ctx, global.Patterns)
	if err != nil {
		return 0, 0, fmt.Errorf("merge global patterns: %w", err)
	}

	if s.index != nil {
		for _, p := range global.Patterns {
			if err := s.index.Add(ctx, p.ID, p.Embedding, map[string]string{"tag": p.Tag}); err != nil {
				s.logger.Warn("index merged pattern failed", "pattern_id", p.ID, "error", err)
			}
		}
	}

	now := s.now()
	fresh := make([]types.TrendSignal, 0, len(global.Trends))
	for _, t := range global.Trends {
		if t.Fresh(now) {
			fresh = append(fresh, t)
		}
	}
	if err := s.store.UpsertTrends(ctx, fresh); err != nil {
		return 0, 0, fmt.Errorf("store trends: %w", err)
	}
	if _, err := s.store.PruneTrends(ctx, now); err != nil {
		return 0, 0, fmt.Errorf("prune trends: %w", err)
	}

	return merged, len(fresh), nil
}
