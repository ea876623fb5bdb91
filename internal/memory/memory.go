// Package memory provides tiered recall of recent viewing context. Each tier
// holds entries for a bounded retention window with a bounded capacity;
// consolidation promotes well-sampled entries into longer-retention tiers.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haloview/tvbrain/internal/vector"
)

// Tier identifies a retention band, ordered shortest to longest lived.
type Tier int

const (
	TierInstant Tier = iota
	TierSession
	TierEpisodic
	TierSemantic
	TierCollective
	TierEvolutionary
)

var tierNames = map[Tier]string{
	TierInstant:      "instant",
	TierSession:      "session",
	TierEpisodic:     "episodic",
	TierSemantic:     "semantic",
	TierCollective:   "collective",
	TierEvolutionary: "evolutionary",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// AllTiers lists every tier, shortest retention first.
var AllTiers = []Tier{
	TierInstant, TierSession, TierEpisodic,
	TierSemantic, TierCollective, TierEvolutionary,
}

// TierConfig bounds a single tier.
type TierConfig struct {
	Retention time.Duration
	Capacity  int
}

// DefaultTierConfigs returns the standard retention ladder.
func DefaultTierConfigs() map[Tier]TierConfig {
	return map[Tier]TierConfig{
		TierInstant:      {Retention: time.Minute, Capacity: 64},
		TierSession:      {Retention: 4 * time.Hour, Capacity: 256},
		TierEpisodic:     {Retention: 7 * 24 * time.Hour, Capacity: 1024},
		TierSemantic:     {Retention: 30 * 24 * time.Hour, Capacity: 4096},
		TierCollective:   {Retention: 90 * 24 * time.Hour, Capacity: 4096},
		TierEvolutionary: {Retention: 365 * 24 * time.Hour, Capacity: 8192},
	}
}

// Entry is a recorded context with its embedding.
type Entry struct {
	ID         string
	ContentID  string
	Embedding  []float32
	Confidence float64
	RecordedAt time.Time
}

// Hit is a recall match.
type Hit struct {
	Entry
	Score float64
	Tier  Tier
}

// Recaller is the read side used by the recommendation path.
type Recaller interface {
	Recall(ctx context.Context, query []float32, tiers []Tier, limit int) ([]Hit, error)
}

// Store is an in-process tiered memory. All methods are safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	configs map[Tier]TierConfig
	tiers   map[Tier][]Entry
	now     func() time.Time
}

// NewStore creates a Store with the given tier bounds. Nil configs get
// the defaults.
func NewStore(configs map[Tier]TierConfig) *Store {
	if configs == nil {
		configs = DefaultTierConfigs()
	}
	s := &Store{
		configs: configs,
		tiers:   make(map[Tier][]Entry, len(configs)),
		now:     time.Now,
	}
	return s
}

// Record appends an entry to the given tiers, evicting the oldest entry of
// a tier at capacity.
func (s *Store) Record(entry Entry, tiers ...Tier) {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tier := range tiers {
		cfg, ok := s.configs[tier]
		if !ok {
			continue
		}
		entries := s.tiers[tier]
		if cfg.Capacity > 0 && len(entries) >= cfg.Capacity {
			entries = entries[1:]
		}
		s.tiers[tier] = append(entries, entry)
	}
}

// Recall returns up to limit entries from the given tiers whose retention
// window still covers them, scored by cosine similarity to the query and
// sorted strongest first. A duplicate ID across tiers keeps its best score.
func (s *Store) Recall(ctx context.Context, query []float32, tiers []Tier, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	best := make(map[string]Hit)
	for _, tier := range tiers {
		cfg, ok := s.configs[tier]
		if !ok {
			continue
		}
		cutoff := now.Add(-cfg.Retention)
		for _, entry := range s.tiers[tier] {
			if entry.RecordedAt.Before(cutoff) {
				continue
			}
			score := float64(vector.CosineSimilarity(query, entry.Embedding))
			if prev, ok := best[entry.ID]; ok && prev.Score >= score {
				continue
			}
			best[entry.ID] = Hit{Entry: entry, Score: score, Tier: tier}
		}
	}

	hits := make([]Hit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].RecordedAt.After(hits[j].RecordedAt)
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Promote copies the entry with the given ID from a shorter tier into the
// target tier, reporting whether it was found.
func (s *Store) Promote(id string, target Tier) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tier := range AllTiers {
		if tier >= target {
			break
		}
		for _, entry := range s.tiers[tier] {
			if entry.ID != id {
				continue
			}
			cfg, ok := s.configs[target]
			if !ok {
				return false
			}
			entries := s.tiers[target]
			if cfg.Capacity > 0 && len(entries) >= cfg.Capacity {
				entries = entries[1:]
			}
			s.tiers[target] = append(entries, entry)
			return true
		}
	}
	return false
}

// Prune drops entries that have aged out of their tier's retention window.
func (s *Store) Prune() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for tier, entries := range s.tiers {
		cfg, ok := s.configs[tier]
		if !ok {
			continue
		}
		cutoff := now.Add(-cfg.Retention)
		kept := entries[:0]
		for _, entry := range entries {
			if entry.RecordedAt.Before(cutoff) {
				dropped++
				continue
			}
			kept = append(kept, entry)
		}
		s.tiers[tier] = kept
	}
	return dropped
}

// Len reports the entry count of a tier.
func (s *Store) Len(tier Tier) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tiers[tier])
}
