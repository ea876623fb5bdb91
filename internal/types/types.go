package types

import (
	"time"

	json "github.com/goccy/go-json"
)

// Dimension is the embedding width used throughout the engine (MiniLM size).
const Dimension = 384

// Pattern is a learned (embedding, outcome-quality) record representing a
// viewing context that led to a successful recommendation.
type Pattern struct {
	ID          string    `json:"id"`
	Embedding   []float32 `json:"embedding"`
	SuccessRate float64   `json:"success_rate"`
	SampleCount uint64    `json:"sample_count"`
	Tag         string    `json:"tag,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MeetsSyncThreshold reports whether the pattern passes the quality gate
// for sharing with the aggregator.
func (p Pattern) MeetsSyncThreshold(minRate float64, minSamples uint64) bool {
	return p.SuccessRate >= minRate && p.SampleCount >= minSamples
}

// ViewingEvent is a single immutable observation of viewing behavior.
type ViewingEvent struct {
	EventID         string            `json:"event_id"`
	SessionID       string            `json:"session_id"`
	ContentID       string            `json:"content_id"`
	ContentType     string            `json:"content_type"`
	Genre           string            `json:"genre"`
	WatchPercentage float64           `json:"watch_percentage"`
	EngagementScore float64           `json:"engagement_score"`
	Timestamp       time.Time         `json:"timestamp"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Valid reports whether the event's bounded fields are within range.
func (e ViewingEvent) Valid() bool {
	if e.ContentID == "" {
		return false
	}
	if e.WatchPercentage < 0 || e.WatchPercentage > 1 {
		return false
	}
	if e.EngagementScore < 0 || e.EngagementScore > 1 {
		return false
	}
	return true
}

// ViewContext captures the ephemeral situation a recommendation is built for.
type ViewContext struct {
	UserID              string   `json:"user_id"`
	DeviceID            string   `json:"device_id"`
	TimeOfDay           int      `json:"time_of_day"`  // 0-23
	DayOfWeek           int      `json:"day_of_week"`  // 0-6, Sunday=0
	CurrentGenre        string   `json:"current_genre,omitempty"`
	PreviousContent     []string `json:"previous_content,omitempty"`
	SessionDurationMins int      `json:"session_duration_mins"`
}

// RecommendationSource identifies which retrieval backend produced a candidate.
type RecommendationSource string

const (
	SourceVector RecommendationSource = "vector"
	SourceMemory RecommendationSource = "memory"
	SourceTrend  RecommendationSource = "trend"
)

// Recommendation is a single ranked result.
type Recommendation struct {
	ContentID  string               `json:"content_id"`
	Score      float64              `json:"score"`
	Source     RecommendationSource `json:"source"`
	Confidence float64              `json:"confidence"`
}

// SyncDelta is the quality-filtered local summary transmitted per sync round.
type SyncDelta struct {
	DeviceID  string    `json:"device_id"`
	Patterns  []Pattern `json:"patterns"`
	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON ensures a nil pattern slice marshals as [] not null.
func (d SyncDelta) MarshalJSON() ([]byte, error) {
	if d.Patterns == nil {
		d.Patterns = []Pattern{}
	}
	type Alias SyncDelta
	return json.Marshal(Alias(d))
}

// GlobalPatterns is the aggregator's response to a sync: federated patterns
// plus trending content signals.
type GlobalPatterns struct {
	Patterns  []Pattern     `json:"patterns"`
	Trends    []TrendSignal `json:"trends"`
	Version   uint64        `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
}

// MarshalJSON ensures nil slices marshal as [] not null.
func (g GlobalPatterns) MarshalJSON() ([]byte, error) {
	if g.Patterns == nil {
		g.Patterns = []Pattern{}
	}
	if g.Trends == nil {
		g.Trends = []TrendSignal{}
	}
	type Alias GlobalPatterns
	return json.Marshal(Alias(g))
}

// TrendSignal indicates content performing well across the aggregator network.
type TrendSignal struct {
	ContentID    string    `json:"content_id"`
	Score        float64   `json:"score"`
	Region       string    `json:"region"`
	Genre        string    `json:"genre"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// TrendMaxAge is how long a trend signal stays usable.
const TrendMaxAge = 24 * time.Hour

// Fresh reports whether the signal was calculated within TrendMaxAge of now.
func (t TrendSignal) Fresh(now time.Time) bool {
	return now.Sub(t.CalculatedAt) < TrendMaxAge
}

// SyncResult summarizes a completed sync round-trip.
type SyncResult struct {
	PatternsPushed   int    `json:"patterns_pushed"`
	PatternsReceived int    `json:"patterns_received"`
	TrendsReceived   int    `json:"trends_received"`
	GlobalVersion    uint64 `json:"global_version"`
	BytesSent        int    `json:"bytes_sent"`
	BytesReceived    int    `json:"bytes_received"`
}
