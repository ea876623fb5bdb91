package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haloview/tvbrain/internal/brain"
	"github.com/haloview/tvbrain/internal/observe"
	"github.com/haloview/tvbrain/internal/recommend"
	"github.com/haloview/tvbrain/internal/store"
	"github.com/haloview/tvbrain/internal/syncer"
	"github.com/haloview/tvbrain/internal/types"
)

// --- Mock Engine ---

type mockEngine struct {
	recs      []types.Recommendation
	recErr    error
	obsErr    error
	syncRes   *types.SyncResult
	syncErr   error
	lastEvent types.ViewingEvent
}

func (m *mockEngine) Recommend(ctx context.Context, vc types.ViewContext) ([]types.Recommendation, error) {
	return m.recs, m.recErr
}

func (m *mockEngine) Observe(ctx context.Context, event types.ViewingEvent) error {
	m.lastEvent = event
	return m.obsErr
}

func (m *mockEngine) Sync(ctx context.Context) (*types.SyncResult, error) {
	return m.syncRes, m.syncErr
}

func (m *mockEngine) Health(ctx context.Context) map[string]string {
	return map[string]string{"store": "ok", "aggregator": "disabled"}
}

func (m *mockEngine) Stats(ctx context.Context) (*store.Stats, error) {
	return &store.Stats{PatternCount: 5, SyncVersion: 2}, nil
}

func serve(engine Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	router := NewRouter(NewHandler(engine, "test"))
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Recommend(t *testing.T) {
	engine := &mockEngine{recs: []types.Recommendation{
		{ContentID: "movie-1", Score: 0.9, Source: types.SourceVector, Confidence: 0.8},
	}}

	body, _ := json.Marshal(types.ViewContext{UserID: "u1", TimeOfDay: 20})
	rec := serve(engine, http.MethodPost, "/api/v1/recommend", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Recommendations []types.Recommendation `json:"recommendations"`
		Count           int                    `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || resp.Recommendations[0].ContentID != "movie-1" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestHandler_RecommendInvalidJSON(t *testing.T) {
	rec := serve(&mockEngine{}, http.MethodPost, "/api/v1/recommend", []byte("{not json"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Expected problem content type, got %q", ct)
	}
}

func TestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		engine *mockEngine
		method string
		path   string
		body   string
		want   int
	}{
		{"unavailable", &mockEngine{recErr: recommend.ErrUnavailable}, http.MethodPost, "/api/v1/recommend", "{}", http.StatusServiceUnavailable},
		{"deadline", &mockEngine{recErr: recommend.ErrDeadlineExceeded}, http.MethodPost, "/api/v1/recommend", "{}", http.StatusGatewayTimeout},
		{"invalid event", &mockEngine{obsErr: observe.ErrInvalidEvent}, http.MethodPost, "/api/v1/events", "{}", http.StatusUnprocessableEntity},
		{"sync busy", &mockEngine{syncErr: syncer.ErrSyncInProgress}, http.MethodPost, "/api/v1/sync", "", http.StatusConflict},
		{"sync disabled", &mockEngine{syncErr: brain.ErrSyncDisabled}, http.MethodPost, "/api/v1/sync", "", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(tt.engine, tt.method, tt.path, []byte(tt.body))
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}

			var p Problem
			if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
				t.Fatal(err)
			}
			if p.Status != tt.want || p.Type == "" {
				t.Errorf("Malformed problem response: %+v", p)
			}
		})
	}
}

func TestHandler_ObserveEventAccepted(t *testing.T) {
	engine := &mockEngine{}
	body, _ := json.Marshal(types.ViewingEvent{
		ContentID:       "movie-1",
		WatchPercentage: 0.9,
		EngagementScore: 0.8,
	})

	rec := serve(engine, http.MethodPost, "/api/v1/events", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}
	if engine.lastEvent.ContentID != "movie-1" {
		t.Errorf("Event not passed through: %+v", engine.lastEvent)
	}
}

func TestHandler_TriggerSync(t *testing.T) {
	engine := &mockEngine{syncRes: &types.SyncResult{PatternsPushed: 3, GlobalVersion: 9}}

	rec := serve(engine, http.MethodPost, "/api/v1/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var result types.SyncResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.PatternsPushed != 3 || result.GlobalVersion != 9 {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestHandler_Health(t *testing.T) {
	rec := serve(&mockEngine{}, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Status     string            `json:"status"`
		Version    string            `json:"version"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Version != "test" {
		t.Errorf("Unexpected health response: %+v", resp)
	}
	if resp.Components["store"] != "ok" {
		t.Errorf("Expected store component, got %+v", resp.Components)
	}
}

func TestHandler_Stats(t *testing.T) {
	rec := serve(&mockEngine{}, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var stats store.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.PatternCount != 5 {
		t.Errorf("Expected 5 patterns, got %d", stats.PatternCount)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	rec := serve(&mockEngine{}, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from /metrics, got %d", rec.Code)
	}
}
