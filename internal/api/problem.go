package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/haloview/tvbrain/internal/brain"
	"github.com/haloview/tvbrain/internal/observe"
	"github.com/haloview/tvbrain/internal/recommend"
	"github.com/haloview/tvbrain/internal/syncer"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusBadRequest: {
		typeURI: "https://tvbrain.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusUnprocessableEntity: {
		typeURI: "https://tvbrain.dev/errors/invalid-event",
		title:   "Invalid Event",
	},
	http.StatusConflict: {
		typeURI: "https://tvbrain.dev/errors/sync-in-progress",
		title:   "Sync In Progress",
	},
	http.StatusGatewayTimeout: {
		typeURI: "https://tvbrain.dev/errors/deadline-exceeded",
		title:   "Deadline Exceeded",
	},
	http.StatusServiceUnavailable: {
		typeURI: "https://tvbrain.dev/errors/service-unavailable",
		title:   "Service Unavailable",
	},
	http.StatusBadGateway: {
		typeURI: "https://tvbrain.dev/errors/aggregator-error",
		title:   "Aggregator Error",
	},
	http.StatusInternalServerError: {
		typeURI: "https://tvbrain.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: "https://tvbrain.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapEngineError converts engine errors to Problem Details responses.
func MapEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, observe.ErrInvalidEvent):
		WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, recommend.ErrDeadlineExceeded):
		WriteProblem(w, r, http.StatusGatewayTimeout, "Recommendation deadline exceeded")
	case errors.Is(err, recommend.ErrUnavailable):
		WriteProblem(w, r, http.StatusServiceUnavailable, "No recommendation source available")
	case errors.Is(err, syncer.ErrSyncInProgress):
		WriteProblem(w, r, http.StatusConflict, "A sync round is already in flight")
	case errors.Is(err, brain.ErrSyncDisabled):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Sync is disabled: no aggregator configured")
	default:
		// Never expose internal error details to the client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
