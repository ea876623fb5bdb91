// Package protocol implements the device side of the aggregator sync
// protocol: zstd-compressed JSON over HTTP, with transport failures kept
// behind a circuit breaker.
package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/haloview/tvbrain/internal/metrics"
	"github.com/haloview/tvbrain/internal/types"
)

const (
	headerDeviceID    = "X-Device-ID"
	headerSyncVersion = "X-Sync-Version"

	contentTypeZstd = "application/zstd"

	pathSync    = "/api/v1/sync"
	pathHealth  = "/api/v1/health"
	pathVersion = "/api/v1/sync/version"
)

// ClientConfig configures the aggregator client.
type ClientConfig struct {
	BaseURL          string
	DeviceID         string
	Timeout          time.Duration
	MaxResponseBytes int
	Logger           *slog.Logger
}

// Client talks to the aggregator. Requests ride a shared circuit breaker
// so a down aggregator stops costing network round-trips.
type Client struct {
	baseURL          string
	deviceID         string
	http             *http.Client
	codec            *Codec
	cb               *gobreaker.CircuitBreaker[[]byte]
	maxResponseBytes int
	logger           *slog.Logger
}

// NewClient creates an aggregator client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("aggregator base URL required")
	}
	if cfg.DeviceID == "" {
		return nil, errors.New("device ID required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger.With("component", "aggregator_client")

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "aggregator",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only transport failures count against the breaker. A 4xx is the
		// aggregator answering, not the aggregator being down.
		IsSuccessful: func(err error) bool {
			return err == nil || !Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				"from", from.String(), "to", to.String())
			metrics.BreakerState.Set(breakerStateValue(to))
		},
	})

	return &Client{
		baseURL:          cfg.BaseURL,
		deviceID:         cfg.DeviceID,
		http:             &http.Client{Timeout: cfg.Timeout},
		codec:            codec,
		cb:               cb,
		maxResponseBytes: cfg.MaxResponseBytes,
		logger:           logger,
	}, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Codec exposes the wire codec so callers can pre-compress payloads.
func (c *Client) Codec() *Codec {
	return c.codec
}

// PushDelta posts a pre-compressed SyncDelta payload and returns the
// decoded GlobalPatterns response plus the compressed response size.
func (c *Client) PushDelta(ctx context.Context, payload []byte, version uint64) (*types.GlobalPatterns, int, error) {
	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.doSync(ctx, payload, version)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("sync rejected by open circuit breaker")
		}
		return nil, 0, err
	}

	var global types.GlobalPatterns
	if err := c.codec.Unmarshal(body, &global); err != nil {
		return nil, 0, &ProtocolError{Op: "sync", Detail: err.Error()}
	}
	return &global, len(body), nil
}

func (c *Client) doSync(ctx context.Context, payload []byte, version uint64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathSync, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProtocolError{Op: "sync", Detail: err.Error()}
	}
	req.Header.Set("Content-Type", contentTypeZstd)
	req.Header.Set(headerDeviceID, c.deviceID)
	req.Header.Set(headerSyncVersion, strconv.FormatUint(version, 10))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "sync", Err: err}
	}
	defer resp.Body.Close()

	if err := c.checkStatus("sync", resp); err != nil {
		return nil, err
	}

	limit := int64(c.maxResponseBytes)
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &TransportError{Op: "sync", Err: err}
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: response over %d bytes", ErrCompressionLimit, limit)
	}
	return body, nil
}

// Health probes the aggregator's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathHealth, nil)
	if err != nil {
		return &ProtocolError{Op: "health", Detail: err.Error()}
	}
	req.Header.Set(headerDeviceID, c.deviceID)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "health", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ProtocolError{Op: "health", Status: resp.StatusCode, Detail: "unhealthy"}
	}
	return nil
}

// RemoteVersion returns the aggregator's current global sync version.
func (c *Client) RemoteVersion(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathVersion, nil)
	if err != nil {
		return 0, &ProtocolError{Op: "version", Detail: err.Error()}
	}
	req.Header.Set(headerDeviceID, c.deviceID)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &TransportError{Op: "version", Err: err}
	}
	defer resp.Body.Close()

	if err := c.checkStatus("version", resp); err != nil {
		return 0, err
	}

	var out struct {
		Version uint64 `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, &ProtocolError{Op: "version", Detail: err.Error()}
	}
	return out.Version, nil
}

func (c *Client) checkStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: status %d", ErrVersionConflict, resp.StatusCode)
	case resp.StatusCode >= 500:
		return &TransportError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProtocolError{Op: op, Status: resp.StatusCode, Detail: string(detail)}
	}
}
