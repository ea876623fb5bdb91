package protocol

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/haloview/tvbrain/internal/types"
)

func testPattern(id string, fill float32) types.Pattern {
	embedding := make([]float32, types.Dimension)
	for i := range embedding {
		embedding[i] = fill
	}
	return types.Pattern{
		ID:          id,
		Embedding:   embedding,
		SuccessRate: 0.8,
		SampleCount: 20,
		CreatedAt:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCodec_Roundtrip(t *testing.T) {
	codec, err := NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	defer codec.Close()

	delta := types.SyncDelta{
		DeviceID:  "device-1",
		Patterns:  []types.Pattern{testPattern("p1", 0.1)},
		Version:   3,
		Timestamp: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}

	data, err := codec.Marshal(delta)
	if err != nil {
		t.Fatal(err)
	}

	var got types.SyncDelta
	if err := codec.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.DeviceID != delta.DeviceID || got.Version != delta.Version {
		t.Errorf("Roundtrip mismatch: %+v", got)
	}
	if len(got.Patterns) != 1 || got.Patterns[0].ID != "p1" {
		t.Errorf("Patterns lost in roundtrip: %+v", got.Patterns)
	}
	if len(got.Patterns[0].Embedding) != types.Dimension {
		t.Errorf("Embedding dims lost: %d", len(got.Patterns[0].Embedding))
	}
}

func TestCodec_TenPatternsUnderDeltaCeiling(t *testing.T) {
	codec, err := NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	defer codec.Close()

	delta := types.SyncDelta{DeviceID: "device-1", Version: 1}
	for i := 0; i < 10; i++ {
		delta.Patterns = append(delta.Patterns, testPattern(string(rune('a'+i)), 0.1))
	}

	data, err := codec.MarshalLimit(delta, 2048)
	if err != nil {
		t.Fatalf("Expected 10 typical patterns to fit 2KB, got %v", err)
	}
	if len(data) == 0 || len(data) > 2048 {
		t.Errorf("Unexpected compressed size %d", len(data))
	}
}

func TestCodec_HundredPatternResponseUnderCeiling(t *testing.T) {
	codec, err := NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	defer codec.Close()

	global := types.GlobalPatterns{Version: 7}
	for i := 0; i < 100; i++ {
		global.Patterns = append(global.Patterns, testPattern(fmt.Sprintf("p%03d", i), 0.1))
	}

	data, err := codec.MarshalLimit(global, 10240)
	if err != nil {
		t.Fatalf("Expected 100-pattern response to fit 10KB, got %v", err)
	}
	if len(data) > 10240 {
		t.Errorf("Unexpected compressed size %d", len(data))
	}
}

func TestCodec_MarshalLimitExceeded(t *testing.T) {
	codec, err := NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	defer codec.Close()

	delta := types.SyncDelta{DeviceID: "device-1", Version: 1}
	for i := 0; i < 10; i++ {
		delta.Patterns = append(delta.Patterns, testPattern(string(rune('a'+i)), 0.1))
	}

	_, err = codec.MarshalLimit(delta, 16)
	if !errors.Is(err, ErrCompressionLimit) {
		t.Errorf("Expected ErrCompressionLimit, got %v", err)
	}
}

func TestCodec_HighRatioFrameRejectedOnDecode(t *testing.T) {
	codec, err := NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	defer codec.Close()

	// 64 MiB of zeros compresses to a few KB, fitting the response
	// ceiling while inflating thousands of times on decode.
	frame := codec.enc.EncodeAll(make([]byte, 64<<20), nil)
	if len(frame) > 10240 {
		t.Fatalf("Expected frame under the response ceiling, got %d bytes", len(frame))
	}

	var v types.GlobalPatterns
	err = codec.Unmarshal(frame, &v)
	if !errors.Is(err, ErrCompressionLimit) {
		t.Errorf("Expected ErrCompressionLimit for oversized decode, got %v", err)
	}
}

func TestCodec_UnmarshalGarbage(t *testing.T) {
	codec, err := NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	defer codec.Close()

	var v types.GlobalPatterns
	if err := codec.Unmarshal([]byte("not zstd"), &v); err == nil {
		t.Error("Expected error for invalid frame")
	}
}
