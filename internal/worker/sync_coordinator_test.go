package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haloview/tvbrain/internal/syncer"
	"github.com/haloview/tvbrain/internal/types"
)

type mockSyncRunner struct {
	calls atomic.Int32
	err   error
}

func (m *mockSyncRunner) Sync(ctx context.Context) (*types.SyncResult, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return &types.SyncResult{GlobalVersion: 1}, nil
}

func TestSyncCoordinator_RunsOnInterval(t *testing.T) {
	runner := &mockSyncRunner{}
	c := NewSyncCoordinator(runner, 10*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for runner.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("Expected at least 2 sync rounds")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestSyncCoordinator_AbsorbsFailures(t *testing.T) {
	runner := &mockSyncRunner{err: errors.New("aggregator down")}
	c := NewSyncCoordinator(runner, 5*time.Millisecond, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Run must keep ticking through failures and exit only on cancel.
	c.Run(ctx)

	if runner.calls.Load() < 2 {
		t.Errorf("Expected repeated attempts despite failures, got %d", runner.calls.Load())
	}
}

func TestSyncCoordinator_SkipsInFlightQuietly(t *testing.T) {
	runner := &mockSyncRunner{err: syncer.ErrSyncInProgress}
	c := NewSyncCoordinator(runner, 5*time.Millisecond, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c.Run(ctx)

	if runner.calls.Load() == 0 {
		t.Error("Expected sync attempts")
	}
}

func TestSyncCoordinator_JitterBounds(t *testing.T) {
	c := NewSyncCoordinator(&mockSyncRunner{}, 100*time.Millisecond, 50*time.Millisecond)

	for i := 0; i < 100; i++ {
		iv := c.nextInterval()
		if iv < 100*time.Millisecond || iv >= 150*time.Millisecond {
			t.Fatalf("Interval %s outside [100ms, 150ms)", iv)
		}
	}
}
