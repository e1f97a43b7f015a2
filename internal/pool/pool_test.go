package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWorkerPool_RunsJobs(t *testing.T) {
	p := New(Config{MaxWorkers: 4, QueueSize: 16}, zaptest.NewLogger(t))

	var ran, peak, current atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), "job", func(ctx context.Context) error {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
			ran.Add(1)
			return nil
		}))
	}
	p.Close()

	assert.Equal(t, int32(10), ran.Load())
	assert.LessOrEqual(t, peak.Load(), int32(4))
	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Completed)
	assert.Zero(t, stats.Running)
	assert.Zero(t, stats.Waiting)
}

func TestWorkerPool_FailuresAndPanics(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 4}, zaptest.NewLogger(t))

	require.NoError(t, p.Submit(context.Background(), "fails", func(ctx context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, p.Submit(context.Background(), "panics", func(ctx context.Context) error {
		panic("bad")
	}))
	p.Close()

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(0), stats.Completed)
}

func TestWorkerPool_FullRejects(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 1}, zaptest.NewLogger(t))

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), "blocker", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.NoError(t, p.Submit(context.Background(), "queued", func(ctx context.Context) error { return nil }))
	assert.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, 5*time.Millisecond)

	err := p.Submit(context.Background(), "rejected", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)

	close(release)
	p.Close()
	assert.Equal(t, int64(1), p.Stats().Rejected)
	assert.Equal(t, int64(2), p.Stats().Completed)
}

func TestWorkerPool_QueuedJobRunsAfterCancel(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	require.NoError(t, p.Submit(ctx, "blocker", func(ctx context.Context) error {
		<-release
		return nil
	}))

	var mu sync.Mutex
	var seen error
	require.NoError(t, p.Submit(ctx, "queued", func(ctx context.Context) error {
		mu.Lock()
		seen = ctx.Err()
		mu.Unlock()
		return nil
	}))

	cancel()
	close(release)
	p.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, seen, context.Canceled)
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	p := New(DefaultConfig(), nil)
	p.Close()
	p.Close()

	err := p.Submit(context.Background(), "late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}
