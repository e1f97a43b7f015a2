// Package pool bounds how many task invocations run at once on a node.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Job is one unit of work; name is used only for logging.
type Job func(ctx context.Context) error

// Config sizes the pool. At most MaxWorkers jobs run at once and at most
// QueueSize more wait for a slot; Submit rejects anything beyond that.
type Config struct {
	MaxWorkers int
	QueueSize  int
}

func DefaultConfig() Config {
	return Config{MaxWorkers: 8, QueueSize: 256}
}

// WorkerPool admits jobs without blocking the caller. Admission and
// execution are two weighted semaphores: admitted = running + waiting.
type WorkerPool struct {
	admit   *semaphore.Weighted
	run     *semaphore.Weighted
	logger  *zap.Logger
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	running atomic.Int64
	waiting atomic.Int64

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

func New(cfg Config, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	return &WorkerPool{
		admit:  semaphore.NewWeighted(int64(cfg.MaxWorkers + cfg.QueueSize)),
		run:    semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		logger: logger.With(zap.String("component", "worker_pool")),
	}
}

// Submit returns ErrPoolFull instead of blocking when running and waiting
// jobs already fill the pool. An admitted job always runs, even if ctx is
// cancelled while it waits; the job sees the cancelled ctx.
func (p *WorkerPool) Submit(ctx context.Context, name string, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	if !p.admit.TryAcquire(1) {
		p.rejected.Add(1)
		return ErrPoolFull
	}
	p.submitted.Add(1)
	p.waiting.Add(1)
	p.wg.Add(1)
	go p.dispatch(ctx, name, job)
	return nil
}

func (p *WorkerPool) dispatch(ctx context.Context, name string, job Job) {
	defer p.wg.Done()
	defer p.admit.Release(1)

	// Acquire only fails on a cancelled context, which WithoutCancel rules out.
	_ = p.run.Acquire(context.WithoutCancel(ctx), 1)
	defer p.run.Release(1)
	p.waiting.Add(-1)
	p.running.Add(1)
	defer p.running.Add(-1)

	if err := p.execute(ctx, name, job); err != nil {
		p.failed.Add(1)
		p.logger.Warn("job failed", zap.String("job", name), zap.Error(err))
		return
	}
	p.completed.Add(1)
}

func (p *WorkerPool) execute(ctx context.Context, name string, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.String("job", name), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}
	}()
	return job(ctx)
}

// Close rejects new jobs and waits for admitted ones to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

type Stats struct {
	Running   int   `json:"running"`
	Waiting   int   `json:"waiting"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

func (p *WorkerPool) Stats() Stats {
	return Stats{
		Running:   int(p.running.Load()),
		Waiting:   int(p.waiting.Load()),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
