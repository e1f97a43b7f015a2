package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/longtask/internal/pool"
)

// SchedulerConfig 本地调度器配置
type SchedulerConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
	BatchSize    int           `json:"batch_size"`
	Workers      int           `json:"workers"`
	QueueSize    int           `json:"queue_size"`
}

// DefaultSchedulerConfig 返回默认配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval: time.Second,
		BatchSize:    50,
		Workers:      4,
		QueueSize:    128,
	}
}

// Scheduler drives runnable tasks through the orchestrator. Each task has
// at most one invocation in flight, and a Continue delay is honored by
// not picking the task up before its NextRunAt.
type Scheduler struct {
	orch   *Orchestrator
	config SchedulerConfig
	pool   *pool.WorkerPool
	logger *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewScheduler creates a scheduler over orch.
func NewScheduler(orch *Orchestrator, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultSchedulerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	logger = logger.With(zap.String("component", "scheduler"))
	return &Scheduler{
		orch:   orch,
		config: cfg,
		pool: pool.New(pool.Config{
			MaxWorkers: cfg.Workers,
			QueueSize:  cfg.QueueSize,
		}, logger),
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight invocations.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Int("workers", s.config.Workers),
	)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("scheduler tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.pool.Close()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick dispatches every task that is runnable now and returns how many
// were submitted.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.orch.now().UTC()
	tasks, err := s.orch.tasks.ListTasks(ctx, Filter{
		Status:     []Status{StatusPending, StatusRunning},
		RunnableAt: &now,
		Limit:      s.config.BatchSize,
	})
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, t := range tasks {
		if !s.claim(t.ID) {
			continue
		}
		id := t.ID
		err := s.pool.Submit(ctx, id, func(ctx context.Context) error {
			defer s.release(id)
			// 排队期间节点已停止：不开始新的调用，任务留给下一次轮询
			if ctx.Err() != nil {
				return nil
			}
			_, err := s.orch.Invoke(ctx, id)
			return err
		})
		if err != nil {
			s.release(id)
			if errors.Is(err, pool.ErrPoolFull) {
				s.logger.Debug("worker pool full, deferring", zap.String("task_id", id))
				break
			}
			return submitted, err
		}
		submitted++
	}
	return submitted, nil
}

// InFlight returns the number of tasks currently being invoked.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Close stops the worker pool.
func (s *Scheduler) Close() {
	s.pool.Close()
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

// RunToCompletion invokes a task until it reaches a terminal status,
// waiting out Continue delays between invocations.
func (o *Orchestrator) RunToCompletion(ctx context.Context, id string) (*Task, error) {
	for {
		inv, err := o.Invoke(ctx, id)
		if err != nil {
			return nil, err
		}
		if inv.Terminal() {
			return inv.Task, nil
		}
		if inv.Delay > 0 {
			timer := time.NewTimer(inv.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return inv.Task, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return inv.Task, err
		}
	}
}
