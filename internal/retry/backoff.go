package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy 定义重试策略配置
// 仅用于幂等操作（删除、索引写入），失败后在本次调用内有限次重试
type Policy struct {
	MaxRetries      int                                               // 最大重试次数（0 表示不重试）
	InitialDelay    time.Duration                                     // 初始延迟时间
	MaxDelay        time.Duration                                     // 最大延迟时间
	Multiplier      float64                                           // 延迟时间倍增因子（指数退避）
	Jitter          bool                                              // 是否添加随机抖动
	RetryableErrors []error                                           // 可重试的错误类型（为空则重试所有非永久错误）
	OnRetry         func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultPolicy 返回默认的重试策略
// 延迟保持在秒级以内，避免吃掉单次调用的时间预算
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, op string, fn func(ctx context.Context) error) error
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy *Policy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := *policy
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}

	return &backoffRetryer{
		policy: &p,
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: retry cancelled: %w", op, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded",
					zap.String("op", op),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}

		if !r.isRetryable(lastErr) {
			return unwrapPermanent(lastErr)
		}
	}

	r.logger.Warn("retries exhausted",
		zap.String("op", op),
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return &ExhaustedError{Op: op, Attempts: r.policy.MaxRetries + 1, Err: lastErr}
}

// calculateDelay 计算延迟时间
// 指数退避：delay = initial * multiplier^(attempt-1)，可选 ±25% 抖动
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}

// isRetryable 检查错误是否可重试
func (r *backoffRetryer) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}

	if len(r.policy.RetryableErrors) == 0 {
		return true
	}
	for _, retryableErr := range r.policy.RetryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}
	return false
}

// PermanentError 标记不应重试的错误
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent 将错误包装为不可重试错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func unwrapPermanent(err error) error {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// ExhaustedError 重试次数耗尽后返回
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}
