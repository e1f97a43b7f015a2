// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	clock := testutil.NewFakeClock()
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/longtask/internal/retry"
	"github.com/BaSui01/longtask/task"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t testing.TB) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// ⏱️ 时间辅助
// =============================================================================

// Epoch 是 FakeClock 的默认起点
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// FakeClock 手动推进的时钟，可传给 task.WithClock
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock 创建停在 Epoch 的时钟
func NewFakeClock() *FakeClock {
	return &FakeClock{now: Epoch}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 前进 d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set 跳到指定时刻
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// WaitFor 等待条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t testing.TB, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// =============================================================================
// 🔁 重试辅助
// =============================================================================

// FastRetry 返回毫秒级退避的重试器，最多重试 maxRetries 次
func FastRetry(maxRetries int) retry.Retryer {
	return retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}, nil)
}

// =============================================================================
// 🔧 结果断言
// =============================================================================

// MustJSON 将值转换为 JSON，失败时 panic
func MustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// ContinueInput 断言 res 为 Continue 并解出下一次调用的输入
func ContinueInput[T any](t testing.TB, res task.Result) T {
	t.Helper()
	var v T
	c, ok := res.(task.Continue)
	if !ok {
		t.Fatalf("expected Continue, got %#v", res)
		return v
	}
	if err := json.Unmarshal(c.Input, &v); err != nil {
		t.Fatalf("decode continue input: %v", err)
	}
	return v
}

// DoneOutput 断言 res 为 Done 并解出输出
func DoneOutput[T any](t testing.TB, res task.Result) T {
	t.Helper()
	var v T
	d, ok := res.(task.Done)
	if !ok {
		t.Fatalf("expected Done, got %#v", res)
		return v
	}
	if err := json.Unmarshal(d.Output, &v); err != nil {
		t.Fatalf("decode done output: %v", err)
	}
	return v
}
