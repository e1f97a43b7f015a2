package mocks

import (
	"sync"
	"time"

	"github.com/BaSui01/longtask/task"
)

// MetricsRecorder 记录 task.MetricsRecorder 的调用，供断言使用
type MetricsRecorder struct {
	mu          sync.Mutex
	invocations []task.Status
	finished    []task.Status
	items       map[string]int
}

func (m *MetricsRecorder) RecordItems(_ string, action string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]int)
	}
	m.items[action] += count
}

func (m *MetricsRecorder) RecordInvocation(_ string, outcome task.Status, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations = append(m.invocations, outcome)
}

func (m *MetricsRecorder) RecordTaskFinished(_ string, status task.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, status)
}

// Invocations 返回每次调用的结果状态
func (m *MetricsRecorder) Invocations() []task.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]task.Status(nil), m.invocations...)
}

// Finished 返回进入终态的任务状态
func (m *MetricsRecorder) Finished() []task.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]task.Status(nil), m.finished...)
}

// Items 返回按动作累计的条目数
func (m *MetricsRecorder) Items() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.items))
	for k, v := range m.items {
		out[k] = v
	}
	return out
}
