// =============================================================================
// 🛡️ BudgetGuard - 按轮询次数模拟超时与中止
// =============================================================================
// 使用方法:
//
//	g := &mocks.BudgetGuard{Budget: 4}                // 第 5 次检查起报告即将超时
//	g := &mocks.BudgetGuard{Budget: 100, AbortAfter: 4} // 第 4 次检查后报告已中止
// =============================================================================
package mocks

import "sync"

// BudgetGuard 实现 task.Guard。每次 IsCloseToTimeout 计一次轮询。
type BudgetGuard struct {
	Budget     int
	AbortAfter int

	mu    sync.Mutex
	polls int
}

func (g *BudgetGuard) IsCloseToTimeout() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	return g.polls > g.Budget
}

func (g *BudgetGuard) IsAborted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.AbortAfter > 0 && g.polls >= g.AbortAfter
}

// Polls 返回已发生的超时检查次数
func (g *BudgetGuard) Polls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polls
}
