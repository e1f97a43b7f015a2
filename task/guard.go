package task

import (
	"context"
	"sync/atomic"
	"time"
)

// Guard lets a runner yield cooperatively. Both predicates are polled at
// the top of every unit-of-work loop iteration.
type Guard interface {
	IsCloseToTimeout() bool
	IsAborted() bool
}

// Signal is what a guard check tells the runner to do.
type Signal int

const (
	SignalNone Signal = iota
	SignalAborted
	SignalTimeout
)

func (s Signal) String() string {
	switch s {
	case SignalAborted:
		return "aborted"
	case SignalTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// Check polls g once. Abort wins when both predicates hold.
func Check(g Guard) Signal {
	if g.IsAborted() {
		return SignalAborted
	}
	if g.IsCloseToTimeout() {
		return SignalTimeout
	}
	return SignalNone
}

// AbortFunc reports whether cancellation has been requested.
type AbortFunc func() bool

// TimerGuard signals close-to-timeout once the remaining budget drops below
// the safety margin.
type TimerGuard struct {
	deadline time.Time
	margin   time.Duration
	now      func() time.Time
	aborted  AbortFunc
	done     <-chan struct{}
	// sticky abort: once observed it stays observed
	abortSeen atomic.Bool
}

// NewTimerGuard creates a guard for an invocation ending at deadline.
func NewTimerGuard(deadline time.Time, margin time.Duration, aborted AbortFunc) *TimerGuard {
	return &TimerGuard{
		deadline: deadline,
		margin:   margin,
		now:      time.Now,
		aborted:  aborted,
	}
}

// WithClock overrides the time source.
func (g *TimerGuard) WithClock(now func() time.Time) *TimerGuard {
	g.now = now
	return g
}

// WithContext makes the guard report close-to-timeout once ctx is done,
// so a shutting-down node stops at the next checkpoint boundary.
func (g *TimerGuard) WithContext(ctx context.Context) *TimerGuard {
	g.done = ctx.Done()
	return g
}

// Remaining returns the budget left before the hard deadline.
func (g *TimerGuard) Remaining() time.Duration {
	return g.deadline.Sub(g.now())
}

// IsCloseToTimeout implements Guard.
func (g *TimerGuard) IsCloseToTimeout() bool {
	select {
	case <-g.done:
		return true
	default:
	}
	return g.Remaining() < g.margin
}

// IsAborted implements Guard.
func (g *TimerGuard) IsAborted() bool {
	if g.abortSeen.Load() {
		return true
	}
	if g.aborted != nil && g.aborted() {
		g.abortSeen.Store(true)
		return true
	}
	return false
}

// Deadline returns the earlier of now+budget and the context deadline.
func Deadline(ctx context.Context, now time.Time, budget time.Duration) time.Time {
	d := now.Add(budget)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

// StaticGuard is a fixed guard, mostly for tests and one-shot tools.
type StaticGuard struct {
	Timeout bool
	Abort   bool
}

func (g StaticGuard) IsCloseToTimeout() bool { return g.Timeout }
func (g StaticGuard) IsAborted() bool        { return g.Abort }

// FuncGuard adapts two functions to Guard.
type FuncGuard struct {
	Timeout func() bool
	Abort   func() bool
}

func (g FuncGuard) IsCloseToTimeout() bool { return g.Timeout != nil && g.Timeout() }
func (g FuncGuard) IsAborted() bool        { return g.Abort != nil && g.Abort() }
