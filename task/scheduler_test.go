package task_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/longtask/task"
	"github.com/BaSui01/longtask/testutil/fixtures"
)

func TestScheduler_RunsTasksToCompletion(t *testing.T) {
	registry := task.NewRegistry()
	registry.MustRegister(fixtures.CounterDefinition())
	tasks := newRealtimeEnv(t, registry)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ids []string
	for i := 0; i < 3; i++ {
		tk, err := tasks.Trigger(ctx, task.TriggerParams{DefinitionID: fixtures.CounterID, Input: fixtures.CounterInput{Stop: 3}})
		require.NoError(t, err)
		ids = append(ids, tk.ID)
	}

	sched := task.NewScheduler(tasks, task.SchedulerConfig{PollInterval: 5 * time.Millisecond, Workers: 2}, zaptest.NewLogger(t))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			tk, err := tasks.GetTask(context.Background(), id)
			if err != nil || tk.Status != task.StatusDone {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	for _, id := range ids {
		tk, err := tasks.GetTask(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 4, tk.Iterations)
	}

	cancel()
	<-done
}

func TestScheduler_TickSkipsDelayedAndInFlight(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	def := &task.Definition{
		ID: "gate",
		Runner: task.RunnerFunc(func(_ context.Context, rc *task.RunContext) task.Result {
			runs.Add(1)
			<-release
			return rc.Response.Continue(nil, time.Hour)
		}),
	}
	e := newEnv(t, def)
	ctx := context.Background()

	tk, err := e.orch.Trigger(ctx, task.TriggerParams{DefinitionID: "gate"})
	require.NoError(t, err)

	sched := task.NewScheduler(e.orch, task.SchedulerConfig{Workers: 1}, zaptest.NewLogger(t))
	defer sched.Close()

	n, err := sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	// still running: not dispatched twice
	n, err = sched.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, sched.InFlight())

	close(release)
	require.Eventually(t, func() bool { return sched.InFlight() == 0 }, time.Second, 5*time.Millisecond)

	// delayed by an hour
	n, err = sched.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	e.clock.Advance(time.Hour)
	n, err = sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)

	got, err := e.orch.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err = e.orch.GetTask(ctx, tk.ID)
		return err == nil && got.Iterations == 2 && sched.InFlight() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRunToCompletion_WaitsForDelay(t *testing.T) {
	var runs atomic.Int32
	registry := task.NewRegistry()
	registry.MustRegister(&task.Definition{
		ID: "retry-later",
		Runner: task.RunnerFunc(func(_ context.Context, rc *task.RunContext) task.Result {
			if runs.Add(1) < 3 {
				return rc.Response.Continue(nil, 10*time.Millisecond)
			}
			return rc.Response.Done(map[string]bool{"ok": true})
		}),
	})
	orch := newRealtimeEnv(t, registry)
	ctx := context.Background()

	tk, err := orch.Trigger(ctx, task.TriggerParams{DefinitionID: "retry-later"})
	require.NoError(t, err)

	started := time.Now()
	final, err := orch.RunToCompletion(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, final.Status)
	assert.Equal(t, 3, final.Iterations)
	assert.GreaterOrEqual(t, time.Since(started), 20*time.Millisecond)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	runs.Store(0)
	tk2, err := orch.Trigger(ctx, task.TriggerParams{DefinitionID: "retry-later"})
	require.NoError(t, err)
	_, err = orch.RunToCompletion(cctx, tk2.ID)
	assert.ErrorIs(t, err, context.Canceled)
}
