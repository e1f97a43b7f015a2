package syncindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/longtask/checkpoint"
	"github.com/BaSui01/longtask/cms"
	"github.com/BaSui01/longtask/persistence"
	"github.com/BaSui01/longtask/search"
	"github.com/BaSui01/longtask/task"
	"github.com/BaSui01/longtask/testutil"
	"github.com/BaSui01/longtask/testutil/fixtures"
	"github.com/BaSui01/longtask/testutil/mocks"
	"github.com/BaSui01/longtask/types"
)

func run(t testing.TB, r *Runner, in any, guard task.Guard) task.Result {
	return r.Run(context.Background(), fixtures.RunContext(t, "t-1", DefinitionID, in, guard, nil))
}

func output(t testing.TB, res task.Result) Output {
	done, ok := res.(task.Done)
	require.True(t, ok, "expected Done, got %#v", res)
	var out Output
	require.NoError(t, json.Unmarshal(done.Output, &out))
	return out
}

// seedArticle indexes 101 documents of which one has no entry.
func seedArticle(t testing.TB, idx search.Index, repo cms.Repository) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 101; i++ {
		id := fmt.Sprintf("e-%03d", i)
		ids = append(ids, id)
		if i == 57 {
			continue
		}
		require.NoError(t, repo.CreateEntry(ctx, &cms.Entry{ID: id, ModelID: "article"}))
	}
	require.NoError(t, idx.IndexDocuments(ctx, "cms-article", ids...))
}

func indexBackends(t *testing.T) map[string]search.Index {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return map[string]search.Index{
		"memory": search.NewMemoryIndex(),
		"redis":  search.NewRedisIndex(client, "sync:"),
	}
}

func TestRunner_RemovesOrphans(t *testing.T) {
	for name, idx := range indexBackends(t) {
		t.Run(name, func(t *testing.T) {
			repo := cms.NewMemoryRepository()
			seedArticle(t, idx, repo)
			r := NewRunner(idx, cms.NewIndexSource(repo, "cms-"), testutil.FastRetry(2), Config{PageSize: 30, BatchReadSize: 7})

			out := output(t, run(t, r, nil, task.StaticGuard{}))
			assert.Equal(t, Output{Finished: true, Deleted: 1}, out)

			ids, more, err := idx.ListDocumentIDs(context.Background(), "cms-article", "", 1000)
			require.NoError(t, err)
			assert.False(t, more)
			assert.Len(t, ids, 100)
			assert.NotContains(t, ids, "e-057")

			entries, err := repo.ListEntries(context.Background(), "article", "", 1000)
			require.NoError(t, err)
			assert.Len(t, entries, 100, "primary store untouched")
		})
	}
}

func TestRunner_NoEligibleIndices(t *testing.T) {
	idx := search.NewMemoryIndex()
	require.NoError(t, idx.IndexDocuments(context.Background(), "audit", "x"))
	r := NewRunner(idx, cms.NewIndexSource(cms.NewMemoryRepository(), "cms-"), testutil.FastRetry(2), Config{IndexPrefix: "cms-"})

	res := run(t, r, nil, task.StaticGuard{})
	f, ok := res.(task.Failed)
	require.True(t, ok)
	assert.Equal(t, types.ErrNoEligibleIndices, f.Info.Code)
	assert.Equal(t, "cms-", f.Info.Data["prefix"])
	assert.Equal(t, 1, idx.Count("audit"))
}

func TestRunner_ResumesAcrossIndices(t *testing.T) {
	ctx := context.Background()
	idx := search.NewMemoryIndex()
	repo := cms.NewMemoryRepository()
	for _, model := range []string{"article", "page"} {
		var ids []string
		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("%s-%02d", model, i)
			ids = append(ids, id)
			if i%3 != 0 {
				require.NoError(t, repo.CreateEntry(ctx, &cms.Entry{ID: id, ModelID: model}))
			}
		}
		require.NoError(t, idx.IndexDocuments(ctx, "cms-"+model, ids...))
	}
	require.NoError(t, idx.IndexDocuments(ctx, "other-x", "keep"))

	r := NewRunner(idx, cms.NewIndexSource(repo, "cms-"), testutil.FastRetry(2), Config{PageSize: 3})

	res := run(t, r, nil, task.StaticGuard{Timeout: true})
	c, ok := res.(task.Continue)
	require.True(t, ok)
	var in Input
	require.NoError(t, json.Unmarshal(c.Input, &in))
	assert.Equal(t, []string{"cms-article", "cms-page"}, in.Indices)
	assert.Equal(t, "cms-article", in.Index)

	var next any = c.Input
	for i := 0; ; i++ {
		require.Less(t, i, 50)
		res = run(t, r, next, &mocks.BudgetGuard{Budget: 2})
		if _, done := res.(task.Done); done {
			break
		}
		next = res.(task.Continue).Input
	}
	// 0, 3, 6, 9 of each model are orphans
	assert.Equal(t, Output{Finished: true, Deleted: 8}, output(t, res))
	assert.Equal(t, 6, idx.Count("cms-article"))
	assert.Equal(t, 6, idx.Count("cms-page"))
	assert.Equal(t, 1, idx.Count("other-x"))
}

func TestRunner_EmptyPrefixLeavesForeignIndices(t *testing.T) {
	ctx := context.Background()
	idx := search.NewMemoryIndex()
	repo := cms.NewMemoryRepository()
	require.NoError(t, idx.IndexDocuments(ctx, "audit", "a1", "a2", "a3"))
	require.NoError(t, idx.IndexDocuments(ctx, "cms-article", "gone"))

	r := NewRunner(idx, cms.NewIndexSource(repo, ""), testutil.FastRetry(2), Config{PageSize: 10})
	assert.Equal(t, "cms-", r.config.IndexPrefix)

	assert.Equal(t, Output{Finished: true, Deleted: 1}, output(t, run(t, r, nil, task.StaticGuard{})))
	assert.Equal(t, 3, idx.Count("audit"))
	assert.Zero(t, idx.Count("cms-article"))
}

func TestRunner_UnmappedIndexFails(t *testing.T) {
	ctx := context.Background()
	idx := search.NewMemoryIndex()
	require.NoError(t, idx.IndexDocuments(ctx, "audit", "a1", "a2", "a3"))

	var calls atomic.Int32
	primary := search.PrimaryStoreFunc(func(_ context.Context, index string, _ []string) (map[string]bool, error) {
		calls.Add(1)
		return nil, fmt.Errorf("%w: %s", search.ErrUnmappedIndex, index)
	})
	r := NewRunner(idx, primary, testutil.FastRetry(3), Config{PageSize: 10, IndexPrefix: "a"})

	res := run(t, r, nil, task.StaticGuard{})
	f, ok := res.(task.Failed)
	require.True(t, ok, "expected Failed, got %#v", res)
	assert.Equal(t, types.ErrUnmappedIndex, f.Info.Code)
	assert.Equal(t, "audit", f.Info.Data["index"])
	assert.Equal(t, int32(1), calls.Load(), "unmapped index is not retried")
	assert.Equal(t, 3, idx.Count("audit"))
}

func TestRunner_StaleContinuationKeepsDeletedCount(t *testing.T) {
	ctx := context.Background()
	idx := search.NewMemoryIndex()
	repo := cms.NewMemoryRepository()
	var ids []string
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("a-%02d", i)
		ids = append(ids, id)
		if i%3 != 0 {
			require.NoError(t, repo.CreateEntry(ctx, &cms.Entry{ID: id, ModelID: "article"}))
		}
	}
	require.NoError(t, idx.IndexDocuments(ctx, "cms-article", ids...))

	store := checkpoint.NewMemoryStore()
	r := NewRunner(idx, cms.NewIndexSource(repo, "cms-"), testutil.FastRetry(2), Config{PageSize: 3})
	step := func(in any, guard task.Guard) task.Result {
		return r.Run(ctx, fixtures.RunContext(t, "t-1", DefinitionID, in, guard, store))
	}
	deleted := func(res task.Result) int {
		c, ok := res.(task.Continue)
		require.True(t, ok, "expected Continue, got %#v", res)
		var in Input
		require.NoError(t, json.Unmarshal(c.Input, &in))
		return in.Deleted
	}

	first := step(nil, &mocks.BudgetGuard{Budget: 1})
	second := step(first.(task.Continue).Input, &mocks.BudgetGuard{Budget: 1})
	assert.Equal(t, 2, deleted(second))

	// the first continuation is delivered again
	stale := step(first.(task.Continue).Input, &mocks.BudgetGuard{Budget: 1})
	assert.Equal(t, 3, deleted(stale))

	final := step(stale.(task.Continue).Input, task.StaticGuard{})
	assert.Equal(t, Output{Finished: true, Deleted: 4}, output(t, final))
	assert.Equal(t, 6, idx.Count("cms-article"))
	assert.Zero(t, store.Len(), "progress record cleared once done")
}

type flakyIndex struct {
	*search.MemoryIndex
	failures atomic.Int32
}

func (f *flakyIndex) DeleteDocuments(ctx context.Context, index string, ids []string) (int, error) {
	if f.failures.Add(-1) >= 0 {
		return 0, errors.New("index busy")
	}
	return f.MemoryIndex.DeleteDocuments(ctx, index, ids)
}

func TestRunner_RetriesIndexDeletes(t *testing.T) {
	idx := &flakyIndex{MemoryIndex: search.NewMemoryIndex()}
	repo := cms.NewMemoryRepository()
	seedArticle(t, idx, repo)

	idx.failures.Store(2)
	r := NewRunner(idx, cms.NewIndexSource(repo, "cms-"), testutil.FastRetry(2), Config{})
	assert.Equal(t, Output{Finished: true, Deleted: 1}, output(t, run(t, r, nil, task.StaticGuard{})))

	require.NoError(t, idx.IndexDocuments(context.Background(), "cms-article", "e-057"))
	idx.failures.Store(10)
	res := run(t, r, nil, task.StaticGuard{})
	f, ok := res.(task.Failed)
	require.True(t, ok)
	assert.Equal(t, types.ErrStore, f.Info.Code)
	assert.Equal(t, "cms-article", f.Info.Data["index"])
}

func TestRunner_PrimaryReadFailure(t *testing.T) {
	idx := search.NewMemoryIndex()
	require.NoError(t, idx.IndexDocuments(context.Background(), "cms-article", "a", "b"))
	primary := search.PrimaryStoreFunc(func(context.Context, string, []string) (map[string]bool, error) {
		return nil, errors.New("primary down")
	})
	r := NewRunner(idx, primary, testutil.FastRetry(2), Config{})

	res := run(t, r, nil, task.StaticGuard{})
	f, ok := res.(task.Failed)
	require.True(t, ok)
	assert.Equal(t, types.ErrStore, f.Info.Code)
	assert.Equal(t, 2, idx.Count("cms-article"), "nothing deleted when the primary cannot be read")
}

func TestRunner_Abort(t *testing.T) {
	idx := search.NewMemoryIndex()
	repo := cms.NewMemoryRepository()
	seedArticle(t, idx, repo)
	r := NewRunner(idx, cms.NewIndexSource(repo, "cms-"), testutil.FastRetry(2), Config{})

	res := run(t, r, nil, task.StaticGuard{Abort: true, Timeout: true})
	_, ok := res.(task.Aborted)
	assert.True(t, ok)
	assert.Equal(t, 101, idx.Count("cms-article"))
}

func TestDefinition_ThroughOrchestrator(t *testing.T) {
	idx := search.NewMemoryIndex()
	repo := cms.NewMemoryRepository()
	seedArticle(t, idx, repo)

	registry := task.NewRegistry()
	registry.MustRegister(NewDefinition(idx, cms.NewIndexSource(repo, "cms-"), testutil.FastRetry(2), Config{PageSize: 10}))
	orch := task.NewOrchestrator(task.DefaultOrchestratorConfig(), registry,
		persistence.NewMemoryTaskStore(), checkpoint.NewMemoryStore(), zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := orch.Trigger(ctx, task.TriggerParams{DefinitionID: DefinitionID, Input: map[string]string{"index": "x"}})
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))

	tk, err := orch.Trigger(ctx, task.TriggerParams{DefinitionID: DefinitionID})
	require.NoError(t, err)
	final, err := orch.RunToCompletion(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, final.Status)
	assert.JSONEq(t, `{"finished":true,"deleted":1}`, string(final.Output))
	assert.Equal(t, 100, idx.Count("cms-article"))
}
