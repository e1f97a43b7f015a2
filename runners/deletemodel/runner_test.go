package deletemodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/longtask/checkpoint"
	"github.com/BaSui01/longtask/cms"
	"github.com/BaSui01/longtask/task"
	"github.com/BaSui01/longtask/testutil"
	"github.com/BaSui01/longtask/testutil/fixtures"
	"github.com/BaSui01/longtask/testutil/mocks"
	"github.com/BaSui01/longtask/types"
)

// trackingRepo counts deletes per id and lets tests inject behavior.
type trackingRepo struct {
	*cms.MemoryRepository
	mu            sync.Mutex
	entryDeletes  map[string]int
	onEmptyList   func() // called when an entries page comes back empty
	onDeleteEntry func(id string)
	failDeletes   int
}

func newTrackingRepo() *trackingRepo {
	return &trackingRepo{
		MemoryRepository: cms.NewMemoryRepository(),
		entryDeletes:     make(map[string]int),
	}
}

func (r *trackingRepo) ListEntries(ctx context.Context, modelID, after string, limit int) ([]*cms.Entry, error) {
	page, err := r.MemoryRepository.ListEntries(ctx, modelID, after, limit)
	if err == nil && len(page) == 0 && after != "" && r.onEmptyList != nil {
		r.onEmptyList()
	}
	return page, err
}

func (r *trackingRepo) DeleteEntry(ctx context.Context, modelID, id string) error {
	r.mu.Lock()
	if r.failDeletes > 0 {
		r.failDeletes--
		r.mu.Unlock()
		return errors.New("transient")
	}
	r.entryDeletes[id]++
	r.mu.Unlock()
	if err := r.MemoryRepository.DeleteEntry(ctx, modelID, id); err != nil {
		return err
	}
	if r.onDeleteEntry != nil {
		r.onDeleteEntry(id)
	}
	return nil
}

func seed(t testing.TB, repo cms.Repository, modelID string, entries, folders int) {
	ctx := context.Background()
	require.NoError(t, repo.CreateModel(ctx, &cms.Model{ID: modelID, Name: modelID, Tenant: "root"}))
	for i := 0; i < entries; i++ {
		require.NoError(t, repo.CreateEntry(ctx, &cms.Entry{ID: fmt.Sprintf("e-%03d", i), ModelID: modelID}))
	}
	for i := 0; i < folders; i++ {
		require.NoError(t, repo.CreateFolder(ctx, &cms.Folder{ID: fmt.Sprintf("f-%03d", i), ModelID: modelID}))
	}
}

func runOnce(t testing.TB, r *Runner, store checkpoint.Store, taskID string, in Input, guard task.Guard) task.Result {
	return r.Run(context.Background(), fixtures.RunContext(t, taskID, DefinitionID, in, guard, store))
}

func TestRunner_DeletesEverything(t *testing.T) {
	repo := newTrackingRepo()
	seed(t, repo, "article", 7, 3)
	store := checkpoint.NewMemoryStore()
	r := NewRunner(repo, testutil.FastRetry(2), Config{PageSize: 3})

	res := runOnce(t, r, store, "t-1", Input{ModelID: "article"}, task.StaticGuard{})
	done, ok := res.(task.Done)
	require.True(t, ok, "got %#v", res)

	var out Output
	require.NoError(t, json.Unmarshal(done.Output, &out))
	assert.Equal(t, Output{ModelID: "article", DeletedEntries: 7, DeletedFolders: 3}, out)

	_, err := repo.GetModel(context.Background(), "article")
	assert.ErrorIs(t, err, cms.ErrNotFound)
	assert.Zero(t, store.Len(), "checkpoint removed on completion")
}

func TestRunner_TimeoutContinuesWithCursor(t *testing.T) {
	repo := newTrackingRepo()
	seed(t, repo, "article", 5, 0)
	store := checkpoint.NewMemoryStore()
	r := NewRunner(repo, testutil.FastRetry(2), Config{PageSize: 10})

	// one page poll plus three entry polls
	res := runOnce(t, r, store, "t-1", Input{ModelID: "article"}, &mocks.BudgetGuard{Budget: 4})
	in := testutil.ContinueInput[Input](t, res)
	assert.Equal(t, PhaseEntries, in.Phase)
	assert.Equal(t, "e-002", in.LastDeletedID)
	assert.Equal(t, 3, in.DeletedEntries)

	entry, err := store.Get(context.Background(), CheckpointKey("article"))
	require.NoError(t, err)
	assert.Equal(t, "t-1", entry.TaskID)
	assert.Equal(t, CheckpointTag, entry.Tag)
	assert.JSONEq(t, `{"deletedEntries":3,"deletedFolders":0}`, string(entry.Data))
}

// Re-delivering a stale cursor never deletes a record twice and the final
// count still matches the records that existed.
func TestRunner_IdempotentResumption(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		entries := rapid.IntRange(0, 30).Draw(rt, "entries")
		folders := rapid.IntRange(0, 5).Draw(rt, "folders")
		pageSize := rapid.IntRange(1, 7).Draw(rt, "pageSize")

		repo := newTrackingRepo()
		seed(t, repo, "m", entries, folders)
		store := checkpoint.NewMemoryStore()
		r := NewRunner(repo, testutil.FastRetry(2), Config{PageSize: pageSize})

		current := Input{ModelID: "m"}
		previous := current
		var out Output
		for step := 0; ; step++ {
			if step > 2000 {
				rt.Fatalf("no completion after %d invocations", step)
			}
			in := current
			if rapid.Bool().Draw(rt, "redeliver") {
				in = previous
			}
			budget := rapid.IntRange(2, 12).Draw(rt, "budget")
			res := runOnce(t, r, store, "t-1", in, &mocks.BudgetGuard{Budget: budget})

			if d, ok := res.(task.Done); ok {
				if err := json.Unmarshal(d.Output, &out); err != nil {
					rt.Fatal(err)
				}
				break
			}
			c, ok := res.(task.Continue)
			if !ok {
				rt.Fatalf("unexpected result %#v", res)
			}
			previous = in
			current = Input{}
			if err := json.Unmarshal(c.Input, &current); err != nil {
				rt.Fatal(err)
			}
		}

		for id, n := range repo.entryDeletes {
			if n != 1 {
				rt.Fatalf("entry %s deleted %d times", id, n)
			}
		}
		if out.DeletedEntries != entries || out.DeletedFolders != folders {
			rt.Fatalf("deleted %d/%d, want %d/%d", out.DeletedEntries, out.DeletedFolders, entries, folders)
		}
		if store.Len() != 0 {
			rt.Fatalf("checkpoint left behind")
		}
	})
}

func TestRunner_AbortWinsOverTimeout(t *testing.T) {
	repo := newTrackingRepo()
	seed(t, repo, "article", 3, 0)
	store := checkpoint.NewMemoryStore()
	r := NewRunner(repo, testutil.FastRetry(2), Config{})

	res := runOnce(t, r, store, "t-1", Input{ModelID: "article"}, task.StaticGuard{Timeout: true, Abort: true})
	_, ok := res.(task.Aborted)
	require.True(t, ok, "got %#v", res)
	assert.Zero(t, store.Len())
	assert.Empty(t, repo.entryDeletes)
}

func TestRunner_AbortMidRunReleasesCheckpoint(t *testing.T) {
	repo := newTrackingRepo()
	seed(t, repo, "article", 10, 0)
	store := checkpoint.NewMemoryStore()
	r := NewRunner(repo, testutil.FastRetry(2), Config{PageSize: 4})

	res := runOnce(t, r, store, "t-1", Input{ModelID: "article"}, &mocks.BudgetGuard{Budget: 100, AbortAfter: 4})
	_, ok := res.(task.Aborted)
	require.True(t, ok, "got %#v", res)
	assert.Len(t, repo.entryDeletes, 3)
	assert.Zero(t, store.Len())
}

func TestRunner_ModelNotFound(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	r := NewRunner(newTrackingRepo(), testutil.FastRetry(2), Config{})

	res := runOnce(t, r, store, "t-1", Input{ModelID: "ghost"}, task.StaticGuard{})
	f, ok := res.(task.Failed)
	require.True(t, ok)
	assert.Equal(t, types.ErrNotFound, f.Info.Code)
	assert.Equal(t, "ghost", f.Info.Data["modelId"])
}

func TestRunner_CheckpointOwnedByAnotherTask(t *testing.T) {
	repo := newTrackingRepo()
	seed(t, repo, "article", 2, 0)
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), &checkpoint.Entry{
		Key: CheckpointKey("article"), TaskID: "other", Tag: CheckpointTag,
	}))
	r := NewRunner(repo, testutil.FastRetry(2), Config{})

	res := runOnce(t, r, store, "t-1", Input{ModelID: "article"}, task.StaticGuard{})
	f, ok := res.(task.Failed)
	require.True(t, ok)
	assert.Equal(t, types.ErrAlreadyBeingDeleted, f.Info.Code)
	assert.Equal(t, "other", f.Info.Data["taskId"])
	assert.Empty(t, repo.entryDeletes)

	entry, err := store.Get(context.Background(), CheckpointKey("article"))
	require.NoError(t, err)
	assert.Equal(t, "other", entry.TaskID, "foreign checkpoint untouched")
}

func unavailableStore() *mocks.FailingStore {
	return mocks.NewFailingStore(checkpoint.NewMemoryStore()).WithSetError(errors.New("store unavailable"))
}

func TestRunner_FailsClosedWhenCheckpointCannotBeWritten(t *testing.T) {
	repo := newTrackingRepo()
	seed(t, repo, "article", 2, 0)
	r := NewRunner(repo, testutil.FastRetry(2), Config{})

	res := runOnce(t, r, unavailableStore(), "t-1", Input{ModelID: "article"}, task.StaticGuard{})
	f, ok := res.(task.Failed)
	require.True(t, ok)
	assert.Equal(t, types.ErrCheckpointFailed, f.Info.Code)
	assert.Empty(t, repo.entryDeletes)
}

func TestRunner_ReprobeAfterLateWrites(t *testing.T) {
	repo := newTrackingRepo()
	seed(t, repo, "article", 2, 0)
	store := checkpoint.NewMemoryStore()
	r := NewRunner(repo, testutil.FastRetry(2), Config{PageSize: 10, ReprobeDelay: 5 * time.Second, MaxReprobes: 1})

	late := 0
	repo.onEmptyList = func() {
		if late < 2 {
			late++
			require.NoError(t, repo.MemoryRepository.CreateEntry(context.Background(),
				&cms.Entry{ID: fmt.Sprintf("a-late-%d", late), ModelID: "article"}))
		}
	}

	res := runOnce(t, r, store, "t-1", Input{ModelID: "article"}, task.StaticGuard{})
	c, ok := res.(task.Continue)
	require.True(t, ok, "got %#v", res)
	assert.Equal(t, 5*time.Second, c.Delay)
	in := testutil.ContinueInput[Input](t, res)
	assert.Equal(t, 1, in.Reprobes)
	assert.Empty(t, in.LastDeletedID)
	assert.Equal(t, 2, in.DeletedEntries)

	// second late write is past the re-probe limit and is deleted inline
	res = runOnce(t, r, store, "t-1", in, task.StaticGuard{})
	done, ok := res.(task.Done)
	require.True(t, ok, "got %#v", res)
	var out Output
	require.NoError(t, json.Unmarshal(done.Output, &out))
	assert.Equal(t, 4, out.DeletedEntries)
}

func TestRunner_RetriesTransientDeletes(t *testing.T) {
	repo := newTrackingRepo()
	seed(t, repo, "article", 2, 0)
	repo.failDeletes = 2
	store := checkpoint.NewMemoryStore()
	r := NewRunner(repo, testutil.FastRetry(2), Config{})

	res := runOnce(t, r, store, "t-1", Input{ModelID: "article"}, task.StaticGuard{})
	_, ok := res.(task.Done)
	require.True(t, ok, "got %#v", res)

	repo.failDeletes = 10
	seed(t, repo, "page", 1, 0)
	res = runOnce(t, r, store, "t-2", Input{ModelID: "page"}, task.StaticGuard{})
	f, ok := res.(task.Failed)
	require.True(t, ok)
	assert.Equal(t, types.ErrStore, f.Info.Code)
	assert.Zero(t, store.Len(), "checkpoint released on failure")
}

func TestRunner_RedeliveredModelPhase(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	r := NewRunner(newTrackingRepo(), testutil.FastRetry(2), Config{})

	res := runOnce(t, r, store, "t-1", Input{ModelID: "gone", Phase: PhaseModel, DeletedEntries: 4}, task.StaticGuard{})
	done, ok := res.(task.Done)
	require.True(t, ok, "got %#v", res)
	assert.JSONEq(t, `{"modelId":"gone","deletedEntries":4,"deletedFolders":0}`, string(done.Output))
}
