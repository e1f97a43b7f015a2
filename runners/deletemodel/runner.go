package deletemodel

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/longtask/checkpoint"
	"github.com/BaSui01/longtask/cms"
	"github.com/BaSui01/longtask/internal/retry"
	"github.com/BaSui01/longtask/task"
	"github.com/BaSui01/longtask/types"
)

const (
	// DefinitionID 任务定义 ID
	DefinitionID = "deleteModel"
	// CheckpointKind 检查点键前缀，键形如 deletingModel#<modelId>
	CheckpointKind = "deletingModel"
	// CheckpointTag 检查点标签
	CheckpointTag = "deletion-in-progress"
)

// Phase is the sub-step a deletion is in.
type Phase string

const (
	PhaseEntries Phase = "entries"
	PhaseFolders Phase = "folders"
	PhaseModel   Phase = "model"
)

// Input is both the trigger input and the continuation cursor.
type Input struct {
	ModelID        string `json:"modelId"`
	Phase          Phase  `json:"phase,omitempty"`
	LastDeletedID  string `json:"lastDeletedId,omitempty"`
	DeletedEntries int    `json:"deletedEntries"`
	DeletedFolders int    `json:"deletedFolders"`
	Reprobes       int    `json:"reprobes"`
}

// Output is the result of a finished deletion.
type Output struct {
	ModelID        string `json:"modelId"`
	DeletedEntries int    `json:"deletedEntries"`
	DeletedFolders int    `json:"deletedFolders"`
}

// progress is stored in the checkpoint entry so a re-delivered stale cursor
// does not lose counts.
type progress struct {
	DeletedEntries int `json:"deletedEntries"`
	DeletedFolders int `json:"deletedFolders"`
}

// Config 删除模型任务配置
type Config struct {
	PageSize int `yaml:"page_size" env:"PAGE_SIZE"`
	// 条目清空后重新探测前的等待
	ReprobeDelay time.Duration `yaml:"reprobe_delay" env:"REPROBE_DELAY"`
	// 超过该次数后新出现的条目直接在本次调用内删除
	MaxReprobes int `yaml:"max_reprobes" env:"MAX_REPROBES"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		PageSize:     100,
		ReprobeDelay: 5 * time.Second,
		MaxReprobes:  3,
	}
}

// CheckpointKey returns the checkpoint key guarding modelID.
func CheckpointKey(modelID string) string {
	return checkpoint.Key(CheckpointKind, modelID)
}

// Runner deletes a content model with all its entries and folders.
type Runner struct {
	repo    cms.Repository
	retryer retry.Retryer
	config  Config
	now     func() time.Time
}

// NewRunner creates a delete-model runner.
func NewRunner(repo cms.Repository, retryer retry.Retryer, cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.ReprobeDelay < 0 {
		cfg.ReprobeDelay = 0
	}
	if cfg.MaxReprobes < 0 {
		cfg.MaxReprobes = 0
	}
	if retryer == nil {
		retryer = retry.NewBackoffRetryer(nil, nil)
	}
	return &Runner{repo: repo, retryer: retryer, config: cfg, now: time.Now}
}

// invocation carries per-run state.
type invocation struct {
	rc  *task.RunContext
	in  Input
	key string
	cp  *checkpoint.Entry
	log *zap.Logger
}

// Run implements task.Runner.
func (r *Runner) Run(ctx context.Context, rc *task.RunContext) task.Result {
	var in Input
	if err := json.Unmarshal(rc.Input, &in); err != nil {
		return rc.Response.Fail(types.ErrSerialization, "invalid delete-model input: "+err.Error(), nil)
	}
	if in.Phase == "" {
		in.Phase = PhaseEntries
	}
	inv := &invocation{
		rc:  rc,
		in:  in,
		key: CheckpointKey(in.ModelID),
		log: rc.Logger,
	}
	if inv.log == nil {
		inv.log = zap.NewNop()
	}
	inv.log = inv.log.With(zap.String("model_id", in.ModelID), zap.String("phase", string(in.Phase)))

	if _, err := r.repo.GetModel(ctx, in.ModelID); err != nil {
		if errors.Is(err, cms.ErrNotFound) && in.Phase == PhaseModel {
			// 重复投递：模型已在上一次调用中删除
			return r.deleteModel(ctx, inv)
		}
		if errors.Is(err, cms.ErrNotFound) {
			return r.fail(ctx, inv, types.Errorf(types.ErrNotFound, "model %q not found", in.ModelID).
				WithData("modelId", in.ModelID))
		}
		return r.fail(ctx, inv, types.NewError(types.ErrStore, "failed to load model").WithCause(err).
			WithData("modelId", in.ModelID))
	}

	if res := r.acquire(ctx, inv); res != nil {
		return res
	}

	for {
		var res task.Result
		switch inv.in.Phase {
		case PhaseEntries:
			res = r.deleteEntries(ctx, inv)
		case PhaseFolders:
			res = r.deleteFolders(ctx, inv)
		case PhaseModel:
			return r.deleteModel(ctx, inv)
		default:
			return r.fail(ctx, inv, types.Errorf(types.ErrValidation, "unknown phase %q", inv.in.Phase))
		}
		if res != nil {
			return res
		}
	}
}

// acquire makes sure this task owns the checkpoint entry before anything is
// deleted. A nil result means proceed.
func (r *Runner) acquire(ctx context.Context, inv *invocation) task.Result {
	rc := inv.rc
	entry, err := checkpoint.Lookup(ctx, rc.Store, inv.key)
	if err != nil {
		return rc.Response.Error(types.NewError(types.ErrCheckpointFailed, "failed to read checkpoint").
			WithCause(err).WithData("key", inv.key))
	}
	if entry != nil && entry.TaskID != rc.Task.ID {
		return rc.Response.Error(alreadyBeingDeleted(inv.in.ModelID, entry.TaskID))
	}

	if entry == nil {
		entry = &checkpoint.Entry{
			Key:       inv.key,
			TaskID:    rc.Task.ID,
			Tag:       CheckpointTag,
			Owner:     rc.Task.CreatedBy,
			CreatedOn: r.now().UTC(),
		}
		if err := rc.Store.Set(ctx, entry); err != nil {
			return rc.Response.Error(types.NewError(types.ErrCheckpointFailed, "failed to write checkpoint").
				WithCause(err).WithData("key", inv.key))
		}
		inv.log.Info("deletion checkpoint created")
	} else if len(entry.Data) > 0 {
		var p progress
		if err := json.Unmarshal(entry.Data, &p); err == nil {
			inv.in.DeletedEntries = max(inv.in.DeletedEntries, p.DeletedEntries)
			inv.in.DeletedFolders = max(inv.in.DeletedFolders, p.DeletedFolders)
		}
	}
	inv.cp = entry
	return nil
}

// deleteEntries returns nil once the entries phase is complete.
func (r *Runner) deleteEntries(ctx context.Context, inv *invocation) task.Result {
	rc := inv.rc
	modelID := inv.in.ModelID
	for {
		if res := r.checkGuard(ctx, inv); res != nil {
			return res
		}

		page, err := retry.DoWithResult(ctx, r.retryer, "list-entries", func(ctx context.Context) ([]*cms.Entry, error) {
			return r.repo.ListEntries(ctx, modelID, inv.in.LastDeletedID, r.config.PageSize)
		})
		if err != nil {
			return r.fail(ctx, inv, types.NewError(types.ErrStore, "failed to list entries").WithCause(err))
		}

		if len(page) == 0 {
			// 写入竞争的兜底：从头再探测一次
			probe, err := retry.DoWithResult(ctx, r.retryer, "probe-entries", func(ctx context.Context) ([]*cms.Entry, error) {
				return r.repo.ListEntries(ctx, modelID, "", 1)
			})
			if err != nil {
				return r.fail(ctx, inv, types.NewError(types.ErrStore, "failed to probe entries").WithCause(err))
			}
			inv.in.LastDeletedID = ""
			if len(probe) == 0 {
				inv.in.Phase = PhaseFolders
				return nil
			}
			if inv.in.Reprobes < r.config.MaxReprobes {
				inv.in.Reprobes++
				inv.log.Info("entries appeared after the model was emptied, re-verifying",
					zap.Int("reprobes", inv.in.Reprobes))
				r.saveProgress(ctx, inv)
				return rc.Response.Continue(inv.in, r.config.ReprobeDelay)
			}
			inv.log.Info("entries appeared after the re-probe limit, deleting inline")
			continue
		}

		deleted := 0
		for _, e := range page {
			if res := r.checkGuard(ctx, inv); res != nil {
				rc.Report("entries_deleted", deleted)
				return res
			}
			id := e.ID
			if err := r.retryer.Do(ctx, "delete-entry", func(ctx context.Context) error {
				return r.repo.DeleteEntry(ctx, modelID, id)
			}); err != nil {
				rc.Report("entries_deleted", deleted)
				return r.fail(ctx, inv, types.NewError(types.ErrStore, "failed to delete entry").
					WithCause(err).WithData("entryId", id))
			}
			inv.in.LastDeletedID = id
			inv.in.DeletedEntries++
			deleted++
		}
		rc.Report("entries_deleted", deleted)
		r.saveProgress(ctx, inv)
	}
}

// deleteFolders returns nil once the folders phase is complete.
func (r *Runner) deleteFolders(ctx context.Context, inv *invocation) task.Result {
	rc := inv.rc
	modelID := inv.in.ModelID
	for {
		if res := r.checkGuard(ctx, inv); res != nil {
			return res
		}

		page, err := retry.DoWithResult(ctx, r.retryer, "list-folders", func(ctx context.Context) ([]*cms.Folder, error) {
			return r.repo.ListFolders(ctx, modelID, inv.in.LastDeletedID, r.config.PageSize)
		})
		if err != nil {
			return r.fail(ctx, inv, types.NewError(types.ErrStore, "failed to list folders").WithCause(err))
		}
		if len(page) == 0 {
			inv.in.LastDeletedID = ""
			inv.in.Phase = PhaseModel
			return nil
		}

		deleted := 0
		for _, f := range page {
			if res := r.checkGuard(ctx, inv); res != nil {
				rc.Report("folders_deleted", deleted)
				return res
			}
			id := f.ID
			if err := r.retryer.Do(ctx, "delete-folder", func(ctx context.Context) error {
				return r.repo.DeleteFolder(ctx, modelID, id)
			}); err != nil {
				rc.Report("folders_deleted", deleted)
				return r.fail(ctx, inv, types.NewError(types.ErrStore, "failed to delete folder").
					WithCause(err).WithData("folderId", id))
			}
			inv.in.LastDeletedID = id
			inv.in.DeletedFolders++
			deleted++
		}
		rc.Report("folders_deleted", deleted)
		r.saveProgress(ctx, inv)
	}
}

func (r *Runner) deleteModel(ctx context.Context, inv *invocation) task.Result {
	rc := inv.rc
	if res := r.checkGuard(ctx, inv); res != nil {
		return res
	}
	modelID := inv.in.ModelID
	if err := r.retryer.Do(ctx, "delete-model", func(ctx context.Context) error {
		return r.repo.DeleteModel(ctx, modelID)
	}); err != nil {
		return r.fail(ctx, inv, types.NewError(types.ErrStore, "failed to delete model").WithCause(err))
	}
	if inv.cp == nil {
		if entry, err := checkpoint.Lookup(ctx, rc.Store, inv.key); err == nil && entry != nil && entry.TaskID == rc.Task.ID {
			inv.cp = entry
		}
	}
	r.release(ctx, inv)

	inv.log.Info("model deleted",
		zap.Int("deleted_entries", inv.in.DeletedEntries),
		zap.Int("deleted_folders", inv.in.DeletedFolders),
	)
	return rc.Response.Done(Output{
		ModelID:        modelID,
		DeletedEntries: inv.in.DeletedEntries,
		DeletedFolders: inv.in.DeletedFolders,
	})
}

// checkGuard returns a result when the invocation must stop: Aborted after
// releasing the checkpoint, or Continue with the cursor so far.
func (r *Runner) checkGuard(ctx context.Context, inv *invocation) task.Result {
	switch task.Check(inv.rc.Guard) {
	case task.SignalAborted:
		r.release(ctx, inv)
		inv.log.Info("deletion aborted", zap.Int("deleted_entries", inv.in.DeletedEntries))
		return inv.rc.Response.Aborted()
	case task.SignalTimeout:
		r.saveProgress(ctx, inv)
		return inv.rc.Response.Continue(inv.in)
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, inv *invocation, err *types.Error) task.Result {
	r.release(ctx, inv)
	return inv.rc.Response.Error(err.WithData("modelId", inv.in.ModelID))
}

// release removes the checkpoint entry if this task owns it.
func (r *Runner) release(ctx context.Context, inv *invocation) {
	if inv.cp == nil {
		return
	}
	if err := inv.rc.Store.Remove(ctx, inv.key); err != nil {
		inv.log.Warn("failed to remove deletion checkpoint", zap.Error(err))
		return
	}
	inv.cp = nil
}

// saveProgress records counts on the checkpoint entry. Failures are logged;
// the cursor in the task input stays authoritative for position.
func (r *Runner) saveProgress(ctx context.Context, inv *invocation) {
	if inv.cp == nil {
		return
	}
	data, err := json.Marshal(progress{
		DeletedEntries: inv.in.DeletedEntries,
		DeletedFolders: inv.in.DeletedFolders,
	})
	if err != nil {
		return
	}
	entry := inv.cp.Clone()
	entry.Data = data
	if err := inv.rc.Store.Set(ctx, entry); err != nil {
		inv.log.Warn("failed to record deletion progress", zap.Error(err))
		return
	}
	inv.cp = entry
}

func alreadyBeingDeleted(modelID, taskID string) *types.Error {
	return types.Errorf(types.ErrAlreadyBeingDeleted, "model %q is already being deleted, task %s", modelID, taskID).
		WithData("modelId", modelID).
		WithData("taskId", taskID)
}
