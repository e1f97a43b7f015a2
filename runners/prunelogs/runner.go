package prunelogs

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/longtask/checkpoint"
	"github.com/BaSui01/longtask/internal/retry"
	"github.com/BaSui01/longtask/logs"
	"github.com/BaSui01/longtask/task"
	"github.com/BaSui01/longtask/types"
)

// DefinitionID 任务定义 ID
const DefinitionID = "pruneLogs"

// Input is both the trigger input and the continuation cursor.
type Input struct {
	Tenant string `json:"tenant,omitempty"`
	Source string `json:"source,omitempty"`
	Type   string `json:"type,omitempty"`
	// CreatedAfter is the age cutoff: records created at or before it are
	// deleted. Fixed on the first invocation when absent.
	CreatedAfter *time.Time `json:"createdAfter,omitempty"`
	TotalDeleted int        `json:"totalDeleted"`
	Cursor       string     `json:"cursor,omitempty"`
}

// Output is the result of a finished prune.
type Output struct {
	ItemsDeleted int `json:"itemsDeleted"`
}

// Config 日志清理任务配置
type Config struct {
	PageSize int `yaml:"page_size" env:"PAGE_SIZE"`
	// 未指定截止时间时保留最近这段时间内的日志
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		PageSize:  200,
		Retention: 5 * time.Minute,
	}
}

// ShouldDelete reports whether rec is pruned. Age and the explicit
// source/type filters are alternatives: any one of them selects a record.
func ShouldDelete(rec *logs.Record, cutoff time.Time, source, typ string) bool {
	if !rec.CreatedOn.After(cutoff) {
		return true
	}
	if source != "" && rec.Source == source {
		return true
	}
	return typ != "" && rec.Type == typ
}

// Runner deletes log records older than a cutoff or matching a filter.
type Runner struct {
	repo    logs.Repository
	retryer retry.Retryer
	config  Config
	now     func() time.Time
}

// NewRunner creates a prune-logs runner.
func NewRunner(repo logs.Repository, retryer retry.Retryer, cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if retryer == nil {
		retryer = retry.NewBackoffRetryer(nil, nil)
	}
	return &Runner{repo: repo, retryer: retryer, config: cfg, now: time.Now}
}

// WithClock overrides the time source used for the default cutoff.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run implements task.Runner.
func (r *Runner) Run(ctx context.Context, rc *task.RunContext) task.Result {
	var in Input
	if len(rc.Input) > 0 {
		if err := json.Unmarshal(rc.Input, &in); err != nil {
			return rc.Response.Fail(types.ErrSerialization, "invalid prune-logs input: "+err.Error(), nil)
		}
	}
	if in.CreatedAfter == nil {
		cutoff := r.now().UTC().Add(-r.config.Retention)
		in.CreatedAfter = &cutoff
	}
	cutoff := *in.CreatedAfter

	logger := rc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("tenant", in.Tenant), zap.Time("cutoff", cutoff))

	tally, err := checkpoint.LoadProgress(ctx, rc.Store, rc.Task.ID, in.TotalDeleted)
	if err != nil {
		logger.Warn("failed to read prune progress", zap.Error(err))
	}
	in.TotalDeleted = tally.Count()

	for {
		switch task.Check(rc.Guard) {
		case task.SignalAborted:
			logger.Info("log pruning aborted", zap.Int("deleted", in.TotalDeleted))
			return rc.Response.Aborted()
		case task.SignalTimeout:
			return rc.Response.Continue(in)
		}

		page, err := retry.DoWithResult(ctx, r.retryer, "list-logs", func(ctx context.Context) (*logs.Page, error) {
			return r.repo.List(ctx, logs.ListParams{Tenant: in.Tenant, After: in.Cursor, Limit: r.config.PageSize})
		})
		if err != nil {
			return rc.Response.Error(types.NewError(types.ErrStore, "failed to list logs").WithCause(err).
				WithData("cursor", in.Cursor))
		}

		var ids []string
		for _, rec := range page.Records {
			if ShouldDelete(rec, cutoff, in.Source, in.Type) {
				ids = append(ids, rec.ID)
			}
		}
		if len(ids) > 0 {
			n, err := retry.DoWithResult(ctx, r.retryer, "delete-logs", func(ctx context.Context) (int, error) {
				return r.repo.DeleteBatch(ctx, ids)
			})
			if err != nil {
				return rc.Response.Error(types.NewError(types.ErrStore, "failed to delete logs").WithCause(err).
					WithData("cursor", in.Cursor).
					WithData("batchSize", len(ids)))
			}
			total, err := tally.Add(ctx, n)
			if err != nil {
				logger.Warn("failed to record prune progress", zap.Error(err))
			}
			in.TotalDeleted = total
			rc.Report("logs_deleted", n)
		}
		if page.Cursor != "" {
			in.Cursor = page.Cursor
		}

		if !page.HasMore {
			logger.Info("log pruning finished", zap.Int("deleted", in.TotalDeleted))
			if err := tally.Clear(ctx); err != nil {
				logger.Warn("failed to clear prune progress", zap.Error(err))
			}
			return rc.Response.Done(Output{ItemsDeleted: in.TotalDeleted})
		}
	}
}
