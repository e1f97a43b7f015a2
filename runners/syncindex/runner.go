package syncindex

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/longtask/checkpoint"
	"github.com/BaSui01/longtask/internal/retry"
	"github.com/BaSui01/longtask/search"
	"github.com/BaSui01/longtask/task"
	"github.com/BaSui01/longtask/types"
)

// DefinitionID 任务定义 ID
const DefinitionID = "syncIndex"

// Input is both the trigger input and the continuation cursor. Indices is
// filled on the first invocation.
type Input struct {
	Indices []string `json:"indices,omitempty"`
	Index   string   `json:"index,omitempty"`
	Cursor  string   `json:"cursor,omitempty"`
	Deleted int      `json:"deleted"`
}

// Output is the result of a finished reconciliation.
type Output struct {
	Finished bool `json:"finished"`
	Deleted  int  `json:"deleted"`
}

// Config 索引对账任务配置
type Config struct {
	PageSize int `yaml:"page_size" env:"PAGE_SIZE"`
	// 每次批量读取主存储的 id 数
	BatchReadSize int `yaml:"batch_read_size" env:"BATCH_READ_SIZE"`
	// 并行批量读取数
	ReadConcurrency int `yaml:"read_concurrency" env:"READ_CONCURRENCY"`
	// 只处理以该前缀开头的索引
	IndexPrefix string `yaml:"index_prefix" env:"INDEX_PREFIX"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		PageSize:        500,
		BatchReadSize:   100,
		ReadConcurrency: 4,
		IndexPrefix:     "cms-",
	}
}

// Runner removes index documents whose primary record no longer exists.
type Runner struct {
	index   search.Index
	primary search.PrimaryStore
	retryer retry.Retryer
	config  Config
}

// NewRunner creates a sync-index runner.
func NewRunner(index search.Index, primary search.PrimaryStore, retryer retry.Retryer, cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.BatchReadSize <= 0 {
		cfg.BatchReadSize = def.BatchReadSize
	}
	if cfg.ReadConcurrency <= 0 {
		cfg.ReadConcurrency = def.ReadConcurrency
	}
	// 空前缀会匹配所有索引
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = def.IndexPrefix
	}
	if retryer == nil {
		retryer = retry.NewBackoffRetryer(nil, nil)
	}
	return &Runner{index: index, primary: primary, retryer: retryer, config: cfg}
}

// Run implements task.Runner.
func (r *Runner) Run(ctx context.Context, rc *task.RunContext) task.Result {
	var in Input
	if len(rc.Input) > 0 {
		if err := json.Unmarshal(rc.Input, &in); err != nil {
			return rc.Response.Fail(types.ErrSerialization, "invalid sync-index input: "+err.Error(), nil)
		}
	}
	logger := rc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(in.Indices) == 0 {
		names, err := r.eligibleIndices(ctx)
		if err != nil {
			return rc.Response.Error(types.NewError(types.ErrStore, "failed to list indices").WithCause(err))
		}
		if len(names) == 0 {
			return rc.Response.Fail(types.ErrNoEligibleIndices,
				"no eligible search indices found",
				map[string]any{"prefix": r.config.IndexPrefix})
		}
		in.Indices = names
		in.Index = names[0]
		in.Cursor = ""
		logger.Info("index reconciliation started", zap.Strings("indices", names))
	}

	tally, err := checkpoint.LoadProgress(ctx, rc.Store, rc.Task.ID, in.Deleted)
	if err != nil {
		logger.Warn("failed to read reconciliation progress", zap.Error(err))
	}
	in.Deleted = tally.Count()

	for {
		switch task.Check(rc.Guard) {
		case task.SignalAborted:
			return rc.Response.Aborted()
		case task.SignalTimeout:
			return rc.Response.Continue(in)
		}

		index := in.Index
		ids, more, err := r.listPage(ctx, index, in.Cursor)
		if errors.Is(err, search.ErrIndexNotFound) {
			logger.Warn("index disappeared, skipping", zap.String("index", index))
			ids, more, err = nil, false, nil
		}
		if err != nil {
			return rc.Response.Error(types.NewError(types.ErrStore, "failed to list index documents").WithCause(err).
				WithData("index", index).WithData("cursor", in.Cursor))
		}

		if len(ids) > 0 {
			missing, err := r.findMissing(ctx, index, ids)
			if errors.Is(err, search.ErrUnmappedIndex) {
				return rc.Response.Error(types.NewError(types.ErrUnmappedIndex, "index has no primary mapping").WithCause(err).
					WithData("index", index))
			}
			if err != nil {
				return rc.Response.Error(types.NewError(types.ErrStore, "failed to read primary records").WithCause(err).
					WithData("index", index))
			}
			if len(missing) > 0 {
				n, err := retry.DoWithResult(ctx, r.retryer, "delete-documents", func(ctx context.Context) (int, error) {
					return r.index.DeleteDocuments(ctx, index, missing)
				})
				if err != nil {
					return rc.Response.Error(types.NewError(types.ErrStore, "failed to delete index documents").WithCause(err).
						WithData("index", index).WithData("count", len(missing)))
				}
				total, err := tally.Add(ctx, n)
				if err != nil {
					logger.Warn("failed to record reconciliation progress", zap.Error(err))
				}
				in.Deleted = total
				rc.Report("documents_deleted", n)
				logger.Debug("orphaned documents deleted", zap.String("index", index), zap.Int("count", n))
			}
			in.Cursor = ids[len(ids)-1]
		}

		if more {
			continue
		}
		next, ok := nextIndex(in.Indices, index)
		if !ok {
			logger.Info("index reconciliation finished", zap.Int("deleted", in.Deleted))
			if err := tally.Clear(ctx); err != nil {
				logger.Warn("failed to clear reconciliation progress", zap.Error(err))
			}
			return rc.Response.Done(Output{Finished: true, Deleted: in.Deleted})
		}
		in.Index = next
		in.Cursor = ""
	}
}

func (r *Runner) eligibleIndices(ctx context.Context) ([]string, error) {
	all, err := retry.DoWithResult(ctx, r.retryer, "list-indices", r.index.ListIndices)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range all {
		if strings.HasPrefix(name, r.config.IndexPrefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Runner) listPage(ctx context.Context, index, after string) ([]string, bool, error) {
	var more bool
	ids, err := retry.DoWithResult(ctx, r.retryer, "list-documents", func(ctx context.Context) ([]string, error) {
		ids, m, err := r.index.ListDocumentIDs(ctx, index, after, r.config.PageSize)
		if errors.Is(err, search.ErrIndexNotFound) {
			return nil, retry.Permanent(err)
		}
		more = m
		return ids, err
	})
	return ids, more, err
}

// findMissing batch-reads ids from the primary store in parallel chunks and
// returns those without a backing record, in page order.
func (r *Runner) findMissing(ctx context.Context, index string, ids []string) ([]string, error) {
	size := r.config.BatchReadSize
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}

	found := make([]map[string]bool, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.ReadConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			res, err := retry.DoWithResult(gctx, r.retryer, "batch-read", func(ctx context.Context) (map[string]bool, error) {
				exists, err := r.primary.Exists(ctx, index, chunk)
				if errors.Is(err, search.ErrUnmappedIndex) {
					return nil, retry.Permanent(err)
				}
				return exists, err
			})
			if err != nil {
				return err
			}
			found[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var missing []string
	for i, chunk := range chunks {
		for _, id := range chunk {
			if !found[i][id] {
				missing = append(missing, id)
			}
		}
	}
	return missing, nil
}

func nextIndex(indices []string, current string) (string, bool) {
	for i, name := range indices {
		if name == current && i+1 < len(indices) {
			return indices[i+1], true
		}
	}
	return "", false
}
