package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/longtask/task"
	"github.com/BaSui01/longtask/types"
)

// =============================================================================
// ▶️ run 命令：前台触发并跑完一个任务
// =============================================================================

func runTaskCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	tenant := fs.String("tenant", "", "Tenant the task belongs to")
	timeout := fs.Duration("timeout", 0, "Overall deadline (0 = none)")
	_ = fs.Parse(args)

	if fs.NArg() < 2 {
		return fmt.Errorf("usage: longtask run [flags] <definition> <input.json|->")
	}
	defID, inputPath := fs.Arg(0), fs.Arg(1)

	input, err := readInput(inputPath)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	app, err := NewApp(ctx, cfg, logger, metricsNamespace)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			logger.Warn("failed to close components", zap.Error(err))
		}
	}()

	t, err := runTask(ctx, app, defID, input, *tenant, os.Stdout)
	if err != nil {
		return err
	}
	if t.Status != task.StatusDone {
		return fmt.Errorf("task %s finished with status %s", t.ID, t.Status)
	}
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

// runTask 触发任务并驱动到终态，最终记录以 JSON 写入 out。
// 中途取消时返回的记录仍是最后一次落库的状态，下次可由调度器续跑。
func runTask(ctx context.Context, app *App, defID string, input []byte, tenant string, out io.Writer) (*task.Task, error) {
	if len(input) == 0 {
		input = []byte("{}")
	}
	if !json.Valid(input) {
		return nil, types.NewError(types.ErrValidation, "input is not valid JSON")
	}

	t, err := app.orch.Trigger(ctx, task.TriggerParams{
		DefinitionID: defID,
		Input:        json.RawMessage(input),
		Tenant:       tenant,
		CreatedBy:    types.Identity{ID: "cli"},
	})
	if err != nil {
		return nil, err
	}
	app.logger.Info("task triggered", zap.String("task_id", t.ID), zap.String("definition", defID))

	final, err := app.orch.RunToCompletion(ctx, t.ID)
	if final != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(final); encErr != nil {
			return final, encErr
		}
	}
	return final, err
}
