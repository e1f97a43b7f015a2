// =============================================================================
// longtask 主入口
// =============================================================================
// 可恢复长任务服务：HTTP API、本地调度器、Prometheus 指标
//
// 使用方法:
//
//	longtask serve                           # 启动服务
//	longtask serve --config config.yaml      # 指定配置文件（变更后自动重载日志级别）
//	longtask run deleteModel input.json      # 在前台把一个任务跑完
//	longtask migrate up                      # 运行数据库迁移
//	longtask version                         # 显示版本信息
//	longtask health                          # 健康检查
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/longtask/config"
	"github.com/BaSui01/longtask/internal/server"
	"github.com/BaSui01/longtask/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const metricsNamespace = "longtask"

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "run":
		err = runTaskCommand(os.Args[2:])
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		err = runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader().WithValidator(func(c *config.Config) error { return c.Validate() })
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, loader, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, loader, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting longtask",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger, telemetry.WithVersion(Version))
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	app, err := NewApp(ctx, cfg, logger, metricsNamespace)
	if err != nil {
		return err
	}

	var extra []func(context.Context) error
	if *configPath != "" {
		reloader, err := config.NewReloader(loader, *configPath, config.WithReloaderLogger(logger))
		if err != nil {
			logger.Warn("config reload disabled", zap.Error(err))
		} else {
			reloader.OnReload(config.LogLevelUpdater(level, logger))
			extra = append(extra, func(ctx context.Context) error {
				reloader.Run(ctx)
				return nil
			})
		}
	}

	runErr := app.Run(ctx, extra...)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.Close(shutdownCtx); err != nil {
		logger.Error("failed to close components", zap.Error(err))
	}
	if providers != nil {
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down telemetry", zap.Error(err))
		}
	}

	logger.Info("longtask stopped")
	return runErr
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	path := fs.String("path", "/health", "Health endpoint (/health or /ready)")
	_ = fs.Parse(args)

	client := server.ProbeClient(5 * time.Second)
	resp, err := client.Get(*addr + *path)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Println("OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("longtask %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`longtask - resumable long-running task service

Usage:
  longtask <command> [options]

Commands:
  serve     Start the API server and local scheduler
  run       Trigger a task and drive it to completion in the foreground
  migrate   Database migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Usage of 'run':
  longtask run [--config <path>] [--tenant <id>] [--timeout <d>] <definition> <input.json|->

Migration subcommands:
  migrate up         Apply all pending migrations
  migrate down       Rollback the last migration
  migrate steps <n>  Apply (n>0) or rollback (n<0) n migrations
  migrate status     Show migration status
  migrate version    Show current migration version
  migrate info       Show available migrations
  migrate goto <v>   Migrate to a specific version
  migrate force <v>  Force set migration version
  migrate reset      Rollback all migrations

Examples:
  longtask serve --config /etc/longtask/config.yaml
  longtask run pruneLogs - <<< '{"tenant":"root"}'
  longtask migrate up --config config.yaml
  longtask health --addr http://localhost:8080 --path /ready`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger 按配置构建 logger，返回的 AtomicLevel 供配置重载调整级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err == nil {
			level.SetLevel(lvl)
		}
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger, level
}
