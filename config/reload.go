// 配置文件变更监听与重载。
//
// 基于修改时间轮询，变更经防抖后重新加载配置并通知回调。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Reloader polls a config file and reloads it when its modification time
// changes. Callbacks receive the freshly loaded config; a file that fails
// to load or validate is logged and ignored.
type Reloader struct {
	mu sync.Mutex

	loader   *Loader
	path     string
	interval time.Duration
	debounce time.Duration
	logger   *zap.Logger

	lastMod   time.Time
	callbacks []func(*Config)
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) { r.interval = d }
}

// WithDebounceDelay 设置防抖延迟
func WithDebounceDelay(d time.Duration) ReloaderOption {
	return func(r *Reloader) { r.debounce = d }
}

// WithReloaderLogger 设置日志
func WithReloaderLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) { r.logger = logger }
}

// NewReloader creates a reloader for path using loader. The loader's
// config path is overwritten with path.
func NewReloader(loader *Loader, path string, opts ...ReloaderOption) (*Reloader, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	r := &Reloader{
		loader:   loader.WithConfigPath(path),
		path:     path,
		interval: time.Second,
		debounce: 100 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "config_reloader"))

	if info, err := os.Stat(path); err == nil {
		r.lastMod = info.ModTime()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
	}
	return r, nil
}

// OnReload registers a callback invoked after each successful reload.
func (r *Reloader) OnReload(cb func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Run polls until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("config reloader started",
		zap.String("path", r.path),
		zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.changed() {
				continue
			}
			// 等待写入完成
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.debounce):
			}
			r.CheckNow()
		}
	}
}

// CheckNow reloads the file immediately and notifies callbacks.
func (r *Reloader) CheckNow() {
	cfg, err := r.loader.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		r.logger.Warn("config reload rejected", zap.Error(err))
		return
	}

	r.mu.Lock()
	callbacks := make([]func(*Config), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logger.Info("config reloaded", zap.String("path", r.path))
	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (r *Reloader) changed() bool {
	info, err := os.Stat(r.path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !info.ModTime().After(r.lastMod) {
		return false
	}
	r.lastMod = info.ModTime()
	return true
}

// LogLevelUpdater returns a callback that applies cfg.Log.Level to level.
func LogLevelUpdater(level zap.AtomicLevel, logger *zap.Logger) func(*Config) {
	return func(cfg *Config) {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			logger.Warn("invalid log level in reloaded config", zap.String("level", cfg.Log.Level))
			return
		}
		if level.Level() != lvl {
			level.SetLevel(lvl)
			logger.Info("log level changed", zap.String("level", lvl.String()))
		}
	}
}
