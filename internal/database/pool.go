package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("database pool is closed")

// PoolConfig 连接池参数
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// ProbeInterval 后台探活间隔，0 表示不探活
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// DefaultPoolConfig 任务存储、检查点和 CMS 共用一个池，连接数按中等并发取值
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    5,
		MaxOpenConns:    25,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		ProbeInterval:   30 * time.Second,
		ProbeTimeout:    5 * time.Second,
	}
}

func (c PoolConfig) Validate() error {
	switch {
	case c.MaxOpenConns <= 0:
		return fmt.Errorf("max_open_conns must be positive, got %d", c.MaxOpenConns)
	case c.MaxIdleConns <= 0:
		return fmt.Errorf("max_idle_conns must be positive, got %d", c.MaxIdleConns)
	case c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("max_idle_conns (%d) exceeds max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// PoolStats 探活成功后上报的连接池快照
type PoolStats struct {
	MaxOpen   int
	Open      int
	InUse     int
	Idle      int
	WaitCount int64
	WaitTime  time.Duration
}

func statsFrom(s sql.DBStats) PoolStats {
	return PoolStats{
		MaxOpen:   s.MaxOpenConnections,
		Open:      s.OpenConnections,
		InUse:     s.InUse,
		Idle:      s.Idle,
		WaitCount: s.WaitCount,
		WaitTime:  s.WaitDuration,
	}
}

// =============================================================================
// 🗄️ Pool
// =============================================================================

// Pool 持有共享的 *gorm.DB，负责连接池参数、后台探活与关闭
type Pool struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	cfg    PoolConfig
	logger *zap.Logger

	mu       sync.RWMutex
	closed   bool
	observer func(PoolStats)
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewPool 应用连接池参数；cfg.ProbeInterval > 0 时启动后台探活
func NewPool(db *gorm.DB, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if db == nil {
		return nil, errors.New("gorm db is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}

	p := &Pool{
		db:     db,
		sqlDB:  sqlDB,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "db_pool")),
		stop:   make(chan struct{}),
	}
	if cfg.ProbeInterval > 0 {
		p.wg.Add(1)
		go p.probeLoop()
	}
	return p, nil
}

// DB 返回共享的 gorm 句柄
func (p *Pool) DB() *gorm.DB {
	return p.db
}

func (p *Pool) Ping(ctx context.Context) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	return p.sqlDB.PingContext(ctx)
}

func (p *Pool) Stats() PoolStats {
	return statsFrom(p.sqlDB.Stats())
}

// Observe 注册探活成功后的回调，用于导出连接池指标
func (p *Pool) Observe(fn func(PoolStats)) {
	p.mu.Lock()
	p.observer = fn
	p.mu.Unlock()
}

// Close 停止探活并关闭连接，可重复调用
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("database pool closed")
	return p.sqlDB.Close()
}

func (p *Pool) probeLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.probe()
		}
	}
}

func (p *Pool) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProbeTimeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		if !errors.Is(err, ErrPoolClosed) {
			p.logger.Warn("database probe failed", zap.Error(err))
		}
		return
	}

	stats := p.Stats()
	p.mu.RLock()
	fn := p.observer
	p.mu.RUnlock()
	if fn != nil {
		fn(stats)
	}
}
