package database

import (
	"fmt"

	glebarez "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/longtask/config"
)

// Dialector returns the gorm dialector for cfg.Driver.
//
//   - postgres, mysql: network databases
//   - sqlite: pure-Go driver, no cgo required
//   - sqlite3: cgo driver (mattn/go-sqlite3)
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := cfg.DSN()
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return glebarez.Open(dsn), nil
	case "sqlite3":
		return cgosqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}

// Open opens a gorm connection and wraps it in a Pool configured from cfg.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	pool := DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pool.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	// sqlite 只允许单写连接
	if cfg.Driver == "sqlite" || cfg.Driver == "sqlite3" {
		pool.MaxOpenConns = 1
		pool.MaxIdleConns = 1
	}

	p, err := NewPool(db, pool, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	logger.Info("database opened",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", pool.MaxOpenConns),
	)
	return p, nil
}
