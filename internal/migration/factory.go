package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/longtask/config"
)

// URLFor 把数据库配置转换为迁移连接串。
// 与 gorm 使用的 DSN 不同：MySQL 需要 multiStatements，SQLite 需要开启外键。
func URLFor(cfg config.DatabaseConfig) (Dialect, string, error) {
	d, err := ParseDialect(cfg.Driver)
	if err != nil {
		return "", "", err
	}
	norm := cfg
	norm.Driver = string(d)

	switch d {
	case Postgres:
		if norm.SSLMode == "" {
			norm.SSLMode = "require"
		}
		return d, norm.DSN(), nil
	case MySQL:
		return d, norm.DSN() + "&multiStatements=true", nil
	default:
		if cfg.Name == "" {
			return "", "", fmt.Errorf("sqlite database path is required")
		}
		return d, "file:" + cfg.Name + "?_foreign_keys=on", nil
	}
}

// FromDatabaseConfig 按应用配置创建迁移器
func FromDatabaseConfig(cfg config.DatabaseConfig, logger *zap.Logger) (*SchemaMigrator, error) {
	d, url, err := URLFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	return New(Config{Dialect: d, URL: url, Logger: logger})
}

// FromURL 使用显式的驱动名与连接串创建迁移器
func FromURL(driver, url string, logger *zap.Logger) (*SchemaMigrator, error) {
	d, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	return New(Config{Dialect: d, URL: url, Logger: logger})
}
