package main

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/longtask/internal/migration"
)

// =============================================================================
// 🗄️ Database Migration Commands
// =============================================================================

// runMigrate 解析 migrate 子命令：longtask migrate <sub> [args] [flags]
func runMigrate(args []string) error {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		return nil
	}
	sub := args[0]

	// 位置参数（goto/force/steps 的版本号）位于 flag 之前
	rest := args[1:]
	var positional []string
	for len(rest) > 0 && len(rest[0]) > 0 && (rest[0][0] != '-' || isNumber(rest[0])) {
		positional = append(positional, rest[0])
		rest = rest[1:]
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	_ = fs.Parse(rest)

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	migrator, err := newMigrator(*configPath, *dbType, *dbURL, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer migrator.Close()

	return migration.NewCLI(migrator).Run(context.Background(), sub, positional)
}

// newMigrator 优先使用 --db-type/--db-url，否则从配置构造
func newMigrator(configPath, dbType, dbURL string, logger *zap.Logger) (*migration.SchemaMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.FromURL(dbType, dbURL, logger)
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.FromDatabaseConfig(cfg.Database, logger)
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '-' || s[0] == '+' {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
