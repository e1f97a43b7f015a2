package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations
var embedded embed.FS

// DefaultTable 记录 schema 版本的表名
const DefaultTable = "longtask_schema_migrations"

// =============================================================================
// 🗄️ Dialects
// =============================================================================

// Dialect SQL 方言，对应 migrations/ 下的子目录
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

type dialect struct {
	// database/sql 驱动名，由 golang-migrate 的数据库驱动包注册
	sqlDriver string
	wrap      func(db *sql.DB, table string) (database.Driver, error)
}

var dialects = map[Dialect]dialect{
	Postgres: {
		sqlDriver: "postgres",
		wrap: func(db *sql.DB, table string) (database.Driver, error) {
			return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
		},
	},
	MySQL: {
		sqlDriver: "mysql",
		wrap: func(db *sql.DB, table string) (database.Driver, error) {
			return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
		},
	},
	SQLite: {
		// mattn/go-sqlite3 (cgo)；"sqlite" 驱动名已被 gorm 使用的 glebarez/go-sqlite 注册
		sqlDriver: "sqlite3",
		wrap: func(db *sql.DB, table string) (database.Driver, error) {
			return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
		},
	},
}

var dialectAliases = map[string]Dialect{
	"postgres":   Postgres,
	"postgresql": Postgres,
	"pg":         Postgres,
	"mysql":      MySQL,
	"mariadb":    MySQL,
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
}

// ParseDialect 解析驱动名，接受常见别名，大小写不敏感
func ParseDialect(name string) (Dialect, error) {
	if d, ok := dialectAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return d, nil
	}
	return "", fmt.Errorf("unsupported database type: %q", name)
}

func (d Dialect) files() (fs.FS, error) {
	if _, ok := dialects[d]; !ok {
		return nil, fmt.Errorf("unsupported database type: %q", d)
	}
	return fs.Sub(embedded, "migrations/"+string(d))
}

// Catalog 列出方言内嵌的全部迁移，按版本升序
func Catalog(d Dialect) ([]Step, error) {
	fsys, err := d.files()
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("open %s migrations: %w", d, err)
	}
	defer src.Close()
	return readCatalog(src)
}

func readCatalog(src source.Driver) ([]Step, error) {
	var steps []Step
	version, err := src.First()
	for err == nil {
		r, name, readErr := src.ReadUp(version)
		if readErr != nil {
			return nil, fmt.Errorf("read migration %d: %w", version, readErr)
		}
		r.Close()
		steps = append(steps, Step{Version: version, Name: name})
		version, err = src.Next(version)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return steps, nil
}

// =============================================================================
// 📋 Types
// =============================================================================

// Step 单个迁移及其在目标库中的状态
type Step struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// Summary 目标库的 schema 概况
type Summary struct {
	Current uint
	Dirty   bool
	Total   int
	Applied int
	Pending int
}

// Config 迁移器配置
type Config struct {
	Dialect Dialect
	// URL 为 database/sql 连接串，格式由方言决定，见 URLFor
	URL string
	// Table 默认 DefaultTable
	Table  string
	Logger *zap.Logger
}

// Migrator 迁移操作集合，CLI 依赖此接口
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Reset(ctx context.Context) error
	// Steps 正数前进，负数回退
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	// Force 只改写版本记录，不执行 SQL，用于修复 dirty 状态
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (version uint, dirty bool, err error)
	Plan(ctx context.Context) ([]Step, error)
	Summarize(ctx context.Context) (*Summary, error)
	Close() error
}

// =============================================================================
// ⚙️ SchemaMigrator
// =============================================================================

// SchemaMigrator 基于 golang-migrate 的 Migrator 实现
type SchemaMigrator struct {
	dialect Dialect
	m       *migrate.Migrate
	catalog []Step
	logger  *zap.Logger
}

var _ Migrator = (*SchemaMigrator)(nil)

// New 连接数据库并加载内嵌迁移
func New(cfg Config) (*SchemaMigrator, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	d, ok := dialects[cfg.Dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %q", cfg.Dialect)
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	catalog, err := Catalog(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.sqlDriver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	target, err := d.wrap(db, cfg.Table)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare %s driver: %w", cfg.Dialect, err)
	}

	fsys, _ := cfg.Dialect.files()
	src, err := iofs.New(fsys, ".")
	if err != nil {
		target.Close()
		return nil, fmt.Errorf("open %s migrations: %w", cfg.Dialect, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(cfg.Dialect), target)
	if err != nil {
		src.Close()
		target.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	return &SchemaMigrator{
		dialect: cfg.Dialect,
		m:       m,
		catalog: catalog,
		logger:  cfg.Logger.With(zap.String("component", "migration"), zap.String("dialect", string(cfg.Dialect))),
	}, nil
}

// apply 执行一次迁移操作；ctx 取消时请求 golang-migrate 在当前迁移结束后停止
func (s *SchemaMigrator) apply(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, _, err := s.Version(ctx)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		select {
		case s.m.GracefulStop <- true:
		default:
		}
	})
	defer stop()

	err = fn()
	if errors.Is(err, migrate.ErrNoChange) {
		s.logger.Debug("schema unchanged", zap.String("op", op), zap.Uint("version", from))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s: %w", op, err)
	}

	to, dirty, err := s.Version(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("schema migrated",
		zap.String("op", op),
		zap.Uint("from", from),
		zap.Uint("to", to),
		zap.Bool("dirty", dirty),
	)
	return nil
}

func (s *SchemaMigrator) Up(ctx context.Context) error {
	return s.apply(ctx, "up", s.m.Up)
}

func (s *SchemaMigrator) Down(ctx context.Context) error {
	return s.apply(ctx, "down", func() error { return s.m.Steps(-1) })
}

func (s *SchemaMigrator) Reset(ctx context.Context) error {
	return s.apply(ctx, "reset", s.m.Down)
}

func (s *SchemaMigrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	return s.apply(ctx, fmt.Sprintf("steps %+d", n), func() error { return s.m.Steps(n) })
}

func (s *SchemaMigrator) Goto(ctx context.Context, version uint) error {
	return s.apply(ctx, fmt.Sprintf("goto %d", version), func() error { return s.m.Migrate(version) })
}

func (s *SchemaMigrator) Force(ctx context.Context, version int) error {
	if err := s.m.Force(version); err != nil {
		return fmt.Errorf("migration force: %w", err)
	}
	s.logger.Warn("schema version forced", zap.Int("version", version))
	return nil
}

// Version 未执行过任何迁移时返回 0
func (s *SchemaMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := s.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// Plan 返回内嵌迁移列表，并标注已应用与 dirty 的条目
func (s *SchemaMigrator) Plan(ctx context.Context) ([]Step, error) {
	current, dirty, err := s.Version(ctx)
	if err != nil {
		return nil, err
	}
	plan := make([]Step, len(s.catalog))
	for i, step := range s.catalog {
		step.Applied = step.Version <= current
		step.Dirty = dirty && step.Version == current
		plan[i] = step
	}
	return plan, nil
}

func (s *SchemaMigrator) Summarize(ctx context.Context) (*Summary, error) {
	plan, err := s.Plan(ctx)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Total: len(plan)}
	sum.Current, sum.Dirty, _ = s.Version(ctx)
	for _, step := range plan {
		if step.Applied {
			sum.Applied++
		}
	}
	sum.Pending = sum.Total - sum.Applied
	return sum, nil
}

// Close 关闭迁移源与数据库连接
func (s *SchemaMigrator) Close() error {
	srcErr, dbErr := s.m.Close()
	return errors.Join(srcErr, dbErr)
}
