package config

import (
	"errors"
	"fmt"
	"time"
)

// Config 是 longtask 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Task 编排器与调度器配置
	Task TaskConfig `yaml:"task" env:"TASK"`

	// Store 任务记录存储
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Checkpoint 检查点存储
	Checkpoint CheckpointConfig `yaml:"checkpoint" env:"CHECKPOINT"`

	// Runners 各任务 runner 配置
	Runners RunnersConfig `yaml:"runners" env:"RUNNERS"`

	// Retry 幂等操作重试策略
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// MongoDB 日志存储配置
	MongoDB MongoDBConfig `yaml:"mongodb" env:"MONGODB"`

	// JWT 认证配置
	JWT JWTConfig `yaml:"jwt" env:"JWT"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort  int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求数限制（0 表示不限流）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 是否启用本地调度器
	SchedulerEnabled bool `yaml:"scheduler_enabled" env:"SCHEDULER_ENABLED"`
	// TLS 证书与私钥，均非空时 API 端口以 HTTPS 提供服务
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// TaskConfig 编排器配置
type TaskConfig struct {
	// 单次调用的时间预算
	InvocationTimeout time.Duration `yaml:"invocation_timeout" env:"INVOCATION_TIMEOUT"`
	// 剩余预算低于该值时 Guard 报告即将超时
	SafetyMargin time.Duration `yaml:"safety_margin" env:"SAFETY_MARGIN"`
	// 任务定义未设置时的最大迭代次数
	DefaultMaxIterations int `yaml:"default_max_iterations" env:"DEFAULT_MAX_ITERATIONS"`
	// 调度器轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// 每次轮询最多拉取的任务数
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
	// 并发 worker 数
	Workers int `yaml:"workers" env:"WORKERS"`
	// worker 队列长度
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// Idempotency-Key 记录保留时间
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" env:"IDEMPOTENCY_TTL"`
}

// StoreConfig 任务记录存储配置
type StoreConfig struct {
	// 类型: memory, file, redis, database
	Type string `yaml:"type" env:"TYPE"`
	// 文件存储目录
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`
	// Redis key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// CheckpointConfig 检查点存储配置
type CheckpointConfig struct {
	// 类型: memory, redis, database
	Type string `yaml:"type" env:"TYPE"`
	// Redis key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// Redis 条目过期时间（0 表示不过期）
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// RunnersConfig 各 runner 配置
type RunnersConfig struct {
	DeleteModel DeleteModelConfig `yaml:"delete_model" env:"DELETE_MODEL"`
	PruneLogs   PruneLogsConfig   `yaml:"prune_logs" env:"PRUNE_LOGS"`
	SyncIndex   SyncIndexConfig   `yaml:"sync_index" env:"SYNC_INDEX"`
}

// DeleteModelConfig 删除模型 runner 配置
type DeleteModelConfig struct {
	PageSize     int           `yaml:"page_size" env:"PAGE_SIZE"`
	ReprobeDelay time.Duration `yaml:"reprobe_delay" env:"REPROBE_DELAY"`
	MaxReprobes  int           `yaml:"max_reprobes" env:"MAX_REPROBES"`
}

// PruneLogsConfig 日志清理 runner 配置
type PruneLogsConfig struct {
	PageSize  int           `yaml:"page_size" env:"PAGE_SIZE"`
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// SyncIndexConfig 索引同步 runner 配置
type SyncIndexConfig struct {
	PageSize        int    `yaml:"page_size" env:"PAGE_SIZE"`
	BatchReadSize   int    `yaml:"batch_read_size" env:"BATCH_READ_SIZE"`
	ReadConcurrency int    `yaml:"read_concurrency" env:"READ_CONCURRENCY"`
	IndexPrefix     string `yaml:"index_prefix" env:"INDEX_PREFIX"`
	// 搜索索引 Redis key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// RetryConfig 重试策略配置
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Jitter       bool          `yaml:"jitter" env:"JITTER"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 超过该耗时的命令记 Warn 日志，0 关闭
	SlowThreshold time.Duration `yaml:"slow_threshold" env:"SLOW_THRESHOLD"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoDBConfig MongoDB 配置
type MongoDBConfig struct {
	// 是否启用（未启用时日志存储使用内存实现）
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	URI            string        `yaml:"uri" env:"URI"`
	Database       string        `yaml:"database" env:"DATABASE"`
	Collection     string        `yaml:"collection" env:"COLLECTION"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	// HMAC 密钥；与 PublicKey 均为空时不启用认证
	Secret string `yaml:"secret" env:"SECRET"`
	// RS256 公钥（PEM）
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate 返回所有不合法字段，多个错误以 errors.Join 合并
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.HTTPPort > 0 && c.Server.HTTPPort <= 65535, "server.http_port %d out of range", c.Server.HTTPPort)
	check(c.Server.MetricsPort >= 0 && c.Server.MetricsPort <= 65535, "server.metrics_port %d out of range", c.Server.MetricsPort)

	check(c.Task.InvocationTimeout > 0, "task.invocation_timeout must be positive")
	check(c.Task.SafetyMargin >= 0 && c.Task.SafetyMargin < c.Task.InvocationTimeout,
		"task.safety_margin must be in [0, invocation_timeout)")
	check(c.Task.DefaultMaxIterations > 0, "task.default_max_iterations must be positive")

	check(oneOf(c.Store.Type, "memory", "file", "redis", "database"), "unknown store type %q", c.Store.Type)
	check(oneOf(c.Checkpoint.Type, "memory", "redis", "database"), "unknown checkpoint type %q", c.Checkpoint.Type)

	check(c.Runners.DeleteModel.MaxReprobes >= 0, "runners.delete_model.max_reprobes must not be negative")
	check(c.Runners.PruneLogs.Retention >= 0, "runners.prune_logs.retention must not be negative")
	check(c.Telemetry.SampleRate >= 0 && c.Telemetry.SampleRate <= 1, "telemetry.sample_rate must be between 0 and 1")

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// NeedsRedis 报告是否有组件使用 Redis
func (c *Config) NeedsRedis() bool {
	return c.Store.Type == "redis" || c.Checkpoint.Type == "redis"
}

// AuthEnabled 报告是否配置了 JWT 校验密钥
func (c *Config) AuthEnabled() bool {
	return c.JWT.Secret != "" || c.JWT.PublicKey != ""
}

// NeedsDatabase 报告是否有组件使用 SQL 数据库
func (c *Config) NeedsDatabase() bool {
	return c.Store.Type == "database" || c.Checkpoint.Type == "database"
}

// DSN 返回 gorm/database/sql 使用的连接串；sqlite 直接是文件路径
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite", "sqlite3":
		return d.Name
	default:
		return ""
	}
}
