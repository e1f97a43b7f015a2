// =============================================================================
// 📦 longtask 默认配置
// =============================================================================
// 提供所有配置项的默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Task:       DefaultTaskConfig(),
		Store:      DefaultStoreConfig(),
		Checkpoint: DefaultCheckpointConfig(),
		Runners:    DefaultRunnersConfig(),
		Retry:      DefaultRetryConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		MongoDB:    DefaultMongoDBConfig(),
		JWT:        JWTConfig{Issuer: "longtask"},
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:         8080,
		MetricsPort:      9091,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RateLimitRPS:     100,
		RateLimitBurst:   200,
		SchedulerEnabled: true,
	}
}

// DefaultTaskConfig 返回默认编排器配置
// 单次调用预算 14 分钟，预留 30 秒安全边界
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		InvocationTimeout:    14 * time.Minute,
		SafetyMargin:         30 * time.Second,
		DefaultMaxIterations: 500,
		PollInterval:         time.Second,
		BatchSize:            50,
		Workers:              4,
		QueueSize:            128,
		IdempotencyTTL:       24 * time.Hour,
	}
}

// DefaultStoreConfig 返回默认任务存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      "memory",
		BaseDir:   "./data",
		KeyPrefix: "longtask:",
	}
}

// DefaultCheckpointConfig 返回默认检查点配置
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Type:      "memory",
		KeyPrefix: "longtask:checkpoint:",
	}
}

// DefaultRunnersConfig 返回各 runner 默认配置
func DefaultRunnersConfig() RunnersConfig {
	return RunnersConfig{
		DeleteModel: DeleteModelConfig{
			PageSize:     100,
			ReprobeDelay: 5 * time.Second,
			MaxReprobes:  3,
		},
		PruneLogs: PruneLogsConfig{
			PageSize:  200,
			Retention: 5 * time.Minute,
		},
		SyncIndex: SyncIndexConfig{
			PageSize:        500,
			BatchReadSize:   100,
			ReadConcurrency: 4,
			IndexPrefix:     "cms-",
			KeyPrefix:       "longtask:search:",
		},
	}
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      10,
		MinIdleConns:  2,
		SlowThreshold: 100 * time.Millisecond,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "longtask",
		Password:        "",
		Name:            "longtask",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoDBConfig 返回默认 MongoDB 配置
func DefaultMongoDBConfig() MongoDBConfig {
	return MongoDBConfig{
		Enabled:        false,
		URI:            "mongodb://localhost:27017",
		Database:       "longtask",
		Collection:     "logs",
		ConnectTimeout: 10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "longtask",
		SampleRate:   0.1,
	}
}
