package checkpoint

import (
	"fmt"
	"time"

	"github.com/BaSui01/longtask/internal/cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Type selects a checkpoint backend.
type Type string

const (
	TypeMemory   Type = "memory"
	TypeRedis    Type = "redis"
	TypeDatabase Type = "database"
)

// Config configures the checkpoint store.
type Config struct {
	Type      Type          `yaml:"type" json:"type" env:"TYPE"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" json:"ttl" env:"TTL"`
}

// Backends carries the shared connections a store may need.
type Backends struct {
	Redis *cache.Manager
	DB    *gorm.DB
}

// NewStore creates a checkpoint store for the configured type.
func NewStore(cfg Config, b Backends, logger *zap.Logger) (Backend, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryStore(), nil
	case TypeRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("checkpoint store %q requires a redis connection", cfg.Type)
		}
		return NewRedisStore(b.Redis, cfg.KeyPrefix, cfg.TTL, logger), nil
	case TypeDatabase:
		if b.DB == nil {
			return nil, fmt.Errorf("checkpoint store %q requires a database connection", cfg.Type)
		}
		return NewGormStore(b.DB), nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint store type: %s", cfg.Type)
	}
}
