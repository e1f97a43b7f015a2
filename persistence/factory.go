package persistence

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Backends carries the shared connections a store may need.
type Backends struct {
	Redis redis.UniversalClient
	DB    *gorm.DB
}

// NewTaskStore creates a new TaskStore based on the configuration
func NewTaskStore(config StoreConfig, b Backends) (TaskStore, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryTaskStore(), nil
	case StoreTypeFile:
		return NewFileTaskStore(config)
	case StoreTypeRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("task store %q requires a redis connection", config.Type)
		}
		return NewRedisTaskStore(b.Redis, config), nil
	case StoreTypeDatabase:
		if b.DB == nil {
			return nil, fmt.Errorf("task store %q requires a database connection", config.Type)
		}
		return NewGormTaskStore(b.DB), nil
	default:
		return nil, fmt.Errorf("unsupported task store type: %s", config.Type)
	}
}

// MustNewTaskStore creates a new TaskStore or panics on error.
//
// WARNING: only for application initialization (main or tests).
func MustNewTaskStore(config StoreConfig, b Backends) TaskStore {
	store, err := NewTaskStore(config, b)
	if err != nil {
		panic(fmt.Sprintf("failed to create task store: %v", err))
	}
	return store
}
