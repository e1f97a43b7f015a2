// Package persistence provides task record storage for the orchestrator.
//
// Supported backends:
// - Memory: development and tests (default)
// - File: single-node deployments
// - Redis: distributed deployments
// - Database: SQL via gorm (postgres, mysql, sqlite)
package persistence

import (
	"context"
	"errors"

	"github.com/BaSui01/longtask/task"
)

// Common errors
var (
	ErrNotFound      = task.ErrNotFound
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeFile     StoreType = "file"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
)

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type" env:"TYPE"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir" env:"BASE_DIR"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      StoreTypeMemory,
		BaseDir:   "./data/tasks",
		KeyPrefix: "longtask:",
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

func validateTask(t *task.Task) error {
	if t == nil || t.ID == "" {
		return ErrInvalidInput
	}
	if !t.Status.IsValid() {
		return ErrInvalidInput
	}
	return nil
}
