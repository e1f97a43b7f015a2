package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/BaSui01/longtask/types"
)

// Sentinel errors
var (
	// ErrNotFound is returned when no entry exists for a key.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrInvalidEntry is returned when an entry is missing its key.
	ErrInvalidEntry = errors.New("checkpoint entry requires a key")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("checkpoint store is closed")
)

// Entry is the value recorded for a resource owned by a long-running task.
type Entry struct {
	Key       string          `json:"key"`
	TaskID    string          `json:"taskId"`
	Tag       string          `json:"tag"`
	Owner     types.Identity  `json:"owner"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedOn time.Time       `json:"createdOn"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Data != nil {
		c.Data = append(json.RawMessage(nil), e.Data...)
	}
	return &c
}

// Store is the key/value side-channel for cross-invocation state.
//
// Get returns ErrNotFound when the key is absent. Remove of a missing key
// is not an error.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, entry *Entry) error
	Remove(ctx context.Context, key string) error
}

// Backend is a Store with a lifecycle.
type Backend interface {
	Store
	Ping(ctx context.Context) error
	Close() error
}

// Key builds a deterministic key for a resource, e.g. Key("deletingModel", "article")
// yields "deletingModel#article".
func Key(kind string, parts ...string) string {
	return kind + "#" + strings.Join(parts, "#")
}

// Lookup returns the entry for key, or nil when none exists.
func Lookup(ctx context.Context, s Store, key string) (*Entry, error) {
	e, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}
