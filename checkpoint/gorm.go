package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// checkpointRow maps to the checkpoints table.
type checkpointRow struct {
	Key       string    `gorm:"column:checkpoint_key;primaryKey;size:255"`
	TaskID    string    `gorm:"column:task_id;size:64;index"`
	Tag       string    `gorm:"column:tag;size:64"`
	Owner     string    `gorm:"column:owner;type:text"`
	Data      string    `gorm:"column:data;type:text"`
	CreatedOn time.Time `gorm:"column:created_on"`
}

func (checkpointRow) TableName() string { return "checkpoints" }

// GormStore keeps entries in a SQL table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a SQL-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates the checkpoints table; production schemas come from migrations.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&checkpointRow{})
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, key string) (*Entry, error) {
	var row checkpointRow
	err := s.db.WithContext(ctx).Where("checkpoint_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", key, err)
	}
	return row.toEntry()
}

// Set implements Store.
func (s *GormStore) Set(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.Key == "" {
		return ErrInvalidEntry
	}
	row, err := rowFromEntry(entry)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("set checkpoint %s: %w", entry.Key, err)
	}
	return nil
}

// Remove implements Store.
func (s *GormStore) Remove(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("checkpoint_key = ?", key).Delete(&checkpointRow{}).Error; err != nil {
		return fmt.Errorf("remove checkpoint %s: %w", key, err)
	}
	return nil
}

// Ping implements Backend.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements Backend. The shared *gorm.DB is closed by its owner.
func (s *GormStore) Close() error {
	return nil
}

func rowFromEntry(e *Entry) (*checkpointRow, error) {
	owner, err := json.Marshal(e.Owner)
	if err != nil {
		return nil, fmt.Errorf("marshal owner: %w", err)
	}
	created := e.CreatedOn
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return &checkpointRow{
		Key:       e.Key,
		TaskID:    e.TaskID,
		Tag:       e.Tag,
		Owner:     string(owner),
		Data:      string(e.Data),
		CreatedOn: created,
	}, nil
}

func (r *checkpointRow) toEntry() (*Entry, error) {
	e := &Entry{
		Key:       r.Key,
		TaskID:    r.TaskID,
		Tag:       r.Tag,
		CreatedOn: r.CreatedOn,
	}
	if r.Owner != "" {
		if err := json.Unmarshal([]byte(r.Owner), &e.Owner); err != nil {
			return nil, fmt.Errorf("unmarshal owner: %w", err)
		}
	}
	if r.Data != "" {
		e.Data = json.RawMessage(r.Data)
	}
	return e, nil
}

var _ Backend = (*GormStore)(nil)
