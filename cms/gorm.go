package cms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/longtask/internal/database"
	"github.com/BaSui01/longtask/internal/retry"
)

type modelRow struct {
	ID        string    `gorm:"column:id;primaryKey;size:128"`
	Name      string    `gorm:"column:name;size:255"`
	Tenant    string    `gorm:"column:tenant;size:64;index"`
	Locale    string    `gorm:"column:locale;size:16"`
	CreatedOn time.Time `gorm:"column:created_on"`
}

func (modelRow) TableName() string { return "cms_models" }

type entryRow struct {
	ModelID   string    `gorm:"column:model_id;primaryKey;size:128"`
	ID        string    `gorm:"column:id;primaryKey;size:128"`
	Tenant    string    `gorm:"column:tenant;size:64"`
	Locale    string    `gorm:"column:locale;size:16"`
	Values    string    `gorm:"column:entry_values;type:text"`
	CreatedOn time.Time `gorm:"column:created_on"`
}

func (entryRow) TableName() string { return "cms_entries" }

type folderRow struct {
	ModelID   string    `gorm:"column:model_id;primaryKey;size:128"`
	ID        string    `gorm:"column:id;primaryKey;size:128"`
	ParentID  string    `gorm:"column:parent_id;size:128"`
	Title     string    `gorm:"column:title;size:255"`
	CreatedOn time.Time `gorm:"column:created_on"`
}

func (folderRow) TableName() string { return "cms_folders" }

// GormRepository stores content in cms_models, cms_entries and cms_folders.
type GormRepository struct {
	db      *gorm.DB
	retryer retry.Retryer
}

// NewGormRepository creates a SQL-backed repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// WithRetry replays the check-then-insert transactions on deadlocks and lock timeouts.
func (r *GormRepository) WithRetry(retryer retry.Retryer) *GormRepository {
	r.retryer = retryer
	return r
}

// AutoMigrate creates the content tables; production schemas come from migrations.
func (r *GormRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&modelRow{}, &entryRow{}, &folderRow{})
}

func (r *GormRepository) CreateModel(ctx context.Context, m *Model) error {
	if err := validateModel(m); err != nil {
		return err
	}
	row := modelRow{ID: m.ID, Name: m.Name, Tenant: m.Tenant, Locale: m.Locale, CreatedOn: m.CreatedOn}
	return r.create(ctx, &modelRow{}, "id = ?", []any{m.ID}, &row)
}

func (r *GormRepository) GetModel(ctx context.Context, id string) (*Model, error) {
	var row modelRow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	return &Model{ID: row.ID, Name: row.Name, Tenant: row.Tenant, Locale: row.Locale, CreatedOn: row.CreatedOn}, nil
}

func (r *GormRepository) DeleteModel(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&modelRow{}).Error; err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	return nil
}

func (r *GormRepository) CreateEntry(ctx context.Context, e *Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	row := entryRow{
		ModelID: e.ModelID, ID: e.ID, Tenant: e.Tenant, Locale: e.Locale,
		Values: string(e.Values), CreatedOn: e.CreatedOn,
	}
	return r.create(ctx, &entryRow{}, "model_id = ? AND id = ?", []any{e.ModelID, e.ID}, &row)
}

func (r *GormRepository) ListEntries(ctx context.Context, modelID, after string, limit int) ([]*Entry, error) {
	var rows []entryRow
	err := r.db.WithContext(ctx).
		Where("model_id = ? AND id > ?", modelID, after).
		Order("id ASC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	out := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		e := &Entry{
			ID: row.ID, ModelID: row.ModelID, Tenant: row.Tenant, Locale: row.Locale,
			CreatedOn: row.CreatedOn,
		}
		if row.Values != "" {
			e.Values = []byte(row.Values)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *GormRepository) DeleteEntry(ctx context.Context, modelID, id string) error {
	err := r.db.WithContext(ctx).Where("model_id = ? AND id = ?", modelID, id).Delete(&entryRow{}).Error
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

func (r *GormRepository) ExistingEntries(ctx context.Context, modelID string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []string
	err := r.db.WithContext(ctx).Model(&entryRow{}).
		Where("model_id = ? AND id IN ?", modelID, ids).
		Pluck("id", &found).Error
	if err != nil {
		return nil, fmt.Errorf("batch read entries: %w", err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func (r *GormRepository) CreateFolder(ctx context.Context, f *Folder) error {
	if err := validateFolder(f); err != nil {
		return err
	}
	row := folderRow{ModelID: f.ModelID, ID: f.ID, ParentID: f.ParentID, Title: f.Title, CreatedOn: f.CreatedOn}
	return r.create(ctx, &folderRow{}, "model_id = ? AND id = ?", []any{f.ModelID, f.ID}, &row)
}

func (r *GormRepository) ListFolders(ctx context.Context, modelID, after string, limit int) ([]*Folder, error) {
	var rows []folderRow
	err := r.db.WithContext(ctx).
		Where("model_id = ? AND id > ?", modelID, after).
		Order("id ASC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	out := make([]*Folder, 0, len(rows))
	for _, row := range rows {
		out = append(out, &Folder{ID: row.ID, ModelID: row.ModelID, ParentID: row.ParentID, Title: row.Title, CreatedOn: row.CreatedOn})
	}
	return out, nil
}

func (r *GormRepository) DeleteFolder(ctx context.Context, modelID, id string) error {
	err := r.db.WithContext(ctx).Where("model_id = ? AND id = ?", modelID, id).Delete(&folderRow{}).Error
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	return nil
}

// create inserts row unless a record matching where already exists.
func (r *GormRepository) create(ctx context.Context, model any, where string, args []any, row any) error {
	return database.InTx(ctx, r.db, r.retryer, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(model).Where(where, args...).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyExists
		}
		return tx.Create(row).Error
	})
}
