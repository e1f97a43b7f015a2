package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/longtask/task"
	"github.com/BaSui01/longtask/types"
)

// taskRow maps to the tasks table.
type taskRow struct {
	ID             string     `gorm:"column:id;primaryKey;size:64"`
	DefinitionID   string     `gorm:"column:definition_id;size:128;index"`
	Name           string     `gorm:"column:name;size:255"`
	Status         string     `gorm:"column:status;size:16;index"`
	Input          string     `gorm:"column:input;type:text"`
	Output         string     `gorm:"column:output;type:text"`
	Iterations     int        `gorm:"column:iterations"`
	Tenant         string     `gorm:"column:tenant;size:64;index"`
	Locale         string     `gorm:"column:locale;size:16"`
	CreatedBy      string     `gorm:"column:created_by;type:text"`
	Message        string     `gorm:"column:message;type:text"`
	ErrorInfo      string     `gorm:"column:error;type:text"`
	AbortRequested bool       `gorm:"column:abort_requested"`
	CreatedOn      time.Time  `gorm:"column:created_on;index"`
	UpdatedOn      time.Time  `gorm:"column:updated_on"`
	StartedOn      *time.Time `gorm:"column:started_on"`
	FinishedOn     *time.Time `gorm:"column:finished_on"`
	NextRunAt      *time.Time `gorm:"column:next_run_at;index"`
}

func (taskRow) TableName() string { return "tasks" }

// GormTaskStore stores task records in a SQL database.
type GormTaskStore struct {
	db *gorm.DB
}

// NewGormTaskStore creates a SQL-backed task store.
func NewGormTaskStore(db *gorm.DB) *GormTaskStore {
	return &GormTaskStore{db: db}
}

// AutoMigrate creates the tasks table; production schemas come from migrations.
func (s *GormTaskStore) AutoMigrate() error {
	return s.db.AutoMigrate(&taskRow{})
}

// Close is a no-op; the shared *gorm.DB is closed by its owner.
func (s *GormTaskStore) Close() error {
	return nil
}

// Ping checks if the store is healthy
func (s *GormTaskStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateTask inserts a new record.
func (s *GormTaskStore) CreateTask(ctx context.Context, t *task.Task) error {
	if err := validateTask(t); err != nil {
		return err
	}
	row, err := toTaskRow(t)
	if err != nil {
		return err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&taskRow{}).Where("id = ?", t.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check task: %w", err)
	}
	if count > 0 {
		return ErrAlreadyExists
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID
func (s *GormTaskStore) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	var row taskRow
	err := s.db.WithContext(ctx).Where("id = ?", taskID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return row.toTask()
}

// UpdateTask replaces every column of an existing record.
func (s *GormTaskStore) UpdateTask(ctx context.Context, t *task.Task) error {
	if err := validateTask(t); err != nil {
		return err
	}
	row, err := toTaskRow(t)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&taskRow{}).Where("id = ?", t.ID).Select("*").Updates(row)
	if res.Error != nil {
		return fmt.Errorf("failed to update task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasks lists tasks matching the filter
func (s *GormTaskStore) ListTasks(ctx context.Context, filter task.Filter) ([]*task.Task, error) {
	q := s.db.WithContext(ctx).Model(&taskRow{})
	if filter.DefinitionID != "" {
		q = q.Where("definition_id = ?", filter.DefinitionID)
	}
	if filter.Tenant != "" {
		q = q.Where("tenant = ?", filter.Tenant)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.RunnableAt != nil {
		q = q.Where("status IN ?", []string{string(task.StatusPending), string(task.StatusRunning)}).
			Where("(next_run_at IS NULL OR next_run_at <= ?)", *filter.RunnableAt)
	}
	q = q.Order("created_on ASC").Order("id ASC")
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []taskRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	result := make([]*task.Task, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toTask()
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

// Stats returns statistics about the task store
func (s *GormTaskStore) Stats(ctx context.Context) (*TaskStoreStats, error) {
	type bucket struct {
		DefinitionID string
		Status       string
		Count        int64
	}
	var buckets []bucket
	err := s.db.WithContext(ctx).Model(&taskRow{}).
		Select("definition_id, status, COUNT(*) AS count").
		Group("definition_id, status").
		Scan(&buckets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	stats := newStats()
	for _, b := range buckets {
		stats.TotalTasks += b.Count
		stats.StatusCounts[task.Status(b.Status)] += b.Count
		stats.DefinitionCount[b.DefinitionID] += b.Count
	}
	return stats, nil
}

func toTaskRow(t *task.Task) (*taskRow, error) {
	createdBy, err := json.Marshal(t.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal created_by: %w", err)
	}
	var errInfo string
	if t.Error != nil {
		b, err := json.Marshal(t.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal error: %w", err)
		}
		errInfo = string(b)
	}
	return &taskRow{
		ID:             t.ID,
		DefinitionID:   t.DefinitionID,
		Name:           t.Name,
		Status:         string(t.Status),
		Input:          string(t.Input),
		Output:         string(t.Output),
		Iterations:     t.Iterations,
		Tenant:         t.Tenant,
		Locale:         t.Locale,
		CreatedBy:      string(createdBy),
		Message:        t.Message,
		ErrorInfo:      errInfo,
		AbortRequested: t.AbortRequested,
		CreatedOn:      t.CreatedOn,
		UpdatedOn:      t.UpdatedOn,
		StartedOn:      t.StartedOn,
		FinishedOn:     t.FinishedOn,
		NextRunAt:      t.NextRunAt,
	}, nil
}

func (r *taskRow) toTask() (*task.Task, error) {
	t := &task.Task{
		ID:             r.ID,
		DefinitionID:   r.DefinitionID,
		Name:           r.Name,
		Status:         task.Status(r.Status),
		Iterations:     r.Iterations,
		Tenant:         r.Tenant,
		Locale:         r.Locale,
		Message:        r.Message,
		AbortRequested: r.AbortRequested,
		CreatedOn:      r.CreatedOn,
		UpdatedOn:      r.UpdatedOn,
		StartedOn:      r.StartedOn,
		FinishedOn:     r.FinishedOn,
		NextRunAt:      r.NextRunAt,
	}
	if r.Input != "" {
		t.Input = json.RawMessage(r.Input)
	}
	if r.Output != "" {
		t.Output = json.RawMessage(r.Output)
	}
	if r.CreatedBy != "" {
		var id types.Identity
		if err := json.Unmarshal([]byte(r.CreatedBy), &id); err != nil {
			return nil, fmt.Errorf("failed to unmarshal created_by: %w", err)
		}
		t.CreatedBy = id
	}
	if r.ErrorInfo != "" {
		var info task.ErrorInfo
		if err := json.Unmarshal([]byte(r.ErrorInfo), &info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error: %w", err)
		}
		t.Error = &info
	}
	return t, nil
}

var _ TaskStore = (*GormTaskStore)(nil)
