package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jobscope/lakehouse/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrTaskNotFound = errors.New("task not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&TaskModel{})
}

func (r *Repository) Create(ctx context.Context, task *TaskModel) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.RunState, errorMessage string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"updated_at":    now,
	}
	switch {
	case status == models.StateRunning:
		updates["started_at"] = now
	case status.Terminal():
		updates["completed_at"] = now
	}
	return r.db.WithContext(ctx).Model(&TaskModel{}).Where("id = ?", id).Updates(updates).Error
}

func (r *Repository) UpdateProgress(ctx context.Context, id uuid.UUID, progress datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&TaskModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"progress":   progress,
		"updated_at": time.Now().UTC(),
	}).Error
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*TaskModel, error) {
	var task TaskModel
	result := r.db.WithContext(ctx).First(&task, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	return &task, result.Error
}

func (r *Repository) List(ctx context.Context, kind string, limit int) ([]TaskModel, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var tasks []TaskModel
	result := q.Find(&tasks)
	return tasks, result.Error
}

// FailStale marks tasks left queued or running by a previous process as failed.
func (r *Repository) FailStale(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&TaskModel{}).
		Where("status IN ?", []models.RunState{models.StateQueued, models.StateRunning}).
		Updates(map[string]interface{}{
			"status":        models.StateFailed,
			"error_message": reason,
			"updated_at":    now,
			"completed_at":  now,
		})
	return result.RowsAffected, result.Error
}
