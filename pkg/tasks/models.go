package tasks

import (
	"time"

	"github.com/google/uuid"
	"github.com/jobscope/lakehouse/pkg/common/models"
	"gorm.io/datatypes"
)

const (
	KindPipeline = "pipeline"
	KindSync     = "sync"
)

type TaskModel struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey;column:id"`
	Kind         string          `gorm:"column:kind;not null;index"`
	Status       models.RunState `gorm:"column:status;not null"`
	Trigger      string          `gorm:"column:trigger"`
	Progress     datatypes.JSON  `gorm:"column:progress"`
	ErrorMessage string          `gorm:"column:error_message"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
	StartedAt    *time.Time      `gorm:"column:started_at"`
	CompletedAt  *time.Time      `gorm:"column:completed_at"`
}

func (TaskModel) TableName() string {
	return "pipeline_tasks"
}

// Task is the API view of a tracked run.
type Task struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`
	Status      models.RunState `json:"status"`
	Trigger     string          `json:"trigger,omitempty"`
	Progress    datatypes.JSON  `json:"progress,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func toDomain(m *TaskModel) Task {
	return Task{
		ID:          m.ID,
		Kind:        m.Kind,
		Status:      m.Status,
		Trigger:     m.Trigger,
		Progress:    m.Progress,
		Error:       m.ErrorMessage,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}
}
