package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-task-api/internal/models"
)

// TaskRepository is the read side of the task catalog plus the grading status flip.
type TaskRepository interface {
	GetByID(ctx context.Context, id uint) (models.Task, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
}

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository instantiates a GORM-backed task catalog.
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) GetByID(ctx context.Context, id uint) (models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).
		Preload("Problems", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("id ASC")
		}).
		First(&task, id).Error; err != nil {
		return models.Task{}, err
	}

	return task, nil
}

func (r *taskRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	result := r.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
