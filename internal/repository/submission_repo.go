package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-task-api/internal/models"
)

// LatestSubmissionPolicy decides which row counts as a user's latest submission for a task.
type LatestSubmissionPolicy string

const (
	// LatestByCreatedAt picks the most recently created row.
	LatestByCreatedAt LatestSubmissionPolicy = "created_at"
	// LatestByUpdatedAt picks the most recently modified row.
	LatestByUpdatedAt LatestSubmissionPolicy = "updated_at"
)

// ParseLatestSubmissionPolicy resolves a configured policy name.
func ParseLatestSubmissionPolicy(value string) (LatestSubmissionPolicy, error) {
	switch LatestSubmissionPolicy(value) {
	case LatestByCreatedAt, "":
		return LatestByCreatedAt, nil
	case LatestByUpdatedAt:
		return LatestByUpdatedAt, nil
	default:
		return "", fmt.Errorf("unknown latest submission policy %q", value)
	}
}

func (p LatestSubmissionPolicy) order() string {
	if p == LatestByUpdatedAt {
		return "updated_at DESC, id DESC"
	}
	return "created_at DESC, id DESC"
}

// SubmissionRepository stores submissions as append-only history rows.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	Update(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Submission, error)
	ListByTask(ctx context.Context, taskID uint) ([]models.Submission, error)
	ListAll(ctx context.Context) ([]models.Submission, error)
	FindLatest(ctx context.Context, userID, taskID uint, policy LatestSubmissionPolicy) (models.Submission, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Submission{}).
		Preload("Task").
		Preload("User")
}

// Create always inserts; repeated attempts produce separate rows.
func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(submission).Error
}

func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) ListByUser(ctx context.Context, userID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := r.baseQuery(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) ListByTask(ctx context.Context, taskID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := r.baseQuery(ctx).
		Where("task_id = ?", taskID).
		Order("created_at ASC, id ASC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) ListAll(ctx context.Context) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := r.baseQuery(ctx).Order("created_at ASC, id ASC").Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) FindLatest(ctx context.Context, userID, taskID uint, policy LatestSubmissionPolicy) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).
		Where("user_id = ?", userID).
		Where("task_id = ?", taskID).
		Order(policy.order()).
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}
