package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-task-api/internal/dto"
	"github.com/noah-isme/gema-task-api/internal/models"
	"github.com/noah-isme/gema-task-api/internal/repository"
)

// SubmissionQueryService shapes submission collections for read endpoints. Type filtering
// happens after the task join because the classification lives on the task.
type SubmissionQueryService interface {
	ListByUserType(ctx context.Context, userID uint, typeToken string) (dto.UserTypeSubmissionsResponse, error)
	ListAll(ctx context.Context) (dto.AllSubmissionsResponse, error)
	ListByTask(ctx context.Context, taskID uint) (dto.TaskSubmissionsResponse, error)
}

type submissionQueryService struct {
	submissions repository.SubmissionRepository
	gate        *TypeGate
	logger      zerolog.Logger
}

// NewSubmissionQueryService constructs the read-side service.
func NewSubmissionQueryService(submissions repository.SubmissionRepository, gate *TypeGate, logger zerolog.Logger) SubmissionQueryService {
	return &submissionQueryService{
		submissions: submissions,
		gate:        gate,
		logger:      logger.With().Str("component", "submission_query_service").Logger(),
	}
}

func (s *submissionQueryService) ListByUserType(ctx context.Context, userID uint, typeToken string) (dto.UserTypeSubmissionsResponse, error) {
	taskType, err := s.gate.ParseType(typeToken)
	if err != nil {
		return dto.UserTypeSubmissionsResponse{}, err
	}

	submissions, err := s.submissions.ListByUser(ctx, userID)
	if err != nil {
		return dto.UserTypeSubmissionsResponse{}, err
	}

	filtered := make([]models.Submission, 0, len(submissions))
	for _, submission := range submissions {
		if submission.Task.HasType(taskType) {
			// the by-user projection carries the task only
			submission.User = models.User{}
			filtered = append(filtered, submission)
		}
	}

	return dto.UserTypeSubmissionsResponse{
		UserID:      userID,
		Type:        taskType,
		TotalTasks:  len(filtered),
		Submissions: dto.NewSubmissionResponseSlice(filtered),
	}, nil
}

func (s *submissionQueryService) ListAll(ctx context.Context) (dto.AllSubmissionsResponse, error) {
	submissions, err := s.submissions.ListAll(ctx)
	if err != nil {
		return dto.AllSubmissionsResponse{}, err
	}

	return dto.AllSubmissionsResponse{
		TotalSubmissions: len(submissions),
		Submissions:      dto.NewSubmissionResponseSlice(submissions),
	}, nil
}

func (s *submissionQueryService) ListByTask(ctx context.Context, taskID uint) (dto.TaskSubmissionsResponse, error) {
	submissions, err := s.submissions.ListByTask(ctx, taskID)
	if err != nil {
		return dto.TaskSubmissionsResponse{}, err
	}

	return dto.TaskSubmissionsResponse{
		TaskID:           taskID,
		TotalSubmissions: len(submissions),
		Submissions:      dto.NewSubmissionResponseSlice(submissions),
	}, nil
}
