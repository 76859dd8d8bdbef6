package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-task-api/internal/dto"
	"github.com/noah-isme/gema-task-api/internal/events"
	"github.com/noah-isme/gema-task-api/internal/observability"
	"github.com/noah-isme/gema-task-api/internal/repository"
)

// SubmissionService records learner submissions.
type SubmissionService interface {
	Create(ctx context.Context, userID uint, typeToken string, taskID uint, payload dto.SubmissionCreateRequest, files UploadedFiles) (dto.SubmissionResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	gate        *TypeGate
	normalizer  *AnswerNormalizer
	publisher   events.Publisher
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewSubmissionService constructs a SubmissionService instance.
func NewSubmissionService(submissions repository.SubmissionRepository, gate *TypeGate, normalizer *AnswerNormalizer, publisher events.Publisher, logger zerolog.Logger) SubmissionService {
	if publisher == nil {
		publisher = events.NopPublisher()
	}
	return &submissionService{
		submissions: submissions,
		gate:        gate,
		normalizer:  normalizer,
		publisher:   publisher,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-task-api/internal/service/submission"),
	}
}

func (s *submissionService) Create(ctx context.Context, userID uint, typeToken string, taskID uint, payload dto.SubmissionCreateRequest, files UploadedFiles) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submission.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("submission.type", typeToken),
		attribute.Int64("submission.task_id", int64(taskID)),
		attribute.Int64("submission.user_id", int64(userID)),
	)

	if userID == 0 {
		err := fmt.Errorf("authenticated user is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing_user")
		return dto.SubmissionResponse{}, err
	}

	task, taskType, err := s.gate.Resolve(ctx, typeToken, taskID)
	if err != nil {
		return dto.SubmissionResponse{}, s.fail(span, "type_gate", err)
	}

	submission, err := s.normalizer.Normalize(ctx, task, userID, payload, files)
	if err != nil {
		return dto.SubmissionResponse{}, s.fail(span, "normalize", err)
	}

	if err := s.submissions.Create(ctx, &submission); err != nil {
		logOrphanedFiles(s.logger, attachmentURLs(submission), err)
		return dto.SubmissionResponse{}, s.fail(span, "persist", err)
	}

	created, err := s.submissions.GetByID(ctx, submission.ID)
	if err != nil {
		return dto.SubmissionResponse{}, s.fail(span, "reload", err)
	}

	observability.SubmissionsCreated().WithLabelValues(string(taskType)).Inc()
	if err := s.publisher.Publish(ctx, events.Event{
		Type:         events.SubmissionCreated,
		SubmissionID: created.ID,
		TaskID:       created.TaskID,
		UserID:       created.UserID,
		TaskType:     string(taskType),
	}); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", created.ID).Msg("failed to publish submission event")
	}

	s.logger.Info().
		Uint("submission_id", created.ID).
		Uint("task_id", created.TaskID).
		Uint("user_id", created.UserID).
		Str("type", string(taskType)).
		Int("files", len(created.Files)).
		Msg("submission created")
	span.SetStatus(codes.Ok, "created")

	return dto.NewSubmissionResponse(created), nil
}

func (s *submissionService) fail(span trace.Span, stage string, err error) error {
	span.RecordError(err)
	if isClientError(err) {
		span.SetStatus(codes.Error, "rejected_"+stage)
	} else {
		span.SetStatus(codes.Error, stage+"_failed")
	}
	return err
}
