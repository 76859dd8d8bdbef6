package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-task-api/internal/dto"
	"github.com/noah-isme/gema-task-api/internal/events"
	"github.com/noah-isme/gema-task-api/internal/models"
	"github.com/noah-isme/gema-task-api/internal/observability"
	"github.com/noah-isme/gema-task-api/internal/repository"
)

// GradingService lets graders amend submission scores after the fact.
type GradingService interface {
	MergeEssayScores(ctx context.Context, userID uint, typeToken string, payload dto.EssayScoreRequest) (dto.EssayMergeResponse, error)
	OverrideScore(ctx context.Context, payload dto.ScoreOverrideRequest, feedback *multipart.FileHeader) (dto.SubmissionResponse, error)
}

// GradingOptions configures the grading service.
type GradingOptions struct {
	LatestPolicy repository.LatestSubmissionPolicy
	MaxUploadMB  int
}

type gradingService struct {
	submissions repository.SubmissionRepository
	tasks       repository.TaskRepository
	gate        *TypeGate
	uploads     uploadGuard
	latest      repository.LatestSubmissionPolicy
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	publisher   events.Publisher
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewGradingService constructs the grading service.
func NewGradingService(submissions repository.SubmissionRepository, tasks repository.TaskRepository, gate *TypeGate, storage FileStorage, validate *validator.Validate, publisher events.Publisher, opts GradingOptions, logger zerolog.Logger) GradingService {
	if publisher == nil {
		publisher = events.NopPublisher()
	}
	latest := opts.LatestPolicy
	if latest == "" {
		latest = repository.LatestByCreatedAt
	}
	return &gradingService{
		submissions: submissions,
		tasks:       tasks,
		gate:        gate,
		uploads:     newUploadGuard(storage, opts.MaxUploadMB),
		latest:      latest,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		publisher:   publisher,
		logger:      logger.With().Str("component", "grading_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-task-api/internal/service/grading"),
	}
}

// MergeEssayScores writes per-question essay scores into every submission of the user whose task
// has the requested type, and recomputes each touched submission's total. Rows are saved
// independently: a failed save is reported in its row result and the merge carries on.
func (s *gradingService) MergeEssayScores(ctx context.Context, userID uint, typeToken string, payload dto.EssayScoreRequest) (dto.EssayMergeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.merge_essay_scores")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("grading.user_id", int64(userID)),
		attribute.String("grading.type", typeToken),
		attribute.Int("grading.score_count", len(payload.Scores)),
	)

	taskType, ok := models.ParseTaskType(typeToken)
	if !ok || !taskType.EssayScored() {
		err := fmt.Errorf("%w: type must be 'pretest', 'postest', or 'refleksi'", ErrInvalidTaskType)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_type")
		return dto.EssayMergeResponse{}, err
	}

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.EssayMergeResponse{}, err
	}

	scores := make(map[string]float64, len(payload.Scores))
	for _, entry := range payload.Scores {
		key := entry.QuestionID.String()
		if _, seen := scores[key]; !seen {
			scores[key] = *entry.Score
		}
	}

	submissions, err := s.submissions.ListByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return dto.EssayMergeResponse{}, err
	}

	response := dto.EssayMergeResponse{
		UserID:  userID,
		Type:    taskType,
		Results: make([]dto.EssayMergeRowResult, 0),
	}

	for i := range submissions {
		submission := &submissions[i]
		if !submission.Task.HasType(taskType) {
			continue
		}

		updated := applyEssayScores(submission, scores)
		if updated == 0 {
			continue
		}

		total := submission.EssayScoreTotal()
		submission.Score = &total

		row := dto.EssayMergeRowResult{
			SubmissionID: submission.ID,
			TaskID:       submission.TaskID,
			Updated:      updated,
			TotalScore:   total,
		}

		if err := s.submissions.Update(ctx, submission); err != nil {
			row.Error = err.Error()
			response.Failed++
			observability.EssayMergeFailures().WithLabelValues(string(taskType)).Inc()
			s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to save essay scores")
			span.RecordError(err)
		} else {
			row.Saved = true
			response.Updated += updated
			s.logger.Info().
				Uint("submission_id", submission.ID).
				Float64("score", total).
				Int("answers_updated", updated).
				Msg("essay scores updated")
		}
		response.Results = append(response.Results, row)
	}

	observability.EssayScoresMerged().WithLabelValues(string(taskType)).Add(float64(response.Updated))
	if response.Updated > 0 {
		if err := s.publisher.Publish(ctx, events.Event{
			Type:     events.SubmissionEssayScored,
			UserID:   userID,
			TaskType: string(taskType),
			Count:    response.Updated,
		}); err != nil {
			s.logger.Warn().Err(err).Uint("user_id", userID).Msg("failed to publish essay score event")
		}
	}

	span.SetAttributes(
		attribute.Int("grading.answers_updated", response.Updated),
		attribute.Int("grading.rows_failed", response.Failed),
	)
	if response.Failed > 0 {
		span.SetStatus(codes.Error, "partial_failure")
	} else {
		span.SetStatus(codes.Ok, "merged")
	}

	return response, nil
}

// applyEssayScores replaces the score of every essay answer with a matching question id and
// returns how many answers were touched. Answer text is preserved.
func applyEssayScores(submission *models.Submission, scores map[string]float64) int {
	updated := 0
	for i := range submission.EssayAnswers {
		score, ok := scores[strings.TrimSpace(submission.EssayAnswers[i].QuestionID)]
		if !ok {
			continue
		}
		value := score
		submission.EssayAnswers[i].Score = &value
		updated++
	}
	return updated
}

// OverrideScore sets the total score of the user's latest submission for the task, chosen by the
// configured LatestSubmissionPolicy, and marks the task Completed. LO and KBK grading also records
// an explanation and an optional feedback file.
func (s *gradingService) OverrideScore(ctx context.Context, payload dto.ScoreOverrideRequest, feedback *multipart.FileHeader) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.override_score")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("grading.task_id", int64(payload.TaskID)),
		attribute.Int64("grading.user_id", int64(payload.UserID)),
		attribute.String("grading.type", payload.Type),
		attribute.String("grading.latest_policy", string(s.latest)),
	)

	taskType, err := s.gate.ParseType(payload.Type)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_type")
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.submissions.FindLatest(ctx, payload.UserID, payload.TaskID, s.latest)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "submission_not_found")
			return dto.SubmissionResponse{}, fmt.Errorf("%w for given user, task, and type", ErrSubmissionNotFound)
		}
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return dto.SubmissionResponse{}, err
	}

	if err := s.gate.Check(submission.Task, taskType); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "type_mismatch")
		return dto.SubmissionResponse{}, err
	}

	score, err := parseScore(payload.Score.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_score")
		return dto.SubmissionResponse{}, err
	}

	submission.Score = &score

	if taskType.CarriesFeedback() {
		submission.Explanation = cleanExplanation(s.sanitizer, payload.Explanation)
		if feedback != nil {
			checked, err := s.uploads.check(feedback)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "feedback_rejected")
				return dto.SubmissionResponse{}, err
			}
			url, err := s.uploads.store(ctx, checked)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "feedback_storage_failed")
				return dto.SubmissionResponse{}, err
			}
			submission.FeedbackFile = url
		}
	}

	if err := s.submissions.Update(ctx, &submission); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_update_failed")
		return dto.SubmissionResponse{}, err
	}

	// The submission and the task are saved independently; a failure here leaves the new score in place.
	if err := s.tasks.UpdateStatus(ctx, submission.TaskID, models.TaskStatusCompleted); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task_status_update_failed")
		return dto.SubmissionResponse{}, err
	}
	submission.Task.Status = models.TaskStatusCompleted

	observability.ScoreOverrides().WithLabelValues(string(taskType)).Inc()
	if err := s.publisher.Publish(ctx, events.Event{
		Type:         events.SubmissionScored,
		SubmissionID: submission.ID,
		TaskID:       submission.TaskID,
		UserID:       submission.UserID,
		TaskType:     string(taskType),
	}); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to publish score event")
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("task_id", submission.TaskID).
		Uint("user_id", submission.UserID).
		Str("type", string(taskType)).
		Float64("score", score).
		Msg("submission score overridden")
	span.SetStatus(codes.Ok, "scored")

	return dto.NewSubmissionResponse(submission), nil
}

func parseScore(value string) (float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, ErrInvalidScore
	}
	score, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, ErrInvalidScore
	}
	return score, nil
}

// cleanExplanation strips markup from a grader explanation and keeps the remaining text verbatim.
// The policy entity-escapes text, so the result is unescaped again before storage.
func cleanExplanation(policy *bluemonday.Policy, explanation string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(explanation)))
}
