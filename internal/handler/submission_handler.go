package handler

import (
	"errors"
	"fmt"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-task-api/internal/dto"
	"github.com/noah-isme/gema-task-api/internal/middleware"
	"github.com/noah-isme/gema-task-api/internal/service"
	"github.com/noah-isme/gema-task-api/internal/utils"
)

// SubmissionHandler serves the task submission endpoints.
type SubmissionHandler struct {
	submissions service.SubmissionService
	grading     service.GradingService
	queries     service.SubmissionQueryService
	logger      zerolog.Logger
}

// SubmissionRouteGuards are per-route authorisation hooks. Nil guards let the request through.
type SubmissionRouteGuards struct {
	Grader        fiber.Handler
	SelfOrGrader  fiber.Handler
	SubmitLimiter fiber.Handler
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(submissions service.SubmissionService, grading service.GradingService, queries service.SubmissionQueryService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		submissions: submissions,
		grading:     grading,
		queries:     queries,
		logger:      logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router, guards SubmissionRouteGuards) {
	grader := orPass(guards.Grader)
	selfOrGrader := orPass(guards.SelfOrGrader)
	limiter := orPass(guards.SubmitLimiter)

	router.Get("", grader, h.listAll)
	router.Get("/task/:taskId", grader, h.listByTask)
	router.Get("/:type/user/:userId", selfOrGrader, h.listByUserType)
	router.Post("/score-essay/:type/:userId", grader, h.scoreEssays)
	router.Post("/:type/:taskId/score/:userId", grader, h.overrideScore)
	router.Post("/:type/:taskId", limiter, h.create)
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	taskID, err := parseUintParam(c, "taskId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload, files, err := parseCreatePayload(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.submissions.Create(c.UserContext(), userID, c.Params("type"), taskID, payload, files)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "Task submitted successfully", submission)
}

func (h *SubmissionHandler) listByUserType(c *fiber.Ctx) error {
	userID, err := parseUintParam(c, "userId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.queries.ListByUserType(c.UserContext(), userID, c.Params("type"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, result, "submissions retrieved", listMeta{Count: len(result.Submissions)})
}

func (h *SubmissionHandler) listAll(c *fiber.Ctx) error {
	result, err := h.queries.ListAll(c.UserContext())
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, result, "submissions retrieved", listMeta{Count: len(result.Submissions)})
}

func (h *SubmissionHandler) listByTask(c *fiber.Ctx) error {
	taskID, err := parseUintParam(c, "taskId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.queries.ListByTask(c.UserContext(), taskID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, result, "submissions retrieved", listMeta{Count: len(result.Submissions)})
}

func (h *SubmissionHandler) scoreEssays(c *fiber.Ctx) error {
	userID, err := parseUintParam(c, "userId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.EssayScoreRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.grading.MergeEssayScores(c.UserContext(), userID, c.Params("type"), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	if result.Failed > 0 {
		requestLogger(h.logger, c).Warn().
			Uint("user_id", userID).
			Int("failed", result.Failed).
			Msg("essay score merge finished with failures")
	}

	message := fmt.Sprintf("Updated %d essay score(s) for user %d and type '%s'", result.Updated, userID, result.Type)
	return utils.SendSuccess(c, message, result)
}

func (h *SubmissionHandler) overrideScore(c *fiber.Ctx) error {
	taskID, err := parseUintParam(c, "taskId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	userID, err := parseUintParam(c, "userId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var (
		payload  dto.ScoreOverrideRequest
		feedback *multipart.FileHeader
	)
	if isMultipart(c) {
		payload.Score = dto.FlexString(c.FormValue("score"))
		payload.Explanation = c.FormValue("explanation")
		if file, err := c.FormFile("file"); err == nil {
			feedback = file
		}
	} else if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}
	payload.Type = c.Params("type")
	payload.TaskID = taskID
	payload.UserID = userID

	submission, err := h.grading.OverrideScore(c.UserContext(), payload, feedback)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "Score and feedback updated successfully", submission)
}

// listMeta reports how many submissions a listing returned.
type listMeta struct {
	Count int `json:"count"`
}

// handleError maps service errors to HTTP statuses. Malformed answer JSON, including a
// string-encoded problemAnswer that fails to parse, is a client error (400) rather than an
// internal one.
func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTaskType),
		errors.Is(err, service.ErrTaskTypeMismatch),
		errors.Is(err, service.ErrInvalidProblemReference),
		errors.Is(err, service.ErrInvalidAnswerPayload),
		errors.Is(err, service.ErrInvalidScore),
		errors.Is(err, service.ErrUploadTooLarge),
		errors.Is(err, service.ErrUploadTypeNotAllowed):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	default:
		requestLogger(h.logger, c).Error().Err(err).Str("route", c.Path()).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

// parseCreatePayload reads answers from a multipart form, where each answer field is JSON text,
// or from a JSON body.
func parseCreatePayload(c *fiber.Ctx) (dto.SubmissionCreateRequest, service.UploadedFiles, error) {
	var payload dto.SubmissionCreateRequest

	if !isMultipart(c) {
		if len(c.Body()) == 0 {
			return payload, nil, nil
		}
		if err := c.BodyParser(&payload); err != nil {
			return payload, nil, errors.New("invalid request body")
		}
		return payload, nil, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return payload, nil, errors.New("invalid multipart form")
	}

	payload.EssayAnswers = formJSON(form, "essayAnswers")
	payload.MultipleChoiceAnswers = formJSON(form, "multipleChoiceAnswers")
	payload.ProblemAnswer = formJSON(form, "problemAnswer")

	return payload, service.UploadedFiles(form.File), nil
}

func formJSON(form *multipart.Form, key string) dto.JSONOrString {
	values := form.Value[key]
	if len(values) == 0 {
		return nil
	}
	return dto.JSONOrString(values[0])
}

func orPass(handler fiber.Handler) fiber.Handler {
	if handler != nil {
		return handler
	}
	return func(c *fiber.Ctx) error { return c.Next() }
}
