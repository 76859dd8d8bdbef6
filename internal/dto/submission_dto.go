package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-task-api/internal/models"
)

// SubmissionCreateRequest is the raw learner payload. Each field may arrive as a native JSON
// value or, from multipart forms, as JSON-encoded text.
type SubmissionCreateRequest struct {
	EssayAnswers          JSONOrString `json:"essayAnswers"`
	MultipleChoiceAnswers JSONOrString `json:"multipleChoiceAnswers"`
	ProblemAnswer         JSONOrString `json:"problemAnswer"`
}

// EssayAnswerInput is an essay answer as submitted by a learner.
type EssayAnswerInput struct {
	QuestionID FlexString `json:"questionId"`
	Answer     string     `json:"answer"`
}

// ProblemAnswerInput is a problem answer as submitted by a learner. Any groupId sent by the
// client is ignored.
type ProblemAnswerInput struct {
	QuestionID FlexString      `json:"questionId"`
	Problem    json.RawMessage `json:"problem"`
}

// EssayScoreRequest carries per-question essay scores for a bulk merge.
type EssayScoreRequest struct {
	Scores []EssayScoreInput `json:"scores" validate:"dive"`
}

// EssayScoreInput scores a single essay question.
type EssayScoreInput struct {
	QuestionID FlexString `json:"questionId" validate:"required"`
	Score      *float64   `json:"score" validate:"required"`
}

// ScoreOverrideRequest sets the total score of the latest submission of a user for a task.
type ScoreOverrideRequest struct {
	Type        string     `json:"-"`
	TaskID      uint       `json:"-"`
	UserID      uint       `json:"-"`
	Score       FlexString `json:"score"`
	Explanation string     `json:"explanation"`
}

// TaskLite is the task projection embedded in submission responses.
type TaskLite struct {
	ID         uint            `json:"id"`
	Title      string          `json:"title"`
	Type       models.TaskType `json:"type"`
	Status     string          `json:"status"`
	DueDate    *time.Time      `json:"dueDate"`
	IsPretest  bool            `json:"isPretest"`
	IsPostest  bool            `json:"isPostest"`
	IsProblem  bool            `json:"isProblem"`
	IsRefleksi bool            `json:"isRefleksi"`
	IsLo       bool            `json:"isLo"`
	IsKbk      bool            `json:"isKbk"`
}

// UserLite exposes only the user fields graders need.
type UserLite struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID                    uint                   `json:"id"`
	TaskID                uint                   `json:"taskId"`
	UserID                uint                   `json:"userId"`
	EssayAnswers          []models.EssayAnswer   `json:"essayAnswers"`
	MultipleChoiceAnswers json.RawMessage        `json:"multipleChoiceAnswers"`
	ProblemAnswer         []models.ProblemAnswer `json:"problemAnswer"`
	Files                 []string               `json:"files"`
	Score                 *float64               `json:"score"`
	Explanation           string                 `json:"explanation"`
	FeedbackFile          string                 `json:"feedbackFile,omitempty"`
	CreatedAt             time.Time              `json:"createdAt"`
	UpdatedAt             time.Time              `json:"updatedAt"`
	Task                  *TaskLite              `json:"task,omitempty"`
	User                  *UserLite              `json:"user,omitempty"`
}

// UserTypeSubmissionsResponse lists a user's submissions for one task type.
type UserTypeSubmissionsResponse struct {
	UserID      uint                 `json:"userId"`
	Type        models.TaskType      `json:"type"`
	TotalTasks  int                  `json:"totalTasks"`
	Submissions []SubmissionResponse `json:"submissions"`
}

// AllSubmissionsResponse lists every submission.
type AllSubmissionsResponse struct {
	TotalSubmissions int                  `json:"totalSubmissions"`
	Submissions      []SubmissionResponse `json:"submissions"`
}

// TaskSubmissionsResponse lists submissions of one task.
type TaskSubmissionsResponse struct {
	TaskID           uint                 `json:"taskId"`
	TotalSubmissions int                  `json:"totalSubmissions"`
	Submissions      []SubmissionResponse `json:"submissions"`
}

// EssayMergeRowResult reports the outcome for one submission touched by an essay merge.
type EssayMergeRowResult struct {
	SubmissionID uint    `json:"submissionId"`
	TaskID       uint    `json:"taskId"`
	Updated      int     `json:"updated"`
	TotalScore   float64 `json:"totalScore"`
	Saved        bool    `json:"saved"`
	Error        string  `json:"error,omitempty"`
}

// EssayMergeResponse summarises an essay score merge.
type EssayMergeResponse struct {
	UserID  uint                  `json:"userId"`
	Type    models.TaskType       `json:"type"`
	Updated int                   `json:"updated"`
	Failed  int                   `json:"failed"`
	Results []EssayMergeRowResult `json:"results"`
}

// NewTaskLite projects a task down to its classification fields.
func NewTaskLite(task models.Task) TaskLite {
	return TaskLite{
		ID:         task.ID,
		Title:      task.Title,
		Type:       task.Type,
		Status:     task.Status,
		DueDate:    task.DueDate,
		IsPretest:  task.Type == models.TaskTypePretest,
		IsPostest:  task.Type == models.TaskTypePostest,
		IsProblem:  task.Type == models.TaskTypeProblem,
		IsRefleksi: task.Type == models.TaskTypeRefleksi,
		IsLo:       task.Type == models.TaskTypeLO,
		IsKbk:      task.Type == models.TaskTypeKBK,
	}
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	response := SubmissionResponse{
		ID:                    model.ID,
		TaskID:                model.TaskID,
		UserID:                model.UserID,
		EssayAnswers:          []models.EssayAnswer(model.EssayAnswers),
		MultipleChoiceAnswers: json.RawMessage(model.MultipleChoiceAnswers),
		ProblemAnswer:         make([]models.ProblemAnswer, len(model.ProblemAnswers)),
		Files:                 []string(model.Files),
		Score:                 model.Score,
		Explanation:           model.Explanation,
		FeedbackFile:          model.FeedbackFile,
		CreatedAt:             model.CreatedAt,
		UpdatedAt:             model.UpdatedAt,
	}

	if response.EssayAnswers == nil {
		response.EssayAnswers = []models.EssayAnswer{}
	}
	if len(response.MultipleChoiceAnswers) == 0 {
		response.MultipleChoiceAnswers = json.RawMessage("[]")
	}
	copy(response.ProblemAnswer, model.ProblemAnswers)
	for i := range response.ProblemAnswer {
		if response.ProblemAnswer[i].Files == nil {
			response.ProblemAnswer[i].Files = []string{}
		}
	}
	if response.Files == nil {
		response.Files = []string{}
	}

	if model.Task.ID != 0 {
		task := NewTaskLite(model.Task)
		response.Task = &task
	}

	if model.User.ID != 0 {
		response.User = &UserLite{
			ID:    model.User.ID,
			Name:  model.User.Name,
			Email: model.User.Email,
			Role:  model.User.Role,
		}
	}

	return response
}

// NewSubmissionResponseSlice converts submission models into DTOs.
func NewSubmissionResponseSlice(submissions []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, NewSubmissionResponse(submission))
	}

	return responses
}
