package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-task-api/internal/config"
	"github.com/noah-isme/gema-task-api/internal/events"
	"github.com/noah-isme/gema-task-api/internal/handler"
	"github.com/noah-isme/gema-task-api/internal/middleware"
	"github.com/noah-isme/gema-task-api/internal/models"
	"github.com/noah-isme/gema-task-api/internal/repository"
	"github.com/noah-isme/gema-task-api/internal/router"
	"github.com/noah-isme/gema-task-api/internal/service"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

type submissionTestUploader struct {
	mu    sync.Mutex
	names []string
}

func (s *submissionTestUploader) Upload(_ context.Context, name string, reader io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	return "http://files.test/uploads/" + name, nil
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Details map[string]string `json:"details"`
	Meta    struct {
		Count int `json:"count"`
	} `json:"meta"`
}

type submissionTestApp struct {
	app      *fiber.App
	db       *gorm.DB
	uploader *submissionTestUploader
}

// testIdentity stands in for JWT verification: X-Test-User and X-Test-Role become the caller.
func testIdentity(c *fiber.Ctx) error {
	if raw := c.Get("X-Test-User"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fiber.ErrUnauthorized
		}
		c.Locals(middleware.LocalUserID, uint(id))
	}
	if role := c.Get("X-Test-Role"); role != "" {
		c.Locals(middleware.LocalUserRole, role)
	}
	return c.Next()
}

func setupSubmissionApp(t *testing.T) *submissionTestApp {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:handler_%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Task{}, &models.TaskProblem{}, &models.Submission{}))

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)
	uploader := &submissionTestUploader{}

	submissionRepo := repository.NewSubmissionRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	gate := service.NewTypeGate(taskRepo)
	publisher := events.NopPublisher()

	normalizer := service.NewAnswerNormalizer(uploader, 5, logger)
	submissionService := service.NewSubmissionService(submissionRepo, gate, normalizer, publisher, logger)
	gradingService := service.NewGradingService(submissionRepo, taskRepo, gate, uploader, validate, publisher, service.GradingOptions{MaxUploadMB: 5}, logger)
	queryService := service.NewSubmissionQueryService(submissionRepo, gate, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret"}, router.Dependencies{
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, gradingService, queryService, logger),
		JWTMiddleware:     testIdentity,
	})

	return &submissionTestApp{app: app, db: db, uploader: uploader}
}

func (a *submissionTestApp) seedUser(t *testing.T, name, role string) models.User {
	t.Helper()
	user := models.User{Name: name, Email: strings.ToLower(name) + "@example.com", Role: role}
	require.NoError(t, a.db.Create(&user).Error)
	return user
}

func (a *submissionTestApp) seedTask(t *testing.T, title string, taskType models.TaskType, problems ...models.TaskProblem) models.Task {
	t.Helper()
	task := models.Task{Title: title, Type: taskType, Status: models.TaskStatusPending, Problems: problems}
	require.NoError(t, a.db.Create(&task).Error)
	return task
}

type caller struct {
	id   uint
	role string
}

func (a *submissionTestApp) do(t *testing.T, who caller, req *http.Request) (*http.Response, envelope) {
	t.Helper()
	if who.id != 0 {
		req.Header.Set("X-Test-User", strconv.FormatUint(uint64(who.id), 10))
	}
	if who.role != "" {
		req.Header.Set("X-Test-Role", who.role)
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload envelope
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &payload), string(body))
	}
	return resp, payload
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	}
	return req
}

type formFile struct {
	field string
	name  string
	data  []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(file.field, file.name)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestSubmissionHandlerCreateMultipartProblem(t *testing.T) {
	env := setupSubmissionApp(t)
	learner := env.seedUser(t, "Putri", "student")
	task := env.seedTask(t, "Studi Kasus", models.TaskTypeProblem, models.TaskProblem{Question: "Normalise the table", GroupID: uintPtr(3)})

	req := multipartRequest(t, fmt.Sprintf("/api/task-submissions/problem/%d", task.ID), map[string]string{
		"problemAnswer": fmt.Sprintf(`[{"questionId":"%d","problem":"1NF then 2NF","groupId":77}]`, task.Problems[0].ID),
	}, formFile{field: "problemAnswer[0][files]", name: "erd.png", data: pngBytes})

	resp, payload := env.do(t, caller{id: learner.ID, role: "student"}, req)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.True(t, payload.Success)
	require.Equal(t, "Task submitted successfully", payload.Message)

	var data struct {
		ProblemAnswer []struct {
			GroupID *uint    `json:"groupId"`
			Files   []string `json:"files"`
		} `json:"problemAnswer"`
		Task struct {
			IsProblem bool `json:"isProblem"`
		} `json:"task"`
	}
	require.NoError(t, json.Unmarshal(payload.Data, &data))
	require.Len(t, data.ProblemAnswer, 1)
	require.Equal(t, uint(3), *data.ProblemAnswer[0].GroupID)
	require.Equal(t, []string{"http://files.test/uploads/erd.png"}, data.ProblemAnswer[0].Files)
	require.True(t, data.Task.IsProblem)
}

func TestSubmissionHandlerCreateJSONBody(t *testing.T) {
	env := setupSubmissionApp(t)
	learner := env.seedUser(t, "Rudi", "student")
	task := env.seedTask(t, "Pretest", models.TaskTypePretest)

	req := jsonRequest(t, http.MethodPost, fmt.Sprintf("/api/task-submissions/pretest/%d", task.ID), map[string]interface{}{
		"essayAnswers":          []map[string]interface{}{{"questionId": 1, "answer": "TCP is reliable", "score": 10}},
		"multipleChoiceAnswers": `[{"questionId":"m1","answer":"C"}]`,
	})

	resp, payload := env.do(t, caller{id: learner.ID, role: "student"}, req)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var data struct {
		EssayAnswers []struct {
			QuestionID string   `json:"questionId"`
			Score      *float64 `json:"score"`
		} `json:"essayAnswers"`
		MultipleChoiceAnswers []map[string]string `json:"multipleChoiceAnswers"`
	}
	require.NoError(t, json.Unmarshal(payload.Data, &data))
	require.Equal(t, "1", data.EssayAnswers[0].QuestionID)
	require.Nil(t, data.EssayAnswers[0].Score)
	require.Equal(t, "C", data.MultipleChoiceAnswers[0]["answer"])
}

func TestSubmissionHandlerCreateErrors(t *testing.T) {
	env := setupSubmissionApp(t)
	learner := env.seedUser(t, "Sinta", "student")
	task := env.seedTask(t, "Refleksi", models.TaskTypeRefleksi)
	who := caller{id: learner.ID, role: "student"}

	cases := []struct {
		name    string
		path    string
		who     caller
		status  int
		message string
	}{
		{name: "anonymous", path: fmt.Sprintf("/api/task-submissions/refleksi/%d", task.ID), status: fiber.StatusUnauthorized},
		{name: "unknown type", path: fmt.Sprintf("/api/task-submissions/quiz/%d", task.ID), who: who, status: fiber.StatusBadRequest, message: "invalid task type"},
		{name: "missing task", path: "/api/task-submissions/refleksi/9999", who: who, status: fiber.StatusNotFound, message: "task not found"},
		{name: "type mismatch", path: fmt.Sprintf("/api/task-submissions/lo/%d", task.ID), who: who, status: fiber.StatusBadRequest, message: "this task is not marked as a LO"},
		{name: "bad task id", path: "/api/task-submissions/refleksi/abc", who: who, status: fiber.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, payload := env.do(t, tc.who, jsonRequest(t, http.MethodPost, tc.path, map[string]interface{}{}))
			require.Equal(t, tc.status, resp.StatusCode)
			require.False(t, payload.Success)
			if tc.message != "" {
				require.Contains(t, payload.Message, tc.message)
			}
		})
	}

	var count int64
	require.NoError(t, env.db.Model(&models.Submission{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestSubmissionHandlerCreateMalformedProblemAnswerIsBadRequest(t *testing.T) {
	env := setupSubmissionApp(t)
	learner := env.seedUser(t, "Wulan", "student")
	task := env.seedTask(t, "Studi Kasus", models.TaskTypeProblem, models.TaskProblem{Question: "p1"})

	req := multipartRequest(t, fmt.Sprintf("/api/task-submissions/problem/%d", task.ID), map[string]string{
		"problemAnswer": `[{"questionId":"1","problem":`,
	})
	resp, payload := env.do(t, caller{id: learner.ID, role: "student"}, req)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Contains(t, payload.Message, "invalid answer payload")

	var count int64
	require.NoError(t, env.db.Model(&models.Submission{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestSubmissionHandlerScoreEssays(t *testing.T) {
	env := setupSubmissionApp(t)
	learner := env.seedUser(t, "Tari", "student")
	teacher := env.seedUser(t, "Pak Budi", "teacher")
	task := env.seedTask(t, "Postest", models.TaskTypePostest)

	create := jsonRequest(t, http.MethodPost, fmt.Sprintf("/api/task-submissions/postest/%d", task.ID), map[string]interface{}{
		"essayAnswers": `[{"questionId":"q1","answer":"a"},{"questionId":"q2","answer":"b"}]`,
	})
	resp, _ := env.do(t, caller{id: learner.ID, role: "student"}, create)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	path := fmt.Sprintf("/api/task-submissions/score-essay/postest/%d", learner.ID)
	body := map[string]interface{}{"scores": []map[string]interface{}{
		{"questionId": "q1", "score": 40},
		{"questionId": "q2", "score": 35.5},
	}}

	resp, _ = env.do(t, caller{id: learner.ID, role: "student"}, jsonRequest(t, http.MethodPost, path, body))
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, payload := env.do(t, caller{id: teacher.ID, role: "teacher"}, jsonRequest(t, http.MethodPost, path, body))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, fmt.Sprintf("Updated 2 essay score(s) for user %d and type 'postest'", learner.ID), payload.Message)

	var stored models.Submission
	require.NoError(t, env.db.Where("user_id = ?", learner.ID).First(&stored).Error)
	require.Equal(t, 75.5, *stored.Score)
}

func TestSubmissionHandlerScoreEssaysValidation(t *testing.T) {
	env := setupSubmissionApp(t)
	learner := env.seedUser(t, "Umar", "student")

	path := fmt.Sprintf("/api/task-submissions/score-essay/pretest/%d", learner.ID)
	resp, payload := env.do(t, caller{id: 1, role: "admin"}, jsonRequest(t, http.MethodPost, path, map[string]interface{}{
		"scores": []map[string]interface{}{{"questionId": "q1"}},
	}))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "validation failed", payload.Message)
	require.NotEmpty(t, payload.Details)

	resp, _ = env.do(t, caller{id: 1, role: "admin"}, jsonRequest(t, http.MethodPost,
		fmt.Sprintf("/api/task-submissions/score-essay/kbk/%d", learner.ID), map[string]interface{}{"scores": []interface{}{}}))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSubmissionHandlerOverrideScoreMultipart(t *testing.T) {
	env := setupSubmissionApp(t)
	learner := env.seedUser(t, "Vina", "student")
	task := env.seedTask(t, "LO Review", models.TaskTypeLO)

	resp, _ := env.do(t, caller{id: learner.ID, role: "student"}, jsonRequest(t, http.MethodPost, fmt.Sprintf("/api/task-submissions/lo/%d", task.ID), nil))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	path := fmt.Sprintf("/api/task-submissions/lo/%d/score/%d", task.ID, learner.ID)
	req := multipartRequest(t, path, map[string]string{
		"score":       " 88 ",
		"explanation": "Clear <script>alert(1)</script>outcomes",
	}, formFile{field: "file", name: "rubric.png", data: pngBytes})

	resp, payload := env.do(t, caller{id: 2, role: "admin"}, req)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "Score and feedback updated successfully", payload.Message)

	var data struct {
		Score        float64 `json:"score"`
		Explanation  string  `json:"explanation"`
		FeedbackFile string  `json:"feedbackFile"`
		Task         struct {
			Status string `json:"status"`
		} `json:"task"`
	}
	require.NoError(t, json.Unmarshal(payload.Data, &data))
	require.Equal(t, 88.0, data.Score)
	require.NotContains(t, data.Explanation, "<script>")
	require.Equal(t, "http://files.test/uploads/rubric.png", data.FeedbackFile)
	require.Equal(t, models.TaskStatusCompleted, data.Task.Status)
}

func TestSubmissionHandlerOverrideScoreErrors(t *testing.T) {
	env := setupSubmissionApp(t)
	learner := env.seedUser(t, "Wawan", "student")
	task := env.seedTask(t, "KBK", models.TaskTypeKBK)
	admin := caller{id: 1, role: "admin"}

	path := fmt.Sprintf("/api/task-submissions/kbk/%d/score/%d", task.ID, learner.ID)
	resp, payload := env.do(t, admin, jsonRequest(t, http.MethodPost, path, map[string]interface{}{"score": 90}))
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.Contains(t, payload.Message, "submission not found")

	resp, _ = env.do(t, caller{id: learner.ID, role: "student"}, jsonRequest(t, http.MethodPost, fmt.Sprintf("/api/task-submissions/kbk/%d", task.ID), nil))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, payload = env.do(t, admin, jsonRequest(t, http.MethodPost, path, map[string]interface{}{"score": "ninety"}))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "score must be a valid number", payload.Message)

	resp, _ = env.do(t, admin, jsonRequest(t, http.MethodPost, path, map[string]interface{}{"score": "90", "explanation": "ok"}))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestSubmissionHandlerListings(t *testing.T) {
	env := setupSubmissionApp(t)
	learner := env.seedUser(t, "Yusuf", "student")
	classmate := env.seedUser(t, "Zahra", "student")
	pretest := env.seedTask(t, "Pretest", models.TaskTypePretest)
	untyped := env.seedTask(t, "Legacy", "")

	resp, _ := env.do(t, caller{id: learner.ID, role: "student"}, jsonRequest(t, http.MethodPost, fmt.Sprintf("/api/task-submissions/pretest/%d", pretest.ID), nil))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.NoError(t, env.db.Omit("Task", "User").Create(&models.Submission{TaskID: untyped.ID, UserID: learner.ID}).Error)

	ownPath := fmt.Sprintf("/api/task-submissions/pretest/user/%d", learner.ID)
	resp, payload := env.do(t, caller{id: learner.ID, role: "student"}, httptest.NewRequest(http.MethodGet, ownPath, nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var byType struct {
		TotalTasks int `json:"totalTasks"`
	}
	require.NoError(t, json.Unmarshal(payload.Data, &byType))
	require.Equal(t, 1, byType.TotalTasks)
	require.Equal(t, 1, payload.Meta.Count)

	resp, _ = env.do(t, caller{id: classmate.ID, role: "student"}, httptest.NewRequest(http.MethodGet, ownPath, nil))
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, caller{id: learner.ID, role: "student"}, httptest.NewRequest(http.MethodGet, "/api/task-submissions", nil))
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, payload = env.do(t, caller{id: 1, role: "teacher"}, httptest.NewRequest(http.MethodGet, "/api/task-submissions", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var all struct {
		TotalSubmissions int `json:"totalSubmissions"`
	}
	require.NoError(t, json.Unmarshal(payload.Data, &all))
	require.Equal(t, 2, all.TotalSubmissions)
	require.Equal(t, 2, payload.Meta.Count)

	resp, payload = env.do(t, caller{id: 1, role: "teacher"}, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/task-submissions/task/%d", pretest.ID), nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var byTask struct {
		TaskID           uint `json:"taskId"`
		TotalSubmissions int  `json:"totalSubmissions"`
	}
	require.NoError(t, json.Unmarshal(payload.Data, &byTask))
	require.Equal(t, pretest.ID, byTask.TaskID)
	require.Equal(t, 1, byTask.TotalSubmissions)
	require.Equal(t, 1, payload.Meta.Count)

	resp, _ = env.do(t, caller{id: 1, role: "teacher"}, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/task-submissions/exam/user/%d", learner.ID), nil))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func uintPtr(v uint) *uint {
	return &v
}
