package performance_test

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
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

func setupListingPerformanceApp(t *testing.T) (*fiber.App, uint) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:perf_listing?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Task{}, &models.TaskProblem{}, &models.Submission{}))

	learner := models.User{Name: "Ani", Email: "ani@example.com", Role: "student"}
	require.NoError(t, db.Create(&learner).Error)

	// Seed dataset
	now := time.Now().UTC()
	score := 7.0
	for idx, taskType := range models.TaskTypes {
		task := models.Task{Title: fmt.Sprintf("Module %d", idx+1), Type: taskType, Status: models.TaskStatusPending}
		require.NoError(t, db.Create(&task).Error)

		for attempt := 0; attempt < 20; attempt++ {
			submission := models.Submission{
				TaskID: task.ID,
				UserID: learner.ID,
				EssayAnswers: datatypes.NewJSONSlice([]models.EssayAnswer{
					{QuestionID: "q1", Answer: "answer", Score: &score},
				}),
				Files:     datatypes.NewJSONSlice([]string{"https://files.test/evidence.png"}),
				CreatedAt: now.Add(time.Duration(attempt) * time.Minute),
				UpdatedAt: now.Add(time.Duration(attempt) * time.Minute),
			}
			require.NoError(t, db.Omit("Task", "User").Create(&submission).Error)
		}
	}

	logger := zerolog.Nop()
	submissionRepo := repository.NewSubmissionRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	gate := service.NewTypeGate(taskRepo)
	publisher := events.NopPublisher()
	validate := validator.New(validator.WithRequiredStructEnabled())

	normalizer := service.NewAnswerNormalizer(nil, 5, logger)
	submissionService := service.NewSubmissionService(submissionRepo, gate, normalizer, publisher, logger)
	gradingService := service.NewGradingService(submissionRepo, taskRepo, gate, nil, validate, publisher, service.GradingOptions{MaxUploadMB: 5}, logger)
	queryService := service.NewSubmissionQueryService(submissionRepo, gate, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test"}, router.Dependencies{
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, gradingService, queryService, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			c.Locals(middleware.LocalUserID, learner.ID)
			c.Locals(middleware.LocalUserRole, "student")
			return c.Next()
		},
	})

	return app, learner.ID
}

func TestUserTypeListingP95LatencyBelow250ms(t *testing.T) {
	app, userID := setupListingPerformanceApp(t)

	runs := 40
	durations := make([]time.Duration, 0, runs)

	for i := 0; i < runs; i++ {
		taskType := models.TaskTypes[i%len(models.TaskTypes)]
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/task-submissions/%s/user/%d", taskType, userID), nil)
		start := time.Now()
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		durations = append(durations, time.Since(start))
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	index := int(math.Ceil(0.95*float64(len(durations)))) - 1
	if index < 0 {
		index = 0
	}
	p95 := durations[index]

	require.LessOrEqual(t, p95, 250*time.Millisecond)
}
