package repository

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-task-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Task{}, &models.TaskProblem{}, &models.Submission{}))

	return db
}

func seedUser(t *testing.T, db *gorm.DB, name string) models.User {
	t.Helper()
	user := models.User{Name: name, Email: strings.ToLower(name) + "@example.com", Role: "member"}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func seedTask(t *testing.T, db *gorm.DB, title string, taskType models.TaskType, problems ...models.TaskProblem) models.Task {
	t.Helper()
	task := models.Task{Title: title, Type: taskType, Status: models.TaskStatusPending, Problems: problems}
	require.NoError(t, db.Create(&task).Error)
	return task
}
