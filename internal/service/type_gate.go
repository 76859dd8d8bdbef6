package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-task-api/internal/models"
	"github.com/noah-isme/gema-task-api/internal/repository"
)

// TypeGate checks that a request's type token is recognised and matches the task's classification.
type TypeGate struct {
	tasks repository.TaskRepository
}

// NewTypeGate builds a TypeGate over the task catalog.
func NewTypeGate(tasks repository.TaskRepository) *TypeGate {
	return &TypeGate{tasks: tasks}
}

// ParseType validates a type token.
func (g *TypeGate) ParseType(token string) (models.TaskType, error) {
	taskType, ok := models.ParseTaskType(token)
	if !ok {
		return "", fmt.Errorf("%w: type must be one of: pretest, postest, problem, refleksi, lo, kbk", ErrInvalidTaskType)
	}
	return taskType, nil
}

// Check reports ErrTaskTypeMismatch when the task is not classified as taskType.
func (g *TypeGate) Check(task models.Task, taskType models.TaskType) error {
	if task.HasType(taskType) {
		return nil
	}
	return fmt.Errorf("%w: this task is not marked as %s", ErrTaskTypeMismatch, typeLabel(taskType))
}

// Resolve parses the token, loads the task and checks its classification, in that order.
func (g *TypeGate) Resolve(ctx context.Context, token string, taskID uint) (models.Task, models.TaskType, error) {
	taskType, err := g.ParseType(token)
	if err != nil {
		return models.Task{}, "", err
	}

	task, err := g.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Task{}, "", ErrTaskNotFound
		}
		return models.Task{}, "", err
	}

	if err := g.Check(task, taskType); err != nil {
		return models.Task{}, "", err
	}

	return task, taskType, nil
}

func typeLabel(taskType models.TaskType) string {
	if taskType.CarriesFeedback() {
		return "a " + strings.ToUpper(string(taskType))
	}
	return "a " + string(taskType)
}
