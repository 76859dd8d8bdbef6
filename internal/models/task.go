package models

import (
	"strconv"
	"strings"
	"time"
)

// TaskType classifies a task. A task carries exactly one type; the zero value marks an untyped task.
type TaskType string

const (
	TaskTypePretest  TaskType = "pretest"
	TaskTypePostest  TaskType = "postest"
	TaskTypeProblem  TaskType = "problem"
	TaskTypeRefleksi TaskType = "refleksi"
	TaskTypeLO       TaskType = "lo"
	TaskTypeKBK      TaskType = "kbk"
)

// TaskTypes lists every recognised task type in display order.
var TaskTypes = []TaskType{
	TaskTypePretest,
	TaskTypePostest,
	TaskTypeProblem,
	TaskTypeRefleksi,
	TaskTypeLO,
	TaskTypeKBK,
}

// ParseTaskType resolves a request token into a TaskType.
func ParseTaskType(token string) (TaskType, bool) {
	candidate := TaskType(strings.ToLower(strings.TrimSpace(token)))
	if candidate.Valid() {
		return candidate, true
	}
	return "", false
}

// Valid reports whether t is one of the recognised task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypePretest, TaskTypePostest, TaskTypeProblem, TaskTypeRefleksi, TaskTypeLO, TaskTypeKBK:
		return true
	default:
		return false
	}
}

// EssayScored reports whether essay answers of this type are scored per question.
func (t TaskType) EssayScored() bool {
	return t == TaskTypePretest || t == TaskTypePostest || t == TaskTypeRefleksi
}

// CarriesFeedback reports whether grading this type records an explanation and feedback file.
func (t TaskType) CarriesFeedback() bool {
	return t == TaskTypeLO || t == TaskTypeKBK
}

// Task status values.
const (
	TaskStatusPending    = "Pending"
	TaskStatusInProgress = "In Progress"
	TaskStatusCompleted  = "Completed"
)

// Task is an assignment definition. It is owned by the task catalog; the submission
// workflow only reads it and flips Status once a submission is graded.
type Task struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	Title       string        `gorm:"size:255;not null" json:"title"`
	Description string        `gorm:"type:text" json:"description"`
	Type        TaskType      `gorm:"size:16;index" json:"type"`
	Status      string        `gorm:"size:32;not null;default:Pending" json:"status"`
	DueDate     *time.Time    `json:"dueDate"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Problems    []TaskProblem `gorm:"foreignKey:TaskID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"problem"`
}

// HasType reports whether the task is classified as the given type.
func (t Task) HasType(taskType TaskType) bool {
	return taskType.Valid() && t.Type == taskType
}

// FindProblem looks up a problem entry by its identifier as sent by clients.
func (t Task) FindProblem(questionID string) (TaskProblem, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(questionID), 10, 64)
	if err != nil {
		return TaskProblem{}, false
	}
	for _, problem := range t.Problems {
		if uint64(problem.ID) == id {
			return problem, true
		}
	}
	return TaskProblem{}, false
}

// TaskProblem is a group-linked sub-question of a problem task.
type TaskProblem struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	TaskID   uint   `gorm:"not null;index" json:"taskId"`
	Question string `gorm:"type:text" json:"question"`
	GroupID  *uint  `json:"groupId"`
}
