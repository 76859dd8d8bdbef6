package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// EssayAnswer is a free-text answer scored manually per question.
type EssayAnswer struct {
	QuestionID string   `json:"questionId"`
	Answer     string   `json:"answer"`
	Score      *float64 `json:"score,omitempty"`
}

// ProblemAnswer answers a group-linked problem. GroupID is always copied from the task.
type ProblemAnswer struct {
	QuestionID string          `json:"questionId"`
	Problem    json.RawMessage `json:"problem"`
	GroupID    *uint           `json:"groupId"`
	Files      []string        `json:"files"`
}

// Submission is one learner attempt at a task. Rows are append-only; grading mutates them in place.
type Submission struct {
	ID                    uint                               `gorm:"primaryKey" json:"id"`
	TaskID                uint                               `gorm:"not null;index" json:"taskId"`
	UserID                uint                               `gorm:"not null;index" json:"userId"`
	EssayAnswers          datatypes.JSONSlice[EssayAnswer]   `gorm:"type:json" json:"essayAnswers"`
	MultipleChoiceAnswers datatypes.JSON                     `gorm:"type:json" json:"multipleChoiceAnswers"`
	ProblemAnswers        datatypes.JSONSlice[ProblemAnswer] `gorm:"type:json" json:"problemAnswer"`
	Files                 datatypes.JSONSlice[string]        `gorm:"type:json" json:"files"`
	Score                 *float64                           `json:"score"`
	Explanation           string                             `gorm:"type:text" json:"explanation"`
	FeedbackFile          string                             `gorm:"size:512" json:"feedbackFile"`
	CreatedAt             time.Time                          `json:"createdAt"`
	UpdatedAt             time.Time                          `json:"updatedAt"`
	Task                  Task                               `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"task"`
	User                  User                               `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"user"`
}

// EssayScoreTotal sums the per-answer essay scores, counting unscored answers as zero.
func (s Submission) EssayScoreTotal() float64 {
	var total float64
	for _, answer := range s.EssayAnswers {
		if answer.Score != nil {
			total += *answer.Score
		}
	}
	return total
}
