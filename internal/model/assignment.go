package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionKind enumerates assignment question kinds.
type QuestionKind string

const (
	QuestionKindFreeText       QuestionKind = "FREE_TEXT"
	QuestionKindMultipleChoice QuestionKind = "MULTIPLE_CHOICE"
)

// Assignment is the definition of what a student must answer, including the
// timing and proctoring policy. It is immutable for the duration of a session.
type Assignment struct {
	ID               uuid.UUID  `json:"id"`
	CourseID         uuid.UUID  `json:"course_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	TotalPoints      int        `json:"total_points"`
	AntiCheat        bool       `json:"anti_cheat"`
	TimeLimitMinutes int        `json:"time_limit_minutes"` // 0 = untimed
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AssignmentQuestion is a single question within an assignment.
// No correct-answer field exists: grading is manual for both kinds.
type AssignmentQuestion struct {
	ID           uuid.UUID    `json:"id"`
	AssignmentID uuid.UUID    `json:"assignment_id"`
	Kind         QuestionKind `json:"kind"`
	Prompt       string       `json:"prompt"`
	Points       int          `json:"points"`
	Options      []string     `json:"options,omitempty"` // multiple-choice only
	OrderNum     int          `json:"order_num"`
}

// AssignmentPayload is the redis-cached payload delivered to a student when a
// session starts: the definition plus its ordered questions.
type AssignmentPayload struct {
	Assignment
	Questions []AssignmentQuestion `json:"questions"`
}
