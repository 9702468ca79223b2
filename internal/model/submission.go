package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus enumerates the ledger states of a submission record.
type SubmissionStatus string

const (
	// SubmissionStatusSubmitted means an attempt is on record and awaiting grading.
	SubmissionStatusSubmitted SubmissionStatus = "submitted"
	// SubmissionStatusGraded means an instructor has scored the attempt.
	SubmissionStatusGraded SubmissionStatus = "graded"
	// SubmissionStatusPending means the record was reopened for one more attempt.
	SubmissionStatusPending SubmissionStatus = "pending"
)

// Answer is one (question, value) pair within a submission. Value is the typed
// text for free-text questions or the selected option string for multiple choice.
type Answer struct {
	QuestionID uuid.UUID `json:"question_id"`
	Value      string    `json:"value"`
}

// Submission is the single source of truth for one student's attempt at one
// assignment. At most one record exists per (course, assignment, student)
// triple; repeat attempts mutate the record in place, never create a sibling.
type Submission struct {
	ID                    uuid.UUID        `json:"id"`
	CourseID              uuid.UUID        `json:"course_id"`
	AssignmentID          uuid.UUID        `json:"assignment_id"`
	StudentID             int              `json:"student_id"`
	Content               string           `json:"content"`
	Answers               []Answer         `json:"answers"`
	Grade                 *float64         `json:"grade"`
	Feedback              string           `json:"feedback"`
	Status                SubmissionStatus `json:"status"`
	ResubmissionRequested bool             `json:"resubmission_requested"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// CourseSubmission is a submission row with the student identity attached,
// as listed for instructors.
type CourseSubmission struct {
	Submission
	StudentName  string `json:"student_name"`
	StudentEmail string `json:"student_email"`
}

// SubmitRequest is the payload for the create-or-update submission endpoint.
type SubmitRequest struct {
	CourseID     uuid.UUID `json:"course_id" binding:"required"`
	AssignmentID uuid.UUID `json:"assignment_id" binding:"required"`
	Content      string    `json:"content" binding:"omitempty,max=65535"`
	Answers      []Answer  `json:"answers" binding:"omitempty,dive"`
}

// GradeRequest is the payload for the instructor grading endpoint.
type GradeRequest struct {
	Grade    *float64 `json:"grade" binding:"required,min=0"`
	Feedback string   `json:"feedback" binding:"omitempty,max=65535"`
}
