package model

import (
	"time"

	"github.com/google/uuid"
)

// Course is the read-only projection of a course this service needs.
// Authoring and catalog browsing live in a separate subsystem; here a course
// only anchors assignment ownership and enrollment checks.
type Course struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	InstructorID int       `json:"instructor_id"`
	CreatedAt    time.Time `json:"created_at"`
}
