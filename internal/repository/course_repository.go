package repository

import (
	"context"
	"errors"

	"github.com/coursely/coursely-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CourseRepository provides the read-only course and enrollment lookups this
// service needs for ownership and access checks. Course authoring lives in a
// separate subsystem that shares the same database.
type CourseRepository struct {
	pool *pgxpool.Pool
}

// NewCourseRepository creates a new CourseRepository.
func NewCourseRepository(pool *pgxpool.Pool) *CourseRepository {
	return &CourseRepository{pool: pool}
}

// GetByID retrieves a course by its UUID.
func (r *CourseRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Course, error) {
	c := &model.Course{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, instructor_id, created_at
		 FROM courses
		 WHERE id = $1`, id,
	).Scan(&c.ID, &c.Title, &c.InstructorID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// IsInstructor reports whether the user owns the course.
func (r *CourseRepository) IsInstructor(ctx context.Context, courseID uuid.UUID, userID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM courses WHERE id = $1 AND instructor_id = $2
		 )`, courseID, userID,
	).Scan(&exists)
	return exists, err
}

// IsEnrolled reports whether the student is enrolled in the course.
func (r *CourseRepository) IsEnrolled(ctx context.Context, courseID uuid.UUID, studentID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM enrollments WHERE course_id = $1 AND student_id = $2
		 )`, courseID, studentID,
	).Scan(&exists)
	return exists, err
}
