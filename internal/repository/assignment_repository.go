package repository

import (
	"context"
	"errors"

	"github.com/coursely/coursely-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AssignmentRepository reads assignment definitions. Definitions are owned by
// the course-authoring subsystem and treated as immutable here.
type AssignmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

// GetByID retrieves an assignment definition by its UUID.
func (r *AssignmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Assignment, error) {
	a := &model.Assignment{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, course_id, title, description, due_date, total_points,
			anti_cheat, time_limit_minutes, created_at, updated_at
		 FROM assignments
		 WHERE id = $1`, id,
	).Scan(&a.ID, &a.CourseID, &a.Title, &a.Description, &a.DueDate, &a.TotalPoints,
		&a.AntiCheat, &a.TimeLimitMinutes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListQuestions retrieves an assignment's questions in display order.
func (r *AssignmentRepository) ListQuestions(ctx context.Context, assignmentID uuid.UUID) ([]model.AssignmentQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, assignment_id, kind, prompt, points, COALESCE(options, '{}'), order_num
		 FROM assignment_questions
		 WHERE assignment_id = $1
		 ORDER BY order_num ASC`, assignmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.AssignmentQuestion
	for rows.Next() {
		var q model.AssignmentQuestion
		if err := rows.Scan(&q.ID, &q.AssignmentID, &q.Kind, &q.Prompt, &q.Points, &q.Options, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ListAll retrieves every assignment definition, used for cache prewarming.
func (r *AssignmentRepository) ListAll(ctx context.Context) ([]model.Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, course_id, title, description, due_date, total_points,
			anti_cheat, time_limit_minutes, created_at, updated_at
		 FROM assignments
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []model.Assignment
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.ID, &a.CourseID, &a.Title, &a.Description, &a.DueDate, &a.TotalPoints,
			&a.AntiCheat, &a.TimeLimitMinutes, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}
