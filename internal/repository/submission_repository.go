package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coursely/coursely-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubmissionRepository handles submission ledger data access.
//
// The (course_id, assignment_id, student_id) triple carries a UNIQUE
// constraint in the schema, so duplicate-create races are resolved by
// PostgreSQL itself: Create uses ON CONFLICT DO NOTHING and reports the
// losing side as ErrDuplicate for the service to fall back to an update.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

const submissionColumns = `id, course_id, assignment_id, student_id, content, answers,
	grade, feedback, status, resubmission_requested, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
	s := &model.Submission{}
	var answersJSON []byte
	err := row.Scan(
		&s.ID, &s.CourseID, &s.AssignmentID, &s.StudentID, &s.Content, &answersJSON,
		&s.Grade, &s.Feedback, &s.Status, &s.ResubmissionRequested, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(answersJSON) > 0 {
		if err := json.Unmarshal(answersJSON, &s.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
	}
	return s, nil
}

func marshalAnswers(answers []model.Answer) ([]byte, error) {
	if answers == nil {
		answers = []model.Answer{}
	}
	return json.Marshal(answers)
}

// GetByTriple retrieves the single record for a (course, assignment, student) triple.
func (r *SubmissionRepository) GetByTriple(ctx context.Context, courseID, assignmentID uuid.UUID, studentID int) (*model.Submission, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+`
		 FROM submissions
		 WHERE course_id = $1 AND assignment_id = $2 AND student_id = $3`,
		courseID, assignmentID, studentID,
	)
	return scanSubmission(row)
}

// GetByID retrieves a submission by its UUID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id,
	)
	return scanSubmission(row)
}

// Create inserts a new submission record with status=submitted.
// Returns ErrDuplicate if a record for the triple already exists — including
// when a concurrent create won the race between our existence check and this
// insert. The caller must then fall back to UpdateAttempt.
func (r *SubmissionRepository) Create(ctx context.Context, s *model.Submission) error {
	answersJSON, err := marshalAnswers(s.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO submissions (course_id, assignment_id, student_id, content, answers, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (course_id, assignment_id, student_id) DO NOTHING
		 RETURNING id, status, resubmission_requested, created_at, updated_at`,
		s.CourseID, s.AssignmentID, s.StudentID, s.Content, answersJSON, model.SubmissionStatusSubmitted,
	).Scan(&s.ID, &s.Status, &s.ResubmissionRequested, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// UpdateAttempt overwrites content/answers in place for a repeat attempt,
// resets status to submitted and clears the resubmission flag.
func (r *SubmissionRepository) UpdateAttempt(ctx context.Context, id uuid.UUID, content string, answers []model.Answer) (*model.Submission, error) {
	answersJSON, err := marshalAnswers(answers)
	if err != nil {
		return nil, fmt.Errorf("marshal answers: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET content = $1, answers = $2, status = $3, resubmission_requested = FALSE, updated_at = NOW()
		 WHERE id = $4
		 RETURNING `+submissionColumns,
		content, answersJSON, model.SubmissionStatusSubmitted, id,
	)
	return scanSubmission(row)
}

// SetGrade records an instructor's grade and feedback, moves the record to
// graded and clears any pending resubmission request.
func (r *SubmissionRepository) SetGrade(ctx context.Context, id uuid.UUID, grade float64, feedback string) (*model.Submission, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET grade = $1, feedback = $2, status = $3, resubmission_requested = FALSE, updated_at = NOW()
		 WHERE id = $4
		 RETURNING `+submissionColumns,
		grade, feedback, model.SubmissionStatusGraded, id,
	)
	return scanSubmission(row)
}

// SetResubmissionRequested flags the record; status is untouched.
func (r *SubmissionRepository) SetResubmissionRequested(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET resubmission_requested = TRUE, updated_at = NOW()
		 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reopen moves the record to pending and clears the resubmission flag.
// This is the only transition that reopens a closed record for another attempt.
func (r *SubmissionRepository) Reopen(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET status = $1, resubmission_requested = FALSE, updated_at = NOW()
		 WHERE id = $2
		 RETURNING `+submissionColumns,
		model.SubmissionStatusPending, id,
	)
	return scanSubmission(row)
}

// ListByStudent retrieves all submissions for a student, optionally filtered
// by course, newest first.
func (r *SubmissionRepository) ListByStudent(ctx context.Context, studentID int, courseID *uuid.UUID) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + `
		 FROM submissions
		 WHERE student_id = $1`
	args := []any{studentID}

	if courseID != nil {
		args = append(args, *courseID)
		query += fmt.Sprintf(" AND course_id = $%d", len(args))
	}
	query += " ORDER BY updated_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, *s)
	}
	return submissions, rows.Err()
}

// ListByCourse retrieves all submissions for a course with student identity
// attached, paginated, for the instructor review view.
func (r *SubmissionRepository) ListByCourse(ctx context.Context, courseID uuid.UUID, page, perPage int) ([]model.CourseSubmission, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE course_id = $1`, courseID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.course_id, s.assignment_id, s.student_id, s.content, s.answers,
			s.grade, s.feedback, s.status, s.resubmission_requested, s.created_at, s.updated_at,
			u.name, u.email
		 FROM submissions s
		 JOIN users u ON s.student_id = u.id
		 WHERE s.course_id = $1
		 ORDER BY u.name ASC, s.updated_at DESC
		 LIMIT $2 OFFSET $3`,
		courseID, perPage, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []model.CourseSubmission
	for rows.Next() {
		var cs model.CourseSubmission
		var answersJSON []byte
		if err := rows.Scan(
			&cs.ID, &cs.CourseID, &cs.AssignmentID, &cs.StudentID, &cs.Content, &answersJSON,
			&cs.Grade, &cs.Feedback, &cs.Status, &cs.ResubmissionRequested, &cs.CreatedAt, &cs.UpdatedAt,
			&cs.StudentName, &cs.StudentEmail,
		); err != nil {
			return nil, 0, err
		}
		if len(answersJSON) > 0 {
			if err := json.Unmarshal(answersJSON, &cs.Answers); err != nil {
				return nil, 0, fmt.Errorf("unmarshal answers: %w", err)
			}
		}
		results = append(results, cs)
	}

	return results, total, rows.Err()
}
