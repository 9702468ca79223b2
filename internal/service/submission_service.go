package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/coursely/coursely-backend/internal/model"
	"github.com/coursely/coursely-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Domain errors surfaced by the submission service.
var (
	ErrNotEnrolled         = errors.New("student not enrolled in course")
	ErrNotCourseInstructor = errors.New("user does not own this course")
	ErrSubmissionClosed    = errors.New("submission already graded")
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrAlreadyReopened     = errors.New("submission is already reopened")
)

// SubmissionStore is the persistence surface the submission service needs.
// *repository.SubmissionRepository satisfies it.
type SubmissionStore interface {
	GetByTriple(ctx context.Context, courseID, assignmentID uuid.UUID, studentID int) (*model.Submission, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	Create(ctx context.Context, s *model.Submission) error
	UpdateAttempt(ctx context.Context, id uuid.UUID, content string, answers []model.Answer) (*model.Submission, error)
	SetGrade(ctx context.Context, id uuid.UUID, grade float64, feedback string) (*model.Submission, error)
	SetResubmissionRequested(ctx context.Context, id uuid.UUID) error
	Reopen(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	ListByStudent(ctx context.Context, studentID int, courseID *uuid.UUID) ([]model.Submission, error)
	ListByCourse(ctx context.Context, courseID uuid.UUID, page, perPage int) ([]model.CourseSubmission, int64, error)
}

// CourseStore provides the enrollment and ownership checks.
// *repository.CourseRepository satisfies it.
type CourseStore interface {
	IsInstructor(ctx context.Context, courseID uuid.UUID, userID int) (bool, error)
	IsEnrolled(ctx context.Context, courseID uuid.UUID, studentID int) (bool, error)
}

// Notifier delivers user-facing notifications without blocking the caller.
// *NotificationService satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, userID int, message string, kind model.NotificationKind, link string)
}

// SubmissionService owns the submission ledger: at most one record per
// (course, assignment, student) triple, with every attempt, grade, and
// resubmission round folded into that record in place.
type SubmissionService struct {
	subs     SubmissionStore
	courses  CourseStore
	notifier Notifier
	log      zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(subs SubmissionStore, courses CourseStore, notifier Notifier, log zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		subs:     subs,
		courses:  courses,
		notifier: notifier,
		log:      log.With().Str("component", "submission_service").Logger(),
	}
}

// Submit records a student's attempt. If no record exists for the triple, one
// is created; if one exists and is open (submitted or pending), its content and
// answers are replaced; if it is graded, the attempt is rejected until an
// instructor reopens it. Creation relies on the unique index on the triple, so
// two concurrent first attempts converge on one record instead of forking.
func (s *SubmissionService) Submit(ctx context.Context, studentID int, req *model.SubmitRequest) (*model.Submission, error) {
	enrolled, err := s.courses.IsEnrolled(ctx, req.CourseID, studentID)
	if err != nil {
		return nil, fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		return nil, ErrNotEnrolled
	}

	existing, err := s.subs.GetByTriple(ctx, req.CourseID, req.AssignmentID, studentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup submission: %w", err)
	}

	if existing == nil {
		sub := &model.Submission{
			CourseID:     req.CourseID,
			AssignmentID: req.AssignmentID,
			StudentID:    studentID,
			Content:      req.Content,
			Answers:      req.Answers,
			Status:       model.SubmissionStatusSubmitted,
		}
		err := s.subs.Create(ctx, sub)
		if err == nil {
			s.log.Info().
				Str("submission_id", sub.ID.String()).
				Int("student_id", studentID).
				Msg("Submission created")
			return sub, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("create submission: %w", err)
		}
		// Lost the insert race: another request created the record between
		// our lookup and insert. Fall through and update that record.
		existing, err = s.subs.GetByTriple(ctx, req.CourseID, req.AssignmentID, studentID)
		if err != nil {
			return nil, fmt.Errorf("refetch submission: %w", err)
		}
	}

	if existing.Status == model.SubmissionStatusGraded {
		return nil, ErrSubmissionClosed
	}

	updated, err := s.subs.UpdateAttempt(ctx, existing.ID, req.Content, req.Answers)
	if err != nil {
		return nil, fmt.Errorf("update submission: %w", err)
	}
	s.log.Info().
		Str("submission_id", updated.ID.String()).
		Int("student_id", studentID).
		Msg("Submission updated")
	return updated, nil
}

// ListMine retrieves the student's own submissions, optionally scoped to a course.
func (s *SubmissionService) ListMine(ctx context.Context, studentID int, courseID *uuid.UUID) ([]model.Submission, error) {
	return s.subs.ListByStudent(ctx, studentID, courseID)
}

// GetMine retrieves the student's submission for one assignment, or
// ErrSubmissionNotFound when no attempt is on record yet.
func (s *SubmissionService) GetMine(ctx context.Context, studentID int, courseID, assignmentID uuid.UUID) (*model.Submission, error) {
	sub, err := s.subs.GetByTriple(ctx, courseID, assignmentID, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// ListCourse retrieves all submissions for a course, instructor-only.
func (s *SubmissionService) ListCourse(ctx context.Context, instructorID int, courseID uuid.UUID, page, perPage int) ([]model.CourseSubmission, int64, error) {
	owns, err := s.courses.IsInstructor(ctx, courseID, instructorID)
	if err != nil {
		return nil, 0, fmt.Errorf("check ownership: %w", err)
	}
	if !owns {
		return nil, 0, ErrNotCourseInstructor
	}
	return s.subs.ListByCourse(ctx, courseID, page, perPage)
}

// Grade scores a submission. Grading always moves the record to graded and
// clears any resubmission request, regardless of prior state.
func (s *SubmissionService) Grade(ctx context.Context, instructorID int, submissionID uuid.UUID, grade float64, feedback string) (*model.Submission, error) {
	sub, err := s.authorizeInstructor(ctx, instructorID, submissionID)
	if err != nil {
		return nil, err
	}

	graded, err := s.subs.SetGrade(ctx, sub.ID, grade, feedback)
	if err != nil {
		return nil, fmt.Errorf("set grade: %w", err)
	}

	s.notifier.Dispatch(ctx, graded.StudentID,
		fmt.Sprintf("Your assignment has been graded: %g points.", grade),
		model.NotificationKindSuccess,
		fmt.Sprintf("/courses/%s/assignments/%s", graded.CourseID, graded.AssignmentID))

	s.log.Info().
		Str("submission_id", graded.ID.String()).
		Int("instructor_id", instructorID).
		Float64("grade", grade).
		Msg("Submission graded")
	return graded, nil
}

// RequestResubmission flags the student's submission for instructor review.
// Any existing record can carry the flag except one already reopened: a
// pending record accepts attempts directly, so a request is meaningless there.
// Re-requesting is an idempotent no-op.
func (s *SubmissionService) RequestResubmission(ctx context.Context, studentID int, submissionID uuid.UUID) error {
	sub, err := s.subs.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSubmissionNotFound
		}
		return err
	}
	// Scope to owner. A foreign submission looks like a missing one.
	if sub.StudentID != studentID {
		return ErrSubmissionNotFound
	}
	if sub.Status == model.SubmissionStatusPending {
		return ErrAlreadyReopened
	}

	if err := s.subs.SetResubmissionRequested(ctx, sub.ID); err != nil {
		return fmt.Errorf("flag resubmission: %w", err)
	}
	s.log.Info().
		Str("submission_id", sub.ID.String()).
		Int("student_id", studentID).
		Msg("Resubmission requested")
	return nil
}

// ApproveResubmission reopens a submission for one more attempt: status moves
// to pending, the request flag clears, and the prior grade survives on the
// record until the next grading pass overwrites it. A pending request is not
// required: instructors may reopen a record proactively, which only shows up
// as a distinct audit line.
func (s *SubmissionService) ApproveResubmission(ctx context.Context, instructorID int, submissionID uuid.UUID) (*model.Submission, error) {
	sub, err := s.authorizeInstructor(ctx, instructorID, submissionID)
	if err != nil {
		return nil, err
	}
	requested := sub.ResubmissionRequested

	reopened, err := s.subs.Reopen(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("reopen submission: %w", err)
	}

	s.notifier.Dispatch(ctx, reopened.StudentID,
		"Resubmission approved for your assignment.",
		model.NotificationKindInfo,
		fmt.Sprintf("/courses/%s/assignments/%s", reopened.CourseID, reopened.AssignmentID))

	if requested {
		s.log.Info().
			Str("submission_id", reopened.ID.String()).
			Int("instructor_id", instructorID).
			Msg("Resubmission approved")
	} else {
		s.log.Info().
			Str("submission_id", reopened.ID.String()).
			Int("instructor_id", instructorID).
			Msg("Submission reopened without a student request")
	}
	return reopened, nil
}

// authorizeInstructor loads a submission and verifies the caller owns its course.
func (s *SubmissionService) authorizeInstructor(ctx context.Context, instructorID int, submissionID uuid.UUID) (*model.Submission, error) {
	sub, err := s.subs.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}

	owns, err := s.courses.IsInstructor(ctx, sub.CourseID, instructorID)
	if err != nil {
		return nil, fmt.Errorf("check ownership: %w", err)
	}
	if !owns {
		return nil, ErrNotCourseInstructor
	}
	return sub, nil
}
