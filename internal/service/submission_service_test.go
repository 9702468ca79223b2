package service

import (
	"context"
	"errors"
	"testing"

	"github.com/coursely/coursely-backend/internal/model"
	"github.com/coursely/coursely-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubmissionStore keeps records in a map keyed by the triple and enforces
// the same uniqueness rule the database does.
type fakeSubmissionStore struct {
	byID        map[uuid.UUID]*model.Submission
	failCreates bool
	// raceOnCreate simulates losing the insert race: the first Create call
	// inserts a competing record, then reports ErrDuplicate.
	raceOnCreate bool
}

func newFakeSubmissionStore() *fakeSubmissionStore {
	return &fakeSubmissionStore{byID: make(map[uuid.UUID]*model.Submission)}
}

func (f *fakeSubmissionStore) find(courseID, assignmentID uuid.UUID, studentID int) *model.Submission {
	for _, s := range f.byID {
		if s.CourseID == courseID && s.AssignmentID == assignmentID && s.StudentID == studentID {
			return s
		}
	}
	return nil
}

func (f *fakeSubmissionStore) GetByTriple(_ context.Context, courseID, assignmentID uuid.UUID, studentID int) (*model.Submission, error) {
	if s := f.find(courseID, assignmentID, studentID); s != nil {
		cp := *s
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSubmissionStore) GetByID(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	if s, ok := f.byID[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSubmissionStore) Create(_ context.Context, s *model.Submission) error {
	if f.failCreates {
		return errors.New("database unavailable")
	}
	if f.raceOnCreate {
		f.raceOnCreate = false
		competing := &model.Submission{
			ID:           uuid.New(),
			CourseID:     s.CourseID,
			AssignmentID: s.AssignmentID,
			StudentID:    s.StudentID,
			Content:      "raced content",
			Status:       model.SubmissionStatusSubmitted,
		}
		f.byID[competing.ID] = competing
		return repository.ErrDuplicate
	}
	if f.find(s.CourseID, s.AssignmentID, s.StudentID) != nil {
		return repository.ErrDuplicate
	}
	s.ID = uuid.New()
	s.Status = model.SubmissionStatusSubmitted
	cp := *s
	f.byID[s.ID] = &cp
	return nil
}

func (f *fakeSubmissionStore) UpdateAttempt(_ context.Context, id uuid.UUID, content string, answers []model.Answer) (*model.Submission, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	s.Content = content
	s.Answers = answers
	s.Status = model.SubmissionStatusSubmitted
	s.ResubmissionRequested = false
	cp := *s
	return &cp, nil
}

func (f *fakeSubmissionStore) SetGrade(_ context.Context, id uuid.UUID, grade float64, feedback string) (*model.Submission, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	s.Grade = &grade
	s.Feedback = feedback
	s.Status = model.SubmissionStatusGraded
	s.ResubmissionRequested = false
	cp := *s
	return &cp, nil
}

func (f *fakeSubmissionStore) SetResubmissionRequested(_ context.Context, id uuid.UUID) error {
	s, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.ResubmissionRequested = true
	return nil
}

func (f *fakeSubmissionStore) Reopen(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	s.Status = model.SubmissionStatusPending
	s.ResubmissionRequested = false
	cp := *s
	return &cp, nil
}

func (f *fakeSubmissionStore) ListByStudent(_ context.Context, studentID int, courseID *uuid.UUID) ([]model.Submission, error) {
	var out []model.Submission
	for _, s := range f.byID {
		if s.StudentID != studentID {
			continue
		}
		if courseID != nil && s.CourseID != *courseID {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeSubmissionStore) ListByCourse(_ context.Context, courseID uuid.UUID, _, _ int) ([]model.CourseSubmission, int64, error) {
	var out []model.CourseSubmission
	for _, s := range f.byID {
		if s.CourseID == courseID {
			out = append(out, model.CourseSubmission{Submission: *s})
		}
	}
	return out, int64(len(out)), nil
}

type fakeCourseStore struct {
	instructorID int
	enrolled     map[int]bool
}

func (f *fakeCourseStore) IsInstructor(_ context.Context, _ uuid.UUID, userID int) (bool, error) {
	return userID == f.instructorID, nil
}

func (f *fakeCourseStore) IsEnrolled(_ context.Context, _ uuid.UUID, studentID int) (bool, error) {
	return f.enrolled[studentID], nil
}

type fakeNotifier struct {
	messages []string
	userIDs  []int
}

func (f *fakeNotifier) Dispatch(_ context.Context, userID int, message string, _ model.NotificationKind, _ string) {
	f.userIDs = append(f.userIDs, userID)
	f.messages = append(f.messages, message)
}

const (
	studentID    = 7
	instructorID = 42
	otherStudent = 9
)

func newTestService() (*SubmissionService, *fakeSubmissionStore, *fakeNotifier) {
	store := newFakeSubmissionStore()
	courses := &fakeCourseStore{
		instructorID: instructorID,
		enrolled:     map[int]bool{studentID: true, otherStudent: true},
	}
	notifier := &fakeNotifier{}
	svc := NewSubmissionService(store, courses, notifier, zerolog.Nop())
	return svc, store, notifier
}

func submitReq() *model.SubmitRequest {
	return &model.SubmitRequest{
		CourseID:     uuid.New(),
		AssignmentID: uuid.New(),
		Content:      "first draft",
	}
}

func TestSubmitCreatesSingleRecord(t *testing.T) {
	svc, store, _ := newTestService()
	req := submitReq()

	sub, err := svc.Submit(context.Background(), studentID, req)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStatusSubmitted, sub.Status)
	assert.Equal(t, "first draft", sub.Content)
	assert.Len(t, store.byID, 1)
}

func TestSubmitRejectsUnenrolled(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Submit(context.Background(), 999, submitReq())
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestRepeatSubmitUpdatesInPlace(t *testing.T) {
	svc, store, _ := newTestService()
	req := submitReq()

	first, err := svc.Submit(context.Background(), studentID, req)
	require.NoError(t, err)

	req.Content = "second draft"
	second, err := svc.Submit(context.Background(), studentID, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "repeat attempt must mutate the same record")
	assert.Equal(t, "second draft", second.Content)
	assert.Len(t, store.byID, 1)
}

func TestSubmitLosingCreateRaceFallsBackToUpdate(t *testing.T) {
	svc, store, _ := newTestService()
	store.raceOnCreate = true
	req := submitReq()
	req.Content = "my content"

	sub, err := svc.Submit(context.Background(), studentID, req)
	require.NoError(t, err)

	assert.Len(t, store.byID, 1, "race must converge on one record")
	assert.Equal(t, "my content", sub.Content, "loser's attempt lands as an update")
}

func TestSubmitWhileGradedRejected(t *testing.T) {
	svc, _, _ := newTestService()
	req := submitReq()

	sub, err := svc.Submit(context.Background(), studentID, req)
	require.NoError(t, err)

	_, err = svc.Grade(context.Background(), instructorID, sub.ID, 85, "good work")
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), studentID, req)
	assert.ErrorIs(t, err, ErrSubmissionClosed)
}

func TestGradeNotifiesStudent(t *testing.T) {
	svc, _, notifier := newTestService()

	sub, err := svc.Submit(context.Background(), studentID, submitReq())
	require.NoError(t, err)

	graded, err := svc.Grade(context.Background(), instructorID, sub.ID, 85, "good work")
	require.NoError(t, err)

	assert.Equal(t, model.SubmissionStatusGraded, graded.Status)
	require.NotNil(t, graded.Grade)
	assert.Equal(t, 85.0, *graded.Grade)
	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "Your assignment has been graded: 85 points.", notifier.messages[0])
	assert.Equal(t, studentID, notifier.userIDs[0])
}

func TestGradeRequiresCourseOwnership(t *testing.T) {
	svc, _, _ := newTestService()

	sub, err := svc.Submit(context.Background(), studentID, submitReq())
	require.NoError(t, err)

	_, err = svc.Grade(context.Background(), instructorID+1, sub.ID, 50, "")
	assert.ErrorIs(t, err, ErrNotCourseInstructor)
}

func TestResubmissionRoundTrip(t *testing.T) {
	svc, _, notifier := newTestService()
	ctx := context.Background()
	req := submitReq()

	sub, err := svc.Submit(ctx, studentID, req)
	require.NoError(t, err)

	// A request on an open record is accepted and flags it for review.
	require.NoError(t, svc.RequestResubmission(ctx, studentID, sub.ID))
	flagged, err := svc.GetMine(ctx, studentID, req.CourseID, req.AssignmentID)
	require.NoError(t, err)
	assert.True(t, flagged.ResubmissionRequested)

	// Grading settles the open request.
	_, err = svc.Grade(ctx, instructorID, sub.ID, 60, "see feedback")
	require.NoError(t, err)

	require.NoError(t, svc.RequestResubmission(ctx, studentID, sub.ID))

	reopened, err := svc.ApproveResubmission(ctx, instructorID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStatusPending, reopened.Status)
	assert.False(t, reopened.ResubmissionRequested)
	require.NotNil(t, reopened.Grade)
	assert.Equal(t, 60.0, *reopened.Grade, "prior grade stays on the record until regraded")

	// The reopened record accepts a new attempt.
	req.Content = "improved answer"
	again, err := svc.Submit(ctx, studentID, req)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)
	assert.Equal(t, model.SubmissionStatusSubmitted, again.Status)

	require.Len(t, notifier.messages, 2)
	assert.Equal(t, "Resubmission approved for your assignment.", notifier.messages[1])
}

func TestRequestResubmissionScopedToOwner(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	sub, err := svc.Submit(ctx, studentID, submitReq())
	require.NoError(t, err)
	_, err = svc.Grade(ctx, instructorID, sub.ID, 70, "")
	require.NoError(t, err)

	err = svc.RequestResubmission(ctx, otherStudent, sub.ID)
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestApproveWithoutRequestReopens(t *testing.T) {
	svc, _, notifier := newTestService()
	ctx := context.Background()

	sub, err := svc.Submit(ctx, studentID, submitReq())
	require.NoError(t, err)
	_, err = svc.Grade(ctx, instructorID, sub.ID, 70, "")
	require.NoError(t, err)

	// No student request on file: the instructor reopens proactively.
	reopened, err := svc.ApproveResubmission(ctx, instructorID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStatusPending, reopened.Status)
	require.Len(t, notifier.messages, 2)
	assert.Equal(t, "Resubmission approved for your assignment.", notifier.messages[1])
}

func TestRequestResubmissionRejectedWhilePending(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	sub, err := svc.Submit(ctx, studentID, submitReq())
	require.NoError(t, err)
	_, err = svc.Grade(ctx, instructorID, sub.ID, 40, "")
	require.NoError(t, err)
	require.NoError(t, svc.RequestResubmission(ctx, studentID, sub.ID))
	_, err = svc.ApproveResubmission(ctx, instructorID, sub.ID)
	require.NoError(t, err)

	// A pending record already accepts attempts directly.
	err = svc.RequestResubmission(ctx, studentID, sub.ID)
	assert.ErrorIs(t, err, ErrAlreadyReopened)
}

func TestGradeClearsPendingResubmissionRequest(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	sub, err := svc.Submit(ctx, studentID, submitReq())
	require.NoError(t, err)
	_, err = svc.Grade(ctx, instructorID, sub.ID, 55, "")
	require.NoError(t, err)
	require.NoError(t, svc.RequestResubmission(ctx, studentID, sub.ID))

	// Regrading while a request is pending settles it.
	regraded, err := svc.Grade(ctx, instructorID, sub.ID, 65, "bumped after review")
	require.NoError(t, err)
	assert.False(t, regraded.ResubmissionRequested)
	assert.False(t, store.byID[sub.ID].ResubmissionRequested)
}

func TestListCourseRequiresOwnership(t *testing.T) {
	svc, _, _ := newTestService()

	_, _, err := svc.ListCourse(context.Background(), studentID, uuid.New(), 1, 25)
	assert.ErrorIs(t, err, ErrNotCourseInstructor)
}
