package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coursely/coursely-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	tick chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:  time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		tick: make(chan time.Time),
	}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) NewTicker(time.Duration) Ticker {
	return &fakeTicker{c: f.tick}
}

// Advance moves the clock forward and delivers one tick.
func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	f.mu.Unlock()
	f.tick <- now
}

type fakeTicker struct {
	c chan time.Time
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               {}

type captureSubmit struct {
	mu       sync.Mutex
	calls    int
	failOnce bool
	content  string
	answers  []model.Answer
}

func (c *captureSubmit) fn(_ context.Context, content string, answers []model.Answer) (*model.Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failOnce {
		c.failOnce = false
		return nil, errors.New("connection refused")
	}
	c.content = content
	c.answers = answers
	return &model.Submission{ID: uuid.New(), Status: model.SubmissionStatusSubmitted}, nil
}

func (c *captureSubmit) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func timedPayload(antiCheat bool) *model.AssignmentPayload {
	return &model.AssignmentPayload{
		Assignment: model.Assignment{
			ID:               uuid.New(),
			CourseID:         uuid.New(),
			Title:            "Weekly quiz",
			AntiCheat:        antiCheat,
			TimeLimitMinutes: 1,
		},
		Questions: []model.AssignmentQuestion{
			{ID: uuid.New(), Kind: model.QuestionKindFreeText, Prompt: "Explain."},
			{ID: uuid.New(), Kind: model.QuestionKindMultipleChoice, Prompt: "Pick one.", Options: []string{"a", "b"}},
		},
	}
}

func startController(t *testing.T, payload *model.AssignmentPayload, clock *fakeClock, submit SubmitFunc) *Controller {
	t.Helper()
	ctrl := New(Config{
		Payload:   payload,
		StartedAt: clock.Now(),
		Submit:    submit,
		Clock:     clock,
		Log:       zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ctrl
}

// waitEvent drains events until one of the wanted type arrives.
func waitEvent(t *testing.T, ctrl *Controller, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ctrl.Events():
			require.True(t, ok, "events channel closed before %s", want)
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestAnswersIgnoredBeforeFullscreen(t *testing.T) {
	payload := timedPayload(true)
	clock := newFakeClock()
	capture := &captureSubmit{}
	ctrl := startController(t, payload, clock, capture.fn)

	ev := waitEvent(t, ctrl, EventState)
	assert.Equal(t, PhaseAwaitingFullscreen, ev.Phase)

	// Answers and submits do nothing until the client engages fullscreen.
	ctrl.Commands() <- Command{Action: ActionAnswer, QuestionID: payload.Questions[0].ID, Value: "early"}
	ctrl.Commands() <- Command{Action: ActionSubmit}
	ctrl.Commands() <- Command{Action: ActionEngage}

	ev = waitEvent(t, ctrl, EventState)
	assert.Equal(t, PhaseActive, ev.Phase)
	assert.Equal(t, 0, capture.callCount())

	ctrl.Commands() <- Command{Action: ActionAnswer, QuestionID: payload.Questions[0].ID, Value: "late"}
	waitEvent(t, ctrl, EventSaved)
}

func TestStudentSubmitIncludesUnanswered(t *testing.T) {
	payload := timedPayload(false)
	clock := newFakeClock()
	capture := &captureSubmit{}
	ctrl := startController(t, payload, clock, capture.fn)

	ctrl.Commands() <- Command{Action: ActionAnswer, QuestionID: payload.Questions[0].ID, Value: "my answer"}
	waitEvent(t, ctrl, EventSaved)
	ctrl.Commands() <- Command{Action: ActionSubmit}

	ev := waitEvent(t, ctrl, EventSubmitted)
	assert.Equal(t, TriggerStudentSubmit, ev.Trigger)
	require.NotNil(t, ev.Submission)

	require.Len(t, capture.answers, 2)
	assert.Equal(t, "my answer", capture.answers[0].Value)
	assert.Equal(t, "", capture.answers[1].Value, "unanswered question submits empty")
}

func TestTimeExpirySubmitsOnce(t *testing.T) {
	payload := timedPayload(false)
	clock := newFakeClock()
	capture := &captureSubmit{}
	ctrl := startController(t, payload, clock, capture.fn)

	clock.Advance(61 * time.Second)

	ev := waitEvent(t, ctrl, EventSubmitted)
	assert.Equal(t, TriggerTimeExpired, ev.Trigger)
	assert.Equal(t, 1, capture.callCount())
}

func TestCountdownReflectsElapsedTime(t *testing.T) {
	payload := timedPayload(false)
	clock := newFakeClock()
	capture := &captureSubmit{}
	ctrl := startController(t, payload, clock, capture.fn)

	ev := waitEvent(t, ctrl, EventState)
	assert.Equal(t, 60, ev.RemainingSeconds)

	clock.Advance(20 * time.Second)

	ev = waitEvent(t, ctrl, EventState)
	assert.Equal(t, 40, ev.RemainingSeconds)
}

func TestViolationForcesSubmission(t *testing.T) {
	payload := timedPayload(true)
	clock := newFakeClock()
	capture := &captureSubmit{}
	ctrl := startController(t, payload, clock, capture.fn)

	ctrl.Commands() <- Command{Action: ActionEngage}
	ctrl.Commands() <- Command{Action: ActionAnswer, QuestionID: payload.Questions[0].ID, Value: "partial"}
	waitEvent(t, ctrl, EventSaved)

	ctrl.Commands() <- Command{Action: ActionViolation}

	waitEvent(t, ctrl, EventNotice)
	ev := waitEvent(t, ctrl, EventSubmitted)
	assert.Equal(t, TriggerViolation, ev.Trigger)
	assert.Equal(t, "partial", capture.answers[0].Value)
}

func TestViolationIgnoredWithoutAntiCheat(t *testing.T) {
	payload := timedPayload(false)
	clock := newFakeClock()
	capture := &captureSubmit{}
	ctrl := startController(t, payload, clock, capture.fn)

	ctrl.Commands() <- Command{Action: ActionViolation}
	ctrl.Commands() <- Command{Action: ActionSubmit}

	ev := waitEvent(t, ctrl, EventSubmitted)
	assert.Equal(t, TriggerStudentSubmit, ev.Trigger)
	assert.Equal(t, 1, capture.callCount())
}

func TestViolationAfterSubmitIsNoOp(t *testing.T) {
	payload := timedPayload(true)
	clock := newFakeClock()
	capture := &captureSubmit{}
	ctrl := startController(t, payload, clock, capture.fn)

	ctrl.Commands() <- Command{Action: ActionEngage}
	// Submit and violation race on the same queue: whichever lands first
	// wins, the other must not produce a second submission.
	ctrl.Commands() <- Command{Action: ActionSubmit}
	ctrl.Commands() <- Command{Action: ActionViolation}

	ev := waitEvent(t, ctrl, EventSubmitted)
	assert.Equal(t, TriggerStudentSubmit, ev.Trigger)
	assert.Equal(t, 1, capture.callCount())
}

func TestRetryAfterPersistFailure(t *testing.T) {
	payload := timedPayload(false)
	clock := newFakeClock()
	capture := &captureSubmit{failOnce: true}
	ctrl := startController(t, payload, clock, capture.fn)

	ctrl.Commands() <- Command{Action: ActionAnswer, QuestionID: payload.Questions[0].ID, Value: "kept across retries"}
	waitEvent(t, ctrl, EventSaved)
	ctrl.Commands() <- Command{Action: ActionSubmit}

	ev := waitEvent(t, ctrl, EventSubmitError)
	assert.True(t, ev.Retryable)

	// Answers written after the session went terminal must not land.
	ctrl.Commands() <- Command{Action: ActionAnswer, QuestionID: payload.Questions[0].ID, Value: "too late"}
	ctrl.Commands() <- Command{Action: ActionRetry}

	submitted := waitEvent(t, ctrl, EventSubmitted)
	assert.Equal(t, TriggerStudentSubmit, submitted.Trigger)
	assert.Equal(t, 2, capture.callCount())
	assert.Equal(t, "kept across retries", capture.answers[0].Value)
}

func TestForcedSubmitRetriesWithoutClient(t *testing.T) {
	payload := timedPayload(false)
	clock := newFakeClock()
	capture := &captureSubmit{failOnce: true}
	ctrl := startController(t, payload, clock, capture.fn)

	clock.Advance(61 * time.Second)
	ev := waitEvent(t, ctrl, EventSubmitError)
	assert.True(t, ev.Retryable)

	// No retry command arrives; the next tick re-drives the persist.
	clock.Advance(time.Second)
	submitted := waitEvent(t, ctrl, EventSubmitted)
	assert.Equal(t, TriggerTimeExpired, submitted.Trigger)
	assert.Equal(t, 2, capture.callCount())
}

func TestUntimedSessionHasNoDeadline(t *testing.T) {
	payload := timedPayload(false)
	payload.TimeLimitMinutes = 0
	clock := newFakeClock()
	capture := &captureSubmit{}
	ctrl := startController(t, payload, clock, capture.fn)

	ev := waitEvent(t, ctrl, EventState)
	assert.Equal(t, PhaseActive, ev.Phase)
	assert.Equal(t, 0, ev.RemainingSeconds)

	clock.Advance(2 * time.Hour)
	ctrl.Commands() <- Command{Action: ActionSubmit}

	submitted := waitEvent(t, ctrl, EventSubmitted)
	assert.Equal(t, TriggerStudentSubmit, submitted.Trigger)
}

func TestDoneSignalsSessionEnd(t *testing.T) {
	payload := timedPayload(false)
	clock := newFakeClock()
	capture := &captureSubmit{}
	ctrl := startController(t, payload, clock, capture.fn)

	select {
	case <-ctrl.Done():
		t.Fatal("done closed while the session is live")
	default:
	}

	ctrl.Commands() <- Command{Action: ActionSubmit}
	waitEvent(t, ctrl, EventSubmitted)

	select {
	case <-ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("done not closed after submission")
	}
}

func TestResumeSeedsDraftsAndDeadline(t *testing.T) {
	payload := timedPayload(false)
	clock := newFakeClock()
	capture := &captureSubmit{}

	startedAt := clock.Now().Add(-30 * time.Second)
	ctrl := New(Config{
		Payload:      payload,
		StartedAt:    startedAt,
		DraftAnswers: map[uuid.UUID]string{payload.Questions[0].ID: "from last connection"},
		Submit:       capture.fn,
		Clock:        clock,
		Log:          zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ev := waitEvent(t, ctrl, EventState)
	assert.Equal(t, 30, ev.RemainingSeconds, "deadline anchors to original start, not reconnect")

	ctrl.Commands() <- Command{Action: ActionSubmit}
	waitEvent(t, ctrl, EventSubmitted)
	assert.Equal(t, "from last connection", capture.answers[0].Value)
}
