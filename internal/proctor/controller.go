package proctor

import (
	"context"
	"time"

	"github.com/coursely/coursely-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Phase is the controller's lifecycle state. Transitions only move forward:
// AwaitingFullscreen -> Active -> Terminal. Untimed, unproctored assignments
// start directly in Active.
type Phase string

const (
	PhaseAwaitingFullscreen Phase = "awaiting_fullscreen"
	PhaseActive             Phase = "active"
	PhaseTerminal           Phase = "terminal"
)

// Trigger names what ended a session. Exactly one trigger fires per session.
type Trigger string

const (
	TriggerStudentSubmit Trigger = "student_submit"
	TriggerTimeExpired   Trigger = "time_expired"
	TriggerViolation     Trigger = "violation"
)

// CommandAction names an inbound client action relayed from the websocket.
type CommandAction string

const (
	ActionEngage    CommandAction = "engage"
	ActionAnswer    CommandAction = "answer"
	ActionContent   CommandAction = "content"
	ActionViolation CommandAction = "violation"
	ActionSubmit    CommandAction = "submit"
	ActionRetry     CommandAction = "retry"
)

// Command carries one inbound action. QuestionID and Value are only set for
// ActionAnswer; Value alone for ActionContent.
type Command struct {
	Action     CommandAction
	QuestionID uuid.UUID
	Value      string
}

// EventType tags outbound events relayed back over the websocket.
type EventType string

const (
	EventState       EventType = "state"
	EventSaved       EventType = "saved"
	EventNotice      EventType = "notice"
	EventSubmitted   EventType = "submitted"
	EventSubmitError EventType = "submit_error"
)

// Event is one outbound message to the client.
type Event struct {
	Type             EventType         `json:"type"`
	Phase            Phase             `json:"phase,omitempty"`
	RemainingSeconds int               `json:"remaining_seconds,omitempty"`
	QuestionID       uuid.UUID         `json:"question_id,omitempty"`
	Message          string            `json:"message,omitempty"`
	Trigger          Trigger           `json:"trigger,omitempty"`
	Submission       *model.Submission `json:"submission,omitempty"`
	Retryable        bool              `json:"retryable,omitempty"`
}

// SubmitFunc persists the final attempt. The controller calls it at most once
// successfully; a failed call may be retried with the identical payload.
type SubmitFunc func(ctx context.Context, content string, answers []model.Answer) (*model.Submission, error)

// SaveDraftFunc mirrors an in-progress answer to durable draft storage.
type SaveDraftFunc func(ctx context.Context, questionID, value string)

// Config wires one controller to one student's attempt at one assignment.
type Config struct {
	Payload *model.AssignmentPayload
	// StartedAt is when the attempt first began, which may predate this
	// controller if the student reconnected. Zero means untimed.
	StartedAt time.Time
	// DraftAnswers seeds answers recovered from a previous connection.
	DraftAnswers map[uuid.UUID]string
	DraftContent string
	Submit       SubmitFunc
	SaveDraft    SaveDraftFunc
	Clock        Clock
	Log          zerolog.Logger
}

// Controller runs the authoritative state machine for one proctored session.
// All state lives in the Run goroutine; the websocket layer talks to it only
// through Commands and Events channels, so there is no locking.
type Controller struct {
	cfg      Config
	deadline time.Time

	commands chan Command
	events   chan Event
	done     chan struct{}

	phase     Phase
	answers   map[uuid.UUID]string
	content   string
	submitted bool
	// trigger is set exactly once, on entering PhaseTerminal.
	trigger Trigger
}

// New creates a Controller for one session.
func New(cfg Config) *Controller {
	c := &Controller{
		cfg:      cfg,
		commands: make(chan Command, 16),
		events:   make(chan Event, 16),
		done:     make(chan struct{}),
		answers:  make(map[uuid.UUID]string),
		phase:    PhaseActive,
	}
	for id, v := range cfg.DraftAnswers {
		c.answers[id] = v
	}
	c.content = cfg.DraftContent
	if cfg.Payload.AntiCheat {
		c.phase = PhaseAwaitingFullscreen
	}
	if cfg.Payload.TimeLimitMinutes > 0 {
		c.deadline = cfg.StartedAt.Add(time.Duration(cfg.Payload.TimeLimitMinutes) * time.Minute)
	}
	return c
}

// Commands is the inbound channel the websocket layer feeds.
func (c *Controller) Commands() chan<- Command { return c.commands }

// Events is the outbound channel the websocket layer drains.
func (c *Controller) Events() <-chan Event { return c.events }

// Done is closed when Run returns, so senders can tell a live session from a
// finished one.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run drives the session until the final attempt is persisted or ctx ends.
// A disconnect (ctx cancellation) before submission leaves no record: drafts
// survive in redis and a reconnect resumes from the original start time.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)

	ticker := c.cfg.Clock.NewTicker(time.Second)
	defer ticker.Stop()

	c.emitState()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-ticker.C():
			if c.phase == PhaseTerminal {
				// Forced submissions retry on their own until they land;
				// a student-initiated submit waits for an explicit retry.
				if !c.submitted && c.trigger != TriggerStudentSubmit {
					c.persist(ctx)
				}
			} else if !c.deadline.IsZero() {
				if !now.Before(c.deadline) {
					c.finish(ctx, TriggerTimeExpired)
				} else {
					c.emitState()
				}
			}

		case cmd := <-c.commands:
			c.handle(ctx, cmd)
		}

		if c.phase == PhaseTerminal && c.submitted {
			return
		}
	}
}

func (c *Controller) handle(ctx context.Context, cmd Command) {
	switch cmd.Action {
	case ActionEngage:
		if c.phase != PhaseAwaitingFullscreen {
			return
		}
		c.phase = PhaseActive
		c.emitState()

	case ActionAnswer:
		if c.phase != PhaseActive {
			return
		}
		c.answers[cmd.QuestionID] = cmd.Value
		if c.cfg.SaveDraft != nil {
			c.cfg.SaveDraft(ctx, cmd.QuestionID.String(), cmd.Value)
		}
		c.emit(Event{Type: EventSaved, QuestionID: cmd.QuestionID})

	case ActionContent:
		if c.phase != PhaseActive {
			return
		}
		c.content = cmd.Value
		if c.cfg.SaveDraft != nil {
			c.cfg.SaveDraft(ctx, "content", cmd.Value)
		}
		c.emit(Event{Type: EventSaved})

	case ActionViolation:
		// Leaving fullscreen mid-attempt ends the session. The notice goes
		// out first so the client can explain the forced submission.
		if !c.cfg.Payload.AntiCheat || c.phase != PhaseActive {
			return
		}
		c.emit(Event{
			Type:    EventNotice,
			Message: "Fullscreen was exited. Your answers are being submitted automatically.",
		})
		c.finish(ctx, TriggerViolation)

	case ActionSubmit:
		if c.phase != PhaseActive {
			return
		}
		c.finish(ctx, TriggerStudentSubmit)

	case ActionRetry:
		// Only meaningful after a failed persist: the session is terminal,
		// the payload is retained, and the attempt has not landed yet.
		if c.phase != PhaseTerminal || c.submitted {
			return
		}
		c.persist(ctx)
	}
}

// finish is the single exit path out of PhaseActive. It records the trigger,
// flips the phase, and attempts to persist the attempt. Once terminal, no
// command can mutate answers and no second trigger can fire.
func (c *Controller) finish(ctx context.Context, trigger Trigger) {
	if c.phase == PhaseTerminal {
		return
	}
	c.phase = PhaseTerminal
	c.trigger = trigger

	c.cfg.Log.Info().
		Str("assignment_id", c.cfg.Payload.ID.String()).
		Str("trigger", string(trigger)).
		Msg("Session finished")

	c.emitState()
	c.persist(ctx)
}

// persist calls the submit callback with the frozen payload. On failure the
// payload stays intact and the client is told it may retry.
func (c *Controller) persist(ctx context.Context) {
	// The write must survive a disconnect that cancels ctx mid-flight.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	sub, err := c.cfg.Submit(sctx, c.content, c.finalAnswers())
	if err != nil {
		c.cfg.Log.Error().Err(err).
			Str("assignment_id", c.cfg.Payload.ID.String()).
			Msg("Submission persist failed")
		c.emit(Event{
			Type:      EventSubmitError,
			Message:   "Your submission could not be saved. Your answers are safe, please retry.",
			Retryable: true,
		})
		return
	}

	c.submitted = true
	c.emit(Event{Type: EventSubmitted, Trigger: c.trigger, Submission: sub})
}

// finalAnswers flattens the answer map into the wire shape, covering every
// question in the assignment. Unanswered questions submit as empty values so
// the graded record always spans the full question set.
func (c *Controller) finalAnswers() []model.Answer {
	answers := make([]model.Answer, 0, len(c.cfg.Payload.Questions))
	for _, q := range c.cfg.Payload.Questions {
		answers = append(answers, model.Answer{
			QuestionID: q.ID,
			Value:      c.answers[q.ID],
		})
	}
	return answers
}

func (c *Controller) stateEvent() Event {
	return Event{
		Type:             EventState,
		Phase:            c.phase,
		RemainingSeconds: c.remainingSeconds(),
		Trigger:          c.trigger,
	}
}

// remainingSeconds reports whole seconds left, never negative. Untimed
// sessions report zero and the client hides the countdown.
func (c *Controller) remainingSeconds() int {
	if c.deadline.IsZero() {
		return 0
	}
	remaining := c.deadline.Sub(c.cfg.Clock.Now())
	if remaining < 0 {
		return 0
	}
	return int(remaining / time.Second)
}

// emit blocks until the websocket layer takes the event. Used for events that
// must reach the client (saves, notices, submission results).
func (c *Controller) emit(ev Event) {
	c.events <- ev
}

// emitState sends a countdown/phase snapshot, dropping it when the reader is
// behind. A dropped tick is recomputed one second later.
func (c *Controller) emitState() {
	select {
	case c.events <- c.stateEvent():
	default:
	}
}
