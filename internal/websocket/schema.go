package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionEngage    Action = "engage"
	ActionAnswer    Action = "answer"
	ActionContent   Action = "content"
	ActionViolation Action = "violation"
	ActionSubmit    Action = "submit"
	ActionRetry     Action = "retry"
	ActionPing      Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest saves a single answer draft.
type AnswerRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id"`
	Value  string `json:"value"`
}

// ContentRequest saves the free-form content draft.
type ContentRequest struct {
	Action Action `json:"action"`
	Value  string `json:"value"`
}

// ViolationRequest reports a fullscreen exit observed by the client.
type ViolationRequest struct {
	Action  Action `json:"action"`
	Payload string `json:"payload"` // Raw telemetry JSON, stored as-is
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState       Event = "state"
	EventSaved       Event = "saved"
	EventNotice      Event = "notice"
	EventSubmitted   Event = "submitted"
	EventSubmitError Event = "submit_error"
	EventError       Event = "error"
	EventPong        Event = "pong"
)

// StateResponse is the countdown/phase snapshot pushed every second.
type StateResponse struct {
	Event            Event  `json:"event"`
	Phase            string `json:"phase"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

type SavedResponse struct {
	Event Event  `json:"event"`
	QID   string `json:"q_id,omitempty"`
}

type NoticeResponse struct {
	Event   Event  `json:"event"`
	Message string `json:"message"`
}

// SubmittedResponse confirms the attempt is on record.
type SubmittedResponse struct {
	Event        Event  `json:"event"`
	Trigger      string `json:"trigger"`
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

// SubmitErrorResponse reports a failed persist that the client may retry.
type SubmitErrorResponse struct {
	Event     Event  `json:"event"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
