package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coursely/coursely-backend/internal/config"
	"github.com/coursely/coursely-backend/internal/middleware"
	"github.com/coursely/coursely-backend/internal/model"
	"github.com/coursely/coursely-backend/internal/proctor"
	"github.com/coursely/coursely-backend/internal/response"
	"github.com/coursely/coursely-backend/internal/service"
	ws "github.com/coursely/coursely-backend/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SessionHandler runs proctored work sessions over WebSocket. The connection
// is a dumb pipe: every rule (countdown, fullscreen gating, forced submission)
// lives in the proctor state machine, and this handler only relays messages
// and mirrors drafts to redis.
type SessionHandler struct {
	cfg               *config.Config
	rdb               *redis.Client
	assignmentService *service.AssignmentService
	submissionService *service.SubmissionService
	clock             proctor.Clock
	log               zerolog.Logger
	upgrader          websocket.Upgrader
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(cfg *config.Config, rdb *redis.Client, assignmentService *service.AssignmentService, submissionService *service.SubmissionService, clock proctor.Clock, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		cfg:               cfg,
		rdb:               rdb,
		assignmentService: assignmentService,
		submissionService: submissionService,
		clock:             clock,
		log:               log.With().Str("component", "session_handler").Logger(),
		upgrader:          buildUpgrader(cfg.AllowedOrigins),
	}
}

// Stream godoc
// WS /ws/v1/student/assignments/:assignment_id/stream
// Upgrades to WebSocket and runs the session state machine until the attempt
// is submitted or the client disconnects. Disconnecting mid-attempt leaves the
// drafts and start time in redis so a reconnect resumes where it left off.
func (h *SessionHandler) Stream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	studentID := claims.UserID

	assignmentID, err := uuid.Parse(c.Param("assignment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctx := c.Request.Context()

	payload, err := h.assignmentService.GetForStudent(ctx, studentID, assignmentID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAssignmentNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrAssignmentNotAvailable)
		case errors.Is(err, service.ErrNotEnrolled):
			response.Fail(c, http.StatusForbidden, response.ErrNotEnrolled)
		default:
			h.log.Error().Err(err).Str("assignment_id", assignmentID.String()).Msg("Assignment fetch failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	// A graded record stays closed until the instructor reopens it.
	existing, err := h.submissionService.GetMine(ctx, studentID, payload.CourseID, assignmentID)
	if err != nil && !errors.Is(err, service.ErrSubmissionNotFound) {
		h.log.Error().Err(err).Msg("Submission lookup failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if existing != nil && existing.Status == model.SubmissionStatusGraded {
		response.Fail(c, http.StatusConflict, response.ErrSubmissionClosed)
		return
	}

	startedAt, err := h.ensureSessionStart(ctx, assignmentID, studentID)
	if err != nil {
		h.log.Error().Err(err).Msg("Session start failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	draftAnswers, draftContent, err := h.loadDrafts(ctx, assignmentID, studentID)
	if err != nil {
		h.log.Error().Err(err).Msg("Draft load failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("assignment_id", assignmentID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	ctrl := proctor.New(proctor.Config{
		Payload:      payload,
		StartedAt:    startedAt,
		DraftAnswers: draftAnswers,
		DraftContent: draftContent,
		// Submissions outlive the connection: a forced submit must land even
		// when the student closes the tab the same instant.
		Submit: func(submitCtx context.Context, content string, answers []model.Answer) (*model.Submission, error) {
			return h.submissionService.Submit(submitCtx, studentID, &model.SubmitRequest{
				CourseID:     payload.CourseID,
				AssignmentID: assignmentID,
				Content:      content,
				Answers:      answers,
			})
		},
		SaveDraft: h.draftSaver(assignmentID, studentID),
		Clock:     h.clock,
		Log:       wsLog,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(runCtx)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.relayEvents(conn, ctrl, assignmentID, studentID, wsLog)
	}()

	h.readLoop(conn, ctrl, assignmentID, studentID, wsLog)
	cancel()
	<-writerDone
	wsLog.Info().Msg("Student disconnected")
}

// readLoop parses inbound frames and forwards them as controller commands.
func (h *SessionHandler) readLoop(conn *websocket.Conn, ctrl *proctor.Controller, assignmentID uuid.UUID, studentID int, wsLog zerolog.Logger) {
	for {
		raw, err := ws.ReadRaw(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			ws.WriteError(conn, "malformed message")
			continue
		}

		switch env.Action {
		case ws.ActionEngage:
			forwardCommand(conn, ctrl, proctor.Command{Action: proctor.ActionEngage}, wsLog)

		case ws.ActionAnswer:
			var req ws.AnswerRequest
			if err := json.Unmarshal(raw, &req); err != nil || req.QID == "" {
				ws.WriteError(conn, "q_id and value are required")
				continue
			}
			qid, err := uuid.Parse(req.QID)
			if err != nil {
				ws.WriteError(conn, "invalid q_id format")
				continue
			}
			forwardCommand(conn, ctrl, proctor.Command{Action: proctor.ActionAnswer, QuestionID: qid, Value: req.Value}, wsLog)

		case ws.ActionContent:
			var req ws.ContentRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				ws.WriteError(conn, "malformed content message")
				continue
			}
			forwardCommand(conn, ctrl, proctor.Command{Action: proctor.ActionContent, Value: req.Value}, wsLog)

		case ws.ActionViolation:
			var req ws.ViolationRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				ws.WriteError(conn, "malformed violation message")
				continue
			}
			h.enqueueTelemetry(assignmentID, studentID, req.Payload)
			forwardCommand(conn, ctrl, proctor.Command{Action: proctor.ActionViolation}, wsLog)

		case ws.ActionSubmit:
			forwardCommand(conn, ctrl, proctor.Command{Action: proctor.ActionSubmit}, wsLog)

		case ws.ActionRetry:
			forwardCommand(conn, ctrl, proctor.Command{Action: proctor.ActionRetry}, wsLog)

		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})

		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(env.Action))
		}
	}
}

// relayEvents translates controller events into wire responses. It exits when
// the controller closes its events channel.
func (h *SessionHandler) relayEvents(conn *websocket.Conn, ctrl *proctor.Controller, assignmentID uuid.UUID, studentID int, wsLog zerolog.Logger) {
	for ev := range ctrl.Events() {
		switch ev.Type {
		case proctor.EventState:
			ws.WriteTyped(conn, ws.StateResponse{
				Event:            ws.EventState,
				Phase:            string(ev.Phase),
				RemainingSeconds: ev.RemainingSeconds,
			})

		case proctor.EventSaved:
			qid := ""
			if ev.QuestionID != uuid.Nil {
				qid = ev.QuestionID.String()
			}
			ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, QID: qid})

		case proctor.EventNotice:
			ws.WriteTyped(conn, ws.NoticeResponse{Event: ws.EventNotice, Message: ev.Message})

		case proctor.EventSubmitted:
			h.clearSession(assignmentID, studentID)
			ws.WriteTyped(conn, ws.SubmittedResponse{
				Event:        ws.EventSubmitted,
				Trigger:      string(ev.Trigger),
				SubmissionID: ev.Submission.ID.String(),
				Status:       string(ev.Submission.Status),
			})

		case proctor.EventSubmitError:
			ws.WriteTyped(conn, ws.SubmitErrorResponse{
				Event:     ws.EventSubmitError,
				Message:   ev.Message,
				Retryable: ev.Retryable,
			})

		default:
			wsLog.Warn().Str("type", string(ev.Type)).Msg("Unknown controller event")
		}
	}
}

// commandEnqueueTimeout bounds how long a frame waits for the controller.
// The queue only backs up when the writer is stalled on a dead client, so a
// timeout here means the session is effectively over.
const commandEnqueueTimeout = 5 * time.Second

// sendCommand delivers one command to the controller, reporting whether it
// was accepted. Delivery blocks while the session is live so proctoring
// frames are never dropped silently; it gives up once the controller has
// exited or the enqueue timeout passes.
func sendCommand(ctrl *proctor.Controller, cmd proctor.Command) bool {
	select {
	case ctrl.Commands() <- cmd:
		return true
	case <-ctrl.Done():
		return false
	case <-time.After(commandEnqueueTimeout):
		return false
	}
}

// forwardCommand relays a frame into the controller and surfaces a dropped
// one back to the client instead of losing it silently.
func forwardCommand(conn *websocket.Conn, ctrl *proctor.Controller, cmd proctor.Command, wsLog zerolog.Logger) {
	if sendCommand(ctrl, cmd) {
		return
	}
	wsLog.Warn().Str("action", string(cmd.Action)).Msg("Command not delivered")
	ws.WriteError(conn, "session is not accepting commands")
}

// ensureSessionStart records the attempt's start time on first connect and
// returns the authoritative value on reconnects, so the countdown keeps
// running across page reloads.
func (h *SessionHandler) ensureSessionStart(ctx context.Context, assignmentID uuid.UUID, studentID int) (time.Time, error) {
	key := config.CacheKey.SessionStartKey(assignmentID.String(), studentID)

	now := h.clock.Now()
	if err := h.rdb.SetNX(ctx, key, now.Unix(), h.cfg.DraftTTL).Err(); err != nil {
		return time.Time{}, err
	}

	raw, err := h.rdb.Get(ctx, key).Result()
	if err != nil {
		return time.Time{}, err
	}
	startUnix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(startUnix, 0), nil
}

// loadDrafts recovers autosaved answers and content from a prior connection.
func (h *SessionHandler) loadDrafts(ctx context.Context, assignmentID uuid.UUID, studentID int) (map[uuid.UUID]string, string, error) {
	rawAnswers, err := h.rdb.HGetAll(ctx, config.CacheKey.DraftAnswersKey(assignmentID.String(), studentID)).Result()
	if err != nil {
		return nil, "", err
	}

	answers := make(map[uuid.UUID]string, len(rawAnswers))
	for k, v := range rawAnswers {
		qid, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		answers[qid] = v
	}

	content, err := h.rdb.Get(ctx, config.CacheKey.DraftContentKey(assignmentID.String(), studentID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, "", err
	}

	return answers, content, nil
}

// draftSaver returns the controller's autosave callback. Draft writes are best
// effort: a failed write costs at most one keystroke of recovery.
func (h *SessionHandler) draftSaver(assignmentID uuid.UUID, studentID int) proctor.SaveDraftFunc {
	return func(ctx context.Context, questionID, value string) {
		var err error
		if questionID == "content" {
			err = h.rdb.Set(ctx, config.CacheKey.DraftContentKey(assignmentID.String(), studentID), value, h.cfg.DraftTTL).Err()
		} else {
			key := config.CacheKey.DraftAnswersKey(assignmentID.String(), studentID)
			pipe := h.rdb.Pipeline()
			pipe.HSet(ctx, key, questionID, value)
			pipe.Expire(ctx, key, h.cfg.DraftTTL)
			_, err = pipe.Exec(ctx)
		}
		if err != nil {
			h.log.Warn().Err(err).Str("assignment_id", assignmentID.String()).Msg("Draft save failed")
		}
	}
}

// clearSession removes redis session state after the attempt lands.
func (h *SessionHandler) clearSession(assignmentID uuid.UUID, studentID int) {
	ctx := context.Background()
	err := h.rdb.Del(ctx,
		config.CacheKey.SessionStartKey(assignmentID.String(), studentID),
		config.CacheKey.DraftAnswersKey(assignmentID.String(), studentID),
		config.CacheKey.DraftContentKey(assignmentID.String(), studentID),
	).Err()
	if err != nil {
		h.log.Warn().Err(err).Str("assignment_id", assignmentID.String()).Msg("Session cleanup failed")
	}
}

// enqueueTelemetry queues a raw proctoring event for batched persistence.
func (h *SessionHandler) enqueueTelemetry(assignmentID uuid.UUID, studentID int, payload string) {
	ctx := context.Background()

	raw, err := json.Marshal(map[string]interface{}{
		"student_id":    studentID,
		"assignment_id": assignmentID.String(),
		"payload":       payload,
		"occurred_at":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Marshal telemetry failed")
		return
	}

	if err := h.rdb.RPush(ctx, config.WorkerKey.PersistProctorEventsQueue, raw).Err(); err != nil {
		h.log.Error().Err(err).Msg("Enqueue telemetry failed")
	}
}

// remainingSeconds computes whole seconds left in a timed attempt that began
// at startUnix. Untimed assignments (limit 0) report zero.
func remainingSeconds(startUnix int64, limitMinutes int) int {
	if limitMinutes <= 0 {
		return 0
	}
	deadline := time.Unix(startUnix, 0).Add(time.Duration(limitMinutes) * time.Minute)
	remaining := time.Until(deadline)
	if remaining < 0 {
		return 0
	}
	return int(remaining / time.Second)
}
