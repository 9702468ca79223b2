package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/coursely/coursely-backend/internal/config"
	"github.com/coursely/coursely-backend/internal/middleware"
	"github.com/coursely/coursely-backend/internal/response"
	"github.com/coursely/coursely-backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AssignmentHandler serves assignment definitions and session snapshots to students.
type AssignmentHandler struct {
	assignmentService *service.AssignmentService
	rdb               *redis.Client
	log               zerolog.Logger
}

// NewAssignmentHandler creates a new AssignmentHandler.
func NewAssignmentHandler(assignmentService *service.AssignmentService, rdb *redis.Client, log zerolog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		assignmentService: assignmentService,
		rdb:               rdb,
		log:               log.With().Str("component", "assignment_handler").Logger(),
	}
}

// GetAssignment godoc
// GET /api/v1/student/assignments/:assignment_id
// Returns the definition plus questions for an enrolled student.
func (h *AssignmentHandler) GetAssignment(c *gin.Context) {
	claims := middleware.GetClaims(c)

	assignmentID, err := uuid.Parse(c.Param("assignment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	payload, err := h.assignmentService.GetForStudent(c.Request.Context(), claims.UserID, assignmentID)
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

	response.Success(c, http.StatusOK, payload)
}

// GetSessionState godoc
// GET /api/v1/student/assignments/:assignment_id/session
// Returns what a reconnecting client needs to resume: whether an attempt is
// underway, seconds remaining, and the autosaved drafts.
func (h *AssignmentHandler) GetSessionState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	ctx := c.Request.Context()

	assignmentID, err := uuid.Parse(c.Param("assignment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	payload, err := h.assignmentService.GetForStudent(ctx, claims.UserID, assignmentID)
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

	startKey := config.CacheKey.SessionStartKey(assignmentID.String(), claims.UserID)
	startRaw, err := h.rdb.Get(ctx, startKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		h.log.Error().Err(err).Msg("Session start read failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	state := gin.H{
		"started":           false,
		"remaining_seconds": 0,
		"draft_answers":     gin.H{},
		"draft_content":     "",
	}

	if startRaw != "" {
		startUnix, parseErr := strconv.ParseInt(startRaw, 10, 64)
		if parseErr != nil {
			h.log.Warn().Str("value", startRaw).Msg("Corrupt session start value")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}
		state["started"] = true
		state["remaining_seconds"] = remainingSeconds(startUnix, payload.TimeLimitMinutes)

		drafts, err := h.rdb.HGetAll(ctx, config.CacheKey.DraftAnswersKey(assignmentID.String(), claims.UserID)).Result()
		if err != nil {
			h.log.Error().Err(err).Msg("Draft answers read failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}
		state["draft_answers"] = drafts

		content, err := h.rdb.Get(ctx, config.CacheKey.DraftContentKey(assignmentID.String(), claims.UserID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			h.log.Error().Err(err).Msg("Draft content read failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}
		state["draft_content"] = content
	}

	response.Success(c, http.StatusOK, state)
}
