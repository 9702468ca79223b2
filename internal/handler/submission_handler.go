package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/coursely/coursely-backend/internal/middleware"
	"github.com/coursely/coursely-backend/internal/model"
	"github.com/coursely/coursely-backend/internal/response"
	"github.com/coursely/coursely-backend/internal/service"
	"github.com/coursely/coursely-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SubmissionHandler exposes the submission ledger over HTTP: student attempts
// and history, instructor grading and the resubmission workflow.
type SubmissionHandler struct {
	submissionService *service.SubmissionService
	log               zerolog.Logger
}

// NewSubmissionHandler creates a new SubmissionHandler.
func NewSubmissionHandler(submissionService *service.SubmissionService, log zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		submissionService: submissionService,
		log:               log.With().Str("component", "submission_handler").Logger(),
	}
}

// Submit godoc
// POST /api/v1/student/submissions
// Records an attempt, creating or updating the student's single record for
// the assignment. Untimed assignments submit here; proctored sessions go
// through the websocket stream instead.
func (h *SubmissionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sub, err := h.submissionService.Submit(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotEnrolled):
			response.Fail(c, http.StatusForbidden, response.ErrNotEnrolled)
		case errors.Is(err, service.ErrSubmissionClosed):
			response.Fail(c, http.StatusConflict, response.ErrSubmissionClosed)
		default:
			h.log.Error().Err(err).Int("student_id", claims.UserID).Msg("Submit failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, sub)
}

// ListMine godoc
// GET /api/v1/student/submissions?course_id=
func (h *SubmissionHandler) ListMine(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var courseID *uuid.UUID
	if raw := c.Query("course_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		courseID = &id
	}

	subs, err := h.submissionService.ListMine(c.Request.Context(), claims.UserID, courseID)
	if err != nil {
		h.log.Error().Err(err).Int("student_id", claims.UserID).Msg("List submissions failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, subs)
}

// GetMine godoc
// GET /api/v1/student/courses/:course_id/assignments/:assignment_id/submission
func (h *SubmissionHandler) GetMine(c *gin.Context) {
	claims := middleware.GetClaims(c)

	courseID, err := uuid.Parse(c.Param("course_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	assignmentID, err := uuid.Parse(c.Param("assignment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sub, err := h.submissionService.GetMine(c.Request.Context(), claims.UserID, courseID, assignmentID)
	if err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Int("student_id", claims.UserID).Msg("Get submission failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, sub)
}

// RequestResubmission godoc
// POST /api/v1/student/submissions/:submission_id/request-resubmit
func (h *SubmissionHandler) RequestResubmission(c *gin.Context) {
	claims := middleware.GetClaims(c)

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	err = h.submissionService.RequestResubmission(c.Request.Context(), claims.UserID, submissionID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSubmissionNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrAlreadyReopened):
			response.Fail(c, http.StatusConflict, response.ErrResubmitNotAllowed)
		default:
			h.log.Error().Err(err).Int("student_id", claims.UserID).Msg("Resubmission request failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"resubmission_requested": true})
}

// ListCourse godoc
// GET /api/v1/instructor/courses/:course_id/submissions?page=&per_page=
func (h *SubmissionHandler) ListCourse(c *gin.Context) {
	claims := middleware.GetClaims(c)

	courseID, err := uuid.Parse(c.Param("course_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "25"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 25
	}

	subs, total, err := h.submissionService.ListCourse(c.Request.Context(), claims.UserID, courseID, page, perPage)
	if err != nil {
		if errors.Is(err, service.ErrNotCourseInstructor) {
			response.Fail(c, http.StatusForbidden, response.ErrNotCourseInstructor)
			return
		}
		h.log.Error().Err(err).Str("course_id", courseID.String()).Msg("List course submissions failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, subs, response.NewPagination(page, perPage, total))
}

// Grade godoc
// PUT /api/v1/instructor/submissions/:submission_id/grade
func (h *SubmissionHandler) Grade(c *gin.Context) {
	claims := middleware.GetClaims(c)

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.GradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sub, err := h.submissionService.Grade(c.Request.Context(), claims.UserID, submissionID, *req.Grade, req.Feedback)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSubmissionNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrNotCourseInstructor):
			response.Fail(c, http.StatusForbidden, response.ErrNotCourseInstructor)
		default:
			h.log.Error().Err(err).Str("submission_id", submissionID.String()).Msg("Grade failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, sub)
}

// ApproveResubmission godoc
// POST /api/v1/instructor/submissions/:submission_id/approve-resubmit
func (h *SubmissionHandler) ApproveResubmission(c *gin.Context) {
	claims := middleware.GetClaims(c)

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sub, err := h.submissionService.ApproveResubmission(c.Request.Context(), claims.UserID, submissionID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSubmissionNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrNotCourseInstructor):
			response.Fail(c, http.StatusForbidden, response.ErrNotCourseInstructor)
		default:
			h.log.Error().Err(err).Str("submission_id", submissionID.String()).Msg("Approve resubmission failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, sub)
}
