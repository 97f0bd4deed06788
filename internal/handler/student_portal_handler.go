package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/engine"
	"github.com/mindcraft/mindcraft-backend/internal/middleware"
	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/mindcraft/mindcraft-backend/internal/response"
	"github.com/mindcraft/mindcraft-backend/internal/service"
	"github.com/mindcraft/mindcraft-backend/internal/validator"
	"github.com/rs/zerolog"
)

// StudentPortalHandler handles student-facing endpoints (exam taking, results).
type StudentPortalHandler struct {
	attemptService *service.AttemptService
	registry       *service.SessionRegistry
	log            zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(
	attemptService *service.AttemptService,
	registry *service.SessionRegistry,
	log zerolog.Logger,
) *StudentPortalHandler {
	return &StudentPortalHandler{
		attemptService: attemptService,
		registry:       registry,
		log:            log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// attemptStateResponse is the exam plus the live state of the student's attempt.
type attemptStateResponse struct {
	Exam     model.ExamPayload `json:"exam"`
	Snapshot engine.Snapshot   `json:"snapshot"`
}

// submittedResponse hides the score until the attempt is released.
type submittedResponse struct {
	AttemptID   uuid.UUID `json:"attempt_id"`
	Released    bool      `json:"released"`
	Score       *float64  `json:"score,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func newSubmittedResponse(a *model.Attempt) submittedResponse {
	out := submittedResponse{
		AttemptID:   a.ID,
		Released:    a.Released,
		SubmittedAt: a.SubmittedAt,
	}
	if a.Released {
		score := a.Score
		out.Score = &score
	}
	return out
}

// ListExams godoc
// GET /api/v1/student/exams
// Returns exams whose scheduling window has not ended.
func (h *StudentPortalHandler) ListExams(c *gin.Context) {
	exams, err := h.attemptService.ListAvailableExams(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list exams")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// StartExam godoc
// POST /api/v1/student/exams/:exam_id/start
// Runs the eligibility checks and starts (or resumes) the attempt. Idempotent.
func (h *StudentPortalHandler) StartExam(c *gin.Context) {
	studentID, examID, ok := h.studentAndExam(c)
	if !ok {
		return
	}

	ls, err := h.registry.Join(c.Request.Context(), examID, studentID)
	if err != nil {
		h.logUnexpected(err, "Failed to start exam")
		failAttemptError(c, err, examID)
		return
	}

	response.Success(c, http.StatusOK, attemptStateResponse{
		Exam:     ls.Payload(),
		Snapshot: ls.Snapshot(),
	})
}

// GetExamState godoc
// GET /api/v1/student/exams/:exam_id/state
// Returns the live state of the attempt, used after a page reload.
func (h *StudentPortalHandler) GetExamState(c *gin.Context) {
	studentID, examID, ok := h.studentAndExam(c)
	if !ok {
		return
	}

	ls, found := h.registry.Get(examID, studentID)
	if !found {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, attemptStateResponse{
		Exam:     ls.Payload(),
		Snapshot: ls.Snapshot(),
	})
}

// SubmitExam godoc
// POST /api/v1/student/exams/:exam_id/submit
// Manual submission. A failed save leaves the attempt open for a retry.
func (h *StudentPortalHandler) SubmitExam(c *gin.Context) {
	studentID, examID, ok := h.studentAndExam(c)
	if !ok {
		return
	}

	ls, found := h.registry.Get(examID, studentID)
	if !found {
		h.failNoLiveAttempt(c, examID, studentID)
		return
	}

	attempt, err := ls.Submit(c.Request.Context(), engine.TriggerManual)
	if err != nil {
		h.logUnexpected(err, "Failed to submit attempt")
		failAttemptError(c, err, examID)
		return
	}

	response.Success(c, http.StatusOK, newSubmittedResponse(attempt))
}

// RequestExtraAttempt godoc
// POST /api/v1/student/exams/:exam_id/extra-attempt-requests
// Files a help-desk request for another attempt.
func (h *StudentPortalHandler) RequestExtraAttempt(c *gin.Context) {
	studentID, examID, ok := h.studentAndExam(c)
	if !ok {
		return
	}

	var req model.CreateHelpRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	hr, err := h.attemptService.RequestExtraAttempt(c.Request.Context(), examID, studentID, req.Message)
	if err != nil {
		h.logUnexpected(err, "Failed to create help request")
		failAttemptError(c, err, examID)
		return
	}

	response.Success(c, http.StatusCreated, hr)
}

// ListMyAttempts godoc
// GET /api/v1/student/attempts
// Lists the student's attempts; scores stay hidden until released.
func (h *StudentPortalHandler) ListMyAttempts(c *gin.Context) {
	studentID, ok := middleware.GetUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attempts, err := h.attemptService.ListMyAttempts(c.Request.Context(), studentID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list attempts")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if attempts == nil {
		attempts = []model.AttemptSummary{}
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// GetMyAttempt godoc
// GET /api/v1/student/attempts/:id
func (h *StudentPortalHandler) GetMyAttempt(c *gin.Context) {
	studentID, ok := middleware.GetUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.GetMyAttempt(c.Request.Context(), attemptID, studentID)
	if err != nil {
		h.logUnexpected(err, "Failed to get attempt")
		failAttemptError(c, err, uuid.Nil)
		return
	}

	if !attempt.Released {
		response.Success(c, http.StatusOK, gin.H{"attempt": newSubmittedResponse(attempt)})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

func (h *StudentPortalHandler) studentAndExam(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	studentID, ok := middleware.GetUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return uuid.Nil, uuid.Nil, false
	}
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, uuid.Nil, false
	}
	return studentID, examID, true
}

// failNoLiveAttempt answers a submit with no live session: a repeat of a stored
// submission is a conflict, anything else is not found.
func (h *StudentPortalHandler) failNoLiveAttempt(c *gin.Context, examID, studentID uuid.UUID) {
	submitted, err := h.attemptService.HasAttempt(c.Request.Context(), examID, studentID)
	if err != nil {
		h.logUnexpected(err, "Failed to look up attempts")
		failAttemptError(c, err, examID)
		return
	}
	if submitted {
		failAttemptError(c, engine.ErrAlreadySubmitted, examID)
		return
	}
	response.Fail(c, http.StatusNotFound, response.ErrNotFound)
}

func (h *StudentPortalHandler) logUnexpected(err error, msg string) {
	if status, _ := classify(err); status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(msg)
	}
}
