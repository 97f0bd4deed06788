package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/middleware"
	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/mindcraft/mindcraft-backend/internal/response"
	"github.com/mindcraft/mindcraft-backend/internal/service"
	"github.com/mindcraft/mindcraft-backend/internal/validator"
	"github.com/rs/zerolog"
)

// AdminHandler handles attempt review, score release and attempt grants.
type AdminHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(attemptService *service.AttemptService, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "admin_handler").Logger(),
	}
}

// ListExamAttempts godoc
// GET /api/v1/admin/exams/:id/attempts
func (h *AdminHandler) ListExamAttempts(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempts, err := h.attemptService.ListExamAttempts(c.Request.Context(), examID)
	if err != nil {
		h.fail(c, err, "Failed to list exam attempts")
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// ReleaseAttempt godoc
// POST /api/v1/admin/attempts/:id/release
func (h *AdminHandler) ReleaseAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.attemptService.ReleaseAttempt(c.Request.Context(), attemptID); err != nil {
		h.fail(c, err, "Failed to release attempt")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"released": true})
}

// ReleaseExam godoc
// POST /api/v1/admin/exams/:id/release
// Releases every attempt of the exam.
func (h *AdminHandler) ReleaseExam(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	n, err := h.attemptService.ReleaseExam(c.Request.Context(), examID)
	if err != nil {
		h.fail(c, err, "Failed to release exam attempts")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"released": n})
}

// GrantExtraAttempts godoc
// POST /api/v1/admin/exams/:id/extra-attempts
func (h *AdminHandler) GrantExtraAttempts(c *gin.Context) {
	adminID, ok := middleware.GetUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.GrantExtraAttemptsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	studentID := uuid.MustParse(req.StudentID)

	if err := h.attemptService.GrantExtraAttempts(c.Request.Context(), examID, studentID, adminID, req.Extra); err != nil {
		h.fail(c, err, "Failed to grant extra attempts")
		return
	}
	response.Success(c, http.StatusCreated, gin.H{
		"exam_id":    examID,
		"student_id": studentID,
		"extra":      req.Extra,
	})
}

func (h *AdminHandler) fail(c *gin.Context, err error, msg string) {
	if status, _ := classify(err); status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(msg)
	}
	failAttemptError(c, err, uuid.Nil)
}
