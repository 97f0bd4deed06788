package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/engine"
	"github.com/mindcraft/mindcraft-backend/internal/executor"
	"github.com/mindcraft/mindcraft-backend/internal/response"
	"github.com/mindcraft/mindcraft-backend/internal/service"
)

// helpRequestPath is where a student asks for an extra attempt.
func helpRequestPath(examID uuid.UUID) string {
	return "/api/v1/student/exams/" + examID.String() + "/extra-attempt-requests"
}

// failAttemptError maps service, engine and executor errors onto the response envelope.
// The message is always the concrete reason.
func failAttemptError(c *gin.Context, err error, examID uuid.UUID) {
	status, code := classify(err)
	var fields map[string]string
	if errors.Is(err, service.ErrAttemptLimitReached) && examID != uuid.Nil {
		fields = map[string]string{"help_request": "POST " + helpRequestPath(examID)}
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = response.GetMessage(code)
	}
	response.FailWithMessage(c, status, code, msg, fields)
}

func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, service.ErrExamNotYetAvailable):
		return http.StatusForbidden, response.ErrExamNotYetAvailable
	case errors.Is(err, service.ErrExamPeriodEnded):
		return http.StatusForbidden, response.ErrExamPeriodEnded
	case errors.Is(err, service.ErrAttemptLimitReached):
		return http.StatusForbidden, response.ErrAttemptLimitReached
	case errors.Is(err, service.ErrAnotherExamActive):
		return http.StatusConflict, response.ErrAnotherExamActive
	case errors.Is(err, service.ErrAttemptNotFound):
		return http.StatusNotFound, response.ErrAttemptNotFound

	case errors.Is(err, engine.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, engine.ErrNotStarted),
		errors.Is(err, engine.ErrSubmissionInProgress),
		errors.Is(err, engine.ErrTimeUp):
		return http.StatusConflict, response.ErrConflict
	case errors.Is(err, engine.ErrUnknownQuestion),
		errors.Is(err, engine.ErrAnswerTypeMismatch),
		errors.Is(err, engine.ErrQuestionIndex):
		return http.StatusBadRequest, response.ErrInvalidPayload

	case errors.Is(err, executor.ErrUnsupportedLanguage):
		return http.StatusBadRequest, response.ErrUnsupportedLanguage
	case errors.Is(err, executor.ErrUnavailable):
		return http.StatusInternalServerError, response.ErrExecutorUnavailable
	}
	return http.StatusInternalServerError, response.ErrInternal
}
