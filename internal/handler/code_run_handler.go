package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/mindcraft/mindcraft-backend/internal/response"
	"github.com/mindcraft/mindcraft-backend/internal/service"
	"github.com/mindcraft/mindcraft-backend/internal/validator"
	"github.com/rs/zerolog"
)

// CodeRunHandler runs submitted code against caller-supplied test cases.
type CodeRunHandler struct {
	runner service.CodeRunner
	log    zerolog.Logger
}

// NewCodeRunHandler creates a new CodeRunHandler.
func NewCodeRunHandler(runner service.CodeRunner, log zerolog.Logger) *CodeRunHandler {
	return &CodeRunHandler{
		runner: runner,
		log:    log.With().Str("component", "code_run_handler").Logger(),
	}
}

// Run godoc
// POST /api/v1/code/run
// 400 on malformed input or an unsupported language, 500 when execution
// itself could not be performed.
func (h *CodeRunHandler) Run(c *gin.Context) {
	var req model.CodeRunRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	results, err := h.runner.Run(c.Request.Context(), req.Language, req.Code, req.TestCases)
	if err != nil {
		status, _ := classify(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("language", req.Language).Msg("Code run failed")
		}
		failAttemptError(c, err, uuid.Nil)
		return
	}

	response.Success(c, http.StatusOK, model.CodeRunResponse{Results: results})
}
