package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/repository"
	"github.com/mindcraft/mindcraft-backend/internal/response"
	"github.com/mindcraft/mindcraft-backend/internal/service"
	"github.com/rs/zerolog"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

type MonitorHandler struct {
	monitorRepo    *repository.MonitorRepository
	attemptService *service.AttemptService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(
	monitorRepo *repository.MonitorRepository,
	attemptService *service.AttemptService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		monitorRepo:    monitorRepo,
		attemptService: attemptService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:id/monitor
// Streams a snapshot, then joined/violation/submitted events as they happen,
// with a periodic refresh and keep-alive pings.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.attemptService.GetExam(c.Request.Context(), examID)
	if err != nil {
		failAttemptError(c, err, uuid.Nil)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Subscribe before the snapshot so no event falls between the two.
	pubsub := h.monitorRepo.Subscribe(reqCtx, examID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	h.sendProgress(c, reqCtx, examID, "snapshot", gin.H{
		"id":                 examID.String(),
		"title":              exam.Title,
		"time_limit_minutes": exam.TimeLimitMinutes,
	})

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refreshes until something happens.
	active := false

	h.log.Info().Str("exam_id", examID.String()).Msg("Admin attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Admin disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Payloads are already JSON.
			writeSSEData(c, []byte(msg.Payload))
			active = true

		case <-refreshTicker.C:
			if !active {
				continue
			}
			h.sendProgress(c, reqCtx, examID, "refresh", nil)

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

// sendProgress polls DB+Redis and writes one progress event.
func (h *MonitorHandler) sendProgress(c *gin.Context, parentCtx context.Context, examID uuid.UUID, kind string, exam gin.H) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetExamProgress(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to fetch exam progress")
		if exam == nil {
			return
		}
		progress = &service.ExamProgress{
			Submitted: []repository.SubmittedStat{},
			Live:      []repository.LiveStat{},
		}
	}

	event := gin.H{"type": kind, "data": progress}
	if exam != nil {
		event["exam"] = exam
	}
	c.SSEvent("message", event)
	c.Writer.Flush()
}

func writeSSEData(c *gin.Context, payload []byte) {
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(payload)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
