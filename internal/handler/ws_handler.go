package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mindcraft/mindcraft-backend/internal/engine"
	"github.com/mindcraft/mindcraft-backend/internal/middleware"
	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/mindcraft/mindcraft-backend/internal/response"
	"github.com/mindcraft/mindcraft-backend/internal/service"
	ws "github.com/mindcraft/mindcraft-backend/internal/websocket"
	"github.com/rs/zerolog"
)

// runTimeout bounds one practice run over all test cases.
const runTimeout = 2 * time.Minute

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

// WSHandler handles the WebSocket attempt stream.
type WSHandler struct {
	registry *service.SessionRegistry
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(registry *service.SessionRegistry, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		registry: registry,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Joins (or re-attaches to) the student's live attempt and streams its events.
// Closing the socket does not end the attempt; the countdown keeps running.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	studentID, ok := middleware.GetUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Eligibility failures are reported as plain HTTP before upgrading.
	ls, err := h.registry.Join(c.Request.Context(), examID, studentID)
	if err != nil {
		failAttemptError(c, err, examID)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Str("student_id", studentID.String()).
		Str("exam_id", examID.String()).
		Logger()

	detach := ls.Listen(&wsListener{conn: conn})
	defer detach()

	_ = conn.WriteTyped(ws.StateResponse{
		Event:    ws.EventState,
		Exam:     ls.Payload(),
		Snapshot: ls.Snapshot(),
	})

	wsLog.Info().Msg("Student connected")

	s := &streamSession{h: h, ls: ls, conn: conn, log: wsLog}
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		s.handle(msg)
	}
}

// streamSession handles the actions of one connection.
type streamSession struct {
	h       *WSHandler
	ls      *service.LiveSession
	conn    *ws.Conn
	log     zerolog.Logger
	running atomic.Bool
}

func (s *streamSession) handle(msg []byte) {
	var env ws.RequestEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		_ = s.conn.WriteError("invalid message")
		return
	}

	ctx := context.Background()
	switch env.Action {
	case ws.ActionAnswer:
		var req ws.AnswerRequest
		qid, ok := s.decodeWithQID(msg, &req, func() string { return req.QID })
		if !ok {
			return
		}
		s.reply(s.ls.SetAnswer(ctx, qid, req.Answer), ws.SavedResponse{Event: ws.EventSaved, QID: req.QID})

	case ws.ActionCode:
		var req ws.CodeRequest
		qid, ok := s.decodeWithQID(msg, &req, func() string { return req.QID })
		if !ok {
			return
		}
		s.reply(s.ls.SetCode(ctx, qid, req.Code, req.Language), ws.SavedResponse{Event: ws.EventSaved, QID: req.QID})

	case ws.ActionRun:
		var req ws.RunRequest
		qid, ok := s.decodeWithQID(msg, &req, func() string { return req.QID })
		if !ok {
			return
		}
		if !s.running.CompareAndSwap(false, true) {
			_ = s.conn.WriteError("a run is already in progress")
			return
		}
		// Runs take seconds; proctoring events must keep flowing meanwhile.
		go func() {
			defer s.running.Store(false)
			runCtx, cancel := context.WithTimeout(context.Background(), runTimeout)
			defer cancel()
			results, err := s.h.registry.RunPractice(runCtx, s.ls, qid, req.Code, req.Language)
			if err != nil {
				s.log.Warn().Err(err).Str("q_id", req.QID).Msg("Practice run failed")
			}
			s.reply(err, ws.RunResultResponse{Event: ws.EventRunResult, QID: req.QID, Results: results})
		}()

	case ws.ActionNavigate:
		var req ws.NavigateRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			_ = s.conn.WriteError("invalid navigate payload")
			return
		}
		if err := s.ls.Navigate(req.Index); err != nil {
			_ = s.conn.WriteError(err.Error())
		}

	case ws.ActionProctor:
		var req ws.ProctorRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			_ = s.conn.WriteError("invalid proctor payload")
			return
		}
		if req.Event.At.IsZero() {
			req.Event.At = time.Now()
		}
		verdict := s.ls.Dispatch(req.Event)
		_ = s.conn.WriteTyped(ws.VerdictResponse{Event: ws.EventVerdict, Verdict: verdict})

	case ws.ActionSubmit:
		// The outcome reaches the client through the listener.
		if _, err := s.ls.Submit(ctx, engine.TriggerManual); err != nil && !errors.Is(err, engine.ErrPersistFailed) {
			_ = s.conn.WriteError(err.Error())
		}

	case ws.ActionPing:
		_ = s.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})

	default:
		s.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		_ = s.conn.WriteError("unknown action: " + string(env.Action))
	}
}

func (s *streamSession) decodeWithQID(msg []byte, dst any, qid func() string) (uuid.UUID, bool) {
	if err := json.Unmarshal(msg, dst); err != nil {
		_ = s.conn.WriteError("invalid payload")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(qid())
	if err != nil {
		_ = s.conn.WriteError("invalid q_id format")
		return uuid.Nil, false
	}
	return id, true
}

func (s *streamSession) reply(err error, ok any) {
	if err != nil {
		_ = s.conn.WriteError(err.Error())
		return
	}
	_ = s.conn.WriteTyped(ok)
}

// wsListener forwards session events to one connection.
type wsListener struct {
	conn *ws.Conn
}

func (l *wsListener) Tick(remaining int) {
	_ = l.conn.WriteTyped(ws.TickResponse{Event: ws.EventTick, Remaining: remaining})
}

func (l *wsListener) Violation(v model.Violation, warning string, forceSubmit bool) {
	ev := ws.EventViolation
	if warning != "" {
		ev = ws.EventWarning
	}
	_ = l.conn.WriteTyped(ws.WarningResponse{
		Event:       ev,
		Message:     warning,
		Violation:   v,
		ForceSubmit: forceSubmit,
	})
}

func (l *wsListener) Submitted(a *model.Attempt, trigger engine.Trigger) {
	out := ws.SubmittedResponse{
		Event:     ws.EventSubmitted,
		AttemptID: a.ID.String(),
		Trigger:   string(trigger),
		Released:  a.Released,
	}
	if a.Released {
		score := a.Score
		out.Score = &score
	}
	_ = l.conn.WriteTyped(out)
}

func (l *wsListener) SubmitFailed(err error, trigger engine.Trigger) {
	_ = l.conn.WriteTyped(ws.SubmitFailedResponse{
		Event:   ws.EventSubmitFailed,
		Trigger: string(trigger),
		Error:   err.Error(),
	})
}
