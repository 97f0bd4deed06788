package websocket

import (
	"github.com/mindcraft/mindcraft-backend/internal/engine"
	"github.com/mindcraft/mindcraft-backend/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionCode     Action = "code"
	ActionRun      Action = "run"
	ActionNavigate Action = "navigate"
	ActionProctor  Action = "proctor"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest records an MCQ choice.
type AnswerRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id"`
	Answer string `json:"ans"`
}

// CodeRequest records the latest code of a coding question.
type CodeRequest struct {
	Action   Action `json:"action"`
	QID      string `json:"q_id"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

// RunRequest runs a coding answer against the question's test cases.
type RunRequest struct {
	Action   Action `json:"action"`
	QID      string `json:"q_id"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

// NavigateRequest sets the displayed question.
type NavigateRequest struct {
	Action Action `json:"action"`
	Index  int    `json:"index"`
}

// ProctorRequest forwards one raw browser event.
type ProctorRequest struct {
	Action Action       `json:"action"`
	Event  engine.Event `json:"event"`
}

// SubmitRequest is sent by the client to finish and grade the exam.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState        Event = "state"
	EventTick         Event = "tick"
	EventSaved        Event = "saved"
	EventVerdict      Event = "verdict"
	EventWarning      Event = "warning"
	EventViolation    Event = "violation"
	EventRunResult    Event = "run_result"
	EventSubmitted    Event = "submitted"
	EventSubmitFailed Event = "submit_failed"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

// StateResponse is sent once after connecting: the exam and the live state.
type StateResponse struct {
	Event    Event             `json:"event"`
	Exam     model.ExamPayload `json:"exam"`
	Snapshot engine.Snapshot   `json:"snapshot"`
}

type TickResponse struct {
	Event     Event `json:"event"`
	Remaining int   `json:"remaining_seconds"`
}

type SavedResponse struct {
	Event Event  `json:"event"`
	QID   string `json:"q_id"`
}

// VerdictResponse tells the client shim how to treat a forwarded event.
type VerdictResponse struct {
	Event   Event          `json:"event"`
	Verdict engine.Verdict `json:"verdict"`
}

type WarningResponse struct {
	Event       Event           `json:"event"`
	Message     string          `json:"message"`
	Violation   model.Violation `json:"violation"`
	ForceSubmit bool            `json:"force_submit"`
}

type RunResultResponse struct {
	Event   Event                  `json:"event"`
	QID     string                 `json:"q_id"`
	Results []model.TestCaseResult `json:"results"`
}

// SubmittedResponse carries the score only when the attempt is released.
type SubmittedResponse struct {
	Event     Event    `json:"event"`
	AttemptID string   `json:"attempt_id"`
	Trigger   string   `json:"trigger"`
	Released  bool     `json:"released"`
	Score     *float64 `json:"score,omitempty"`
}

type SubmitFailedResponse struct {
	Event   Event  `json:"event"`
	Trigger string `json:"trigger"`
	Error   string `json:"error"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
