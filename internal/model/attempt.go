package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states. Only completed attempts are stored.
type AttemptStatus string

const (
	AttemptStatusCompleted AttemptStatus = "completed"
)

// ViolationType enumerates integrity-rule breaches.
type ViolationType string

const (
	// ViolationFullscreenExit is accepted in stored records but never emitted;
	// fullscreen changes only toggle the exposed flag.
	ViolationFullscreenExit ViolationType = "fullscreen_exit"
	ViolationTabSwitch      ViolationType = "tab_switch"
	ViolationCopyPaste      ViolationType = "copy_paste"
	ViolationKeyShortcut    ViolationType = "key_shortcut"
)

// Violation is one recorded breach; Count is the running total (1-indexed).
type Violation struct {
	Type      ViolationType `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Count     int           `json:"count"`
}

// Attempt is one completed exam session. Append-only except Released.
type Attempt struct {
	ID          uuid.UUID     `json:"id"`
	ExamID      uuid.UUID     `json:"exam_id"`
	StudentID   uuid.UUID     `json:"student_id"`
	Answers     AnswerSheet   `json:"answers"`
	Score       float64       `json:"score"`
	Status      AttemptStatus `json:"status"`
	Released    bool          `json:"released"`
	Violations  []Violation   `json:"violations,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// AttemptSummary is an attempt as listed to its owner. Score is nil until released.
type AttemptSummary struct {
	ID             uuid.UUID `json:"id"`
	ExamID         uuid.UUID `json:"exam_id"`
	ExamTitle      string    `json:"exam_title"`
	Score          *float64  `json:"score"`
	Released       bool      `json:"released"`
	ViolationCount int       `json:"violation_count"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// HelpRequestStatus enumerates help-desk request states.
type HelpRequestStatus string

const (
	HelpRequestOpen HelpRequestStatus = "open"
)

// HelpRequest is a student's request for an extra attempt.
type HelpRequest struct {
	ID        uuid.UUID         `json:"id"`
	ExamID    uuid.UUID         `json:"exam_id"`
	StudentID uuid.UUID         `json:"student_id"`
	Message   string            `json:"message"`
	Status    HelpRequestStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// CreateHelpRequest is the payload for requesting an extra attempt.
type CreateHelpRequest struct {
	Message string `json:"message" binding:"required,min=3,max=1000"`
}

// CodeRunRequest is the payload of the standalone code-run endpoint.
type CodeRunRequest struct {
	Language  string     `json:"language" binding:"required"`
	Code      string     `json:"code" binding:"required"`
	TestCases []TestCase `json:"testCases" binding:"required,min=1,max=50,dive"`
}

// CodeRunResponse wraps the per-test-case results.
type CodeRunResponse struct {
	Results []TestCaseResult `json:"results"`
}
