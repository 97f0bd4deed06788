package model

import (
	"time"

	"github.com/google/uuid"
)

// ReleaseMode controls when a student may see an attempt's score.
type ReleaseMode string

const (
	ReleaseModeAuto   ReleaseMode = "auto"
	ReleaseModeManual ReleaseMode = "manual"
)

// Exam represents a timed assessment.
type Exam struct {
	ID               uuid.UUID   `json:"id"`
	Title            string      `json:"title"`
	Topic            *string     `json:"topic,omitempty"`
	TimeLimitMinutes int         `json:"time_limit_minutes"`
	AttemptLimit     int         `json:"attempt_limit"`
	ReleaseMode      ReleaseMode `json:"release_mode"`
	ScheduledStart   *time.Time  `json:"scheduled_start,omitempty"`
	ScheduledEnd     *time.Time  `json:"scheduled_end,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// TimeLimit returns the exam's time limit as a duration.
func (e *Exam) TimeLimit() time.Duration {
	return time.Duration(e.TimeLimitMinutes) * time.Minute
}

// ReleasesAutomatically reports whether attempts are released on submission.
func (e *Exam) ReleasesAutomatically() bool {
	return e.ReleaseMode == ReleaseModeAuto
}

// ExamPayload is what a student receives when entering an exam (no answer keys).
type ExamPayload struct {
	ExamID           uuid.UUID            `json:"exam_id"`
	Title            string               `json:"title"`
	Topic            *string              `json:"topic,omitempty"`
	TimeLimitMinutes int                  `json:"time_limit_minutes"`
	Questions        []QuestionForStudent `json:"questions"`
}

// GrantExtraAttemptsRequest is the payload for granting extra attempts to a student.
type GrantExtraAttemptsRequest struct {
	StudentID string `json:"student_id" binding:"required,uuid"`
	Extra     int    `json:"extra" binding:"required,min=1,max=10"`
}
