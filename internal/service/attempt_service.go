package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/rs/zerolog"
)

// Eligibility and attempt errors. Messages are shown to students as-is.
var (
	ErrExamNotFound        = errors.New("exam not found")
	ErrExamNotYetAvailable = errors.New("not yet available")
	ErrExamPeriodEnded     = errors.New("period ended")
	ErrAttemptLimitReached = errors.New("attempt limit reached")
	ErrAttemptNotFound     = errors.New("attempt not found")
)

// ExamStore reads exams.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListAvailable(ctx context.Context) ([]model.Exam, error)
}

// QuestionStore reads questions.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// AttemptStore reads and writes attempts.
type AttemptStore interface {
	Create(ctx context.Context, a *model.Attempt) error
	CountByExamAndStudent(ctx context.Context, examID, studentID uuid.UUID) (int, error)
	LatestSubmittedAt(ctx context.Context, examID, studentID uuid.UUID) (*time.Time, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID) ([]model.AttemptSummary, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	SetReleased(ctx context.Context, id uuid.UUID, released bool) error
	ReleaseByExam(ctx context.Context, examID uuid.UUID) (int64, error)
}

// GrantStore reads and writes extra-attempt grants.
type GrantStore interface {
	SumExtra(ctx context.Context, examID, studentID uuid.UUID) (int, error)
	Create(ctx context.Context, examID, studentID, grantedBy uuid.UUID, extra int) error
}

// HelpRequestStore writes help-desk requests.
type HelpRequestStore interface {
	Create(ctx context.Context, h *model.HelpRequest) error
}

// LoadedExam is everything needed to render an attempt.
type LoadedExam struct {
	Exam                 *model.Exam
	Questions            []model.Question
	TimeRemainingSeconds int
	AttemptsTaken        int
	EffectiveLimit       int
	// LastSubmittedAt is when the student's previous attempt was stored, if any.
	LastSubmittedAt      *time.Time
}

// AttemptService loads exams for students, records attempts and handles
// releases, grants and help-desk requests.
type AttemptService struct {
	exams     ExamStore
	questions QuestionStore
	attempts  AttemptStore
	grants    GrantStore
	help      HelpRequestStore
	now       func() time.Time
	log       zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	exams ExamStore,
	questions QuestionStore,
	attempts AttemptStore,
	grants GrantStore,
	help HelpRequestStore,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		exams:     exams,
		questions: questions,
		attempts:  attempts,
		grants:    grants,
		help:      help,
		now:       time.Now,
		log:       log.With().Str("component", "attempt_service").Logger(),
	}
}

// LoadExam checks, in order, that the exam exists, that its scheduling window is
// open and that the student has attempts left, then loads its questions.
func (s *AttemptService) LoadExam(ctx context.Context, examID, studentID uuid.UUID) (*LoadedExam, error) {
	return s.load(ctx, examID, studentID, true)
}

// LoadForResume is LoadExam without the scheduling checks, for an attempt that
// was already started inside its window.
func (s *AttemptService) LoadForResume(ctx context.Context, examID, studentID uuid.UUID) (*LoadedExam, error) {
	return s.load(ctx, examID, studentID, false)
}

func (s *AttemptService) load(ctx context.Context, examID, studentID uuid.UUID, checkSchedule bool) (*LoadedExam, error) {
	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	if checkSchedule {
		if err := CheckSchedule(exam, s.now()); err != nil {
			return nil, err
		}
	}

	taken, limit, err := s.attemptBudget(ctx, exam, studentID)
	if err != nil {
		return nil, err
	}
	if taken >= limit {
		return nil, ErrAttemptLimitReached
	}

	var last *time.Time
	if taken > 0 {
		if last, err = s.attempts.LatestSubmittedAt(ctx, examID, studentID); err != nil {
			return nil, fmt.Errorf("latest attempt: %w", err)
		}
	}

	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	return &LoadedExam{
		Exam:                 exam,
		Questions:            questions,
		TimeRemainingSeconds: exam.TimeLimitMinutes * 60,
		AttemptsTaken:        taken,
		EffectiveLimit:       limit,
		LastSubmittedAt:      last,
	}, nil
}

// CheckSchedule returns the scheduling denial for exam at now, if any.
func CheckSchedule(exam *model.Exam, now time.Time) error {
	if exam.ScheduledStart != nil && now.Before(*exam.ScheduledStart) {
		return ErrExamNotYetAvailable
	}
	if exam.ScheduledEnd != nil && now.After(*exam.ScheduledEnd) {
		return ErrExamPeriodEnded
	}
	return nil
}

// attemptBudget returns attempts taken and the effective limit (base + grants).
func (s *AttemptService) attemptBudget(ctx context.Context, exam *model.Exam, studentID uuid.UUID) (int, int, error) {
	taken, err := s.attempts.CountByExamAndStudent(ctx, exam.ID, studentID)
	if err != nil {
		return 0, 0, fmt.Errorf("count attempts: %w", err)
	}
	extra, err := s.grants.SumExtra(ctx, exam.ID, studentID)
	if err != nil {
		return 0, 0, fmt.Errorf("sum extra attempts: %w", err)
	}
	return taken, exam.AttemptLimit + extra, nil
}

// HasAttempt reports whether the student has stored at least one attempt at the exam.
func (s *AttemptService) HasAttempt(ctx context.Context, examID, studentID uuid.UUID) (bool, error) {
	n, err := s.attempts.CountByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		return false, fmt.Errorf("count attempts: %w", err)
	}
	return n > 0, nil
}

// GetExam retrieves an exam, mapping a missing row to ErrExamNotFound.
func (s *AttemptService) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return exam, nil
}

// ListAvailableExams returns exams whose window has not ended.
func (s *AttemptService) ListAvailableExams(ctx context.Context) ([]model.Exam, error) {
	exams, err := s.exams.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	return exams, nil
}

// PersistAttempt writes the single attempt record of a session.
func (s *AttemptService) PersistAttempt(ctx context.Context, a *model.Attempt) (*model.Attempt, error) {
	if err := s.attempts.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	return a, nil
}

// ListMyAttempts lists a student's attempts with unreleased scores withheld.
func (s *AttemptService) ListMyAttempts(ctx context.Context, studentID uuid.UUID) ([]model.AttemptSummary, error) {
	out, err := s.attempts.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return out, nil
}

// GetMyAttempt returns one of the student's own attempts. Until it is released
// the score and per-question results are hidden.
func (s *AttemptService) GetMyAttempt(ctx context.Context, attemptID, studentID uuid.UUID) (*model.Attempt, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.StudentID != studentID {
		return nil, ErrAttemptNotFound
	}
	if !a.Released {
		a.Score = 0
		for _, ans := range a.Answers {
			if c, ok := ans.(*model.CodingAnswer); ok {
				c.TestResults = nil
				c.Score = 0
			}
		}
	} else {
		for _, ans := range a.Answers {
			if c, ok := ans.(*model.CodingAnswer); ok {
				c.TestResults = model.Redact(c.TestResults)
			}
		}
	}
	return a, nil
}

// ListExamAttempts lists every attempt of an exam for administrators.
func (s *AttemptService) ListExamAttempts(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error) {
	if _, err := s.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	out, err := s.attempts.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list exam attempts: %w", err)
	}
	return out, nil
}

// ReleaseAttempt makes one attempt's score visible to its student.
func (s *AttemptService) ReleaseAttempt(ctx context.Context, attemptID uuid.UUID) error {
	if err := s.attempts.SetReleased(ctx, attemptID, true); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("release attempt: %w", err)
	}
	s.log.Info().Str("attempt_id", attemptID.String()).Msg("Attempt released")
	return nil
}

// ReleaseExam releases every attempt of an exam.
func (s *AttemptService) ReleaseExam(ctx context.Context, examID uuid.UUID) (int64, error) {
	if _, err := s.GetExam(ctx, examID); err != nil {
		return 0, err
	}
	n, err := s.attempts.ReleaseByExam(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("release exam attempts: %w", err)
	}
	s.log.Info().Str("exam_id", examID.String()).Int64("released", n).Msg("Exam attempts released")
	return n, nil
}

// GrantExtraAttempts adds extra attempts for one student at one exam.
func (s *AttemptService) GrantExtraAttempts(ctx context.Context, examID, studentID, adminID uuid.UUID, extra int) error {
	if _, err := s.GetExam(ctx, examID); err != nil {
		return err
	}
	if err := s.grants.Create(ctx, examID, studentID, adminID, extra); err != nil {
		return fmt.Errorf("grant extra attempts: %w", err)
	}
	s.log.Info().
		Str("exam_id", examID.String()).
		Str("student_id", studentID.String()).
		Int("extra", extra).
		Msg("Extra attempts granted")
	return nil
}

// RequestExtraAttempt files a help-desk request for an exam.
func (s *AttemptService) RequestExtraAttempt(ctx context.Context, examID, studentID uuid.UUID, message string) (*model.HelpRequest, error) {
	if _, err := s.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	h := &model.HelpRequest{ExamID: examID, StudentID: studentID, Message: message}
	if err := s.help.Create(ctx, h); err != nil {
		return nil, fmt.Errorf("create help request: %w", err)
	}
	return h, nil
}
