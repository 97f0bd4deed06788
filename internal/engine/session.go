package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/rs/zerolog"
)

// Session errors.
var (
	ErrNotStarted           = errors.New("attempt has not started")
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrAlreadySubmitted     = errors.New("attempt already submitted")
	ErrTimeUp               = errors.New("time is up")
	ErrUnknownQuestion      = errors.New("question is not part of this exam")
	ErrAnswerTypeMismatch   = errors.New("answer type does not match question type")
	ErrQuestionIndex        = errors.New("question index out of range")
	ErrPersistFailed        = errors.New("failed to save attempt")
)

// Trigger identifies what started a submission.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerTimer     Trigger = "timer"
	TriggerViolation Trigger = "violation"
)

// Auto reports whether the submission was started by the engine rather than the student.
func (t Trigger) Auto() bool {
	return t != TriggerManual
}

// Persister writes the single Attempt of a session.
type Persister interface {
	PersistAttempt(ctx context.Context, attempt *model.Attempt) (*model.Attempt, error)
}

// DraftSaver keeps in-progress answers outside the process.
type DraftSaver interface {
	SaveDraft(ctx context.Context, questionID uuid.UUID, answer model.Answer) error
}

// Notifier receives session events. Calls happen outside session locks.
type Notifier interface {
	Tick(remaining int)
	Violation(v model.Violation, warning string, forceSubmit bool)
	Submitted(attempt *model.Attempt, trigger Trigger)
	SubmitFailed(err error, trigger Trigger)
}

// SessionConfig holds everything a session needs.
type SessionConfig struct {
	Exam      *model.Exam
	StudentID uuid.UUID
	Questions []model.Question
	// Remaining is the time left; zero submits as soon as the session starts.
	Remaining  time.Duration
	Answers    model.AnswerSheet
	Violations []model.Violation

	ViolationLimit   int
	ForceSubmitDelay time.Duration
	RetryDelay       time.Duration
	TickInterval     time.Duration

	Persister Persister
	Drafts    DraftSaver
	Notifier  Notifier
	Now       func() time.Time
	Log       zerolog.Logger
}

// Snapshot is the client-facing view of a live session.
type Snapshot struct {
	State          string            `json:"state"`
	Remaining      int               `json:"remaining_seconds"`
	CurrentIndex   int               `json:"current_index"`
	ViolationCount int               `json:"violation_count"`
	Fullscreen     bool              `json:"fullscreen"`
	Answers        model.AnswerSheet `json:"answers"`
}

// Session is one student's live attempt at one exam.
type Session struct {
	exam      *model.Exam
	studentID uuid.UUID
	questions []model.Question
	index     map[uuid.UUID]int

	lifecycle *Lifecycle
	countdown *Countdown
	monitor   *Monitor
	bus       *Bus
	subs      *Subscriptions

	mu      sync.Mutex
	answers model.AnswerSheet
	current int

	forcePending atomic.Bool
	expired      atomic.Bool

	forceDelay   time.Duration
	retryDelay   time.Duration
	tickInterval time.Duration

	persister Persister
	drafts    DraftSaver
	notifier  Notifier
	now       func() time.Time
	log       zerolog.Logger

	done     chan struct{}
	doneOnce sync.Once
}

// NewSession builds a session in the Loading state. Call Start to begin.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		exam:         cfg.Exam,
		studentID:    cfg.StudentID,
		questions:    cfg.Questions,
		index:        make(map[uuid.UUID]int, len(cfg.Questions)),
		lifecycle:    NewLifecycle(),
		bus:          NewBus(),
		subs:         &Subscriptions{},
		answers:      cfg.Answers,
		forceDelay:   cfg.ForceSubmitDelay,
		retryDelay:   cfg.RetryDelay,
		tickInterval: cfg.TickInterval,
		persister:    cfg.Persister,
		drafts:       cfg.Drafts,
		notifier:     cfg.Notifier,
		now:          cfg.Now,
		done:         make(chan struct{}),
	}
	for i, q := range cfg.Questions {
		s.index[q.ID] = i
	}
	if s.answers == nil {
		s.answers = make(model.AnswerSheet)
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.tickInterval <= 0 {
		s.tickInterval = time.Second
	}
	if s.retryDelay <= 0 {
		s.retryDelay = 5 * time.Second
	}
	s.log = cfg.Log.With().
		Str("component", "session").
		Str("exam_id", cfg.Exam.ID.String()).
		Str("student_id", cfg.StudentID.String()).
		Logger()

	s.monitor = NewMonitor(cfg.ViolationLimit, s.inProgress, s.codingDisplayed, s.now)
	s.monitor.Restore(cfg.Violations)

	seconds := int(cfg.Remaining / time.Second)
	s.countdown = NewCountdown(seconds, s.notifier.Tick, s.onExpire)
	return s
}

// ExamID returns the exam of this session.
func (s *Session) ExamID() uuid.UUID { return s.exam.ID }

// StudentID returns the owner of this session.
func (s *Session) StudentID() uuid.UUID { return s.studentID }

// State returns the lifecycle state.
func (s *Session) State() State { return s.lifecycle.State() }

// Done is closed once the attempt is submitted or the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Questions returns the exam's questions in display order.
func (s *Session) Questions() []model.Question { return s.questions }

// Start enters InProgress, attaches the proctoring subscriptions and starts the countdown.
func (s *Session) Start() error {
	if !s.lifecycle.Begin() {
		return fmt.Errorf("start session: lifecycle is %s", s.lifecycle.State())
	}
	s.monitor.Attach(s.bus, s.subs)
	s.subs.Add(s.countdown.Stop)
	s.countdown.Start(s.tickInterval)

	s.log.Info().
		Int("remaining_seconds", s.countdown.Remaining()).
		Int("violations", s.monitor.Count()).
		Msg("Attempt started")

	if s.monitor.LimitReached() {
		s.scheduleForcedSubmit()
	}
	return nil
}

// Close tears down every subscription and the countdown without submitting.
func (s *Session) Close() {
	s.subs.Close()
	s.doneOnce.Do(func() { close(s.done) })
}

// Snapshot returns the client-facing state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	answers := s.answers.Clone()
	current := s.current
	s.mu.Unlock()

	return Snapshot{
		State:          s.lifecycle.State().String(),
		Remaining:      s.countdown.Remaining(),
		CurrentIndex:   current,
		ViolationCount: s.monitor.Count(),
		Fullscreen:     s.monitor.Fullscreen(),
		Answers:        answers,
	}
}

// Violations returns the violation log so far.
func (s *Session) Violations() []model.Violation {
	return s.monitor.Violations()
}

// Dispatch routes a raw proctoring event through the subscribed monitor.
// After teardown events are ignored.
func (s *Session) Dispatch(ev Event) Verdict {
	v := s.bus.Dispatch(ev)
	if v.Violation != nil {
		s.log.Warn().
			Str("type", string(v.Violation.Type)).
			Int("count", v.Violation.Count).
			Msg("Proctoring violation")
		s.notifier.Violation(*v.Violation, v.Warning, v.ForceSubmit)
	}
	if v.ForceSubmit {
		s.scheduleForcedSubmit()
	}
	return v
}

// Navigate sets the displayed question.
func (s *Session) Navigate(i int) error {
	if i < 0 || i >= len(s.questions) {
		return ErrQuestionIndex
	}
	s.mu.Lock()
	s.current = i
	s.mu.Unlock()
	return nil
}

// SetAnswer records an MCQ choice.
func (s *Session) SetAnswer(ctx context.Context, questionID uuid.UUID, choice string) error {
	return s.mutate(ctx, questionID, model.QuestionTypeMCQ, func(prev model.Answer) model.Answer {
		return &model.MCQAnswer{Answer: choice}
	})
}

// SetCode records the latest code and language of a coding answer. Run results
// survive only while the code and language match the run.
func (s *Session) SetCode(ctx context.Context, questionID uuid.UUID, code, language string) error {
	return s.mutate(ctx, questionID, model.QuestionTypeCoding, func(prev model.Answer) model.Answer {
		next := &model.CodingAnswer{}
		if p, ok := prev.(*model.CodingAnswer); ok {
			*next = *p
		}
		// Results describe the code that was run; edited code has not been.
		if next.Code != code || next.Language != language {
			next.TestResults = nil
			next.HasRun = false
		}
		next.Code = code
		next.Language = language
		return next
	})
}

// RecordRun stores the results of a practice run as the question's latest run.
func (s *Session) RecordRun(ctx context.Context, questionID uuid.UUID, code, language string, results []model.TestCaseResult) error {
	return s.mutate(ctx, questionID, model.QuestionTypeCoding, func(prev model.Answer) model.Answer {
		return &model.CodingAnswer{
			Code:        code,
			Language:    language,
			TestResults: results,
			HasRun:      true,
		}
	})
}

// Coding returns the coding body of a question in this exam.
func (s *Session) Coding(questionID uuid.UUID) (*model.Coding, error) {
	i, ok := s.index[questionID]
	if !ok {
		return nil, ErrUnknownQuestion
	}
	c, ok := s.questions[i].Body.(*model.Coding)
	if !ok {
		return nil, ErrAnswerTypeMismatch
	}
	return c, nil
}

func (s *Session) mutate(ctx context.Context, questionID uuid.UUID, want model.QuestionType, fn func(prev model.Answer) model.Answer) error {
	i, ok := s.index[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	if s.questions[i].Type() != want {
		return ErrAnswerTypeMismatch
	}

	s.mu.Lock()
	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	next := fn(s.answers[questionID])
	s.answers[questionID] = next
	s.mu.Unlock()

	if s.drafts != nil {
		if err := s.drafts.SaveDraft(ctx, questionID, next); err != nil {
			s.log.Warn().Err(err).Str("question_id", questionID.String()).Msg("Failed to save draft answer")
		}
	}
	return nil
}

func (s *Session) writableLocked() error {
	switch s.lifecycle.State() {
	case StateLoading:
		return ErrNotStarted
	case StateSubmitting:
		return ErrSubmissionInProgress
	case StateSubmitted:
		return ErrAlreadySubmitted
	}
	if s.expired.Load() {
		return ErrTimeUp
	}
	return nil
}

// Submit scores the answers and writes the attempt. Only the caller that
// claims the lifecycle proceeds; everyone else gets an error and nothing happens.
func (s *Session) Submit(ctx context.Context, trigger Trigger) (*model.Attempt, error) {
	if !s.lifecycle.Claim() {
		return nil, s.claimError()
	}

	s.mu.Lock()
	answers := s.answers.Clone()
	s.mu.Unlock()

	result := Score(s.questions, answers)
	ApplyCodingScores(answers, result)

	attempt := &model.Attempt{
		ExamID:     s.exam.ID,
		StudentID:  s.studentID,
		Answers:    answers,
		Score:      result.Percent,
		Status:     model.AttemptStatusCompleted,
		Released:   s.exam.ReleasesAutomatically(),
		Violations: s.monitor.Violations(),
	}

	saved, err := s.persister.PersistAttempt(ctx, attempt)
	if err != nil {
		s.lifecycle.Release()
		s.forcePending.Store(false)
		s.log.Error().Err(err).Str("trigger", string(trigger)).Msg("Failed to persist attempt")
		s.notifier.SubmitFailed(err, trigger)
		s.scheduleRetry()
		return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	s.lifecycle.Complete()
	s.subs.Close()
	s.doneOnce.Do(func() { close(s.done) })

	s.log.Info().
		Str("attempt_id", saved.ID.String()).
		Str("trigger", string(trigger)).
		Float64("score", saved.Score).
		Int("violations", len(saved.Violations)).
		Msg("Attempt submitted")
	s.notifier.Submitted(saved, trigger)
	return saved, nil
}

func (s *Session) claimError() error {
	switch s.lifecycle.State() {
	case StateLoading:
		return ErrNotStarted
	case StateSubmitting:
		return ErrSubmissionInProgress
	default:
		return ErrAlreadySubmitted
	}
}

func (s *Session) inProgress() bool {
	return s.lifecycle.State() == StateInProgress
}

func (s *Session) codingDisplayed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current >= len(s.questions) {
		return false
	}
	return s.questions[s.current].Type() == model.QuestionTypeCoding
}

func (s *Session) onExpire() {
	s.expired.Store(true)
	s.log.Info().Msg("Time limit reached")
	go s.autoSubmit(TriggerTimer)
}

// scheduleForcedSubmit arms one delayed forced submission per in-progress period.
func (s *Session) scheduleForcedSubmit() {
	if !s.forcePending.CompareAndSwap(false, true) {
		return
	}
	s.log.Warn().Dur("delay", s.forceDelay).Msg("Violation limit reached, forcing submission")
	t := time.AfterFunc(s.forceDelay, func() { s.autoSubmit(TriggerViolation) })
	s.subs.Add(func() { t.Stop() })
}

// scheduleRetry re-attempts an automatic submission once the attempt can no longer continue.
func (s *Session) scheduleRetry() {
	var trigger Trigger
	switch {
	case s.expired.Load():
		trigger = TriggerTimer
	case s.monitor.LimitReached():
		trigger = TriggerViolation
	default:
		return
	}
	t := time.AfterFunc(s.retryDelay, func() { s.autoSubmit(trigger) })
	s.subs.Add(func() { t.Stop() })
}

func (s *Session) autoSubmit(trigger Trigger) {
	_, err := s.Submit(context.Background(), trigger)
	if err != nil && !errors.Is(err, ErrPersistFailed) {
		s.log.Debug().Err(err).Str("trigger", string(trigger)).Msg("Automatic submission skipped")
	}
}

type nopNotifier struct{}

func (nopNotifier) Tick(int)                                {}
func (nopNotifier) Violation(model.Violation, string, bool) {}
func (nopNotifier) Submitted(*model.Attempt, Trigger)       {}
func (nopNotifier) SubmitFailed(error, Trigger)             {}
