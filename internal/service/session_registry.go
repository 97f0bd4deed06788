package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/engine"
	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/mindcraft/mindcraft-backend/internal/observability"
	"github.com/rs/zerolog"
)

// ErrAnotherExamActive is returned when a student joins an exam while a
// different attempt of theirs is still live.
var ErrAnotherExamActive = errors.New("another exam is already in progress")

const stateWriteTimeout = 3 * time.Second

// SessionStateStore keeps resumable session state outside the process.
type SessionStateStore interface {
	StartOrResume(ctx context.Context, examID, studentID uuid.UUID, now time.Time, ttl time.Duration) (time.Time, bool, error)
	SessionStart(ctx context.Context, examID, studentID uuid.UUID) (time.Time, bool, error)
	ActiveExam(ctx context.Context, studentID uuid.UUID) (uuid.UUID, bool, error)
	SaveDraft(ctx context.Context, examID, studentID, questionID uuid.UUID, answer model.Answer, ttl time.Duration) error
	LoadDrafts(ctx context.Context, examID, studentID uuid.UUID) (model.AnswerSheet, error)
	AppendViolation(ctx context.Context, examID, studentID uuid.UUID, v model.Violation, ttl time.Duration) error
	LoadViolations(ctx context.Context, examID, studentID uuid.UUID) ([]model.Violation, error)
	Clear(ctx context.Context, examID, studentID uuid.UUID) error
}

// MonitorPublisher pushes events to an exam's live monitor channel.
type MonitorPublisher interface {
	Publish(ctx context.Context, examID uuid.UUID, event any) error
}

// CodeRunner grades code against test cases.
type CodeRunner interface {
	Run(ctx context.Context, language, code string, cases []model.TestCase) ([]model.TestCaseResult, error)
}

// ExamLoader loads exams for attempts and persists finished attempts.
type ExamLoader interface {
	LoadExam(ctx context.Context, examID, studentID uuid.UUID) (*LoadedExam, error)
	LoadForResume(ctx context.Context, examID, studentID uuid.UUID) (*LoadedExam, error)
	engine.Persister
}

// Monitor event types.
const (
	MonitorEventJoined    = "joined"
	MonitorEventViolation = "violation"
	MonitorEventSubmitted = "submitted"
)

// MonitorEvent is published on an exam's monitor channel.
type MonitorEvent struct {
	Type      string    `json:"type"`
	StudentID uuid.UUID `json:"student_id"`
	Data      any       `json:"data,omitempty"`
	At        time.Time `json:"at"`
}

// RegistryConfig tunes live sessions.
type RegistryConfig struct {
	ViolationLimit   int
	ForceSubmitDelay time.Duration
	RetryDelay       time.Duration
	TickInterval     time.Duration
	// StateGrace is added to the exam time limit for the TTL of resumable state.
	StateGrace time.Duration
}

// LiveSession is a registered session plus its listener hub.
type LiveSession struct {
	*engine.Session
	Exam *model.Exam
	hub  *sessionHub
}

// Listen attaches a listener to the session's events. Call the returned func to detach.
func (l *LiveSession) Listen(n engine.Notifier) func() {
	return l.hub.attach(n)
}

// Payload returns the exam as the student sees it.
func (l *LiveSession) Payload() model.ExamPayload {
	qs := l.Questions()
	out := model.ExamPayload{
		ExamID:           l.Exam.ID,
		Title:            l.Exam.Title,
		Topic:            l.Exam.Topic,
		TimeLimitMinutes: l.Exam.TimeLimitMinutes,
		Questions:        make([]model.QuestionForStudent, len(qs)),
	}
	for i := range qs {
		out.Questions[i] = qs[i].ForStudent()
	}
	return out
}

// SessionRegistry owns the live sessions of this process, one per student and exam.
type SessionRegistry struct {
	loader  ExamLoader
	state   SessionStateStore
	monitor MonitorPublisher
	runner  CodeRunner
	cfg     RegistryConfig
	now     func() time.Time
	log     zerolog.Logger

	mu   sync.Mutex
	live map[string]*LiveSession
}

// NewSessionRegistry creates a new SessionRegistry.
func NewSessionRegistry(
	loader ExamLoader,
	state SessionStateStore,
	monitor MonitorPublisher,
	runner CodeRunner,
	cfg RegistryConfig,
	log zerolog.Logger,
) *SessionRegistry {
	return &SessionRegistry{
		loader:  loader,
		state:   state,
		monitor: monitor,
		runner:  runner,
		cfg:     cfg,
		now:     time.Now,
		log:     log.With().Str("component", "session_registry").Logger(),
		live:    make(map[string]*LiveSession),
	}
}

// staleStart reports whether a stored start belongs to an attempt submitted at
// or after it. Start times are stored with second precision.
func staleStart(start time.Time, lastSubmitted *time.Time) bool {
	return lastSubmitted != nil && start.Before(lastSubmitted.Truncate(time.Second))
}

func liveKey(examID, studentID uuid.UUID) string {
	return studentID.String() + ":" + examID.String()
}

// Get returns the live session of a student at an exam, if any.
func (r *SessionRegistry) Get(examID, studentID uuid.UUID) (*LiveSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.live[liveKey(examID, studentID)]
	if !ok || ls.State() == engine.StateSubmitted {
		return nil, false
	}
	return ls, true
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Join returns the student's live session at an exam, starting or resuming one.
//
// A fresh start runs every eligibility check. A resume (a stored start time
// exists) skips the scheduling window and restores drafts, violations and the
// remaining time measured from the original start.
func (r *SessionRegistry) Join(ctx context.Context, examID, studentID uuid.UUID) (*LiveSession, error) {
	if ls, ok := r.Get(examID, studentID); ok {
		return ls, nil
	}

	active, ok, err := r.state.ActiveExam(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("check active exam: %w", err)
	}
	if ok && active != examID {
		return nil, ErrAnotherExamActive
	}

	storedStart, started, err := r.state.SessionStart(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("check session start: %w", err)
	}

	var loaded *LoadedExam
	if started {
		loaded, err = r.loader.LoadForResume(ctx, examID, studentID)
	} else {
		loaded, err = r.loader.LoadExam(ctx, examID, studentID)
	}
	if err != nil {
		return nil, err
	}

	// State left behind by an attempt that was already stored must not be resumed.
	if started && staleStart(storedStart, loaded.LastSubmittedAt) {
		r.log.Warn().
			Str("exam_id", examID.String()).
			Str("student_id", studentID.String()).
			Time("stored_start", storedStart).
			Msg("Discarding session state of a submitted attempt")
		if err := r.state.Clear(ctx, examID, studentID); err != nil {
			return nil, fmt.Errorf("clear stale session: %w", err)
		}
		if err := CheckSchedule(loaded.Exam, r.now()); err != nil {
			return nil, err
		}
	}

	now := r.now()
	ttl := r.stateTTL(loaded.Exam)
	startedAt, resumed, err := r.state.StartOrResume(ctx, examID, studentID, now, ttl)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	var (
		answers    model.AnswerSheet
		violations []model.Violation
	)
	if resumed {
		if answers, err = r.state.LoadDrafts(ctx, examID, studentID); err != nil {
			return nil, fmt.Errorf("load drafts: %w", err)
		}
		if violations, err = r.state.LoadViolations(ctx, examID, studentID); err != nil {
			return nil, fmt.Errorf("load violations: %w", err)
		}
	}

	remaining := loaded.Exam.TimeLimit() - now.Sub(startedAt)
	if remaining < 0 {
		remaining = 0
	}

	hub := &sessionHub{
		reg:       r,
		examID:    examID,
		studentID: studentID,
		ttl:       ttl,
		listeners: make(map[int]engine.Notifier),
	}
	sess := engine.NewSession(engine.SessionConfig{
		Exam:             loaded.Exam,
		StudentID:        studentID,
		Questions:        loaded.Questions,
		Remaining:        remaining,
		Answers:          answers,
		Violations:       violations,
		ViolationLimit:   r.cfg.ViolationLimit,
		ForceSubmitDelay: r.cfg.ForceSubmitDelay,
		RetryDelay:       r.cfg.RetryDelay,
		TickInterval:     r.cfg.TickInterval,
		Persister:        r.loader,
		Drafts:           hub,
		Notifier:         hub,
		Now:              r.now,
		Log:              r.log,
	})
	ls := &LiveSession{Session: sess, Exam: loaded.Exam, hub: hub}

	key := liveKey(examID, studentID)
	r.mu.Lock()
	if existing, ok := r.live[key]; ok && existing.State() != engine.StateSubmitted {
		r.mu.Unlock()
		return existing, nil
	}
	r.live[key] = ls
	r.mu.Unlock()

	if err := sess.Start(); err != nil {
		r.remove(key, ls)
		return nil, err
	}
	observability.LiveSessions().Inc()
	go r.watch(key, ls)

	r.log.Info().
		Str("exam_id", examID.String()).
		Str("student_id", studentID.String()).
		Bool("resumed", resumed).
		Dur("remaining", remaining).
		Msg("Student joined exam")
	hub.publish(MonitorEventJoined, map[string]any{"resumed": resumed})
	return ls, nil
}

// RunPractice runs a coding answer against the question's test cases, records
// the run as the question's latest result and returns it with hidden cases redacted.
func (r *SessionRegistry) RunPractice(ctx context.Context, ls *LiveSession, questionID uuid.UUID, code, language string) ([]model.TestCaseResult, error) {
	coding, err := ls.Coding(questionID)
	if err != nil {
		return nil, err
	}
	results, err := r.runner.Run(ctx, language, code, coding.TestCases)
	if err != nil {
		return nil, err
	}
	if err := ls.RecordRun(ctx, questionID, code, language, results); err != nil {
		return nil, err
	}
	return model.Redact(results), nil
}

// Shutdown closes every live session without submitting. Resumable state stays in Redis.
func (r *SessionRegistry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*LiveSession, 0, len(r.live))
	for _, ls := range r.live {
		sessions = append(sessions, ls)
	}
	r.mu.Unlock()

	for _, ls := range sessions {
		ls.Close()
	}
	r.log.Info().Int("sessions", len(sessions)).Msg("Live sessions closed")
}

func (r *SessionRegistry) watch(key string, ls *LiveSession) {
	<-ls.Done()
	r.remove(key, ls)
	observability.LiveSessions().Dec()
}

func (r *SessionRegistry) remove(key string, ls *LiveSession) {
	r.mu.Lock()
	if r.live[key] == ls {
		delete(r.live, key)
	}
	r.mu.Unlock()
}

func (r *SessionRegistry) stateTTL(exam *model.Exam) time.Duration {
	return exam.TimeLimit() + r.cfg.StateGrace
}

// sessionHub fans session events out to listeners and mirrors them to Redis and the monitor.
type sessionHub struct {
	reg       *SessionRegistry
	examID    uuid.UUID
	studentID uuid.UUID
	ttl       time.Duration

	mu        sync.RWMutex
	listeners map[int]engine.Notifier
	seq       int
}

func (h *sessionHub) attach(n engine.Notifier) func() {
	h.mu.Lock()
	h.seq++
	id := h.seq
	h.listeners[id] = n
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func (h *sessionHub) each(fn func(engine.Notifier)) {
	h.mu.RLock()
	ls := make([]engine.Notifier, 0, len(h.listeners))
	for _, n := range h.listeners {
		ls = append(ls, n)
	}
	h.mu.RUnlock()

	for _, n := range ls {
		fn(n)
	}
}

// SaveDraft implements engine.DraftSaver.
func (h *sessionHub) SaveDraft(ctx context.Context, questionID uuid.UUID, answer model.Answer) error {
	return h.reg.state.SaveDraft(ctx, h.examID, h.studentID, questionID, answer, h.ttl)
}

func (h *sessionHub) Tick(remaining int) {
	h.each(func(n engine.Notifier) { n.Tick(remaining) })
}

func (h *sessionHub) Violation(v model.Violation, warning string, forceSubmit bool) {
	observability.Violations().WithLabelValues(string(v.Type)).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), stateWriteTimeout)
	defer cancel()
	if err := h.reg.state.AppendViolation(ctx, h.examID, h.studentID, v, h.ttl); err != nil {
		h.reg.log.Warn().Err(err).Str("student_id", h.studentID.String()).Msg("Failed to mirror violation")
	}
	h.publish(MonitorEventViolation, v)

	h.each(func(n engine.Notifier) { n.Violation(v, warning, forceSubmit) })
}

func (h *sessionHub) Submitted(a *model.Attempt, trigger engine.Trigger) {
	observability.AttemptsSubmitted().WithLabelValues(string(trigger)).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), stateWriteTimeout)
	defer cancel()
	if err := h.reg.state.Clear(ctx, h.examID, h.studentID); err != nil {
		h.reg.log.Warn().Err(err).Str("student_id", h.studentID.String()).Msg("Failed to clear session state")
	}
	h.publish(MonitorEventSubmitted, map[string]any{
		"attempt_id": a.ID,
		"score":      a.Score,
		"trigger":    trigger,
		"violations": len(a.Violations),
	})

	h.each(func(n engine.Notifier) { n.Submitted(a, trigger) })
}

func (h *sessionHub) SubmitFailed(err error, trigger engine.Trigger) {
	observability.SubmitFailures().WithLabelValues(string(trigger)).Inc()
	h.each(func(n engine.Notifier) { n.SubmitFailed(err, trigger) })
}

func (h *sessionHub) publish(kind string, data any) {
	if h.reg.monitor == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stateWriteTimeout)
	defer cancel()
	ev := MonitorEvent{Type: kind, StudentID: h.studentID, Data: data, At: h.reg.now()}
	if err := h.reg.monitor.Publish(ctx, h.examID, ev); err != nil {
		h.reg.log.Debug().Err(err).Str("type", kind).Msg("Failed to publish monitor event")
	}
}
