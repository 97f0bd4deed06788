package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/config"
	"github.com/mindcraft/mindcraft-backend/internal/engine"
	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/mindcraft/mindcraft-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	mu       sync.Mutex
	exam     *model.Exam
	qs       []model.Question
	resumes  int
	loads    int
	loadErr  error
	attempts []*model.Attempt
	// lastSubmitted is reported as the student's previous stored attempt.
	lastSubmitted *time.Time
}

func (l *stubLoader) LoadExam(context.Context, uuid.UUID, uuid.UUID) (*LoadedExam, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	return &LoadedExam{Exam: l.exam, Questions: l.qs, TimeRemainingSeconds: l.exam.TimeLimitMinutes * 60, LastSubmittedAt: l.lastSubmitted}, nil
}

func (l *stubLoader) LoadForResume(context.Context, uuid.UUID, uuid.UUID) (*LoadedExam, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resumes++
	return &LoadedExam{Exam: l.exam, Questions: l.qs, LastSubmittedAt: l.lastSubmitted}, nil
}

func (l *stubLoader) PersistAttempt(_ context.Context, a *model.Attempt) (*model.Attempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := *a
	out.ID = uuid.New()
	l.attempts = append(l.attempts, &out)
	return &out, nil
}

type stubRunner struct {
	results []model.TestCaseResult
	err     error
}

func (r *stubRunner) Run(context.Context, string, string, []model.TestCase) ([]model.TestCaseResult, error) {
	return r.results, r.err
}

type captureListener struct {
	mu        sync.Mutex
	warnings  []string
	submitted []engine.Trigger
}

func (c *captureListener) Tick(int) {}

func (c *captureListener) Violation(_ model.Violation, warning string, _ bool) {
	c.mu.Lock()
	c.warnings = append(c.warnings, warning)
	c.mu.Unlock()
}

func (c *captureListener) Submitted(_ *model.Attempt, tr engine.Trigger) {
	c.mu.Lock()
	c.submitted = append(c.submitted, tr)
	c.mu.Unlock()
}

func (c *captureListener) SubmitFailed(error, engine.Trigger) {}

type registryFixture struct {
	reg    *SessionRegistry
	loader *stubLoader
	runner *stubRunner
	state  *repository.SessionStateRepository
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	mcqID  uuid.UUID
	codeID uuid.UUID
	now    time.Time
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	exam := &model.Exam{
		ID:               uuid.New(),
		Title:            "Intro to Go",
		TimeLimitMinutes: 30,
		AttemptLimit:     1,
		ReleaseMode:      model.ReleaseModeAuto,
	}
	f := &registryFixture{
		mr:     mr,
		rdb:    rdb,
		mcqID:  uuid.New(),
		codeID: uuid.New(),
		now:    time.Unix(1_760_000_000, 0),
		runner: &stubRunner{},
	}
	f.loader = &stubLoader{exam: exam, qs: []model.Question{
		{ID: f.mcqID, ExamID: exam.ID, Marks: 1, Body: &model.MCQ{Options: []string{"a", "b"}, CorrectAnswer: "a"}},
		{ID: f.codeID, ExamID: exam.ID, Marks: 2, Body: &model.Coding{TestCases: []model.TestCase{
			{Input: "1", Output: "1"},
			{Input: "2", Output: "2", Hidden: true},
		}}},
	}}
	f.state = repository.NewSessionStateRepository(rdb)
	monitor := repository.NewMonitorRepository(nil, rdb)
	f.reg = NewSessionRegistry(f.loader, f.state, monitor, f.runner, RegistryConfig{
		ViolationLimit:   engine.DefaultViolationLimit,
		ForceSubmitDelay: 10 * time.Millisecond,
		RetryDelay:       time.Hour,
		TickInterval:     time.Hour,
		StateGrace:       30 * time.Minute,
	}, zerolog.Nop())
	f.reg.now = func() time.Time { return f.now }
	t.Cleanup(f.reg.Shutdown)
	return f
}

func (f *registryFixture) examID() uuid.UUID { return f.loader.exam.ID }

func TestRegistryJoin_FreshStart(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	student := uuid.New()

	ls, err := f.reg.Join(ctx, f.examID(), student)
	require.NoError(t, err)
	require.Equal(t, engine.StateInProgress, ls.State())
	require.Equal(t, 1800, ls.Snapshot().Remaining)
	require.Equal(t, 1, f.loader.loads)
	require.Zero(t, f.loader.resumes)

	payload := ls.Payload()
	require.Len(t, payload.Questions, 2)
	require.Len(t, payload.Questions[1].TestCases, 1)

	require.True(t, f.mr.Exists(config.CacheKey.SessionStartKey(f.examID().String(), student.String())))

	again, err := f.reg.Join(ctx, f.examID(), student)
	require.NoError(t, err)
	require.Same(t, ls, again)
	require.Equal(t, 1, f.reg.Count())
}

func TestRegistryJoin_AnotherExamActive(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	student := uuid.New()

	_, _, err := f.state.StartOrResume(ctx, uuid.New(), student, f.now, time.Hour)
	require.NoError(t, err)

	_, err = f.reg.Join(ctx, f.examID(), student)
	require.ErrorIs(t, err, ErrAnotherExamActive)
}

func TestRegistryJoin_LoaderError(t *testing.T) {
	f := newRegistryFixture(t)
	f.loader.loadErr = ErrAttemptLimitReached

	_, err := f.reg.Join(context.Background(), f.examID(), uuid.New())
	require.ErrorIs(t, err, ErrAttemptLimitReached)
	require.Zero(t, f.reg.Count())
}

func TestRegistryJoin_Resume(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	student := uuid.New()

	_, _, err := f.state.StartOrResume(ctx, f.examID(), student, f.now.Add(-10*time.Minute), time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.state.SaveDraft(ctx, f.examID(), student, f.mcqID, &model.MCQAnswer{Answer: "b"}, time.Hour))
	require.NoError(t, f.state.AppendViolation(ctx, f.examID(), student,
		model.Violation{Type: model.ViolationTabSwitch, Timestamp: f.now, Count: 1}, time.Hour))

	ls, err := f.reg.Join(ctx, f.examID(), student)
	require.NoError(t, err)
	require.Equal(t, 1, f.loader.resumes)
	require.Zero(t, f.loader.loads)

	snap := ls.Snapshot()
	require.Equal(t, 1200, snap.Remaining)
	require.Equal(t, 1, snap.ViolationCount)
	require.Equal(t, "b", snap.Answers[f.mcqID].(*model.MCQAnswer).Answer)
}

func TestRegistryJoin_DiscardsStateOfSubmittedAttempt(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	student := uuid.New()

	// Keys of an earlier attempt that survived its submission.
	_, _, err := f.state.StartOrResume(ctx, f.examID(), student, f.now.Add(-40*time.Minute), time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.state.SaveDraft(ctx, f.examID(), student, f.mcqID, &model.MCQAnswer{Answer: "b"}, time.Hour))
	for i := 1; i <= engine.DefaultViolationLimit; i++ {
		require.NoError(t, f.state.AppendViolation(ctx, f.examID(), student,
			model.Violation{Type: model.ViolationTabSwitch, Timestamp: f.now, Count: i}, time.Hour))
	}
	submittedAt := f.now.Add(-15 * time.Minute)
	f.loader.lastSubmitted = &submittedAt

	ls, err := f.reg.Join(ctx, f.examID(), student)
	require.NoError(t, err)
	require.Equal(t, engine.StateInProgress, ls.State())

	snap := ls.Snapshot()
	require.Equal(t, 1800, snap.Remaining)
	require.Zero(t, snap.ViolationCount)
	require.Empty(t, snap.Answers)

	start, ok, err := f.state.SessionStart(ctx, f.examID(), student)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, start.Equal(f.now))

	f.loader.mu.Lock()
	require.Empty(t, f.loader.attempts)
	f.loader.mu.Unlock()
}

func TestRegistryJoin_ResumeAfterEarlierAttempt(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	student := uuid.New()

	submittedAt := f.now.Add(-time.Hour)
	f.loader.lastSubmitted = &submittedAt
	_, _, err := f.state.StartOrResume(ctx, f.examID(), student, f.now.Add(-10*time.Minute), time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.state.SaveDraft(ctx, f.examID(), student, f.mcqID, &model.MCQAnswer{Answer: "a"}, time.Hour))

	ls, err := f.reg.Join(ctx, f.examID(), student)
	require.NoError(t, err)

	snap := ls.Snapshot()
	require.Equal(t, 1200, snap.Remaining)
	require.Equal(t, "a", snap.Answers[f.mcqID].(*model.MCQAnswer).Answer)
}

func TestRegistryJoin_ResumeAfterTimeRanOut(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	student := uuid.New()

	_, _, err := f.state.StartOrResume(ctx, f.examID(), student, f.now.Add(-time.Hour), 2*time.Hour)
	require.NoError(t, err)

	ls, err := f.reg.Join(ctx, f.examID(), student)
	require.NoError(t, err)

	select {
	case <-ls.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expired session was not submitted")
	}
	require.Len(t, f.loader.attempts, 1)
}

func TestRegistry_DraftsAndSubmitClearState(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	student := uuid.New()

	ls, err := f.reg.Join(ctx, f.examID(), student)
	require.NoError(t, err)
	listener := &captureListener{}
	defer ls.Listen(listener)()

	require.NoError(t, ls.SetAnswer(ctx, f.mcqID, "a"))
	drafts, err := f.state.LoadDrafts(ctx, f.examID(), student)
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	attempt, err := ls.Submit(ctx, engine.TriggerManual)
	require.NoError(t, err)
	require.InDelta(t, 100.0/3.0, attempt.Score, 1e-9)

	require.False(t, f.mr.Exists(config.CacheKey.SessionStartKey(f.examID().String(), student.String())))
	require.False(t, f.mr.Exists(config.CacheKey.DraftAnswersKey(f.examID().String(), student.String())))
	require.False(t, f.mr.Exists(config.CacheKey.StudentActiveExamKey(student.String())))

	listener.mu.Lock()
	require.Equal(t, []engine.Trigger{engine.TriggerManual}, listener.submitted)
	listener.mu.Unlock()

	require.Eventually(t, func() bool { return f.reg.Count() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := f.reg.Get(f.examID(), student)
	require.False(t, ok)
}

func TestRegistry_ViolationsMirroredAndPublished(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()
	student := uuid.New()

	sub := f.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(f.examID().String()))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	ls, err := f.reg.Join(ctx, f.examID(), student)
	require.NoError(t, err)
	listener := &captureListener{}
	defer ls.Listen(listener)()

	joined, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var ev MonitorEvent
	require.NoError(t, json.Unmarshal([]byte(joined.Payload), &ev))
	require.Equal(t, MonitorEventJoined, ev.Type)
	require.Equal(t, student, ev.StudentID)

	ls.Dispatch(engine.Event{Kind: engine.EventVisibilityHidden})

	violation, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(violation.Payload), &ev))
	require.Equal(t, MonitorEventViolation, ev.Type)

	mirrored, err := f.state.LoadViolations(ctx, f.examID(), student)
	require.NoError(t, err)
	require.Len(t, mirrored, 1)
	require.Equal(t, model.ViolationTabSwitch, mirrored[0].Type)

	listener.mu.Lock()
	require.Equal(t, []string{"Warning 1/3"}, listener.warnings)
	listener.mu.Unlock()
}

func TestRegistry_ViolationLimitForcesSubmit(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	ls, err := f.reg.Join(ctx, f.examID(), uuid.New())
	require.NoError(t, err)
	listener := &captureListener{}
	defer ls.Listen(listener)()

	for i := 0; i < engine.DefaultViolationLimit; i++ {
		ls.Dispatch(engine.Event{Kind: engine.EventVisibilityHidden})
	}

	select {
	case <-ls.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session was not force-submitted")
	}
	require.Len(t, f.loader.attempts, 1)
	require.Len(t, f.loader.attempts[0].Violations, engine.DefaultViolationLimit)

	require.Eventually(t, func() bool {
		listener.mu.Lock()
		defer listener.mu.Unlock()
		return len(listener.submitted) == 1 && listener.submitted[0] == engine.TriggerViolation
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_RunPractice(t *testing.T) {
	f := newRegistryFixture(t)
	ctx := context.Background()

	ls, err := f.reg.Join(ctx, f.examID(), uuid.New())
	require.NoError(t, err)

	f.runner.results = []model.TestCaseResult{
		{Passed: true, ActualOutput: "1", ExpectedOutput: "1"},
		{Passed: false, ActualOutput: "3", ExpectedOutput: "2", Hidden: true},
	}

	out, err := f.reg.RunPractice(ctx, ls, f.codeID, "print(input())", "python")
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "1", out[0].ActualOutput)
	require.Empty(t, out[1].ActualOutput)
	require.Empty(t, out[1].ExpectedOutput)

	stored := ls.Snapshot().Answers[f.codeID].(*model.CodingAnswer)
	require.True(t, stored.HasRun)
	require.Equal(t, 1, stored.PassedCount())
	require.Equal(t, "3", stored.TestResults[1].ActualOutput)

	_, err = f.reg.RunPractice(ctx, ls, f.mcqID, "x", "python")
	require.ErrorIs(t, err, engine.ErrAnswerTypeMismatch)
}
