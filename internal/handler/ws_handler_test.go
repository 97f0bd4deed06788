package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mindcraft/mindcraft-backend/internal/engine"
	"github.com/mindcraft/mindcraft-backend/internal/middleware"
	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/mindcraft/mindcraft-backend/internal/repository"
	"github.com/mindcraft/mindcraft-backend/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	mu       sync.Mutex
	exam     *model.Exam
	qs       []model.Question
	err      error
	attempts []*model.Attempt
}

func (l *stubLoader) LoadExam(context.Context, uuid.UUID, uuid.UUID) (*service.LoadedExam, error) {
	if l.err != nil {
		return nil, l.err
	}
	return &service.LoadedExam{Exam: l.exam, Questions: l.qs}, nil
}

func (l *stubLoader) LoadForResume(ctx context.Context, examID, studentID uuid.UUID) (*service.LoadedExam, error) {
	return l.LoadExam(ctx, examID, studentID)
}

func (l *stubLoader) PersistAttempt(_ context.Context, a *model.Attempt) (*model.Attempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := *a
	out.ID = uuid.New()
	out.SubmittedAt = time.Now()
	l.attempts = append(l.attempts, &out)
	return &out, nil
}

type wsFixture struct {
	server  *httptest.Server
	loader  *stubLoader
	student uuid.UUID
	mcqID   uuid.UUID
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &wsFixture{student: uuid.New(), mcqID: uuid.New()}
	exam := &model.Exam{ID: uuid.New(), Title: "Quiz", TimeLimitMinutes: 10, AttemptLimit: 1, ReleaseMode: model.ReleaseModeAuto}
	f.loader = &stubLoader{exam: exam, qs: []model.Question{
		{ID: f.mcqID, ExamID: exam.ID, Marks: 1, Body: &model.MCQ{Options: []string{"a", "b"}, CorrectAnswer: "a"}},
	}}

	reg := service.NewSessionRegistry(f.loader,
		repository.NewSessionStateRepository(rdb),
		repository.NewMonitorRepository(nil, rdb),
		&stubRunner{},
		service.RegistryConfig{
			ViolationLimit:   engine.DefaultViolationLimit,
			ForceSubmitDelay: 10 * time.Millisecond,
			TickInterval:     time.Hour,
		}, zerolog.Nop())
	t.Cleanup(reg.Shutdown)

	r := gin.New()
	r.GET("/ws/v1/student/exams/:exam_id/stream", func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, f.student)
		c.Next()
	}, NewWSHandler(reg, zerolog.Nop(), nil).AttemptStream)

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *wsFixture) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/v1/student/exams/" + f.loader.exam.ID.String() + "/stream"
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestAttemptStream(t *testing.T) {
	f := newWSFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(f.url(), nil)
	require.NoError(t, err)
	defer conn.Close()

	state := readEvent(t, conn)
	require.Equal(t, "state", state["event"])
	exam := state["exam"].(map[string]any)
	questions := exam["questions"].([]any)
	require.Len(t, questions, 1)
	require.NotContains(t, questions[0].(map[string]any), "correct_answer")

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "answer", "q_id": f.mcqID.String(), "ans": "a"}))
	saved := readEvent(t, conn)
	require.Equal(t, "saved", saved["event"])

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "proctor", "event": map[string]any{"kind": "visibility_hidden"}}))
	warning := readEvent(t, conn)
	require.Equal(t, "warning", warning["event"])
	require.Equal(t, "Warning 1/3", warning["message"])
	verdict := readEvent(t, conn)
	require.Equal(t, "verdict", verdict["event"])

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "ping"}))
	require.Equal(t, "pong", readEvent(t, conn)["event"])

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "submit"}))
	submitted := readEvent(t, conn)
	require.Equal(t, "submitted", submitted["event"])
	require.Equal(t, "manual", submitted["trigger"])
	require.EqualValues(t, 100, submitted["score"])

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "answer", "q_id": f.mcqID.String(), "ans": "b"}))
	require.Equal(t, "error", readEvent(t, conn)["event"])

	f.loader.mu.Lock()
	defer f.loader.mu.Unlock()
	require.Len(t, f.loader.attempts, 1)
	require.Len(t, f.loader.attempts[0].Violations, 1)
}

func TestAttemptStream_IneligibleIsPlainHTTP(t *testing.T) {
	f := newWSFixture(t)
	f.loader.err = service.ErrAttemptLimitReached

	_, resp, err := websocket.DefaultDialer.Dial(f.url(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
