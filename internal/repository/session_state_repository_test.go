package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/config"
	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestSessionStateStartOrResume(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewSessionStateRepository(rdb)
	ctx := context.Background()
	examID, studentID := uuid.New(), uuid.New()

	first := time.Unix(1_760_000_000, 0)
	started, resumed, err := repo.StartOrResume(ctx, examID, studentID, first, time.Hour)
	require.NoError(t, err)
	require.False(t, resumed)
	require.True(t, started.Equal(first))

	active, ok, err := repo.ActiveExam(ctx, studentID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, examID, active)

	started, resumed, err = repo.StartOrResume(ctx, examID, studentID, first.Add(10*time.Minute), time.Hour)
	require.NoError(t, err)
	require.True(t, resumed)
	require.True(t, started.Equal(first))

	ttl := mr.TTL(config.CacheKey.SessionStartKey(examID.String(), studentID.String()))
	require.Equal(t, time.Hour, ttl)
}

func TestSessionStateDraftsRoundTrip(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewSessionStateRepository(rdb)
	ctx := context.Background()
	examID, studentID := uuid.New(), uuid.New()
	mcqID, codeID := uuid.New(), uuid.New()

	require.NoError(t, repo.SaveDraft(ctx, examID, studentID, mcqID, &model.MCQAnswer{Answer: "B"}, time.Hour))
	require.NoError(t, repo.SaveDraft(ctx, examID, studentID, mcqID, &model.MCQAnswer{Answer: "C"}, time.Hour))
	require.NoError(t, repo.SaveDraft(ctx, examID, studentID, codeID, &model.CodingAnswer{
		Code: "print(1)", Language: "python", HasRun: true,
		TestResults: []model.TestCaseResult{{Passed: true, ActualOutput: "1", ExpectedOutput: "1"}},
	}, time.Hour))
	require.NoError(t, rdb.HSet(ctx, config.CacheKey.DraftAnswersKey(examID.String(), studentID.String()), "garbage", "{").Err())

	sheet, err := repo.LoadDrafts(ctx, examID, studentID)
	require.NoError(t, err)
	require.Len(t, sheet, 2)
	require.Equal(t, "C", sheet[mcqID].(*model.MCQAnswer).Answer)
	code := sheet[codeID].(*model.CodingAnswer)
	require.True(t, code.HasRun)
	require.Len(t, code.TestResults, 1)
}

func TestSessionStateViolationsAndClear(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewSessionStateRepository(rdb)
	ctx := context.Background()
	examID, studentID := uuid.New(), uuid.New()

	_, ok, err := repo.SessionStart(ctx, examID, studentID)
	require.NoError(t, err)
	require.False(t, ok)

	now := time.Unix(1_760_000_000, 0)
	_, _, err = repo.StartOrResume(ctx, examID, studentID, now, time.Hour)
	require.NoError(t, err)
	started, ok, err := repo.SessionStart(ctx, examID, studentID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, started.Equal(now))

	for i := 1; i <= 2; i++ {
		require.NoError(t, repo.AppendViolation(ctx, examID, studentID, model.Violation{Type: model.ViolationTabSwitch, Count: i}, 30*time.Minute))
	}
	require.NoError(t, repo.SaveDraft(ctx, examID, studentID, uuid.New(), &model.MCQAnswer{Answer: "A"}, 30*time.Minute))
	require.Equal(t, 30*time.Minute, mr.TTL(config.CacheKey.SessionViolationsKey(examID.String(), studentID.String())))

	vs, err := repo.LoadViolations(ctx, examID, studentID)
	require.NoError(t, err)
	require.Len(t, vs, 2)
	require.Equal(t, 2, vs[1].Count)

	require.NoError(t, repo.Clear(ctx, examID, studentID))
	require.False(t, mr.Exists(config.CacheKey.SessionStartKey(examID.String(), studentID.String())))
	require.False(t, mr.Exists(config.CacheKey.DraftAnswersKey(examID.String(), studentID.String())))
	require.False(t, mr.Exists(config.CacheKey.SessionViolationsKey(examID.String(), studentID.String())))

	_, ok, err = repo.ActiveExam(ctx, studentID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSessionStateClearKeepsOtherActiveExam(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewSessionStateRepository(rdb)
	ctx := context.Background()
	studentID, other := uuid.New(), uuid.New()

	require.NoError(t, rdb.Set(ctx, config.CacheKey.StudentActiveExamKey(studentID.String()), other.String(), 0).Err())
	require.NoError(t, repo.Clear(ctx, uuid.New(), studentID))

	active, ok, err := repo.ActiveExam(ctx, studentID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, other, active)
}
