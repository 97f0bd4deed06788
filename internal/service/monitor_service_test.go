package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/repository"
	"github.com/stretchr/testify/require"
)

type stubMonitorStore struct {
	submitted    []repository.SubmittedStat
	live         []repository.LiveStat
	submittedErr error
	liveErr      error
}

func (s *stubMonitorStore) GetSubmittedStats(context.Context, uuid.UUID) ([]repository.SubmittedStat, error) {
	return s.submitted, s.submittedErr
}

func (s *stubMonitorStore) GetLiveStats(context.Context, uuid.UUID) ([]repository.LiveStat, error) {
	return s.live, s.liveErr
}

func TestGetExamProgress(t *testing.T) {
	store := &stubMonitorStore{
		submitted: []repository.SubmittedStat{{StudentID: uuid.New(), Attempts: 2, BestScore: 90, Violations: 3}},
		live:      []repository.LiveStat{{StudentID: uuid.New(), AnsweredCount: 4, Violations: 1}},
	}
	svc := NewMonitorService(store)

	p, err := svc.GetExamProgress(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Len(t, p.Submitted, 1)
	require.Len(t, p.Live, 1)
	require.EqualValues(t, 4, p.TotalViolations)
}

func TestGetExamProgress_LiveIsBestEffort(t *testing.T) {
	store := &stubMonitorStore{liveErr: errors.New("redis down")}
	p, err := NewMonitorService(store).GetExamProgress(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Empty(t, p.Live)
	require.NotNil(t, p.Submitted)

	store.submittedErr = errors.New("db down")
	_, err = NewMonitorService(store).GetExamProgress(context.Background(), uuid.New())
	require.Error(t, err)
}
