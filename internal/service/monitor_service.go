package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/repository"
)

// MonitorStore reads the aggregates behind the live monitor.
type MonitorStore interface {
	GetSubmittedStats(ctx context.Context, examID uuid.UUID) ([]repository.SubmittedStat, error)
	GetLiveStats(ctx context.Context, examID uuid.UUID) ([]repository.LiveStat, error)
}

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	monitorRepo MonitorStore
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo MonitorStore) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo}
}

// ExamProgress is one snapshot of an exam: stored attempts and live sessions.
type ExamProgress struct {
	Submitted       []repository.SubmittedStat `json:"submitted"`
	Live            []repository.LiveStat      `json:"live"`
	TotalViolations int64                      `json:"total_violations"`
}

// GetExamProgress fetches submitted and live stats concurrently.
// Submitted stats are required; live stats are best-effort.
func (s *MonitorService) GetExamProgress(ctx context.Context, examID uuid.UUID) (*ExamProgress, error) {
	var (
		submitted    []repository.SubmittedStat
		live         []repository.LiveStat
		submittedErr error
		liveErr      error
		wg           sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		submitted, submittedErr = s.monitorRepo.GetSubmittedStats(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		live, liveErr = s.monitorRepo.GetLiveStats(ctx, examID)
	}()
	wg.Wait()

	if submittedErr != nil {
		return nil, submittedErr
	}

	progress := &ExamProgress{
		Submitted: submitted,
		Live:      []repository.LiveStat{},
	}
	if progress.Submitted == nil {
		progress.Submitted = []repository.SubmittedStat{}
	}
	for _, st := range submitted {
		progress.TotalViolations += int64(st.Violations)
	}
	if liveErr == nil && live != nil {
		progress.Live = live
		for _, st := range live {
			progress.TotalViolations += st.Violations
		}
	}
	return progress, nil
}
