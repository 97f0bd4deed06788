package repository

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mindcraft/mindcraft-backend/internal/config"
	"github.com/redis/go-redis/v9"
)

// MonitorRepository provides data access for the live exam monitor.
// It combines PostgreSQL (submitted attempts) and Redis (live sessions and the event channel).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// SubmittedStat aggregates one student's stored attempts at an exam.
type SubmittedStat struct {
	StudentID  uuid.UUID `json:"student_id"`
	Attempts   int       `json:"attempts"`
	BestScore  float64   `json:"best_score"`
	Violations int       `json:"violations"`
}

// LiveStat describes one in-progress attempt.
type LiveStat struct {
	StudentID     uuid.UUID `json:"student_id"`
	AnsweredCount int64     `json:"answered_count"`
	Violations    int64     `json:"violations"`
}

// GetSubmittedStats returns per-student aggregates of stored attempts.
func (r *MonitorRepository) GetSubmittedStats(ctx context.Context, examID uuid.UUID) ([]SubmittedStat, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, COUNT(*), MAX(score), COALESCE(SUM(jsonb_array_length(violations)), 0)
		 FROM attempts
		 WHERE exam_id = $1
		 GROUP BY student_id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubmittedStat
	for rows.Next() {
		var s SubmittedStat
		if err := rows.Scan(&s.StudentID, &s.Attempts, &s.BestScore, &s.Violations); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetLiveStats scans the session start keys of an exam and reads each live
// attempt's draft and violation counts in one pipeline.
func (r *MonitorRepository) GetLiveStats(ctx context.Context, examID uuid.UUID) ([]LiveStat, error) {
	var ids []uuid.UUID
	iter := r.rdb.Scan(ctx, 0, config.CacheKey.SessionStartPattern(examID.String()), 200).Iterator()
	for iter.Next(ctx) {
		// student:{id}:exam:{id}:session_start
		parts := strings.Split(iter.Val(), ":")
		if len(parts) < 2 {
			continue
		}
		if id, err := uuid.Parse(parts[1]); err == nil {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.rdb.Pipeline()
	answered := make([]*redis.IntCmd, len(ids))
	violations := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		answered[i] = pipe.HLen(ctx, config.CacheKey.DraftAnswersKey(examID.String(), id.String()))
		violations[i] = pipe.LLen(ctx, config.CacheKey.SessionViolationsKey(examID.String(), id.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	out := make([]LiveStat, len(ids))
	for i, id := range ids {
		out[i] = LiveStat{
			StudentID:     id,
			AnsweredCount: answered[i].Val(),
			Violations:    violations[i].Val(),
		}
	}
	return out, nil
}

// Publish sends an event to the exam's monitor channel.
func (r *MonitorRepository) Publish(ctx context.Context, examID uuid.UUID, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), payload).Err()
}

// Subscribe opens a subscription to the exam's monitor channel. Close it when done.
func (r *MonitorRepository) Subscribe(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	return r.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
}
