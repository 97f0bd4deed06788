package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/config"
	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/redis/go-redis/v9"
)

// SessionStateRepository keeps the volatile state of live attempts in Redis:
// start time, draft answers and the violation log. Nothing here is the
// attempt record; it only lets a restarted process resume a session.
type SessionStateRepository struct {
	rdb *redis.Client
}

// NewSessionStateRepository creates a new SessionStateRepository.
func NewSessionStateRepository(rdb *redis.Client) *SessionStateRepository {
	return &SessionStateRepository{rdb: rdb}
}

// StartOrResume stores now as the start time unless one exists, and returns the
// effective start time. resumed is true when an earlier start was found.
func (r *SessionStateRepository) StartOrResume(ctx context.Context, examID, studentID uuid.UUID, now time.Time, ttl time.Duration) (time.Time, bool, error) {
	key := config.CacheKey.SessionStartKey(examID.String(), studentID.String())

	created, err := r.rdb.SetNX(ctx, key, now.Unix(), ttl).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("set session start: %w", err)
	}
	if created {
		if err := r.rdb.Set(ctx, config.CacheKey.StudentActiveExamKey(studentID.String()), examID.String(), ttl).Err(); err != nil {
			return time.Time{}, false, fmt.Errorf("set active exam: %w", err)
		}
		return now, false, nil
	}

	raw, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get session start: %w", err)
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse session start %q: %w", raw, err)
	}
	return time.Unix(unix, 0), true, nil
}

// SessionStart returns the stored start time of a live attempt, if any.
func (r *SessionStateRepository) SessionStart(ctx context.Context, examID, studentID uuid.UUID) (time.Time, bool, error) {
	raw, err := r.rdb.Get(ctx, config.CacheKey.SessionStartKey(examID.String(), studentID.String())).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse session start %q: %w", raw, err)
	}
	return time.Unix(unix, 0), true, nil
}

// ActiveExam returns the exam a student currently has a live attempt at, if any.
func (r *SessionStateRepository) ActiveExam(ctx context.Context, studentID uuid.UUID) (uuid.UUID, bool, error) {
	raw, err := r.rdb.Get(ctx, config.CacheKey.StudentActiveExamKey(studentID.String())).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

// SaveDraft stores one answer record in the draft hash and refreshes its TTL.
func (r *SessionStateRepository) SaveDraft(ctx context.Context, examID, studentID, questionID uuid.UUID, answer model.Answer, ttl time.Duration) error {
	raw, err := model.MarshalAnswer(answer)
	if err != nil {
		return err
	}
	key := config.CacheKey.DraftAnswersKey(examID.String(), studentID.String())
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, questionID.String(), raw)
	pipe.Expire(ctx, key, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// LoadDrafts returns every stored draft answer. Undecodable entries are skipped.
func (r *SessionStateRepository) LoadDrafts(ctx context.Context, examID, studentID uuid.UUID) (model.AnswerSheet, error) {
	raw, err := r.rdb.HGetAll(ctx, config.CacheKey.DraftAnswersKey(examID.String(), studentID.String())).Result()
	if err != nil {
		return nil, err
	}
	sheet := make(model.AnswerSheet, len(raw))
	for k, v := range raw {
		id, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		a, err := model.UnmarshalAnswer([]byte(v))
		if err != nil {
			continue
		}
		sheet[id] = a
	}
	return sheet, nil
}

// AppendViolation mirrors one violation of a live attempt and refreshes its TTL.
func (r *SessionStateRepository) AppendViolation(ctx context.Context, examID, studentID uuid.UUID, v model.Violation, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	key := config.CacheKey.SessionViolationsKey(examID.String(), studentID.String())
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.Expire(ctx, key, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// LoadViolations returns the mirrored violation log in order.
func (r *SessionStateRepository) LoadViolations(ctx context.Context, examID, studentID uuid.UUID) ([]model.Violation, error) {
	raw, err := r.rdb.LRange(ctx, config.CacheKey.SessionViolationsKey(examID.String(), studentID.String()), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var out []model.Violation
	for _, item := range raw {
		var v model.Violation
		if err := json.Unmarshal([]byte(item), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Clear removes every key of a finished attempt.
func (r *SessionStateRepository) Clear(ctx context.Context, examID, studentID uuid.UUID) error {
	e, s := examID.String(), studentID.String()
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx,
		config.CacheKey.SessionStartKey(e, s),
		config.CacheKey.DraftAnswersKey(e, s),
		config.CacheKey.SessionViolationsKey(e, s),
	)
	// Only drop the active-exam marker if it still points at this exam.
	activeKey := config.CacheKey.StudentActiveExamKey(s)
	if cur, err := r.rdb.Get(ctx, activeKey).Result(); err == nil && cur == e {
		pipe.Del(ctx, activeKey)
	}
	_, err := pipe.Exec(ctx)
	return err
}
