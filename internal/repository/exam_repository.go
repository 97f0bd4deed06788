package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mindcraft/mindcraft-backend/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, title, topic, time_limit_minutes, attempt_limit, release_mode,
	scheduled_start, scheduled_end, created_at, updated_at`

func scanExam(row pgx.Row) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(&e.ID, &e.Title, &e.Topic, &e.TimeLimitMinutes, &e.AttemptLimit, &e.ReleaseMode,
		&e.ScheduledStart, &e.ScheduledEnd, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByID retrieves an exam by its UUID. Returns pgx.ErrNoRows when missing.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
}

// ListAvailable returns exams whose scheduling window is open or unset, newest first.
func (r *ExamRepository) ListAvailable(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+`
		 FROM exams
		 WHERE (scheduled_end IS NULL OR scheduled_end > NOW())
		 ORDER BY COALESCE(scheduled_start, created_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// CreateTx inserts an exam inside tx and fills in its generated fields.
func (r *ExamRepository) CreateTx(ctx context.Context, tx pgx.Tx, e *model.Exam) error {
	return tx.QueryRow(ctx,
		`INSERT INTO exams (title, topic, time_limit_minutes, attempt_limit, release_mode, scheduled_start, scheduled_end)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Topic, e.TimeLimitMinutes, e.AttemptLimit, e.ReleaseMode, e.ScheduledStart, e.ScheduledEnd,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}
