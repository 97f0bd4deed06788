package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mindcraft/mindcraft-backend/internal/model"
)

// AttemptRepository handles attempt data access. Attempts are append-only;
// the only update is the released flag.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a completed attempt. Violations are stored as NULL when empty
// and submitted_at is set by the database.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	var violations []byte
	if len(a.Violations) > 0 {
		if violations, err = json.Marshal(a.Violations); err != nil {
			return fmt.Errorf("encode violations: %w", err)
		}
	}

	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (exam_id, student_id, answers, score, status, released, violations)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, submitted_at`,
		a.ExamID, a.StudentID, answers, a.Score, a.Status, a.Released, violations,
	).Scan(&a.ID, &a.SubmittedAt)
}

// CountByExamAndStudent counts prior attempts of a student at an exam.
func (r *AttemptRepository) CountByExamAndStudent(ctx context.Context, examID, studentID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&n)
	return n, err
}

// LatestSubmittedAt returns when the student's most recent attempt at an exam
// was stored, or nil if there is none.
func (r *AttemptRepository) LatestSubmittedAt(ctx context.Context, examID, studentID uuid.UUID) (*time.Time, error) {
	var at *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(submitted_at) FROM attempts WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&at)
	return at, err
}

// ListByStudent returns a student's attempts, newest first. Scores of
// unreleased attempts are withheld.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]model.AttemptSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.exam_id, e.title,
		        CASE WHEN a.released THEN a.score END,
		        a.released, COALESCE(jsonb_array_length(a.violations), 0), a.submitted_at
		 FROM attempts a
		 JOIN exams e ON e.id = a.exam_id
		 WHERE a.student_id = $1
		 ORDER BY a.submitted_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AttemptSummary
	for rows.Next() {
		var s model.AttemptSummary
		if err := rows.Scan(&s.ID, &s.ExamID, &s.ExamTitle, &s.Score, &s.Released, &s.ViolationCount, &s.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetByID returns a full attempt. Returns pgx.ErrNoRows when missing.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, answers, score, status, released, violations, submitted_at
		 FROM attempts WHERE id = $1`, id))
}

// ListByExam returns every attempt of an exam, newest first.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, answers, score, status, released, violations, submitted_at
		 FROM attempts WHERE exam_id = $1
		 ORDER BY submitted_at DESC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// SetReleased flips the released flag. Returns pgx.ErrNoRows when the attempt does not exist.
func (r *AttemptRepository) SetReleased(ctx context.Context, id uuid.UUID, released bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE attempts SET released = $2 WHERE id = $1`, id, released)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ReleaseByExam releases every attempt of an exam and returns how many changed.
func (r *AttemptRepository) ReleaseByExam(ctx context.Context, examID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE attempts SET released = TRUE WHERE exam_id = $1 AND NOT released`, examID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	var (
		a          model.Attempt
		answers    []byte
		violations []byte
	)
	if err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &answers, &a.Score, &a.Status, &a.Released, &violations, &a.SubmittedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return nil, fmt.Errorf("decode answers of attempt %s: %w", a.ID, err)
	}
	if len(violations) > 0 {
		if err := json.Unmarshal(violations, &a.Violations); err != nil {
			return nil, fmt.Errorf("decode violations of attempt %s: %w", a.ID, err)
		}
	}
	return &a, nil
}
