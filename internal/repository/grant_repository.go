package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GrantRepository stores admin-granted extra attempts.
type GrantRepository struct {
	pool *pgxpool.Pool
}

// NewGrantRepository creates a new GrantRepository.
func NewGrantRepository(pool *pgxpool.Pool) *GrantRepository {
	return &GrantRepository{pool: pool}
}

// SumExtra returns the total extra attempts granted to a student for an exam.
func (r *GrantRepository) SumExtra(ctx context.Context, examID, studentID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(extra), 0) FROM extra_attempt_grants WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&n)
	return n, err
}

// Create records a grant.
func (r *GrantRepository) Create(ctx context.Context, examID, studentID, grantedBy uuid.UUID, extra int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO extra_attempt_grants (exam_id, student_id, extra, granted_by) VALUES ($1, $2, $3, $4)`,
		examID, studentID, extra, grantedBy)
	return err
}
