package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mindcraft/mindcraft-backend/internal/model"
)

// HelpRequestRepository stores help-desk requests.
type HelpRequestRepository struct {
	pool *pgxpool.Pool
}

// NewHelpRequestRepository creates a new HelpRequestRepository.
func NewHelpRequestRepository(pool *pgxpool.Pool) *HelpRequestRepository {
	return &HelpRequestRepository{pool: pool}
}

// Create inserts an open request.
func (r *HelpRequestRepository) Create(ctx context.Context, h *model.HelpRequest) error {
	h.Status = model.HelpRequestOpen
	return r.pool.QueryRow(ctx,
		`INSERT INTO help_requests (exam_id, student_id, message, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		h.ExamID, h.StudentID, h.Message, h.Status,
	).Scan(&h.ID, &h.CreatedAt)
}
