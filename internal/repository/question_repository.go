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

// QuestionRepository handles question data access.
// The variant-specific part of a question is stored in the body column as JSON.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam returns an exam's questions in creation order.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, type, question_text, marks, explanation, body, created_at
		 FROM questions
		 WHERE exam_id = $1
		 ORDER BY created_at, id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var (
			q    model.Question
			typ  model.QuestionType
			body []byte
		)
		if err := rows.Scan(&q.ID, &q.ExamID, &typ, &q.QuestionText, &q.Marks, &q.Explanation, &body, &q.CreatedAt); err != nil {
			return nil, err
		}
		q.Body, err = decodeBody(typ, body)
		if err != nil {
			return nil, fmt.Errorf("question %s: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CopyTx bulk-inserts questions for one exam inside tx. Creation timestamps are
// spaced one microsecond apart so the slice order is the display order.
func (r *QuestionRepository) CopyTx(ctx context.Context, tx pgx.Tx, examID uuid.UUID, questions []model.Question) (int64, error) {
	base := time.Now().UTC()
	return tx.CopyFrom(ctx,
		pgx.Identifier{"questions"},
		[]string{"id", "exam_id", "type", "question_text", "marks", "explanation", "body", "created_at"},
		pgx.CopyFromSlice(len(questions), func(i int) ([]any, error) {
			q := questions[i]
			if q.ID == uuid.Nil {
				q.ID = uuid.New()
			}
			body, err := json.Marshal(q.Body)
			if err != nil {
				return nil, err
			}
			return []any{q.ID, examID, string(q.Type()), q.QuestionText, q.Marks, q.Explanation, body,
				base.Add(time.Duration(i) * time.Microsecond)}, nil
		}),
	)
}

func decodeBody(typ model.QuestionType, raw []byte) (model.QuestionBody, error) {
	switch typ {
	case model.QuestionTypeMCQ:
		var b model.MCQ
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return &b, nil
	case model.QuestionTypeCoding:
		var b model.Coding
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return &b, nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownQuestionType, typ)
	}
}
