package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mindcraft/mindcraft-backend/internal/model"
)

// QuestionScore is the earned and maximum marks of one question.
type QuestionScore struct {
	QuestionID uuid.UUID `json:"question_id"`
	Earned     float64   `json:"earned"`
	Max        float64   `json:"max"`
}

// ScoreResult is the outcome of grading an answer sheet.
type ScoreResult struct {
	Earned    float64         `json:"earned"`
	Max       float64         `json:"max"`
	Percent   float64         `json:"percent"`
	Questions []QuestionScore `json:"questions"`
}

// Score grades answers against questions. Every question counts toward Max
// whether or not it was answered.
func Score(questions []model.Question, answers model.AnswerSheet) ScoreResult {
	res := ScoreResult{Questions: make([]QuestionScore, 0, len(questions))}
	for i := range questions {
		q := &questions[i]
		earned := Earned(q, answers[q.ID])
		res.Earned += earned
		res.Max += q.Marks
		res.Questions = append(res.Questions, QuestionScore{
			QuestionID: q.ID,
			Earned:     earned,
			Max:        q.Marks,
		})
	}
	if res.Max > 0 {
		res.Percent = res.Earned * 100 / res.Max
	}
	return res
}

// Earned returns the marks one answer earns. A nil answer is unattempted.
func Earned(q *model.Question, answer model.Answer) float64 {
	switch body := q.Body.(type) {
	case *model.MCQ:
		a, ok := answer.(*model.MCQAnswer)
		if ok && a.Answer == body.CorrectAnswer {
			return q.Marks
		}
		return 0

	case *model.Coding:
		total := len(body.TestCases)
		if total == 0 {
			// Nothing to judge against: full marks, attempted or not.
			return q.Marks
		}
		a, ok := answer.(*model.CodingAnswer)
		if !ok || !a.HasRun {
			return 0
		}
		passed := a.PassedCount()
		if passed > total {
			passed = total
		}
		return float64(passed) / float64(total) * q.Marks

	default:
		panic(fmt.Sprintf("engine: unhandled question body %T", q.Body))
	}
}

// ApplyCodingScores writes each coding answer's earned marks into its record.
func ApplyCodingScores(answers model.AnswerSheet, res ScoreResult) {
	for _, qs := range res.Questions {
		if a, ok := answers[qs.QuestionID].(*model.CodingAnswer); ok {
			a.Score = qs.Earned
		}
	}
}
