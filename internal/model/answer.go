package model

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Answer is the per-question answer record. It is either *MCQAnswer or *CodingAnswer.
type Answer interface {
	answerType() QuestionType
}

// MCQAnswer holds the chosen option text.
type MCQAnswer struct {
	Answer string `json:"answer"`
}

// CodingAnswer holds the latest code, language and run results for a coding question.
type CodingAnswer struct {
	Code        string           `json:"code"`
	Language    string           `json:"language"`
	TestResults []TestCaseResult `json:"testResults"`
	HasRun      bool             `json:"hasRun"`
	Score       float64          `json:"score"`
}

func (*MCQAnswer) answerType() QuestionType    { return QuestionTypeMCQ }
func (*CodingAnswer) answerType() QuestionType { return QuestionTypeCoding }

// PassedCount returns how many recorded test results passed.
func (a *CodingAnswer) PassedCount() int {
	n := 0
	for _, r := range a.TestResults {
		if r.Passed {
			n++
		}
	}
	return n
}

// TestCaseResult is the outcome of running one test case.
type TestCaseResult struct {
	Passed         bool    `json:"passed"`
	ActualOutput   string  `json:"actualOutput"`
	ExpectedOutput string  `json:"expectedOutput"`
	Error          *string `json:"error,omitempty"`
	ExecutionTime  int64   `json:"executionTime"`
	Hidden         bool    `json:"hidden,omitempty"`
}

// Redact hides the input-derived detail of hidden test cases, keeping only pass/fail.
func Redact(results []TestCaseResult) []TestCaseResult {
	out := make([]TestCaseResult, len(results))
	for i, r := range results {
		if r.Hidden {
			r.ActualOutput = ""
			r.ExpectedOutput = ""
			r.Error = nil
		}
		out[i] = r
	}
	return out
}

// AnswerSheet maps question ids to answer records.
type AnswerSheet map[uuid.UUID]Answer

type answerEnvelope struct {
	Type QuestionType `json:"type"`
}

// MarshalAnswer encodes a single answer with its "type" tag.
func MarshalAnswer(a Answer) ([]byte, error) {
	switch v := a.(type) {
	case *MCQAnswer:
		return json.Marshal(struct {
			Type QuestionType `json:"type"`
			*MCQAnswer
		}{QuestionTypeMCQ, v})
	case *CodingAnswer:
		return json.Marshal(struct {
			Type QuestionType `json:"type"`
			*CodingAnswer
		}{QuestionTypeCoding, v})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownQuestionType, a)
	}
}

// UnmarshalAnswer decodes a single tagged answer.
func UnmarshalAnswer(data []byte) (Answer, error) {
	var env answerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case QuestionTypeMCQ:
		var a MCQAnswer
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return &a, nil
	case QuestionTypeCoding:
		var a CodingAnswer
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return &a, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownQuestionType, env.Type)
	}
}

// MarshalJSON encodes the sheet as an object keyed by question id.
func (s AnswerSheet) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s))
	for id, a := range s {
		raw, err := MarshalAnswer(a)
		if err != nil {
			return nil, fmt.Errorf("answer %s: %w", id, err)
		}
		out[id.String()] = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an object keyed by question id.
func (s *AnswerSheet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sheet := make(AnswerSheet, len(raw))
	for k, v := range raw {
		id, err := uuid.Parse(k)
		if err != nil {
			return fmt.Errorf("answer key %q: %w", k, err)
		}
		a, err := UnmarshalAnswer(v)
		if err != nil {
			return fmt.Errorf("answer %s: %w", k, err)
		}
		sheet[id] = a
	}
	*s = sheet
	return nil
}

// Clone returns a deep copy of the sheet so it can be read without holding locks.
func (s AnswerSheet) Clone() AnswerSheet {
	out := make(AnswerSheet, len(s))
	for id, a := range s {
		switch v := a.(type) {
		case *MCQAnswer:
			c := *v
			out[id] = &c
		case *CodingAnswer:
			c := *v
			c.TestResults = append([]TestCaseResult(nil), v.TestResults...)
			out[id] = &c
		}
	}
	return out
}
