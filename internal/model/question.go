package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QuestionType tags the variant of a question and of its answer record.
type QuestionType string

const (
	QuestionTypeMCQ    QuestionType = "mcq"
	QuestionTypeCoding QuestionType = "coding"
)

// Question belongs to exactly one exam. Body is either *MCQ or *Coding.
type Question struct {
	ID           uuid.UUID
	ExamID       uuid.UUID
	QuestionText string
	Marks        float64
	Explanation  *string
	Body         QuestionBody
	CreatedAt    time.Time
}

// QuestionBody is the sealed variant part of a question.
type QuestionBody interface {
	questionType() QuestionType
}

// MCQ is a multiple-choice question with a single correct option.
type MCQ struct {
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

// Coding is a programming question graded against test cases.
type Coding struct {
	Title        *string       `json:"title,omitempty"`
	InputFormat  *string       `json:"input_format,omitempty"`
	OutputFormat *string       `json:"output_format,omitempty"`
	Constraints  *string       `json:"constraints,omitempty"`
	Examples     []CodeExample `json:"examples,omitempty"`
	TestCases    []TestCase    `json:"test_cases"`
}

// CodeExample is an illustrative input/output pair shown to the student.
type CodeExample struct {
	Input       string  `json:"input"`
	Output      string  `json:"output"`
	Explanation *string `json:"explanation,omitempty"`
}

// TestCase is an input/expected-output pair. Hidden only affects visibility.
type TestCase struct {
	Input  string `json:"input" binding:"required"`
	Output string `json:"output" binding:"required"`
	Hidden bool   `json:"hidden"`
}

func (*MCQ) questionType() QuestionType    { return QuestionTypeMCQ }
func (*Coding) questionType() QuestionType { return QuestionTypeCoding }

// Type returns the question's variant tag.
func (q *Question) Type() QuestionType {
	if q.Body == nil {
		return ""
	}
	return q.Body.questionType()
}

// Validation errors for question bodies.
var (
	ErrTooFewOptions        = errors.New("mcq needs at least two options")
	ErrCorrectAnswerMissing = errors.New("mcq correct answer must match one option exactly")
	ErrEmptyTestCase        = errors.New("test case input and output must be non-empty")
	ErrNonPositiveMarks     = errors.New("marks must be positive")
	ErrUnknownQuestionType  = errors.New("unknown question type")
)

// Validate checks the invariants of a question.
func (q *Question) Validate() error {
	if q.Marks <= 0 {
		return ErrNonPositiveMarks
	}
	switch b := q.Body.(type) {
	case *MCQ:
		if len(b.Options) < 2 {
			return ErrTooFewOptions
		}
		for _, o := range b.Options {
			if o == b.CorrectAnswer {
				return nil
			}
		}
		return ErrCorrectAnswerMissing
	case *Coding:
		for _, tc := range b.TestCases {
			if tc.Input == "" || tc.Output == "" {
				return ErrEmptyTestCase
			}
		}
		return nil
	default:
		return ErrUnknownQuestionType
	}
}

// questionJSON is the flat wire shape of a question.
type questionJSON struct {
	ID           uuid.UUID    `json:"id"`
	ExamID       uuid.UUID    `json:"exam_id"`
	Type         QuestionType `json:"type"`
	QuestionText string       `json:"question_text"`
	Marks        float64      `json:"marks"`
	Explanation  *string      `json:"explanation,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	*MCQ
	*Coding
}

// MarshalJSON flattens the variant fields next to the common ones.
func (q Question) MarshalJSON() ([]byte, error) {
	out := questionJSON{
		ID:           q.ID,
		ExamID:       q.ExamID,
		Type:         q.Type(),
		QuestionText: q.QuestionText,
		Marks:        q.Marks,
		Explanation:  q.Explanation,
		CreatedAt:    q.CreatedAt,
	}
	switch b := q.Body.(type) {
	case *MCQ:
		out.MCQ = b
	case *Coding:
		out.Coding = b
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a flat question and picks the body by its type tag.
func (q *Question) UnmarshalJSON(data []byte) error {
	var in questionJSON
	in.MCQ = &MCQ{}
	in.Coding = &Coding{}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*q = Question{
		ID:           in.ID,
		ExamID:       in.ExamID,
		QuestionText: in.QuestionText,
		Marks:        in.Marks,
		Explanation:  in.Explanation,
		CreatedAt:    in.CreatedAt,
	}
	switch in.Type {
	case QuestionTypeMCQ:
		q.Body = in.MCQ
	case QuestionTypeCoding:
		q.Body = in.Coding
	default:
		return fmt.Errorf("%w: %q", ErrUnknownQuestionType, in.Type)
	}
	return nil
}

// QuestionForStudent is a question without its answer key or hidden test cases.
type QuestionForStudent struct {
	ID           uuid.UUID     `json:"id"`
	Type         QuestionType  `json:"type"`
	QuestionText string        `json:"question_text"`
	Marks        float64       `json:"marks"`
	Options      []string      `json:"options,omitempty"`
	Title        *string       `json:"title,omitempty"`
	InputFormat  *string       `json:"input_format,omitempty"`
	OutputFormat *string       `json:"output_format,omitempty"`
	Constraints  *string       `json:"constraints,omitempty"`
	Examples     []CodeExample `json:"examples,omitempty"`
	TestCases    []TestCase    `json:"test_cases,omitempty"`
}

// ForStudent strips the correct answer and hidden test cases.
func (q *Question) ForStudent() QuestionForStudent {
	out := QuestionForStudent{
		ID:           q.ID,
		Type:         q.Type(),
		QuestionText: q.QuestionText,
		Marks:        q.Marks,
	}
	switch b := q.Body.(type) {
	case *MCQ:
		out.Options = b.Options
	case *Coding:
		out.Title = b.Title
		out.InputFormat = b.InputFormat
		out.OutputFormat = b.OutputFormat
		out.Constraints = b.Constraints
		out.Examples = b.Examples
		for _, tc := range b.TestCases {
			if !tc.Hidden {
				out.TestCases = append(out.TestCases, tc)
			}
		}
	}
	return out
}
