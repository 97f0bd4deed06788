package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/mindcraft/mindcraft-backend/internal/observability"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Runner grades a program against test cases, one execution per case.
type Runner struct {
	exec   Executor
	tracer trace.Tracer
	log    zerolog.Logger
}

// NewRunner wraps an executor.
func NewRunner(exec Executor, log zerolog.Logger) *Runner {
	return &Runner{
		exec:   exec,
		tracer: otel.Tracer("github.com/mindcraft/mindcraft-backend/internal/executor"),
		log:    log.With().Str("component", "runner").Logger(),
	}
}

// Run executes every test case sequentially. A failing case becomes a failed
// result carrying an error string and never stops the remaining cases.
// An error is returned only for an unsupported language, or when the backend
// was unavailable for every case.
func (r *Runner) Run(ctx context.Context, language, code string, cases []model.TestCase) ([]model.TestCaseResult, error) {
	if _, ok := LookupLanguage(language); !ok {
		observability.CodeRuns().WithLabelValues("unsupported", "rejected").Inc()
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	ctx, span := r.tracer.Start(ctx, "executor.runner.run", trace.WithAttributes(
		attribute.String("executor.language", language),
		attribute.Int("executor.test_cases", len(cases)),
	))
	defer span.End()

	results := make([]model.TestCaseResult, 0, len(cases))
	unavailable := 0
	var lastErr error
	for _, tc := range cases {
		res, err := r.exec.Execute(ctx, Request{Language: language, Source: code, Stdin: tc.Input})
		if errors.Is(err, ErrUnavailable) {
			unavailable++
			lastErr = err
		}
		results = append(results, Judge(tc, res, err))
	}

	passed := 0
	for _, res := range results {
		if res.Passed {
			passed++
		}
	}
	span.SetAttributes(attribute.Int("executor.passed", passed))

	if len(cases) > 0 && unavailable == len(cases) {
		observability.CodeRuns().WithLabelValues(language, "unavailable").Inc()
		r.log.Error().Err(lastErr).Str("language", language).Msg("Execution backend unavailable")
		return results, lastErr
	}

	outcome := "failed"
	if passed == len(cases) {
		outcome = "passed"
	}
	observability.CodeRuns().WithLabelValues(language, outcome).Inc()
	r.log.Debug().Str("language", language).Int("passed", passed).Int("total", len(cases)).Msg("Test cases run")
	return results, nil
}

// Judge turns one execution into a test-case result.
func Judge(tc model.TestCase, res Result, err error) model.TestCaseResult {
	out := model.TestCaseResult{
		ExpectedOutput: Normalize(tc.Output),
		ActualOutput:   Normalize(res.Stdout),
		ExecutionTime:  res.ExecutionTime.Milliseconds(),
		Hidden:         tc.Hidden,
	}
	switch {
	case err != nil:
		msg := err.Error()
		out.Error = &msg
	case res.ExitCode != 0:
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exited with code %d", res.ExitCode)
		}
		out.Error = &msg
	default:
		out.Passed = out.ActualOutput == out.ExpectedOutput
	}
	return out
}

// Normalize converts CRLF to LF and trims surrounding whitespace. Nothing else is forgiven.
func Normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
