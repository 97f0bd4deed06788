package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mindcraft/mindcraft-backend/internal/observability"
	"github.com/rs/zerolog"
)

// RemoteExecutor calls a Piston-compatible execution API.
type RemoteExecutor struct {
	url     string
	client  *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

// NewRemoteExecutor creates a client for the execute endpoint at url.
func NewRemoteExecutor(url string, timeout time.Duration, log zerolog.Logger) *RemoteExecutor {
	return &RemoteExecutor{
		url:     url,
		client:  &http.Client{Timeout: timeout + 5*time.Second},
		timeout: timeout,
		log:     log.With().Str("component", "remote_executor").Logger(),
	}
}

type pistonFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language   string       `json:"language"`
	Version    string       `json:"version"`
	Files      []pistonFile `json:"files"`
	Stdin      string       `json:"stdin"`
	RunTimeout int64        `json:"run_timeout,omitempty"`
}

type pistonStage struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

type pistonResponse struct {
	Run     *pistonStage `json:"run"`
	Compile *pistonStage `json:"compile"`
	Message string       `json:"message"`
}

// Execute runs one program remotely.
func (e *RemoteExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	lang, ok := LookupLanguage(req.Language)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}

	body, err := json.Marshal(pistonRequest{
		Language:   lang.PistonName,
		Version:    "*",
		Files:      []pistonFile{{Name: lang.FileName, Content: req.Source}},
		Stdin:      req.Stdin,
		RunTimeout: e.timeout.Milliseconds(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	elapsed := time.Since(start)
	observability.ExecutorDuration().WithLabelValues("remote").Observe(elapsed.Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return Result{ExecutionTime: elapsed}, fmt.Errorf("%w: %v", ErrTimedOut, ctx.Err())
		}
		return Result{ExecutionTime: elapsed}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{ExecutionTime: elapsed}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	var out pistonResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
		return Result{ExecutionTime: elapsed}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		e.log.Error().Int("status", resp.StatusCode).Str("message", out.Message).Msg("Execution service error")
		return Result{ExecutionTime: elapsed}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Result{ExecutionTime: elapsed}, fmt.Errorf("execution rejected: %s", msg)
	}

	if out.Compile != nil && out.Compile.Code != nil && *out.Compile.Code != 0 {
		return Result{
			Stdout:        out.Compile.Stdout,
			Stderr:        out.Compile.Stderr,
			ExitCode:      *out.Compile.Code,
			ExecutionTime: elapsed,
		}, nil
	}
	if out.Run == nil {
		return Result{ExecutionTime: elapsed}, fmt.Errorf("%w: response has no run stage", ErrUnavailable)
	}

	res := Result{
		Stdout:        out.Run.Stdout,
		Stderr:        out.Run.Stderr,
		ExecutionTime: elapsed,
	}
	switch {
	case out.Run.Code != nil:
		res.ExitCode = *out.Run.Code
	case out.Run.Signal != nil:
		res.ExitCode = -1
		if *out.Run.Signal == "SIGKILL" {
			return res, ErrTimedOut
		}
	}
	return res, nil
}
