package executor

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/mindcraft/mindcraft-backend/internal/observability"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	sandboxDir = "/sandbox"
	stdinFile  = "input.txt"
)

// dockerAPI is the part of the Docker client the executor uses.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerConfig groups sandbox settings.
type DockerConfig struct {
	Host          string
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	Logger        zerolog.Logger
}

// DockerExecutor runs each program in a throwaway, network-less container.
// Source and stdin are copied in as a tar archive before the container starts,
// so their size is bounded by the container's disk rather than by argv limits.
type DockerExecutor struct {
	client dockerAPI
	cfg    DockerConfig
	tracer trace.Tracer
	log    zerolog.Logger
}

// NewDockerExecutor constructs a Docker backed executor.
func NewDockerExecutor(cfg DockerConfig) (*DockerExecutor, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return newDockerExecutor(cli, cfg), nil
}

func newDockerExecutor(api dockerAPI, cfg DockerConfig) *DockerExecutor {
	return &DockerExecutor{
		client: api,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/mindcraft/mindcraft-backend/internal/executor"),
		log:    cfg.Logger.With().Str("component", "docker_executor").Logger(),
	}
}

// Execute runs one program inside a sandboxed container.
func (e *DockerExecutor) Execute(parent context.Context, req Request) (Result, error) {
	lang, ok := LookupLanguage(req.Language)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}

	ctx, span := e.tracer.Start(parent, "executor.docker.execute", trace.WithAttributes(
		attribute.String("executor.language", lang.Name),
		attribute.String("docker.image", lang.Image),
	))
	defer span.End()

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	cfg := &container.Config{
		Image:      lang.Image,
		Cmd:        []string{"sh", "-c", ShellCommand(lang)},
		WorkingDir: sandboxDir,
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		// The rootfs stays writable: Docker refuses archive copies into a
		// read-only rootfs, and a tmpfs would hide files copied before start.
		NetworkMode: "none",
		Tmpfs: map[string]string{
			"/tmp": "rw,exec,size=64m",
		},
		Resources: container.Resources{
			Memory:    e.cfg.MemoryLimitMB * 1024 * 1024,
			CPUShares: e.cfg.CPUShares,
		},
	}

	start := time.Now()
	result := Result{}
	fail := func(err error) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	resp, err := e.client.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return fail(fmt.Errorf("%w: container create: %v", ErrUnavailable, err))
	}
	containerID := resp.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			e.log.Error().Err(err).Str("container_id", containerID).Msg("Failed to remove container")
		}
	}()

	archive, err := sandboxArchive(lang, req)
	if err != nil {
		return fail(fmt.Errorf("build sandbox archive: %w", err))
	}
	if err := e.client.CopyToContainer(ctx, containerID, "/", archive, container.CopyToContainerOptions{}); err != nil {
		return fail(fmt.Errorf("%w: copy to container: %v", ErrUnavailable, err))
	}

	if err := e.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fail(fmt.Errorf("%w: container start: %v", ErrUnavailable, err))
	}

	statusCh, errCh := e.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	result.ExecutionTime = time.Since(start)
	observability.ExecutorDuration().WithLabelValues("docker").Observe(result.ExecutionTime.Seconds())

	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) {
			killCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := e.client.ContainerKill(killCtx, containerID, "KILL"); err != nil {
				e.log.Error().Err(err).Str("container_id", containerID).Msg("Failed to kill timed out container")
			}
			return fail(fmt.Errorf("%w after %s", ErrTimedOut, e.cfg.Timeout))
		}
		return fail(fmt.Errorf("%w: container wait: %v", ErrUnavailable, waitErr))
	}

	logs, err := e.client.ContainerLogs(parent, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return fail(fmt.Errorf("%w: container logs: %v", ErrUnavailable, err))
	}
	defer logs.Close()

	stdout, stderr, err := splitDockerLogs(logs)
	if err != nil {
		return fail(fmt.Errorf("%w: read logs: %v", ErrUnavailable, err))
	}
	result.Stdout = stdout
	result.Stderr = stderr
	span.SetAttributes(attribute.Int("executor.exit_code", result.ExitCode))
	return result, nil
}

// ShellCommand runs the language's command with the copied stdin file as input.
func ShellCommand(lang Language) string {
	return fmt.Sprintf("(%s) < %s", lang.Command, stdinFile)
}

// sandboxArchive packs the source file and the stdin file under sandboxDir,
// rooted at / for CopyToContainer.
func sandboxArchive(lang Language, req Request) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	dir := sandboxDir[1:]
	now := time.Now()

	if err := tw.WriteHeader(&tar.Header{
		Name:     dir + "/",
		Mode:     0o777,
		ModTime:  now,
		Typeflag: tar.TypeDir,
	}); err != nil {
		return nil, fmt.Errorf("write dir header: %w", err)
	}
	files := []struct {
		name string
		body string
	}{
		{lang.FileName, req.Source},
		{stdinFile, req.Stdin},
	}
	for _, f := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name:     path.Join(dir, f.name),
			Mode:     0o644,
			Size:     int64(len(f.body)),
			ModTime:  now,
			Typeflag: tar.TypeReg,
		}); err != nil {
			return nil, fmt.Errorf("write header for %s: %w", f.name, err)
		}
		if _, err := io.WriteString(tw, f.body); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return &buf, nil
}

func splitDockerLogs(reader io.Reader) (string, string, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, reader); err != nil {
		return "", "", err
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

// Close shuts down the underlying client.
func (e *DockerExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
