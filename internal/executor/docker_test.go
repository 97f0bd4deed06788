package executor

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	config  *container.Config
	host    *container.HostConfig
	copyDst string
	files   map[string]string
	copyErr error
	exit    int64
	stdout  string
	stderr  string
	started bool
	removed bool
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.config = cfg
	f.host = host
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeDocker) CopyToContainer(_ context.Context, _, dst string, content io.Reader, _ container.CopyToContainerOptions) error {
	if f.copyErr != nil {
		return f.copyErr
	}
	f.copyDst = dst
	f.files = map[string]string{}
	tr := tar.NewReader(content)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if h.Typeflag != tar.TypeReg {
			continue
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		f.files[h.Name] = string(body)
	}
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	f.started = true
	return nil
}

func (f *fakeDocker) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	statusCh <- container.WaitResponse{StatusCode: f.exit}
	return statusCh, make(chan error)
}

func (f *fakeDocker) ContainerKill(context.Context, string, string) error { return nil }

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout)); err != nil {
		return nil, err
	}
	if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr)); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerRemove(context.Context, string, container.RemoveOptions) error {
	f.removed = true
	return nil
}

func (f *fakeDocker) Close() error { return nil }

func TestDockerExecuteCopiesSourceAndStdin(t *testing.T) {
	api := &fakeDocker{exit: 3, stdout: "out\n", stderr: "warn\n"}
	e := newDockerExecutor(api, DockerConfig{Logger: zerolog.Nop()})

	// Larger than a single argv string may be on Linux.
	source := "print(input())\n" + strings.Repeat("# pad\n", 40*1024)
	stdin := strings.Repeat("x", 200*1024)

	res, err := e.Execute(context.Background(), Request{Language: "python", Source: source, Stdin: stdin})
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
	require.Equal(t, "out\n", res.Stdout)
	require.Equal(t, "warn\n", res.Stderr)

	require.Empty(t, api.config.Env)
	require.Equal(t, []string{"sh", "-c", "(python3 main.py) < input.txt"}, []string(api.config.Cmd))
	require.Equal(t, sandboxDir, api.config.WorkingDir)
	require.Equal(t, "none", string(api.host.NetworkMode))
	require.NotContains(t, api.host.Tmpfs, sandboxDir)

	require.Equal(t, "/", api.copyDst)
	require.Equal(t, source, api.files["sandbox/main.py"])
	require.Equal(t, stdin, api.files["sandbox/input.txt"])
	require.True(t, api.started)
	require.True(t, api.removed)
}

func TestDockerExecuteCopyFailureIsUnavailable(t *testing.T) {
	api := &fakeDocker{copyErr: errors.New("rootfs is read-only")}
	e := newDockerExecutor(api, DockerConfig{Logger: zerolog.Nop()})

	_, err := e.Execute(context.Background(), Request{Language: "python", Source: "print(1)"})
	require.ErrorIs(t, err, ErrUnavailable)
	require.False(t, api.started)
	require.True(t, api.removed)
}

func TestDockerExecuteUnsupportedLanguage(t *testing.T) {
	api := &fakeDocker{}
	e := newDockerExecutor(api, DockerConfig{Logger: zerolog.Nop()})

	_, err := e.Execute(context.Background(), Request{Language: "cobol"})
	require.ErrorIs(t, err, ErrUnsupportedLanguage)
	require.Nil(t, api.config)
}
