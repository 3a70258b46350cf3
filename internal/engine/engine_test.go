package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

var _ Client = (*FakeClient)(nil)

type FakeClient struct {
	PingErr        error
	PullStream     string
	SaveContent    string
	CreateNotFound int // number of ContainerCreate calls failing with not found
	ExitCode       int64
	Stdout         string
	Stderr         string

	Calls   []string
	Configs []*container.Config
	Hosts   []*container.HostConfig
}

func (c *FakeClient) Ping(ctx context.Context) (types.Ping, error) {
	c.Calls = append(c.Calls, "Ping")
	return types.Ping{}, c.PingErr
}

func (c *FakeClient) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	c.Calls = append(c.Calls, "ImagePull "+refStr+" "+options.Platform)
	return io.NopCloser(strings.NewReader(c.PullStream)), nil
}

func (c *FakeClient) ImageSave(ctx context.Context, imageIDs []string) (io.ReadCloser, error) {
	c.Calls = append(c.Calls, "ImageSave "+strings.Join(imageIDs, ","))
	return io.NopCloser(strings.NewReader(c.SaveContent)), nil
}

func (c *FakeClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	c.Calls = append(c.Calls, "ContainerCreate "+config.Image)
	if c.CreateNotFound > 0 {
		c.CreateNotFound--
		return container.CreateResponse{}, errdefs.NotFound(errors.New("no such image"))
	}
	c.Configs = append(c.Configs, config)
	c.Hosts = append(c.Hosts, hostConfig)
	return container.CreateResponse{ID: "c1"}, nil
}

func (c *FakeClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	c.Calls = append(c.Calls, "ContainerStart "+containerID)
	return nil
}

func (c *FakeClient) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	c.Calls = append(c.Calls, "ContainerWait "+containerID)
	statusCh := make(chan container.WaitResponse, 1)
	statusCh <- container.WaitResponse{StatusCode: c.ExitCode}
	return statusCh, make(chan error)
}

func (c *FakeClient) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	c.Calls = append(c.Calls, "ContainerLogs "+containerID)
	var buf bytes.Buffer
	if c.Stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(c.Stdout))
	}
	if c.Stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(c.Stderr))
	}
	return io.NopCloser(&buf), nil
}

func (c *FakeClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	c.Calls = append(c.Calls, "ContainerRemove "+containerID)
	return nil
}

func newTestEngine(c Client) *Engine {
	return New(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEngineAvailable(t *testing.T) {
	t.Run("is available when ping succeeds", func(t *testing.T) {
		e := newTestEngine(&FakeClient{})
		if got, want := e.Available(context.Background()), true; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	})

	t.Run("is unavailable when ping fails", func(t *testing.T) {
		e := newTestEngine(&FakeClient{PingErr: errors.New("connection refused")})
		if got, want := e.Available(context.Background()), false; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	})
}

func TestEnginePull(t *testing.T) {
	t.Run("pulls for the platform", func(t *testing.T) {
		c := &FakeClient{PullStream: `{"status":"Pulling from library/redis"}` + "\n"}
		e := newTestEngine(c)

		if err := e.Pull(context.Background(), "redis:7", "linux/arm64"); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := c.Calls, []string{"ImagePull redis:7 linux/arm64"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("got %v, want %v", got, want)
		}
	})

	t.Run("fails when the stream reports an error", func(t *testing.T) {
		c := &FakeClient{PullStream: `{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}` + "\n"}
		e := newTestEngine(c)

		err := e.Pull(context.Background(), "redis:nope", "linux/amd64")
		if err == nil || !strings.Contains(err.Error(), "manifest unknown") {
			t.Fatalf("got %v, want error containing %q", err, "manifest unknown")
		}
	})
}

func TestEngineSave(t *testing.T) {
	c := &FakeClient{SaveContent: "tarball"}
	e := newTestEngine(c)
	dst := filepath.Join(t.TempDir(), "redis_7.tar")

	if err := e.Save(context.Background(), "redis:7", dst); err != nil {
		t.Fatalf("didn't want %q", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("didn't want %q", err)
	}
	if want := "tarball"; string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEngineRun(t *testing.T) {
	t.Run("runs and removes a container", func(t *testing.T) {
		c := &FakeClient{Stdout: "left-pad-1.3.0.tgz\n"}
		e := newTestEngine(c)
		out := t.TempDir()

		result, err := e.Run(context.Background(), &RunParams{
			Image:      "node:20-bullseye",
			Cmd:        []string{"npm", "pack", "left-pad@1.3.0"},
			WorkingDir: "/out",
			Binds:      []Bind{{Source: out, Target: "/out"}},
		})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := result.Stdout, "left-pad-1.3.0.tgz\n"; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}

		wantCalls := []string{
			"ContainerCreate node:20-bullseye",
			"ContainerStart c1",
			"ContainerWait c1",
			"ContainerLogs c1",
			"ContainerRemove c1",
		}
		if got := c.Calls; !reflect.DeepEqual(got, wantCalls) {
			t.Fatalf("got %v, want %v", got, wantCalls)
		}
		mounts := c.Hosts[0].Mounts
		if len(mounts) != 1 || mounts[0].Source != out || mounts[0].Target != "/out" {
			t.Fatalf("got mounts %v, want %s bound to /out", mounts, out)
		}
	})

	t.Run("pulls a missing image and retries", func(t *testing.T) {
		c := &FakeClient{CreateNotFound: 1}
		e := newTestEngine(c)

		_, err := e.Run(context.Background(), &RunParams{Image: "python:3.11-slim", Cmd: []string{"true"}})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := c.Calls[:3], []string{
			"ContainerCreate python:3.11-slim",
			"ImagePull python:3.11-slim ",
			"ContainerCreate python:3.11-slim",
		}; !reflect.DeepEqual(got, want) {
			t.Fatalf("got %v, want %v", got, want)
		}
	})

	t.Run("reports a non-zero exit with output", func(t *testing.T) {
		c := &FakeClient{ExitCode: 1, Stderr: "npm ERR! 404 Not Found\n"}
		e := newTestEngine(c)

		_, err := e.Run(context.Background(), &RunParams{Image: "node:20-bullseye", Cmd: []string{"npm", "pack", "nope@0.0.0"}})
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("got %v, want *ExitError", err)
		}
		if got, want := exitErr.ExitCode, 1; got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		if got, want := exitErr.Output, "npm ERR! 404 Not Found"; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
		if got, want := c.Calls[len(c.Calls)-1], "ContainerRemove c1"; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})
}
