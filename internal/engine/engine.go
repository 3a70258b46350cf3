// Package engine runs image and container operations against a Docker Engine.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Client is the subset of the Docker Engine API the engine uses.
type Client interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageSave(ctx context.Context, imageIDs []string) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

var _ Client = (*client.Client)(nil)

// ExitError is returned by Run when the container exits with a non-zero code.
type ExitError struct {
	ExitCode int
	Output   string // tail of stderr, or stdout if stderr is empty
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("exit code is %d", e.ExitCode)
	}
	return fmt.Sprintf("exit code is %d: %s", e.ExitCode, e.Output)
}

const (
	pingTimeout   = 5 * time.Second
	outputTailLen = 2048
)

type Engine struct {
	client Client // required
	log    *slog.Logger
}

func New(c Client, log *slog.Logger) *Engine {
	return &Engine{client: c, log: log.With("component", "engine")}
}

// NewFromEnv connects to the Docker Engine configured by the DOCKER_* environment variables.
// It doesn't contact the engine; use Available for that.
func NewFromEnv(log *slog.Logger) (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return New(cli, log), nil
}

// Available reports whether the engine answers a ping.
func (e *Engine) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if _, err := e.client.Ping(ctx); err != nil {
		e.log.Info("engine unavailable", "error", err)
		return false
	}
	return true
}

// Pull pulls ref for platform. An empty platform means the engine's default.
func (e *Engine) Pull(ctx context.Context, ref, platform string) error {
	rc, err := e.client.ImagePull(ctx, ref, image.PullOptions{Platform: platform})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer rc.Close()

	// The pull reports failures inside the progress stream.
	if err = jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	return nil
}

// Save writes the image tarball of ref to dst.
// The tarball is written to a temporary file next to dst and renamed into place.
func (e *Engine) Save(ctx context.Context, ref, dst string) (err error) {
	rc, err := e.client.ImageSave(ctx, []string{ref})
	if err != nil {
		return fmt.Errorf("save %s: %w", ref, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("save %s: %w", ref, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, rc); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save %s: %w", ref, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("save %s: %w", ref, err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("save %s: %w", ref, err)
	}
	return nil
}

type RunParams struct {
	Image      string   // required
	Cmd        []string // required
	WorkingDir string
	User       string   // optional, "uid:gid"
	Env        []string // optional, "KEY=value"
	Binds      []Bind
}

// Bind mounts a host directory into the container.
type Bind struct {
	Source string // host path, made absolute by Run
	Target string
}

type RunResult struct {
	Stdout string
	Stderr string
}

// Run runs a disposable container and waits for it to exit.
// The image is pulled if it isn't present. The container is always removed.
// A non-zero exit code is reported as *ExitError.
func (e *Engine) Run(ctx context.Context, params *RunParams) (*RunResult, error) {
	mounts := make([]mount.Mount, 0, len(params.Binds))
	for _, b := range params.Binds {
		source, err := filepath.Abs(b.Source)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", params.Image, err)
		}
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: source, Target: b.Target})
	}

	config := &container.Config{
		Image:        params.Image,
		Cmd:          strslice.StrSlice(params.Cmd),
		WorkingDir:   params.WorkingDir,
		User:         params.User,
		Env:          params.Env,
		AttachStdout: true,
		AttachStderr: true,
	}
	hostConfig := &container.HostConfig{
		CapDrop: strslice.StrSlice{"NET_ADMIN", "SYS_ADMIN"},
		Mounts:  mounts,
	}

	cont, err := e.client.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if errdefs.IsNotFound(err) {
		if err = e.Pull(ctx, params.Image, ""); err != nil {
			return nil, fmt.Errorf("run %s: %w", params.Image, err)
		}
		cont, err = e.client.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	}
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", params.Image, err)
	}
	defer func() {
		removeErr := e.client.ContainerRemove(context.WithoutCancel(ctx), cont.ID, container.RemoveOptions{Force: true})
		if removeErr != nil {
			e.log.Error("didn't remove container", "id", cont.ID, "error", removeErr)
		}
	}()

	if err = e.client.ContainerStart(ctx, cont.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("run %s: %w", params.Image, err)
	}

	var exitCode int64
	statusCh, errCh := e.client.ContainerWait(ctx, cont.ID, container.WaitConditionNotRunning)
	select {
	case err = <-errCh:
		return nil, fmt.Errorf("run %s: %w", params.Image, err)
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("run %s: %s", params.Image, status.Error.Message)
		}
		exitCode = status.StatusCode
	}

	var stdout, stderr bytes.Buffer
	logs, err := e.client.ContainerLogs(ctx, cont.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", params.Image, err)
	}
	defer logs.Close()
	if _, err = stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, fmt.Errorf("run %s: %w", params.Image, err)
	}

	result := &RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitCode != 0 {
		output := result.Stderr
		if strings.TrimSpace(output) == "" {
			output = result.Stdout
		}
		return result, &ExitError{ExitCode: int(exitCode), Output: tail(output, outputTailLen)}
	}
	return result, nil
}

// IsExitError reports whether err is a non-zero container exit.
func IsExitError(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
