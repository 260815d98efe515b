package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"

	"github.com/ChamsBouzaiene/forge/internal/workspace"
)

// DockerRunner runs each command in a fresh container: no network unless
// configured, read-only rootfs, all capabilities dropped, repo bind-mounted at
// /workspace.
type DockerRunner struct {
	client *client.Client
	config Config
	memory int64
}

// NewDockerRunner creates a new Docker-based runner.
func NewDockerRunner(ctx context.Context, config Config) (*DockerRunner, error) {
	memory, err := config.MemoryBytes()
	if err != nil {
		return nil, err
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}

	return &DockerRunner{client: cli, config: config, memory: memory}, nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error { return r.client.Close() }

func (r *DockerRunner) RunCmd(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (Result, error) {
	timeout = r.config.timeout(timeout)

	img := ImageFor(workspace.DetectProjectType(repoDir), r.config)
	if err := r.ensureImage(ctx, img); err != nil {
		return Result{Code: -1}, fmt.Errorf("failed to ensure image %s: %w", img, err)
	}

	absRepoDir, err := filepath.Abs(repoDir)
	if err != nil {
		return Result{Code: -1}, fmt.Errorf("failed to get absolute path: %w", err)
	}

	cpu := r.config.CPU
	if cpu <= 0 {
		cpu = 2
	}

	containerConfig := &container.Config{
		Image:           img,
		Cmd:             append([]string{name}, args...),
		WorkingDir:      "/workspace",
		User:            "1000:1000",
		Env:             []string{"HOME=/tmp"},
		NetworkDisabled: !r.config.Network,
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: absRepoDir,
			Target: "/workspace",
		}},
		Resources: container.Resources{
			Memory:   r.memory,
			NanoCPUs: int64(cpu * 1e9),
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: 1024, Hard: 1024},
				{Name: "nproc", Soft: 512, Hard: 512},
			},
		},
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=100m",
		},
	}

	created, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return Result{Code: -1}, fmt.Errorf("failed to create container: %w", err)
	}
	id := created.ID
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.client.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true})
	}()

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.client.ContainerStart(execCtx, id, container.StartOptions{}); err != nil {
		return Result{Code: -1}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := r.client.ContainerWait(execCtx, id, container.WaitConditionNotRunning)

	res := Result{}
	select {
	case <-execCtx.Done():
		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer killCancel()
		_ = r.client.ContainerKill(killCtx, id, "SIGKILL")
		if ctx.Err() != nil {
			return Result{Code: -1}, ctx.Err()
		}
		res.Code = -1
		res.TimedOut = true
	case err := <-errCh:
		if err != nil {
			if ctx.Err() != nil {
				return Result{Code: -1}, ctx.Err()
			}
			return Result{Code: -1}, fmt.Errorf("container wait error: %w", err)
		}
	case status := <-statusCh:
		res.Code = int(status.StatusCode)
	}
	res.Duration = time.Since(start)

	logCtx, logCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer logCancel()
	logs, err := r.client.ContainerLogs(logCtx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return res, nil
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, logs)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res, nil
}

// ensureImage pulls the image when it is not present locally.
func (r *DockerRunner) ensureImage(ctx context.Context, name string) error {
	if _, _, err := r.client.ImageInspectWithRaw(ctx, name); err == nil {
		return nil
	}
	reader, err := r.client.ImagePull(ctx, name, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}
