//go:build !windows

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

const defaultCmdTimeout = 30 * time.Second

// HostRunner runs commands directly on the host without isolation. Each
// command gets its own process group so a timeout kills every child.
type HostRunner struct {
	config Config
}

// NewHostRunner creates a host runner.
func NewHostRunner(config Config) *HostRunner {
	return &HostRunner{config: config}
}

func (r *HostRunner) RunCmd(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (Result, error) {
	timeout = r.config.timeout(timeout)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(name, args...)
	cmd.Dir = repoDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{Code: -1, Stderr: err.Error()}, err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-cctx.Done():
			// Negative pid targets the whole group.
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	res := Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}
	if waitErr != nil {
		res.Code = 1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() >= 0 {
			res.Code = exitErr.ExitCode()
		}
	}

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		if res.Code == 0 {
			res.Code = -1
		}
	}
	return res, nil
}
