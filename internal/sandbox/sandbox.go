// Package sandbox runs external commands for tools and verification stages,
// either in a locked-down container or directly on the host.
package sandbox

import (
	"context"
	"strings"
	"time"
)

// Result captures output of a command.
type Result struct {
	Stdout   string
	Stderr   string
	Code     int
	TimedOut bool
	Duration time.Duration
}

// OK reports a clean exit within the timeout.
func (r Result) OK() bool { return r.Code == 0 && !r.TimedOut }

// Combined joins stdout and stderr, trimmed.
func (r Result) Combined() string {
	out := strings.TrimSpace(r.Stdout)
	errOut := strings.TrimSpace(r.Stderr)
	switch {
	case out == "":
		return errOut
	case errOut == "":
		return out
	default:
		return out + "\n" + errOut
	}
}

// Runner runs one command in a repository directory.
//
// A non-zero exit or a timeout is reported through Result, not through the
// error. The error is reserved for failures to start the command at all or
// for cancellation of ctx by the caller.
type Runner interface {
	// RunCmd runs name with args in repoDir. timeout <= 0 uses the runner default.
	RunCmd(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (Result, error)
}
