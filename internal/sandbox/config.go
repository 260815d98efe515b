package sandbox

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// Mode represents the sandbox execution mode.
type Mode string

const (
	// ModeDocker uses Docker containers for isolation.
	ModeDocker Mode = "docker"
	// ModeHost runs commands directly on the host (no isolation).
	ModeHost Mode = "host"
	// ModeAuto selects Docker if available, otherwise falls back to host.
	ModeAuto Mode = "auto"
)

// ParseMode parses a mode name. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeDocker:
		return ModeDocker, nil
	case ModeHost:
		return ModeHost, nil
	default:
		return "", fmt.Errorf("unknown sandbox mode %q (want auto, docker or host)", s)
	}
}

// Config holds configuration for sandbox execution.
type Config struct {
	Mode        Mode
	DockerImage string        // overrides the per-project image
	CPU         float64       // CPU limit, e.g. 2
	Memory      string        // memory limit in docker notation, e.g. "1g"
	CmdTimeout  time.Duration // default command timeout
	Network     bool          // allow container networking
}

// DefaultConfig returns the stock sandbox configuration.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeAuto,
		CPU:        2,
		Memory:     "1g",
		CmdTimeout: defaultCmdTimeout,
	}
}

func (c Config) timeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if c.CmdTimeout > 0 {
		return c.CmdTimeout
	}
	return defaultCmdTimeout
}

// MemoryBytes parses Memory, defaulting to 1GiB.
func (c Config) MemoryBytes() (int64, error) {
	if strings.TrimSpace(c.Memory) == "" {
		return 1 << 30, nil
	}
	n, err := units.RAMInBytes(c.Memory)
	if err != nil {
		return 0, fmt.Errorf("invalid sandbox memory %q: %w", c.Memory, err)
	}
	return n, nil
}

// IsDockerAvailable checks if Docker is available and accessible.
func IsDockerAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "ps").Run() == nil
}

// NewRunner creates a runner for config.Mode. Docker mode fails when the
// daemon is unreachable; auto mode falls back to the host with a warning.
func NewRunner(ctx context.Context, config Config) (Runner, error) {
	switch config.Mode {
	case ModeDocker:
		return NewDockerRunner(ctx, config)

	case ModeHost:
		log.Printf("WARNING: Using host executor (no sandboxing)")
		return NewHostRunner(config), nil

	case ModeAuto, "":
		if IsDockerAvailable(ctx) {
			r, err := NewDockerRunner(ctx, config)
			if err == nil {
				return r, nil
			}
			log.Printf("WARNING: Docker available but failed to create runner: %v. Falling back to host executor.", err)
		} else {
			log.Printf("WARNING: Docker not available. Using host executor (no sandboxing).")
		}
		return NewHostRunner(config), nil

	default:
		return nil, fmt.Errorf("unknown runner mode: %s", config.Mode)
	}
}
