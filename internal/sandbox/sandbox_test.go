//go:build !windows

package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/workspace"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeAuto},
		{in: "Docker", want: ModeDocker},
		{in: " host ", want: ModeHost},
		{in: "vm", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMemoryBytes(t *testing.T) {
	tests := []struct {
		mem     string
		want    int64
		wantErr bool
	}{
		{mem: "", want: 1 << 30},
		{mem: "512m", want: 512 << 20},
		{mem: "2g", want: 2 << 30},
		{mem: "lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.mem, func(t *testing.T) {
			got, err := Config{Memory: tt.mem}.MemoryBytes()
			if (err != nil) != tt.wantErr {
				t.Fatalf("MemoryBytes() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("MemoryBytes() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestImageFor(t *testing.T) {
	tests := []struct {
		typ    workspace.ProjectType
		config Config
		want   string
	}{
		{workspace.ProjectTypeGo, Config{}, "golang:1.24-alpine"},
		{workspace.ProjectTypePython, Config{}, "python:3.12-slim"},
		{workspace.ProjectTypeUnknown, Config{}, "alpine:3.20"},
		{workspace.ProjectTypeGo, Config{DockerImage: "custom:1"}, "custom:1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := ImageFor(tt.typ, tt.config); got != tt.want {
				t.Errorf("ImageFor(%s) = %q, want %q", tt.typ, got, tt.want)
			}
		})
	}
}

func TestHostRunner(t *testing.T) {
	r := NewHostRunner(DefaultConfig())
	ctx := context.Background()
	dir := t.TempDir()

	res, err := r.RunCmd(ctx, dir, "sh", []string{"-c", "echo out; echo err >&2"}, time.Second)
	if err != nil {
		t.Fatalf("RunCmd() error = %v", err)
	}
	if res.Stdout != "out\n" || res.Stderr != "err\n" || !res.OK() {
		t.Errorf("RunCmd() = %+v", res)
	}

	res, err = r.RunCmd(ctx, dir, "sh", []string{"-c", "exit 3"}, time.Second)
	if err != nil {
		t.Fatalf("RunCmd() error = %v", err)
	}
	if res.Code != 3 || res.OK() {
		t.Errorf("exit code = %d, want 3", res.Code)
	}

	start := time.Now()
	res, err = r.RunCmd(ctx, dir, "sh", []string{"-c", "sleep 5 & sleep 5"}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("RunCmd() error = %v", err)
	}
	if !res.TimedOut {
		t.Errorf("TimedOut = false, want true")
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout did not kill the process group")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := r.RunCmd(cctx, dir, "sh", []string{"-c", "sleep 1"}, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("RunCmd() with cancelled ctx error = %v, want context.Canceled", err)
	}
}
