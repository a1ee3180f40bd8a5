// Package subprocess runs external commands in their own process group so
// a timeout can take down the whole tree, not just the direct child.
package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// killGrace is how long a process group gets between SIGTERM and SIGKILL.
const killGrace = 5 * time.Second

// Config defines how to spawn and bound an external command.
type Config struct {
	Command    string
	Args       []string
	Env        map[string]string
	WorkingDir string
	Stdin      string
	Timeout    time.Duration // zero means unbounded
}

// Result captures a completed (or killed) command invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Run executes the command to completion. A non-zero exit or a timeout is
// reported through Result, not through the error return; the error is
// reserved for failures to run at all (missing binary, bad working dir,
// canceled context).
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("subprocess: command is required")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	if len(cfg.Env) > 0 {
		env := append([]string{}, os.Environ()...)
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	if cfg.Stdin != "" {
		cmd.Stdin = bytes.NewBufferString(cfg.Stdin)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	pgid := cmd.Process.Pid
	if got, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		pgid = got
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if cfg.Timeout > 0 {
		timer := time.NewTimer(cfg.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	result := &Result{}
	select {
	case waitErr := <-done:
		result.ExitCode = exitCode(waitErr)
	case <-timeoutCh:
		killGroup(pgid, done)
		result.TimedOut = true
		result.ExitCode = -1
	case <-ctx.Done():
		killGroup(pgid, done)
		return nil, ctx.Err()
	}

	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	return result, nil
}

// killGroup terminates a process group, escalating to SIGKILL if it
// ignores SIGTERM, and waits for the child reaper to finish.
func killGroup(pgid int, done <-chan error) {
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(killGrace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-done
	}
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
