package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"courier/internal/logging"
	"courier/internal/subprocess"
)

// CLI runs the Claude Code binary in print mode. The binary authenticates
// through its own local credentials; no API key passes through here.
type CLI struct {
	binary  string
	timeout time.Duration
	env     map[string]string
	logger  logging.Logger
}

// NewCLI constructs a CLI executor. An empty binary falls back to
// "claude" on PATH.
func NewCLI(binary string, timeout time.Duration, env map[string]string, logger logging.Logger) (*CLI, error) {
	if strings.TrimSpace(binary) == "" {
		binary = "claude"
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("cli executor requires a positive timeout, got %s", timeout)
	}
	return &CLI{
		binary:  binary,
		timeout: timeout,
		env:     env,
		logger:  logging.OrNop(logger),
	}, nil
}

// Execute runs one prompt to completion under the configured timeout.
// Non-zero exits and timeouts are reported through the Result; the error
// return means the binary could not be started at all.
func (c *CLI) Execute(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("executor requires a prompt")
	}

	c.logger.Info("Running %s: %.80s...", c.binary, req.Prompt)

	res, err := subprocess.Run(ctx, subprocess.Config{
		Command:    c.binary,
		Args:       []string{"-p", req.Prompt},
		Env:        c.env,
		WorkingDir: req.WorkingDir,
		Timeout:    c.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", c.binary, err)
	}

	result := &Result{
		Output:   strings.TrimSpace(res.Stdout),
		Stderr:   strings.TrimSpace(res.Stderr),
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Duration: res.Duration,
	}

	switch {
	case result.TimedOut:
		c.logger.Warn("%s timed out after %s", c.binary, c.timeout)
	case result.ExitCode != 0:
		c.logger.Error("%s exited %d: %.500s", c.binary, result.ExitCode, result.Stderr)
	default:
		c.logger.Info("%s finished in %s (%d bytes)", c.binary, result.Duration.Round(time.Millisecond), len(result.Output))
	}
	return result, nil
}
