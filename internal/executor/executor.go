// Package executor invokes the code-assistant CLI as an opaque
// subprocess: effective prompt in, rich-text output and an exit status
// out.
package executor

import (
	"context"
	"time"
)

// Request is one executor invocation. WorkingDir pins the subprocess to
// the isolated workspace clone.
type Request struct {
	Prompt     string
	WorkingDir string
}

// Result captures a completed invocation. It is consumed once by the
// response formatter and then discarded.
type Result struct {
	Output   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Failed reports whether the invocation ended without a usable answer.
func (r *Result) Failed() bool {
	return r.TimedOut || r.ExitCode != 0
}

// Executor turns a prompt into rich-text output. Implementations must
// enforce their own wall-clock bound; a Result with TimedOut set reports
// an expired one. The error return is reserved for failures to invoke at
// all.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}
