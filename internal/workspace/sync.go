// Package workspace persists the executor's side effects: after a task
// completes, any mutation in the workspace clone is committed and pushed
// back to the shared repository.
package workspace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"courier/internal/logging"
	"courier/internal/subprocess"
)

// gitTimeout bounds each individual git invocation.
const gitTimeout = 30 * time.Second

// commitMessage labels automatic sync commits in the shared repo history.
const commitMessage = "auto: sync workspace changes"

// GitRunner executes one git command in dir. Injected so tests can stub
// the subprocess boundary.
type GitRunner func(ctx context.Context, dir string, args ...string) (output string, exitCode int, err error)

func defaultGitRunner(ctx context.Context, dir string, args ...string) (string, int, error) {
	res, err := subprocess.Run(ctx, subprocess.Config{
		Command:    "git",
		Args:       args,
		WorkingDir: dir,
		Timeout:    gitTimeout,
	})
	if err != nil {
		return "", -1, err
	}
	out := strings.TrimSpace(res.Stdout + res.Stderr)
	return out, res.ExitCode, nil
}

// Synchronizer owns the runner's workspace clone. No other component
// touches the clone while a task executes.
type Synchronizer struct {
	dir    string
	branch string
	run    GitRunner
	logger logging.Logger
}

// NewSynchronizer constructs a Synchronizer for the clone at dir.
func NewSynchronizer(dir, branch string, logger logging.Logger) (*Synchronizer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("workspace synchronizer requires a directory")
	}
	if branch == "" {
		branch = "main"
	}
	return &Synchronizer{
		dir:    dir,
		branch: branch,
		run:    defaultGitRunner,
		logger: logging.OrNop(logger),
	}, nil
}

// WithGitRunner replaces the git boundary; tests use this.
func (s *Synchronizer) WithGitRunner(run GitRunner) *Synchronizer {
	s.run = run
	return s
}

// Pull rebases the clone onto the latest remote state. Called before a
// task executes so the CLI sees the current tree, including records other
// commits just touched.
func (s *Synchronizer) Pull(ctx context.Context) error {
	out, code, err := s.run(ctx, s.dir, "pull", "--rebase", "origin", s.branch)
	if err != nil {
		return fmt.Errorf("git pull: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("git pull exited %d: %s", code, out)
	}
	return nil
}

// Sync commits and pushes uncommitted workspace changes. A clean tree is
// a silent no-op. A push rejection gets one rebase-and-retry: the task
// queue itself creates remote commits while tasks run.
func (s *Synchronizer) Sync(ctx context.Context) error {
	if out, code, err := s.run(ctx, s.dir, "add", "-A"); err != nil || code != 0 {
		return fmt.Errorf("git add exited %d: %s (%v)", code, out, err)
	}

	// Exit 0 means nothing staged.
	if _, code, err := s.run(ctx, s.dir, "diff", "--cached", "--quiet"); err != nil {
		return fmt.Errorf("git diff: %w", err)
	} else if code == 0 {
		s.logger.Debug("Workspace clean, nothing to sync")
		return nil
	}

	if out, code, err := s.run(ctx, s.dir, "commit", "-m", commitMessage); err != nil || code != 0 {
		return fmt.Errorf("git commit exited %d: %s (%v)", code, out, err)
	}

	if _, code, err := s.run(ctx, s.dir, "push", "origin", s.branch); err == nil && code == 0 {
		s.logger.Info("Synced workspace changes to origin/%s", s.branch)
		return nil
	}

	if err := s.Pull(ctx); err != nil {
		return fmt.Errorf("rebase before push retry: %w", err)
	}
	out, code, err := s.run(ctx, s.dir, "push", "origin", s.branch)
	if err != nil || code != 0 {
		return fmt.Errorf("git push exited %d after rebase: %s (%v)", code, out, err)
	}

	s.logger.Info("Synced workspace changes to origin/%s (after rebase)", s.branch)
	return nil
}
