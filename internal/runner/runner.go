// Package runner is the polling consumer half of the system. It claims
// one task at a time from the shared queue, runs it through the
// executor in the workspace clone, and delivers the outcome back to the
// requester. The loop survives every per-task failure; a broken task
// produces a visible error message, never a stuck queue.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"courier/internal/chat"
	"courier/internal/executor"
	"courier/internal/logging"
	"courier/internal/metrics"
	"courier/internal/mrkdwn"
	"courier/internal/queue"
	"courier/internal/transcript"
)

// promptPreview bounds prompt echoes in acks and logs.
const promptPreview = 80

// Cycle phases, reported when a cycle dies so the log shows how far the
// task got.
const (
	phaseListing    = "listing"
	phaseClaiming   = "claiming"
	phaseExecuting  = "executing"
	phaseDelivering = "delivering"
	phaseCompleting = "completing"
)

// WorkspaceSync is the git boundary around task execution;
// *workspace.Synchronizer satisfies it.
type WorkspaceSync interface {
	Pull(ctx context.Context) error
	Sync(ctx context.Context) error
}

// Config holds the runner loop configuration.
type Config struct {
	PollInterval time.Duration
	WorkspaceDir string
	MessageLimit int
}

// Runner drains the task queue. Exactly one instance may run against a
// given queue; the claim protocol has no lock and relies on the single
// consumer.
type Runner struct {
	store     queue.Store
	exec      executor.Executor
	messenger chat.Messenger
	workspace WorkspaceSync
	cfg       Config
	logger    logging.Logger
}

// New constructs a Runner. The workspace synchronizer may be nil when
// the deployment does not persist executor side effects.
func New(store queue.Store, exec executor.Executor, messenger chat.Messenger, ws WorkspaceSync, cfg Config, logger logging.Logger) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("runner requires a task store")
	}
	if exec == nil {
		return nil, fmt.Errorf("runner requires an executor")
	}
	if messenger == nil {
		return nil, fmt.Errorf("runner requires a messenger")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = 3900
	}
	return &Runner{
		store:     store,
		exec:      exec,
		messenger: messenger,
		workspace: ws,
		cfg:       cfg,
		logger:    logging.OrNop(logger),
	}, nil
}

// Run polls until ctx is canceled. A task in flight finishes its
// delivery and completion before the loop observes cancellation.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Runner polling every %s", r.cfg.PollInterval)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r.cycle(ctx)
		select {
		case <-ctx.Done():
			r.logger.Info("Runner stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// cycle performs one poll iteration: list, claim the first pending
// record, process it. Panics are contained so a malformed record can
// never kill the loop.
func (r *Runner) cycle(ctx context.Context) {
	phase := phaseListing
	defer func() {
		if rec := recover(); rec != nil {
			metrics.TasksTotal.WithLabelValues(metrics.OutcomeError).Inc()
			r.logger.Error("Recovered from panic while %s: %v", phase, rec)
		}
	}()
	metrics.PollCycles.Inc()

	ids, err := r.store.ListPending(ctx)
	if err != nil {
		r.logger.Warn("Listing pending tasks failed: %v", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	// Oldest first by sorted id order; one task per cycle keeps a long
	// execution from starving the ack of the next poll's listing.
	phase = phaseClaiming
	id := ids[0]
	record, err := r.store.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			metrics.TasksTotal.WithLabelValues(metrics.OutcomeClaimRace).Inc()
			r.logger.Debug("Task %s vanished before claim, skipping", id)
			return
		}
		r.logger.Warn("Fetching task %s failed: %v", id, err)
		return
	}

	r.process(ctx, record, &phase)
}

// process runs one claimed task to a terminal outcome. Every path out
// of here produces exactly one visible result message and removes the
// record from the queue.
func (r *Runner) process(ctx context.Context, record *queue.TaskRecord, phase *string) {
	to := chat.Recipient{
		ChannelID:   record.Origin.ChannelID,
		ThreadTS:    record.Origin.ThreadTS,
		ResponseURL: record.Origin.ResponseURL,
	}

	r.logger.Info("Claimed task %s: %.*q", record.ID, promptPreview, record.Prompt)
	ack := transcript.AckPrefix + "`" + preview(record.Prompt) + "`..."
	if err := r.messenger.Send(ctx, to, ack); err != nil {
		r.logger.Warn("Pickup ack for task %s failed: %v", record.ID, err)
	}

	if r.workspace != nil {
		// A stale tree degrades the answer; it does not block the task.
		if err := r.workspace.Pull(ctx); err != nil {
			r.logger.Warn("Workspace pull before task %s failed: %v", record.ID, err)
		}
	}

	*phase = phaseExecuting
	text, outcome := r.execute(ctx, record)
	metrics.TasksTotal.WithLabelValues(outcome).Inc()

	*phase = phaseDelivering
	r.deliver(ctx, record.ID, to, text)

	*phase = phaseCompleting
	if err := r.store.Dequeue(ctx, record.ID); err != nil {
		// The record stays pending and will be retried next cycle; the
		// user may see the answer twice, never zero times.
		r.logger.Error("Dequeue of task %s failed: %v", record.ID, err)
		return
	}
	r.logger.Info("Completed task %s (%s)", record.ID, outcome)

	if r.workspace != nil {
		if err := r.workspace.Sync(ctx); err != nil {
			r.logger.Warn("Workspace sync after task %s failed: %v", record.ID, err)
		}
	}
}

// execute invokes the executor and formats the terminal outcome as the
// text to deliver.
func (r *Runner) execute(ctx context.Context, record *queue.TaskRecord) (string, string) {
	prompt := executor.BuildPrompt(record.Prompt, record.Context)

	start := time.Now()
	res, err := r.exec.Execute(ctx, executor.Request{
		Prompt:     prompt,
		WorkingDir: r.cfg.WorkspaceDir,
	})
	if err != nil {
		r.logger.Error("Executor invocation for task %s failed: %v", record.ID, err)
		return "Something went wrong running your task. The assistant could not be started.", metrics.OutcomeError
	}
	metrics.ExecutionSeconds.Observe(time.Since(start).Seconds())

	switch {
	case res.TimedOut:
		r.logger.Warn("Task %s timed out after %s", record.ID, res.Duration)
		return "The task timed out before producing a result. Try a smaller request.", metrics.OutcomeTimeout
	case res.ExitCode != 0:
		r.logger.Warn("Task %s exited %d: %s", record.ID, res.ExitCode, logging.Sanitize(res.Stderr))
		return fmt.Sprintf("The task failed (exit %d).\n```%s```", res.ExitCode, strings.TrimSpace(res.Stderr)), metrics.OutcomeError
	case strings.TrimSpace(res.Output) == "":
		return "The task finished without producing any output.", metrics.OutcomeOK
	default:
		return mrkdwn.Render(res.Output), metrics.OutcomeOK
	}
}

// deliver sends text in chat-sized parts. Delivery failures are logged
// and do not block completion: retrying the whole task to repair one
// lost message would re-run the executor.
func (r *Runner) deliver(ctx context.Context, id string, to chat.Recipient, text string) {
	for i, part := range mrkdwn.Split(text, r.cfg.MessageLimit) {
		if err := r.messenger.Send(ctx, to, part); err != nil {
			r.logger.Error("Delivering part %d of task %s failed: %v", i+1, id, err)
		}
	}
}

func preview(prompt string) string {
	prompt = strings.ReplaceAll(prompt, "`", "'")
	runes := []rune(prompt)
	if len(runes) <= promptPreview {
		return prompt
	}
	return string(runes[:promptPreview]) + "..."
}
