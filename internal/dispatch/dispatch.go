// Package dispatch turns validated Slack requests into durable task
// records. Quick commands are answered on the spot; everything else
// becomes exactly one queue entry.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"courier/internal/chat"
	"courier/internal/logging"
	"courier/internal/metrics"
	"courier/internal/queue"
	"courier/internal/transcript"
)

// Request is one inbound instruction after signature verification and
// payload parsing.
type Request struct {
	Text        string
	UserID      string
	ChannelID   string
	ThreadTS    string
	ResponseURL string
}

func (r Request) recipient() chat.Recipient {
	return chat.Recipient{
		ChannelID:   r.ChannelID,
		ThreadTS:    r.ThreadTS,
		ResponseURL: r.ResponseURL,
	}
}

// ContextBuilder materializes thread transcripts; *transcript.Builder
// satisfies it.
type ContextBuilder interface {
	Build(ctx context.Context, channelID, threadTS string) ([]transcript.Turn, error)
}

const helpText = "*courier*\n\n" +
	"Send any message and it will be executed by Claude Code in the " +
	"operator's workspace. Results come back here when the run finishes.\n\n" +
	"*Built-in commands:*\n" +
	"`help` — this message\n" +
	"`status` — check that the bot is accepting work\n\n" +
	"*Examples:*\n" +
	"• `What files are in the src/ directory?`\n" +
	"• `Summarize the README`\n" +
	"• `Run the tests and tell me what failed`"

const statusText = "courier is accepting work. Tasks are queued through the " +
	"shared repository and picked up by the local runner on its next poll."

// Dispatcher routes requests either to a synchronous quick reply or to
// the task queue.
type Dispatcher struct {
	store     queue.Store
	messenger chat.Messenger
	contexts  ContextBuilder
	logger    logging.Logger
}

// New constructs a Dispatcher. The context builder may be nil when the
// deployment has no bot identity configured; threaded requests then
// enqueue without history.
func New(store queue.Store, messenger chat.Messenger, contexts ContextBuilder, logger logging.Logger) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("dispatcher requires a task store")
	}
	if messenger == nil {
		return nil, fmt.Errorf("dispatcher requires a messenger")
	}
	return &Dispatcher{
		store:     store,
		messenger: messenger,
		contexts:  contexts,
		logger:    logging.OrNop(logger),
	}, nil
}

// Dispatch handles one request end to end. Errors are both returned and,
// where possible, reported back to the origin so the user never sees a
// silent drop.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	switch strings.ToLower(strings.TrimSpace(req.Text)) {
	case "", "help":
		return d.reply(ctx, req, helpText)
	case "status", "ping":
		return d.reply(ctx, req, statusText)
	}
	return d.enqueue(ctx, req)
}

func (d *Dispatcher) reply(ctx context.Context, req Request, text string) error {
	if err := d.messenger.Send(ctx, req.recipient(), text); err != nil {
		d.logger.Warn("Quick reply failed: %v", err)
		return err
	}
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, req Request) error {
	record := queue.TaskRecord{
		ID: queue.NewID(),
		Origin: queue.Origin{
			ChannelID:   req.ChannelID,
			ThreadTS:    req.ThreadTS,
			ResponseURL: req.ResponseURL,
			RequestedBy: req.UserID,
		},
		Prompt:    req.Text,
		CreatedAt: time.Now().UTC(),
	}

	// Threaded conversations carry their history with them; the runner
	// never talks to Slack to reconstruct context.
	if req.ThreadTS != "" && d.contexts != nil {
		turns, err := d.contexts.Build(ctx, req.ChannelID, req.ThreadTS)
		if err != nil {
			// A stale transcript beats a lost task.
			d.logger.Warn("Context build for task %s failed, enqueueing without history: %v", record.ID, err)
		} else {
			record.Context = turns
		}
	}

	if err := d.store.Enqueue(ctx, record); err != nil {
		metrics.EnqueueTotal.WithLabelValues(metrics.OutcomeError).Inc()
		d.logger.Error("Enqueue of task %s failed: %v", record.ID, err)
		notice := "Failed to queue your task. Check the runner's repository access and try again."
		if sendErr := d.messenger.Send(ctx, req.recipient(), notice); sendErr != nil {
			d.logger.Warn("Could not report enqueue failure: %v", sendErr)
		}
		return fmt.Errorf("dispatch task %s: %w", record.ID, err)
	}

	metrics.EnqueueTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	d.logger.Info("Dispatched task %s from %s (%d context turns)", record.ID, req.UserID, len(record.Context))
	return nil
}
