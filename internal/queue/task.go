// Package queue models the durable task handoff between the ingress and
// the runner. The queue is a directory of JSON records in a shared GitHub
// repository; there is no direct network path between the two processes.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"courier/internal/transcript"
)

var (
	// ErrNotFound reports that a record is absent from the store. On
	// fetch this signals a claim race; on dequeue callers must treat it
	// as success (the record was already completed by another claim).
	ErrNotFound = errors.New("task record not found")

	// ErrConflict reports that the remote advanced past our base and the
	// write could not land. The caller decides whether to retry.
	ErrConflict = errors.New("task store write conflict")
)

// Origin carries enough information to route a result back to where the
// request came from.
type Origin struct {
	ChannelID   string `json:"channel_id"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	ResponseURL string `json:"response_url,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// TaskRecord is the unit of work. Once written it is immutable; the
// runner that claims it is the only component that ever removes it.
type TaskRecord struct {
	ID        string            `json:"id"`
	Origin    Origin            `json:"origin"`
	Prompt    string            `json:"prompt"`
	Context   []transcript.Turn `json:"context,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Validate checks the fields every record must carry before it is written.
func (r TaskRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("task record requires an id")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("task record %s requires a prompt", r.ID)
	}
	if r.Origin.ChannelID == "" && r.Origin.ResponseURL == "" {
		return fmt.Errorf("task record %s has no route back to its origin", r.ID)
	}
	return nil
}

// NewID returns a fresh short task identifier. Eight hex characters keep
// commit messages and filenames readable while staying unique enough for
// a queue that holds a handful of records at a time.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Store is the durable task queue. Implementations provide single-commit
// atomicity per operation; there is no cross-record ordering guarantee
// and no lock primitive on top.
type Store interface {
	// Enqueue writes a new record. The write either fully succeeds
	// (visible to subsequent ListPending calls) or fails with an error.
	Enqueue(ctx context.Context, record TaskRecord) error

	// ListPending returns the ids of currently pending records, sorted,
	// as a snapshot.
	ListPending(ctx context.Context) ([]string, error)

	// Fetch reads one record. Returns ErrNotFound when the record
	// vanished between listing and fetching (benign claim race).
	Fetch(ctx context.Context, id string) (*TaskRecord, error)

	// Dequeue removes a record. A missing record is a successful no-op:
	// another consumer already completed it.
	Dequeue(ctx context.Context, id string) error
}
