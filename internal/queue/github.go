package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/google/go-github/v66/github"

	"courier/internal/logging"
)

// GitHubStore implements Store on top of the GitHub contents API. Every
// operation is one commit on the configured branch; GitHub's serialized
// commit semantics are the only concurrency control.
type GitHubStore struct {
	client *github.Client
	owner  string
	repo   string
	branch string
	dir    string
	logger logging.Logger
}

// NewGitHubStore constructs a store rooted at dir (e.g. "tasks") on the
// given branch. The client must already carry authentication.
func NewGitHubStore(client *github.Client, owner, repo, branch, dir string, logger logging.Logger) (*GitHubStore, error) {
	if client == nil {
		return nil, fmt.Errorf("github store requires a client")
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("github store requires owner and repo")
	}
	if branch == "" {
		branch = "main"
	}
	if dir == "" {
		dir = "tasks"
	}
	return &GitHubStore{
		client: client,
		owner:  owner,
		repo:   repo,
		branch: branch,
		dir:    dir,
		logger: logging.OrNop(logger),
	}, nil
}

func (s *GitHubStore) recordPath(id string) string {
	return path.Join(s.dir, id+".json")
}

// Enqueue commits a new record file. A 409/422 from GitHub means the
// branch moved under us or the file already exists; both map to
// ErrConflict so the caller can decide on a retry.
func (s *GitHubStore) Enqueue(ctx context.Context, record TaskRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	content, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task %s: %w", record.ID, err)
	}

	summary := record.Prompt
	if len(summary) > 50 {
		summary = summary[:50]
	}
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(fmt.Sprintf("Task %s: %s", record.ID, summary)),
		Content: content,
		Branch:  github.String(s.branch),
	}

	_, resp, err := s.client.Repositories.CreateFile(ctx, s.owner, s.repo, s.recordPath(record.ID), opts)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity) {
			return fmt.Errorf("enqueue task %s: %w", record.ID, ErrConflict)
		}
		return fmt.Errorf("enqueue task %s: %w", record.ID, err)
	}

	s.logger.Info("Enqueued task %s (%d bytes)", record.ID, len(content))
	return nil
}

// ListPending returns pending record ids, sorted for deterministic
// iteration. A missing tasks directory simply means an empty queue.
func (s *GitHubStore) ListPending(ctx context.Context) ([]string, error) {
	_, entries, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.dir,
		&github.RepositoryContentGetOptions{Ref: s.branch})
	if err != nil {
		if isNotFound(resp, err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.GetName()
		if entry.GetType() != "file" || !strings.HasSuffix(name, ".json") {
			continue // .gitkeep and friends
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Fetch reads and decodes one record.
func (s *GitHubStore) Fetch(ctx context.Context, id string) (*TaskRecord, error) {
	file, _, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.recordPath(id),
		&github.RepositoryContentGetOptions{Ref: s.branch})
	if err != nil {
		if isNotFound(resp, err) {
			return nil, fmt.Errorf("fetch task %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch task %s: %w", id, err)
	}
	if file == nil {
		return nil, fmt.Errorf("fetch task %s: path is a directory", id)
	}

	raw, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode task %s content: %w", id, err)
	}

	var record TaskRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("parse task %s: %w", id, err)
	}
	return &record, nil
}

// Dequeue deletes the record file. Absence at any step means another
// consumer already completed the task, which is success, not an error.
func (s *GitHubStore) Dequeue(ctx context.Context, id string) error {
	recordPath := s.recordPath(id)

	// The delete commit needs the current blob SHA.
	file, _, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, recordPath,
		&github.RepositoryContentGetOptions{Ref: s.branch})
	if err != nil {
		if isNotFound(resp, err) {
			s.logger.Debug("Task %s already removed before dequeue", id)
			return nil
		}
		return fmt.Errorf("dequeue task %s: %w", id, err)
	}
	if file == nil {
		return fmt.Errorf("dequeue task %s: path is a directory", id)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(fmt.Sprintf("Task completed: %s", id)),
		SHA:     github.String(file.GetSHA()),
		Branch:  github.String(s.branch),
	}
	_, resp, err = s.client.Repositories.DeleteFile(ctx, s.owner, s.repo, recordPath, opts)
	if err != nil {
		if isNotFound(resp, err) {
			s.logger.Debug("Task %s already removed during dequeue", id)
			return nil
		}
		return fmt.Errorf("dequeue task %s: %w", id, err)
	}

	s.logger.Info("Dequeued task %s", id)
	return nil
}

func isNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}
