package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/chat"
	"courier/internal/executor"
	"courier/internal/queue"
	"courier/internal/transcript"
)

type fakeStore struct {
	records  map[string]*queue.TaskRecord
	pending  []string
	dequeued []string

	listErr    error
	fetchErr   error
	dequeueErr error
}

func (f *fakeStore) Enqueue(context.Context, queue.TaskRecord) error { return nil }

func (f *fakeStore) ListPending(context.Context) ([]string, error) {
	return f.pending, f.listErr
}

func (f *fakeStore) Fetch(_ context.Context, id string) (*queue.TaskRecord, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) Dequeue(_ context.Context, id string) error {
	if f.dequeueErr != nil {
		return f.dequeueErr
	}
	f.dequeued = append(f.dequeued, id)
	return nil
}

type fakeExecutor struct {
	result  *executor.Result
	err     error
	prompts []string
}

func (f *fakeExecutor) Execute(_ context.Context, req executor.Request) (*executor.Result, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type recordingMessenger struct {
	sent []string
	to   []chat.Recipient
	err  error
}

func (m *recordingMessenger) Send(_ context.Context, to chat.Recipient, text string) error {
	m.sent = append(m.sent, text)
	m.to = append(m.to, to)
	return m.err
}

type fakeWorkspace struct {
	pulls   int
	syncs   int
	pullErr error
	syncErr error
}

func (w *fakeWorkspace) Pull(context.Context) error {
	w.pulls++
	return w.pullErr
}

func (w *fakeWorkspace) Sync(context.Context) error {
	w.syncs++
	return w.syncErr
}

func storeWith(records ...*queue.TaskRecord) *fakeStore {
	f := &fakeStore{records: map[string]*queue.TaskRecord{}}
	for _, rec := range records {
		f.records[rec.ID] = rec
		f.pending = append(f.pending, rec.ID)
	}
	return f
}

func task(id, prompt string) *queue.TaskRecord {
	return &queue.TaskRecord{
		ID:        id,
		Prompt:    prompt,
		Origin:    queue.Origin{ChannelID: "C1", ThreadTS: "1.0"},
		CreatedAt: time.Now().UTC(),
	}
}

func newTestRunner(t *testing.T, store *fakeStore, exec *fakeExecutor, m *recordingMessenger, ws WorkspaceSync) *Runner {
	t.Helper()
	r, err := New(store, exec, m, ws, Config{WorkspaceDir: "/ws", MessageLimit: 3900}, nil)
	require.NoError(t, err)
	return r
}

func TestCycleEmptyQueue(t *testing.T) {
	store := storeWith()
	exec := &fakeExecutor{}
	m := &recordingMessenger{}
	r := newTestRunner(t, store, exec, m, nil)

	r.cycle(context.Background())

	assert.Empty(t, m.sent)
	assert.Empty(t, exec.prompts)
}

func TestCycleHappyPath(t *testing.T) {
	store := storeWith(task("aaaa0001", "list files"))
	exec := &fakeExecutor{result: &executor.Result{Output: "# Files\n\n- main.go"}}
	m := &recordingMessenger{}
	ws := &fakeWorkspace{}
	r := newTestRunner(t, store, exec, m, ws)

	r.cycle(context.Background())

	require.Len(t, m.sent, 2, "pickup ack plus one result message")
	assert.True(t, strings.HasPrefix(m.sent[0], transcript.AckPrefix))
	assert.Contains(t, m.sent[0], "list files")
	assert.Contains(t, m.sent[1], "*Files*", "output goes through mrkdwn conversion")

	assert.Equal(t, []string{"aaaa0001"}, store.dequeued)
	assert.Equal(t, 1, ws.pulls)
	assert.Equal(t, 1, ws.syncs)
	assert.Equal(t, "C1", m.to[1].ChannelID)
	assert.Equal(t, "1.0", m.to[1].ThreadTS)
}

func TestCycleProcessesOldestFirst(t *testing.T) {
	store := storeWith(task("aaaa0001", "first"), task("bbbb0002", "second"))
	exec := &fakeExecutor{result: &executor.Result{Output: "done"}}
	m := &recordingMessenger{}
	r := newTestRunner(t, store, exec, m, nil)

	r.cycle(context.Background())

	assert.Equal(t, []string{"aaaa0001"}, store.dequeued, "one task per cycle, first id wins")
	require.Len(t, exec.prompts, 1)
}

func TestCycleClaimRace(t *testing.T) {
	store := storeWith()
	store.pending = []string{"gone0001"}
	exec := &fakeExecutor{}
	m := &recordingMessenger{}
	r := newTestRunner(t, store, exec, m, nil)

	r.cycle(context.Background())

	assert.Empty(t, m.sent, "a vanished record produces no user-visible message")
	assert.Empty(t, exec.prompts)
	assert.Empty(t, store.dequeued)
}

func TestCycleListFailureIsQuiet(t *testing.T) {
	store := &fakeStore{listErr: errors.New("api rate limit")}
	m := &recordingMessenger{}
	r := newTestRunner(t, store, &fakeExecutor{}, m, nil)

	r.cycle(context.Background())
	assert.Empty(t, m.sent)
}

func TestProcessTimeout(t *testing.T) {
	store := storeWith(task("aaaa0001", "huge refactor"))
	exec := &fakeExecutor{result: &executor.Result{TimedOut: true, Duration: 5 * time.Minute}}
	m := &recordingMessenger{}
	r := newTestRunner(t, store, exec, m, nil)

	r.cycle(context.Background())

	require.Len(t, m.sent, 2)
	assert.Contains(t, m.sent[1], "timed out")
	assert.Equal(t, []string{"aaaa0001"}, store.dequeued, "timeouts are terminal, not retried")
}

func TestProcessNonZeroExit(t *testing.T) {
	store := storeWith(task("aaaa0001", "break things"))
	exec := &fakeExecutor{result: &executor.Result{ExitCode: 2, Stderr: "invalid API key"}}
	m := &recordingMessenger{}
	r := newTestRunner(t, store, exec, m, nil)

	r.cycle(context.Background())

	require.Len(t, m.sent, 2)
	assert.Contains(t, m.sent[1], "exit 2")
	assert.Contains(t, m.sent[1], "invalid API key")
	assert.Equal(t, []string{"aaaa0001"}, store.dequeued)
}

func TestProcessSpawnFailure(t *testing.T) {
	store := storeWith(task("aaaa0001", "anything"))
	exec := &fakeExecutor{err: errors.New("binary not found")}
	m := &recordingMessenger{}
	r := newTestRunner(t, store, exec, m, nil)

	r.cycle(context.Background())

	require.Len(t, m.sent, 2)
	assert.Contains(t, m.sent[1], "could not be started")
	assert.Equal(t, []string{"aaaa0001"}, store.dequeued, "spawn failure still completes the task")
}

func TestProcessEmptyOutput(t *testing.T) {
	store := storeWith(task("aaaa0001", "quiet task"))
	exec := &fakeExecutor{result: &executor.Result{Output: "   \n"}}
	m := &recordingMessenger{}
	r := newTestRunner(t, store, exec, m, nil)

	r.cycle(context.Background())

	require.Len(t, m.sent, 2)
	assert.Contains(t, m.sent[1], "without producing any output")
}

func TestProcessDeliveryFailureStillCompletes(t *testing.T) {
	store := storeWith(task("aaaa0001", "deliver me"))
	exec := &fakeExecutor{result: &executor.Result{Output: "answer"}}
	m := &recordingMessenger{err: errors.New("channel_not_found")}
	r := newTestRunner(t, store, exec, m, nil)

	r.cycle(context.Background())

	assert.Equal(t, []string{"aaaa0001"}, store.dequeued,
		"a dead channel must not wedge the queue")
}

func TestProcessDequeueFailureSkipsSync(t *testing.T) {
	store := storeWith(task("aaaa0001", "sticky"))
	store.dequeueErr = errors.New("network down")
	exec := &fakeExecutor{result: &executor.Result{Output: "answer"}}
	ws := &fakeWorkspace{}
	r := newTestRunner(t, store, exec, &recordingMessenger{}, ws)

	r.cycle(context.Background())

	assert.Empty(t, store.dequeued)
	assert.Zero(t, ws.syncs, "completion failed, the record will be retried")
}

func TestProcessPullFailureDoesNotBlock(t *testing.T) {
	store := storeWith(task("aaaa0001", "go anyway"))
	exec := &fakeExecutor{result: &executor.Result{Output: "answer"}}
	ws := &fakeWorkspace{pullErr: errors.New("diverged")}
	r := newTestRunner(t, store, exec, &recordingMessenger{}, ws)

	r.cycle(context.Background())

	require.Len(t, exec.prompts, 1, "a failed pull degrades the answer, not the task")
	assert.Equal(t, []string{"aaaa0001"}, store.dequeued)
}

func TestProcessThreadContextReachesPrompt(t *testing.T) {
	rec := task("aaaa0001", "now refactor it")
	rec.Context = []transcript.Turn{
		{Speaker: transcript.SpeakerUser, Text: "explain auth.py"},
		{Speaker: transcript.SpeakerBot, Text: "it handles sessions"},
	}
	store := storeWith(rec)
	exec := &fakeExecutor{result: &executor.Result{Output: "done"}}
	r := newTestRunner(t, store, exec, &recordingMessenger{}, nil)

	r.cycle(context.Background())

	require.Len(t, exec.prompts, 1)
	assert.Contains(t, exec.prompts[0], "explain auth.py")
	assert.Contains(t, exec.prompts[0], "now refactor it")
}

func TestLongOutputIsSplit(t *testing.T) {
	store := storeWith(task("aaaa0001", "write a lot"))
	exec := &fakeExecutor{result: &executor.Result{Output: strings.Repeat("line of output\n", 40)}}
	m := &recordingMessenger{}
	r, err := New(store, exec, m, nil, Config{MessageLimit: 200}, nil)
	require.NoError(t, err)

	r.cycle(context.Background())

	require.Greater(t, len(m.sent), 3, "ack plus several parts")
	for _, part := range m.sent[1:] {
		assert.LessOrEqual(t, len([]rune(part)), 200)
	}
}

func TestAckEscapesBackticks(t *testing.T) {
	store := storeWith(task("aaaa0001", "run `make` please"))
	exec := &fakeExecutor{result: &executor.Result{Output: "ok"}}
	m := &recordingMessenger{}
	r := newTestRunner(t, store, exec, m, nil)

	r.cycle(context.Background())

	require.NotEmpty(t, m.sent)
	assert.NotContains(t, m.sent[0], "``", "nested backticks would break the code span")
}

func TestRunStopsOnCancel(t *testing.T) {
	store := storeWith()
	r, err := New(store, &fakeExecutor{}, &recordingMessenger{}, nil,
		Config{PollInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestNewValidation(t *testing.T) {
	m := &recordingMessenger{}
	_, err := New(nil, &fakeExecutor{}, m, nil, Config{}, nil)
	require.Error(t, err)
	_, err = New(storeWith(), nil, m, nil, Config{}, nil)
	require.Error(t, err)
	_, err = New(storeWith(), &fakeExecutor{}, nil, nil, Config{}, nil)
	require.Error(t, err)
}
