package outbox

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"log/slog"

	"github.com/eleven-am/loom/internal/adapters/memory"
	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	pushFn func(ctx context.Context, action domain.PendingAction) (*ports.PushResult, error)
	log    []string
}

func (f *fakeTransport) record(event string) {
	f.mu.Lock()
	f.log = append(f.log, event)
	f.mu.Unlock()
}

func (f *fakeTransport) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }
func (f *fakeTransport) Close() error                      { return nil }

func (f *fakeTransport) PushChange(ctx context.Context, action domain.PendingAction) (*ports.PushResult, error) {
	return f.pushFn(ctx, action)
}

func (f *fakeTransport) FetchWorkflow(ctx context.Context) (domain.Workflow, error) {
	return domain.Workflow{}, nil
}

func (f *fakeTransport) RequestRun(ctx context.Context, request domain.RunRequest) (domain.RunState, error) {
	return domain.RunState{}, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) add(message string) {
	f.mu.Lock()
	f.messages = append(f.messages, message)
	f.mu.Unlock()
}

func (f *fakeNotifier) Info(message string)  { f.add(message) }
func (f *fakeNotifier) Warn(message string)  { f.add(message) }
func (f *fakeNotifier) Error(message string) { f.add(message) }

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() domain.OutboxConfig {
	return domain.OutboxConfig{Journal: false, StopTimeout: time.Second}
}

func replacePatch(t *testing.T, path string, value any) domain.Patch {
	t.Helper()
	p, err := domain.NewReplacePatch(path, value)
	require.NoError(t, err)
	return p
}

func newAction(t *testing.T, name string) domain.PendingAction {
	t.Helper()
	return domain.NewPendingAction("wf-1", []domain.Patch{replacePatch(t, "/name", name)})
}

func TestDeliversInOrderWithAckGating(t *testing.T) {
	transport := &fakeTransport{}
	transport.pushFn = func(ctx context.Context, action domain.PendingAction) (*ports.PushResult, error) {
		transport.record("send:" + action.ID)
		time.Sleep(2 * time.Millisecond)
		transport.record("ack:" + action.ID)
		return &ports.PushResult{LockVersion: 1}, nil
	}

	delivered := make(chan string, 3)
	onResult := func(action domain.PendingAction, result ports.PushResult) {
		transport.record("result:" + action.ID)
		delivered <- action.ID
	}

	ob := New("wf-1", testConfig(), transport, nil, nil, onResult, testLogger())
	require.NoError(t, ob.Start(context.Background()))
	defer ob.Stop()

	first := newAction(t, "one")
	second := newAction(t, "two")
	third := newAction(t, "three")
	ob.Enqueue(first)
	ob.Enqueue(second)
	ob.Enqueue(third)

	for i := 0; i < 3; i++ {
		select {
		case <-delivered:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}

	want := []string{
		"send:" + first.ID, "ack:" + first.ID, "result:" + first.ID,
		"send:" + second.ID, "ack:" + second.ID, "result:" + second.ID,
		"send:" + third.ID, "ack:" + third.ID, "result:" + third.ID,
	}
	assert.Equal(t, want, transport.events(), "next send must wait for the previous ack and result")
	assert.Equal(t, 0, ob.Len())
}

func TestFailedSendStallsUntilResume(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	attempts := make(chan string, 8)
	transport := &fakeTransport{}
	transport.pushFn = func(ctx context.Context, action domain.PendingAction) (*ports.PushResult, error) {
		attempts <- action.ID
		if fail.Load() {
			return nil, domain.NewNetworkError("connection reset", nil)
		}
		return &ports.PushResult{}, nil
	}

	notifier := &fakeNotifier{}
	ob := New("wf-1", testConfig(), transport, nil, notifier, nil, testLogger())
	require.NoError(t, ob.Start(context.Background()))
	defer ob.Stop()

	first := newAction(t, "one")
	second := newAction(t, "two")
	ob.Enqueue(first)
	ob.Enqueue(second)

	assert.Equal(t, first.ID, <-attempts)
	require.Eventually(t, ob.Stalled, time.Second, time.Millisecond)
	assert.Len(t, ob.Pending(), 2, "a failed action must stay queued")
	assert.GreaterOrEqual(t, notifier.count(), 1)

	select {
	case id := <-attempts:
		t.Fatalf("unexpected send while stalled: %s", id)
	case <-time.After(20 * time.Millisecond):
	}

	fail.Store(false)
	ob.Resume()

	assert.Equal(t, first.ID, <-attempts, "resume retries the same head action")
	assert.Equal(t, second.ID, <-attempts)
	require.Eventually(t, func() bool { return ob.Len() == 0 }, time.Second, time.Millisecond)
	assert.False(t, ob.Stalled())
}

func TestStopLeavesItemsQueued(t *testing.T) {
	entered := make(chan struct{}, 1)
	transport := &fakeTransport{}
	transport.pushFn = func(ctx context.Context, action domain.PendingAction) (*ports.PushResult, error) {
		entered <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	notifier := &fakeNotifier{}
	ob := New("wf-1", testConfig(), transport, nil, notifier, nil, testLogger())
	require.NoError(t, ob.Start(context.Background()))

	ob.Enqueue(newAction(t, "one"))
	ob.Enqueue(newAction(t, "two"))

	<-entered
	require.NoError(t, ob.Stop())

	assert.Len(t, ob.Pending(), 2, "shutdown must not drop queued actions")
	assert.False(t, ob.Stalled(), "cancellation is not a delivery failure")
	assert.Equal(t, 0, notifier.count())
}

func TestStartTwiceErrorsAndRestartWorks(t *testing.T) {
	delivered := make(chan string, 2)
	transport := &fakeTransport{}
	transport.pushFn = func(ctx context.Context, action domain.PendingAction) (*ports.PushResult, error) {
		delivered <- action.ID
		return &ports.PushResult{}, nil
	}

	ob := New("wf-1", testConfig(), transport, nil, nil, nil, testLogger())
	require.NoError(t, ob.Start(context.Background()))

	err := ob.Start(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsAlreadyStarted(err))

	require.NoError(t, ob.Stop())

	queued := newAction(t, "queued while stopped")
	ob.Enqueue(queued)

	require.NoError(t, ob.Start(context.Background()))
	defer ob.Stop()

	assert.Equal(t, queued.ID, <-delivered, "actions enqueued while stopped are sent on restart")
}

func TestJournalReplaysAcrossSessions(t *testing.T) {
	store := memory.NewStorage(testLogger())
	cfg := domain.OutboxConfig{Journal: true, StopTimeout: time.Second}

	entered := make(chan struct{}, 1)
	blocked := &fakeTransport{}
	blocked.pushFn = func(ctx context.Context, action domain.PendingAction) (*ports.PushResult, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	first := New("wf-1", cfg, blocked, store, nil, nil, testLogger())
	require.NoError(t, first.Start(context.Background()))

	older := newAction(t, "older")
	newer := newAction(t, "newer")
	first.Enqueue(older)
	first.Enqueue(newer)

	<-entered
	require.NoError(t, first.Stop())

	count, err := store.CountPrefix(domain.OutboxPendingScope("wf-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, count, "undelivered actions stay journaled")

	delivered := make(chan string, 2)
	flowing := &fakeTransport{}
	flowing.pushFn = func(ctx context.Context, action domain.PendingAction) (*ports.PushResult, error) {
		delivered <- action.ID
		return &ports.PushResult{}, nil
	}

	second := New("wf-1", cfg, flowing, store, nil, nil, testLogger())
	require.NoError(t, second.Start(context.Background()))
	defer second.Stop()

	assert.Equal(t, older.ID, <-delivered, "replay preserves creation order")
	assert.Equal(t, newer.ID, <-delivered)

	require.Eventually(t, func() bool {
		count, err := store.CountPrefix(domain.OutboxPendingScope("wf-1"))
		return err == nil && count == 0
	}, time.Second, time.Millisecond, "acked actions leave the journal")
}

func TestRestartDoesNotDuplicateJournaledItems(t *testing.T) {
	store := memory.NewStorage(testLogger())
	cfg := domain.OutboxConfig{Journal: true, StopTimeout: time.Second}

	entered := make(chan struct{}, 1)
	blocked := &fakeTransport{}
	blocked.pushFn = func(ctx context.Context, action domain.PendingAction) (*ports.PushResult, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ob := New("wf-1", cfg, blocked, store, nil, nil, testLogger())
	require.NoError(t, ob.Start(context.Background()))

	action := newAction(t, "survivor")
	ob.Enqueue(action)

	<-entered
	require.NoError(t, ob.Stop())

	// The action sits in memory and in the journal. Restarting the
	// same outbox must not queue it twice.
	delivered := make(chan string, 2)
	blocked.pushFn = func(ctx context.Context, action domain.PendingAction) (*ports.PushResult, error) {
		delivered <- action.ID
		return &ports.PushResult{}, nil
	}

	require.NoError(t, ob.Start(context.Background()))
	defer ob.Stop()

	assert.Equal(t, action.ID, <-delivered)
	select {
	case id := <-delivered:
		t.Fatalf("action sent twice after restart: %s", id)
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, 0, ob.Len())
}

func TestRestartClearsStall(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	delivered := make(chan string, 1)
	transport := &fakeTransport{}
	transport.pushFn = func(ctx context.Context, action domain.PendingAction) (*ports.PushResult, error) {
		if fail.Load() {
			return nil, domain.NewNetworkError("connection reset", nil)
		}
		delivered <- action.ID
		return &ports.PushResult{}, nil
	}

	ob := New("wf-1", testConfig(), transport, nil, nil, nil, testLogger())
	require.NoError(t, ob.Start(context.Background()))

	action := newAction(t, "one")
	ob.Enqueue(action)
	require.Eventually(t, ob.Stalled, time.Second, time.Millisecond)

	require.NoError(t, ob.Stop())
	fail.Store(false)

	// A restart is the reconnect path, so it retries without an
	// explicit Resume.
	require.NoError(t, ob.Start(context.Background()))
	defer ob.Stop()

	assert.Equal(t, action.ID, <-delivered)
	assert.False(t, ob.Stalled())
}

func TestJournalSkipsCorruptEntries(t *testing.T) {
	store := memory.NewStorage(testLogger())
	cfg := domain.OutboxConfig{Journal: true, StopTimeout: time.Second}

	good := newAction(t, "good")
	data, err := good.ToBytes()
	require.NoError(t, err)
	require.NoError(t, store.Put(domain.OutboxPendingKey("wf-1", good.ID), data))
	require.NoError(t, store.Put(domain.OutboxPendingKey("wf-1", "00000000000000000000000000"), []byte("not json")))

	delivered := make(chan string, 1)
	transport := &fakeTransport{}
	transport.pushFn = func(ctx context.Context, action domain.PendingAction) (*ports.PushResult, error) {
		delivered <- action.ID
		return &ports.PushResult{}, nil
	}

	ob := New("wf-1", cfg, transport, store, nil, nil, testLogger())
	require.NoError(t, ob.Start(context.Background()))
	defer ob.Stop()

	assert.Equal(t, good.ID, <-delivered)

	require.Eventually(t, func() bool {
		count, err := store.CountPrefix(domain.OutboxPendingScope("wf-1"))
		return err == nil && count == 0
	}, time.Second, time.Millisecond, "corrupt entries are dropped from the journal")
}
