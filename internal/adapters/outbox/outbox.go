package outbox

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

const outboxComponent = "adapters.outbox"

func newOutboxError(message string, cause error, opts ...domain.ErrorOption) *domain.DomainError {
	merged := []domain.ErrorOption{domain.WithComponent(outboxComponent)}
	if len(opts) > 0 {
		merged = append(merged, opts...)
	}
	return domain.NewSyncError(message, cause, merged...)
}

// ResultHandler receives the server's answer to a delivered action. It
// runs on the worker goroutine, so the next action is not sent until it
// returns.
type ResultHandler func(action domain.PendingAction, result ports.PushResult)

// Outbox drains queued actions to the transport one at a time, in the
// order they were enqueued. The next action is never sent before the
// previous one is acknowledged. A failed send leaves the action at the
// head and stalls the queue until Resume is called.
type Outbox struct {
	config     domain.OutboxConfig
	workflowID string
	transport  ports.TransportPort
	storage    ports.StoragePort
	notifier   ports.NotifierPort
	onResult   ResultHandler
	logger     *slog.Logger

	mu      sync.Mutex
	items   []domain.PendingAction
	stalled bool
	started bool

	signal chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an outbox for one workflow. storage may be nil when the
// journal is disabled; notifier and onResult may be nil.
func New(workflowID string, config domain.OutboxConfig, transport ports.TransportPort, storage ports.StoragePort, notifier ports.NotifierPort, onResult ResultHandler, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{
		config:     config,
		workflowID: workflowID,
		transport:  transport,
		storage:    storage,
		notifier:   notifier,
		onResult:   onResult,
		logger:     logger.With("component", "outbox", "workflow_id", workflowID),
		signal:     make(chan struct{}, 1),
	}
}

// Start replays journaled actions from a previous session, then launches
// the worker. The outbox can be started again after Stop, which is how a
// reconnect replays still-queued edits.
func (o *Outbox) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return newOutboxError("outbox already started", domain.ErrAlreadyStarted)
	}
	o.started = true
	o.stalled = false
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	if o.journalEnabled() {
		if err := o.replayJournal(); err != nil {
			o.mu.Lock()
			o.started = false
			cancel := o.cancel
			o.mu.Unlock()
			cancel()
			return err
		}
	}

	o.wg.Add(1)
	go o.run()
	o.wake()

	return nil
}

// Stop cancels the in-flight send, if any, and waits for the worker to
// exit. Queued actions stay queued.
func (o *Outbox) Stop() error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(o.config.StopTimeout):
		return newOutboxError("worker did not stop in time", domain.ErrTimeout)
	}
}

// Enqueue appends an action and wakes the worker. Enqueueing is always
// permitted, even while the queue is stalled or stopped.
func (o *Outbox) Enqueue(action domain.PendingAction) {
	o.mu.Lock()
	o.items = append(o.items, action)
	o.mu.Unlock()

	if o.journalEnabled() {
		key := domain.OutboxPendingKey(o.workflowID, action.ID)
		data, err := action.ToBytes()
		if err == nil {
			err = o.storage.Put(key, data)
		}
		if err != nil {
			o.logger.Warn("failed to journal action", "action_id", action.ID, "error", err)
		}
	}

	o.wake()
}

// Resume clears a stall and retries the head action.
func (o *Outbox) Resume() {
	o.mu.Lock()
	o.stalled = false
	o.mu.Unlock()
	o.wake()
}

// Pending returns a copy of the queued actions, head first. The head may
// be in flight.
func (o *Outbox) Pending() []domain.PendingAction {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.PendingAction(nil), o.items...)
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

func (o *Outbox) Stalled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stalled
}

func (o *Outbox) journalEnabled() bool {
	return o.config.Journal && o.storage != nil
}

// replayJournal loads actions persisted by a previous session. Journal
// keys embed ULIDs, so ListByPrefix returns them in creation order.
// Entries still sitting in the in-memory queue are skipped, so starting
// again after Stop does not double-send.
func (o *Outbox) replayJournal() error {
	entries, err := o.storage.ListByPrefix(domain.OutboxPendingScope(o.workflowID))
	if err != nil {
		return newOutboxError("failed to read journal", err)
	}

	replayed := make([]domain.PendingAction, 0, len(entries))
	for _, kv := range entries {
		action, err := domain.PendingActionFromBytes(kv.Value)
		if err != nil {
			o.logger.Warn("dropping corrupt journal entry", "key", kv.Key, "error", err)
			_ = o.storage.Delete(kv.Key)
			continue
		}
		replayed = append(replayed, *action)
	}
	if len(replayed) == 0 {
		return nil
	}

	o.mu.Lock()
	queued := make(map[string]struct{}, len(o.items))
	for _, item := range o.items {
		queued[item.ID] = struct{}{}
	}
	fresh := make([]domain.PendingAction, 0, len(replayed))
	for _, action := range replayed {
		if _, ok := queued[action.ID]; ok {
			continue
		}
		fresh = append(fresh, action)
	}
	o.items = append(fresh, o.items...)
	o.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	o.logger.Info("replaying journaled actions", "count", len(fresh))
	return nil
}

func (o *Outbox) run() {
	defer o.wg.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.signal:
			o.drain()
		}
	}
}

// drain sends queued actions until the queue empties, stalls, or the
// context is cancelled. The head is only removed after its ack arrives.
func (o *Outbox) drain() {
	for {
		if o.ctx.Err() != nil {
			return
		}

		o.mu.Lock()
		if o.stalled || len(o.items) == 0 {
			o.mu.Unlock()
			return
		}
		action := o.items[0]
		o.mu.Unlock()

		result, err := o.transport.PushChange(o.ctx, action)
		if err != nil {
			if o.ctx.Err() != nil {
				return
			}

			o.mu.Lock()
			o.stalled = true
			o.mu.Unlock()

			o.logger.Error("push failed, outbox stalled", "action_id", action.ID, "error", err)
			if o.notifier != nil {
				o.notifier.Error(domain.UserMessage(err))
			}
			return
		}

		o.mu.Lock()
		if len(o.items) > 0 && o.items[0].ID == action.ID {
			o.items = o.items[1:]
		}
		o.mu.Unlock()

		if o.journalEnabled() {
			key := domain.OutboxPendingKey(o.workflowID, action.ID)
			if err := o.storage.Delete(key); err != nil {
				o.logger.Warn("failed to clear journal entry", "action_id", action.ID, "error", err)
			}
		}

		if o.onResult != nil && result != nil {
			o.onResult(action, *result)
		}
	}
}

func (o *Outbox) wake() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}
