package core

import (
	"context"
	"fmt"
	"sync"

	"log/slog"

	"github.com/eleven-am/loom/internal/adapters/conditions"
	"github.com/eleven-am/loom/internal/adapters/keyboard"
	"github.com/eleven-am/loom/internal/adapters/memory"
	"github.com/eleven-am/loom/internal/adapters/outbox"
	"github.com/eleven-am/loom/internal/adapters/selection"
	"github.com/eleven-am/loom/internal/adapters/settings"
	"github.com/eleven-am/loom/internal/adapters/storage"
	"github.com/eleven-am/loom/internal/adapters/store"
	"github.com/eleven-am/loom/internal/adapters/transport"
	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
	"github.com/eleven-am/loom/internal/xjson"
)

const editorComponent = "core.editor"

// maxHistoryDepth caps the undo and redo stacks.
const maxHistoryDepth = 100

func newEditorError(message string, cause error, opts ...domain.ErrorOption) *domain.DomainError {
	merged := []domain.ErrorOption{domain.WithComponent(editorComponent)}
	if len(opts) > 0 {
		merged = append(merged, opts...)
	}
	return domain.NewInternalError(message, cause, merged...)
}

// Editor is a patch-based editing session for one workflow. Commands
// apply locally first, the resulting patches queue in the outbox, and
// server acknowledgements fold lock versions and server-side rewrites
// back into local state. The session keeps working while the transport
// is down; Reconnect reconciles and replays.
type Editor struct {
	config *domain.Config
	logger *slog.Logger

	store     *store.Store[domain.EditorState]
	evaluator *conditions.Evaluator

	transport ports.TransportPort
	navigator ports.NavigatorPort
	binder    ports.KeyBinderPort
	notifier  ports.NotifierPort
	storage   ports.StoragePort

	outbox    *outbox.Outbox
	selection *selection.Sync
	keyboard  *keyboard.Dispatcher
	global    ports.SettingsPort
	scoped    ports.SettingsPort

	mu      sync.Mutex
	started bool
	undo    [][]domain.Patch
	redo    [][]domain.Patch

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an editor session with default settings. For more control
// use NewWithConfig.
func New(workflowID, serverURL, dataDir string, logger *slog.Logger) *Editor {
	return NewWithConfig(domain.NewConfigFromSimple(workflowID, serverURL, dataDir, logger))
}

// NewWithConfig creates an editor session from a full configuration.
// Returns nil if the configuration is invalid.
func NewWithConfig(config *domain.Config) *Editor {
	if config == nil {
		slog.Default().Error("editor requires a configuration")
		return nil
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := config.Validate(); err != nil {
		logger.Error("invalid editor configuration", "error", err)
		return nil
	}

	e := &Editor{
		config:    config,
		logger:    logger.With("workflow_id", config.WorkflowID),
		evaluator: conditions.New(logger),
		transport: transport.New(config.WorkflowID, config.Transport, logger),
		navigator: memory.NewNavigator(),
		binder:    memory.NewKeyBinder(),
	}
	e.store = store.New(domain.EditorState{
		Workflow: domain.Workflow{ID: config.WorkflowID},
	}, e.logger)
	e.notifier = logNotifier{logger: e.logger}
	return e
}

// WithTransport replaces the websocket client. Native hosts and tests
// use this to supply their own server path. Takes effect only before
// Start.
func (e *Editor) WithTransport(t ports.TransportPort) *Editor {
	e.configure(func() { e.transport = t })
	return e
}

// WithNavigator hands URL reads and writes to the host shell, typically
// a browser history binding. Takes effect only before Start.
func (e *Editor) WithNavigator(navigator ports.NavigatorPort) *Editor {
	e.configure(func() { e.navigator = navigator })
	return e
}

// WithKeyBinder hands key listening to the host shell. Takes effect
// only before Start.
func (e *Editor) WithKeyBinder(binder ports.KeyBinderPort) *Editor {
	e.configure(func() { e.binder = binder })
	return e
}

// WithNotifier routes user-facing messages to the host UI instead of
// the session log. Takes effect only before Start.
func (e *Editor) WithNotifier(notifier ports.NotifierPort) *Editor {
	e.configure(func() { e.notifier = notifier })
	return e
}

// WithStorage replaces the badger store, mostly for tests. The session
// closes whatever storage it runs on during Stop. Takes effect only
// before Start.
func (e *Editor) WithStorage(s ports.StoragePort) *Editor {
	e.configure(func() { e.storage = s })
	return e
}

func (e *Editor) configure(apply func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		e.logger.Warn("configuration change ignored, session already started")
		return
	}
	apply()
}

// Start brings the session up: storage opens, the transport connects,
// local state is seeded from the last snapshot and reconciled against
// the server copy, then selection sync and the outbox come online.
func (e *Editor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return newEditorError("session already started", domain.ErrAlreadyStarted)
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	if e.storage == nil {
		st, err := storage.New(storage.Config{
			DataDir:  e.config.DataDir,
			InMemory: e.config.Storage.InMemory,
		}, e.logger)
		if err != nil {
			e.abortStartLocked()
			return fmt.Errorf("failed to open storage: %w", err)
		}
		e.storage = st
	}

	e.global = settings.Global(e.storage, e.logger)
	e.scoped = settings.ForWorkflow(e.config.WorkflowID, e.storage, e.logger)
	e.keyboard = keyboard.New(e.binder, e.logger)

	if err := e.transport.Connect(e.ctx); err != nil {
		e.abortStartLocked()
		return fmt.Errorf("failed to connect transport: %w", err)
	}

	local := e.loadSnapshotLocked()

	fetched, err := e.transport.FetchWorkflow(e.ctx)
	if err != nil {
		e.abortStartLocked()
		return fmt.Errorf("failed to fetch workflow: %w", err)
	}

	merged, err := domain.MergeSnapshot(local, fetched)
	if err != nil {
		e.abortStartLocked()
		return fmt.Errorf("failed to merge workflow snapshot: %w", err)
	}
	e.store.Set(func(s domain.EditorState) domain.EditorState {
		s.Workflow = merged
		return s
	})
	e.persistSnapshotLocked(merged)

	e.selection = selection.New(e.navigator, func() domain.Workflow {
		return e.store.Get().Workflow
	}, e.onSelection, e.logger)
	if err := e.selection.Start(); err != nil {
		e.abortStartLocked()
		return fmt.Errorf("failed to start selection sync: %w", err)
	}

	e.outbox = outbox.New(
		e.config.WorkflowID,
		e.config.Outbox,
		e.transport,
		e.storage,
		e.notifier,
		e.onPushResult,
		e.logger,
	)
	if err := e.outbox.Start(e.ctx); err != nil {
		e.abortStartLocked()
		return fmt.Errorf("failed to start outbox: %w", err)
	}

	e.started = true
	e.logger.Info("editor session started",
		"session_id", e.config.SessionID,
		"lock_version", merged.LockVersion,
	)
	return nil
}

// abortStartLocked unwinds a partially started session.
func (e *Editor) abortStartLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.selection != nil {
		e.selection.Stop()
		e.selection = nil
	}
	_ = e.transport.Close()
	if e.storage != nil {
		_ = e.storage.Close()
		e.storage = nil
	}
	e.outbox = nil
	e.keyboard = nil
	e.global = nil
	e.scoped = nil
}

// Stop ends the session. Unacknowledged changes stay in the journal and
// the current state is snapshotted, so the next session starts warm.
func (e *Editor) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return newEditorError("session not started", domain.ErrNotStarted)
	}
	e.started = false
	ob := e.outbox
	sel := e.selection
	e.mu.Unlock()

	// The outbox worker may be mid-acknowledgement and waiting on the
	// session mutex, so it stops before the mutex is taken again.
	if err := ob.Stop(); err != nil {
		e.logger.Warn("outbox did not stop cleanly", "error", err)
	}
	sel.Stop()
	if err := e.transport.Close(); err != nil {
		e.logger.Warn("transport did not close cleanly", "error", err)
	}

	e.mu.Lock()
	e.persistSnapshotLocked(e.store.Get().Workflow)
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.storage != nil {
		if err := e.storage.Close(); err != nil {
			e.logger.Warn("storage did not close cleanly", "error", err)
		}
		e.storage = nil
	}
	e.outbox = nil
	e.selection = nil
	e.mu.Unlock()

	e.logger.Info("editor session stopped")
	return nil
}

// Reconnect cycles the transport after a drop, merges the authoritative
// workflow over local state, and replays pending changes. The session
// keeps accepting edits while disconnected; they queue until this
// succeeds.
func (e *Editor) Reconnect(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return newEditorError("session not started", domain.ErrNotStarted)
	}
	ob := e.outbox
	sessionCtx := e.ctx
	e.mu.Unlock()

	if err := ob.Stop(); err != nil {
		e.logger.Warn("outbox did not stop cleanly", "error", err)
	}
	if err := e.transport.Close(); err != nil {
		e.logger.Warn("transport did not close cleanly", "error", err)
	}

	if err := e.transport.Connect(ctx); err != nil {
		e.notifier.Error(domain.UserMessage(err))
		return fmt.Errorf("failed to reconnect transport: %w", err)
	}

	fetched, err := e.transport.FetchWorkflow(ctx)
	if err != nil {
		return fmt.Errorf("failed to refetch workflow: %w", err)
	}

	e.mu.Lock()
	local := e.store.Get().Workflow
	merged, err := domain.MergeSnapshot(local, fetched)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to merge workflow snapshot: %w", err)
	}
	e.store.Set(func(s domain.EditorState) domain.EditorState {
		s.Workflow = merged
		return s
	})
	// The merge moved the baseline, so recorded inverses no longer
	// describe it.
	e.undo = nil
	e.redo = nil
	e.persistSnapshotLocked(merged)
	e.mu.Unlock()

	if err := ob.Start(sessionCtx); err != nil {
		return fmt.Errorf("failed to restart outbox: %w", err)
	}

	e.logger.Info("session reconnected", "pending", ob.Len())
	return nil
}

// Apply runs one command against the current workflow, keeps the result
// as the new local state, and queues the patches for the server.
func (e *Editor) Apply(cmd domain.Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(cmd)
}

func (e *Editor) applyLocked(cmd domain.Command) error {
	if !e.started {
		return newEditorError("session not started", domain.ErrNotStarted)
	}
	if cmd == nil {
		return newEditorError("nil command", domain.ErrInvalidInput)
	}

	current := e.store.Get().Workflow
	next, patches, err := cmd.Apply(current)
	if err != nil {
		return err
	}
	if len(patches) == 0 {
		return nil
	}

	inverse, invErr := domain.InvertPatches(current, patches)

	e.store.Set(func(s domain.EditorState) domain.EditorState {
		s.Workflow = next
		return s
	})

	if invErr != nil {
		// One gap breaks the chain, older entries would replay against
		// the wrong state.
		e.logger.Warn("change is not invertible, clearing history", "error", invErr)
		e.undo = nil
	} else {
		e.undo = appendHistory(e.undo, inverse)
	}
	e.redo = nil

	e.outbox.Enqueue(domain.NewPendingAction(e.config.WorkflowID, patches))
	return nil
}

// AddJob appends a job, optionally with a canvas position.
func (e *Editor) AddJob(job domain.Job, position *domain.Position) error {
	return e.Apply(domain.NewAddJob(job, position))
}

func (e *Editor) UpdateJob(id string, update domain.JobUpdate) error {
	return e.Apply(domain.UpdateJob{ID: id, Update: update})
}

// RemoveJob deletes a job together with every edge touching it, as one
// atomic change.
func (e *Editor) RemoveJob(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(removeNodeBatch(e.store.Get().Workflow, domain.RemoveJob{ID: id}, id))
}

func (e *Editor) AddTrigger(trigger domain.Trigger, position *domain.Position) error {
	return e.Apply(domain.NewAddTrigger(trigger, position))
}

func (e *Editor) UpdateTrigger(id string, update domain.TriggerUpdate) error {
	return e.Apply(domain.UpdateTrigger{ID: id, Update: update})
}

// RemoveTrigger deletes a trigger together with every edge leaving it,
// as one atomic change.
func (e *Editor) RemoveTrigger(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(removeNodeBatch(e.store.Get().Workflow, domain.RemoveTrigger{ID: id}, id))
}

func removeNodeBatch(w domain.Workflow, last domain.Command, id string) domain.Batch {
	touching := w.EdgesTouching(id)
	commands := make([]domain.Command, 0, len(touching)+1)
	for _, edgeID := range touching {
		commands = append(commands, domain.RemoveEdge{ID: edgeID})
	}
	commands = append(commands, last)
	return domain.NewBatch(commands...)
}

// AddEdge connects two nodes. Expression conditions are parsed before
// anything is applied.
func (e *Editor) AddEdge(edge domain.Edge) error {
	cmd := domain.NewAddEdge(edge)
	if err := e.evaluator.ValidateEdge(cmd.Edge); err != nil {
		return err
	}
	return e.Apply(cmd)
}

func (e *Editor) UpdateEdge(id string, update domain.EdgeUpdate) error {
	if update.ConditionExpression != nil && *update.ConditionExpression != "" {
		if err := e.evaluator.Validate(*update.ConditionExpression); err != nil {
			return err
		}
	}
	return e.Apply(domain.UpdateEdge{ID: id, Update: update})
}

func (e *Editor) RemoveEdge(id string) error {
	return e.Apply(domain.RemoveEdge{ID: id})
}

func (e *Editor) MoveNode(id string, position domain.Position) error {
	return e.Apply(domain.MoveNode{ID: id, Position: position})
}

func (e *Editor) RenameWorkflow(name string) error {
	return e.Apply(domain.RenameWorkflow{Name: name})
}

// Undo reverts the most recent local change. The inverse runs through
// the normal pipeline, so the server sees it as one more edit.
func (e *Editor) Undo() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return newEditorError("session not started", domain.ErrNotStarted)
	}
	if len(e.undo) == 0 {
		return newEditorError("nothing to undo", domain.ErrNotFound)
	}

	entry := e.undo[len(e.undo)-1]
	e.undo = e.undo[:len(e.undo)-1]

	current := e.store.Get().Workflow
	reverted, err := domain.ApplyPatches(current, entry)
	if err != nil {
		// Server activity changed the shapes these patches addressed.
		e.undo = nil
		return newEditorError("undo no longer applies", err)
	}
	redoEntry, invErr := domain.InvertPatches(current, entry)

	e.store.Set(func(s domain.EditorState) domain.EditorState {
		s.Workflow = reverted
		return s
	})
	if invErr == nil {
		e.redo = appendHistory(e.redo, redoEntry)
	}

	e.outbox.Enqueue(domain.NewPendingAction(e.config.WorkflowID, entry))
	return nil
}

// Redo reapplies the most recently undone change.
func (e *Editor) Redo() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return newEditorError("session not started", domain.ErrNotStarted)
	}
	if len(e.redo) == 0 {
		return newEditorError("nothing to redo", domain.ErrNotFound)
	}

	entry := e.redo[len(e.redo)-1]
	e.redo = e.redo[:len(e.redo)-1]

	current := e.store.Get().Workflow
	reapplied, err := domain.ApplyPatches(current, entry)
	if err != nil {
		e.redo = nil
		return newEditorError("redo no longer applies", err)
	}
	undoEntry, invErr := domain.InvertPatches(current, entry)

	e.store.Set(func(s domain.EditorState) domain.EditorState {
		s.Workflow = reapplied
		return s
	})
	if invErr == nil {
		e.undo = appendHistory(e.undo, undoEntry)
	}

	e.outbox.Enqueue(domain.NewPendingAction(e.config.WorkflowID, entry))
	return nil
}

func (e *Editor) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.undo) > 0
}

func (e *Editor) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.redo) > 0
}

func appendHistory(stack [][]domain.Patch, entry []domain.Patch) [][]domain.Patch {
	stack = append(stack, entry)
	if len(stack) > maxHistoryDepth {
		stack = stack[len(stack)-maxHistoryDepth:]
	}
	return stack
}

// RunWorkflow asks the server to execute the workflow and reflects the
// returned run into local state.
func (e *Editor) RunWorkflow(ctx context.Context, request domain.RunRequest) (domain.RunState, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return domain.RunState{}, newEditorError("session not started", domain.ErrNotStarted)
	}
	e.mu.Unlock()

	if request.WorkflowID == "" {
		request.WorkflowID = e.config.WorkflowID
	}

	state, err := e.transport.RequestRun(ctx, request)
	if err != nil {
		e.notifier.Error(domain.UserMessage(err))
		return domain.RunState{}, err
	}

	e.store.Set(func(s domain.EditorState) domain.EditorState {
		s.LastRun = &state
		return s
	})
	e.logger.Info("run requested", "run_id", state.RunID, "status", state.Status)
	return state, nil
}

// RetryRun requests a fresh execution using the inputs of a previous
// run.
func (e *Editor) RetryRun(ctx context.Context, runID string) (domain.RunState, error) {
	return e.RunWorkflow(ctx, domain.RunRequest{RetryOfRunID: runID})
}

// SelectNode drives canvas selection and the URL together. An empty id
// clears the selection.
func (e *Editor) SelectNode(id string) domain.Selection {
	e.mu.Lock()
	sel := e.selection
	e.mu.Unlock()
	if sel == nil {
		return domain.Selection{}
	}
	return sel.SelectNode(id)
}

// Selection returns the current selection.
func (e *Editor) Selection() domain.Selection {
	return e.store.Get().Selection
}

// Keyboard exposes the shortcut dispatcher. Available once the session
// has started.
func (e *Editor) Keyboard() *keyboard.Dispatcher {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.keyboard
}

// Settings holds preferences shared across workflows. Available once
// the session has started.
func (e *Editor) Settings() ports.SettingsPort {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.global
}

// WorkflowSettings holds preferences scoped to this workflow. Available
// once the session has started.
func (e *Editor) WorkflowSettings() ports.SettingsPort {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scoped
}

// ValidateExpression checks an edge condition expression without
// attaching it to anything, for inline feedback while the user types.
func (e *Editor) ValidateExpression(expression string) error {
	return e.evaluator.Validate(expression)
}

// EdgeWouldFire previews whether an edge passes given an upstream
// result and a data scope.
func (e *Editor) EdgeWouldFire(edgeID string, upstreamSucceeded bool, scope map[string]any) (bool, error) {
	edge, ok := e.store.Get().Workflow.FindEdge(edgeID)
	if !ok {
		return false, newEditorError("edge not found", domain.ErrNotFound,
			domain.WithContextDetail("edge_id", edgeID))
	}
	return e.evaluator.EdgeFires(edge, upstreamSucceeded, scope)
}

// State returns the full view model.
func (e *Editor) State() domain.EditorState {
	return e.store.Get()
}

// Workflow returns the current workflow.
func (e *Editor) Workflow() domain.Workflow {
	return e.store.Get().Workflow
}

// Subscribe registers a listener for every state change and returns its
// cancel func.
func (e *Editor) Subscribe(listener func(domain.EditorState)) func() {
	return e.store.Subscribe(listener)
}

// Store exposes the underlying state store so hosts can watch derived
// slices of it.
func (e *Editor) Store() *store.Store[domain.EditorState] {
	return e.store
}

// Pending lists changes the server has not acknowledged yet.
func (e *Editor) Pending() []domain.PendingAction {
	e.mu.Lock()
	ob := e.outbox
	e.mu.Unlock()
	if ob == nil {
		return nil
	}
	return ob.Pending()
}

// PendingCount reports how many changes wait for acknowledgement.
func (e *Editor) PendingCount() int {
	e.mu.Lock()
	ob := e.outbox
	e.mu.Unlock()
	if ob == nil {
		return 0
	}
	return ob.Len()
}

// Stalled reports whether the outbox gave up retrying and waits for
// Resume or Reconnect.
func (e *Editor) Stalled() bool {
	e.mu.Lock()
	ob := e.outbox
	e.mu.Unlock()
	if ob == nil {
		return false
	}
	return ob.Stalled()
}

// Resume retries a stalled outbox without cycling the transport.
func (e *Editor) Resume() {
	e.mu.Lock()
	ob := e.outbox
	e.mu.Unlock()
	if ob != nil {
		ob.Resume()
	}
}

// onSelection is the selection sink; it mirrors URL-driven selection
// into the view model.
func (e *Editor) onSelection(sel domain.Selection) {
	e.store.Set(func(s domain.EditorState) domain.EditorState {
		s.Selection = sel
		return s
	})
}

// onPushResult runs on the outbox worker after the server accepts a
// change. The new lock version and any server-side rewrites fold into
// local state, and the snapshot moves forward.
func (e *Editor) onPushResult(action domain.PendingAction, result ports.PushResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w := e.store.Get().Workflow
	if len(result.Patches) > 0 {
		applied, err := domain.ApplyPatches(w, result.Patches)
		if err != nil {
			e.logger.Error("server patches did not apply",
				"action_id", action.ID,
				"error", err,
			)
			e.notifier.Warn("This workflow changed on the server in a way that could not be applied here. Reconnect to refresh.")
		} else {
			w = applied
		}
	}
	if result.LockVersion > 0 {
		w.LockVersion = result.LockVersion
	}

	e.store.Set(func(s domain.EditorState) domain.EditorState {
		s.Workflow = w
		return s
	})
	e.persistSnapshotLocked(w)
}

func (e *Editor) loadSnapshotLocked() domain.Workflow {
	local := domain.Workflow{ID: e.config.WorkflowID}
	raw, exists, err := e.storage.Get(domain.SnapshotKey(e.config.WorkflowID))
	if err != nil {
		e.logger.Warn("could not read workflow snapshot", "error", err)
		return local
	}
	if !exists {
		return local
	}
	var cached domain.Workflow
	if err := xjson.Unmarshal(raw, &cached); err != nil {
		e.logger.Warn("discarding corrupt workflow snapshot", "error", err)
		return local
	}
	return cached.Normalized()
}

func (e *Editor) persistSnapshotLocked(w domain.Workflow) {
	if e.storage == nil {
		return
	}
	raw, err := xjson.Marshal(w)
	if err != nil {
		e.logger.Warn("could not encode workflow snapshot", "error", err)
		return
	}
	if err := e.storage.Put(domain.SnapshotKey(e.config.WorkflowID), raw); err != nil {
		e.logger.Warn("could not persist workflow snapshot", "error", err)
	}
}

// logNotifier is the fallback NotifierPort when the host wires none.
// Messages land in the session log instead of a toast.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Info(message string)  { n.logger.Info("notice", "message", message) }
func (n logNotifier) Warn(message string)  { n.logger.Warn("notice", "message", message) }
func (n logNotifier) Error(message string) { n.logger.Error("notice", "message", message) }
