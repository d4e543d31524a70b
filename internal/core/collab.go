package core

import (
	"fmt"
	"sync"

	"log/slog"

	"github.com/eleven-am/loom/internal/adapters/bridge"
	"github.com/eleven-am/loom/internal/adapters/conditions"
	"github.com/eleven-am/loom/internal/adapters/keyboard"
	"github.com/eleven-am/loom/internal/adapters/memory"
	"github.com/eleven-am/loom/internal/adapters/selection"
	"github.com/eleven-am/loom/internal/adapters/store"
	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
	"github.com/google/uuid"
)

// Collab is the live-collaboration session for one workflow. It mirrors
// a shared document into the same EditorState view model the patch
// session uses, so a canvas renders identically over either sync path.
// Remote edits arrive through document observers; local edits go
// straight to the document and come back the same way. There is no
// outbox and no lock version, the document itself carries convergence.
type Collab struct {
	workflowID string
	logger     *slog.Logger

	store     *store.Store[domain.EditorState]
	bridge    *bridge.Bridge
	evaluator *conditions.Evaluator

	navigator ports.NavigatorPort
	binder    ports.KeyBinderPort

	mu        sync.Mutex
	selection *selection.Sync
	keyboard  *keyboard.Dispatcher
}

// NewCollab creates a collaboration session. It holds no connection
// until Connect hands it a document.
func NewCollab(workflowID string, logger *slog.Logger) *Collab {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collab{
		workflowID: workflowID,
		logger:     logger.With("workflow_id", workflowID),
		evaluator:  conditions.New(logger),
		navigator:  memory.NewNavigator(),
		binder:     memory.NewKeyBinder(),
	}
	c.store = store.New(domain.EditorState{
		Workflow: domain.Workflow{ID: workflowID},
	}, c.logger)
	c.bridge = bridge.New(c.onUpdate, c.logger)
	return c
}

// WithNavigator hands URL reads and writes to the host shell. Takes
// effect only before Connect.
func (c *Collab) WithNavigator(navigator ports.NavigatorPort) *Collab {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selection != nil {
		c.logger.Warn("configuration change ignored, session already connected")
		return c
	}
	c.navigator = navigator
	return c
}

// WithKeyBinder hands key listening to the host shell. Takes effect
// only before Connect.
func (c *Collab) WithKeyBinder(binder ports.KeyBinderPort) *Collab {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selection != nil {
		c.logger.Warn("configuration change ignored, session already connected")
		return c
	}
	c.binder = binder
	return c
}

// Connect attaches the session to a shared document and begins
// mirroring it. Selection sync and the shortcut dispatcher come up with
// it.
func (c *Collab) Connect(doc ports.DocumentPort) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.bridge.Connect(doc); err != nil {
		return err
	}

	c.keyboard = keyboard.New(c.binder, c.logger)
	c.selection = selection.New(c.navigator, func() domain.Workflow {
		return c.store.Get().Workflow
	}, c.onSelection, c.logger)
	if err := c.selection.Start(); err != nil {
		c.bridge.Disconnect()
		c.selection = nil
		c.keyboard = nil
		return fmt.Errorf("failed to start selection sync: %w", err)
	}

	c.logger.Info("collaboration session connected")
	return nil
}

// Disconnect detaches from the document. The last mirrored state stays
// in the store; Connect may later attach the session to another
// document.
func (c *Collab) Disconnect() {
	c.mu.Lock()
	sel := c.selection
	c.selection = nil
	c.keyboard = nil
	c.mu.Unlock()

	if sel != nil {
		sel.Stop()
		c.logger.Info("collaboration session disconnected")
	}
	c.bridge.Disconnect()
}

// Connected reports whether a document is attached.
func (c *Collab) Connected() bool {
	return c.bridge.Connected()
}

// Seed writes a full workflow into the document, for initializing a
// fresh document before peers join.
func (c *Collab) Seed(w domain.Workflow) error {
	return c.bridge.Seed(w)
}

// AddJob inserts a job, assigning an id when it carries none.
func (c *Collab) AddJob(job domain.Job, position *domain.Position) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	return c.bridge.AddJob(job, position)
}

func (c *Collab) UpdateJob(id string, update domain.JobUpdate) error {
	return c.bridge.UpdateJob(id, update)
}

// UpdateJobBody replaces a job body through the shared text, so remote
// carets and concurrent edits merge instead of clobbering.
func (c *Collab) UpdateJobBody(id string, body string) error {
	return c.bridge.UpdateJobBody(id, body)
}

// RemoveJob deletes a job and every edge touching it.
func (c *Collab) RemoveJob(id string) error {
	return c.removeNode(id, c.bridge.RemoveJob)
}

func (c *Collab) AddTrigger(trigger domain.Trigger, position *domain.Position) error {
	if trigger.ID == "" {
		trigger.ID = uuid.New().String()
	}
	return c.bridge.AddTrigger(trigger, position)
}

func (c *Collab) UpdateTrigger(id string, update domain.TriggerUpdate) error {
	return c.bridge.UpdateTrigger(id, update)
}

// RemoveTrigger deletes a trigger and every edge leaving it.
func (c *Collab) RemoveTrigger(id string) error {
	return c.removeNode(id, c.bridge.RemoveTrigger)
}

func (c *Collab) removeNode(id string, remove func(string) error) error {
	for _, edgeID := range c.store.Get().Workflow.EdgesTouching(id) {
		if err := c.bridge.RemoveEdge(edgeID); err != nil {
			return err
		}
	}
	return remove(id)
}

// AddEdge connects two nodes. Expression conditions are parsed before
// anything reaches the document.
func (c *Collab) AddEdge(edge domain.Edge) error {
	if edge.ID == "" {
		edge.ID = uuid.New().String()
	}
	if edge.ConditionType == "" {
		edge.ConditionType = domain.ConditionAlways
	}
	if err := c.evaluator.ValidateEdge(edge); err != nil {
		return err
	}
	return c.bridge.AddEdge(edge)
}

func (c *Collab) UpdateEdge(id string, update domain.EdgeUpdate) error {
	if update.ConditionExpression != nil && *update.ConditionExpression != "" {
		if err := c.evaluator.Validate(*update.ConditionExpression); err != nil {
			return err
		}
	}
	return c.bridge.UpdateEdge(id, update)
}

func (c *Collab) RemoveEdge(id string) error {
	return c.bridge.RemoveEdge(id)
}

func (c *Collab) MoveNode(id string, position domain.Position) error {
	return c.bridge.MoveNode(id, position)
}

func (c *Collab) RenameWorkflow(name string) error {
	return c.bridge.RenameWorkflow(name)
}

// JobBodyText returns the live shared text backing a job's body, for
// editor widgets that bind to it directly.
func (c *Collab) JobBodyText(id string) (ports.SharedText, bool) {
	return c.bridge.JobBodyText(id)
}

// SelectNode drives canvas selection and the URL together. An empty id
// clears the selection.
func (c *Collab) SelectNode(id string) domain.Selection {
	c.mu.Lock()
	sel := c.selection
	c.mu.Unlock()
	if sel == nil {
		return domain.Selection{}
	}
	return sel.SelectNode(id)
}

// Selection returns the current selection.
func (c *Collab) Selection() domain.Selection {
	return c.store.Get().Selection
}

// Keyboard exposes the shortcut dispatcher. Available once the session
// is connected.
func (c *Collab) Keyboard() *keyboard.Dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keyboard
}

// ValidateExpression checks an edge condition expression without
// attaching it to anything.
func (c *Collab) ValidateExpression(expression string) error {
	return c.evaluator.Validate(expression)
}

// State returns the full view model.
func (c *Collab) State() domain.EditorState {
	return c.store.Get()
}

// Workflow returns the current workflow.
func (c *Collab) Workflow() domain.Workflow {
	return c.store.Get().Workflow
}

// Subscribe registers a listener for every state change and returns its
// cancel func.
func (c *Collab) Subscribe(listener func(domain.EditorState)) func() {
	return c.store.Subscribe(listener)
}

// Store exposes the underlying state store so hosts can watch derived
// slices of it.
func (c *Collab) Store() *store.Store[domain.EditorState] {
	return c.store
}

// onUpdate is the bridge sink; each document change lands as a pure
// updater over current workflow state.
func (c *Collab) onUpdate(update func(domain.Workflow) domain.Workflow) {
	c.store.Set(func(s domain.EditorState) domain.EditorState {
		s.Workflow = update(s.Workflow)
		return s
	})
}

// onSelection is the selection sink; it mirrors URL-driven selection
// into the view model.
func (c *Collab) onSelection(sel domain.Selection) {
	c.store.Set(func(s domain.EditorState) domain.EditorState {
		s.Selection = sel
		return s
	})
}
