// Package loom keeps a workflow editor's canvas state in sync with its
// backend. It provides two interchangeable sync paths behind one view
// model:
//   - Patch sessions (Editor): commands apply locally first, the
//     resulting JSON patches queue in a durable FIFO outbox, and the
//     server acknowledges each change with a lock version.
//   - Collaborative sessions (Collab): state mirrors a shared document
//     in the style of a CRDT doc, and convergence comes from the
//     document itself.
//
// Around either path sit URL-driven selection sync, priority keyboard
// shortcut dispatch, persisted editor settings, and gval-based
// evaluation of edge condition expressions.
//
// Basic usage:
//
//	editor := loom.New("wf-1", "wss://app.example.com/worktop", "./data", logger)
//	if err := editor.Start(ctx); err != nil {
//	    return err
//	}
//	defer editor.Stop()
//
//	editor.AddJob(loom.Job{Name: "fetch orders", Adaptor: "@openfn/language-http"}, nil)
//	editor.SelectNode(editor.Workflow().Jobs[0].ID)
package loom

import (
	"net/url"

	"log/slog"

	"github.com/eleven-am/loom/internal/adapters/keyboard"
	"github.com/eleven-am/loom/internal/adapters/memory"
	"github.com/eleven-am/loom/internal/core"
	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// Editor is a patch-based editing session for one workflow. Edits keep
// working while the connection is down; they queue in the outbox and
// replay on Reconnect.
type Editor = core.Editor

// Collab is a live-collaboration session over a shared document.
type Collab = core.Collab

// Workflow is the canvas data model: jobs, triggers, the edges wiring
// them, and node positions.
type Workflow = domain.Workflow

// Job is an executable step in a workflow.
type Job = domain.Job

// Trigger starts workflow runs, from a webhook, a cron schedule, or a
// kafka topic.
type Trigger = domain.Trigger

// Edge wires a trigger or job to a downstream job, gated by a
// condition.
type Edge = domain.Edge

// Position is a node's canvas placement.
type Position = domain.Position

// EditorState is the full view model: workflow, current selection, and
// the most recent run.
type EditorState = domain.EditorState

// Selection identifies the currently selected canvas node, if any.
type Selection = domain.Selection

// NodeKind distinguishes jobs, triggers, and edges in a selection.
type NodeKind = domain.NodeKind

// TriggerType identifies how a trigger fires.
type TriggerType = domain.TriggerType

// ConditionType decides when an edge lets a run continue.
type ConditionType = domain.ConditionType

// Patch is one RFC 6902 operation against the workflow document.
type Patch = domain.Patch

// PendingAction is a queued change: the patches of one command batch,
// waiting for a server acknowledgement.
type PendingAction = domain.PendingAction

// Command is an edit operation that produces a changed workflow plus
// the patches describing the change.
type Command = domain.Command

// Batch groups commands into one atomic change.
type Batch = domain.Batch

// JobUpdate, TriggerUpdate, and EdgeUpdate carry partial updates; nil
// fields stay untouched.
type JobUpdate = domain.JobUpdate

type TriggerUpdate = domain.TriggerUpdate

type EdgeUpdate = domain.EdgeUpdate

// RunRequest asks the server to execute a workflow.
type RunRequest = domain.RunRequest

// RunState reflects a run the server reported back.
type RunState = domain.RunState

// RunStatus is a run's lifecycle phase.
type RunStatus = domain.RunStatus

// KeyEvent is one key press delivered by the host's key binder.
type KeyEvent = ports.KeyEvent

// KeyHandler inspects a key event and claims or declines it.
type KeyHandler = ports.KeyHandler

// KeyDecision is a handler's verdict on an event.
type KeyDecision = ports.KeyDecision

// KeyOptions configure a shortcut registration: dispatch priority, an
// enablement check, and the host effects applied on a claim.
type KeyOptions = keyboard.Options

// NavigatorPort is the host's address bar: query parameter reads,
// writes, and navigation observation.
type NavigatorPort = ports.NavigatorPort

// KeyBinderPort is the host's raw key listening surface.
type KeyBinderPort = ports.KeyBinderPort

// NotifierPort surfaces user-facing messages to the host UI.
type NotifierPort = ports.NotifierPort

// SettingsPort stores small named JSON documents, globally or per
// workflow.
type SettingsPort = ports.SettingsPort

// TransportPort moves changes, snapshots, and run requests between the
// session and the server.
type TransportPort = ports.TransportPort

// PushResult is the server's acknowledgement of one pushed change.
type PushResult = ports.PushResult

// DocumentPort is a live shared document for collaborative sessions.
type DocumentPort = ports.DocumentPort

// SharedMap, SharedArray, and SharedText are the document's nested
// shared values.
type SharedMap = ports.SharedMap

type SharedArray = ports.SharedArray

type SharedText = ports.SharedText

// Node kinds for selections.
const (
	NodeJob     = domain.NodeJob
	NodeTrigger = domain.NodeTrigger
	NodeEdge    = domain.NodeEdge
)

// Trigger types.
const (
	TriggerWebhook = domain.TriggerWebhook
	TriggerCron    = domain.TriggerCron
	TriggerKafka   = domain.TriggerKafka
)

// Edge condition types.
const (
	ConditionOnSuccess  = domain.ConditionOnSuccess
	ConditionOnFailure  = domain.ConditionOnFailure
	ConditionAlways     = domain.ConditionAlways
	ConditionExpression = domain.ConditionExpression
)

// Run statuses.
const (
	RunQueued  = domain.RunQueued
	RunStarted = domain.RunStarted
	RunSuccess = domain.RunSuccess
	RunFailed  = domain.RunFailed
	RunCrashed = domain.RunCrashed
)

// Key dispatch decisions.
const (
	KeyClaimed  = ports.KeyClaimed
	KeyDeclined = ports.KeyDeclined
)

// New creates an editor session with default settings. An empty dataDir
// keeps storage in memory.
func New(workflowID, serverURL, dataDir string, logger *slog.Logger) *Editor {
	return core.New(workflowID, serverURL, dataDir, logger)
}

// NewWithConfig creates an editor session from a full configuration.
// Returns nil if the configuration is invalid.
func NewWithConfig(config *Config) *Editor {
	return core.NewWithConfig(config)
}

// NewCollab creates a collaborative session. Attach it to a shared
// document with Connect.
func NewCollab(workflowID string, logger *slog.Logger) *Collab {
	return core.NewCollab(workflowID, logger)
}

// NewBatch groups commands for Editor.Apply so they land as one atomic
// change.
func NewBatch(commands ...Command) Batch {
	return domain.NewBatch(commands...)
}

// UserMessage renders an error as text safe to show in a notification.
// Raw internal detail never leaks through it.
func UserMessage(err error) string {
	return domain.UserMessage(err)
}

// MemoryNavigator is an in-process NavigatorPort for tests and headless
// hosts. Navigate simulates external navigation, firing observers the
// way a browser back button would.
type MemoryNavigator interface {
	NavigatorPort
	Navigate(values url.Values)
}

// MemoryKeyBinder is an in-process KeyBinderPort. Press delivers a key
// event to whatever is bound to its combo.
type MemoryKeyBinder interface {
	KeyBinderPort
	Press(event KeyEvent) bool
	Bound(combo string) bool
}

// NewMemoryNavigator returns a navigator backed by process memory, for
// hosts without an address bar.
func NewMemoryNavigator() MemoryNavigator {
	return memory.NewNavigator()
}

// NewMemoryKeyBinder returns a key binder backed by process memory.
func NewMemoryKeyBinder() MemoryKeyBinder {
	return memory.NewKeyBinder()
}

// NewMemoryDocument returns an in-process shared document, enough for
// single-process collaboration and tests.
func NewMemoryDocument(logger *slog.Logger) DocumentPort {
	return memory.NewDocument(logger)
}

// Setting reads a named setting into its concrete type.
//
//	zoom, ok, err := loom.Setting[float64](editor.Settings(), "zoom")
func Setting[T any](store SettingsPort, name string) (T, bool, error) {
	var value T
	exists, err := store.Get(name, &value)
	return value, exists, err
}
