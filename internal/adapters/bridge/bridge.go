package bridge

import (
	"sync"

	"log/slog"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

const bridgeComponent = "adapters.bridge"

func newBridgeError(message string, cause error, opts ...domain.ErrorOption) *domain.DomainError {
	merged := []domain.ErrorOption{domain.WithComponent(bridgeComponent)}
	if len(opts) > 0 {
		merged = append(merged, opts...)
	}
	return domain.NewDocumentError(message, cause, merged...)
}

// Sink receives a workflow updater whenever an observed collection
// changes. The updater is pure; the receiver applies it to current
// state and stores the result.
type Sink func(update func(domain.Workflow) domain.Workflow)

type ConnState uint8

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Bridge mirrors a shared document into workflow state and applies local
// edits back to the document. Each observer re-serializes its whole
// collection, so remote deltas of any shape land as one consistent
// snapshot. Command methods are safe no-ops while disconnected; the
// document converges on its own, the bridge never assumes local writes
// win over concurrent remote ones.
type Bridge struct {
	sink   Sink
	logger *slog.Logger

	mu    sync.Mutex
	state ConnState
	h     handles
}

// handles snapshots the document roots wired at connect time. Commands
// and observers work off the snapshot, never off the bridge fields, so a
// concurrent Disconnect cannot pull the roots out from under them.
type handles struct {
	doc       ports.DocumentPort
	workflow  ports.SharedMap
	jobs      ports.SharedArray
	triggers  ports.SharedArray
	edges     ports.SharedArray
	positions ports.SharedMap
	cancels   []func()
}

func New(sink Sink, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		sink:   sink,
		logger: logger.With("component", "bridge"),
	}
}

// Connect wires observers onto the document's shared roots and publishes
// an initial snapshot of every collection. A bridge can be reconnected
// to a different document after Disconnect, which is how opening another
// workflow swaps the underlying session.
func (b *Bridge) Connect(doc ports.DocumentPort) error {
	b.mu.Lock()
	if b.state != Disconnected {
		b.mu.Unlock()
		return newBridgeError("bridge already connected", domain.ErrAlreadyConnected)
	}
	b.state = Connecting

	h := handles{
		doc:       doc,
		workflow:  doc.GetMap("workflow"),
		jobs:      doc.GetArray("jobs"),
		triggers:  doc.GetArray("triggers"),
		edges:     doc.GetArray("edges"),
		positions: doc.GetMap("positions"),
	}
	h.cancels = []func(){
		h.workflow.Observe(func() { b.publishMeta(h.workflow) }),
		h.jobs.Observe(func() { b.publishJobs(h.jobs) }),
		h.triggers.Observe(func() { b.publishTriggers(h.triggers) }),
		h.edges.Observe(func() { b.publishEdges(h.edges) }),
		h.positions.Observe(func() { b.publishPositions(h.positions) }),
	}

	b.h = h
	b.state = Connected
	b.mu.Unlock()

	b.logger.Debug("bridge connected")

	// The initial snapshots publish outside the lock so a subscriber
	// reacting to them can call back into the bridge.
	b.publishMeta(h.workflow)
	b.publishJobs(h.jobs)
	b.publishTriggers(h.triggers)
	b.publishEdges(h.edges)
	b.publishPositions(h.positions)

	return nil
}

// Disconnect releases every observer and drops the document reference.
// Calling it on a disconnected bridge is a no-op.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	cancels := b.h.cancels
	wasConnected := b.state != Disconnected
	b.h = handles{}
	b.state = Disconnected
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if wasConnected {
		b.logger.Debug("bridge disconnected")
	}
}

func (b *Bridge) State() ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) Connected() bool {
	return b.State() == Connected
}

func (b *Bridge) handles() (handles, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Connected {
		return handles{}, false
	}
	return b.h, true
}

// Seed writes a full workflow into the document in one transaction.
// Callers use it to initialize a fresh document before peers join.
func (b *Bridge) Seed(w domain.Workflow) error {
	h, ok := b.handles()
	if !ok {
		return newBridgeError("bridge is not connected", domain.ErrNotConnected)
	}

	w = w.Normalized()
	return h.doc.Transact(func() error {
		h.workflow.Set("id", w.ID)
		h.workflow.Set("name", w.Name)
		h.workflow.Set("lock_version", w.LockVersion)
		for _, job := range w.Jobs {
			h.jobs.Push(newJobMap(h.doc, job))
		}
		for _, trigger := range w.Triggers {
			h.triggers.Push(newTriggerMap(h.doc, trigger))
		}
		for _, edge := range w.Edges {
			h.edges.Push(newEdgeMap(h.doc, edge))
		}
		for id, pos := range w.Positions {
			setPosition(h, id, pos)
		}
		return nil
	})
}

func (b *Bridge) AddJob(job domain.Job, position *domain.Position) error {
	h, ok := b.handles()
	if !ok {
		return nil
	}
	if job.ID == "" || job.Name == "" {
		return newBridgeError("invalid job: id and name are required", domain.ErrInvalidInput)
	}

	return h.doc.Transact(func() error {
		h.jobs.Push(newJobMap(h.doc, job))
		if position != nil {
			setPosition(h, job.ID, *position)
		}
		return nil
	})
}

// UpdateJob sets each changed field directly on the job's shared map.
// Distinct fields never conflict across collaborators; same-field races
// resolve by the document's own merge order.
func (b *Bridge) UpdateJob(id string, update domain.JobUpdate) error {
	h, ok := b.handles()
	if !ok {
		return nil
	}

	return h.doc.Transact(func() error {
		m, found := findByID(h.jobs, id)
		if !found {
			return newBridgeError("job not found: "+id, domain.ErrNotFound)
		}
		if update.Name != nil {
			m.Set("name", *update.Name)
		}
		if update.Adaptor != nil {
			m.Set("adaptor", *update.Adaptor)
		}
		if update.Enabled != nil {
			m.Set("enabled", *update.Enabled)
		}
		if update.Body != nil {
			setBody(h.doc, m, *update.Body)
		}
		if v := update.ProjectCredentialID; v != nil {
			if *v == "" {
				m.Delete("project_credential_id")
			} else {
				m.Set("project_credential_id", *v)
				m.Delete("keychain_credential_id")
			}
		}
		if v := update.KeychainCredentialID; v != nil {
			if *v == "" {
				m.Delete("keychain_credential_id")
			} else {
				m.Set("keychain_credential_id", *v)
				m.Delete("project_credential_id")
			}
		}
		return nil
	})
}

func (b *Bridge) UpdateJobBody(id string, body string) error {
	return b.UpdateJob(id, domain.JobUpdate{Body: &body})
}

func (b *Bridge) RemoveJob(id string) error {
	h, ok := b.handles()
	if !ok {
		return nil
	}

	return h.doc.Transact(func() error {
		// Concurrent deletes shift indices, so the index is resolved
		// right before the delete rather than cached.
		if i := indexOfID(h.jobs, id); i >= 0 {
			h.jobs.Delete(i, 1)
		}
		h.positions.Delete(id)
		return nil
	})
}

func (b *Bridge) AddTrigger(trigger domain.Trigger, position *domain.Position) error {
	h, ok := b.handles()
	if !ok {
		return nil
	}
	if trigger.ID == "" {
		return newBridgeError("invalid trigger: id is required", domain.ErrInvalidInput)
	}

	return h.doc.Transact(func() error {
		h.triggers.Push(newTriggerMap(h.doc, trigger))
		if position != nil {
			setPosition(h, trigger.ID, *position)
		}
		return nil
	})
}

func (b *Bridge) UpdateTrigger(id string, update domain.TriggerUpdate) error {
	h, ok := b.handles()
	if !ok {
		return nil
	}

	return h.doc.Transact(func() error {
		m, found := findByID(h.triggers, id)
		if !found {
			return newBridgeError("trigger not found: "+id, domain.ErrNotFound)
		}
		if update.Type != nil {
			m.Set("type", string(*update.Type))
		}
		if update.Enabled != nil {
			m.Set("enabled", *update.Enabled)
		}
		if update.CronExpression != nil {
			m.Set("cron_expression", *update.CronExpression)
		}
		if update.HasAuthMethod != nil {
			m.Set("has_auth_method", *update.HasAuthMethod)
		}
		return nil
	})
}

func (b *Bridge) RemoveTrigger(id string) error {
	h, ok := b.handles()
	if !ok {
		return nil
	}

	return h.doc.Transact(func() error {
		if i := indexOfID(h.triggers, id); i >= 0 {
			h.triggers.Delete(i, 1)
		}
		h.positions.Delete(id)
		return nil
	})
}

func (b *Bridge) AddEdge(edge domain.Edge) error {
	h, ok := b.handles()
	if !ok {
		return nil
	}
	if edge.ID == "" {
		return newBridgeError("invalid edge: id is required", domain.ErrInvalidInput)
	}
	hasJobSource := edge.SourceJobID != nil && *edge.SourceJobID != ""
	hasTriggerSource := edge.SourceTriggerID != nil && *edge.SourceTriggerID != ""
	if hasJobSource == hasTriggerSource {
		return newBridgeError("invalid edge: exactly one source endpoint is required", domain.ErrInvalidInput)
	}
	if edge.TargetJobID == "" {
		return newBridgeError("invalid edge: target job is required", domain.ErrInvalidInput)
	}

	return h.doc.Transact(func() error {
		h.edges.Push(newEdgeMap(h.doc, edge))
		return nil
	})
}

func (b *Bridge) UpdateEdge(id string, update domain.EdgeUpdate) error {
	h, ok := b.handles()
	if !ok {
		return nil
	}

	return h.doc.Transact(func() error {
		m, found := findByID(h.edges, id)
		if !found {
			return newBridgeError("edge not found: "+id, domain.ErrNotFound)
		}
		if update.ConditionType != nil {
			m.Set("condition_type", string(*update.ConditionType))
		}
		if update.ConditionExpression != nil {
			m.Set("condition_expression", *update.ConditionExpression)
		}
		if update.Enabled != nil {
			m.Set("enabled", *update.Enabled)
		}
		return nil
	})
}

func (b *Bridge) RemoveEdge(id string) error {
	h, ok := b.handles()
	if !ok {
		return nil
	}

	return h.doc.Transact(func() error {
		if i := indexOfID(h.edges, id); i >= 0 {
			h.edges.Delete(i, 1)
		}
		return nil
	})
}

func (b *Bridge) MoveNode(id string, position domain.Position) error {
	h, ok := b.handles()
	if !ok {
		return nil
	}

	return h.doc.Transact(func() error {
		setPosition(h, id, position)
		return nil
	})
}

func (b *Bridge) RenameWorkflow(name string) error {
	h, ok := b.handles()
	if !ok {
		return nil
	}
	if name == "" {
		return newBridgeError("invalid workflow: name is required", domain.ErrInvalidInput)
	}

	return h.doc.Transact(func() error {
		h.workflow.Set("name", name)
		return nil
	})
}

// JobBodyText returns the live shared text backing a job's body, for
// editor widgets that bind to it directly. The handle stays valid until
// the job is removed; callers must not cache string snapshots of it.
func (b *Bridge) JobBodyText(id string) (ports.SharedText, bool) {
	h, ok := b.handles()
	if !ok {
		return nil, false
	}
	m, found := findByID(h.jobs, id)
	if !found {
		return nil, false
	}
	v, ok := m.Get("body")
	if !ok {
		return nil, false
	}
	text, ok := v.(ports.SharedText)
	return text, ok
}

func (b *Bridge) publishMeta(m ports.SharedMap) {
	id := stringAt(m, "id")
	name := stringAt(m, "name")
	lock := intAt(m, "lock_version")
	b.sink(func(w domain.Workflow) domain.Workflow {
		w.ID = id
		w.Name = name
		w.LockVersion = lock
		return w
	})
}

func (b *Bridge) publishJobs(arr ports.SharedArray) {
	jobs := decodeJobs(arr)
	b.sink(func(w domain.Workflow) domain.Workflow {
		w.Jobs = jobs
		return w
	})
}

func (b *Bridge) publishTriggers(arr ports.SharedArray) {
	triggers := decodeTriggers(arr)
	b.sink(func(w domain.Workflow) domain.Workflow {
		w.Triggers = triggers
		return w
	})
}

func (b *Bridge) publishEdges(arr ports.SharedArray) {
	edges := decodeEdges(arr)
	b.sink(func(w domain.Workflow) domain.Workflow {
		w.Edges = edges
		return w
	})
}

func (b *Bridge) publishPositions(m ports.SharedMap) {
	positions := decodePositions(m)
	b.sink(func(w domain.Workflow) domain.Workflow {
		w.Positions = positions
		return w
	})
}
