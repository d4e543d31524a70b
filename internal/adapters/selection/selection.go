package selection

import (
	"net/url"
	"sync"

	"log/slog"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

const selectionComponent = "adapters.selection"

func newSelectionError(message string, cause error, opts ...domain.ErrorOption) *domain.DomainError {
	merged := []domain.ErrorOption{domain.WithComponent(selectionComponent)}
	if len(opts) > 0 {
		merged = append(merged, opts...)
	}
	return domain.NewInternalError(message, cause, merged...)
}

// Query parameter names. SelectNode writes job, trigger and edge; the
// legacy single-key s form is still honored on read so old links keep
// working.
const (
	ParamJob     = "job"
	ParamTrigger = "trigger"
	ParamEdge    = "edge"
	ParamLegacy  = "s"
)

// Sink receives each selection change exactly once.
type Sink func(selection domain.Selection)

// Sync keeps the address bar and selection state pointing at the same
// node. SelectNode writes the URL and publishes; observed navigation
// (back, forward, pasted links) resolves against the current workflow
// and publishes. Resolution never rewrites the URL, so a link opened
// before the workflow has loaded keeps its parameters and resolves
// again on the next navigation.
type Sync struct {
	navigator ports.NavigatorPort
	workflow  func() domain.Workflow
	sink      Sink
	logger    *slog.Logger

	mu        sync.Mutex
	started   bool
	cancel    func()
	last      domain.Selection
	published bool
}

// New builds a selection sync. workflow supplies the state ids are
// resolved against; sink receives every published selection.
func New(navigator ports.NavigatorPort, workflow func() domain.Workflow, sink Sink, logger *slog.Logger) *Sync {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sync{
		navigator: navigator,
		workflow:  workflow,
		sink:      sink,
		logger:    logger.With("component", "selection"),
	}
}

// Start publishes whatever the current URL resolves to and follows
// external navigation from then on.
func (s *Sync) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return newSelectionError("selection sync already started", domain.ErrAlreadyStarted)
	}
	s.started = true
	s.cancel = s.navigator.Observe(s.onNavigate)
	s.mu.Unlock()

	s.publish(s.Resolve(s.navigator.Query()), true)
	return nil
}

// Stop detaches from the navigator. The URL keeps its selection keys;
// stopping only ends observation.
func (s *Sync) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.cancel = nil
	s.published = false
	s.last = domain.Selection{}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Resolve maps query values to a selection against the current
// workflow. The selection keys are mutually exclusive by contract; when
// a malformed URL carries several, the first of job, trigger, edge wins
// and the legacy s key is consulted last. An id that matches nothing
// resolves to an empty selection, never an error.
func (s *Sync) Resolve(values url.Values) domain.Selection {
	w := s.workflow()

	if id := values.Get(ParamJob); id != "" {
		if _, ok := w.FindJob(id); ok {
			return domain.Selection{Kind: domain.NodeJob, ID: id}
		}
		return domain.Selection{}
	}
	if id := values.Get(ParamTrigger); id != "" {
		if _, ok := w.FindTrigger(id); ok {
			return domain.Selection{Kind: domain.NodeTrigger, ID: id}
		}
		return domain.Selection{}
	}
	if id := values.Get(ParamEdge); id != "" {
		if _, ok := w.FindEdge(id); ok {
			return domain.Selection{Kind: domain.NodeEdge, ID: id}
		}
		return domain.Selection{}
	}
	if id := values.Get(ParamLegacy); id != "" {
		return s.classify(id)
	}
	return domain.Selection{}
}

// Current resolves the navigator's present query without publishing.
func (s *Sync) Current() domain.Selection {
	return s.Resolve(s.navigator.Query())
}

// SelectNode classifies id by searching jobs, then triggers, then
// edges, writes the matching query key and clears the other selection
// keys. Unrelated query parameters survive. An empty or unknown id
// clears the whole selection. Before Start this is a no-op so UI code
// racing session setup cannot scribble on the address bar.
func (s *Sync) SelectNode(id string) domain.Selection {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return domain.Selection{}
	}

	sel := s.classify(id)

	values := s.navigator.Query()
	values.Del(ParamJob)
	values.Del(ParamTrigger)
	values.Del(ParamEdge)
	values.Del(ParamLegacy)
	switch sel.Kind {
	case domain.NodeJob:
		values.Set(ParamJob, sel.ID)
	case domain.NodeTrigger:
		values.Set(ParamTrigger, sel.ID)
	case domain.NodeEdge:
		values.Set(ParamEdge, sel.ID)
	}
	s.navigator.SetQuery(values)

	s.publish(sel, false)
	return sel
}

func (s *Sync) onNavigate(values url.Values) {
	s.publish(s.Resolve(values), false)
}

// classify finds which collection id belongs to. Ids are globally
// unique; if that is ever violated the job match wins by search order.
func (s *Sync) classify(id string) domain.Selection {
	if id == "" {
		return domain.Selection{}
	}
	w := s.workflow()
	if _, ok := w.FindJob(id); ok {
		return domain.Selection{Kind: domain.NodeJob, ID: id}
	}
	if _, ok := w.FindTrigger(id); ok {
		return domain.Selection{Kind: domain.NodeTrigger, ID: id}
	}
	if _, ok := w.FindEdge(id); ok {
		return domain.Selection{Kind: domain.NodeEdge, ID: id}
	}
	s.logger.Debug("id matches no node, clearing selection", "id", id)
	return domain.Selection{}
}

// publish hands the selection to the sink unless it matches the last
// one published. force skips the comparison for the initial publish so
// the store starts from whatever the URL says.
func (s *Sync) publish(sel domain.Selection, force bool) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	if !force && s.published && s.last == sel {
		s.mu.Unlock()
		return
	}
	s.last = sel
	s.published = true
	s.mu.Unlock()

	s.sink(sel)
}
