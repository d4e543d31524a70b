package keyboard

import (
	"sort"
	"sync"

	"log/slog"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

const keyboardComponent = "adapters.keyboard"

func newKeyboardError(message string, cause error, opts ...domain.ErrorOption) *domain.DomainError {
	merged := []domain.ErrorOption{domain.WithComponent(keyboardComponent)}
	if len(opts) > 0 {
		merged = append(merged, opts...)
	}
	return domain.NewInternalError(message, cause, merged...)
}

// Options shape one registration. Enabled is consulted at dispatch
// time, so a registrant can mute itself without re-registering; nil
// means always enabled. PreventDefault and StopPropagation are applied
// to the host event only when this registration claims it.
type Options struct {
	Priority        int
	Enabled         func() bool
	PreventDefault  bool
	StopPropagation bool
}

type registration struct {
	seq     uint64
	handler ports.KeyHandler
	opts    Options
}

type comboState struct {
	cancel func()
	regs   []*registration
}

// Dispatcher routes key activations from the host binder to registered
// handlers. It holds exactly one underlying binding per distinct combo
// no matter how many registrants share it. Handlers run in priority
// order, most recently registered first on ties, which favors the UI
// surface opened last. A handler either claims the event and ends the
// chain or declines and lets the next one try. A panicking handler is
// logged and treated as having declined.
type Dispatcher struct {
	binder ports.KeyBinderPort
	logger *slog.Logger

	mu      sync.Mutex
	nextSeq uint64
	combos  map[string]*comboState
}

func New(binder ports.KeyBinderPort, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		binder: binder,
		logger: logger.With("component", "keyboard"),
		combos: make(map[string]*comboState),
	}
}

// Register adds a handler for combo and returns its unregister func.
// The first registration for a combo binds the host listener; removing
// the last one tears it down. Unregister is idempotent.
func (d *Dispatcher) Register(combo string, handler ports.KeyHandler, opts Options) (func(), error) {
	if combo == "" {
		return nil, newKeyboardError("key combo is required", domain.ErrInvalidInput)
	}
	if handler == nil {
		return nil, newKeyboardError("key handler is required", domain.ErrInvalidInput)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.combos[combo]
	if !ok {
		cancel, err := d.binder.Bind(combo, func(event ports.KeyEvent) {
			d.dispatch(combo, event)
		})
		if err != nil {
			return nil, newKeyboardError("binding key combo failed", err,
				domain.WithContextDetail("combo", combo))
		}
		state = &comboState{cancel: cancel}
		d.combos[combo] = state
	}

	d.nextSeq++
	reg := &registration{seq: d.nextSeq, handler: handler, opts: opts}
	state.regs = append(state.regs, reg)

	return func() { d.unregister(combo, reg) }, nil
}

// Handlers reports how many registrations a combo currently has.
func (d *Dispatcher) Handlers(combo string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if state, ok := d.combos[combo]; ok {
		return len(state.regs)
	}
	return 0
}

func (d *Dispatcher) unregister(combo string, reg *registration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.combos[combo]
	if !ok {
		return
	}
	for i, candidate := range state.regs {
		if candidate == reg {
			state.regs = append(state.regs[:i], state.regs[i+1:]...)
			break
		}
	}
	if len(state.regs) == 0 {
		delete(d.combos, combo)
		if state.cancel != nil {
			state.cancel()
		}
	}
}

func (d *Dispatcher) dispatch(combo string, event ports.KeyEvent) {
	d.mu.Lock()
	state, ok := d.combos[combo]
	if !ok {
		d.mu.Unlock()
		return
	}
	regs := append([]*registration(nil), state.regs...)
	d.mu.Unlock()

	// Enabled funcs and handlers are registrant code, so both run
	// outside the lock and may register or unregister freely.
	active := regs[:0]
	for _, reg := range regs {
		if reg.opts.Enabled == nil || reg.opts.Enabled() {
			active = append(active, reg)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].opts.Priority != active[j].opts.Priority {
			return active[i].opts.Priority > active[j].opts.Priority
		}
		return active[i].seq > active[j].seq
	})

	for _, reg := range active {
		if d.run(combo, reg, event) == ports.KeyDeclined {
			continue
		}
		if reg.opts.PreventDefault && event.PreventDefault != nil {
			event.PreventDefault()
		}
		if reg.opts.StopPropagation && event.StopPropagation != nil {
			event.StopPropagation()
		}
		return
	}
}

// run isolates one handler so a panic cannot abort the chain for the
// other registrants.
func (d *Dispatcher) run(combo string, reg *registration, event ports.KeyEvent) (decision ports.KeyDecision) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("key handler panicked", "combo", combo, "panic", r)
			decision = ports.KeyDeclined
		}
	}()
	return reg.handler(event)
}
