package memory

import (
	"net/url"
	"sync"

	"github.com/eleven-am/loom/internal/ports"
)

// Navigator is the in-process implementation of ports.NavigatorPort for
// hosts without an address bar. Navigate stands in for the browser's
// back and forward and fires observers; SetQuery is the programmatic
// write and does not.
type Navigator struct {
	mu        sync.Mutex
	values    url.Values
	observers map[uint64]func(url.Values)
	order     []uint64
	nextID    uint64
}

var _ ports.NavigatorPort = (*Navigator)(nil)

func NewNavigator() *Navigator {
	return &Navigator{
		values:    url.Values{},
		observers: make(map[uint64]func(url.Values)),
	}
}

func (n *Navigator) Query() url.Values {
	n.mu.Lock()
	defer n.mu.Unlock()
	return cloneValues(n.values)
}

func (n *Navigator) SetQuery(values url.Values) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.values = cloneValues(values)
}

func (n *Navigator) Observe(fn func(values url.Values)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.observers[id] = fn
	n.order = append(n.order, id)
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.observers, id)
		for i, v := range n.order {
			if v == id {
				n.order = append(n.order[:i], n.order[i+1:]...)
				break
			}
		}
	}
}

// Navigate replaces the query and notifies observers, the way external
// navigation would.
func (n *Navigator) Navigate(values url.Values) {
	n.mu.Lock()
	n.values = cloneValues(values)
	snapshot := cloneValues(n.values)
	fns := make([]func(url.Values), 0, len(n.order))
	for _, id := range n.order {
		if fn, ok := n.observers[id]; ok {
			fns = append(fns, fn)
		}
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(cloneValues(snapshot))
	}
}

func cloneValues(values url.Values) url.Values {
	out := url.Values{}
	for key, vals := range values {
		out[key] = append([]string(nil), vals...)
	}
	return out
}

// KeyBinder is the in-process implementation of ports.KeyBinderPort.
// Press delivers a key activation to whatever is bound, so hosts
// without a native key hook can still drive the dispatcher.
type KeyBinder struct {
	mu    sync.Mutex
	bound map[string]func(ports.KeyEvent)
}

var _ ports.KeyBinderPort = (*KeyBinder)(nil)

func NewKeyBinder() *KeyBinder {
	return &KeyBinder{bound: make(map[string]func(ports.KeyEvent))}
}

func (b *KeyBinder) Bind(combo string, fn func(event ports.KeyEvent)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bound[combo] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.bound, combo)
	}, nil
}

// Press fires the listener bound to event.Combo. Unbound combos are
// dropped, reported by the return value.
func (b *KeyBinder) Press(event ports.KeyEvent) bool {
	b.mu.Lock()
	fn, ok := b.bound[event.Combo]
	b.mu.Unlock()
	if !ok {
		return false
	}
	fn(event)
	return true
}

// Bound reports whether a listener is attached for combo.
func (b *KeyBinder) Bound(combo string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.bound[combo]
	return ok
}
