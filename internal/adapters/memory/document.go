package memory

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// Document is the in-process implementation of ports.DocumentPort. One
// lock guards the whole tree. Observers queue while a transaction is
// open and fire once, deepest container first, after the outermost
// level commits; a mutation outside any transaction commits by itself.
type Document struct {
	mu           sync.RWMutex
	roots        map[string]any
	depth        int
	pending      map[uint64]func()
	pendingOrder []uint64
	nextObserver uint64
	closed       bool
	logger       *slog.Logger
}

func NewDocument(logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{
		roots:   make(map[string]any),
		pending: make(map[uint64]func()),
		logger:  logger.With("component", "memory_document"),
	}
}

func (d *Document) GetMap(name string) ports.SharedMap {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.roots[name]; ok {
		m, ok := existing.(*Map)
		if !ok {
			panic(fmt.Sprintf("shared root %q already defined with a different type", name))
		}
		return m
	}
	m := newMap(d)
	d.roots[name] = m
	return m
}

func (d *Document) GetArray(name string) ports.SharedArray {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.roots[name]; ok {
		a, ok := existing.(*Array)
		if !ok {
			panic(fmt.Sprintf("shared root %q already defined with a different type", name))
		}
		return a
	}
	a := newArray(d)
	d.roots[name] = a
	return a
}

func (d *Document) NewMap() ports.SharedMap {
	return newMap(d)
}

func (d *Document) NewText(initial string) ports.SharedText {
	t := newText(d)
	t.runes = []rune(initial)
	return t
}

// Transact batches mutations into one observer round. Mutations are not
// rolled back on error, so observers fire either way.
func (d *Document) Transact(fn func() error) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return newDocumentError("document is closed", domain.ErrClosed)
	}
	d.depth++
	d.mu.Unlock()

	err := fn()

	d.mu.Lock()
	d.depth--
	observers := d.drainLocked()
	d.mu.Unlock()

	d.fire(observers)
	return err
}

func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.pending = make(map[uint64]func())
	d.pendingOrder = nil
	return nil
}

// mutate runs one write as its own transaction when none is open.
func (d *Document) mutate(apply func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	apply()
	observers := d.drainLocked()
	d.mu.Unlock()
	d.fire(observers)
}

func (d *Document) drainLocked() []func() {
	if d.depth != 0 || len(d.pendingOrder) == 0 {
		return nil
	}
	out := make([]func(), 0, len(d.pendingOrder))
	for _, id := range d.pendingOrder {
		if fn, ok := d.pending[id]; ok {
			out = append(out, fn)
		}
	}
	d.pending = make(map[uint64]func())
	d.pendingOrder = nil
	return out
}

func (d *Document) fire(observers []func()) {
	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("document observer panicked",
						"error", domain.NewPanicError("memory_document", r))
				}
			}()
			fn()
		}()
	}
}

type node struct {
	doc       *Document
	parent    *node
	observers map[uint64]func()
	order     []uint64
}

func (n *node) Observe(fn func()) func() {
	d := n.doc
	d.mu.Lock()
	id := d.nextObserver
	d.nextObserver++
	if n.observers == nil {
		n.observers = make(map[uint64]func())
	}
	n.observers[id] = fn
	n.order = append(n.order, id)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(n.observers, id)
		for i, v := range n.order {
			if v == id {
				n.order = append(n.order[:i], n.order[i+1:]...)
				break
			}
		}
	}
}

// markChanged queues the observers of this node and every ancestor.
// Caller holds the document lock.
func (n *node) markChanged() {
	for cur := n; cur != nil; cur = cur.parent {
		for _, id := range cur.order {
			if _, queued := cur.doc.pending[id]; queued {
				continue
			}
			cur.doc.pending[id] = cur.observers[id]
			cur.doc.pendingOrder = append(cur.doc.pendingOrder, id)
		}
	}
}

type Map struct {
	node
	entries map[string]any
	keys    []string
}

func newMap(d *Document) *Map {
	return &Map{node: node{doc: d}, entries: make(map[string]any)}
}

func (m *Map) Get(key string) (any, bool) {
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *Map) Set(key string, value any) {
	m.doc.mutate(func() {
		if old, ok := m.entries[key]; ok {
			releaseChild(old)
		} else {
			m.keys = append(m.keys, key)
		}
		adoptChild(value, &m.node)
		m.entries[key] = value
		m.markChanged()
	})
}

func (m *Map) Delete(key string) {
	m.doc.mutate(func() {
		old, ok := m.entries[key]
		if !ok {
			return
		}
		releaseChild(old)
		delete(m.entries, key)
		for i, k := range m.keys {
			if k == key {
				m.keys = append(m.keys[:i], m.keys[i+1:]...)
				break
			}
		}
		m.markChanged()
	})
}

func (m *Map) Keys() []string {
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()
	return append([]string(nil), m.keys...)
}

func (m *Map) Len() int {
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()
	return len(m.entries)
}

func (m *Map) ToJSON() map[string]any {
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()
	return m.jsonLocked()
}

func (m *Map) jsonLocked() map[string]any {
	out := make(map[string]any, len(m.entries))
	for k, v := range m.entries {
		out[k] = jsonValue(v)
	}
	return out
}

type Array struct {
	node
	items []any
}

func newArray(d *Document) *Array {
	return &Array{node: node{doc: d}}
}

func (a *Array) Len() int {
	a.doc.mu.RLock()
	defer a.doc.mu.RUnlock()
	return len(a.items)
}

func (a *Array) Get(index int) (any, bool) {
	a.doc.mu.RLock()
	defer a.doc.mu.RUnlock()
	if index < 0 || index >= len(a.items) {
		return nil, false
	}
	return a.items[index], true
}

func (a *Array) Push(values ...any) {
	if len(values) == 0 {
		return
	}
	a.doc.mutate(func() {
		for _, v := range values {
			adoptChild(v, &a.node)
		}
		a.items = append(a.items, values...)
		a.markChanged()
	})
}

func (a *Array) Insert(index int, values ...any) {
	if len(values) == 0 {
		return
	}
	a.doc.mutate(func() {
		index = clamp(index, 0, len(a.items))
		for _, v := range values {
			adoptChild(v, &a.node)
		}
		out := make([]any, 0, len(a.items)+len(values))
		out = append(out, a.items[:index]...)
		out = append(out, values...)
		out = append(out, a.items[index:]...)
		a.items = out
		a.markChanged()
	})
}

func (a *Array) Delete(index int, count int) {
	a.doc.mutate(func() {
		index = clamp(index, 0, len(a.items))
		end := clamp(index+count, index, len(a.items))
		if end == index {
			return
		}
		for _, v := range a.items[index:end] {
			releaseChild(v)
		}
		a.items = append(a.items[:index], a.items[end:]...)
		a.markChanged()
	})
}

func (a *Array) ToJSON() []any {
	a.doc.mu.RLock()
	defer a.doc.mu.RUnlock()
	return a.jsonLocked()
}

func (a *Array) jsonLocked() []any {
	out := make([]any, 0, len(a.items))
	for _, v := range a.items {
		out = append(out, jsonValue(v))
	}
	return out
}

// Text indexes by rune; out-of-range indexes clamp to the current
// length.
type Text struct {
	node
	runes []rune
}

func newText(d *Document) *Text {
	return &Text{node: node{doc: d}}
}

func (t *Text) Len() int {
	t.doc.mu.RLock()
	defer t.doc.mu.RUnlock()
	return len(t.runes)
}

func (t *Text) String() string {
	t.doc.mu.RLock()
	defer t.doc.mu.RUnlock()
	return string(t.runes)
}

func (t *Text) Insert(index int, text string) {
	if text == "" {
		return
	}
	t.doc.mutate(func() {
		index = clamp(index, 0, len(t.runes))
		insert := []rune(text)
		out := make([]rune, 0, len(t.runes)+len(insert))
		out = append(out, t.runes[:index]...)
		out = append(out, insert...)
		out = append(out, t.runes[index:]...)
		t.runes = out
		t.markChanged()
	})
}

func (t *Text) Delete(index int, count int) {
	t.doc.mutate(func() {
		index = clamp(index, 0, len(t.runes))
		end := clamp(index+count, index, len(t.runes))
		if end == index {
			return
		}
		t.runes = append(t.runes[:index], t.runes[end:]...)
		t.markChanged()
	})
}

func jsonValue(v any) any {
	switch n := v.(type) {
	case *Map:
		return n.jsonLocked()
	case *Array:
		return n.jsonLocked()
	case *Text:
		return string(n.runes)
	default:
		return v
	}
}

func adoptChild(v any, parent *node) {
	switch n := v.(type) {
	case *Map:
		n.parent = parent
	case *Array:
		n.parent = parent
	case *Text:
		n.parent = parent
	}
}

func releaseChild(v any) {
	switch n := v.(type) {
	case *Map:
		n.parent = nil
	case *Array:
		n.parent = nil
	case *Text:
		n.parent = nil
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func newDocumentError(message string, cause error, opts ...domain.ErrorOption) *domain.DomainError {
	opts = append([]domain.ErrorOption{domain.WithComponent("memory_document")}, opts...)
	return domain.NewDocumentError(message, cause, opts...)
}

var _ ports.DocumentPort = (*Document)(nil)
