package store

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/eleven-am/loom/internal/domain"
)

// Store holds one immutable state value and fans every committed update
// out to its subscribers synchronously, in subscription order. Updates
// are serialized; listeners run outside the lock, so a listener may read
// the store or commit a follow-up update.
type Store[S any] struct {
	mu        sync.RWMutex
	state     S
	listeners map[uint64]func(S)
	order     []uint64
	nextID    uint64
	logger    *slog.Logger
}

func New[S any](initial S, logger *slog.Logger) *Store[S] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store[S]{
		state:     initial,
		listeners: make(map[uint64]func(S)),
		logger:    logger.With("component", "store"),
	}
}

func (s *Store[S]) Get() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Set commits the update's result as the new state and returns it after
// every subscriber has been notified.
func (s *Store[S]) Set(update func(S) S) S {
	s.mu.Lock()
	next := update(s.state)
	s.state = next
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	s.notify(listeners, next)
	return next
}

func (s *Store[S]) Replace(state S) {
	s.Set(func(S) S { return state })
}

func (s *Store[S]) Subscribe(listener func(S)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.order = append(s.order, id)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

func (s *Store[S]) snapshotListeners() []func(S) {
	out := make([]func(S), 0, len(s.order))
	for _, id := range s.order {
		if fn, ok := s.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (s *Store[S]) notify(listeners []func(S), state S) {
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("subscriber panicked",
						"error", domain.NewPanicError("store", r))
				}
			}()
			fn(state)
		}()
	}
}

// Watch subscribes through a selector: the listener fires only when the
// selected value changes under the given equality, never on the initial
// subscription.
func Watch[S, T any](st *Store[S], selector func(S) T, equal func(a, b T) bool, listener func(T)) func() {
	var mu sync.Mutex
	last := selector(st.Get())

	return st.Subscribe(func(state S) {
		next := selector(state)
		mu.Lock()
		changed := !equal(last, next)
		if changed {
			last = next
		}
		mu.Unlock()
		if changed {
			listener(next)
		}
	})
}

func Eq[T comparable]() func(a, b T) bool {
	return func(a, b T) bool { return a == b }
}

// DeepEq compares with reflect.DeepEqual, for selected values carrying
// slices or maps.
func DeepEq[T any]() func(a, b T) bool {
	return func(a, b T) bool { return reflect.DeepEqual(a, b) }
}
