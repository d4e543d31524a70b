package memory

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// Storage keeps the full key space in one map. It backs tests and
// sessions that opt out of a data directory.
type Storage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
	logger *slog.Logger
}

func NewStorage(logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		data:   make(map[string][]byte),
		logger: logger.With("component", "memory_storage"),
	}
}

func newMemoryStorageError(message string, cause error, opts ...domain.ErrorOption) *domain.DomainError {
	opts = append([]domain.ErrorOption{domain.WithComponent("memory_storage")}, opts...)
	return domain.NewStorageError(message, cause, opts...)
}

func (s *Storage) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, newMemoryStorageError("storage is closed", domain.ErrClosed)
	}
	value, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (s *Storage) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newMemoryStorageError("storage is closed", domain.ErrClosed)
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newMemoryStorageError("storage is closed", domain.ErrClosed)
	}
	delete(s.data, key)
	return nil
}

func (s *Storage) BatchWrite(ops []ports.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newMemoryStorageError("storage is closed", domain.ErrClosed)
	}
	for _, op := range ops {
		switch op.Type {
		case ports.OpPut:
			s.data[op.Key] = append([]byte(nil), op.Value...)
		case ports.OpDelete:
			delete(s.data, op.Key)
		default:
			return newMemoryStorageError("unknown batch op", domain.ErrInvalidInput,
				domain.WithContextDetail("op_type", int(op.Type)))
		}
	}
	return nil
}

func (s *Storage) GetNext(prefix string) (string, []byte, bool, error) {
	return s.GetNextAfter(prefix, "")
}

func (s *Storage) GetNextAfter(prefix string, afterKey string) (string, []byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", nil, false, newMemoryStorageError("storage is closed", domain.ErrClosed)
	}
	for _, key := range s.sortedKeysLocked(prefix) {
		if key > afterKey {
			return key, append([]byte(nil), s.data[key]...), true, nil
		}
	}
	return "", nil, false, nil
}

func (s *Storage) CountPrefix(prefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, newMemoryStorageError("storage is closed", domain.ErrClosed)
	}
	count := 0
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			count++
		}
	}
	return count, nil
}

func (s *Storage) ListByPrefix(prefix string) ([]ports.KeyValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, newMemoryStorageError("storage is closed", domain.ErrClosed)
	}
	keys := s.sortedKeysLocked(prefix)
	out := make([]ports.KeyValue, 0, len(keys))
	for _, key := range keys {
		out = append(out, ports.KeyValue{Key: key, Value: append([]byte(nil), s.data[key]...)})
	}
	return out, nil
}

func (s *Storage) DeleteByPrefix(prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, newMemoryStorageError("storage is closed", domain.ErrClosed)
	}
	deleted := 0
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			delete(s.data, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}

func (s *Storage) sortedKeysLocked(prefix string) []string {
	keys := make([]string, 0)
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

var _ ports.StoragePort = (*Storage)(nil)
