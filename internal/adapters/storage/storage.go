package storage

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"log/slog"

	"github.com/dgraph-io/badger/v3"
	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

const storageComponent = "adapters.storage"

func newStorageError(message string, cause error, opts ...domain.ErrorOption) *domain.DomainError {
	merged := []domain.ErrorOption{domain.WithComponent(storageComponent)}
	if len(opts) > 0 {
		merged = append(merged, opts...)
	}
	return domain.NewStorageError(message, cause, merged...)
}

// Config captures where the database lives. InMemory skips the disk
// entirely, which is what short-lived sessions and tests use.
type Config struct {
	DataDir  string
	InMemory bool
}

// Storage is the durable StoragePort implementation on badger. Keys are
// plain strings and values opaque bytes; the ordered scans lean on
// badger's sorted key space.
type Storage struct {
	db     *badger.DB
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DataDir == "" {
			return nil, newStorageError("data directory is required", nil)
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, newStorageError(
				"failed to create data directory",
				err,
				domain.WithContextDetail("data_dir", cfg.DataDir),
			)
		}
		opts = badger.DefaultOptions(cfg.DataDir)
	}

	opts.Logger = &badgerAdapter{logger: logger.With("component", "storage.badger")}
	opts.MemTableSize = 16 << 20
	opts.NumMemtables = 2
	opts.NumLevelZeroTables = 2
	opts.NumLevelZeroTablesStall = 4
	opts.BlockCacheSize = 8 << 20
	opts.IndexCacheSize = 8 << 20
	opts.ValueLogFileSize = 16 << 20

	db, err := badger.Open(opts)
	if err != nil {
		return nil, newStorageError(
			"failed to open database",
			err,
			domain.WithContextDetail("data_dir", cfg.DataDir),
		)
	}

	return &Storage{
		db:     db,
		logger: logger.With("component", "storage"),
	}, nil
}

func (s *Storage) Get(key string) (value []byte, exists bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		exists = true
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, s.mapErr("get failed", err, domain.WithContextDetail("key", key))
	}
	return value, exists, nil
}

func (s *Storage) Put(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return s.mapErr("put failed", err, domain.WithContextDetail("key", key))
	}
	return nil
}

func (s *Storage) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return s.mapErr("delete failed", err, domain.WithContextDetail("key", key))
	}
	return nil
}

// BatchWrite applies all operations in one transaction, so either every
// op lands or none do.
func (s *Storage) BatchWrite(ops []ports.WriteOp) error {
	for _, op := range ops {
		if op.Type != ports.OpPut && op.Type != ports.OpDelete {
			return newStorageError(
				"unknown batch op",
				domain.ErrInvalidInput,
				domain.WithContextDetail("op_type", int(op.Type)),
			)
		}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			switch op.Type {
			case ports.OpPut:
				if err := txn.Set([]byte(op.Key), op.Value); err != nil {
					return err
				}
			case ports.OpDelete:
				if err := txn.Delete([]byte(op.Key)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return s.mapErr("batch write failed", err, domain.WithContextDetail("ops", len(ops)))
	}
	return nil
}

func (s *Storage) GetNext(prefix string) (key string, value []byte, exists bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		if !it.Valid() {
			return nil
		}

		item := it.Item()
		key = string(item.Key())
		exists = true
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return "", nil, false, s.mapErr("scan failed", err, domain.WithContextDetail("prefix", prefix))
	}
	return key, value, exists, nil
}

// GetNextAfter returns the first key strictly greater than afterKey.
// The seeked key is only skipped when it is afterKey itself, so a key
// deleted between calls does not swallow its successor.
func (s *Storage) GetNextAfter(prefix string, afterKey string) (key string, value []byte, exists bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek([]byte(afterKey))
		if it.Valid() && string(it.Item().Key()) == afterKey {
			it.Next()
		}
		if !it.Valid() {
			return nil
		}

		item := it.Item()
		key = string(item.Key())
		exists = true
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return "", nil, false, s.mapErr("scan failed", err, domain.WithContextDetail("prefix", prefix))
	}
	return key, value, exists, nil
}

func (s *Storage) CountPrefix(prefix string) (count int, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		opts.PrefetchSize = 1
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, s.mapErr("count failed", err, domain.WithContextDetail("prefix", prefix))
	}
	return count, nil
}

func (s *Storage) ListByPrefix(prefix string) ([]ports.KeyValue, error) {
	var results []ports.KeyValue

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			results = append(results, ports.KeyValue{
				Key:   string(item.Key()),
				Value: value,
			})
		}
		return nil
	})
	if err != nil {
		return nil, s.mapErr("list failed", err, domain.WithContextDetail("prefix", prefix))
	}
	return results, nil
}

func (s *Storage) DeleteByPrefix(prefix string) (deletedCount int, err error) {
	var keys [][]byte

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		opts.PrefetchSize = 1
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, s.mapErr("scan failed", err, domain.WithContextDetail("prefix", prefix))
	}
	if len(keys) == 0 {
		return 0, nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, s.mapErr("delete failed", err, domain.WithContextDetail("prefix", prefix))
	}
	return len(keys), nil
}

func (s *Storage) Close() error {
	if err := s.db.Close(); err != nil && !errors.Is(err, badger.ErrDBClosed) {
		return newStorageError("failed to close database", err)
	}
	return nil
}

func (s *Storage) mapErr(message string, err error, opts ...domain.ErrorOption) error {
	if isClosedErr(err) {
		return newStorageError("storage is closed", domain.ErrClosed)
	}
	return newStorageError(message, err, opts...)
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, badger.ErrDBClosed) ||
		strings.Contains(err.Error(), "DB Closed")
}

type badgerAdapter struct {
	logger *slog.Logger
}

func (b *badgerAdapter) Errorf(format string, args ...interface{}) {
	b.logger.Error(fmt.Sprintf(format, args...))
}

func (b *badgerAdapter) Warningf(format string, args ...interface{}) {
	b.logger.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerAdapter) Infof(format string, args ...interface{}) {
}

func (b *badgerAdapter) Debugf(format string, args ...interface{}) {
}

var _ ports.StoragePort = (*Storage)(nil)
