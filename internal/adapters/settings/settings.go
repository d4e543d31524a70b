package settings

import (
	"strings"

	"log/slog"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
	"github.com/eleven-am/loom/internal/xjson"
)

const settingsComponent = "adapters.settings"

func newSettingsError(message string, cause error, opts ...domain.ErrorOption) *domain.DomainError {
	merged := []domain.ErrorOption{domain.WithComponent(settingsComponent)}
	if len(opts) > 0 {
		merged = append(merged, opts...)
	}
	return domain.NewConfigurationError(message, cause, merged...)
}

// Store persists small named JSON documents, panel layout, collapsed
// sections, last selected node and the like. Each store covers one
// scope; deleting a workflow's scope does not touch global settings.
type Store struct {
	storage ports.StoragePort
	logger  *slog.Logger
	key     func(name string) string
	scope   string
}

var _ ports.SettingsPort = (*Store)(nil)

// Global returns the store for editor-wide preferences.
func Global(storage ports.StoragePort, logger *slog.Logger) *Store {
	return newStore(storage, logger, domain.SettingKey, domain.SettingScope())
}

// ForWorkflow returns a store scoped to one workflow.
func ForWorkflow(workflowID string, storage ports.StoragePort, logger *slog.Logger) *Store {
	key := func(name string) string {
		return domain.WorkflowSettingKey(workflowID, name)
	}
	return newStore(storage, logger, key, domain.WorkflowSettingScope(workflowID))
}

func newStore(storage ports.StoragePort, logger *slog.Logger, key func(string) string, scope string) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		storage: storage,
		logger:  logger.With("component", "settings"),
		key:     key,
		scope:   scope,
	}
}

// Get decodes the named setting into out. exists is false when the
// setting was never written, in which case out is left untouched.
func (s *Store) Get(name string, out any) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	value, exists, err := s.storage.Get(s.key(name))
	if err != nil {
		return false, newSettingsError("reading setting failed", err,
			domain.WithContextDetail("setting", name))
	}
	if !exists {
		return false, nil
	}
	if err := xjson.Unmarshal(value, out); err != nil {
		return false, newSettingsError("decoding setting failed", err,
			domain.WithContextDetail("setting", name))
	}
	return true, nil
}

func (s *Store) Set(name string, value any) error {
	if err := validName(name); err != nil {
		return err
	}
	encoded, err := xjson.Marshal(value)
	if err != nil {
		return newSettingsError("encoding setting failed", err,
			domain.WithContextDetail("setting", name))
	}
	if err := s.storage.Put(s.key(name), encoded); err != nil {
		return newSettingsError("writing setting failed", err,
			domain.WithContextDetail("setting", name))
	}
	return nil
}

// Delete removes the named setting. Deleting a setting that does not
// exist is a no-op.
func (s *Store) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := s.storage.Delete(s.key(name)); err != nil {
		return newSettingsError("deleting setting failed", err,
			domain.WithContextDetail("setting", name))
	}
	return nil
}

// Names lists every setting written in this store's scope, in key
// order.
func (s *Store) Names() ([]string, error) {
	entries, err := s.storage.ListByPrefix(s.scope)
	if err != nil {
		return nil, newSettingsError("listing settings failed", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, strings.TrimPrefix(entry.Key, s.scope))
	}
	return names, nil
}

func validName(name string) error {
	if name == "" {
		return newSettingsError("setting name is required", domain.ErrInvalidInput)
	}
	return nil
}
