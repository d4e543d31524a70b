package loom

import (
	"log/slog"

	"github.com/eleven-am/loom/internal/domain"
)

// Config is the full session configuration. Build one with
// DefaultConfig or NewConfig and adjust it through its With methods.
type Config = domain.Config

// TransportConfig tunes the websocket connection.
type TransportConfig = domain.TransportConfig

// OutboxConfig tunes pending-change delivery and journaling.
type OutboxConfig = domain.OutboxConfig

// StorageConfig decides where session state lives.
type StorageConfig = domain.StorageConfig

// DefaultConfig returns a configuration with sensible defaults and no
// identity; set WorkflowID and the server URL before use.
func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

// NewConfig builds a validated-ready configuration from the common
// settings. An empty dataDir keeps storage in memory.
func NewConfig(workflowID, serverURL, dataDir string, logger *slog.Logger) *Config {
	return domain.NewConfigFromSimple(workflowID, serverURL, dataDir, logger)
}
