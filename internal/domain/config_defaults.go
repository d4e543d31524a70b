package domain

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
)

func DefaultConfig() *Config {
	return &Config{
		Transport: DefaultTransportConfig(),
		Outbox:    DefaultOutboxConfig(),
		Storage:   DefaultStorageConfig(),
	}
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     25 * time.Second,
		MaxMessageSizeKB: 512,
	}
}

func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		Journal:     true,
		StopTimeout: 5 * time.Second,
	}
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		InMemory: true,
	}
}

func NewConfigFromSimple(workflowID, serverURL, dataDir string, logger *slog.Logger) *Config {
	config := DefaultConfig()
	config.WorkflowID = workflowID
	config.SessionID = uuid.New().String()
	config.DataDir = dataDir
	config.Transport.ServerURL = serverURL
	config.Logger = logger
	config.Storage.InMemory = dataDir == ""

	if logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return config
}

func (c *Config) WithSessionID(sessionID string) *Config {
	c.SessionID = sessionID
	return c
}

func (c *Config) WithTransportTimeouts(handshake, write, read time.Duration) *Config {
	c.Transport.HandshakeTimeout = handshake
	c.Transport.WriteTimeout = write
	c.Transport.ReadTimeout = read
	return c
}

func (c *Config) WithPingInterval(interval time.Duration) *Config {
	c.Transport.PingInterval = interval
	return c
}

func (c *Config) WithJournal(enabled bool) *Config {
	c.Outbox.Journal = enabled
	return c
}

func (c *Config) WithInMemoryStorage() *Config {
	c.Storage.InMemory = true
	return c
}

func (c *Config) Validate() error {
	if c.WorkflowID == "" {
		return NewConfigError("workflow_id", ErrInvalidInput)
	}
	if c.SessionID == "" {
		return NewConfigError("session_id", ErrInvalidInput)
	}
	if c.Logger == nil {
		return NewConfigError("logger", ErrInvalidInput)
	}
	if c.Transport.ServerURL == "" {
		return NewConfigError("transport.server_url", ErrInvalidInput)
	}
	if u, err := url.Parse(c.Transport.ServerURL); err != nil {
		return NewConfigError("transport.server_url", err)
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		return NewConfigError("transport.server_url", fmt.Errorf("scheme %q is not a websocket scheme", u.Scheme))
	}
	if c.Transport.MaxMessageSizeKB <= 0 {
		return NewConfigError("transport.max_message_size_kb", ErrInvalidInput)
	}
	if c.Transport.PingInterval > 0 && c.Transport.ReadTimeout > 0 && c.Transport.PingInterval >= c.Transport.ReadTimeout {
		return NewConfigError("transport.ping_interval", fmt.Errorf("ping interval %s must be shorter than read timeout %s", c.Transport.PingInterval, c.Transport.ReadTimeout))
	}
	if !c.Storage.InMemory && c.DataDir == "" {
		return NewConfigError("data_dir", ErrInvalidInput)
	}
	if c.Outbox.StopTimeout <= 0 {
		return NewConfigError("outbox.stop_timeout", ErrInvalidInput)
	}
	return nil
}

type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{
		Field: field,
		Err:   err,
	}
}
