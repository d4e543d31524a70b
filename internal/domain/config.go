package domain

import (
	"log/slog"
	"time"
)

type Config struct {
	WorkflowID string       `json:"workflow_id" yaml:"workflow_id"`
	SessionID  string       `json:"session_id" yaml:"session_id"`
	DataDir    string       `json:"data_dir" yaml:"data_dir"`
	Logger     *slog.Logger `json:"-" yaml:"-"`

	Transport TransportConfig `json:"transport" yaml:"transport"`
	Outbox    OutboxConfig    `json:"outbox" yaml:"outbox"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
}

type TransportConfig struct {
	ServerURL        string        `json:"server_url" yaml:"server_url"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ReadTimeout      time.Duration `json:"read_timeout" yaml:"read_timeout"`
	PingInterval     time.Duration `json:"ping_interval" yaml:"ping_interval"`
	MaxMessageSizeKB int           `json:"max_message_size_kb" yaml:"max_message_size_kb"`
}

type OutboxConfig struct {
	Journal     bool          `json:"journal" yaml:"journal"`
	StopTimeout time.Duration `json:"stop_timeout" yaml:"stop_timeout"`
}

type StorageConfig struct {
	InMemory bool `json:"in_memory" yaml:"in_memory"`
}
