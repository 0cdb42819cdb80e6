package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/pipetail/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	Stream        StreamConfig   `mapstructure:"stream" yaml:"stream"`
	Terminal      TerminalConfig `mapstructure:"terminal" yaml:"terminal"`
	HTTP          HTTPConfig     `mapstructure:"http" yaml:"http"`
	Logs          LogsConfig     `mapstructure:"logs" yaml:"logs"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// StreamConfig controls how the tail client connects and paces delivery.
type StreamConfig struct {
	BaseURL           string `mapstructure:"base_url" yaml:"base_url"`
	RetryAttempts     int    `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	FlushIntervalMS   int    `mapstructure:"flush_interval_ms" yaml:"flush_interval_ms"`
	RetryBackoffMS    int    `mapstructure:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	RetryBackoffMaxMS int    `mapstructure:"retry_backoff_max_ms" yaml:"retry_backoff_max_ms"`
}

// FlushInterval returns the flush period.
func (c StreamConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// RetryBackoff returns the base reconnect delay; zero reconnects at once.
func (c StreamConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// RetryBackoffMax returns the reconnect delay cap.
func (c StreamConfig) RetryBackoffMax() time.Duration {
	return time.Duration(c.RetryBackoffMaxMS) * time.Millisecond
}

// TerminalConfig controls the terminal consumer.
type TerminalConfig struct {
	ScrollbackLines int  `mapstructure:"scrollback_lines" yaml:"scrollback_lines"`
	CopiedNoticeMS  int  `mapstructure:"copied_notice_ms" yaml:"copied_notice_ms"`
	HighlightJSON   bool `mapstructure:"highlight_json" yaml:"highlight_json"`
	Mouse           bool `mapstructure:"mouse" yaml:"mouse"`
}

// CopiedNotice returns how long the copied notice stays visible.
func (c TerminalConfig) CopiedNotice() time.Duration {
	return time.Duration(c.CopiedNoticeMS) * time.Millisecond
}

// HTTPConfig configures the relay server.
type HTTPConfig struct {
	Addr             string `mapstructure:"addr" yaml:"addr"`
	BasePath         string `mapstructure:"base_path" yaml:"base_path"`
	HeartbeatSeconds int    `mapstructure:"heartbeat_seconds" yaml:"heartbeat_seconds"`
	BatchLines       int    `mapstructure:"batch_lines" yaml:"batch_lines"`
	Gzip             bool   `mapstructure:"gzip" yaml:"gzip"`
}

// Heartbeat returns the keepalive interval.
func (c HTTPConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// LogsConfig locates the job logs the relay serves.
type LogsConfig struct {
	Dir            string `mapstructure:"dir" yaml:"dir"`
	PollIntervalMS int    `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// PollInterval returns the follower's fallback poll period.
func (c LogsConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Stream: StreamConfig{
			BaseURL:           "http://127.0.0.1:27490",
			RetryAttempts:     schema.DefaultRetryAttempts,
			FlushIntervalMS:   int(schema.DefaultFlushInterval / time.Millisecond),
			RetryBackoffMS:    0,
			RetryBackoffMaxMS: 0,
		},
		Terminal: TerminalConfig{
			ScrollbackLines: schema.DefaultScrollbackLines,
			CopiedNoticeMS:  int(schema.DefaultCopiedNotice / time.Millisecond),
			HighlightJSON:   true,
			Mouse:           true,
		},
		HTTP: HTTPConfig{
			Addr:             ":27490",
			BasePath:         "",
			HeartbeatSeconds: int(schema.DefaultHeartbeat / time.Second),
			BatchLines:       schema.DefaultBatchLines,
			Gzip:             true,
		},
		Logs: LogsConfig{
			Dir:            filepath.Join(home, ".pipetail", "logs"),
			PollIntervalMS: int(schema.DefaultPollInterval / time.Millisecond),
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pipetail", "config.yaml"), nil
}
