package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("stream.base_url", cfg.Stream.BaseURL)
	v.SetDefault("stream.retry_attempts", cfg.Stream.RetryAttempts)
	v.SetDefault("stream.flush_interval_ms", cfg.Stream.FlushIntervalMS)
	v.SetDefault("stream.retry_backoff_ms", cfg.Stream.RetryBackoffMS)
	v.SetDefault("stream.retry_backoff_max_ms", cfg.Stream.RetryBackoffMaxMS)
	v.SetDefault("terminal.scrollback_lines", cfg.Terminal.ScrollbackLines)
	v.SetDefault("terminal.copied_notice_ms", cfg.Terminal.CopiedNoticeMS)
	v.SetDefault("terminal.highlight_json", cfg.Terminal.HighlightJSON)
	v.SetDefault("terminal.mouse", cfg.Terminal.Mouse)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.heartbeat_seconds", cfg.HTTP.HeartbeatSeconds)
	v.SetDefault("http.batch_lines", cfg.HTTP.BatchLines)
	v.SetDefault("http.gzip", cfg.HTTP.Gzip)
	v.SetDefault("logs.dir", cfg.Logs.Dir)
	v.SetDefault("logs.poll_interval_ms", cfg.Logs.PollIntervalMS)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateStreamConfig(cfg.Stream); err != nil {
		return Config{}, err
	}
	if err := validateHTTPConfig(cfg.HTTP); err != nil {
		return Config{}, err
	}
	if cfg.Terminal.ScrollbackLines <= 0 {
		return Config{}, fmt.Errorf("terminal.scrollback_lines must be positive")
	}
	return cfg, nil
}

func validateStreamConfig(cfg StreamConfig) error {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("stream.base_url must include scheme and host (e.g. http://127.0.0.1:27490)")
		}
	}
	if cfg.RetryAttempts < 1 {
		return fmt.Errorf("stream.retry_attempts must be at least 1")
	}
	if cfg.FlushIntervalMS <= 0 {
		return fmt.Errorf("stream.flush_interval_ms must be positive")
	}
	if cfg.RetryBackoffMS < 0 || cfg.RetryBackoffMaxMS < 0 {
		return fmt.Errorf("stream.retry_backoff_ms and stream.retry_backoff_max_ms must not be negative")
	}
	if cfg.RetryBackoffMaxMS > 0 && cfg.RetryBackoffMaxMS < cfg.RetryBackoffMS {
		return fmt.Errorf("stream.retry_backoff_max_ms must not be below stream.retry_backoff_ms")
	}
	return nil
}

func validateHTTPConfig(cfg HTTPConfig) error {
	basePath := strings.TrimSpace(cfg.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	if cfg.BatchLines <= 0 {
		return fmt.Errorf("http.batch_lines must be positive")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Stream.BaseURL = expandEnv(cfg.Stream.BaseURL)
	cfg.Logs.Dir = expandHome(expandEnv(cfg.Logs.Dir))
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

func expandHome(value string) string {
	if value != "~" && !strings.HasPrefix(value, "~/") {
		return value
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return value
	}
	return filepath.Join(home, strings.TrimPrefix(value, "~"))
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
