package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg != def {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("PIPETAIL_TEST_LOGS", "/srv/jobs")
	path := writeConfig(t, `
config_version: 1
stream:
  base_url: https://ci.example.com
  retry_attempts: 5
  retry_backoff_ms: 200
  retry_backoff_max_ms: 2000
terminal:
  highlight_json: false
http:
  base_path: /relay
logs:
  dir: $PIPETAIL_TEST_LOGS/logs
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stream.BaseURL != "https://ci.example.com" || cfg.Stream.RetryAttempts != 5 {
		t.Fatalf("unexpected stream config %+v", cfg.Stream)
	}
	if cfg.Stream.RetryBackoff() != 200*time.Millisecond || cfg.Stream.RetryBackoffMax() != 2*time.Second {
		t.Fatalf("unexpected backoff %s/%s", cfg.Stream.RetryBackoff(), cfg.Stream.RetryBackoffMax())
	}
	if cfg.Stream.FlushIntervalMS != 1000 {
		t.Fatalf("expected default flush interval to survive, got %d", cfg.Stream.FlushIntervalMS)
	}
	if cfg.Terminal.HighlightJSON || !cfg.Terminal.Mouse {
		t.Fatalf("unexpected terminal config %+v", cfg.Terminal)
	}
	if cfg.HTTP.BasePath != "/relay" || !cfg.HTTP.Gzip {
		t.Fatalf("unexpected http config %+v", cfg.HTTP)
	}
	if cfg.Logs.Dir != "/srv/jobs/logs" {
		t.Fatalf("expected env expansion, got %q", cfg.Logs.Dir)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 3
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
stream:
  retry_attempts: 2
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version is required") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{"stream:\n  base_url: example.com", "stream.base_url"},
		{"stream:\n  retry_attempts: 0", "stream.retry_attempts"},
		{"stream:\n  flush_interval_ms: 0", "stream.flush_interval_ms"},
		{"stream:\n  retry_backoff_ms: 500\n  retry_backoff_max_ms: 100", "stream.retry_backoff_max_ms"},
		{"http:\n  base_path: https://example.com/x", "http.base_path"},
		{"http:\n  batch_lines: 0", "http.batch_lines"},
		{"terminal:\n  scrollback_lines: 0", "terminal.scrollback_lines"},
	}
	for _, tc := range cases {
		path := writeConfig(t, "config_version: 1\n"+tc.body)
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("expected %s error, got %v", tc.want, err)
		}
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if got := expandHome("~/.pipetail/logs"); got != filepath.Join(home, ".pipetail", "logs") {
		t.Fatalf("unexpected expansion %q", got)
	}
	if got := expandHome("/abs/~x"); got != "/abs/~x" {
		t.Fatalf("expected absolute path untouched, got %q", got)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("expected written default to load: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
