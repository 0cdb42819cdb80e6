package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/pipetail/httpapi"
	"pkt.systems/pipetail/internal/appconfig"
	"pkt.systems/pipetail/internal/logsource"
	"pkt.systems/pipetail/schema"
	"pkt.systems/pslog"
)

func quietContext(t *testing.T) context.Context {
	t.Helper()
	logger := pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return pslog.ContextWithLogger(ctx, logger)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(quietContext(t))
	return out.String(), err
}

func defaultConfig(t *testing.T) appconfig.Config {
	t.Helper()
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	return cfg
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"tail": false, "serve": false, "config": false, "version": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("expected %s subcommand", name)
		}
	}
}

func TestTailRequiresTarget(t *testing.T) {
	if _, err := execute(t, "tail"); err == nil {
		t.Fatalf("expected missing target error")
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := execute(t, "config", "init", "-c", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	if _, err := execute(t, "config", "init", "-c", path); err == nil {
		t.Fatalf("expected init without --force to fail")
	}
	if _, err := execute(t, "config", "init", "-c", path, "--force"); err != nil {
		t.Fatalf("config init --force: %v", err)
	}
	out, err := execute(t, "config", "show", "-c", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "base_url: http://127.0.0.1:27490") || !strings.Contains(out, "config_version: 1") {
		t.Fatalf("unexpected config output:\n%s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "pipetail") {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestVersionFormats(t *testing.T) {
	out, err := execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	var info struct {
		Module    string `json:"module"`
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
	}
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if info.Module == "" || info.Version == "" || !strings.HasPrefix(info.GoVersion, "go") {
		t.Fatalf("unexpected version info %+v", info)
	}
	short, err := execute(t, "version", "--short")
	if err != nil {
		t.Fatalf("version --short: %v", err)
	}
	if strings.TrimSpace(short) != info.Version {
		t.Fatalf("expected short version %q, got %q", info.Version, short)
	}
	if _, err := execute(t, "version", "--short", "--json"); err == nil {
		t.Fatalf("expected --short and --json to conflict")
	}
}

func TestExitCode(t *testing.T) {
	ctx := quietContext(t)
	if code := exitCode(ctx, nil); code != 0 {
		t.Fatalf("expected 0, got %d", code)
	}
	if code := exitCode(ctx, fmt.Errorf("job-1: %w", schema.ErrRetryExhausted)); code != 1 {
		t.Fatalf("expected 1 for unavailable logs, got %d", code)
	}
	if code := exitCode(ctx, errors.New("boom")); code != 1 {
		t.Fatalf("expected 1, got %d", code)
	}
}

func TestVerboseFlagInstallsDebugLogger(t *testing.T) {
	var stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(&stderr)
	root.SetArgs([]string{"-v", "version"})
	if err := root.ExecuteContext(quietContext(t)); err != nil {
		t.Fatalf("version -v: %v", err)
	}
	for _, cmd := range root.Commands() {
		if cmd.Name() != "version" {
			continue
		}
		pslog.Ctx(cmd.Context()).Debug("verbose check line")
	}
	if !strings.Contains(stderr.String(), "verbose check line") {
		t.Fatalf("expected debug output on stderr, got %q", stderr.String())
	}
}

func TestSessionConfigMapping(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Stream.RetryAttempts = 7
	cfg.Stream.RetryBackoffMS = 250
	got := sessionConfig(cfg)
	if got.BaseURL != cfg.Stream.BaseURL || got.Controller.RetryAttempts != 7 {
		t.Fatalf("unexpected session config %+v", got)
	}
	if got.Controller.FlushInterval != time.Second || got.Controller.RetryBackoff != 250*time.Millisecond {
		t.Fatalf("unexpected durations %+v", got.Controller)
	}
	srv := serverConfig(cfg)
	if srv.HTTP.Heartbeat != 15*time.Second || srv.LogDir != cfg.Logs.Dir || !srv.HTTP.Gzip {
		t.Fatalf("unexpected server config %+v", srv)
	}
}

func TestRunPlainStreamsJob(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	dir := logsource.NewDir(t.TempDir(), logsource.Options{PollInterval: 10 * time.Millisecond})
	relay := httptest.NewServer(httpapi.NewServer(httpapi.Config{Gzip: true}, dir, nil).Handler())
	defer relay.Close()
	if err := os.WriteFile(dir.LogPath("job-1"), []byte("one\n\x1b[1mtwo\x1b[0m\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := os.WriteFile(dir.DonePath("job-1"), nil, 0o644); err != nil {
		t.Fatalf("write done: %v", err)
	}

	cfg := defaultConfig(t)
	cfg.Stream.BaseURL = relay.URL
	var out bytes.Buffer
	if err := runPlain(quietContext(t), cfg, "job-1", &out); err != nil {
		t.Fatalf("run plain: %v", err)
	}
	if out.String() != "one\ntwo\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunPlainReportsUnavailableLogs(t *testing.T) {
	relay := httptest.NewServer(http.NotFoundHandler())
	defer relay.Close()

	cfg := defaultConfig(t)
	cfg.Stream.BaseURL = relay.URL
	var out bytes.Buffer
	err := runPlain(quietContext(t), cfg, "job-2", &out)
	if !errors.Is(err, schema.ErrRetryExhausted) {
		t.Fatalf("expected logs not available, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}
}
