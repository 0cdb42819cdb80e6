package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"pkt.systems/pipetail/internal/logsource"
	"pkt.systems/pslog"
)

func captureLogger(buf *bytes.Buffer) pslog.Logger {
	return pslog.NewWithOptions(buf, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func accessEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if _, ok := entry["status"]; ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func TestRequestLogCarriesStreamFields(t *testing.T) {
	dir := logsource.NewDir(t.TempDir(), logsource.Options{PollInterval: 10 * time.Millisecond})
	if err := os.WriteFile(dir.LogPath("build-3"), []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := os.WriteFile(dir.DonePath("build-3"), nil, 0o644); err != nil {
		t.Fatalf("write done: %v", err)
	}
	handler := NewServer(Config{}, dir, nil).Handler()

	var buf bytes.Buffer
	ctx := pslog.ContextWithLogger(context.Background(), captureLogger(&buf))
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/build-3/logs/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	entries := accessEntries(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected one access log entry, got %d: %s", len(entries), buf.String())
	}
	entry := entries[0]
	if entry["job"] != "build-3" || entry["lines"] != float64(3) {
		t.Fatalf("expected job and line count, got %+v", entry)
	}
	if id, _ := entry["stream_id"].(string); id == "" {
		t.Fatalf("expected stream id, got %+v", entry)
	}
}

func TestRequestLogQuietForHealthz(t *testing.T) {
	handler := NewServer(Config{}, logsource.NewDir(t.TempDir(), logsource.Options{}), nil).Handler()

	var buf bytes.Buffer
	ctx := pslog.ContextWithLogger(context.Background(), captureLogger(&buf))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil).WithContext(ctx)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if entries := accessEntries(t, &buf); len(entries) != 0 {
		t.Fatalf("expected healthz below info, got %v", entries)
	}

	buf.Reset()
	req = httptest.NewRequest(http.MethodGet, "/api/jobs/missing/logs/stream", nil).WithContext(ctx)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	entries := accessEntries(t, &buf)
	if len(entries) != 1 || entries[0]["status"] != float64(http.StatusNotFound) {
		t.Fatalf("expected one 404 entry, got %v", entries)
	}
	if _, ok := entries[0]["job"]; ok {
		t.Fatalf("expected no stream fields on a rejected request, got %+v", entries[0])
	}
}
