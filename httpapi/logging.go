package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"pkt.systems/pipetail/schema"
	"pkt.systems/pslog"
)

type responseRecorder struct {
	status int
	bytes  int64
	writer http.ResponseWriter
}

func (r *responseRecorder) Header() http.Header {
	return r.writer.Header()
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.writer.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.writer.Write(p)
	r.bytes += int64(n)
	return n, err
}

func (r *responseRecorder) Flush() {
	if f, ok := r.writer.(http.Flusher); ok {
		f.Flush()
	}
}

// streamNote collects what a stream handler relayed so the access log line
// can report it. Handlers reach it through the request context.
type streamNote struct {
	mu       sync.Mutex
	job      schema.JobID
	streamID string
	lines    int
}

type streamNoteKey struct{}

func noteStream(ctx context.Context, job schema.JobID, streamID string) {
	if note, ok := ctx.Value(streamNoteKey{}).(*streamNote); ok {
		note.mu.Lock()
		note.job, note.streamID = job, streamID
		note.mu.Unlock()
	}
}

func noteLines(ctx context.Context, n int) {
	if note, ok := ctx.Value(streamNoteKey{}).(*streamNote); ok {
		note.mu.Lock()
		note.lines += n
		note.mu.Unlock()
	}
}

func (n *streamNote) fields() []any {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.job == "" {
		return nil
	}
	return []any{"job", string(n.job), "stream_id", n.streamID, "lines", n.lines}
}

func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		note := &streamNote{}
		rec := &responseRecorder{writer: w}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), streamNoteKey{}, note)))
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		logger := pslog.Ctx(r.Context()).With("remote", clientIP(r))
		fields := []any{"method", r.Method, "path", r.URL.Path, "status", status, "bytes", rec.bytes, "duration_ms", time.Since(start).Milliseconds()}
		fields = append(fields, note.fields()...)
		switch {
		case status >= http.StatusInternalServerError:
			logger.Warn("http request", fields...)
		case strings.HasSuffix(r.URL.Path, "/healthz"):
			logger.Debug("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	return r.RemoteAddr
}
