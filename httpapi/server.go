package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"pkt.systems/pipetail/internal/clock"
	"pkt.systems/pipetail/internal/logx"
	"pkt.systems/pipetail/internal/sse"
	"pkt.systems/pipetail/schema"
)

// JobSource provides job logs to the relay.
type JobSource interface {
	Exists(id schema.JobID) bool
	Follow(ctx context.Context, id schema.JobID, emit func([]string) error) error
}

// Server relays job logs as server-sent events.
type Server struct {
	cfg      Config
	source   JobSource
	clock    clock.Clock
	basePath string
}

// NewServer constructs a relay server. A nil clock uses the wall clock.
func NewServer(cfg Config, source JobSource, clk clock.Clock) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = schema.DefaultHeartbeat
	}
	if cfg.BatchLines <= 0 {
		cfg.BatchLines = schema.DefaultBatchLines
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Server{
		cfg:      cfg,
		source:   source,
		clock:    clk,
		basePath: normalizeBasePath(cfg.BasePath),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/jobs/{id}/logs/stream", s.handleStream)

	handler := withRequestLogging(mux)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	return root
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := schema.JobID(r.PathValue("id"))
	log := logx.WithJob(r.Context(), jobID)
	if err := schema.ValidateJobID(jobID); err != nil {
		log.Warn("http stream rejected", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.source.Exists(jobID) {
		writeError(w, http.StatusNotFound, schema.ErrJobNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	out := &eventWriter{w: w, flusher: flusher}
	if s.cfg.Gzip && acceptsGzip(r) {
		gz, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
		if err == nil {
			w.Header().Set("Content-Encoding", "gzip")
			w.Header().Add("Vary", "Accept-Encoding")
			out.gz = gz
			defer gz.Close()
		}
	}
	w.WriteHeader(http.StatusOK)

	streamID := uuid.NewString()
	noteStream(r.Context(), jobID, streamID)
	log = log.With("stream_id", streamID)
	ctx := logx.ContextWithJobLogger(r.Context(), log, jobID)

	batches := make(chan []string)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.source.Follow(gctx, jobID, func(lines []string) error {
			select {
			case batches <- lines:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
		if err == nil {
			close(batches)
		}
		return err
	})
	g.Go(func() error {
		return s.relay(gctx, out, jobID, streamID, batches)
	})

	log.Info("http stream opened")
	err := g.Wait()
	switch {
	case err == nil:
		log.Info("http stream complete")
	case errors.Is(err, context.Canceled):
		log.Info("http stream closed")
	default:
		log.Warn("http stream failed", "err", err)
	}
}

// relay writes the start event, log batches and keepalives, and the end
// event once batches is closed.
func (s *Server) relay(ctx context.Context, out *eventWriter, jobID schema.JobID, streamID string, batches <-chan []string) error {
	start, _ := json.Marshal(schema.StartPayload{JobID: jobID, StreamID: streamID})
	if err := out.event(sse.Event{Name: schema.EventStart, Data: string(start)}); err != nil {
		return err
	}
	heartbeat := s.clock.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	var seq uint64
	total := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			if err := out.comment("keepalive"); err != nil {
				return err
			}
		case lines, ok := <-batches:
			if !ok {
				end, _ := json.Marshal(schema.EndPayload{JobID: jobID, Lines: total})
				return out.event(sse.Event{Name: schema.EventEnd, Data: string(end)})
			}
			for len(lines) > 0 {
				n := min(len(lines), s.cfg.BatchLines)
				data, err := sse.EncodeLines(lines[:n])
				if err != nil {
					return err
				}
				seq++
				if err := out.event(sse.Event{ID: strconv.FormatUint(seq, 10), Name: schema.EventLog, Data: data}); err != nil {
					return err
				}
				total += n
				noteLines(ctx, n)
				lines = lines[n:]
			}
		}
	}
}

// eventWriter writes event-stream framing, optionally gzip compressed, and
// flushes after every event.
type eventWriter struct {
	w       http.ResponseWriter
	gz      *gzip.Writer
	flusher http.Flusher
}

func (e *eventWriter) event(ev sse.Event) error {
	if err := sse.WriteEvent(e.dest(), ev); err != nil {
		return err
	}
	return e.flush()
}

func (e *eventWriter) comment(text string) error {
	if err := sse.WriteComment(e.dest(), text); err != nil {
		return err
	}
	return e.flush()
}

func (e *eventWriter) dest() io.Writer {
	if e.gz != nil {
		return e.gz
	}
	return e.w
}

func (e *eventWriter) flush() error {
	if e.gz != nil {
		if err := e.gz.Flush(); err != nil {
			return err
		}
	}
	e.flusher.Flush()
	return nil
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(name), "gzip") {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
