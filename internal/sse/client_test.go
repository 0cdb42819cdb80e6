package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"pkt.systems/pipetail/schema"
)

func TestClientMapsEventsToFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("expected event-stream accept header, got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: start\ndata: {}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "id: 1\nevent: log\ndata: {\"lines\":[\"a\",\"b\"]}\n\n")
		fmt.Fprint(w, "event: progress\ndata: 50\n\n")
		fmt.Fprint(w, "data: {\"lines\":[\n\n")
		fmt.Fprint(w, "event: log\n\n")
		fmt.Fprint(w, "event: log\ndata:\n\n")
		fmt.Fprint(w, "event: end\ndata: {}\n\n")
	}))
	defer srv.Close()

	stream, err := NewClient(nil, nil).Open(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()

	ctx := context.Background()
	expectKind := func(kind schema.FrameKind) schema.Frame {
		t.Helper()
		frame, err := stream.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if frame.Kind != kind {
			t.Fatalf("expected %v frame, got %+v", kind, frame)
		}
		return frame
	}
	expectKind(schema.FrameStart)
	if frame := expectKind(schema.FrameData); !slices.Equal(frame.Lines, []string{"a", "b"}) || frame.ID != "1" {
		t.Fatalf("unexpected data frame %+v", frame)
	}
	if frame := expectKind(schema.FrameData); !slices.Equal(frame.Lines, []string{`{"lines":[`}) {
		t.Fatalf("expected raw line for broken payload, got %+v", frame)
	}
	if frame := expectKind(schema.FrameData); !slices.Equal(frame.Lines, []string{""}) {
		t.Fatalf("expected a blank line for an empty data field, got %+v", frame)
	}
	expectKind(schema.FrameEnd)
	if _, err := stream.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after body ends, got %v", err)
	}
}

func TestClientRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(nil, nil).Open(context.Background(), srv.URL)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
}

func TestClientRejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "{}")
	}))
	defer srv.Close()

	if _, err := NewClient(nil, nil).Open(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected content type error")
	}
}

func TestClientCloseUnblocksNext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := NewClient(nil, nil).Open(ctx, srv.URL)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := stream.Next(ctx)
		done <- err
	}()
	cancel()
	_ = stream.Close()
	if err := <-done; err == nil {
		t.Fatalf("expected error after close")
	}
}
