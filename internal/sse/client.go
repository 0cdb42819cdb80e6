package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"

	"pkt.systems/pipetail/core"
	"pkt.systems/pipetail/internal/logx"
	"pkt.systems/pipetail/schema"
	"pkt.systems/pslog"
)

// StatusError reports a non-200 response to a stream request.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream request failed: %s", e.Status)
}

// Client opens event streams over HTTP. It implements core.Transport.
type Client struct {
	http   *http.Client
	header http.Header
}

// NewClient constructs a Client. A nil httpClient uses a client without a
// request timeout, since streams are long lived.
func NewClient(httpClient *http.Client, header http.Header) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0}
	}
	return &Client{http: httpClient, header: header.Clone()}
}

// Open issues the stream request. The connection is bound to ctx.
func (c *Client) Open(ctx context.Context, url string) (core.Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	for key, values := range c.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mediaType != "text/event-stream" {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected stream content type %q", resp.Header.Get("Content-Type"))
	}
	log := logx.WithStream(ctx, url)
	log.Debug("sse stream open", "status", resp.StatusCode)
	return &stream{body: resp.Body, dec: NewDecoder(resp.Body), log: log}, nil
}

type stream struct {
	body      io.ReadCloser
	dec       *Decoder
	log       pslog.Logger
	closeOnce sync.Once
	closeErr  error
}

// Next decodes events until one maps to a frame. Unknown event names are
// skipped; undecodable payloads become raw lines.
func (s *stream) Next(ctx context.Context) (schema.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return schema.Frame{}, err
		}
		ev, err := s.dec.Next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return schema.Frame{}, ctxErr
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			return schema.Frame{}, err
		}
		switch ev.Name {
		case schema.EventStart:
			return schema.Frame{Kind: schema.FrameStart, ID: ev.ID}, nil
		case schema.EventEnd:
			return schema.Frame{Kind: schema.FrameEnd, ID: ev.ID}, nil
		case "", schema.EventLog, schema.EventMessage:
			if !ev.HasData {
				continue
			}
			lines, err := DecodeLines(ev.Data)
			if err != nil {
				s.log.Warn("sse payload decode failed", "id", ev.ID, "err", err)
			}
			return schema.Frame{Kind: schema.FrameData, ID: ev.ID, Lines: lines}, nil
		default:
			s.log.Debug("sse event ignored", "event", ev.Name)
		}
	}
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
