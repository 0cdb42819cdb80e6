// Package sse implements the server-sent events framing used by the job
// log stream, and an HTTP transport that turns a stream into frames.
package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Event is one dispatched server-sent event.
type Event struct {
	ID    string
	Name  string
	Data  string
	Retry int
	// HasData reports whether the event carried a data field, so an empty
	// payload can be told apart from no payload.
	HasData bool
}

// Decoder reads events from an event-stream body.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next blocks until a complete event is read. Comment lines are skipped.
// An event left incomplete when the body ends is discarded and io.EOF (or
// the read error) is returned.
func (d *Decoder) Next() (Event, error) {
	var (
		ev      Event
		data    strings.Builder
		hasData bool
		seen    bool
	)
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			return Event{}, err
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			if !seen {
				continue
			}
			ev.Data = data.String()
			ev.HasData = hasData
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
			seen = true
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
			seen = true
		case "id":
			ev.ID = value
			seen = true
		case "retry":
			if ms, convErr := strconv.Atoi(value); convErr == nil && ms >= 0 {
				ev.Retry = ms
			}
		}
	}
}
