package terminal

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"pkt.systems/pipetail/internal/eventbus"
	"pkt.systems/pipetail/schema"
)

// Writer is a line-oriented consumer that copies the stream to an
// io.Writer. Styling is stripped when the destination has no colour
// support.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	strip   bool
	written int
	err     error
}

// NewWriter returns a Writer for w, detecting colour support from the
// environment.
func NewWriter(w io.Writer) *Writer {
	profile := termenv.NewOutput(w).EnvColorProfile()
	return &Writer{w: w, strip: profile == termenv.Ascii}
}

// Subscribe attaches the writer to a controller's channels under key.
func (w *Writer) Subscribe(key eventbus.Key, batches *eventbus.Channel[[]schema.LogLine], resets *eventbus.Channel[struct{}]) func() {
	_, dropBatches := batches.Subscribe(key, w.OnBatch)
	_, dropResets := resets.Subscribe(key, func(struct{}) { w.OnReset() })
	return func() {
		dropBatches()
		dropResets()
	}
}

// OnBatch writes each line followed by a newline.
func (w *Writer) OnBatch(lines []schema.LogLine) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	for _, line := range lines {
		text := line.Text
		if w.strip {
			text = ansi.Strip(text)
		}
		if _, err := fmt.Fprintln(w.w, text); err != nil {
			w.err = err
			return
		}
		w.written++
	}
}

// OnReset marks a restarted stream once something has been written.
func (w *Writer) OnReset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil || w.written == 0 {
		return
	}
	if _, err := fmt.Fprintln(w.w, "--- stream restarted ---"); err != nil {
		w.err = err
	}
}

// Written returns the number of lines written.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Err returns the first write error.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
