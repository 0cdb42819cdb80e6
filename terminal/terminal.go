// Package terminal renders a log stream as a scrollable terminal view:
// ANSI decoding, bounded scrollback, search, resize, selection copy and a
// transient copied notice.
package terminal

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"pkt.systems/pipetail/internal/clock"
	"pkt.systems/pipetail/internal/eventbus"
	"pkt.systems/pipetail/schema"
	"pkt.systems/pslog"
)

// Config tunes a Terminal.
type Config struct {
	// MaxLines bounds the scrollback; the oldest lines are evicted first.
	MaxLines int
	// CopiedNotice is how long Copied reports true after a selection.
	CopiedNotice time.Duration
	// HighlightJSON colours lines that are bare JSON objects.
	HighlightJSON bool
	Width         int
	Height        int
}

// Deps captures optional dependencies for a Terminal.
type Deps struct {
	Clock     clock.Clock
	Clipboard Clipboard
	Logger    pslog.Logger
	// OnChange is called, without locks held, after anything visible
	// changed.
	OnChange func()
}

// View is a snapshot of what the terminal shows.
type View struct {
	Rows       []string
	FirstLine  int
	TotalLines int
	AtBottom   bool
	// MatchRow is the viewport row holding the current match, or -1.
	MatchRow int
	Match    Match
	HasMatch bool
	Copied   bool
}

// Terminal is a log consumer. Batches may arrive on any goroutine; view
// operations are safe to call concurrently with them.
type Terminal struct {
	cfg       Config
	clock     clock.Clock
	clipboard Clipboard
	log       pslog.Logger
	onChange  func()

	mu          sync.Mutex
	buf         *scrollback
	height      int
	match       Match
	hasMatch    bool
	copied      bool
	copiedGen   uint64
	copiedTimer *clock.Timer

	changes   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// New constructs a Terminal.
func New(cfg Config, deps Deps) *Terminal {
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = schema.DefaultScrollbackLines
	}
	if cfg.CopiedNotice <= 0 {
		cfg.CopiedNotice = schema.DefaultCopiedNotice
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Clipboard == nil {
		deps.Clipboard = discardClipboard{}
	}
	if deps.Logger == nil {
		deps.Logger = pslog.Ctx(context.Background())
	}
	return &Terminal{
		cfg:       cfg,
		clock:     deps.Clock,
		clipboard: deps.Clipboard,
		log:       deps.Logger,
		onChange:  deps.OnChange,
		buf:       newScrollback(cfg.MaxLines, cfg.Width),
		height:    cfg.Height,
		changes:   make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

// Subscribe attaches the terminal to a controller's batch and reset
// channels under key and returns a function detaching both.
func (t *Terminal) Subscribe(key eventbus.Key, batches *eventbus.Channel[[]schema.LogLine], resets *eventbus.Channel[struct{}]) func() {
	_, dropBatches := batches.Subscribe(key, t.OnBatch)
	_, dropResets := resets.Subscribe(key, func(struct{}) { t.OnReset() })
	return func() {
		dropBatches()
		dropResets()
	}
}

// OnBatch decodes and appends lines in order.
func (t *Terminal) OnBatch(lines []schema.LogLine) {
	if len(lines) == 0 {
		return
	}
	entries := make([]entry, 0, len(lines))
	for _, line := range lines {
		entries = append(entries, t.decode(line))
	}
	t.mu.Lock()
	evicted := t.buf.append(entries...)
	if evicted > 0 && t.hasMatch {
		t.match.Line -= evicted
		if t.match.Line < 0 {
			t.hasMatch = false
			t.match = Match{}
		}
	}
	t.mu.Unlock()
	t.changed()
}

func (t *Terminal) decode(line schema.LogLine) entry {
	text := line.Text
	if t.cfg.HighlightJSON {
		text, _ = highlightJSON(text)
	}
	styled, err := decodeLine(text)
	if err != nil {
		t.log.Warn("terminal decode failed", "seq", line.Seq, "err", err)
		return entry{seq: line.Seq, styled: styled, plain: styled}
	}
	return entry{seq: line.Seq, styled: styled, plain: ansi.Strip(styled)}
}

// OnReset clears the scrollback and search state for a restarted stream.
func (t *Terminal) OnReset() {
	t.mu.Lock()
	t.buf.reset()
	t.hasMatch = false
	t.match = Match{}
	t.mu.Unlock()
	t.changed()
}

// Resize rewraps the scrollback for a new viewport, keeping the first
// visible line in place.
func (t *Terminal) Resize(width, height int) {
	t.mu.Lock()
	if width == t.buf.width && height == t.height {
		t.mu.Unlock()
		return
	}
	t.buf.resize(width, t.height, height)
	t.height = height
	t.mu.Unlock()
	t.changed()
}

// ScrollToTop shows the oldest retained lines.
func (t *Terminal) ScrollToTop() {
	t.mu.Lock()
	t.buf.scrollToTop(t.height)
	t.mu.Unlock()
	t.changed()
}

// ScrollToBottom resumes following new output.
func (t *Terminal) ScrollToBottom() {
	t.mu.Lock()
	t.buf.scrollToBottom()
	t.mu.Unlock()
	t.changed()
}

// ScrollBy moves the view by rows. Positive values scroll up toward older
// output, negative values scroll down.
func (t *Terminal) ScrollBy(rows int) {
	t.mu.Lock()
	t.buf.scroll(rows, t.height)
	t.mu.Unlock()
	t.changed()
}

// Search finds the next line containing term, ignoring case and styling,
// and scrolls it to the top of the view. Repeating a search continues past
// the current match; the walk wraps around. An empty term does nothing.
func (t *Terminal) Search(term string, dir Direction) (Match, bool) {
	if strings.TrimSpace(term) == "" {
		return Match{}, false
	}
	needle := strings.ToLower(term)
	t.mu.Lock()
	if len(t.buf.lines) == 0 {
		t.mu.Unlock()
		return Match{}, false
	}
	var start int
	if t.hasMatch && strings.EqualFold(t.match.Term, term) {
		start = t.match.Line + 1
		if dir == Backward {
			start = t.match.Line - 1
		}
	} else {
		first, last := t.buf.visibleLines(t.height)
		start = first
		if dir == Backward {
			start = last
		}
	}
	idx, col, ok := findMatch(t.buf.lines, needle, start, dir)
	if !ok {
		t.mu.Unlock()
		return Match{}, false
	}
	t.match = Match{Line: idx, Seq: t.buf.lines[idx].seq, Column: col, Term: term}
	t.hasMatch = true
	t.buf.scrollToRow(t.matchRowLocked(), t.height)
	match := t.match
	t.mu.Unlock()
	t.changed()
	return match, true
}

// ClearSearch drops the current match.
func (t *Terminal) ClearSearch() {
	t.mu.Lock()
	t.hasMatch = false
	t.match = Match{}
	t.mu.Unlock()
	t.changed()
}

// Select copies the plain text of viewport rows fromRow through toRow to
// the clipboard and raises the copied notice. It reports false when the
// range holds no rows.
func (t *Terminal) Select(fromRow, toRow int) (string, bool) {
	if fromRow > toRow {
		fromRow, toRow = toRow, fromRow
	}
	t.mu.Lock()
	rows, _ := t.buf.window(t.height)
	if fromRow < 0 {
		fromRow = 0
	}
	if toRow >= len(rows) {
		toRow = len(rows) - 1
	}
	if len(rows) == 0 || fromRow > toRow {
		t.mu.Unlock()
		return "", false
	}
	plain := make([]string, 0, toRow-fromRow+1)
	for _, row := range rows[fromRow : toRow+1] {
		plain = append(plain, strings.TrimRight(ansi.Strip(row), " "))
	}
	text := strings.Join(plain, "\n")
	if t.copiedTimer != nil {
		t.copiedTimer.Stop()
	}
	t.copied = true
	t.copiedGen++
	gen := t.copiedGen
	t.copiedTimer = t.clock.AfterFunc(t.cfg.CopiedNotice, func() { t.clearCopied(gen) })
	t.mu.Unlock()

	if err := t.clipboard.Copy(text); err != nil {
		t.log.Warn("terminal clipboard copy failed", "err", err)
	}
	t.changed()
	return text, true
}

// matchRowLocked returns the absolute row holding the current match.
func (t *Terminal) matchRowLocked() int {
	row := t.buf.rowStart(t.match.Line)
	if t.buf.width > 0 && t.match.Line < len(t.buf.lines) {
		if within := t.match.Column / t.buf.width; within < len(t.buf.lines[t.match.Line].rows) {
			row += within
		}
	}
	return row
}

func (t *Terminal) clearCopied(gen uint64) {
	t.mu.Lock()
	if gen != t.copiedGen || !t.copied {
		t.mu.Unlock()
		return
	}
	t.copied = false
	t.copiedTimer = nil
	t.mu.Unlock()
	t.changed()
}

// Copied reports whether the copied notice is showing.
func (t *Terminal) Copied() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copied
}

// View returns the rows currently in the viewport.
func (t *Terminal) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	rows, first := t.buf.window(t.height)
	view := View{
		Rows:       rows,
		FirstLine:  first,
		TotalLines: len(t.buf.lines),
		AtBottom:   t.buf.scrollOffset == 0,
		MatchRow:   -1,
		Match:      t.match,
		HasMatch:   t.hasMatch,
		Copied:     t.copied,
	}
	if t.hasMatch {
		row := t.matchRowLocked() - t.buf.topRow(t.height)
		if row >= 0 && row < len(rows) {
			view.MatchRow = row
		}
	}
	return view
}

// Lines returns the plain text of every retained line.
func (t *Terminal) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.buf.lines))
	for _, e := range t.buf.lines {
		out = append(out, e.plain)
	}
	return out
}

// Changes signals after visible changes. Bursts coalesce into one pending
// signal so producers never wait on the reader.
func (t *Terminal) Changes() <-chan struct{} {
	return t.changes
}

// Done is closed by Close.
func (t *Terminal) Done() <-chan struct{} {
	return t.closed
}

// Notify raises a change signal without altering the view, for state the
// host shows alongside it.
func (t *Terminal) Notify() {
	t.changed()
}

// Close cancels a pending copied-notice timer and closes Done.
func (t *Terminal) Close() {
	t.closeOnce.Do(func() { close(t.closed) })
	t.mu.Lock()
	if t.copiedTimer != nil {
		t.copiedTimer.Stop()
		t.copiedTimer = nil
	}
	t.copied = false
	t.mu.Unlock()
}

func (t *Terminal) changed() {
	select {
	case t.changes <- struct{}{}:
	default:
	}
	if t.onChange != nil {
		t.onChange()
	}
}
