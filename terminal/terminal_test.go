package terminal

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"pkt.systems/pipetail/internal/clock"
	"pkt.systems/pipetail/internal/eventbus"
	"pkt.systems/pipetail/schema"
)

type recordingClipboard struct {
	mu     sync.Mutex
	copies []string
}

func (c *recordingClipboard) Copy(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.copies = append(c.copies, text)
	return nil
}

func (c *recordingClipboard) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.copies) == 0 {
		return ""
	}
	return c.copies[len(c.copies)-1]
}

func batch(texts ...string) []schema.LogLine {
	out := make([]schema.LogLine, 0, len(texts))
	for i, text := range texts {
		out = append(out, schema.LogLine{Seq: uint64(i + 1), Text: text})
	}
	return out
}

func newTestTerminal(cfg Config) (*Terminal, *clock.Fake, *recordingClipboard) {
	clk := clock.NewFake(time.Unix(0, 0))
	clip := &recordingClipboard{}
	term := New(cfg, Deps{Clock: clk, Clipboard: clip})
	return term, clk, clip
}

func TestTerminalAppendsAndStripsStyle(t *testing.T) {
	term, _, _ := newTestTerminal(Config{Height: 5})
	term.OnBatch(batch("\x1b[32mok\x1b[0m", "plain\x1b[2K"))
	if got := term.Lines(); !slices.Equal(got, []string{"ok", "plain"}) {
		t.Fatalf("unexpected lines %v", got)
	}
	view := term.View()
	if !view.AtBottom || view.TotalLines != 2 || len(view.Rows) != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestTerminalKeepsInvalidUTF8Raw(t *testing.T) {
	term, _, _ := newTestTerminal(Config{Height: 5})
	term.OnBatch(batch("bad \xff"))
	if got := term.Lines(); len(got) != 1 || got[0] != "bad \xff" {
		t.Fatalf("expected raw line kept, got %q", got)
	}
}

func TestTerminalResetClearsState(t *testing.T) {
	term, _, _ := newTestTerminal(Config{Height: 5})
	term.OnBatch(batch("alpha", "beta"))
	if _, ok := term.Search("beta", Forward); !ok {
		t.Fatalf("expected match")
	}
	term.OnReset()
	view := term.View()
	if view.TotalLines != 0 || view.HasMatch || len(view.Rows) != 0 {
		t.Fatalf("expected empty view after reset, got %+v", view)
	}
}

func TestTerminalSearchWrapsAndIgnoresCase(t *testing.T) {
	term, _, _ := newTestTerminal(Config{Height: 2})
	term.OnBatch(batch("alpha", "Beta", "gamma", "beta two"))

	match, ok := term.Search("BETA", Forward)
	if !ok || match.Line != 3 || match.Seq != 4 {
		t.Fatalf("expected first match on visible line 3, got %+v ok=%v", match, ok)
	}
	match, ok = term.Search("BETA", Forward)
	if !ok || match.Line != 1 {
		t.Fatalf("expected wrapped match on line 1, got %+v ok=%v", match, ok)
	}
	view := term.View()
	if view.Rows[0] != "Beta" || view.MatchRow != 0 {
		t.Fatalf("expected match scrolled to top, got rows %v match row %d", view.Rows, view.MatchRow)
	}
	if view.AtBottom {
		t.Fatalf("expected view to leave the bottom")
	}
	match, ok = term.Search("BETA", Backward)
	if !ok || match.Line != 3 {
		t.Fatalf("expected backward wrap to line 3, got %+v ok=%v", match, ok)
	}
}

func TestTerminalSearchNoop(t *testing.T) {
	term, _, _ := newTestTerminal(Config{Height: 2})
	if _, ok := term.Search("x", Forward); ok {
		t.Fatalf("expected no match on empty scrollback")
	}
	term.OnBatch(batch("one", "two", "three"))
	before := term.View()
	if _, ok := term.Search("   ", Forward); ok {
		t.Fatalf("expected blank term to do nothing")
	}
	if _, ok := term.Search("missing", Forward); ok {
		t.Fatalf("expected no match")
	}
	after := term.View()
	if !slices.Equal(before.Rows, after.Rows) || after.HasMatch {
		t.Fatalf("expected view unchanged, got %+v", after)
	}
}

func TestTerminalEvictionShiftsMatch(t *testing.T) {
	term, _, _ := newTestTerminal(Config{Height: 3, MaxLines: 3})
	term.OnBatch(batch("a", "b", "c"))
	if match, ok := term.Search("b", Forward); !ok || match.Line != 1 {
		t.Fatalf("expected match on line 1, got %+v", match)
	}
	term.OnBatch([]schema.LogLine{{Seq: 4, Text: "d"}})
	view := term.View()
	if !view.HasMatch || view.Match.Line != 0 || view.Match.Seq != 2 {
		t.Fatalf("expected match shifted to line 0, got %+v", view.Match)
	}
	term.OnBatch([]schema.LogLine{{Seq: 5, Text: "e"}})
	if view := term.View(); view.HasMatch {
		t.Fatalf("expected evicted match to be dropped, got %+v", view.Match)
	}
	if got := term.Lines(); !slices.Equal(got, []string{"c", "d", "e"}) {
		t.Fatalf("unexpected lines %v", got)
	}
}

func TestTerminalResizeKeepsPosition(t *testing.T) {
	term, _, _ := newTestTerminal(Config{Height: 3})
	lines := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	term.OnBatch(batch(lines...))
	term.ScrollToTop()
	if view := term.View(); view.Rows[0] != "line 0" {
		t.Fatalf("expected top view, got %v", view.Rows)
	}
	term.ScrollBy(-2)
	if view := term.View(); view.Rows[0] != "line 2" {
		t.Fatalf("expected line 2 at top, got %v", view.Rows)
	}
	term.Resize(4, 3)
	view := term.View()
	if view.FirstLine != 2 || view.Rows[0] != "line" {
		t.Fatalf("expected line 2 to stay on top after rewrap, got %v (first %d)", view.Rows, view.FirstLine)
	}
	term.ScrollToBottom()
	if view := term.View(); !view.AtBottom {
		t.Fatalf("expected to follow again")
	}
}

func TestTerminalSelectCopiesAndClearsNotice(t *testing.T) {
	term, clk, clip := newTestTerminal(Config{Height: 5, CopiedNotice: 2 * time.Second})
	term.OnBatch(batch("\x1b[31mfirst\x1b[0m", "second", "third"))

	text, ok := term.Select(1, 0)
	if !ok || text != "first\nsecond" {
		t.Fatalf("unexpected selection %q ok=%v", text, ok)
	}
	if clip.last() != "first\nsecond" {
		t.Fatalf("expected clipboard to receive selection, got %q", clip.last())
	}
	if !term.Copied() {
		t.Fatalf("expected copied notice")
	}
	clk.Advance(1999 * time.Millisecond)
	if !term.Copied() {
		t.Fatalf("expected copied notice before timeout")
	}
	clk.Advance(time.Millisecond)
	if term.Copied() {
		t.Fatalf("expected copied notice cleared")
	}
}

func TestTerminalReselectRestartsNotice(t *testing.T) {
	term, clk, _ := newTestTerminal(Config{Height: 5, CopiedNotice: 2 * time.Second})
	term.OnBatch(batch("one", "two"))
	term.Select(0, 0)
	clk.Advance(time.Second)
	term.Select(1, 1)
	clk.Advance(1500 * time.Millisecond)
	if !term.Copied() {
		t.Fatalf("expected second selection to keep the notice")
	}
	clk.Advance(500 * time.Millisecond)
	if term.Copied() {
		t.Fatalf("expected notice cleared after second timeout")
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", clk.Pending())
	}
}

func TestTerminalSelectEmpty(t *testing.T) {
	term, clk, _ := newTestTerminal(Config{Height: 5})
	if _, ok := term.Select(0, 3); ok {
		t.Fatalf("expected empty selection to fail")
	}
	if term.Copied() || clk.Pending() != 0 {
		t.Fatalf("expected no notice for empty selection")
	}
}

func TestTerminalCloseStopsNotice(t *testing.T) {
	term, clk, _ := newTestTerminal(Config{Height: 5})
	term.OnBatch(batch("one"))
	term.Select(0, 0)
	term.Close()
	if term.Copied() || clk.Pending() != 0 {
		t.Fatalf("expected close to clear notice and timer")
	}
}

func TestTerminalSubscribe(t *testing.T) {
	term, _, _ := newTestTerminal(Config{Height: 5})
	batches := eventbus.New[[]schema.LogLine]("batches", nil)
	resets := eventbus.New[struct{}]("resets", nil)
	var changes int
	term.onChange = func() { changes++ }

	detach := term.Subscribe("terminal", batches, resets)
	batches.Publish(batch("one", "two"))
	if got := term.Lines(); len(got) != 2 {
		t.Fatalf("expected 2 lines, got %v", got)
	}
	resets.Publish(struct{}{})
	if got := term.Lines(); len(got) != 0 {
		t.Fatalf("expected reset, got %v", got)
	}
	detach()
	batches.Publish(batch("three"))
	if got := term.Lines(); len(got) != 0 {
		t.Fatalf("expected detached terminal to ignore batches, got %v", got)
	}
	if changes != 2 {
		t.Fatalf("expected 2 change notifications, got %d", changes)
	}
}
