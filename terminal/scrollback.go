package terminal

import (
	"strings"

	"github.com/charmbracelet/x/ansi"

	"pkt.systems/pipetail/schema"
)

// entry is one decoded log line and its wrapped rows at the current width.
type entry struct {
	seq    uint64
	styled string
	plain  string
	rows   []string
}

// scrollback stores decoded lines and scroll state.
// scrollOffset counts rows from the bottom; 0 means following new output.
type scrollback struct {
	lines        []entry
	width        int
	totalRows    int
	scrollOffset int
	maxLines     int
}

func newScrollback(maxLines, width int) *scrollback {
	if maxLines <= 0 {
		maxLines = schema.DefaultScrollbackLines
	}
	return &scrollback{maxLines: maxLines, width: width}
}

func wrapRows(styled string, width int) []string {
	if width <= 0 || ansi.StringWidth(styled) <= width {
		return []string{styled}
	}
	return strings.Split(ansi.Hardwrap(styled, width, true), "\n")
}

// append adds lines and evicts the oldest beyond maxLines. When scrolled up
// the offset grows with the added rows so the view stays anchored. It
// returns the number of evicted lines.
func (s *scrollback) append(lines ...entry) int {
	if len(lines) == 0 {
		return 0
	}
	added := 0
	for i := range lines {
		lines[i].rows = wrapRows(lines[i].styled, s.width)
		added += len(lines[i].rows)
	}
	s.lines = append(s.lines, lines...)
	s.totalRows += added
	if s.scrollOffset > 0 {
		s.scrollOffset += added
	}
	evicted := 0
	if len(s.lines) > s.maxLines {
		evicted = len(s.lines) - s.maxLines
		for _, e := range s.lines[:evicted] {
			s.totalRows -= len(e.rows)
		}
		kept := make([]entry, s.maxLines)
		copy(kept, s.lines[evicted:])
		s.lines = kept
	}
	if s.scrollOffset > s.totalRows {
		s.scrollOffset = s.totalRows
	}
	return evicted
}

func (s *scrollback) reset() {
	s.lines = nil
	s.totalRows = 0
	s.scrollOffset = 0
}

// scroll moves the view by delta rows. Positive delta scrolls up (older
// rows), negative scrolls down. height is the viewport height.
func (s *scrollback) scroll(delta, height int) {
	s.scrollOffset = clampScroll(s.scrollOffset+delta, s.totalRows, height)
}

func (s *scrollback) scrollToTop(height int) {
	s.scrollOffset = maxScroll(s.totalRows, height)
}

func (s *scrollback) scrollToBottom() {
	s.scrollOffset = 0
}

// topRow returns the index of the first visible row.
func (s *scrollback) topRow(height int) int {
	s.scrollOffset = clampScroll(s.scrollOffset, s.totalRows, height)
	if height <= 0 || height > s.totalRows {
		return 0
	}
	return s.totalRows - height - s.scrollOffset
}

// rowStart returns the index of the first row of line idx.
func (s *scrollback) rowStart(idx int) int {
	row := 0
	for i := 0; i < idx && i < len(s.lines); i++ {
		row += len(s.lines[i].rows)
	}
	return row
}

// locate maps a row index to the line holding it and the row within it.
func (s *scrollback) locate(row int) (int, int) {
	for i, e := range s.lines {
		if row < len(e.rows) {
			return i, row
		}
		row -= len(e.rows)
	}
	return len(s.lines), 0
}

// scrollToRow puts row at the top of the viewport, as far as the content
// allows.
func (s *scrollback) scrollToRow(row, height int) {
	if height <= 0 {
		s.scrollOffset = 0
		return
	}
	s.scrollOffset = clampScroll(s.totalRows-height-row, s.totalRows, height)
}

// visibleLines returns the indices of the first and last lines that have a
// row in the viewport.
func (s *scrollback) visibleLines(height int) (int, int) {
	if len(s.lines) == 0 {
		return 0, 0
	}
	top := s.topRow(height)
	bottom := s.totalRows - 1
	if height > 0 && top+height-1 < bottom {
		bottom = top + height - 1
	}
	first, _ := s.locate(top)
	last, _ := s.locate(bottom)
	if last >= len(s.lines) {
		last = len(s.lines) - 1
	}
	return first, last
}

// resize rewraps every line at width while keeping the first visible line
// at the top of the viewport. A following view keeps following.
func (s *scrollback) resize(width, oldHeight, newHeight int) {
	following := s.scrollOffset == 0
	anchorLine, anchorRow := s.locate(s.topRow(oldHeight))
	s.width = width
	s.totalRows = 0
	for i := range s.lines {
		s.lines[i].rows = wrapRows(s.lines[i].styled, width)
		s.totalRows += len(s.lines[i].rows)
	}
	if following || anchorLine >= len(s.lines) {
		s.scrollOffset = 0
		return
	}
	if rows := len(s.lines[anchorLine].rows); anchorRow >= rows {
		anchorRow = rows - 1
	}
	s.scrollToRow(s.rowStart(anchorLine)+anchorRow, newHeight)
}

// window returns the visible rows and the line index of the first one.
func (s *scrollback) window(height int) ([]string, int) {
	if s.totalRows == 0 {
		return nil, 0
	}
	top := s.topRow(height)
	count := s.totalRows - top
	if height > 0 && count > height {
		count = height
	}
	first, row := s.locate(top)
	rows := make([]string, 0, count)
	for i := first; i < len(s.lines) && len(rows) < count; i++ {
		for _, r := range s.lines[i].rows[row:] {
			if len(rows) == count {
				break
			}
			rows = append(rows, r)
		}
		row = 0
	}
	return rows, first
}

func maxScroll(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	if total <= limit {
		return 0
	}
	return total - limit
}

func clampScroll(offset, total, limit int) int {
	max := maxScroll(total, limit)
	if offset < 0 {
		return 0
	}
	if offset > max {
		return max
	}
	return offset
}
