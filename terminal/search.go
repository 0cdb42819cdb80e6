package terminal

import (
	"strings"
	"unicode/utf8"
)

// Direction selects which way Search walks the scrollback.
type Direction int

const (
	// Forward searches toward newer lines.
	Forward Direction = iota
	// Backward searches toward older lines.
	Backward
)

// Match locates a search hit.
type Match struct {
	// Line is the index of the line in the scrollback.
	Line int
	// Seq is the stream sequence number of the line.
	Seq uint64
	// Column is the rune offset of the hit in the line's plain text.
	Column int
	Term   string
}

// findMatch walks lines from start in dir, wrapping once around, and
// returns the first line whose plain text contains needle (already lower
// cased).
func findMatch(lines []entry, needle string, start int, dir Direction) (int, int, bool) {
	n := len(lines)
	if n == 0 || needle == "" {
		return 0, 0, false
	}
	step := 1
	if dir == Backward {
		step = -1
	}
	for i := 0; i < n; i++ {
		idx := ((start+step*i)%n + n) % n
		haystack := strings.ToLower(lines[idx].plain)
		if col := strings.Index(haystack, needle); col >= 0 {
			return idx, utf8.RuneCountInString(haystack[:col]), true
		}
	}
	return 0, 0, false
}
