package terminal

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

const tabWidth = 4

var errInvalidUTF8 = errors.New("log line is not valid utf-8")

// decodeLine reduces raw terminal output to printable text plus SGR style
// sequences. Cursor movement, erase and OSC sequences are dropped, a
// carriage return overwrites what came before it, tabs are expanded, and an
// open style is closed at the end of the line. Invalid UTF-8 is returned
// unchanged with errInvalidUTF8.
func decodeLine(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return raw, errInvalidUTF8
	}
	raw = strings.TrimSuffix(raw, "\r")
	if i := strings.LastIndexByte(raw, '\r'); i >= 0 {
		raw = raw[i+1:]
	}
	var (
		b      strings.Builder
		state  byte
		col    int
		styled bool
	)
	b.Grow(len(raw))
	for len(raw) > 0 {
		seq, width, n, newState := ansi.DecodeSequence(raw, state, nil)
		if n <= 0 {
			break
		}
		state = newState
		raw = raw[n:]
		switch {
		case width > 0:
			b.WriteString(seq)
			col += width
		case seq == "\t":
			pad := tabWidth - col%tabWidth
			b.WriteString(strings.Repeat(" ", pad))
			col += pad
		case isSGR(seq):
			b.WriteString(seq)
			styled = true
		}
	}
	if styled {
		b.WriteString(ansi.ResetStyle)
	}
	return b.String(), nil
}

func isSGR(seq string) bool {
	return len(seq) >= 3 && strings.HasPrefix(seq, "\x1b[") && seq[len(seq)-1] == 'm'
}
