package terminal

import (
	"encoding/json"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
)

// highlightJSON colours a line that is a bare JSON object. Lines already
// carrying escape sequences are left alone.
func highlightJSON(line string) (string, bool) {
	if strings.ContainsRune(line, '\x1b') {
		return line, false
	}
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") || !json.Valid([]byte(trimmed)) {
		return line, false
	}
	var b strings.Builder
	if err := quick.Highlight(&b, line, "json", "terminal256", "monokai"); err != nil {
		return line, false
	}
	return strings.TrimRight(b.String(), "\n"), true
}
