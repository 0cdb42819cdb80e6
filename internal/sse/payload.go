package sse

import (
	"encoding/json"
	"strings"

	"pkt.systems/pipetail/schema"
)

// DecodeLines extracts log lines from a data payload. A single-line JSON
// object is decoded as schema.LogPayload; anything else is plain text split
// on newlines. An object carrying neither lines nor line is itself a log
// line. An empty payload is one blank line. A JSON payload that fails to
// decode is returned as one raw line together with the decode error.
func DecodeLines(data string) ([]string, error) {
	if data == "" {
		return []string{""}, nil
	}
	trimmed := strings.TrimSpace(data)
	if !strings.HasPrefix(trimmed, "{") || strings.Contains(trimmed, "\n") {
		return strings.Split(data, "\n"), nil
	}
	var payload schema.LogPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return []string{data}, err
	}
	if len(payload.Lines) > 0 {
		return payload.Lines, nil
	}
	if payload.Line != "" {
		return []string{payload.Line}, nil
	}
	return []string{data}, nil
}

// EncodeLines renders lines as a JSON log payload.
func EncodeLines(lines []string) (string, error) {
	raw, err := json.Marshal(schema.LogPayload{Lines: lines})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
