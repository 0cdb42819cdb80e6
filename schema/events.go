package schema

// Event names used on the log stream wire.
const (
	EventStart   = "start"
	EventLog     = "log"
	EventMessage = "message"
	EventEnd     = "end"
)

// LogPayload is the JSON data payload of a log event.
// Producers send either Lines or a single Line.
type LogPayload struct {
	Lines []string `json:"lines,omitempty"`
	Line  string   `json:"line,omitempty"`
}

// StartPayload is the data payload of a start event.
type StartPayload struct {
	JobID    JobID  `json:"job_id"`
	StreamID string `json:"stream_id"`
}

// EndPayload is the data payload of an end event.
type EndPayload struct {
	JobID JobID `json:"job_id"`
	Lines int   `json:"lines"`
}
