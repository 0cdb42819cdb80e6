package schema

// JobID identifies a job whose logs are streamed.
type JobID string

// LogLine is one line of job output as it arrived on the stream.
// Text is opaque and may carry ANSI escape sequences.
type LogLine struct {
	// Seq is the 1-based arrival position within the current logical stream.
	Seq  uint64
	Text string
}

// StreamState is the connection state of a stream controller.
type StreamState int

const (
	// StateIdle means no connection is open or wanted.
	StateIdle StreamState = iota
	// StateConnecting means a connection attempt is in flight.
	StateConnecting
	// StateStreaming means the transport is open and delivering frames.
	StateStreaming
	// StateEnded means the producer signalled end-of-stream.
	StateEnded
	// StateFailed means the retry budget was exhausted.
	StateFailed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a controller run.
func (s StreamState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// FrameKind classifies an inbound transport frame.
type FrameKind int

const (
	// FrameData carries one or more log lines.
	FrameData FrameKind = iota
	// FrameStart marks the (re)start of a logical stream.
	FrameStart
	// FrameEnd marks the producer's end of stream.
	FrameEnd
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FrameStart:
		return "start"
	case FrameEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Frame is one decoded event from the transport.
type Frame struct {
	Kind  FrameKind
	ID    string
	Lines []string
}
