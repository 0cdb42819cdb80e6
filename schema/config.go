package schema

import "time"

const (
	// DefaultRetryAttempts is the reconnect budget per unhealthy episode.
	DefaultRetryAttempts = 3
	// DefaultFlushInterval paces delivery of buffered lines to consumers.
	DefaultFlushInterval = time.Second
	// DefaultScrollbackLines bounds the terminal scrollback.
	DefaultScrollbackLines = 10000
	// DefaultCopiedNotice is how long the copied notice stays visible.
	DefaultCopiedNotice = 2 * time.Second
	// DefaultHeartbeat is the keepalive interval of the relay server.
	DefaultHeartbeat = 15 * time.Second
	// DefaultBatchLines caps the lines per relayed log event.
	DefaultBatchLines = 500
	// DefaultPollInterval is the log follower's fallback poll period.
	DefaultPollInterval = time.Second
)

// StreamPath returns the relay path serving a job's log stream.
func StreamPath(jobID JobID) string {
	return "/api/jobs/" + string(jobID) + "/logs/stream"
}
