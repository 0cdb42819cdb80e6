package schema

import "errors"

var (
	// ErrInvalidJob indicates a malformed job identifier.
	ErrInvalidJob = errors.New("invalid job id")
	// ErrJobNotFound indicates no log exists for the job.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidURL indicates an empty or unusable stream URL.
	ErrInvalidURL = errors.New("invalid stream url")
	// ErrStreamClosed indicates the transport closed without an end-of-stream frame.
	ErrStreamClosed = errors.New("stream closed before end")
	// ErrRetryExhausted indicates the reconnect budget ran out.
	ErrRetryExhausted = errors.New("logs not available")
	// ErrNoTransport indicates a controller was built without a transport.
	ErrNoTransport = errors.New("transport not configured")
)
