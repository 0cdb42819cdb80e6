package core

import (
	"context"

	"pkt.systems/pipetail/schema"
)

// Transport opens server-pushed log streams.
type Transport interface {
	// Open connects to url. A nil error means the producer accepted the
	// connection and frames may follow.
	Open(ctx context.Context, url string) (Stream, error)
}

// Stream yields frames from one open connection.
type Stream interface {
	// Next blocks for the next frame. A connection that drops without an
	// end frame returns a non-nil error.
	Next(ctx context.Context) (schema.Frame, error)
	// Close releases the connection and unblocks a pending Next.
	Close() error
}
