package logx

import (
	"context"

	"pkt.systems/pipetail/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	jobKey contextKey = iota
	streamKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithJob annotates the logger with the job id if present.
func WithJob(ctx context.Context, jobID schema.JobID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if jobID != "" {
		if current, ok := ctx.Value(jobKey).(schema.JobID); ok && current == jobID {
			return log
		}
		log = log.With("job", jobID)
	}
	return log
}

// WithStream annotates the logger with the stream url if present.
func WithStream(ctx context.Context, url string) pslog.Logger {
	log := pslog.Ctx(ctx)
	if url != "" {
		if current, ok := ctx.Value(streamKey).(string); ok && current == url {
			return log
		}
		log = log.With("url", url)
	}
	return log
}

// WithConn annotates the logger with a connection id and attempt number.
func WithConn(log pslog.Logger, connID string, attempt int) pslog.Logger {
	if connID != "" {
		log = log.With("conn", connID)
	}
	if attempt > 0 {
		log = log.With("attempt", attempt)
	}
	return log
}

// ContextWithJob stores the job marker on the context for log de-duplication.
func ContextWithJob(ctx context.Context, jobID schema.JobID) context.Context {
	if ctx == nil || jobID == "" {
		return ctx
	}
	return context.WithValue(ctx, jobKey, jobID)
}

// ContextWithStream stores the stream marker on the context for log de-duplication.
func ContextWithStream(ctx context.Context, url string) context.Context {
	if ctx == nil || url == "" {
		return ctx
	}
	return context.WithValue(ctx, streamKey, url)
}

// ContextWithJobLogger attaches the logger and job marker to the context.
func ContextWithJobLogger(ctx context.Context, log pslog.Logger, jobID schema.JobID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithJob(ctx, jobID)
}

// ContextWithStreamLogger attaches the logger and stream marker to the context.
func ContextWithStreamLogger(ctx context.Context, log pslog.Logger, url string) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithStream(ctx, url)
}
