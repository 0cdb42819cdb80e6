package core

import (
	"time"

	"pkt.systems/pipetail/internal/clock"
	"pkt.systems/pipetail/schema"
)

// flushScheduler drains the pending buffer to consumers on a fixed
// interval, trading delivery frequency for render cost without dropping
// lines.
type flushScheduler struct {
	clock    clock.Clock
	interval time.Duration
	pending  *pendingBuffer
	publish  func([]schema.LogLine)
	ticker   *clock.Ticker
}

func newFlushScheduler(clk clock.Clock, interval time.Duration, pending *pendingBuffer, publish func([]schema.LogLine)) *flushScheduler {
	if interval <= 0 {
		interval = schema.DefaultFlushInterval
	}
	return &flushScheduler{clock: clk, interval: interval, pending: pending, publish: publish}
}

// start arms the ticker if it is not already running.
func (f *flushScheduler) start() {
	if f.ticker != nil {
		return
	}
	f.ticker = f.clock.NewTicker(f.interval)
}

// stop cancels the ticker. Buffered lines are left in place.
func (f *flushScheduler) stop() {
	if f.ticker == nil {
		return
	}
	f.ticker.Stop()
	f.ticker = nil
}

func (f *flushScheduler) running() bool {
	return f.ticker != nil
}

// C returns the tick channel, or nil while stopped so a select on it
// never fires.
func (f *flushScheduler) C() <-chan time.Time {
	if f.ticker == nil {
		return nil
	}
	return f.ticker.C
}

// flush publishes everything buffered as one batch and reports its size.
func (f *flushScheduler) flush() int {
	batch := f.pending.take()
	if len(batch) == 0 {
		return 0
	}
	f.publish(batch)
	return len(batch)
}
