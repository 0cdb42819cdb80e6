package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/pipetail/internal/clock"
	"pkt.systems/pipetail/internal/eventbus"
	"pkt.systems/pipetail/internal/logx"
	"pkt.systems/pipetail/internal/retry"
	"pkt.systems/pipetail/schema"
	"pkt.systems/pslog"
)

// ControllerConfig tunes reconnect and pacing behavior.
type ControllerConfig struct {
	// RetryAttempts is the number of failed attempts tolerated per
	// unhealthy episode before the stream is declared failed.
	RetryAttempts int
	// FlushInterval paces delivery of buffered lines.
	FlushInterval time.Duration
	// RetryBackoff delays reconnects exponentially when > 0. Zero
	// reconnects immediately.
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

// ControllerDeps captures dependencies for a Controller.
type ControllerDeps struct {
	Transport Transport
	Clock     clock.Clock
	Logger    pslog.Logger
}

// Controller owns one reconnecting log stream and fans its output out to
// subscribers. Batches, resets and state changes are delivered on the
// controller's run goroutine, one at a time.
type Controller struct {
	cfg       ControllerConfig
	transport Transport
	clock     clock.Clock
	log       pslog.Logger

	batches *eventbus.Channel[[]schema.LogLine]
	resets  *eventbus.Channel[struct{}]
	states  *eventbus.Channel[schema.StreamState]

	lifecycle sync.Mutex

	mu     sync.Mutex
	state  schema.StreamState
	url    string
	budget *retry.Budget
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController constructs a Controller in the idle state.
func NewController(cfg ControllerConfig, deps ControllerDeps) (*Controller, error) {
	if deps.Transport == nil {
		return nil, schema.ErrNoTransport
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = schema.DefaultRetryAttempts
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = schema.DefaultFlushInterval
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = pslog.Ctx(context.Background())
	}
	return &Controller{
		cfg:       cfg,
		transport: deps.Transport,
		clock:     deps.Clock,
		log:       deps.Logger,
		batches:   eventbus.New[[]schema.LogLine]("batches", deps.Logger),
		resets:    eventbus.New[struct{}]("resets", deps.Logger),
		states:    eventbus.New[schema.StreamState]("states", deps.Logger),
		state:     schema.StateIdle,
		budget:    newBudget(cfg),
	}, nil
}

func newBudget(cfg ControllerConfig) *retry.Budget {
	return retry.NewBudget(cfg.RetryAttempts, retry.WithBackoff(cfg.RetryBackoff, cfg.RetryBackoffMax))
}

// Batches delivers flushed lines in arrival order. Batches are shared
// between subscribers and must not be modified.
func (c *Controller) Batches() *eventbus.Channel[[]schema.LogLine] { return c.batches }

// Resets fires when the producer restarts the logical stream. Consumers
// should clear what they have shown.
func (c *Controller) Resets() *eventbus.Channel[struct{}] { return c.resets }

// States fires on every state transition, including repeated Connecting
// transitions while retrying.
func (c *Controller) States() *eventbus.Channel[schema.StreamState] { return c.states }

// State returns the current stream state.
func (c *Controller) State() schema.StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URL returns the url of the current or last run.
func (c *Controller) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Budget reports the remaining and configured reconnect attempts.
func (c *Controller) Budget() (remaining, initial int) {
	c.mu.Lock()
	budget := c.budget
	c.mu.Unlock()
	return budget.Remaining(), budget.Initial()
}

// Start stops any previous run and begins streaming url. The run lives
// until Stop, until ctx is cancelled, or until the stream ends or fails.
func (c *Controller) Start(ctx context.Context, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return schema.ErrInvalidURL
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stopLocked()

	runCtx, cancel := context.WithCancel(pslog.ContextWithLogger(ctx, c.log))
	log := logx.WithStream(runCtx, url)
	runCtx = logx.ContextWithStreamLogger(runCtx, log, url)

	pending := &pendingBuffer{}
	budget := newBudget(c.cfg)
	r := &run{
		c:       c,
		ctx:     runCtx,
		url:     url,
		budget:  budget,
		pending: pending,
		log:     log,
		done:    make(chan struct{}),
	}
	r.flush = newFlushScheduler(c.clock, c.cfg.FlushInterval, pending, c.batches.Publish)

	c.mu.Lock()
	c.url = url
	c.budget = budget
	c.cancel = cancel
	c.done = r.done
	c.state = schema.StateConnecting
	c.mu.Unlock()

	log.Info("stream start", "retry_attempts", budget.Initial(), "flush_interval", c.cfg.FlushInterval)
	go r.loop()
	return nil
}

// Stop closes the transport, cancels the flush timer and waits for the run
// goroutine to exit. No subscriber is called by the run after Stop
// returns. Stop is idempotent and safe before Start. It must not be called
// from a subscriber of the same controller.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.log.Debug("stream stop", "url", c.URL())
	c.setState(schema.StateIdle)
}

// Close stops the controller and drops every subscriber.
func (c *Controller) Close() {
	c.Stop()
	c.batches.UnsubscribeAll()
	c.resets.UnsubscribeAll()
	c.states.UnsubscribeAll()
}

func (c *Controller) setState(state schema.StreamState) {
	c.mu.Lock()
	prev := c.state
	c.state = state
	c.mu.Unlock()
	if prev == schema.StateIdle && state == schema.StateIdle {
		return
	}
	c.states.Publish(state)
}

// run is one Start..Stop lifetime. Its goroutine owns the pending buffer,
// the budget and the flush ticker.
type run struct {
	c       *Controller
	ctx     context.Context
	url     string
	budget  *retry.Budget
	pending *pendingBuffer
	flush   *flushScheduler
	log     pslog.Logger
	attempt int
	done    chan struct{}
}

type openResult struct {
	stream Stream
	err    error
}

type frameResult struct {
	frame schema.Frame
	err   error
}

func (r *run) loop() {
	defer close(r.done)
	defer r.flush.stop()
	r.c.setState(schema.StateConnecting)
	for {
		if r.ctx.Err() != nil {
			return
		}
		r.attempt++
		log := logx.WithConn(r.log, uuid.NewString(), r.attempt)
		r.flush.start()
		log.Debug("stream connect start")

		connCtx, cancel := context.WithCancel(r.ctx)
		stream, err := r.open(connCtx, cancel, log)
		if err != nil {
			cancel()
			if r.ctx.Err() != nil {
				return
			}
			log.Warn("stream connect failed", "err", err)
			if !r.retry(log) {
				return
			}
			continue
		}
		r.budget.Reset()
		r.c.setState(schema.StateStreaming)
		log.Info("stream connected")

		ended, err := r.consume(connCtx, cancel, stream, log)
		if r.ctx.Err() != nil {
			return
		}
		if ended {
			r.flush.flush()
			r.flush.stop()
			r.c.setState(schema.StateEnded)
			log.Info("stream ended", "lines", r.pending.seq)
			return
		}
		log.Warn("stream dropped", "err", err)
		if !r.retry(log) {
			return
		}
	}
}

// open dials the transport on a helper goroutine while the run goroutine
// keeps servicing flush ticks, so lines buffered before a drop are still
// delivered during a slow reconnect.
func (r *run) open(connCtx context.Context, cancel context.CancelFunc, log pslog.Logger) (Stream, error) {
	result := make(chan openResult, 1)
	go func() {
		stream, err := r.c.transport.Open(connCtx, r.url)
		result <- openResult{stream: stream, err: err}
	}()
	for {
		select {
		case <-r.flush.C():
			r.flush.flush()
		case res := <-result:
			return res.stream, res.err
		case <-r.ctx.Done():
			cancel()
			res := <-result
			if res.stream != nil {
				if err := res.stream.Close(); err != nil {
					log.Debug("stream close failed", "err", err)
				}
			}
			return nil, r.ctx.Err()
		}
	}
}

// consume pumps frames from stream until end of stream, a transport error
// or cancellation. The stream is closed before consume returns.
func (r *run) consume(connCtx context.Context, cancel context.CancelFunc, stream Stream, log pslog.Logger) (bool, error) {
	frames := make(chan frameResult)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			frame, err := stream.Next(connCtx)
			select {
			case frames <- frameResult{frame: frame, err: err}:
			case <-connCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		cancel()
		if err := stream.Close(); err != nil {
			log.Debug("stream close failed", "err", err)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-r.ctx.Done():
			return false, r.ctx.Err()
		case <-r.flush.C():
			r.flush.flush()
		case res := <-frames:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return false, schema.ErrStreamClosed
				}
				return false, res.err
			}
			switch res.frame.Kind {
			case schema.FrameStart:
				dropped := r.pending.len()
				r.pending.reset()
				r.c.resets.Publish(struct{}{})
				log.Info("stream reset", "dropped", dropped)
			case schema.FrameEnd:
				return true, nil
			default:
				r.pending.append(res.frame.Lines)
			}
		}
	}
}

// retry spends one attempt. It reports false once the budget is exhausted
// (after moving to Failed) or when the run is cancelled while waiting.
func (r *run) retry(log pslog.Logger) bool {
	r.budget.ConsumeAttempt()
	if !r.budget.CanRetry() {
		r.flush.flush()
		r.flush.stop()
		r.c.setState(schema.StateFailed)
		log.Error("stream retry exhausted", "err", schema.ErrRetryExhausted, "attempts", r.budget.Initial())
		return false
	}
	r.c.setState(schema.StateConnecting)
	delay := r.budget.NextDelay()
	log.Info("stream retry scheduled", "remaining", r.budget.Remaining(), "delay", delay)
	if delay <= 0 {
		return true
	}
	wait := r.c.clock.After(delay)
	for {
		select {
		case <-r.ctx.Done():
			return false
		case <-r.flush.C():
			r.flush.flush()
		case <-wait:
			return true
		}
	}
}
