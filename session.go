// Package pipetail composes the live log tail client and the relay server.
package pipetail

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"pkt.systems/pipetail/core"
	"pkt.systems/pipetail/internal/clock"
	"pkt.systems/pipetail/internal/eventbus"
	"pkt.systems/pipetail/internal/sse"
	"pkt.systems/pipetail/schema"
	"pkt.systems/pslog"
)

// Consumer attaches to a controller's batch and reset channels.
// terminal.Terminal and terminal.Writer implement it.
type Consumer interface {
	Subscribe(key eventbus.Key, batches *eventbus.Channel[[]schema.LogLine], resets *eventbus.Channel[struct{}]) func()
}

// SessionConfig configures a tail session.
type SessionConfig struct {
	// BaseURL is the relay root used to build stream URLs for job ids.
	BaseURL    string
	Controller core.ControllerConfig
}

// SessionDeps captures optional dependencies for a Session.
type SessionDeps struct {
	// Transport defaults to an SSE client over http.DefaultClient.
	Transport core.Transport
	Clock     clock.Clock
	Logger    pslog.Logger
	// OnState observes every state transition on the controller goroutine.
	OnState func(schema.StreamState)
}

// Session ties one controller to its consumers for a single target.
type Session struct {
	cfg  SessionConfig
	ctrl *core.Controller
	log  pslog.Logger

	mu       sync.Mutex
	target   string
	detach   []func()
	finished chan struct{}
	final    schema.StreamState
}

const sessionKey eventbus.Key = "session"

// NewSession builds a Session feeding consumer.
func NewSession(cfg SessionConfig, consumer Consumer, deps SessionDeps) (*Session, error) {
	if deps.Transport == nil {
		deps.Transport = sse.NewClient(nil, nil)
	}
	if deps.Logger == nil {
		deps.Logger = pslog.Ctx(context.Background())
	}
	ctrl, err := core.NewController(cfg.Controller, core.ControllerDeps{
		Transport: deps.Transport,
		Clock:     deps.Clock,
		Logger:    deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	s := &Session{cfg: cfg, ctrl: ctrl, log: deps.Logger, final: schema.StateIdle}
	onState := deps.OnState
	ctrl.States().Subscribe(sessionKey, func(state schema.StreamState) {
		if onState != nil {
			onState(state)
		}
		if state.Terminal() {
			s.finish(state)
		}
	})
	if consumer != nil {
		s.Attach("consumer", consumer)
	}
	return s, nil
}

// Attach adds another consumer under key.
func (s *Session) Attach(key eventbus.Key, consumer Consumer) {
	drop := consumer.Subscribe(key, s.ctrl.Batches(), s.ctrl.Resets())
	s.mu.Lock()
	s.detach = append(s.detach, drop)
	s.mu.Unlock()
}

// Open starts streaming target, a job id or an absolute stream URL.
// Reopening the live target is a no-op. Otherwise any previous stream is
// stopped and consumers are reset before the new one starts.
func (s *Session) Open(ctx context.Context, target string) error {
	streamURL, err := StreamURL(s.cfg.BaseURL, target)
	if err != nil {
		return err
	}
	target = strings.TrimSpace(target)
	s.mu.Lock()
	prev := s.target
	s.mu.Unlock()
	if prev != "" {
		state := s.ctrl.State()
		if prev == target && (state == schema.StateConnecting || state == schema.StateStreaming) {
			return nil
		}
		s.ctrl.Stop()
		s.ctrl.Resets().Publish(struct{}{})
	}
	s.mu.Lock()
	s.target = target
	s.finished = make(chan struct{})
	s.final = schema.StateIdle
	s.mu.Unlock()
	s.log.Info("session open", "target", s.target, "url", streamURL)
	return s.ctrl.Start(ctx, streamURL)
}

func (s *Session) finish(state schema.StreamState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished == nil {
		return
	}
	select {
	case <-s.finished:
	default:
		s.final = state
		close(s.finished)
	}
}

// Wait blocks until the stream ends or fails and returns that state.
func (s *Session) Wait(ctx context.Context) (schema.StreamState, error) {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if finished == nil {
		return schema.StateIdle, errors.New("session not open")
	}
	select {
	case <-ctx.Done():
		return s.ctrl.State(), ctx.Err()
	case <-finished:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.final, nil
	}
}

// Target returns the job id or URL passed to Open.
func (s *Session) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Controller exposes the underlying controller.
func (s *Session) Controller() *core.Controller {
	return s.ctrl
}

// Close stops the stream and detaches every consumer.
func (s *Session) Close() {
	s.ctrl.Close()
	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()
	for _, drop := range detach {
		drop()
	}
}

// StreamURL resolves target against baseURL. Absolute http(s) URLs pass
// through; anything else must be a valid job id.
func StreamURL(baseURL, target string) (string, error) {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		parsed, err := url.Parse(target)
		if err != nil || parsed.Host == "" {
			return "", fmt.Errorf("%w: %s", schema.ErrInvalidURL, target)
		}
		return target, nil
	}
	if err := schema.ValidateJobID(schema.JobID(target)); err != nil {
		return "", fmt.Errorf("%w: %q", err, target)
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return "", fmt.Errorf("%w: no base url for job %s", schema.ErrInvalidURL, target)
	}
	return base + schema.StreamPath(schema.JobID(target)), nil
}
