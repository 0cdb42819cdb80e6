package pipetail

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"pkt.systems/pipetail/httpapi"
	"pkt.systems/pipetail/internal/clock"
	"pkt.systems/pipetail/internal/logsource"
	"pkt.systems/pslog"
)

// Server runs the relay that serves job logs as event streams.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the relay.
type ServerConfig struct {
	HTTP         httpapi.Config
	LogDir       string
	PollInterval time.Duration
}

// ServerDeps captures optional dependencies for the relay.
type ServerDeps struct {
	Clock  clock.Clock
	Logger pslog.Logger
}

// NewServer constructs the relay. The log directory is created when
// missing.
func NewServer(cfg ServerConfig, deps ServerDeps) (Server, error) {
	if strings.TrimSpace(cfg.LogDir) == "" {
		return nil, errors.New("log directory is required")
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return nil, errors.New("http address is required")
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	source := logsource.NewDir(cfg.LogDir, logsource.Options{
		PollInterval: cfg.PollInterval,
		BatchLines:   cfg.HTTP.BatchLines,
		Logger:       logger,
	})
	return &relayServer{
		cfg:     cfg,
		httpSrv: httpapi.NewServer(cfg.HTTP, source, deps.Clock),
		logger:  logger,
	}, nil
}

type relayServer struct {
	cfg     ServerConfig
	httpSrv *httpapi.Server
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	done    chan struct{}
	started bool
}

func (s *relayServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(pslog.ContextWithLogger(ctx, s.logger))
	s.errCh = make(chan error, 1)
	s.done = make(chan struct{})
	s.started = true
	runCtx, errCh, done := s.ctx, s.errCh, s.done
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"base_url", httpapi.BaseURL(s.cfg.HTTP.Addr, s.cfg.HTTP.BasePath),
		"log_dir", s.cfg.LogDir,
	)
	go func() {
		defer close(done)
		if err := httpapi.ListenAndServe(runCtx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
			log.Error("http server failed", "err", err)
			errCh <- err
		}
	}()
	return nil
}

func (s *relayServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			s.logger.Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *relayServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	log := s.logger
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}
