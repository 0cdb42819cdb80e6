package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"pkt.systems/pipetail"
	"pkt.systems/pipetail/core"
	"pkt.systems/pipetail/internal/appconfig"
	"pkt.systems/pipetail/schema"
	"pkt.systems/pipetail/terminal"
	"pkt.systems/pslog"
)

type tailOptions struct {
	configPath string
	baseURL    string
	logFile    string
	plain      bool
}

func newTailCmd() *cobra.Command {
	var opts tailOptions
	cmd := &cobra.Command{
		Use:   "tail <job-id|url>",
		Short: "Stream a job log until it ends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(opts.configPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(opts.baseURL) != "" {
				cfg.Stream.BaseURL = opts.baseURL
			}
			if opts.plain || !term.IsTerminal(int(os.Stdout.Fd())) {
				return runPlain(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
			}
			return runTUI(cmd.Context(), cfg, args[0], opts.logFile)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "relay base url (overrides stream.base_url)")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "write logs to this file while the terminal UI runs")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "print lines to stdout instead of running the terminal UI")
	return cmd
}

func sessionConfig(cfg appconfig.Config) pipetail.SessionConfig {
	return pipetail.SessionConfig{
		BaseURL: cfg.Stream.BaseURL,
		Controller: core.ControllerConfig{
			RetryAttempts:   cfg.Stream.RetryAttempts,
			FlushInterval:   cfg.Stream.FlushInterval(),
			RetryBackoff:    cfg.Stream.RetryBackoff(),
			RetryBackoffMax: cfg.Stream.RetryBackoffMax(),
		},
	}
}

// runPlain copies the stream to out and returns once it ends or fails.
func runPlain(ctx context.Context, cfg appconfig.Config, target string, out io.Writer) error {
	logger := pslog.Ctx(ctx)
	writer := terminal.NewWriter(out)
	session, err := pipetail.NewSession(sessionConfig(cfg), writer, pipetail.SessionDeps{Logger: logger})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Open(ctx, target); err != nil {
		return err
	}
	final, err := session.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	if err := writer.Err(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if final == schema.StateFailed {
		return fmt.Errorf("%s: %w", target, schema.ErrRetryExhausted)
	}
	logger.Debug("tail complete", "target", target, "lines", writer.Written())
	return nil
}

func runTUI(ctx context.Context, cfg appconfig.Config, target, logFile string) error {
	logger, closeLog, err := tuiLogger(logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		width, height = 80, 24
	}
	view := terminal.New(terminal.Config{
		MaxLines:      cfg.Terminal.ScrollbackLines,
		CopiedNotice:  cfg.Terminal.CopiedNotice(),
		HighlightJSON: cfg.Terminal.HighlightJSON,
		Width:         width,
		Height:        max(height-2, 1),
	}, terminal.Deps{
		Clipboard: terminal.NewOSC52(os.Stderr),
		Logger:    logger,
	})
	defer view.Close()

	options := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}
	if cfg.Terminal.Mouse {
		options = append(options, tea.WithMouseCellMotion())
	}
	// The controller goroutine only stores the state and raises a coalesced
	// change signal; the model picks it up on its own goroutine.
	var current atomic.Int32
	stateOf := func() schema.StreamState { return schema.StreamState(current.Load()) }
	model := terminal.NewModel(view, target).WithStateSource(stateOf)
	program := tea.NewProgram(model, options...)

	session, err := pipetail.NewSession(sessionConfig(cfg), view, pipetail.SessionDeps{
		Logger: logger,
		OnState: func(state schema.StreamState) {
			current.Store(int32(state))
			view.Notify()
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var final schema.StreamState
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		_, err := program.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := session.Open(gctx, target); err != nil {
			program.Quit()
			return err
		}
		final, _ = session.Wait(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if final == schema.StateFailed {
		return fmt.Errorf("%s: %w", target, schema.ErrRetryExhausted)
	}
	return nil
}

// tuiLogger keeps log output off the terminal while the UI owns it.
func tuiLogger(path string) (pslog.Logger, func(), error) {
	if strings.TrimSpace(path) == "" {
		return pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true}), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := pslog.NewWithOptions(f, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.DebugLevel,
	})
	return logger, func() { _ = f.Close() }, nil
}
