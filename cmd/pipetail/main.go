package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/pipetail/schema"
	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])
	return exitCode(ctx, root.ExecuteContext(ctx))
}

// exitCode logs err and maps it to the process status. A stream that ran
// out of retries is reported as unavailable logs rather than a crash.
func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return 0
	}
	logger := pslog.Ctx(ctx)
	if errors.Is(err, schema.ErrRetryExhausted) {
		logger.Error("logs not available", "err", err)
		return 1
	}
	logger.Error("pipetail command failed", "err", err)
	return 1
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "pipetail",
		Short:         "Follow live job logs from a relay in the terminal",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !verbose {
				return
			}
			logger := pslog.NewWithOptions(cmd.ErrOrStderr(), pslog.Options{
				Mode:     pslog.ModeConsole,
				MinLevel: pslog.DebugLevel,
			})
			cmd.SetContext(pslog.ContextWithLogger(cmd.Context(), logger))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(newTailCmd(), newServeCmd(), newConfigCmd(), newVersionCmd())
	return root
}
