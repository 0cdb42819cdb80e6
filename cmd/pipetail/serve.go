package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pipetail"
	"pkt.systems/pipetail/httpapi"
	"pkt.systems/pipetail/internal/appconfig"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var addr string
	var logDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve job logs from a directory as event streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if logDir != "" {
				cfg.Logs.Dir = logDir
			}
			server, err := pipetail.NewServer(serverConfig(cfg), pipetail.ServerDeps{Logger: logger})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "job log directory (overrides logs.dir)")
	return cmd
}

func serverConfig(cfg appconfig.Config) pipetail.ServerConfig {
	return pipetail.ServerConfig{
		HTTP:         toHTTPConfig(cfg.HTTP),
		LogDir:       cfg.Logs.Dir,
		PollInterval: cfg.Logs.PollInterval(),
	}
}

func toHTTPConfig(cfg appconfig.HTTPConfig) httpapi.Config {
	return httpapi.Config{
		Addr:       cfg.Addr,
		BasePath:   cfg.BasePath,
		Heartbeat:  cfg.Heartbeat(),
		BatchLines: cfg.BatchLines,
		Gzip:       cfg.Gzip,
	}
}
