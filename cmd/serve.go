package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/config"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/server"
)

var servePort int

// shutdownTimeout bounds how long in-flight sessions get to be marked failed.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the validation HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initPipeline(ctx, config.ModeServe)
		if err != nil {
			return err
		}
		defer env.Close()

		srv := server.New(server.Deps{
			Pipeline: env.Pipeline,
			Sessions: env.Sessions,
			Reports:  env.Store,
			Events:   env.Broker,
		}, cfg.ServerOptions())

		// Zombie sessions are reclaimed by status polls, not on a timer.
		err = srv.ListenAndServe(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if n := env.Pipeline.Shutdown(shutdownCtx); n > 0 {
			zap.L().Warn("marked in-flight sessions failed", zap.Int("sessions", n))
		}
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
