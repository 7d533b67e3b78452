package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/landtalk/internal/app"
	"github.com/vovakirdan/landtalk/internal/config"
	"github.com/vovakirdan/landtalk/internal/log"
)

func newStubCmd(flags *rootFlags) *cobra.Command {
	var addr, dbPath string

	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Run the development stub backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLog := log.New("info", flags.pretty)
			cfg, path, err := config.Load(bootLog, flags.configPath)
			if err != nil {
				return err
			}
			if flags.logLevel != "" {
				cfg.LogLevel = flags.logLevel
			}
			if addr != "" {
				cfg.Stub.Addr = addr
			}
			if dbPath != "" {
				cfg.Stub.DatabasePath = dbPath
			}

			logger := log.New(cfg.LogLevel, flags.pretty)
			logger.Info().Str("config", path).Str("addr", cfg.Stub.Addr).Msg("starting landtalk stub")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg.Stub, logger)
			if err != nil {
				return err
			}
			if err := application.Run(ctx); err != nil {
				return err
			}
			logger.Info().Msg("stub stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path")
	return cmd
}
