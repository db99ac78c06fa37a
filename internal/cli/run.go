package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dictabridge/internal/bootstrap"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the session coordinator (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
}

func runServe(cmd *cobra.Command, flags *globalFlags) error {
	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	services, err := bootstrap.Build(bootstrap.Options{
		Config:    cfg,
		Logger:    logger,
		StatusOut: cmd.OutOrStdout(),
	})
	if err != nil {
		logger.Error("startup failed", "error", err)
		return fmt.Errorf("startup: %w", err)
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := services.Run(ctx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
