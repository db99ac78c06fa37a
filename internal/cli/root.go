// Package cli defines the dictabridge command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"dictabridge/internal/config"
	"dictabridge/internal/logging"
)

var version = "dev" // set via ldflags at build time

type globalFlags struct {
	configPath string
	logFormat  string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "dictabridge",
		Short: "Hotkey-driven dictation bridge between a browser capture page and the focused app",
		Long: `dictabridge listens for a global hotkey, asks a connected browser capture page
to start and stop speech recognition, and pastes the final transcript into the
application that has focus, restoring the clipboard afterwards.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to config.yaml (default ~/.config/dictabridge/config.yaml)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Log format: text or json")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newHistoryCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	return root
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies command-line log overrides on top of the loaded file and env.
func (f *globalFlags) loadConfig() (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return cfg, nil
}

func newLogger(out io.Writer, cfg config.Config) (*slog.Logger, io.Closer, error) {
	return logging.New(out, logging.Options{
		Format: cfg.Log.Format,
		Level:  cfg.Log.Level,
		Dir:    cfg.Log.Dir,
	})
}
