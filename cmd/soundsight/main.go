package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Jxke/soundsight/internal/config"
	"github.com/Jxke/soundsight/internal/logging"
)

const serviceName = "soundsight"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	appConfig  *config.Config
	logCloser  io.Closer
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Real-time captioning service for direction-aware displays",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			appConfig = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				_ = logCloser.Close()
			}
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults plus SOUNDSIGHT_* environment when empty)")

	root.AddCommand(newRunCmd(), newListenCmd(), newDevicesCmd(), newVersionCmd())

	// Bare invocation runs the service.
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return runService(cmd.Context(), appConfig, runOptions{})
	}

	return root
}

// setupLogging initializes the global logger from the loaded configuration.
func setupLogging(cfg config.LoggingConfig) error {
	closer, err := logging.Init(logging.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logCloser = closer
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
