package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Jxke/soundsight/internal/logging"
	"github.com/Jxke/soundsight/internal/protocol"
	"github.com/Jxke/soundsight/internal/transport"
	"github.com/Jxke/soundsight/internal/viewer"
)

func newListenCmd() *cobra.Command {
	var (
		host    string
		port    int
		lines   int
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect to a caption server and show captions in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appConfig
			if host != "" {
				cfg.Transport.Host = host
			}
			if port != 0 {
				cfg.Transport.Port = port
			}

			// The terminal belongs to the viewer.
			cfg.Logging.Output = logFile
			if logFile == "" {
				cfg.Logging.Output = os.DevNull
			}
			if err := setupLogging(cfg.Logging); err != nil {
				return err
			}

			format, err := protocol.ParseFormat(cfg.Transport.MessageFormat)
			if err != nil {
				return err
			}

			client := transport.NewClient(transport.ClientConfig{
				Host:         cfg.Transport.Host,
				Port:         cfg.Transport.Port,
				Format:       format,
				Backoff:      cfg.Transport.GetReconnectBackoff(),
				WriteTimeout: cfg.Transport.GetWriteTimeout(),
			}, logging.WithComponent("listen"), nil)

			address := fmt.Sprintf("%s:%d", cfg.Transport.Host, cfg.Transport.Port)
			program := tea.NewProgram(viewer.New(address, lines, client.Connected), tea.WithAltScreen(), tea.WithContext(cmd.Context()))

			client.OnMessage(func(msg string) {
				program.Send(viewer.NewCaptionMsg(msg, time.Now()))
			})

			if err := client.Start(cmd.Context()); err != nil {
				return err
			}
			defer client.Stop()

			if _, err := program.Run(); err != nil && cmd.Context().Err() == nil {
				return fmt.Errorf("viewer failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Caption server host (overrides transport.host)")
	cmd.Flags().IntVar(&port, "port", 0, "Caption server port (overrides transport.port)")
	cmd.Flags().IntVar(&lines, "lines", 20, "Number of captions kept on screen")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of discarding them")

	return cmd
}
