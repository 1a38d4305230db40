package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Jxke/soundsight/internal/audio"
	"github.com/Jxke/soundsight/internal/sensor"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture devices and serial ports",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			devices, err := audio.ListDevices()
			if err != nil {
				return fmt.Errorf("failed to list capture devices: %w", err)
			}

			fmt.Fprintln(out, "Capture devices:")
			if len(devices) == 0 {
				fmt.Fprintln(out, "  (none)")
			}
			for _, d := range devices {
				marker := " "
				if d.IsDefault {
					marker = "*"
				}
				fmt.Fprintf(out, " %s %s\n", marker, d.Name)
			}

			ports, err := sensor.ListPorts()
			if err != nil {
				return fmt.Errorf("failed to list serial ports: %w", err)
			}

			detected, _ := sensor.FindPort(ports)

			fmt.Fprintln(out, "Serial ports:")
			if len(ports) == 0 {
				fmt.Fprintln(out, "  (none)")
			}
			for _, p := range ports {
				marker := " "
				if p == detected {
					marker = "*"
				}
				fmt.Fprintf(out, " %s %s\n", marker, p)
			}

			return nil
		},
	}
}
