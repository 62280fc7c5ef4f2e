package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/usnistgov/swpll/serialbridge"
)

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List USB serial ports that may hold a register bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := serialbridge.ListPorts()
			if err != nil {
				return fmt.Errorf("failed to list serial ports: %w", err)
			}
			w := cmd.OutOrStdout()
			if len(ports) == 0 {
				fmt.Fprintln(w, "no USB serial ports found")
			}
			for _, p := range ports {
				fmt.Fprintf(w, "%s VID=%s PID=%s serial=%q %s\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
			}
			return nil
		},
	}
}
