package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calvinmclean/pbdgate/bridge"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the serial ports on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := bridge.GetSerialPorts()
		if errors.Is(err, bridge.ErrNoSerialPorts) {
			fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
			return nil
		}
		if err != nil {
			return err
		}

		for _, p := range ports {
			if p.IsUSB {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tusb %s:%s %s\n", p.Name, p.VID, p.PID, p.Product)
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
