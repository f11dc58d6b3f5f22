package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:   "pbdgate",
	Short: "pbdgate bridges network clients to a multi-axis motor rig over serial",
	Long: `pbdgate routes JSON commands from TCP clients to the motion controller, broadcasts
controller telemetry to subscribers and records and replays play-by-demonstration trajectories.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addRootFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "Path to a YAML config file")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
}

func init() {
	addRootFlags(rootCmd.PersistentFlags())
}
