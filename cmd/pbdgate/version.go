package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calvinmclean/pbdgate"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of pbdgate",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pbdgate version %s\n", pbdgate.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
