package cmd

import (
	"fmt"
	"github.com/arcward/modconcierge/modconcierge"
	"github.com/spf13/cobra"
	"runtime"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(
			cmd.OutOrStdout(),
			"modconcierge %s (commit %s, built %s, %s)\n",
			modconcierge.Version,
			modconcierge.CommitSHA,
			modconcierge.BuildTime,
			runtime.Version(),
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
