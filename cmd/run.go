package cmd

import (
	"fmt"
	"github.com/arcward/modconcierge/modconcierge"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the bot, admin API and (optionally) webhook server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mc, err := modconcierge.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating modconcierge: %w", err)
		}
		if err = mc.Run(cmd.Context()); err != nil {
			return fmt.Errorf("error running modconcierge: %w", err)
		}
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
