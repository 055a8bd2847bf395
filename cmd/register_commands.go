package cmd

import (
	"fmt"
	"github.com/arcward/modconcierge/modconcierge"
	"github.com/spf13/cobra"
)

var registerCommandsCmd = &cobra.Command{
	Use:   "register-commands",
	Short: "Overwrite the bot's slash commands, globally or for discord.guild_id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Discord.Token == "" || cfg.Discord.ApplicationID == "" {
			return fmt.Errorf("discord token and application ID are required")
		}
		mc, err := modconcierge.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating modconcierge: %w", err)
		}
		created, err := mc.RegisterSlashCommands()
		if err != nil {
			return fmt.Errorf("error registering commands: %w", err)
		}
		out := cmd.OutOrStdout()
		for _, c := range created {
			fmt.Fprintf(out, "registered /%s (%s)\n", c.Name, c.ID)
		}
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(registerCommandsCmd)
}
