package modconcierge

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"strings"
)

// helpCategory groups commands in /help output
type helpCategory struct {
	Key         string
	Name        string
	Emoji       string
	Description string
	Commands    []string
}

var helpCategories = []helpCategory{
	{
		Key:         "moderation",
		Name:        "Moderation",
		Emoji:       "👮",
		Description: "Server moderation commands",
		Commands: []string{
			DiscordSlashCommandKick,
			DiscordSlashCommandBan,
			DiscordSlashCommandUnban,
			DiscordSlashCommandMute,
			DiscordSlashCommandUnmute,
			DiscordSlashCommandWarn,
			DiscordSlashCommandWarnings,
			DiscordSlashCommandModLogs,
			DiscordSlashCommandPurge,
			DiscordSlashCommandLock,
			DiscordSlashCommandUnlock,
		},
	},
	{
		Key:         "whispers",
		Name:        "Whispers",
		Emoji:       "💬",
		Description: "Private threads between members and staff",
		Commands: []string{
			DiscordSlashCommandOpenWhisper,
			DiscordSlashCommandCloseWhisper,
			DiscordSlashCommandConfigureWhisper,
			DiscordSlashCommandListWhispers,
		},
	},
	{
		Key:         "logging",
		Name:        "Logging",
		Emoji:       "📝",
		Description: "Server event logging",
		Commands:    []string{DiscordSlashCommandLogConfig},
	},
	{
		Key:         "roles",
		Name:        "Roles",
		Emoji:       "🎭",
		Description: "Roles given to new members",
		Commands: []string{
			DiscordSlashCommandSetAutoRole,
			DiscordSlashCommandRemoveAutoRole,
			DiscordSlashCommandListAutoRoles,
		},
	},
	{
		Key:         "leveling",
		Name:        "Leveling",
		Emoji:       "🎮",
		Description: "XP and levels earned by chatting",
		Commands:    []string{DiscordSlashCommandLevel, DiscordSlashCommandLeaderboard},
	},
	{
		Key:         "general",
		Name:        "General",
		Emoji:       "ℹ️",
		Description: "Everything else",
		Commands:    []string{DiscordSlashCommandHelp},
	},
}

func lookupHelpCategory(key string) (helpCategory, bool) {
	return lo.Find(
		helpCategories, func(c helpCategory) bool {
			return c.Key == key
		},
	)
}

func commandCategory(name string) (helpCategory, bool) {
	return lo.Find(
		helpCategories, func(c helpCategory) bool {
			return lo.Contains(c.Commands, name)
		},
	)
}

// Help handles /help. With a command, its description and options are
// shown. With a category, that category's commands. Otherwise every
// category is listed.
func (m *ModConcierge) Help(_ context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	opts := commandOptions(h.GetInteraction())
	commands := lo.SliceToMap(
		applicationCommands(), func(c *discordgo.ApplicationCommand) (string, *discordgo.ApplicationCommand) {
			return c.Name, c
		},
	)

	if name := strings.TrimPrefix(optionString(opts, "command"), "/"); name != "" {
		cmd, ok := commands[name]
		if !ok {
			return nil, preconditionFailed(fmt.Sprintf("❌ Command `/%s` not found!", name))
		}
		return embedReply(commandHelpEmbed(cmd)), nil
	}

	if key := optionString(opts, "category"); key != "" {
		cat, ok := lookupHelpCategory(key)
		if !ok {
			return nil, preconditionFailed("❌ Invalid category specified!")
		}
		b := newEmbed(fmt.Sprintf("%s %s Commands", cat.Emoji, cat.Name), cat.Description, colorBlue)
		for _, name := range cat.Commands {
			if cmd, exists := commands[name]; exists {
				b.field("/"+cmd.Name, cmd.Description, false)
			}
		}
		return embedReply(b.build()), nil
	}

	b := newEmbed(
		"📚 Bot Help",
		"Use `/help category:<name>` or `/help command:<name>` for details.",
		colorBlue,
	)
	for _, cat := range helpCategories {
		names := lo.Map(
			cat.Commands, func(n string, _ int) string {
				return "`/" + n + "`"
			},
		)
		b.field(cat.Emoji+" "+cat.Name, cat.Description+"\n"+strings.Join(names, " "), false)
	}
	return embedReply(b.build()), nil
}

func commandHelpEmbed(cmd *discordgo.ApplicationCommand) *discordgo.MessageEmbed {
	b := newEmbed("📘 Command Help - /"+cmd.Name, cmd.Description, colorBlue)
	if cat, ok := commandCategory(cmd.Name); ok {
		b.field("Category", cat.Emoji+" "+cat.Name, true)
	}
	b.field("Access", lo.Ternary(cmd.DefaultMemberPermissions == nil, "Everyone", "Staff"), true)

	if len(cmd.Options) > 0 {
		lines := lo.Map(
			cmd.Options, func(o *discordgo.ApplicationCommandOption, _ int) string {
				return fmt.Sprintf(
					"`%s`%s - %s",
					o.Name,
					lo.Ternary(o.Required, " (required)", ""),
					o.Description,
				)
			},
		)
		b.field("Options", strings.Join(lines, "\n"), false)
	}
	return b.build()
}
