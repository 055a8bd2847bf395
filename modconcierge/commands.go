package modconcierge

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
)

// Slash command names
const (
	DiscordSlashCommandKick      = "kick"
	DiscordSlashCommandBan       = "ban"
	DiscordSlashCommandUnban     = "unban"
	DiscordSlashCommandMute      = "mute"
	DiscordSlashCommandUnmute    = "unmute"
	DiscordSlashCommandWarn      = "warn"
	DiscordSlashCommandWarnings  = "warnings"
	DiscordSlashCommandModLogs   = "modlogs"
	DiscordSlashCommandPurge     = "purge"
	DiscordSlashCommandLock      = "lock"
	DiscordSlashCommandUnlock    = "unlock"
	DiscordSlashCommandLogConfig = "log-config"

	DiscordSlashCommandOpenWhisper      = "open-whisper"
	DiscordSlashCommandCloseWhisper     = "close-whisper"
	DiscordSlashCommandConfigureWhisper = "configure-whisper"
	DiscordSlashCommandListWhispers     = "list-open-whispers"

	DiscordSlashCommandSetAutoRole    = "set-autorole"
	DiscordSlashCommandRemoveAutoRole = "remove-autorole"
	DiscordSlashCommandListAutoRoles  = "list-autoroles"

	DiscordSlashCommandLevel       = "level"
	DiscordSlashCommandLeaderboard = "leaderboard"

	DiscordSlashCommandHelp = "help"
)

// commandFunc runs a slash command. The returned edit replaces the
// deferred response. A nil edit with a nil error means the command
// already replied.
type commandFunc func(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error)

// commandHandlers maps slash command names to their handlers
func (m *ModConcierge) commandHandlers() map[string]commandFunc {
	return map[string]commandFunc{
		DiscordSlashCommandKick:      m.moderation.Kick,
		DiscordSlashCommandBan:       m.moderation.Ban,
		DiscordSlashCommandUnban:     m.moderation.Unban,
		DiscordSlashCommandMute:      m.moderation.Mute,
		DiscordSlashCommandUnmute:    m.moderation.Unmute,
		DiscordSlashCommandWarn:      m.moderation.Warn,
		DiscordSlashCommandWarnings:  m.moderation.Warnings,
		DiscordSlashCommandModLogs:   m.moderation.ModLogs,
		DiscordSlashCommandPurge:     m.moderation.Purge,
		DiscordSlashCommandLock:      m.moderation.Lock,
		DiscordSlashCommandUnlock:    m.moderation.Unlock,
		DiscordSlashCommandLogConfig: m.eventLogger.LogConfig,

		DiscordSlashCommandOpenWhisper:      m.whispers.Open,
		DiscordSlashCommandCloseWhisper:     m.whispers.Close,
		DiscordSlashCommandConfigureWhisper: m.whispers.Configure,
		DiscordSlashCommandListWhispers:     m.whispers.ListOpen,

		DiscordSlashCommandSetAutoRole:    m.autoRoles.SetAutoRole,
		DiscordSlashCommandRemoveAutoRole: m.autoRoles.RemoveAutoRole,
		DiscordSlashCommandListAutoRoles:  m.autoRoles.ListAutoRoles,

		DiscordSlashCommandLevel:       m.leveling.Level,
		DiscordSlashCommandLeaderboard: m.leveling.Leaderboard,

		DiscordSlashCommandHelp: m.Help,
	}
}

func guildCommand(
	name string,
	description string,
	defaultPerms int64,
	options ...*discordgo.ApplicationCommandOption,
) *discordgo.ApplicationCommand {
	// guild only
	dmPerm := false
	cmd := &discordgo.ApplicationCommand{
		Name:         name,
		Description:  description,
		Type:         discordgo.ChatApplicationCommand,
		DMPermission: &dmPerm,
		Options:      options,
	}
	if defaultPerms != 0 {
		cmd.DefaultMemberPermissions = &defaultPerms
	}
	return cmd
}

func memberOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "member",
		Description: description,
		Required:    true,
	}
}

func reasonOption(description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: description,
		Required:    required,
		MaxLength:   512,
	}
}

func roleOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionRole,
		Name:        "role",
		Description: description,
		Required:    true,
	}
}

func channelOption(description string, types ...discordgo.ChannelType) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         "channel",
		Description:  description,
		ChannelTypes: types,
	}
}

func intOption(name, description string, minValue, maxValue float64, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        name,
		Description: description,
		Required:    required,
		MinValue:    &minValue,
		MaxValue:    maxValue,
	}
}

// applicationCommands returns every slash command the bot registers
func applicationCommands() []*discordgo.ApplicationCommand {
	modPerms := int64(discordgo.PermissionKickMembers | discordgo.PermissionBanMembers)

	categoryChoices := append(
		[]*discordgo.ApplicationCommandOptionChoice{
			{Name: "All categories", Value: logCategoryAll},
		},
		lo.Map(
			logCategories, func(c logCategory, _ int) *discordgo.ApplicationCommandOptionChoice {
				return &discordgo.ApplicationCommandOptionChoice{
					Name:  c.Emoji + " " + c.Name,
					Value: c.Key,
				}
			},
		)...,
	)

	return []*discordgo.ApplicationCommand{
		guildCommand(
			DiscordSlashCommandKick,
			"Remove a member from the server",
			discordgo.PermissionKickMembers,
			memberOption("Member to kick"),
			reasonOption("Reason for the kick", false),
		),
		guildCommand(
			DiscordSlashCommandBan,
			"Ban a member permanently from the server",
			discordgo.PermissionBanMembers,
			memberOption("Member to ban"),
			reasonOption("Reason for the ban", false),
			intOption("delete_days", "Days of messages to delete (0-7)", 0, banMaxDeleteDays, false),
		),
		guildCommand(
			DiscordSlashCommandUnban,
			"Unban a user from the server",
			discordgo.PermissionBanMembers,
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "user_id",
				Description: "ID of the user to unban",
				Required:    true,
				MinLength:   lo.ToPtr(17),
				MaxLength:   20,
			},
			reasonOption("Reason for the unban", false),
		),
		guildCommand(
			DiscordSlashCommandMute,
			"Timeout a member for a specified duration",
			discordgo.PermissionModerateMembers,
			memberOption("Member to timeout"),
			intOption("minutes", "Duration in minutes (1-40320)", muteMinMinutes, muteMaxMinutes, true),
			reasonOption("Reason for the timeout", false),
		),
		guildCommand(
			DiscordSlashCommandUnmute,
			"Remove timeout from a member",
			discordgo.PermissionModerateMembers,
			memberOption("Member to unmute"),
			reasonOption("Reason for removing the timeout", false),
		),
		guildCommand(
			DiscordSlashCommandWarn,
			"Issue a warning to a member",
			modPerms,
			memberOption("Member to warn"),
			reasonOption("Reason for the warning", true),
		),
		guildCommand(
			DiscordSlashCommandWarnings,
			"Display warnings for a member",
			modPerms,
			memberOption("Member to check warnings for"),
		),
		guildCommand(
			DiscordSlashCommandModLogs,
			"Display moderation actions for a member",
			modPerms,
			memberOption("Member to check moderation logs for"),
		),
		guildCommand(
			DiscordSlashCommandPurge,
			"Bulk delete messages from the channel",
			discordgo.PermissionManageMessages,
			intOption("amount", "Number of messages to delete (1-100)", 1, purgeMax, true),
		),
		guildCommand(
			DiscordSlashCommandLock,
			"Lock a channel to prevent @everyone from sending messages",
			discordgo.PermissionManageChannels,
			channelOption(
				"Channel to lock (defaults to current channel)",
				discordgo.ChannelTypeGuildText,
				discordgo.ChannelTypeGuildNews,
			),
			reasonOption("Reason for locking the channel", false),
		),
		guildCommand(
			DiscordSlashCommandUnlock,
			"Unlock a channel to restore @everyone sending messages",
			discordgo.PermissionManageChannels,
			channelOption(
				"Channel to unlock (defaults to current channel)",
				discordgo.ChannelTypeGuildText,
				discordgo.ChannelTypeGuildNews,
			),
			reasonOption("Reason for unlocking the channel", false),
		),
		guildCommand(
			DiscordSlashCommandLogConfig,
			"View or change event logging settings",
			discordgo.PermissionManageServer,
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "category",
				Description: "Logging category to configure",
				Required:    true,
				Choices:     categoryChoices,
			},
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "enabled",
				Description: "Enable or disable logging for this category",
			},
			channelOption(
				"Channel to send logs to for this category",
				discordgo.ChannelTypeGuildText,
				discordgo.ChannelTypeGuildNews,
			),
		),
		guildCommand(
			DiscordSlashCommandOpenWhisper,
			"Open a private thread to talk with staff",
			0,
			reasonOption("Reason for opening the whisper thread", false),
		),
		guildCommand(
			DiscordSlashCommandCloseWhisper,
			"Close the current whisper thread",
			0,
			reasonOption("Reason for closing the whisper thread", false),
		),
		guildCommand(
			DiscordSlashCommandConfigureWhisper,
			"Configure the whisper system",
			discordgo.PermissionManageServer,
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "enabled",
				Description: "Enable or disable the whisper system",
			},
			channelOption(
				"Channel for whisper threads (one is created if not specified)",
				discordgo.ChannelTypeGuildText,
			),
		),
		guildCommand(
			DiscordSlashCommandListWhispers,
			"List all open whisper threads",
			discordgo.PermissionAdministrator,
		),
		guildCommand(
			DiscordSlashCommandSetAutoRole,
			"Give a role to every new member",
			discordgo.PermissionManageRoles,
			roleOption("Role to assign automatically"),
		),
		guildCommand(
			DiscordSlashCommandRemoveAutoRole,
			"Stop giving a role to new members",
			discordgo.PermissionManageRoles,
			roleOption("Role to stop assigning"),
		),
		guildCommand(
			DiscordSlashCommandListAutoRoles,
			"List the roles given to new members",
			discordgo.PermissionManageRoles,
		),
		guildCommand(
			DiscordSlashCommandLevel,
			"Show your current level and XP progress",
			0,
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "member",
				Description: "Member to show (defaults to you)",
			},
		),
		guildCommand(
			DiscordSlashCommandLeaderboard,
			"Show the top members by XP",
			0,
		),
		guildCommand(
			DiscordSlashCommandHelp,
			"Get help with bot commands",
			0,
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "category",
				Description: "Category to list commands for",
				Choices: lo.Map(
					helpCategories, func(c helpCategory, _ int) *discordgo.ApplicationCommandOptionChoice {
						return &discordgo.ApplicationCommandOptionChoice{Name: c.Name, Value: c.Key}
					},
				),
			},
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "command",
				Description: "Command to show details for",
				MaxLength:   32,
			},
		),
	}
}
