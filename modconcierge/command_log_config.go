package modconcierge

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strconv"
	"strings"
)

// logCategoryAll is the /log-config category that applies to the master
// switch and every category at once
const logCategoryAll = "all"

// LogConfig handles /log-config.
//
// With only a category, the current configuration is shown. For
// category "all", enabled=true turns on the master switch and every
// category, enabled=false turns off the master switch, and channel sets
// the channel for every category.
func (e *EventLogger) LogConfig(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	i := h.GetInteraction()
	if i.GuildID == "" || i.Member == nil {
		return nil, preconditionFailed(msgGuildOnly)
	}
	if !hasPermission(i.Member.Permissions, discordgo.PermissionManageServer) {
		return nil, permissionDenied(msgNoPermission)
	}
	opts := commandOptions(i)
	category := optionString(opts, "category")
	enabled, enabledSet := optionBool(opts, "enabled")
	channelID := optionChannelID(opts, "channel")

	if category != logCategoryAll {
		if _, ok := lookupLogCategory(category); !ok {
			return nil, preconditionFailed("❌ Invalid category specified!")
		}
	}

	if channelID != "" {
		ch, err := e.session.Channel(channelID)
		if err != nil {
			return nil, upstreamFailure(msgUnexpectedError, err)
		}
		if ch.GuildID != i.GuildID ||
			(ch.Type != discordgo.ChannelTypeGuildText && ch.Type != discordgo.ChannelTypeGuildNews) {
			return nil, preconditionFailed(msgTextChannelOnly)
		}
	}

	updates := logConfigUpdates(category, enabled, enabledSet, channelID)
	if len(updates) > 0 {
		if err := setMany(ctx, e.settings, i.GuildID, updates); err != nil {
			return nil, upstreamFailure(msgUnexpectedError, err)
		}
		h.Logger().InfoContext(ctx, "updated log settings", "category", category, "settings", updates)
	}

	if category == logCategoryAll {
		return e.logConfigOverview(ctx, i.GuildID)
	}
	cat, _ := lookupLogCategory(category)
	return e.logConfigCategory(ctx, i.GuildID, cat, enabledSet, enabled, channelID)
}

func logConfigUpdates(
	category string,
	enabled bool,
	enabledSet bool,
	channelID string,
) map[string]string {
	updates := map[string]string{}
	if category == logCategoryAll {
		if enabledSet {
			updates[settingUnifiedLoggingEnabled] = strconv.FormatBool(enabled)
			if enabled {
				for _, c := range logCategories {
					updates[c.eventsSetting()] = "true"
				}
			}
		}
		if channelID != "" {
			for _, c := range logCategories {
				updates[c.channelSetting()] = channelID
			}
		}
		return updates
	}

	cat, _ := lookupLogCategory(category)
	if enabledSet {
		updates[cat.eventsSetting()] = strconv.FormatBool(enabled)
	}
	if channelID != "" {
		updates[cat.channelSetting()] = channelID
	}
	return updates
}

func (e *EventLogger) logConfigOverview(ctx context.Context, guildID string) (*discordgo.WebhookEdit, error) {
	master, err := settingBool(ctx, e.settings, guildID, settingUnifiedLoggingEnabled, true)
	if err != nil {
		return nil, upstreamFailure(msgUnexpectedError, err)
	}
	b := newEmbed(
		"📊 Unified Logging System Configuration",
		"**Master Status**: "+enabledLabel(master),
		colorBlue,
	)
	for _, cat := range logCategories {
		value, catErr := e.categoryStatus(ctx, guildID, cat)
		if catErr != nil {
			return nil, upstreamFailure(msgUnexpectedError, catErr)
		}
		b.field(cat.Emoji+" "+cat.Name, value, true)
	}
	b.footer("Use /log-config to modify settings")
	return embedReply(b.build()), nil
}

func (e *EventLogger) logConfigCategory(
	ctx context.Context,
	guildID string,
	cat logCategory,
	enabledSet bool,
	enabled bool,
	channelID string,
) (*discordgo.WebhookEdit, error) {
	var changes []string
	if enabledSet {
		changes = append(changes, "**Status**: "+strings.ToLower(enabledWord(enabled)))
	}
	if channelID != "" {
		changes = append(changes, "**Channel**: "+channelMention(channelID))
	}

	title := fmt.Sprintf("%s %s Configuration", cat.Emoji, cat.Name)
	description := ""
	if len(changes) > 0 {
		title += " Updated"
		description = "**Changes Made**:\n" + strings.Join(changes, "\n")
	}

	value, err := e.categoryStatus(ctx, guildID, cat)
	if err != nil {
		return nil, upstreamFailure(msgUnexpectedError, err)
	}
	return embedReply(
		newEmbed(title, description, cat.Color).
			field("Current Configuration", value, false).
			build(),
	), nil
}

func (e *EventLogger) categoryStatus(ctx context.Context, guildID string, cat logCategory) (string, error) {
	enabled, err := settingBool(ctx, e.settings, guildID, cat.eventsSetting(), true)
	if err != nil {
		return "", err
	}
	channelID, err := e.LogChannel(ctx, guildID, cat.Key)
	if err != nil {
		return "", err
	}
	channelDisplay := "Not configured"
	if channelID != "" {
		channelDisplay = channelMention(channelID)
	}
	return fmt.Sprintf("**Status**: %s\n**Channel**: %s", enabledLabel(enabled), channelDisplay), nil
}

func enabledWord(enabled bool) string {
	if enabled {
		return "Enabled"
	}
	return "Disabled"
}
