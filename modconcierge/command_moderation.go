package modconcierge

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/samber/lo"
	"log/slog"
	"time"
)

const (
	msgNoPermission    = "❌ You don't have permission to use this command!"
	msgUnexpectedError = "❌ An unexpected error occurred."
	msgGuildOnly       = "This command can only be used in a server!"
	msgTextChannelOnly = "❌ This command can only be used on text channels!"

	muteMinMinutes = 1

	// muteMaxMinutes is discord's timeout limit (28 days)
	muteMaxMinutes = 40320

	purgeMax = 100

	banMaxDeleteDays = 7

	// bulkDeleteMaxAge is the oldest a message can be and still be
	// bulk deleted
	bulkDeleteMaxAge = 14 * 24 * time.Hour
)

// Moderation implements the moderation slash commands.
type Moderation struct {
	session   DiscordSessionHandler
	db        DBI
	settings  SettingsStore
	events    *EventLogger
	config    *ModerationConfig
	logger    *slog.Logger
	metrics   *metrics
	botUserID func() string
}

func newModeration(
	session DiscordSessionHandler,
	db DBI,
	settings SettingsStore,
	events *EventLogger,
	config *ModerationConfig,
	logger *slog.Logger,
) *Moderation {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = &ModerationConfig{DMTargets: DefaultModerationDMTargets}
	}
	return &Moderation{
		session:   session,
		db:        db,
		settings:  settings,
		events:    events,
		config:    config,
		logger:    logger.With(loggerNameKey, "moderation"),
		botUserID: func() string { return "" },
	}
}

// moderationRequest is the parsed context common to every moderation
// command
type moderationRequest struct {
	interaction *discordgo.InteractionCreate
	guildID     string
	invoker     *discordgo.Member
	options     map[string]*discordgo.ApplicationCommandInteractionDataOption
	reason      string
	logger      *slog.Logger
}

// begin validates the interaction came from a guild member with
// moderator permissions, and parses its options
func (m *Moderation) begin(ctx context.Context, h InteractionHandler) (*moderationRequest, error) {
	i := h.GetInteraction()
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return nil, preconditionFailed(msgGuildOnly)
	}
	if err := checkModeratorPermissions(ctx, m.settings, i.GuildID, i.Member); err != nil {
		return nil, err
	}
	opts := commandOptions(i)
	reason := optionString(opts, "reason")
	if reason == "" {
		reason = moderationNoReason
	}
	return &moderationRequest{
		interaction: i,
		guildID:     i.GuildID,
		invoker:     i.Member,
		options:     opts,
		reason:      reason,
		logger:      contextLoggerOr(ctx, m.logger),
	}, nil
}

// requirePermissions checks the invoker and the bot both have flag
func requirePermissions(r *moderationRequest, flag int64, botDenied string) error {
	if !hasPermission(r.invoker.Permissions, flag) {
		return permissionDenied(msgNoPermission)
	}
	if !hasPermission(r.interaction.AppPermissions, flag) {
		return permissionDenied(botDenied)
	}
	return nil
}

// checkTarget verifies the target can be acted on by both the invoker
// and the bot, and returns the target member. verb is used in the
// error message, ex: "kick".
func (m *Moderation) checkTarget(
	r *moderationRequest,
	targetID string,
	verb string,
) (*discordgo.Member, error) {
	if targetID == "" {
		return nil, preconditionFailed("❌ Please specify a member.")
	}
	if targetID == r.invoker.User.ID {
		return nil, preconditionFailed(fmt.Sprintf("❌ You cannot %s yourself!", verb))
	}
	botID := m.botUserID()
	if botID != "" && targetID == botID {
		return nil, preconditionFailed(fmt.Sprintf("❌ I cannot %s myself!", verb))
	}

	target, err := m.session.GuildMember(r.guildID, targetID)
	if err != nil {
		if isDiscordNotFound(err) {
			return nil, preconditionFailed("❌ That user is not a member of this server!")
		}
		return nil, upstreamFailure(msgUnexpectedError, err)
	}

	guild, err := m.session.Guild(r.guildID)
	if err != nil {
		return nil, upstreamFailure(msgUnexpectedError, err)
	}
	hierarchyErr := permissionDenied(fmt.Sprintf("❌ I cannot %s this member (role hierarchy)!", verb))
	if guild.OwnerID == targetID {
		return nil, hierarchyErr
	}

	roles, err := m.session.GuildRoles(r.guildID)
	if err != nil {
		return nil, upstreamFailure(msgUnexpectedError, err)
	}
	targetTop := topRolePosition(roles, target.Roles)

	if botID != "" {
		botMember, botErr := m.session.GuildMember(r.guildID, botID)
		if botErr != nil {
			return nil, upstreamFailure(msgUnexpectedError, botErr)
		}
		if targetTop >= topRolePosition(roles, botMember.Roles) {
			return nil, hierarchyErr
		}
	}

	if guild.OwnerID != r.invoker.User.ID && targetTop >= topRolePosition(roles, r.invoker.Roles) {
		return nil, permissionDenied(
			fmt.Sprintf("❌ You cannot %s this member (role hierarchy)!", verb),
		)
	}
	return target, nil
}

// notifyTarget sends the target a DM about the action. It returns false
// if DMs are disabled in config, or the DM couldn't be sent (which is
// common, as users can block DMs from server members).
func (m *Moderation) notifyTarget(
	r *moderationRequest,
	targetID string,
	action ModerationAction,
	detail string,
) bool {
	if !m.config.DMTargets {
		return false
	}
	guildName := "the server"
	if g, err := m.session.Guild(r.guildID); err == nil && g.Name != "" {
		guildName = g.Name
	}
	dm, err := m.session.UserChannelCreate(targetID)
	if err != nil {
		r.logger.Warn("unable to open DM channel", columnUserID, targetID, tint.Err(err))
		return false
	}
	embed := newEmbed(
		fmt.Sprintf("⚠️ %s from %s", action.Title(), guildName),
		"",
		colorOrange,
	).
		field("Action", action.Title(), true).
		field("Moderator", memberDisplayName(r.invoker), true).
		field("Reason", detail, false).
		build()
	if _, err = m.session.ChannelMessageSendEmbed(dm.ID, embed); err != nil {
		r.logger.Warn("unable to DM user", columnUserID, targetID, tint.Err(err))
		return false
	}
	return true
}

// record writes the moderation log entry and sends the moderation
// event. A failed write is logged, since by this point the action has
// already been taken.
func (m *Moderation) record(
	ctx context.Context,
	r *moderationRequest,
	action ModerationAction,
	target *discordgo.User,
	reason string,
	durationMinutes int,
) {
	entry := &ModerationLog{
		GuildID:         r.guildID,
		UserID:          r.invoker.User.ID,
		ModeratorID:     r.invoker.User.ID,
		Action:          action,
		Reason:          reason,
		DurationMinutes: durationMinutes,
	}
	if target != nil {
		entry.UserID = target.ID
	}
	if _, err := m.db.Create(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "error saving moderation log", "moderation_log", entry, tint.Err(err))
	} else {
		r.logger.InfoContext(ctx, "moderation action", "moderation_log", entry)
	}
	if m.metrics != nil {
		m.metrics.moderationActions.WithLabelValues(string(action)).Inc()
	}
	if m.events != nil {
		m.events.log(
			ctx,
			moderationEvent(r.guildID, action, r.invoker.User, target, reason, durationMinutes),
		)
	}
}

func auditReason(r *moderationRequest, reason string) discordgo.RequestOption {
	return discordgo.WithAuditLogReason(fmt.Sprintf("By %s: %s", r.invoker.User.Username, reason))
}

func dmSentLabel(sent bool) string {
	return lo.Ternary(sent, "✅ Yes", "❌ No")
}

func (m *Moderation) Kick(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	r, err := m.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	if err = requirePermissions(
		r,
		discordgo.PermissionKickMembers,
		"❌ I don't have permission to kick members!",
	); err != nil {
		return nil, err
	}
	target, err := m.checkTarget(r, optionUserID(r.options, "member"), "kick")
	if err != nil {
		return nil, err
	}

	dmSent := m.notifyTarget(r, target.User.ID, ActionKick, r.reason)
	if err = m.session.GuildMemberDeleteWithReason(
		r.guildID,
		target.User.ID,
		fmt.Sprintf("By %s: %s", r.invoker.User.Username, r.reason),
	); err != nil {
		return nil, upstreamFailure("❌ I don't have permission to kick that user!", err)
	}
	m.record(ctx, r, ActionKick, target.User, r.reason, 0)

	return embedReply(
		newEmbed("👢 Member Kicked", "", colorOrange).
			field("User", memberLabel(target), false).
			field("Moderator", userMention(r.invoker.User.ID), false).
			field("Reason", r.reason, false).
			field("DM Sent", dmSentLabel(dmSent), false).
			build(),
	), nil
}

func (m *Moderation) Ban(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	r, err := m.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	if err = requirePermissions(
		r,
		discordgo.PermissionBanMembers,
		"❌ I don't have permission to ban members!",
	); err != nil {
		return nil, err
	}
	deleteDays := optionInt(r.options, "delete_days", 0)
	if deleteDays < 0 || deleteDays > banMaxDeleteDays {
		return nil, preconditionFailed("❌ delete_days must be between 0 and 7!")
	}
	target, err := m.checkTarget(r, optionUserID(r.options, "member"), "ban")
	if err != nil {
		return nil, err
	}

	dmSent := m.notifyTarget(r, target.User.ID, ActionBan, r.reason)
	if err = m.session.GuildBanCreateWithReason(
		r.guildID,
		target.User.ID,
		fmt.Sprintf("By %s: %s", r.invoker.User.Username, r.reason),
		int(deleteDays),
	); err != nil {
		return nil, upstreamFailure("❌ I don't have permission to ban that user!", err)
	}
	m.record(ctx, r, ActionBan, target.User, r.reason, 0)

	return embedReply(
		newEmbed("🔨 Member Banned", "", colorRed).
			field("User", memberLabel(target), false).
			field("Moderator", userMention(r.invoker.User.ID), false).
			field("Reason", r.reason, false).
			field("DM Sent", dmSentLabel(dmSent), false).
			build(),
	), nil
}

func (m *Moderation) Unban(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	r, err := m.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	if err = requirePermissions(
		r,
		discordgo.PermissionBanMembers,
		"❌ I don't have permission to unban members!",
	); err != nil {
		return nil, err
	}
	userID := optionString(r.options, "user_id")
	if userID == "" {
		return nil, preconditionFailed("❌ Please provide a user ID.")
	}

	ban, err := m.session.GuildBan(r.guildID, userID)
	if err != nil {
		if isDiscordNotFound(err) {
			return nil, preconditionFailed("❌ This user is not banned!")
		}
		return nil, upstreamFailure(msgUnexpectedError, err)
	}
	if err = m.session.GuildBanDelete(r.guildID, userID, auditReason(r, r.reason)); err != nil {
		return nil, upstreamFailure("❌ I don't have permission to unban users!", err)
	}

	user := ban.User
	if user == nil {
		user = &discordgo.User{ID: userID}
	}
	m.record(ctx, r, ActionUnban, user, r.reason, 0)

	return embedReply(
		newEmbed("✅ User Unbanned", "", colorGreen).
			field("User", fmt.Sprintf("%s (%s)", user.Username, user.ID), false).
			field("Moderator", userMention(r.invoker.User.ID), false).
			field("Reason", r.reason, false).
			build(),
	), nil
}

func (m *Moderation) Mute(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	r, err := m.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	if err = requirePermissions(
		r,
		discordgo.PermissionModerateMembers,
		"❌ I don't have permission to timeout members!",
	); err != nil {
		return nil, err
	}
	minutes := optionInt(r.options, "minutes", 0)
	if minutes < muteMinMinutes || minutes > muteMaxMinutes {
		return nil, preconditionFailed(
			"❌ Duration must be between 1 minute and 28 days (40320 minutes)!",
		)
	}
	target, err := m.checkTarget(r, optionUserID(r.options, "member"), "timeout")
	if err != nil {
		return nil, err
	}

	until := time.Now().Add(time.Duration(minutes) * time.Minute)
	if err = m.session.GuildMemberTimeout(
		r.guildID,
		target.User.ID,
		&until,
		auditReason(r, r.reason),
	); err != nil {
		return nil, upstreamFailure("❌ I don't have permission to timeout that user!", err)
	}
	m.notifyTarget(
		r,
		target.User.ID,
		ActionMute,
		fmt.Sprintf("%s (Duration: %d minutes)", r.reason, minutes),
	)
	m.record(ctx, r, ActionMute, target.User, r.reason, int(minutes))

	return embedReply(
		newEmbed("🔇 Member Muted", "", colorOrange).
			field("User", memberLabel(target), false).
			field("Duration", fmt.Sprintf("%d minutes", minutes), false).
			field("Moderator", userMention(r.invoker.User.ID), false).
			field("Reason", r.reason, false).
			field("Expires", discordTimestamp(until.UnixMilli(), "R"), false).
			build(),
	), nil
}

func (m *Moderation) Unmute(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	r, err := m.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	if err = requirePermissions(
		r,
		discordgo.PermissionModerateMembers,
		"❌ I don't have permission to remove timeouts!",
	); err != nil {
		return nil, err
	}
	target, err := m.checkTarget(r, optionUserID(r.options, "member"), "unmute")
	if err != nil {
		return nil, err
	}
	if target.CommunicationDisabledUntil == nil || !target.CommunicationDisabledUntil.After(time.Now()) {
		return nil, preconditionFailed("❌ This member is not timed out!")
	}

	if err = m.session.GuildMemberTimeout(
		r.guildID,
		target.User.ID,
		nil,
		auditReason(r, r.reason),
	); err != nil {
		return nil, upstreamFailure("❌ I don't have permission to unmute that user!", err)
	}
	m.record(ctx, r, ActionUnmute, target.User, r.reason, 0)

	return embedReply(
		newEmbed("🔊 Member Unmuted", "", colorGreen).
			field("User", memberLabel(target), false).
			field("Moderator", userMention(r.invoker.User.ID), false).
			build(),
	), nil
}

func (m *Moderation) Warn(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	r, err := m.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	targetID := optionUserID(r.options, "member")
	if targetID == "" {
		return nil, preconditionFailed("❌ Please specify a member.")
	}
	target, err := m.session.GuildMember(r.guildID, targetID)
	if err != nil {
		if isDiscordNotFound(err) {
			return nil, preconditionFailed("❌ That user is not a member of this server!")
		}
		return nil, upstreamFailure(msgUnexpectedError, err)
	}

	dmSent := m.notifyTarget(r, targetID, ActionWarn, r.reason)
	m.record(ctx, r, ActionWarn, target.User, r.reason, 0)

	return embedReply(
		newEmbed("⚠️ Member Warned", "", colorGold).
			field("User", memberLabel(target), false).
			field("Moderator", userMention(r.invoker.User.ID), false).
			field("Reason", r.reason, false).
			field("DM Sent", dmSentLabel(dmSent), false).
			build(),
	), nil
}

func (m *Moderation) Warnings(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	r, err := m.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	targetID := optionUserID(r.options, "member")
	records, total, err := moderationLogs(
		ctx,
		m.db,
		ModerationLogQuery{
			GuildID: r.guildID,
			UserID:  targetID,
			Action:  ActionWarn,
			Limit:   moderationHistoryLimit,
		},
	)
	if err != nil {
		return nil, upstreamFailure(msgUnexpectedError, err)
	}
	if total == 0 {
		return embedReply(
			newEmbed(
				"📋 Member Warnings",
				fmt.Sprintf("%s has no warnings.", userMention(targetID)),
				colorGreen,
			).build(),
		), nil
	}

	b := newEmbed(
		"📋 Member Warnings",
		fmt.Sprintf("%s has %d warning(s):", userMention(targetID), total),
		colorOrange,
	)
	for _, rec := range records {
		b.field(
			fmt.Sprintf("Warning #%d", rec.ID),
			fmt.Sprintf(
				"**Reason:** %s\n**Moderator:** %s\n**Date:** %s",
				rec.Reason,
				userMention(rec.ModeratorID),
				discordTimestamp(rec.CreatedAt, "F"),
			),
			false,
		)
	}
	if total > int64(len(records)) {
		b.field("Note", fmt.Sprintf("Showing %d of %d warnings.", len(records), total), false)
	}
	return embedReply(b.build()), nil
}

func (m *Moderation) ModLogs(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	r, err := m.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	targetID := optionUserID(r.options, "member")
	records, total, err := moderationLogs(
		ctx,
		m.db,
		ModerationLogQuery{
			GuildID: r.guildID,
			UserID:  targetID,
			Limit:   moderationHistoryLimit,
		},
	)
	if err != nil {
		return nil, upstreamFailure(msgUnexpectedError, err)
	}
	if total == 0 {
		return embedReply(
			newEmbed(
				"📜 Moderation Logs",
				fmt.Sprintf("%s has no moderation history.", userMention(targetID)),
				colorGreen,
			).build(),
		), nil
	}

	b := newEmbed(
		"📜 Moderation Logs",
		fmt.Sprintf("%s has %d moderation action(s):", userMention(targetID), total),
		colorBlue,
	)
	for _, rec := range records {
		b.field(
			fmt.Sprintf("%s Case #%d - %s", rec.Action.Emoji(), rec.ID, rec.Action),
			fmt.Sprintf(
				"**Reason:** %s\n**Moderator:** %s\n**Date:** %s",
				rec.Reason,
				userMention(rec.ModeratorID),
				discordTimestamp(rec.CreatedAt, "F"),
			),
			false,
		)
	}
	if total > int64(len(records)) {
		b.field("Note", fmt.Sprintf("Showing %d of %d actions.", len(records), total), false)
	}
	return embedReply(b.build()), nil
}

func (m *Moderation) Purge(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	r, err := m.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	if err = requirePermissions(
		r,
		discordgo.PermissionManageMessages,
		"❌ I don't have permission to delete messages!",
	); err != nil {
		return nil, err
	}
	amount := optionInt(r.options, "amount", 0)
	if amount < 1 || amount > purgeMax {
		return nil, preconditionFailed("❌ Please provide a number between 1 and 100.")
	}

	channelID := r.interaction.ChannelID
	messages, err := m.session.ChannelMessages(channelID, int(amount), "", "", "")
	if err != nil {
		return nil, upstreamFailure("❌ I don't have permission to delete messages!", err)
	}
	cutoff := time.Now().Add(-bulkDeleteMaxAge)
	ids := lo.FilterMap(
		messages, func(msg *discordgo.Message, _ int) (string, bool) {
			return msg.ID, msg.Timestamp.After(cutoff)
		},
	)
	if len(ids) > 0 {
		if err = m.session.ChannelMessagesBulkDelete(channelID, ids); err != nil {
			return nil, upstreamFailure("❌ I don't have permission to delete messages!", err)
		}
	}
	m.record(
		ctx,
		r,
		ActionPurge,
		nil,
		fmt.Sprintf("Purged %d messages in %s", len(ids), channelMention(channelID)),
		0,
	)

	return contentReply(
		fmt.Sprintf(
			"✨ Successfully deleted %d message%s.",
			len(ids),
			lo.Ternary(len(ids) == 1, "", "s"),
		),
	), nil
}

// lockTarget returns the text channel named by the channel option, or
// the current channel
func (m *Moderation) lockTarget(r *moderationRequest) (*discordgo.Channel, error) {
	channelID := optionChannelID(r.options, "channel")
	if channelID == "" {
		channelID = r.interaction.ChannelID
	}
	ch, err := m.session.Channel(channelID)
	if err != nil {
		return nil, upstreamFailure(msgUnexpectedError, err)
	}
	if ch.Type != discordgo.ChannelTypeGuildText && ch.Type != discordgo.ChannelTypeGuildNews {
		return nil, preconditionFailed(msgTextChannelOnly)
	}
	return ch, nil
}

// everyoneOverwrite returns the allow and deny bits of the channel's
// @everyone overwrite, whose ID is the guild ID
func everyoneOverwrite(ch *discordgo.Channel, guildID string) (allow int64, deny int64) {
	ow, ok := lo.Find(
		ch.PermissionOverwrites, func(o *discordgo.PermissionOverwrite) bool {
			return o.ID == guildID && o.Type == discordgo.PermissionOverwriteTypeRole
		},
	)
	if !ok {
		return 0, 0
	}
	return ow.Allow, ow.Deny
}

func (m *Moderation) Lock(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	r, err := m.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	if err = requirePermissions(
		r,
		discordgo.PermissionManageChannels,
		"❌ I don't have permission to manage channels!",
	); err != nil {
		return nil, err
	}
	ch, err := m.lockTarget(r)
	if err != nil {
		return nil, err
	}

	allow, deny := everyoneOverwrite(ch, r.guildID)
	allow &^= discordgo.PermissionSendMessages
	deny |= discordgo.PermissionSendMessages
	if err = m.session.ChannelPermissionSet(
		ch.ID,
		r.guildID,
		discordgo.PermissionOverwriteTypeRole,
		allow,
		deny,
		discordgo.WithAuditLogReason("Channel locked by "+r.invoker.User.Username),
	); err != nil {
		return nil, upstreamFailure("❌ I don't have permission to modify channel permissions!", err)
	}
	m.record(ctx, r, ActionLock, nil, lockReason("Locked", ch, r.reason), 0)

	return embedReply(
		newEmbed("🔒 Channel Locked", channelMention(ch.ID)+" has been locked.", colorRed).
			field("Moderator", userMention(r.invoker.User.ID), true).
			field("Reason", r.reason, true).
			build(),
	), nil
}

func (m *Moderation) Unlock(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	r, err := m.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	if err = requirePermissions(
		r,
		discordgo.PermissionManageChannels,
		"❌ I don't have permission to manage channels!",
	); err != nil {
		return nil, err
	}
	ch, err := m.lockTarget(r)
	if err != nil {
		return nil, err
	}

	allow, deny := everyoneOverwrite(ch, r.guildID)
	deny &^= discordgo.PermissionSendMessages
	auditOpt := discordgo.WithAuditLogReason("Channel unlocked by " + r.invoker.User.Username)
	if allow == 0 && deny == 0 {
		err = m.session.ChannelPermissionDelete(ch.ID, r.guildID, auditOpt)
		if isDiscordNotFound(err) {
			err = nil
		}
	} else {
		err = m.session.ChannelPermissionSet(
			ch.ID,
			r.guildID,
			discordgo.PermissionOverwriteTypeRole,
			allow,
			deny,
			auditOpt,
		)
	}
	if err != nil {
		return nil, upstreamFailure("❌ I don't have permission to modify channel permissions!", err)
	}
	m.record(ctx, r, ActionUnlock, nil, lockReason("Unlocked", ch, r.reason), 0)

	return embedReply(
		newEmbed("🔓 Channel Unlocked", channelMention(ch.ID)+" has been unlocked.", colorGreen).
			field("Moderator", userMention(r.invoker.User.ID), true).
			build(),
	), nil
}

func lockReason(verb string, ch *discordgo.Channel, reason string) string {
	s := fmt.Sprintf("%s channel #%s", verb, ch.Name)
	if reason != "" && reason != moderationNoReason {
		s += ": " + reason
	}
	return s
}

// isCommandError reports whether err is a [CommandError] of the given kind
func isCommandError(err error, kind ErrorKind) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr) && cmdErr.Kind == kind
}
