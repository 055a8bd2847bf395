package modconcierge

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type moderationFixture struct {
	session    *mockDiscordSession
	guild      *testGuild
	db         DBI
	settings   *GuildSettings
	moderation *Moderation
}

func newModerationFixture(t testing.TB) *moderationFixture {
	t.Helper()

	session := newMockDiscordSession()
	tg := newTestGuild(t, session)
	db := newTestDB(t)
	settings := NewGuildSettings(db, nil, nil)
	events := newEventLogger(session, settings, nil)

	m := newModeration(session, db, settings, events, &ModerationConfig{DMTargets: true}, nil)
	m.botUserID = tg.botUserID
	m.metrics = newMetrics()

	return &moderationFixture{
		session:    session,
		guild:      tg,
		db:         db,
		settings:   settings,
		moderation: m,
	}
}

type moderationHandler func(context.Context, InteractionHandler) (*discordgo.WebhookEdit, error)

// run invokes handler as member from the guild's general channel
func (f *moderationFixture) run(
	t testing.TB,
	handler moderationHandler,
	member *discordgo.Member,
	command string,
	opts ...*discordgo.ApplicationCommandInteractionDataOption,
) (*discordgo.WebhookEdit, error) {
	t.Helper()
	i := newCommandInteraction(f.guild.ID, f.guild.Channel.ID, member, command, opts...)
	return handler(context.Background(), newStubInteractionHandler(t, i))
}

func (f *moderationFixture) logs(t testing.TB, action ModerationAction) []ModerationLog {
	t.Helper()
	records, _, err := moderationLogs(
		context.Background(),
		f.db,
		ModerationLogQuery{GuildID: f.guild.ID, Action: action},
	)
	require.NoError(t, err)
	return records
}

func replyEmbed(t testing.TB, reply *discordgo.WebhookEdit) *discordgo.MessageEmbed {
	t.Helper()
	require.NotNil(t, reply)
	require.NotNil(t, reply.Embeds)
	require.Len(t, *reply.Embeds, 1)
	return (*reply.Embeds)[0]
}

func embedFieldValue(embed *discordgo.MessageEmbed, name string) string {
	for _, f := range embed.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func TestModeration_Kick(t *testing.T) {
	f := newModerationFixture(t)
	target := f.guild.Member

	reply, err := f.run(
		t,
		f.moderation.Kick,
		f.guild.Moderator,
		DiscordSlashCommandKick,
		userOption("member", target.User.ID),
		stringOption("reason", "spamming"),
	)
	require.NoError(t, err)

	embed := replyEmbed(t, reply)
	assert.Equal(t, "👢 Member Kicked", embed.Title)
	assert.Equal(t, "spamming", embedFieldValue(embed, "Reason"))
	assert.Equal(t, "✅ Yes", embedFieldValue(embed, "DM Sent"))
	assert.Equal(t, []string{target.User.ID}, f.session.kicked)

	dms := f.session.sentTo("dm-" + target.User.ID)
	require.Len(t, dms, 1)
	assert.Equal(t, "⚠️ Kick from Test Guild", dms[0].Embed.Title)

	records := f.logs(t, ActionKick)
	require.Len(t, records, 1)
	assert.Equal(t, target.User.ID, records[0].UserID)
	assert.Equal(t, f.guild.Moderator.User.ID, records[0].ModeratorID)
	assert.Equal(t, "spamming", records[0].Reason)

	assert.Equal(
		t,
		float64(1),
		testutil.ToFloat64(f.moderation.metrics.moderationActions.WithLabelValues(string(ActionKick))),
	)
}

func TestModeration_Kick_DMFailure(t *testing.T) {
	f := newModerationFixture(t)
	f.session.fail("UserChannelCreate", errMockDiscord)

	reply, err := f.run(
		t,
		f.moderation.Kick,
		f.guild.Moderator,
		DiscordSlashCommandKick,
		userOption("member", f.guild.Member.User.ID),
	)
	require.NoError(t, err, "a failed DM doesn't stop the kick")
	embed := replyEmbed(t, reply)
	assert.Equal(t, "❌ No", embedFieldValue(embed, "DM Sent"))
	assert.Equal(t, moderationNoReason, embedFieldValue(embed, "Reason"))
	assert.Len(t, f.session.kicked, 1)
}

func TestModeration_TargetChecks(t *testing.T) {
	f := newModerationFixture(t)
	peer := f.session.addMember(
		f.guild.ID,
		"peer",
		f.guild.Moderator.Permissions,
		f.guild.ModeratorRole,
	)

	tests := []struct {
		name    string
		invoker *discordgo.Member
		target  string
		want    string
	}{
		{
			name:    "self",
			invoker: f.guild.Moderator,
			target:  f.guild.Moderator.User.ID,
			want:    "❌ You cannot kick yourself!",
		},
		{
			name:    "bot",
			invoker: f.guild.Moderator,
			target:  f.guild.botUserID(),
			want:    "❌ I cannot kick myself!",
		},
		{
			name:    "owner",
			invoker: f.guild.Admin,
			target:  f.guild.Owner.User.ID,
			want:    "❌ I cannot kick this member (role hierarchy)!",
		},
		{
			name:    "above bot",
			invoker: f.guild.Owner,
			target:  f.guild.Admin.User.ID,
			want:    "❌ I cannot kick this member (role hierarchy)!",
		},
		{
			name:    "same role as invoker",
			invoker: f.guild.Moderator,
			target:  peer.User.ID,
			want:    "❌ You cannot kick this member (role hierarchy)!",
		},
		{
			name:    "not a member",
			invoker: f.guild.Moderator,
			target:  newSnowflake(),
			want:    "❌ That user is not a member of this server!",
		},
		{
			name:    "missing target",
			invoker: f.guild.Moderator,
			want:    "❌ Please specify a member.",
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				var opts []*discordgo.ApplicationCommandInteractionDataOption
				if tc.target != "" {
					opts = append(opts, userOption("member", tc.target))
				}
				_, err := f.run(t, f.moderation.Kick, tc.invoker, DiscordSlashCommandKick, opts...)
				require.Error(t, err)
				assert.Equal(t, tc.want, UserMessage(err, ""))
			},
		)
	}

	assert.Empty(t, f.session.kicked)
	assert.Empty(t, f.logs(t, ActionKick))
}

func TestModeration_OwnerBypassesInvokerHierarchy(t *testing.T) {
	f := newModerationFixture(t)

	// the owner has no roles, but still outranks everyone
	_, err := f.run(
		t,
		f.moderation.Kick,
		f.guild.Owner,
		DiscordSlashCommandKick,
		userOption("member", f.guild.Moderator.User.ID),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{f.guild.Moderator.User.ID}, f.session.kicked)
}

func TestModeration_Permissions(t *testing.T) {
	ctx := context.Background()
	f := newModerationFixture(t)

	_, err := f.run(
		t,
		f.moderation.Kick,
		f.guild.Member,
		DiscordSlashCommandKick,
		userOption("member", f.guild.Other.User.ID),
	)
	assert.Equal(t, msgNoPermission, UserMessage(err, ""))

	// bot missing the permission
	i := newCommandInteraction(
		f.guild.ID,
		f.guild.Channel.ID,
		f.guild.Moderator,
		DiscordSlashCommandKick,
		userOption("member", f.guild.Member.User.ID),
	)
	i.AppPermissions = discordgo.PermissionViewChannel
	_, err = f.moderation.Kick(ctx, newStubInteractionHandler(t, i))
	assert.Equal(t, "❌ I don't have permission to kick members!", UserMessage(err, ""))

	// moderation disabled for the guild
	require.NoError(t, f.settings.Set(ctx, f.guild.ID, settingModerationEnabled, "false"))
	_, err = f.run(
		t,
		f.moderation.Kick,
		f.guild.Moderator,
		DiscordSlashCommandKick,
		userOption("member", f.guild.Member.User.ID),
	)
	assert.Equal(t, msgNoPermission, UserMessage(err, ""))

	_, err = f.run(
		t,
		f.moderation.Kick,
		f.guild.Admin,
		DiscordSlashCommandKick,
		userOption("member", f.guild.Member.User.ID),
	)
	assert.NoError(t, err, "admins aren't affected by the moderation setting")

	// not from a guild
	dm := newCommandInteraction("", "dm", nil, DiscordSlashCommandKick)
	_, err = f.moderation.Kick(ctx, newStubInteractionHandler(t, dm))
	assert.Equal(t, msgGuildOnly, UserMessage(err, ""))
}

func TestModeration_Ban(t *testing.T) {
	f := newModerationFixture(t)
	target := f.guild.Member

	_, err := f.run(
		t,
		f.moderation.Ban,
		f.guild.Moderator,
		DiscordSlashCommandBan,
		userOption("member", target.User.ID),
		intOptionValue("delete_days", 8),
	)
	assert.Equal(t, "❌ delete_days must be between 0 and 7!", UserMessage(err, ""))

	reply, err := f.run(
		t,
		f.moderation.Ban,
		f.guild.Moderator,
		DiscordSlashCommandBan,
		userOption("member", target.User.ID),
		intOptionValue("delete_days", 1),
		stringOption("reason", "raiding"),
	)
	require.NoError(t, err)
	assert.Equal(t, "🔨 Member Banned", replyEmbed(t, reply).Title)
	assert.Equal(t, []string{target.User.ID}, f.session.banned)
	require.Len(t, f.logs(t, ActionBan), 1)

	// ban API failure
	f.session.fail("GuildBanCreateWithReason", errMockDiscord)
	_, err = f.run(
		t,
		f.moderation.Ban,
		f.guild.Moderator,
		DiscordSlashCommandBan,
		userOption("member", f.guild.Other.User.ID),
	)
	assert.Equal(t, "❌ I don't have permission to ban that user!", UserMessage(err, ""))
	assert.ErrorIs(t, err, errMockDiscord)
	assert.Len(t, f.logs(t, ActionBan), 1)
}

func TestModeration_Unban(t *testing.T) {
	f := newModerationFixture(t)
	banned := &discordgo.User{ID: newSnowflake(), Username: "banned"}

	_, err := f.run(
		t,
		f.moderation.Unban,
		f.guild.Moderator,
		DiscordSlashCommandUnban,
		stringOption("user_id", banned.ID),
	)
	assert.Equal(t, "❌ This user is not banned!", UserMessage(err, ""))

	_, err = f.run(t, f.moderation.Unban, f.guild.Moderator, DiscordSlashCommandUnban)
	assert.Equal(t, "❌ Please provide a user ID.", UserMessage(err, ""))

	f.session.addBan(f.guild.ID, banned)
	reply, err := f.run(
		t,
		f.moderation.Unban,
		f.guild.Moderator,
		DiscordSlashCommandUnban,
		stringOption("user_id", banned.ID),
	)
	require.NoError(t, err)
	embed := replyEmbed(t, reply)
	assert.Equal(t, "✅ User Unbanned", embed.Title)
	assert.Equal(t, "banned ("+banned.ID+")", embedFieldValue(embed, "User"))
	assert.Equal(t, []string{banned.ID}, f.session.unbanned)

	records := f.logs(t, ActionUnban)
	require.Len(t, records, 1)
	assert.Equal(t, banned.ID, records[0].UserID)
}

func TestModeration_MuteUnmute(t *testing.T) {
	f := newModerationFixture(t)
	target := f.guild.Member

	for _, minutes := range []int{0, muteMaxMinutes + 1} {
		_, err := f.run(
			t,
			f.moderation.Mute,
			f.guild.Moderator,
			DiscordSlashCommandMute,
			userOption("member", target.User.ID),
			intOptionValue("minutes", minutes),
		)
		assert.Equal(
			t,
			"❌ Duration must be between 1 minute and 28 days (40320 minutes)!",
			UserMessage(err, ""),
		)
	}

	_, err := f.run(
		t,
		f.moderation.Unmute,
		f.guild.Moderator,
		DiscordSlashCommandUnmute,
		userOption("member", target.User.ID),
	)
	assert.Equal(t, "❌ This member is not timed out!", UserMessage(err, ""))

	before := time.Now()
	reply, err := f.run(
		t,
		f.moderation.Mute,
		f.guild.Moderator,
		DiscordSlashCommandMute,
		userOption("member", target.User.ID),
		intOptionValue("minutes", 30),
	)
	require.NoError(t, err)
	embed := replyEmbed(t, reply)
	assert.Equal(t, "🔇 Member Muted", embed.Title)
	assert.Equal(t, "30 minutes", embedFieldValue(embed, "Duration"))

	until := f.session.timeouts[target.User.ID]
	require.NotNil(t, until)
	assert.WithinDuration(t, before.Add(30*time.Minute), *until, 5*time.Second)

	records := f.logs(t, ActionMute)
	require.Len(t, records, 1)
	assert.Equal(t, 30, records[0].DurationMinutes)

	reply, err = f.run(
		t,
		f.moderation.Unmute,
		f.guild.Moderator,
		DiscordSlashCommandUnmute,
		userOption("member", target.User.ID),
	)
	require.NoError(t, err)
	assert.Equal(t, "🔊 Member Unmuted", replyEmbed(t, reply).Title)
	assert.Nil(t, f.session.timeouts[target.User.ID])
	assert.Len(t, f.logs(t, ActionUnmute), 1)
}

func TestModeration_WarnAndHistory(t *testing.T) {
	f := newModerationFixture(t)
	target := f.guild.Member

	reply, err := f.run(
		t,
		f.moderation.Warnings,
		f.guild.Moderator,
		DiscordSlashCommandWarnings,
		userOption("member", target.User.ID),
	)
	require.NoError(t, err)
	assert.Equal(
		t,
		userMention(target.User.ID)+" has no warnings.",
		replyEmbed(t, reply).Description,
	)

	for _, reason := range []string{"first", "second"} {
		reply, err = f.run(
			t,
			f.moderation.Warn,
			f.guild.Moderator,
			DiscordSlashCommandWarn,
			userOption("member", target.User.ID),
			stringOption("reason", reason),
		)
		require.NoError(t, err)
		assert.Equal(t, "⚠️ Member Warned", replyEmbed(t, reply).Title)
	}

	reply, err = f.run(
		t,
		f.moderation.Warnings,
		f.guild.Moderator,
		DiscordSlashCommandWarnings,
		userOption("member", target.User.ID),
	)
	require.NoError(t, err)
	embed := replyEmbed(t, reply)
	assert.Equal(t, userMention(target.User.ID)+" has 2 warning(s):", embed.Description)
	require.Len(t, embed.Fields, 2)
	assert.Contains(t, embed.Fields[0].Value, "**Reason:** second")

	_, err = f.run(
		t,
		f.moderation.Mute,
		f.guild.Moderator,
		DiscordSlashCommandMute,
		userOption("member", target.User.ID),
		intOptionValue("minutes", 5),
	)
	require.NoError(t, err)

	reply, err = f.run(
		t,
		f.moderation.ModLogs,
		f.guild.Moderator,
		DiscordSlashCommandModLogs,
		userOption("member", target.User.ID),
	)
	require.NoError(t, err)
	embed = replyEmbed(t, reply)
	assert.Equal(t, "📜 Moderation Logs", embed.Title)
	assert.Equal(t, userMention(target.User.ID)+" has 3 moderation action(s):", embed.Description)
	require.Len(t, embed.Fields, 3)
	assert.Contains(t, embed.Fields[0].Name, "🔇")
	assert.Contains(t, embed.Fields[0].Name, string(ActionMute))

	// warning a user who isn't in the guild
	_, err = f.run(
		t,
		f.moderation.Warn,
		f.guild.Moderator,
		DiscordSlashCommandWarn,
		userOption("member", newSnowflake()),
	)
	assert.Equal(t, "❌ That user is not a member of this server!", UserMessage(err, ""))
}

func TestModeration_WarningsTruncated(t *testing.T) {
	ctx := context.Background()
	f := newModerationFixture(t)
	target := f.guild.Member

	for n := 0; n < moderationHistoryLimit+2; n++ {
		_, err := f.db.Create(
			ctx,
			&ModerationLog{
				GuildID:     f.guild.ID,
				UserID:      target.User.ID,
				ModeratorID: f.guild.Moderator.User.ID,
				Action:      ActionWarn,
			},
		)
		require.NoError(t, err)
	}

	reply, err := f.run(
		t,
		f.moderation.Warnings,
		f.guild.Moderator,
		DiscordSlashCommandWarnings,
		userOption("member", target.User.ID),
	)
	require.NoError(t, err)
	embed := replyEmbed(t, reply)
	assert.Len(t, embed.Fields, moderationHistoryLimit+1)
	assert.Equal(t, "Showing 10 of 12 warnings.", embedFieldValue(embed, "Note"))
}

func TestModeration_Purge(t *testing.T) {
	f := newModerationFixture(t)
	now := time.Now()
	f.session.addHistory(
		f.guild.Channel.ID,
		&discordgo.Message{ID: "recent-1", Timestamp: now.Add(-time.Minute)},
		&discordgo.Message{ID: "recent-2", Timestamp: now.Add(-time.Hour)},
		&discordgo.Message{ID: "old", Timestamp: now.Add(-15 * 24 * time.Hour)},
	)

	for _, amount := range []int{0, purgeMax + 1} {
		_, err := f.run(
			t,
			f.moderation.Purge,
			f.guild.Moderator,
			DiscordSlashCommandPurge,
			intOptionValue("amount", amount),
		)
		assert.Equal(t, "❌ Please provide a number between 1 and 100.", UserMessage(err, ""))
	}

	reply, err := f.run(
		t,
		f.moderation.Purge,
		f.guild.Moderator,
		DiscordSlashCommandPurge,
		intOptionValue("amount", 10),
	)
	require.NoError(t, err)
	assert.Equal(t, "✨ Successfully deleted 2 messages.", *reply.Content)
	require.Len(t, f.session.bulkDeleted, 1)
	assert.Equal(t, []string{"recent-1", "recent-2"}, f.session.bulkDeleted[0])

	records := f.logs(t, ActionPurge)
	require.Len(t, records, 1)
	assert.Equal(t, f.guild.Moderator.User.ID, records[0].UserID)
	assert.Contains(t, records[0].Reason, "Purged 2 messages")

	reply, err = f.run(
		t,
		f.moderation.Purge,
		f.guild.Moderator,
		DiscordSlashCommandPurge,
		intOptionValue("amount", 1),
	)
	require.NoError(t, err)
	assert.Equal(t, "✨ Successfully deleted 1 message.", *reply.Content)
}

func TestModeration_LockUnlock(t *testing.T) {
	f := newModerationFixture(t)
	channelID := f.guild.Channel.ID

	// moderators don't have manage channels
	_, err := f.run(t, f.moderation.Lock, f.guild.Moderator, DiscordSlashCommandLock)
	assert.Equal(t, msgNoPermission, UserMessage(err, ""))

	reply, err := f.run(
		t,
		f.moderation.Lock,
		f.guild.Admin,
		DiscordSlashCommandLock,
		stringOption("reason", "cooling off"),
	)
	require.NoError(t, err)
	assert.Equal(t, "🔒 Channel Locked", replyEmbed(t, reply).Title)

	require.Len(t, f.session.permissionSets, 1)
	set := f.session.permissionSets[0]
	assert.Equal(t, channelID, set.ChannelID)
	assert.Equal(t, f.guild.ID, set.TargetID)
	assert.Equal(t, int64(discordgo.PermissionSendMessages), set.Deny)
	assert.Equal(t, int64(0), set.Allow)

	records := f.logs(t, ActionLock)
	require.Len(t, records, 1)
	assert.Equal(t, "Locked channel #general: cooling off", records[0].Reason)

	reply, err = f.run(t, f.moderation.Unlock, f.guild.Admin, DiscordSlashCommandUnlock)
	require.NoError(t, err)
	assert.Equal(t, "🔓 Channel Unlocked", replyEmbed(t, reply).Title)

	// the overwrite only denied send messages, so it's removed
	assert.Equal(t, []string{channelID}, f.session.permissionDeletes)
	ch, err := f.session.Channel(channelID)
	require.NoError(t, err)
	assert.Empty(t, ch.PermissionOverwrites)
	assert.Equal(t, "Unlocked channel #general", f.logs(t, ActionUnlock)[0].Reason)
}

func TestModeration_LockKeepsOtherOverwrites(t *testing.T) {
	f := newModerationFixture(t)
	channelID := f.guild.Channel.ID
	require.NoError(
		t,
		f.session.ChannelPermissionSet(
			channelID,
			f.guild.ID,
			discordgo.PermissionOverwriteTypeRole,
			discordgo.PermissionAddReactions,
			discordgo.PermissionAttachFiles,
		),
	)

	_, err := f.run(t, f.moderation.Lock, f.guild.Admin, DiscordSlashCommandLock)
	require.NoError(t, err)
	ch, err := f.session.Channel(channelID)
	require.NoError(t, err)
	allow, deny := everyoneOverwrite(ch, f.guild.ID)
	assert.Equal(t, int64(discordgo.PermissionAddReactions), allow)
	assert.Equal(t, int64(discordgo.PermissionAttachFiles|discordgo.PermissionSendMessages), deny)

	_, err = f.run(t, f.moderation.Unlock, f.guild.Admin, DiscordSlashCommandUnlock)
	require.NoError(t, err)
	ch, err = f.session.Channel(channelID)
	require.NoError(t, err)
	allow, deny = everyoneOverwrite(ch, f.guild.ID)
	assert.Equal(t, int64(discordgo.PermissionAddReactions), allow)
	assert.Equal(t, int64(discordgo.PermissionAttachFiles), deny)
	assert.Empty(t, f.session.permissionDeletes)
}

func TestModeration_LockRequiresTextChannel(t *testing.T) {
	f := newModerationFixture(t)
	voice := f.session.addChannel(f.guild.ID, "voice", discordgo.ChannelTypeGuildVoice)

	_, err := f.run(
		t,
		f.moderation.Lock,
		f.guild.Admin,
		DiscordSlashCommandLock,
		channelOptionValue("channel", voice.ID),
	)
	assert.Equal(t, msgTextChannelOnly, UserMessage(err, ""))
	assert.Empty(t, f.session.permissionSets)
}

func TestModeration_EventLogged(t *testing.T) {
	ctx := context.Background()
	f := newModerationFixture(t)
	modLog := f.session.addChannel(f.guild.ID, "mod-log", discordgo.ChannelTypeGuildText)
	require.NoError(t, f.settings.Set(ctx, f.guild.ID, settingModLogChannel, modLog.ID))

	_, err := f.run(
		t,
		f.moderation.Warn,
		f.guild.Moderator,
		DiscordSlashCommandWarn,
		userOption("member", f.guild.Member.User.ID),
		stringOption("reason", "be nice"),
	)
	require.NoError(t, err)

	logged := f.session.sentTo(modLog.ID)
	require.Len(t, logged, 1)
	assert.Equal(t, "🛡️ Moderation: Warn", logged[0].Embed.Title)
	assert.Equal(t, "be nice", embedFieldValue(logged[0].Embed, "Reason"))
}
