package modconcierge

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

type whisperFixture struct {
	session  *mockDiscordSession
	guild    *testGuild
	db       DBI
	store    *gormWhisperStore
	registry *WhisperRegistry
	settings *GuildSettings
	events   *EventLogger
	whispers *Whispers
}

func newWhisperFixture(t testing.TB) *whisperFixture {
	t.Helper()

	session := newMockDiscordSession()
	tg := newTestGuild(t, session)
	db := newTestDB(t)
	settings := NewGuildSettings(db, nil, nil)
	registry := NewWhisperRegistry()
	store := newWhisperStore(db)

	w := newWhispers(session, store, registry, settings, DefaultConfig().Whisper, nil)
	w.botUserID = tg.botUserID
	w.metrics = newMetrics()
	w.events = newEventLogger(session, settings, nil)

	return &whisperFixture{
		session:  session,
		guild:    tg,
		db:       db,
		store:    store,
		registry: registry,
		settings: settings,
		events:   w.events,
		whispers: w,
	}
}

func findOverwrite(
	overwrites []*discordgo.PermissionOverwrite,
	id string,
) (*discordgo.PermissionOverwrite, bool) {
	return lo.Find(
		overwrites, func(o *discordgo.PermissionOverwrite) bool {
			return o.ID == id
		},
	)
}

func TestOpenWhisper(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	user := f.guild.Member.User

	threadID, created, err := f.whispers.OpenWhisper(ctx, f.guild.ID, user, "question about my ban")
	require.NoError(t, err)
	assert.True(t, created)
	require.NotEmpty(t, threadID)

	// whisper channel was created and saved
	channelID, err := settingString(ctx, f.settings, f.guild.ID, settingWhisperChannel)
	require.NoError(t, err)
	require.NotEmpty(t, channelID)
	require.Len(t, f.session.channelsCreated, 1)
	created0 := f.session.channelsCreated[0]
	assert.Equal(t, DefaultConfig().Whisper.ChannelName, created0.Name)
	assert.Equal(t, discordgo.ChannelTypeGuildText, created0.Type)

	everyone, ok := findOverwrite(created0.PermissionOverwrites, f.guild.ID)
	require.True(t, ok)
	assert.Equal(t, int64(discordgo.PermissionViewChannel), everyone.Deny)
	assert.Equal(t, discordgo.PermissionOverwriteTypeRole, everyone.Type)

	bot, ok := findOverwrite(created0.PermissionOverwrites, f.guild.botUserID())
	require.True(t, ok)
	assert.Equal(t, discordgo.PermissionOverwriteTypeMember, bot.Type)
	assert.Equal(t, int64(whisperBotPermissions), bot.Allow)

	admin, ok := findOverwrite(created0.PermissionOverwrites, f.guild.AdminRole.ID)
	require.True(t, ok)
	assert.Equal(t, int64(whisperStaffPermissions), admin.Allow)

	_, ok = findOverwrite(created0.PermissionOverwrites, f.guild.ModeratorRole.ID)
	assert.False(t, ok, "non-admin roles shouldn't get access")

	// private thread with the user added
	require.Equal(t, 1, f.session.threadCount())
	start := f.session.threadsStarted[0]
	assert.Equal(t, "Whisper-"+user.ID, start.Name)
	assert.Equal(t, discordgo.ChannelTypeGuildPrivateThread, start.Type)
	assert.False(t, start.Invitable)
	assert.Equal(t, []string{user.ID}, f.session.threadMembers[threadID])

	intro := f.session.sentTo(threadID)
	require.Len(t, intro, 1)
	require.NotNil(t, intro[0].Embed)
	assert.Equal(t, "New Whisper Thread", intro[0].Embed.Title)
	assert.Equal(t, "question about my ban", intro[0].Embed.Description)

	record, err := f.store.OpenWhisperByUser(ctx, f.guild.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, threadID, record.ThreadID)
	assert.Equal(t, channelID, record.ChannelID)
	assert.Equal(t, "question about my ban", record.Reason)

	cached, ok := f.registry.Lookup(f.guild.ID, user.ID)
	require.True(t, ok)
	assert.Equal(t, threadID, cached)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.whispers.metrics.whispersOpened))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.whispers.metrics.whispersOpen))
}

func TestOpenWhisper_DefaultReason(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)

	threadID, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "")
	require.NoError(t, err)

	record, err := f.store.OpenWhisperByThread(ctx, f.guild.ID, threadID)
	require.NoError(t, err)
	assert.Equal(t, whisperNoReason, record.Reason)
}

func TestOpenWhisper_Existing(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	user := f.guild.Member.User

	first, created, err := f.whispers.OpenWhisper(ctx, f.guild.ID, user, "")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := f.whispers.OpenWhisper(ctx, f.guild.ID, user, "again")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	assert.Equal(t, 1, f.session.threadCount())
	assert.Len(t, f.session.channelsCreated, 1)

	// the existing channel is reused for other users
	_, created, err = f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Other.User, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, f.session.threadCount())
	assert.Len(t, f.session.channelsCreated, 1)
}

func TestOpenWhisper_Disabled(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	require.NoError(t, f.settings.Set(ctx, f.guild.ID, settingWhisperEnabled, "false"))

	_, created, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "")
	require.Error(t, err)
	assert.False(t, created)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Equal(t, msgWhisperDisabled, UserMessage(err, ""))

	assert.Equal(t, 0, f.session.threadCount())
	assert.Empty(t, f.session.channelsCreated)
}

func TestOpenWhisper_ChannelRecreated(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	user := f.guild.Member.User

	first, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, user, "")
	require.NoError(t, err)
	oldChannel, err := settingString(ctx, f.settings, f.guild.ID, settingWhisperChannel)
	require.NoError(t, err)

	_, err = f.whispers.CloseWhisper(ctx, f.guild.ID, first, f.guild.Member, "")
	require.NoError(t, err)

	// deleted by someone in the guild
	f.session.removeChannel(oldChannel)

	_, created, err := f.whispers.OpenWhisper(ctx, f.guild.ID, user, "")
	require.NoError(t, err)
	assert.True(t, created)

	newChannel, err := settingString(ctx, f.settings, f.guild.ID, settingWhisperChannel)
	require.NoError(t, err)
	assert.NotEqual(t, oldChannel, newChannel)
	assert.Len(t, f.session.channelsCreated, 2)
}

func TestOpenWhisper_ChannelLookupFailure(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	require.NoError(t, f.settings.Set(ctx, f.guild.ID, settingWhisperChannel, f.guild.Channel.ID))

	f.session.fail("Channel", errMockDiscord)

	_, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, err, errMockDiscord)
	assert.Equal(t, msgWhisperChannelFailed, UserMessage(err, ""))

	// only a missing channel is replaced
	assert.Empty(t, f.session.channelsCreated)
}

func TestOpenWhisper_ThreadFailure(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	f.session.fail("ThreadStartComplex", errMockDiscord)

	_, created, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "")
	require.Error(t, err)
	assert.False(t, created)
	assert.ErrorIs(t, err, ErrUpstreamFailure)
	assert.Equal(t, msgWhisperThreadFailed, UserMessage(err, ""))

	_, err = f.store.OpenWhisperByUser(ctx, f.guild.ID, f.guild.Member.User.ID)
	assert.True(t, isRecordNotFound(err), "nothing should be persisted")
	assert.Equal(t, 0, f.registry.Len())
}

func TestOpenWhisper_ThreadMemberFailure(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	f.session.fail("ThreadMemberAdd", errMockDiscord)

	_, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamFailure)

	_, err = f.store.OpenWhisperByUser(ctx, f.guild.ID, f.guild.Member.User.ID)
	assert.True(t, isRecordNotFound(err))
	_, ok := f.registry.Lookup(f.guild.ID, f.guild.Member.User.ID)
	assert.False(t, ok)
}

// Opens for the same user racing each other end up with one record,
// and every caller is told about the same thread
func TestOpenWhisper_Concurrent(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	user := f.guild.Member.User

	const callers = 8

	type result struct {
		threadID string
		created  bool
		err      error
	}
	results := make([]result, callers)

	start := make(chan struct{})
	wg := &sync.WaitGroup{}
	for n := 0; n < callers; n++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			threadID, created, err := f.whispers.OpenWhisper(ctx, f.guild.ID, user, "")
			results[idx] = result{threadID: threadID, created: created, err: err}
		}(n)
	}
	close(start)
	wg.Wait()

	winners := lo.Filter(
		results, func(r result, _ int) bool {
			return r.created
		},
	)
	require.Len(t, winners, 1)
	winner := winners[0].threadID

	for _, r := range results {
		switch {
		case r.created:
			require.NoError(t, r.err)
		case r.err != nil:
			assert.True(t, isCommandError(r.err, KindPreconditionFailed), "got: %v", r.err)
			assert.Contains(t, UserMessage(r.err, ""), channelMention(winner))
		default:
			assert.Equal(t, winner, r.threadID)
		}
	}

	open, err := f.store.OpenWhispersByGuild(ctx, f.guild.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, winner, open[0].ThreadID)

	cached, ok := f.registry.Lookup(f.guild.ID, user.ID)
	require.True(t, ok)
	assert.Equal(t, winner, cached)

	assert.Len(t, f.session.channelsCreated, 1, "expected a single whisper channel")
}

func TestCloseWhisper(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		actor func(g *testGuild) *discordgo.Member
	}{
		{name: "owner", actor: func(g *testGuild) *discordgo.Member { return g.Member }},
		{name: "admin", actor: func(g *testGuild) *discordgo.Member { return g.Admin }},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				f := newWhisperFixture(t)
				user := f.guild.Member.User
				threadID, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, user, "")
				require.NoError(t, err)

				actor := tc.actor(f.guild)
				record, err := f.whispers.CloseWhisper(ctx, f.guild.ID, threadID, actor, "resolved")
				require.NoError(t, err)
				assert.False(t, record.IsOpen)
				require.NotNil(t, record.ClosedBy)
				assert.Equal(t, actor.User.ID, *record.ClosedBy)
				require.NotNil(t, record.CloseReason)
				assert.Equal(t, "resolved", *record.CloseReason)

				_, ok := f.registry.Lookup(f.guild.ID, user.ID)
				assert.False(t, ok)
				_, err = f.store.OpenWhisperByThread(ctx, f.guild.ID, threadID)
				assert.True(t, isRecordNotFound(err))

				messages := f.session.sentTo(threadID)
				require.Len(t, messages, 2)
				assert.Equal(t, "Whisper Thread Closed", messages[1].Embed.Title)
				assert.Equal(t, "resolved", messages[1].Embed.Description)

				assert.Equal(t, float64(1), testutil.ToFloat64(f.whispers.metrics.whispersClosed))
				assert.Equal(t, float64(0), testutil.ToFloat64(f.whispers.metrics.whispersOpen))
			},
		)
	}
}

func TestCloseWhisper_Denied(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	threadID, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "")
	require.NoError(t, err)

	for _, actor := range []*discordgo.Member{f.guild.Other, f.guild.Moderator, nil} {
		_, err = f.whispers.CloseWhisper(ctx, f.guild.ID, threadID, actor, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.Equal(t, msgWhisperCloseDenied, UserMessage(err, ""))
	}

	_, ok := f.registry.Lookup(f.guild.ID, f.guild.Member.User.ID)
	assert.True(t, ok, "whisper should still be open")
	assert.Len(t, f.session.sentTo(threadID), 1)
}

func TestCloseWhisper_NotWhisperThread(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)

	_, err := f.whispers.CloseWhisper(ctx, f.guild.ID, f.guild.Channel.ID, f.guild.Admin, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Equal(t, msgNotWhisperThread, UserMessage(err, ""))

	// already closed
	threadID, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "")
	require.NoError(t, err)
	_, err = f.whispers.CloseWhisper(ctx, f.guild.ID, threadID, f.guild.Member, "")
	require.NoError(t, err)
	_, err = f.whispers.CloseWhisper(ctx, f.guild.ID, threadID, f.guild.Member, "")
	assert.Equal(t, msgNotWhisperThread, UserMessage(err, ""))
}

func TestCloseWhisper_SendFailure(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	threadID, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "")
	require.NoError(t, err)

	f.session.fail("ChannelMessageSendEmbed", errMockDiscord)
	_, err = f.whispers.CloseWhisper(ctx, f.guild.ID, threadID, f.guild.Member, "")
	require.Error(t, err)
	assert.Equal(t, msgWhisperCloseFailed, UserMessage(err, ""))

	_, err = f.store.OpenWhisperByThread(ctx, f.guild.ID, threadID)
	assert.NoError(t, err, "whisper should still be open")
}

func TestWhisperEvents(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	logChannel := f.session.addChannel(f.guild.ID, "whisper-log", discordgo.ChannelTypeGuildText)
	require.NoError(t, f.settings.Set(ctx, f.guild.ID, "log_whisper_channel", logChannel.ID))

	threadID, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "hello")
	require.NoError(t, err)
	_, err = f.whispers.CloseWhisper(ctx, f.guild.ID, threadID, f.guild.Admin, "done")
	require.NoError(t, err)

	logged := f.session.sentTo(logChannel.ID)
	require.Len(t, logged, 2)
	assert.Equal(t, "🤫 Whisper Created", logged[0].Embed.Title)
	assert.Equal(t, "🤫 Whisper Closed", logged[1].Embed.Title)
	assert.Equal(t, "Category: Whisper Events", logged[1].Embed.Footer.Text)
}

func TestWhispers_OpenCommand(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)

	i := newCommandInteraction(
		f.guild.ID,
		f.guild.Channel.ID,
		f.guild.Member,
		DiscordSlashCommandOpenWhisper,
		stringOption("reason", "help"),
	)
	reply, err := f.whispers.Open(ctx, newStubInteractionHandler(t, i))
	require.NoError(t, err)

	threadID, ok := f.registry.Lookup(f.guild.ID, f.guild.Member.User.ID)
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf(msgWhisperCreated, channelMention(threadID)), *reply.Content)

	reply, err = f.whispers.Open(ctx, newStubInteractionHandler(t, i))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf(msgWhisperExists, channelMention(threadID)), *reply.Content)

	// not from a guild
	dm := newCommandInteraction("", "dm", nil, DiscordSlashCommandOpenWhisper)
	dm.User = f.guild.Member.User
	_, err = f.whispers.Open(ctx, newStubInteractionHandler(t, dm))
	assert.Equal(t, msgGuildOnly, UserMessage(err, ""))
}

func TestWhispers_CloseCommand(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	threadID, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "")
	require.NoError(t, err)

	i := newCommandInteraction(
		f.guild.ID,
		threadID,
		f.guild.Member,
		DiscordSlashCommandCloseWhisper,
		stringOption("reason", "thanks"),
	)
	h := newStubInteractionHandler(t, i)
	reply, err := f.whispers.Close(ctx, h)
	require.NoError(t, err)
	assert.Nil(t, reply, "the reply is sent before archiving")

	edit := waitForEdit(t, h, time.Second)
	assert.Equal(t, msgWhisperClosed, *edit.Content)

	f.session.mu.Lock()
	archive, ok := f.session.channelEdits[threadID]
	f.session.mu.Unlock()
	require.True(t, ok)
	require.NotNil(t, archive.Archived)
	assert.True(t, *archive.Archived)
	require.NotNil(t, archive.Locked)
	assert.True(t, *archive.Locked)
}

func TestWhispers_CloseCommand_ArchiveFailure(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	threadID, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "")
	require.NoError(t, err)
	f.session.fail("ChannelEdit", errMockDiscord)

	i := newCommandInteraction(f.guild.ID, threadID, f.guild.Admin, DiscordSlashCommandCloseWhisper)
	h := newStubInteractionHandler(t, i)
	_, err = f.whispers.Close(ctx, h)
	require.NoError(t, err, "the whisper is closed even if archiving fails")
	assert.Equal(t, msgWhisperClosed, *h.lastEdit().Content)

	_, err = f.store.OpenWhisperByThread(ctx, f.guild.ID, threadID)
	assert.True(t, isRecordNotFound(err))
}

func TestWhispers_ListOpen(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)

	list := func(member *discordgo.Member) (*discordgo.WebhookEdit, error) {
		i := newCommandInteraction(
			f.guild.ID,
			f.guild.Channel.ID,
			member,
			DiscordSlashCommandListWhispers,
		)
		return f.whispers.ListOpen(ctx, newStubInteractionHandler(t, i))
	}

	_, err := list(f.guild.Moderator)
	assert.Equal(t, msgWhisperListDenied, UserMessage(err, ""))

	reply, err := list(f.guild.Admin)
	require.NoError(t, err)
	assert.Equal(t, msgWhisperNoneOpen, *reply.Content)

	first, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "")
	require.NoError(t, err)
	_, _, err = f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Other.User, "")
	require.NoError(t, err)

	reply, err = list(f.guild.Admin)
	require.NoError(t, err)
	require.NotNil(t, reply.Embeds)
	embeds := *reply.Embeds
	require.Len(t, embeds, 1)
	assert.Equal(t, "📝 Active Whisper Threads", embeds[0].Title)
	require.Len(t, embeds[0].Fields, 2)
	assert.Equal(t, "Thread: Whisper-"+f.guild.Member.User.ID, embeds[0].Fields[0].Name)
	assert.Contains(t, embeds[0].Fields[0].Value, channelMention(first))
	assert.Contains(t, embeds[0].Fields[0].Value, userMention(f.guild.Member.User.ID))
}

func TestWhispers_Configure(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)

	configure := func(
		member *discordgo.Member,
		opts ...*discordgo.ApplicationCommandInteractionDataOption,
	) (*discordgo.WebhookEdit, error) {
		i := newCommandInteraction(
			f.guild.ID,
			f.guild.Channel.ID,
			member,
			DiscordSlashCommandConfigureWhisper,
			opts...,
		)
		return f.whispers.Configure(ctx, newStubInteractionHandler(t, i))
	}

	_, err := configure(f.guild.Moderator, boolOption("enabled", false))
	assert.Equal(t, msgNoPermission, UserMessage(err, ""))

	reply, err := configure(f.guild.Admin, boolOption("enabled", false))
	require.NoError(t, err)
	embeds := *reply.Embeds
	assert.Equal(t, "⚙️ Whisper System Settings", embeds[0].Title)
	assert.Equal(t, enabledLabel(false), embeds[0].Fields[0].Value)

	enabled, err := settingBool(ctx, f.settings, f.guild.ID, settingWhisperEnabled, true)
	require.NoError(t, err)
	assert.False(t, enabled)

	// channel must be a text channel in this guild
	voice := f.session.addChannel(f.guild.ID, "voice", discordgo.ChannelTypeGuildVoice)
	_, err = configure(f.guild.Admin, channelOptionValue("channel", voice.ID))
	assert.Equal(t, msgTextChannelOnly, UserMessage(err, ""))

	elsewhere := f.session.addChannel(newSnowflake(), "elsewhere", discordgo.ChannelTypeGuildText)
	_, err = configure(f.guild.Admin, channelOptionValue("channel", elsewhere.ID))
	assert.Equal(t, msgTextChannelOnly, UserMessage(err, ""))

	// enabling without a channel creates one
	reply, err = configure(f.guild.Admin, boolOption("enabled", true))
	require.NoError(t, err)
	require.Len(t, f.session.channelsCreated, 1)
	channelID, err := settingString(ctx, f.settings, f.guild.ID, settingWhisperChannel)
	require.NoError(t, err)
	require.NotEmpty(t, channelID)
	embeds = *reply.Embeds
	require.Len(t, embeds[0].Fields, 3)
	assert.Equal(t, channelMention(channelID), embeds[0].Fields[1].Value)

	// switching to an existing channel
	_, err = configure(f.guild.Admin, channelOptionValue("channel", f.guild.Channel.ID))
	require.NoError(t, err)
	channelID, err = settingString(ctx, f.settings, f.guild.ID, settingWhisperChannel)
	require.NoError(t, err)
	assert.Equal(t, f.guild.Channel.ID, channelID)
	assert.Len(t, f.session.channelsCreated, 1)
}

func TestWhispers_Rebuild(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)

	w := newTestWhisper(f.guild.ID, f.guild.Member.User.ID)
	require.NoError(t, f.store.CreateWhisper(ctx, w))
	closed := newTestWhisper(f.guild.ID, f.guild.Other.User.ID)
	require.NoError(t, f.store.CreateWhisper(ctx, closed))
	_, err := f.store.CloseWhisper(ctx, f.guild.ID, closed.ThreadID, "x", "", time.Now().UnixMilli())
	require.NoError(t, err)

	require.NoError(t, f.whispers.Rebuild(ctx))
	assert.Equal(t, 1, f.registry.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.whispers.metrics.whispersOpen))

	// opening with a persisted record doesn't create a new thread
	threadID, created, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, w.ThreadID, threadID)
	assert.Equal(t, 0, f.session.threadCount())
}

// failingWhisperStore returns createErr and closeErr from the
// corresponding writes, and passes everything else through
type failingWhisperStore struct {
	WhisperStore
	createErr error
	closeErr  error
}

func (s *failingWhisperStore) CreateWhisper(ctx context.Context, w *WhisperThread) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.WhisperStore.CreateWhisper(ctx, w)
}

func (s *failingWhisperStore) CloseWhisper(
	ctx context.Context,
	guildID string,
	threadID string,
	closedBy string,
	reason string,
	closedAt int64,
) (int64, error) {
	if s.closeErr != nil {
		return 0, s.closeErr
	}
	return s.WhisperStore.CloseWhisper(ctx, guildID, threadID, closedBy, reason, closedAt)
}

func TestOpenWhisper_StoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	f.whispers.store = &failingWhisperStore{
		WhisperStore: f.store,
		createErr:    errors.New("database is locked"),
	}
	user := f.guild.Member.User

	_, created, err := f.whispers.OpenWhisper(ctx, f.guild.ID, user, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamFailure)
	assert.False(t, created)

	_, ok := f.registry.Lookup(f.guild.ID, user.ID)
	assert.False(t, ok, "registry shouldn't record a whisper the store rejected")
	_, err = f.store.OpenWhisperByUser(ctx, f.guild.ID, user.ID)
	assert.True(t, isRecordNotFound(err))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.whispers.metrics.whispersOpen))
}

func TestCloseWhisper_StoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	user := f.guild.Member.User

	threadID, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, user, "")
	require.NoError(t, err)

	f.whispers.store = &failingWhisperStore{
		WhisperStore: f.store,
		closeErr:     errors.New("database is locked"),
	}
	_, err = f.whispers.CloseWhisper(ctx, f.guild.ID, threadID, f.guild.Admin, "resolved")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamFailure)

	cached, ok := f.registry.Lookup(f.guild.ID, user.ID)
	require.True(t, ok, "registry should keep a whisper the store didn't close")
	assert.Equal(t, threadID, cached)

	record, err := f.store.OpenWhisperByThread(ctx, f.guild.ID, threadID)
	require.NoError(t, err)
	assert.True(t, record.IsOpen)
}

func TestWhispers_AnnounceChanges(t *testing.T) {
	ctx := context.Background()

	for _, sent := range []bool{true, false} {
		t.Run(
			fmt.Sprintf("sent=%t", sent), func(t *testing.T) {
				f := newWhisperFixture(t)
				notifier := &mockNotifier{}
				notifier.On("ReloadWhispers", mock.Anything).Return(sent)
				f.whispers.notifier = notifier
				user := f.guild.Member.User

				threadID, created, err := f.whispers.OpenWhisper(ctx, f.guild.ID, user, "")
				require.NoError(t, err)
				require.True(t, created)
				notifier.AssertNumberOfCalls(t, "ReloadWhispers", 1)

				// an existing whisper changes nothing
				_, created, err = f.whispers.OpenWhisper(ctx, f.guild.ID, user, "")
				require.NoError(t, err)
				require.False(t, created)
				notifier.AssertNumberOfCalls(t, "ReloadWhispers", 1)

				_, err = f.whispers.CloseWhisper(ctx, f.guild.ID, threadID, f.guild.Admin, "")
				require.NoError(t, err)
				notifier.AssertNumberOfCalls(t, "ReloadWhispers", 2)
			},
		)
	}
}

func TestWhispers_AnnounceSkippedOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newWhisperFixture(t)
	notifier := &mockNotifier{}
	f.whispers.notifier = notifier
	f.whispers.store = &failingWhisperStore{
		WhisperStore: f.store,
		createErr:    errors.New("database is locked"),
	}

	_, _, err := f.whispers.OpenWhisper(ctx, f.guild.ID, f.guild.Member.User, "")
	require.Error(t, err)
	notifier.AssertNotCalled(t, "ReloadWhispers", mock.Anything)
}
