package modconcierge

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const (
	msgWhisperDisabled      = "❌ The whisper system is not enabled in this server."
	msgWhisperExists        = "ℹ️ You already have an active whisper thread: %s"
	msgWhisperCreated       = "✅ Whisper thread created: %s\nStaff will respond to your message soon."
	msgWhisperChannelFailed = "❌ Failed to set up whisper channel. Please contact an administrator."
	msgWhisperThreadFailed  = "❌ Failed to create whisper thread. Please try again later."
	msgNotWhisperThread     = "❌ This is not a whisper thread!"
	msgWhisperCloseDenied   = "❌ You don't have permission to close this thread!"
	msgWhisperCloseFailed   = "❌ An error occurred while closing the whisper thread."
	msgWhisperClosed        = "✅ Whisper thread closed."
	msgWhisperListDenied    = "❌ You don't have permission to view whisper threads!"
	msgWhisperNoneOpen      = "ℹ️ No active whisper threads."

	whisperThreadPrefix = "Whisper-"

	// permissions granted to the bot on the whisper channel
	whisperBotPermissions = discordgo.PermissionViewChannel |
		discordgo.PermissionSendMessages |
		discordgo.PermissionSendMessagesInThreads |
		discordgo.PermissionManageChannels |
		discordgo.PermissionManageThreads |
		discordgo.PermissionManageMessages |
		discordgo.PermissionCreatePrivateThreads |
		discordgo.PermissionReadMessageHistory

	// permissions granted to administrator roles on the whisper channel
	whisperStaffPermissions = discordgo.PermissionViewChannel |
		discordgo.PermissionSendMessages |
		discordgo.PermissionSendMessagesInThreads |
		discordgo.PermissionManageThreads |
		discordgo.PermissionReadMessageHistory
)

// Whispers implements private whisper threads: a user opens a private
// thread in the guild's whisper channel to talk to staff, and the
// thread is closed by the user or an administrator.
//
// Every open and close writes to the [WhisperStore] first, and only
// then updates the [WhisperRegistry]. Other instances sharing the store
// are told to rebuild theirs through notifier.
type Whispers struct {
	session  DiscordSessionHandler
	store    WhisperStore
	registry *WhisperRegistry
	settings SettingsStore
	notifier DBNotifier
	events   *EventLogger
	config   *WhisperConfig
	logger   *slog.Logger
	metrics  *metrics

	botUserID func() string
	now       func() time.Time

	// setupMu serializes whisper channel creation, so concurrent
	// opens in a guild without a channel don't each create one
	setupMu sync.Mutex

	// syncMu is held for reading from a store write until the matching
	// registry update, and for writing by Rebuild, so a rebuild never
	// replaces the registry with a read taken between the two
	syncMu sync.RWMutex
}

func newWhispers(
	session DiscordSessionHandler,
	store WhisperStore,
	registry *WhisperRegistry,
	settings SettingsStore,
	config *WhisperConfig,
	logger *slog.Logger,
) *Whispers {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = DefaultConfig().Whisper
	}
	return &Whispers{
		session:   session,
		store:     store,
		registry:  registry,
		settings:  settings,
		config:    config,
		logger:    logger.With(loggerNameKey, "whispers"),
		botUserID: func() string { return "" },
		now:       time.Now,
	}
}

// Rebuild replaces the registry's contents with every open record in
// the store.
func (w *Whispers) Rebuild(ctx context.Context) error {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	records, err := w.store.OpenWhispers(ctx)
	if err != nil {
		return fmt.Errorf("error loading open whispers: %w", err)
	}
	w.registry.Rebuild(records)
	if w.metrics != nil {
		w.metrics.whispersOpen.Set(float64(w.registry.Len()))
	}
	w.logger.InfoContext(ctx, "rebuilt whisper registry", "open", w.registry.Len())
	return nil
}

// OpenWhisper opens a whisper thread for user in the guild, and returns
// its thread ID. If the user already has an open thread, its ID is
// returned with created=false and nothing else happens.
func (w *Whispers) OpenWhisper(
	ctx context.Context,
	guildID string,
	user *discordgo.User,
	reason string,
) (threadID string, created bool, err error) {
	logger := contextLoggerOr(ctx, w.logger).With(columnGuildID, guildID, columnUserID, user.ID)

	enabled, err := settingBool(ctx, w.settings, guildID, settingWhisperEnabled, true)
	if err != nil {
		return "", false, upstreamFailure(msgWhisperThreadFailed, err)
	}
	if !enabled {
		return "", false, preconditionFailed(msgWhisperDisabled)
	}

	if existing, ok := w.registry.Lookup(guildID, user.ID); ok {
		logger.InfoContext(ctx, "user already has an open whisper", columnThreadID, existing)
		return existing, false, nil
	}

	if reason == "" {
		reason = whisperNoReason
	}

	channelID, err := w.ensureChannel(ctx, guildID)
	if err != nil {
		return "", false, notConfigured(msgWhisperChannelFailed, err)
	}

	thread, err := w.session.ThreadStartComplex(
		channelID,
		&discordgo.ThreadStart{
			Name:                whisperThreadPrefix + user.ID,
			AutoArchiveDuration: w.config.AutoArchiveDuration,
			Type:                discordgo.ChannelTypeGuildPrivateThread,
			Invitable:           false,
		},
		discordgo.WithAuditLogReason("Whisper thread for "+user.Username),
	)
	if err != nil {
		return "", false, upstreamFailure(msgWhisperThreadFailed, err)
	}
	logger = logger.With(columnThreadID, thread.ID)

	if err = w.session.ThreadMemberAdd(thread.ID, user.ID); err != nil {
		return "", false, upstreamFailure(msgWhisperThreadFailed, err)
	}

	createdAt := w.now()
	intro := newEmbed("New Whisper Thread", reason, colorBlue).
		field("User", fmt.Sprintf("%s (%s)", userMention(user.ID), user.ID), true).
		field("Created", discordTimestamp(createdAt.UnixMilli(), "R"), true).
		build()
	if _, err = w.session.ChannelMessageSendEmbed(thread.ID, intro); err != nil {
		return "", false, upstreamFailure(msgWhisperThreadFailed, err)
	}

	record := &WhisperThread{
		GuildID:   guildID,
		UserID:    user.ID,
		ThreadID:  thread.ID,
		ChannelID: channelID,
		Reason:    reason,
	}
	w.syncMu.RLock()
	if err = w.store.CreateWhisper(ctx, record); err != nil {
		defer w.syncMu.RUnlock()
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", false, w.duplicateOpen(ctx, logger, guildID, user.ID, err)
		}
		return "", false, upstreamFailure(msgWhisperThreadFailed, err)
	}
	w.registry.RecordOpen(guildID, user.ID, thread.ID)
	w.syncMu.RUnlock()
	logger.InfoContext(ctx, "opened whisper", "whisper", record)
	w.announce(ctx, logger)

	if w.metrics != nil {
		w.metrics.whispersOpened.Inc()
		w.metrics.whispersOpen.Set(float64(w.registry.Len()))
	}
	if w.events != nil {
		w.events.log(ctx, whisperCreatedEvent(*record, user))
	}
	return thread.ID, true, nil
}

// announce asks every instance sharing the store to rebuild its registry
func (w *Whispers) announce(ctx context.Context, logger *slog.Logger) {
	if w.notifier == nil {
		return
	}
	if !w.notifier.ReloadWhispers(ctx) {
		logger.WarnContext(ctx, "whisper reload notification not sent")
	}
}

// duplicateOpen handles losing a race to open a whisper: another open
// for the same user was persisted first. The winning record is cached
// and reported to the user. The thread created for the losing open is
// left as-is.
func (w *Whispers) duplicateOpen(
	ctx context.Context,
	logger *slog.Logger,
	guildID string,
	userID string,
	err error,
) error {
	logger.WarnContext(ctx, "whisper already opened concurrently", tint.Err(err))
	winner, lookupErr := w.store.OpenWhisperByUser(ctx, guildID, userID)
	if lookupErr != nil {
		logger.ErrorContext(ctx, "error reading existing whisper", tint.Err(lookupErr))
		return &CommandError{
			Kind:    KindPreconditionFailed,
			Message: msgWhisperThreadFailed,
			Err:     err,
		}
	}
	w.registry.RecordOpen(guildID, userID, winner.ThreadID)
	return &CommandError{
		Kind:    KindPreconditionFailed,
		Message: fmt.Sprintf(msgWhisperExists, channelMention(winner.ThreadID)),
		Err:     err,
	}
}

// ensureChannel returns the guild's whisper channel, creating it if it
// isn't configured or no longer exists.
func (w *Whispers) ensureChannel(ctx context.Context, guildID string) (string, error) {
	w.setupMu.Lock()
	defer w.setupMu.Unlock()

	channelID, err := settingString(ctx, w.settings, guildID, settingWhisperChannel)
	if err != nil {
		return "", err
	}
	if channelID != "" {
		_, chErr := w.session.Channel(channelID)
		switch {
		case chErr == nil:
			return channelID, nil
		case !isDiscordNotFound(chErr):
			return "", fmt.Errorf("error getting whisper channel: %w", chErr)
		}
		w.logger.WarnContext(
			ctx,
			"whisper channel no longer exists, creating a new one",
			columnGuildID, guildID,
			columnChannelID, channelID,
		)
	}

	overwrites, err := w.channelOverwrites(guildID)
	if err != nil {
		return "", err
	}
	ch, err := w.session.GuildChannelCreateComplex(
		guildID,
		discordgo.GuildChannelCreateData{
			Name:                 w.config.ChannelName,
			Type:                 discordgo.ChannelTypeGuildText,
			Topic:                w.config.ChannelTopic,
			PermissionOverwrites: overwrites,
		},
		discordgo.WithAuditLogReason("Whisper system setup"),
	)
	if err != nil {
		return "", fmt.Errorf("error creating whisper channel: %w", err)
	}

	if err = w.settings.Set(ctx, guildID, settingWhisperChannel, ch.ID); err != nil {
		return "", err
	}
	w.logger.InfoContext(
		ctx,
		"created whisper channel",
		columnGuildID, guildID,
		columnChannelID, ch.ID,
		"name", ch.Name,
	)
	return ch.ID, nil
}

// channelOverwrites hides the whisper channel from @everyone, and
// grants access to the bot and to every administrator role
func (w *Whispers) channelOverwrites(guildID string) ([]*discordgo.PermissionOverwrite, error) {
	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
	}
	if botID := w.botUserID(); botID != "" {
		overwrites = append(
			overwrites, &discordgo.PermissionOverwrite{
				ID:    botID,
				Type:  discordgo.PermissionOverwriteTypeMember,
				Allow: whisperBotPermissions,
			},
		)
	}

	roles, err := w.session.GuildRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("error getting guild roles: %w", err)
	}
	for _, r := range roles {
		if r.ID == guildID || r.Managed || r.Permissions&discordgo.PermissionAdministrator == 0 {
			continue
		}
		overwrites = append(
			overwrites, &discordgo.PermissionOverwrite{
				ID:    r.ID,
				Type:  discordgo.PermissionOverwriteTypeRole,
				Allow: whisperStaffPermissions,
			},
		)
	}
	return overwrites, nil
}

// CloseWhisper closes the open whisper for threadID. Only the owner or
// an administrator can close it. Returns the closed record.
func (w *Whispers) CloseWhisper(
	ctx context.Context,
	guildID string,
	threadID string,
	actor *discordgo.Member,
	reason string,
) (*WhisperThread, error) {
	logger := contextLoggerOr(ctx, w.logger).With(columnGuildID, guildID, columnThreadID, threadID)

	record, err := w.store.OpenWhisperByThread(ctx, guildID, threadID)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, preconditionFailed(msgNotWhisperThread)
		}
		return nil, upstreamFailure(msgWhisperCloseFailed, err)
	}

	if actor == nil || actor.User == nil {
		return nil, permissionDenied(msgWhisperCloseDenied)
	}
	if actor.User.ID != record.UserID && !isAdministrator(actor) {
		return nil, permissionDenied(msgWhisperCloseDenied)
	}

	if reason == "" {
		reason = whisperNoReason
	}

	closing := newEmbed("Whisper Thread Closed", reason, colorRed).
		field("Closed by", userMention(actor.User.ID), true).
		build()
	if _, err = w.session.ChannelMessageSendEmbed(threadID, closing); err != nil {
		return nil, upstreamFailure(msgWhisperCloseFailed, err)
	}

	closedAt := w.now().UnixMilli()
	w.syncMu.RLock()
	rows, err := w.store.CloseWhisper(ctx, guildID, threadID, actor.User.ID, reason, closedAt)
	if err != nil {
		w.syncMu.RUnlock()
		return nil, upstreamFailure(msgWhisperCloseFailed, err)
	}
	if rows == 0 {
		w.syncMu.RUnlock()
		logger.WarnContext(ctx, "whisper was closed concurrently")
		return nil, preconditionFailed(msgNotWhisperThread)
	}
	w.registry.RecordClosed(guildID, record.UserID)
	w.syncMu.RUnlock()
	w.announce(ctx, logger)

	record.IsOpen = false
	record.ClosedAt = &closedAt
	record.ClosedBy = &actor.User.ID
	record.CloseReason = &reason
	logger.InfoContext(ctx, "closed whisper", "whisper", record, columnClosedBy, actor.User.ID)

	if w.metrics != nil {
		w.metrics.whispersClosed.Inc()
		w.metrics.whispersOpen.Set(float64(w.registry.Len()))
	}
	if w.events != nil {
		w.events.log(ctx, whisperClosedEvent(*record, actor.User, reason))
	}
	return record, nil
}

// archiveThread archives and locks a closed whisper thread
func (w *Whispers) archiveThread(ctx context.Context, threadID string) error {
	archived := true
	locked := true
	_, err := w.session.ChannelEdit(
		threadID,
		&discordgo.ChannelEdit{Archived: &archived, Locked: &locked},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error archiving whisper thread: %w", err)
	}
	return nil
}

// Open handles /open-whisper
func (w *Whispers) Open(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	i := h.GetInteraction()
	user := interactionUser(i)
	if i.GuildID == "" || i.Member == nil || user == nil {
		return nil, preconditionFailed(msgGuildOnly)
	}
	opts := commandOptions(i)

	threadID, created, err := w.OpenWhisper(ctx, i.GuildID, user, optionString(opts, "reason"))
	if err != nil {
		return nil, err
	}
	if !created {
		return contentReply(fmt.Sprintf(msgWhisperExists, channelMention(threadID))), nil
	}
	return contentReply(fmt.Sprintf(msgWhisperCreated, channelMention(threadID))), nil
}

// Close handles /close-whisper. The reply is sent before the thread is
// archived, since the command is run from inside the thread.
func (w *Whispers) Close(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	i := h.GetInteraction()
	if i.GuildID == "" || i.Member == nil {
		return nil, preconditionFailed(msgGuildOnly)
	}
	opts := commandOptions(i)

	record, err := w.CloseWhisper(ctx, i.GuildID, i.ChannelID, i.Member, optionString(opts, "reason"))
	if err != nil {
		return nil, err
	}

	if _, editErr := h.Edit(ctx, contentReply(msgWhisperClosed)); editErr != nil {
		h.Logger().ErrorContext(ctx, "error sending close reply", tint.Err(editErr))
	}
	if err = w.archiveThread(ctx, record.ThreadID); err != nil {
		h.Logger().WarnContext(ctx, "whisper closed, but thread not archived", tint.Err(err))
	}
	return nil, nil
}

// Configure handles /configure-whisper
func (w *Whispers) Configure(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	i := h.GetInteraction()
	if i.GuildID == "" || i.Member == nil {
		return nil, preconditionFailed(msgGuildOnly)
	}
	if !hasPermission(i.Member.Permissions, discordgo.PermissionManageServer) {
		return nil, permissionDenied(msgNoPermission)
	}
	opts := commandOptions(i)

	enabled, enabledSet := optionBool(opts, "enabled")
	channelID := optionChannelID(opts, "channel")

	updates := map[string]string{}
	if enabledSet {
		updates[settingWhisperEnabled] = strconv.FormatBool(enabled)
	}
	if channelID != "" {
		ch, err := w.session.Channel(channelID)
		if err != nil {
			return nil, upstreamFailure(msgUnexpectedError, err)
		}
		if ch.GuildID != i.GuildID || ch.Type != discordgo.ChannelTypeGuildText {
			return nil, preconditionFailed(msgTextChannelOnly)
		}
		updates[settingWhisperChannel] = channelID
	}
	if len(updates) > 0 {
		if err := setMany(ctx, w.settings, i.GuildID, updates); err != nil {
			return nil, upstreamFailure(msgUnexpectedError, err)
		}
		h.Logger().InfoContext(ctx, "updated whisper settings", "settings", updates)
	}

	currentEnabled, err := settingBool(ctx, w.settings, i.GuildID, settingWhisperEnabled, true)
	if err != nil {
		return nil, upstreamFailure(msgUnexpectedError, err)
	}
	currentChannel, err := settingString(ctx, w.settings, i.GuildID, settingWhisperChannel)
	if err != nil {
		return nil, upstreamFailure(msgUnexpectedError, err)
	}

	if enabledSet && enabled && currentChannel == "" {
		currentChannel, err = w.ensureChannel(ctx, i.GuildID)
		if err != nil {
			return nil, notConfigured(msgWhisperChannelFailed, err)
		}
	}

	b := newEmbed("⚙️ Whisper System Settings", "", colorGreen).
		field("Status", enabledLabel(currentEnabled), true)
	if currentChannel != "" {
		b.field("Whisper Channel", channelMention(currentChannel), true)
	}
	b.field("Usage", "Use `/open-whisper` to create a private thread", false)
	return embedReply(b.build()), nil
}

// ListOpen handles /list-open-whispers
func (w *Whispers) ListOpen(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	i := h.GetInteraction()
	if i.GuildID == "" || i.Member == nil {
		return nil, preconditionFailed(msgGuildOnly)
	}
	if !isAdministrator(i.Member) {
		return nil, permissionDenied(msgWhisperListDenied)
	}

	records, err := w.store.OpenWhispersByGuild(ctx, i.GuildID)
	if err != nil {
		return nil, upstreamFailure(msgUnexpectedError, err)
	}
	if len(records) == 0 {
		return contentReply(msgWhisperNoneOpen), nil
	}

	b := newEmbed("📝 Active Whisper Threads", "", colorBlue)
	for _, rec := range records {
		b.field(
			"Thread: "+whisperThreadPrefix+rec.UserID,
			fmt.Sprintf(
				"User: %s\nLink: %s\nCreated: %s",
				userMention(rec.UserID),
				channelMention(rec.ThreadID),
				discordTimestamp(rec.CreatedAt, "R"),
			),
			false,
		)
	}
	if len(records) > embedMaxFields {
		b.footer(fmt.Sprintf("Showing %d of %d", embedMaxFields, len(records)))
	}
	return embedReply(b.build()), nil
}

// setMany writes several settings, validating all of them first when
// the store supports it
func setMany(ctx context.Context, s SettingsStore, guildID string, values map[string]string) error {
	if gs, ok := s.(*GuildSettings); ok {
		return gs.SetMany(ctx, guildID, values)
	}
	for k, v := range values {
		nv, err := normalizeSetting(k, v)
		if err != nil {
			return err
		}
		if err = s.Set(ctx, guildID, k, nv); err != nil {
			return err
		}
	}
	return nil
}
