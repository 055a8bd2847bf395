package modconcierge

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/samber/lo"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	logCategoryMember     = "member"
	logCategoryMessage    = "message"
	logCategoryModeration = "moderation"
	logCategoryVoice      = "voice"
	logCategoryChannel    = "channel"
	logCategoryRole       = "role"
	logCategoryBot        = "bot"
	logCategoryWhisper    = "whisper"

	defaultEventLogTimeout = 15 * time.Second

	messageDeleteContentMax = 1000
	messageEditContentMax   = 500
)

// logCategory is a group of events that can be switched on or off and
// sent to their own channel
type logCategory struct {
	Key   string
	Name  string
	Emoji string
	Color int
}

func (c logCategory) eventsSetting() string {
	return "log_" + c.Key + "_events"
}

func (c logCategory) channelSetting() string {
	return "log_" + c.Key + "_channel"
}

var logCategories = []logCategory{
	{Key: logCategoryMember, Name: "Member Events", Emoji: "🚪", Color: colorGreen},
	{Key: logCategoryMessage, Name: "Message Events", Emoji: "💬", Color: colorBlue},
	{Key: logCategoryModeration, Name: "Moderation Events", Emoji: "🛡️", Color: colorRed},
	{Key: logCategoryVoice, Name: "Voice Events", Emoji: "🔊", Color: colorPurple},
	{Key: logCategoryChannel, Name: "Channel Events", Emoji: "📂", Color: colorOrange},
	{Key: logCategoryRole, Name: "Role Events", Emoji: "🎭", Color: colorGold},
	{Key: logCategoryBot, Name: "Bot Events", Emoji: "🤖", Color: colorDarkGrey},
	{Key: logCategoryWhisper, Name: "Whisper Events", Emoji: "🤫", Color: colorBlurple},
}

func lookupLogCategory(key string) (logCategory, bool) {
	return lo.Find(
		logCategories, func(c logCategory) bool {
			return c.Key == key
		},
	)
}

// logEvent is a single entry sent to a guild's log channel
type logEvent struct {
	GuildID     string
	Category    string
	Title       string
	Description string

	// User is who performed the action, Target is who it was done to
	User   *discordgo.User
	Target *discordgo.User

	Fields []*discordgo.MessageEmbedField
}

func (e *logEvent) field(name, value string, inline bool) *logEvent {
	e.Fields = append(
		e.Fields,
		&discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline},
	)
	return e
}

// EventLogger sends server events to the log channels configured for
// each guild.
type EventLogger struct {
	session  DiscordSessionHandler
	settings SettingsStore
	logger   *slog.Logger
	timeout  time.Duration
	metrics  *metrics

	// paused reports whether the bot is paused. Nothing is logged
	// while paused.
	paused func() bool

	// Gateway update events don't carry the previous channel or role
	// name, so names seen in earlier events are kept here
	channelNames sync.Map
	roleNames    sync.Map
}

func newEventLogger(
	session DiscordSessionHandler,
	settings SettingsStore,
	logger *slog.Logger,
) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{
		session:  session,
		settings: settings,
		logger:   logger.With(loggerNameKey, "event_logger"),
		timeout:  defaultEventLogTimeout,
	}
}

// IsEnabled reports whether events in the category should be logged
// for the guild. Both the master switch and the category switch
// must be on.
func (e *EventLogger) IsEnabled(ctx context.Context, guildID, category string) (bool, error) {
	cat, ok := lookupLogCategory(category)
	if !ok {
		return false, fmt.Errorf("unknown log category: %q", category)
	}
	enabled, err := settingBool(ctx, e.settings, guildID, settingUnifiedLoggingEnabled, true)
	if err != nil || !enabled {
		return false, err
	}
	return settingBool(ctx, e.settings, guildID, cat.eventsSetting(), true)
}

// LogChannel returns the channel ID events in the category are sent to,
// or "" if none is configured. Moderation events fall back to the
// mod log channel.
func (e *EventLogger) LogChannel(ctx context.Context, guildID, category string) (string, error) {
	cat, ok := lookupLogCategory(category)
	if !ok {
		return "", fmt.Errorf("unknown log category: %q", category)
	}
	channelID, err := settingString(ctx, e.settings, guildID, cat.channelSetting())
	if err != nil {
		return "", err
	}
	if channelID == "" && cat.Key == logCategoryModeration {
		return settingString(ctx, e.settings, guildID, settingModLogChannel)
	}
	return channelID, nil
}

// LogEvent sends ev to its category's log channel. It returns false,
// without an error, when the category is disabled or has no channel.
func (e *EventLogger) LogEvent(ctx context.Context, ev *logEvent) (bool, error) {
	if ev == nil || ev.GuildID == "" {
		return false, nil
	}
	logger := e.logger.With(columnGuildID, ev.GuildID, "category", ev.Category)

	if e.paused != nil && e.paused() {
		logger.DebugContext(ctx, "paused, not logging event", "title", ev.Title)
		return false, nil
	}

	cat, ok := lookupLogCategory(ev.Category)
	if !ok {
		return false, fmt.Errorf("unknown log category: %q", ev.Category)
	}

	enabled, err := e.IsEnabled(ctx, ev.GuildID, cat.Key)
	if err != nil {
		return false, err
	}
	if !enabled {
		return false, nil
	}

	channelID, err := e.LogChannel(ctx, ev.GuildID, cat.Key)
	if err != nil {
		return false, err
	}
	if channelID == "" {
		logger.DebugContext(ctx, "no log channel configured")
		return false, nil
	}

	_, err = e.session.ChannelMessageSendEmbed(channelID, eventEmbed(cat, ev))
	if err != nil {
		return false, fmt.Errorf("error sending %s log: %w", cat.Key, err)
	}
	if e.metrics != nil {
		e.metrics.eventsLogged.WithLabelValues(cat.Key).Inc()
	}
	logger.DebugContext(ctx, "sent log event", columnChannelID, channelID, "title", ev.Title)
	return true, nil
}

func eventEmbed(cat logCategory, ev *logEvent) *discordgo.MessageEmbed {
	b := newEmbed(cat.Emoji+" "+ev.Title, ev.Description, cat.Color)
	if ev.User != nil {
		b.field("User", userLabel(ev.User), true)
	}
	if ev.Target != nil {
		b.field("Target", userLabel(ev.Target), true)
	}
	for _, f := range ev.Fields {
		b.field(f.Name, f.Value, f.Inline)
	}
	return b.footer("Category: " + cat.Name).build()
}

// log sends ev, logging rather than returning any error. It's used from
// gateway handlers and after commands complete, where a failed log
// entry shouldn't fail anything else.
func (e *EventLogger) log(ctx context.Context, ev *logEvent) {
	if _, err := e.LogEvent(ctx, ev); err != nil {
		e.logger.WarnContext(
			ctx,
			"error logging event",
			columnGuildID, ev.GuildID,
			"category", ev.Category,
			"title", ev.Title,
			tint.Err(err),
		)
	}
}

func (e *EventLogger) eventContext() (context.Context, context.CancelFunc) {
	ctx := WithLogger(context.Background(), e.logger)
	return context.WithTimeout(ctx, e.timeout)
}

// userLabel renders a user as a mention followed by their display name
func userLabel(u *discordgo.User) string {
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	if name == "" {
		return userMention(u.ID)
	}
	return fmt.Sprintf("%s\n(%s)", userMention(u.ID), name)
}

func memberDisplayName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

func channelTypeName(t discordgo.ChannelType) string {
	switch t {
	case discordgo.ChannelTypeGuildText:
		return "text"
	case discordgo.ChannelTypeGuildVoice:
		return "voice"
	case discordgo.ChannelTypeGuildCategory:
		return "category"
	case discordgo.ChannelTypeGuildNews:
		return "news"
	case discordgo.ChannelTypeGuildStageVoice:
		return "stage_voice"
	case discordgo.ChannelTypeGuildForum:
		return "forum"
	default:
		return "unknown"
	}
}

func messageURL(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

func memberJoinedEvent(m *discordgo.Member, memberCount int) *logEvent {
	ev := &logEvent{
		GuildID:     m.GuildID,
		Category:    logCategoryMember,
		Title:       "Member Joined",
		Description: fmt.Sprintf("%s joined the server", userMention(m.User.ID)),
		User:        m.User,
	}
	if created, err := discordgo.SnowflakeTimestamp(m.User.ID); err == nil {
		ev.field("Account Created", discordTimestamp(created.UnixMilli(), "R"), true)
	}
	if memberCount > 0 {
		ev.field("Member Count", fmt.Sprintf("%d", memberCount), true)
	}
	return ev
}

func memberLeftEvent(m *discordgo.Member) *logEvent {
	ev := &logEvent{
		GuildID:     m.GuildID,
		Category:    logCategoryMember,
		Title:       "Member Left",
		Description: fmt.Sprintf("%s left the server", m.User.String()),
		User:        m.User,
	}
	joined := "Unknown"
	if !m.JoinedAt.IsZero() {
		joined = discordTimestamp(m.JoinedAt.UnixMilli(), "R")
	}
	ev.field("Joined", joined, true)
	return ev
}

// messageDeletedEvent returns nil for messages sent by bots. Without the
// state cache, previous is nil and the content is unknown.
func messageDeletedEvent(m *discordgo.MessageDelete) *logEvent {
	previous := m.BeforeDelete
	if previous != nil && previous.Author != nil && previous.Author.Bot {
		return nil
	}
	ev := &logEvent{
		GuildID:  m.GuildID,
		Category: logCategoryMessage,
		Title:    "Message Deleted",
	}
	if previous == nil {
		ev.Description = "*Message not cached*"
	} else {
		ev.User = previous.Author
		ev.Description = codeBlock(truncateWithEllipsis(previous.Content, messageDeleteContentMax))
		if len(previous.Attachments) > 0 {
			urls := lo.Map(
				previous.Attachments,
				func(a *discordgo.MessageAttachment, _ int) string {
					return a.URL
				},
			)
			ev.field("Attachments", truncateWithEllipsis(strings.Join(urls, "\n"), 997), false)
		}
	}
	ev.field("Channel", channelMention(m.ChannelID), true)
	ev.field("Message ID", m.ID, true)
	return ev
}

// messageEditedEvent returns nil for bots, for edits that don't change
// the content (embeds resolving), and for messages not in the state cache.
func messageEditedEvent(m *discordgo.MessageUpdate) *logEvent {
	previous := m.BeforeUpdate
	if previous == nil || m.Message == nil {
		return nil
	}
	author := previous.Author
	if author == nil {
		author = m.Author
	}
	if author == nil || author.Bot || previous.Content == m.Content {
		return nil
	}
	guildID := lo.Ternary(m.GuildID != "", m.GuildID, previous.GuildID)
	ev := &logEvent{
		GuildID:     guildID,
		Category:    logCategoryMessage,
		Title:       "Message Edited",
		Description: fmt.Sprintf("Message edited in %s", channelMention(m.ChannelID)),
		User:        author,
	}
	ev.field("Before", truncateWithEllipsis(previous.Content, messageEditContentMax), false)
	ev.field("After", truncateWithEllipsis(m.Content, messageEditContentMax), false)
	ev.field("Channel", channelMention(m.ChannelID), true)
	ev.field(
		"Jump to Message",
		fmt.Sprintf("[Click here](%s)", messageURL(guildID, m.ChannelID, m.ID)),
		true,
	)
	return ev
}

func channelEvent(title string, c *discordgo.Channel) *logEvent {
	ev := &logEvent{
		GuildID:     c.GuildID,
		Category:    logCategoryChannel,
		Title:       title,
		Description: fmt.Sprintf("Name: #%s", c.Name),
	}
	ev.field("Type", channelTypeName(c.Type), true)
	ev.field("Channel ID", c.ID, true)
	return ev
}

// memberUpdatedEvents compares a member before and after an update. It
// returns an event for a nickname change and one for role changes.
func memberUpdatedEvents(before, after *discordgo.Member) []*logEvent {
	if before == nil || after == nil || after.User == nil {
		return nil
	}
	var events []*logEvent
	if before.Nick != after.Nick {
		ev := &logEvent{
			GuildID:     after.GuildID,
			Category:    logCategoryMember,
			Title:       "Nickname Changed",
			Description: fmt.Sprintf("%s changed their nickname", userMention(after.User.ID)),
			User:        after.User,
		}
		ev.field("Before", lo.Ternary(before.Nick != "", before.Nick, after.User.Username), true)
		ev.field("After", lo.Ternary(after.Nick != "", after.Nick, after.User.Username), true)
		events = append(events, ev)
	}

	removed, added := lo.Difference(before.Roles, after.Roles)
	if len(added) > 0 || len(removed) > 0 {
		ev := &logEvent{
			GuildID:     after.GuildID,
			Category:    logCategoryMember,
			Title:       "Member Roles Updated",
			Description: fmt.Sprintf("Roles updated for %s", userMention(after.User.ID)),
			User:        after.User,
		}
		if len(added) > 0 {
			ev.field("Added Roles", strings.Join(lo.Map(added, mapRoleMention), ", "), false)
		}
		if len(removed) > 0 {
			ev.field("Removed Roles", strings.Join(lo.Map(removed, mapRoleMention), ", "), false)
		}
		events = append(events, ev)
	}
	return events
}

func mapRoleMention(roleID string, _ int) string {
	return roleMention(roleID)
}

// voiceStateEvent returns a join, leave or move event, or nil when the
// update didn't change channels (mute, deafen, stream)
func voiceStateEvent(v *discordgo.VoiceStateUpdate) *logEvent {
	if v.VoiceState == nil {
		return nil
	}
	var beforeChannel string
	if v.BeforeUpdate != nil {
		beforeChannel = v.BeforeUpdate.ChannelID
	}
	afterChannel := v.ChannelID
	if beforeChannel == afterChannel {
		return nil
	}

	user := &discordgo.User{ID: v.UserID}
	if v.Member != nil && v.Member.User != nil {
		user = v.Member.User
	}
	ev := &logEvent{
		GuildID:  v.GuildID,
		Category: logCategoryVoice,
		User:     user,
	}
	switch {
	case beforeChannel == "":
		ev.Title = "Voice Channel Joined"
		ev.Description = fmt.Sprintf("%s joined %s", userMention(user.ID), channelMention(afterChannel))
	case afterChannel == "":
		ev.Title = "Voice Channel Left"
		ev.Description = fmt.Sprintf("%s left %s", userMention(user.ID), channelMention(beforeChannel))
	default:
		ev.Title = "Voice Channel Moved"
		ev.Description = fmt.Sprintf("%s switched voice channels", userMention(user.ID))
		ev.field("Before", channelMention(beforeChannel), true)
		ev.field("After", channelMention(afterChannel), true)
	}
	return ev
}

func moderationEvent(
	guildID string,
	action ModerationAction,
	moderator *discordgo.User,
	target *discordgo.User,
	reason string,
	durationMinutes int,
) *logEvent {
	ev := &logEvent{
		GuildID:     guildID,
		Category:    logCategoryModeration,
		Title:       "Moderation: " + action.Title(),
		Description: fmt.Sprintf("**%s** action performed", action.Title()),
		User:        moderator,
		Target:      target,
	}
	ev.field("Reason", lo.Ternary(reason != "", reason, moderationNoReason), false)
	if durationMinutes > 0 {
		ev.field("Duration", fmt.Sprintf("%d minutes", durationMinutes), true)
	}
	return ev
}

func whisperCreatedEvent(w WhisperThread, user *discordgo.User) *logEvent {
	ev := &logEvent{
		GuildID:     w.GuildID,
		Category:    logCategoryWhisper,
		Title:       "Whisper Created",
		Description: fmt.Sprintf("New whisper thread created by %s", userMention(w.UserID)),
		User:        user,
	}
	ev.field("Thread", channelMention(w.ThreadID), true)
	ev.field("Whisper ID", fmt.Sprintf("%d", w.ID), true)
	ev.field("Reason", w.Reason, false)
	return ev
}

func whisperClosedEvent(w WhisperThread, closedBy *discordgo.User, reason string) *logEvent {
	ev := &logEvent{
		GuildID:     w.GuildID,
		Category:    logCategoryWhisper,
		Title:       "Whisper Closed",
		Description: fmt.Sprintf("Whisper thread %s closed", channelMention(w.ThreadID)),
		User:        closedBy,
		Target:      &discordgo.User{ID: w.UserID},
	}
	ev.field("Whisper ID", fmt.Sprintf("%d", w.ID), true)
	ev.field("Reason", reason, false)
	return ev
}

func autoRolesAssignedEvent(m *discordgo.Member, roleIDs []string) *logEvent {
	ev := &logEvent{
		GuildID:     m.GuildID,
		Category:    logCategoryRole,
		Title:       "AutoRole Assigned",
		Description: fmt.Sprintf("Autoroles given to %s", userMention(m.User.ID)),
		Target:      m.User,
	}
	ev.field("Roles", strings.Join(lo.Map(roleIDs, mapRoleMention), ", "), false)
	return ev
}

func levelUpEvent(guildID string, user *discordgo.User, level int64) *logEvent {
	return &logEvent{
		GuildID:     guildID,
		Category:    logCategoryMember,
		Title:       "Level Up",
		Description: fmt.Sprintf("%s reached level %d", userMention(user.ID), level),
		User:        user,
	}
}

func commandUsedEvent(i *discordgo.InteractionCreate) *logEvent {
	if i.GuildID == "" || i.Type != discordgo.InteractionApplicationCommand {
		return nil
	}
	ev := &logEvent{
		GuildID:     i.GuildID,
		Category:    logCategoryBot,
		Title:       "Command Used",
		Description: fmt.Sprintf("`/%s` was used", i.ApplicationCommandData().Name),
		User:        interactionUser(i),
	}
	ev.field("Channel", channelMention(i.ChannelID), true)
	ev.field("Command", "/"+i.ApplicationCommandData().Name, true)
	return ev
}

// handlers returns the gateway event handlers to add to the session
func (e *EventLogger) handlers() []any {
	return []any{
		e.onGuildCreate,
		e.onGuildMemberAdd,
		e.onGuildMemberRemove,
		e.onGuildMemberUpdate,
		e.onMessageDelete,
		e.onMessageUpdate,
		e.onChannelCreate,
		e.onChannelDelete,
		e.onChannelUpdate,
		e.onGuildRoleCreate,
		e.onGuildRoleUpdate,
		e.onGuildRoleDelete,
		e.onVoiceStateUpdate,
		e.onGuildBanAdd,
		e.onGuildBanRemove,
	}
}

// onGuildCreate seeds the channel and role name caches
func (e *EventLogger) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil {
		return
	}
	for _, c := range g.Channels {
		e.channelNames.Store(c.ID, c.Name)
	}
	for _, r := range g.Roles {
		e.roleNames.Store(r.ID, r.Name)
	}
}

func (e *EventLogger) onGuildMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil {
		return
	}
	ctx, cancel := e.eventContext()
	defer cancel()
	e.log(ctx, memberJoinedEvent(m.Member, stateMemberCount(s, m.GuildID)))
}

func (e *EventLogger) onGuildMemberRemove(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if m.Member == nil || m.User == nil {
		return
	}
	ctx, cancel := e.eventContext()
	defer cancel()
	e.log(ctx, memberLeftEvent(m.Member))
}

func (e *EventLogger) onGuildMemberUpdate(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	events := memberUpdatedEvents(m.BeforeUpdate, m.Member)
	if len(events) == 0 {
		return
	}
	ctx, cancel := e.eventContext()
	defer cancel()
	for _, ev := range events {
		e.log(ctx, ev)
	}
}

func (e *EventLogger) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if m.Message == nil || m.GuildID == "" {
		return
	}
	ev := messageDeletedEvent(m)
	if ev == nil {
		return
	}
	ctx, cancel := e.eventContext()
	defer cancel()
	e.log(ctx, ev)
}

func (e *EventLogger) onMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	ev := messageEditedEvent(m)
	if ev == nil || ev.GuildID == "" {
		return
	}
	ctx, cancel := e.eventContext()
	defer cancel()
	e.log(ctx, ev)
}

func (e *EventLogger) onChannelCreate(_ *discordgo.Session, c *discordgo.ChannelCreate) {
	if c.Channel == nil || c.GuildID == "" || c.IsThread() {
		return
	}
	e.channelNames.Store(c.ID, c.Name)
	ctx, cancel := e.eventContext()
	defer cancel()
	e.log(ctx, channelEvent("Channel Created", c.Channel))
}

func (e *EventLogger) onChannelDelete(_ *discordgo.Session, c *discordgo.ChannelDelete) {
	if c.Channel == nil || c.GuildID == "" || c.IsThread() {
		return
	}
	e.channelNames.Delete(c.ID)
	ctx, cancel := e.eventContext()
	defer cancel()
	e.log(ctx, channelEvent("Channel Deleted", c.Channel))
}

// onChannelUpdate only logs renames
func (e *EventLogger) onChannelUpdate(_ *discordgo.Session, c *discordgo.ChannelUpdate) {
	if c.Channel == nil || c.GuildID == "" || c.IsThread() {
		return
	}
	previous, seen := e.channelNames.Swap(c.ID, c.Name)
	if !seen || previous.(string) == c.Name {
		return
	}
	ev := channelEvent("Channel Renamed", c.Channel)
	ev.field("Before", "#"+previous.(string), true)
	ev.field("After", "#"+c.Name, true)

	ctx, cancel := e.eventContext()
	defer cancel()
	e.log(ctx, ev)
}

func (e *EventLogger) onGuildRoleCreate(_ *discordgo.Session, r *discordgo.GuildRoleCreate) {
	if r.GuildRole == nil || r.Role == nil {
		return
	}
	e.roleNames.Store(r.Role.ID, r.Role.Name)
	ctx, cancel := e.eventContext()
	defer cancel()
	e.log(
		ctx, &logEvent{
			GuildID:     r.GuildID,
			Category:    logCategoryRole,
			Title:       "Role Created",
			Description: "Role: " + roleMention(r.Role.ID),
		},
	)
}

// onGuildRoleUpdate only logs renames
func (e *EventLogger) onGuildRoleUpdate(_ *discordgo.Session, r *discordgo.GuildRoleUpdate) {
	if r.GuildRole == nil || r.Role == nil {
		return
	}
	previous, seen := e.roleNames.Swap(r.Role.ID, r.Role.Name)
	if !seen || previous.(string) == r.Role.Name {
		return
	}
	ev := &logEvent{
		GuildID:     r.GuildID,
		Category:    logCategoryRole,
		Title:       "Role Updated",
		Description: "Role: " + roleMention(r.Role.ID),
	}
	ev.field("Before", previous.(string), true)
	ev.field("After", r.Role.Name, true)

	ctx, cancel := e.eventContext()
	defer cancel()
	e.log(ctx, ev)
}

func (e *EventLogger) onGuildRoleDelete(_ *discordgo.Session, r *discordgo.GuildRoleDelete) {
	name := r.RoleID
	if previous, ok := e.roleNames.LoadAndDelete(r.RoleID); ok {
		name = previous.(string)
	}
	ctx, cancel := e.eventContext()
	defer cancel()
	e.log(
		ctx, &logEvent{
			GuildID:     r.GuildID,
			Category:    logCategoryRole,
			Title:       "Role Deleted",
			Description: "Role: " + name,
		},
	)
}

func (e *EventLogger) onVoiceStateUpdate(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	ev := voiceStateEvent(v)
	if ev == nil || ev.GuildID == "" {
		return
	}
	ctx, cancel := e.eventContext()
	defer cancel()
	e.log(ctx, ev)
}

func (e *EventLogger) onGuildBanAdd(_ *discordgo.Session, b *discordgo.GuildBanAdd) {
	if b.User == nil {
		return
	}
	ctx, cancel := e.eventContext()
	defer cancel()
	e.log(
		ctx, &logEvent{
			GuildID:     b.GuildID,
			Category:    logCategoryModeration,
			Title:       "Member Banned",
			Description: fmt.Sprintf("%s was banned", b.User.String()),
			Target:      b.User,
		},
	)
}

func (e *EventLogger) onGuildBanRemove(_ *discordgo.Session, b *discordgo.GuildBanRemove) {
	if b.User == nil {
		return
	}
	ctx, cancel := e.eventContext()
	defer cancel()
	e.log(
		ctx, &logEvent{
			GuildID:     b.GuildID,
			Category:    logCategoryModeration,
			Title:       "Member Unbanned",
			Description: fmt.Sprintf("%s was unbanned", b.User.String()),
			Target:      b.User,
		},
	)
}

// stateMemberCount returns the guild's member count from the session
// state, or 0 if the state cache is disabled
func stateMemberCount(s *discordgo.Session, guildID string) int {
	if s == nil || s.State == nil || !s.StateEnabled {
		return 0
	}
	g, err := s.State.Guild(guildID)
	if err != nil {
		return 0
	}
	return g.MemberCount
}
