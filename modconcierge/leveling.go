package modconcierge

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	msgLevelingFailed = "❌ An error occurred while reading levels."

	leaderboardSize  = 10
	levelBarWidth    = 20
	defaultXPRate    = 10
	defaultXPSeconds = 60

	defaultLevelingTimeout = 15 * time.Second

	columnXP       = "xp"
	columnLevel    = "level"
	columnLastXPAt = "last_xp_at"
)

// MemberLevel is a member's leveling progress in a guild. Level is
// always levelForXP(XP).
type MemberLevel struct {
	GuildID   string `json:"guild_id" gorm:"primaryKey;not null;index:idx_member_level_rank,priority:1"`
	UserID    string `json:"user_id" gorm:"primaryKey;not null"`
	XP        int64  `json:"xp" gorm:"not null;index:idx_member_level_rank,priority:2"`
	Level     int64  `json:"level" gorm:"not null"`
	LastXPAt  int64  `json:"last_xp_at" gorm:"not null"`
	UpdatedAt int64  `json:"updated_at" gorm:"autoUpdateTime:milli"`
}

func (MemberLevel) TableName() string {
	return "member_levels"
}

// levelForXP is the leveling curve: level n needs n² XP
func levelForXP(xp int64) int64 {
	if xp <= 0 {
		return 0
	}
	level := int64(math.Sqrt(float64(xp)))
	for level*level > xp {
		level--
	}
	for (level+1)*(level+1) <= xp {
		level++
	}
	return level
}

func xpForLevel(level int64) int64 {
	return level * level
}

// awardXP adds amount to the member's XP, unless they were last awarded
// less than cooldown before now. rec is nil when the cooldown blocked
// the award. The check and the increment are one statement, so
// instances sharing the database can't award the same window twice.
func awardXP(
	ctx context.Context,
	db DBI,
	guildID string,
	userID string,
	amount int64,
	cooldown time.Duration,
	now time.Time,
) (rec *MemberLevel, leveledUp bool, err error) {
	nowMilli := now.UnixMilli()
	cutoff := now.Add(-cooldown).UnixMilli()

	err = db.Transaction(
		ctx, func(tx *gorm.DB) error {
			row := &MemberLevel{
				GuildID:  guildID,
				UserID:   userID,
				XP:       amount,
				LastXPAt: nowMilli,
			}
			res := tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: columnGuildID}, {Name: columnUserID}},
					DoUpdates: clause.Assignments(
						map[string]any{
							columnXP:       gorm.Expr("member_levels.xp + ?", amount),
							columnLastXPAt: nowMilli,
							"updated_at":   nowMilli,
						},
					),
					Where: clause.Where{
						Exprs: []clause.Expression{gorm.Expr("member_levels.last_xp_at <= ?", cutoff)},
					},
				},
			).Create(row)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}

			var current MemberLevel
			if takeErr := tx.Where(
				columnGuildID+" = ? AND "+columnUserID+" = ?",
				guildID,
				userID,
			).Take(&current).Error; takeErr != nil {
				return takeErr
			}
			if level := levelForXP(current.XP); level > current.Level {
				if updateErr := tx.Model(&current).Update(columnLevel, level).Error; updateErr != nil {
					return updateErr
				}
				current.Level = level
				leveledUp = true
			}
			rec = &current
			return nil
		},
	)
	if err != nil {
		return nil, false, fmt.Errorf("error awarding xp: %w", err)
	}
	return rec, leveledUp, nil
}

// memberLevel returns the member's progress, or a zero record if they
// haven't earned any XP
func memberLevel(ctx context.Context, db DBI, guildID, userID string) (*MemberLevel, error) {
	session, cancel := reader(ctx, db)
	defer cancel()

	var rec MemberLevel
	err := session.Where(
		columnGuildID+" = ? AND "+columnUserID+" = ?",
		guildID,
		userID,
	).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &MemberLevel{GuildID: guildID, UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// memberRank is the member's 1-based position on the guild leaderboard
func memberRank(ctx context.Context, db DBI, rec *MemberLevel) (int64, error) {
	session, cancel := reader(ctx, db)
	defer cancel()

	var ahead int64
	err := session.Model(&MemberLevel{}).
		Where(columnGuildID+" = ? AND "+columnXP+" > ?", rec.GuildID, rec.XP).
		Count(&ahead).Error
	return ahead + 1, err
}

// leaderboard returns the guild's top members by XP
func leaderboard(ctx context.Context, db DBI, guildID string, limit int) ([]MemberLevel, error) {
	session, cancel := reader(ctx, db)
	defer cancel()

	var rows []MemberLevel
	err := session.Where(columnGuildID+" = ?", guildID).
		Order(columnXP + " DESC").
		Order(columnUserID).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Leveling awards XP for guild messages and implements /level and
// /leaderboard.
type Leveling struct {
	session  DiscordSessionHandler
	db       DBI
	settings SettingsStore
	events   *EventLogger
	logger   *slog.Logger
	metrics  *metrics
	timeout  time.Duration
	paused   func() bool
	now      func() time.Time
}

func newLeveling(
	session DiscordSessionHandler,
	db DBI,
	settings SettingsStore,
	events *EventLogger,
	logger *slog.Logger,
) *Leveling {
	if logger == nil {
		logger = slog.Default()
	}
	return &Leveling{
		session:  session,
		db:       db,
		settings: settings,
		events:   events,
		logger:   logger.With(loggerNameKey, "leveling"),
		timeout:  defaultLevelingTimeout,
		paused:   func() bool { return false },
		now:      time.Now,
	}
}

func (l *Leveling) handlers() []any {
	return []any{l.onMessageCreate}
}

func (l *Leveling) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil || l.paused() {
		return
	}
	ctx, cancel := context.WithTimeout(WithLogger(context.Background(), l.logger), l.timeout)
	defer cancel()
	if err := l.HandleMessage(ctx, m.Message); err != nil {
		l.logger.ErrorContext(
			ctx,
			"error handling message xp",
			columnGuildID, m.GuildID,
			columnUserID, m.Author.ID,
			tint.Err(err),
		)
	}
}

// HandleMessage awards XP for a guild message and announces level ups.
// Messages from bots and webhooks, and DMs, earn nothing.
func (l *Leveling) HandleMessage(ctx context.Context, msg *discordgo.Message) error {
	if msg.GuildID == "" || msg.Author == nil || msg.Author.Bot || msg.WebhookID != "" {
		return nil
	}
	enabled, err := settingBool(ctx, l.settings, msg.GuildID, settingLevelingEnabled, true)
	if err != nil || !enabled {
		return err
	}
	rate, err := settingInt(ctx, l.settings, msg.GuildID, settingXPRate, defaultXPRate)
	if err != nil {
		return err
	}
	cooldown, err := settingInt(ctx, l.settings, msg.GuildID, settingXPCooldown, defaultXPSeconds)
	if err != nil {
		return err
	}

	rec, leveledUp, err := awardXP(
		ctx,
		l.db,
		msg.GuildID,
		msg.Author.ID,
		rate,
		time.Duration(cooldown)*time.Second,
		l.now(),
	)
	if err != nil || rec == nil {
		return err
	}
	if l.metrics != nil {
		l.metrics.xpAwarded.Add(float64(rate))
	}
	if !leveledUp {
		return nil
	}

	logger := contextLoggerOr(ctx, l.logger)
	logger.InfoContext(
		ctx,
		"member leveled up",
		columnGuildID, msg.GuildID,
		columnUserID, msg.Author.ID,
		columnLevel, rec.Level,
	)
	if l.metrics != nil {
		l.metrics.levelUps.Inc()
	}
	if l.events != nil {
		l.events.log(ctx, levelUpEvent(msg.GuildID, msg.Author, rec.Level))
	}
	return l.announceLevelUp(ctx, msg, rec.Level)
}

// announceLevelUp sends level_up_message where level_up_destination
// says. A DM or level channel that can't be reached falls back to the
// channel the message was sent in.
func (l *Leveling) announceLevelUp(ctx context.Context, msg *discordgo.Message, level int64) error {
	template, err := l.settings.Get(ctx, msg.GuildID, settingLevelUpMessage, defaultLevelUpMessage)
	if err != nil {
		return err
	}
	content := levelUpMessage(template, msg.Author.ID, level)

	destination, err := l.settings.Get(ctx, msg.GuildID, settingLevelUpDestination, levelUpDestinationSame)
	if err != nil {
		return err
	}
	logger := contextLoggerOr(ctx, l.logger).With(columnGuildID, msg.GuildID, columnUserID, msg.Author.ID)

	switch destination {
	case levelUpDestinationDM:
		dm, dmErr := l.session.UserChannelCreate(msg.Author.ID)
		if dmErr == nil {
			_, dmErr = l.session.ChannelMessageSend(dm.ID, content)
		}
		if dmErr == nil {
			return nil
		}
		logger.WarnContext(ctx, "level up DM failed, sending to message channel", tint.Err(dmErr))
	case levelUpDestinationChannel:
		channelID, chErr := settingString(ctx, l.settings, msg.GuildID, settingLevelUpChannel)
		if chErr != nil {
			return chErr
		}
		if channelID != "" && channelID != msg.ChannelID {
			_, sendErr := l.session.ChannelMessageSend(channelID, content)
			if sendErr == nil {
				return nil
			}
			logger.WarnContext(ctx, "level channel unavailable, sending to message channel", tint.Err(sendErr))
		}
	}

	if _, err = l.session.ChannelMessageSend(msg.ChannelID, content); err != nil {
		return fmt.Errorf("error sending level up message: %w", err)
	}
	return nil
}

// levelUpMessage fills {user} and {level} in template
func levelUpMessage(template string, userID string, level int64) string {
	return truncate(
		strings.NewReplacer(
			"{user}", userMention(userID),
			"{level}", strconv.FormatInt(level, 10),
		).Replace(template),
		discordMaxMessageLength,
	)
}

// progressBar renders xp toward the next level as a fixed width bar
func progressBar(rec *MemberLevel) string {
	current := xpForLevel(rec.Level)
	next := xpForLevel(rec.Level + 1)
	filled := int((rec.XP - current) * levelBarWidth / (next - current))
	filled = min(max(filled, 0), levelBarWidth)
	return strings.Repeat("█", filled) + strings.Repeat("░", levelBarWidth-filled)
}

// Level handles /level, showing the invoker's progress or the given
// member's
func (l *Leveling) Level(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	i := h.GetInteraction()
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return nil, preconditionFailed(msgGuildOnly)
	}
	userID := optionUserID(commandOptions(i), "member")
	if userID == "" {
		userID = i.Member.User.ID
	}

	rec, err := memberLevel(ctx, l.db, i.GuildID, userID)
	if err != nil {
		return nil, upstreamFailure(msgLevelingFailed, err)
	}
	rank, err := memberRank(ctx, l.db, rec)
	if err != nil {
		return nil, upstreamFailure(msgLevelingFailed, err)
	}

	b := newEmbed(
		"📈 Level",
		fmt.Sprintf(
			"%s\n**Level:** %d\n**XP:** %d/%d\n`%s`",
			userMention(userID),
			rec.Level,
			rec.XP,
			xpForLevel(rec.Level+1),
			progressBar(rec),
		),
		colorBlurple,
	)
	if rec.XP > 0 {
		b.field("Rank", fmt.Sprintf("#%d", rank), true)
	}
	return embedReply(b.build()), nil
}

// Leaderboard handles /leaderboard
func (l *Leveling) Leaderboard(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	i := h.GetInteraction()
	if i.GuildID == "" {
		return nil, preconditionFailed(msgGuildOnly)
	}
	rows, err := leaderboard(ctx, l.db, i.GuildID, leaderboardSize)
	if err != nil {
		return nil, upstreamFailure(msgLevelingFailed, err)
	}
	if len(rows) == 0 {
		return embedReply(newEmbed("🏆 Leaderboard", "No leaderboard data available.", colorGold).build()), nil
	}

	lines := make([]string, 0, len(rows))
	for n, r := range rows {
		lines = append(
			lines,
			fmt.Sprintf("**%d.** %s - Level %d (%d XP)", n+1, userMention(r.UserID), r.Level, r.XP),
		)
	}
	return embedReply(newEmbed("🏆 Leaderboard", strings.Join(lines, "\n"), colorGold).build()), nil
}
