package modconcierge

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"log/slog"
	"strings"
)

type ModerationAction string

const (
	ActionWarn   ModerationAction = "WARN"
	ActionMute   ModerationAction = "MUTE"
	ActionUnmute ModerationAction = "UNMUTE"
	ActionKick   ModerationAction = "KICK"
	ActionBan    ModerationAction = "BAN"
	ActionUnban  ModerationAction = "UNBAN"
	ActionPurge  ModerationAction = "PURGE"
	ActionLock   ModerationAction = "LOCK"
	ActionUnlock ModerationAction = "UNLOCK"

	moderationNoReason = "No reason provided"

	// moderationHistoryLimit is the max number of entries shown by
	// /warnings and /modlogs
	moderationHistoryLimit = 10

	columnModeratorID = "moderator_id"
	columnAction      = "action"
)

var moderationActionEmoji = map[ModerationAction]string{
	ActionWarn:   "⚠️",
	ActionMute:   "🔇",
	ActionUnmute: "🔊",
	ActionKick:   "👢",
	ActionBan:    "🔨",
	ActionUnban:  "✅",
	ActionPurge:  "🧹",
	ActionLock:   "🔒",
	ActionUnlock: "🔓",
}

func (a ModerationAction) Emoji() string {
	if e, ok := moderationActionEmoji[a]; ok {
		return e
	}
	return "📝"
}

// Title returns the action capitalized, ex: "Kick"
func (a ModerationAction) Title() string {
	s := strings.ToLower(string(a))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (a ModerationAction) Valid() bool {
	_, ok := moderationActionEmoji[a]
	return ok
}

// ModerationLog records a moderation action taken through the bot.
//
//nolint:lll // struct tags can't be split
type ModerationLog struct {
	ModelUintID
	GuildID         string           `json:"guild_id" gorm:"not null;index:idx_modlog_guild_user,priority:1"`
	UserID          string           `json:"user_id" gorm:"not null;index:idx_modlog_guild_user,priority:2"`
	ModeratorID     string           `json:"moderator_id" gorm:"not null"`
	Action          ModerationAction `json:"action" gorm:"type:string;not null;check:chk_modlog_action,action IN ('WARN','MUTE','UNMUTE','KICK','BAN','UNBAN','PURGE','LOCK','UNLOCK')"`
	Reason          string           `json:"reason" gorm:"type:string"`
	DurationMinutes int              `json:"duration_minutes"`
	CreatedAt       int64            `json:"created_at" gorm:"autoCreateTime:milli;index"`
}

func (ModerationLog) TableName() string {
	return "moderation_logs"
}

func (m ModerationLog) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(m.ID)),
		slog.String(columnGuildID, m.GuildID),
		slog.String(columnUserID, m.UserID),
		slog.String(columnModeratorID, m.ModeratorID),
		slog.String(columnAction, string(m.Action)),
	)
}

// ModerationLogQuery filters [ModerationLog] records. Empty fields
// aren't filtered on.
type ModerationLogQuery struct {
	GuildID string
	UserID  string
	Action  ModerationAction
	Limit   int
	Offset  int

	// Ascending sorts oldest first
	Ascending bool
}

// moderationLogs returns the records matching q, and the total number
// of matching records ignoring q.Limit and q.Offset.
func moderationLogs(
	ctx context.Context,
	db DBI,
	q ModerationLogQuery,
) ([]ModerationLog, int64, error) {
	session, cancel := reader(ctx, db)
	defer cancel()
	query := session.Model(&ModerationLog{})
	if q.GuildID != "" {
		query = query.Where("guild_id = ?", q.GuildID)
	}
	if q.UserID != "" {
		query = query.Where("user_id = ?", q.UserID)
	}
	if q.Action != "" {
		query = query.Where("action = ?", q.Action)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting moderation logs: %w", err)
	}

	order := lo.Ternary(q.Ascending, "created_at asc, id asc", "created_at desc, id desc")
	query = query.Order(order)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}

	var records []ModerationLog
	if err := query.Find(&records).Error; err != nil {
		return nil, total, fmt.Errorf("error getting moderation logs: %w", err)
	}
	return records, total, nil
}

// hasPermission reports whether perms includes flag. Administrator
// implies every permission.
func hasPermission(perms int64, flag int64) bool {
	if perms&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return perms&flag == flag
}

func isAdministrator(m *discordgo.Member) bool {
	return m != nil && m.Permissions&discordgo.PermissionAdministrator != 0
}

// checkModeratorPermissions gates every moderation command. Admins and
// server managers always pass. Otherwise moderation must be enabled for
// the guild, and the member needs kick or ban permissions.
func checkModeratorPermissions(
	ctx context.Context,
	settings SettingsStore,
	guildID string,
	member *discordgo.Member,
) error {
	if member == nil {
		return permissionDenied(msgNoPermission)
	}
	perms := member.Permissions
	if hasPermission(perms, discordgo.PermissionManageServer) {
		return nil
	}
	enabled, err := settingBool(ctx, settings, guildID, settingModerationEnabled, true)
	if err != nil {
		return upstreamFailure(msgUnexpectedError, err)
	}
	if !enabled {
		return permissionDenied(msgNoPermission)
	}
	if perms&(discordgo.PermissionKickMembers|discordgo.PermissionBanMembers) != 0 {
		return nil
	}
	return permissionDenied(msgNoPermission)
}

// topRolePosition returns the highest position of the given roles, or 0
// (@everyone) if the member has none
func topRolePosition(guildRoles []*discordgo.Role, memberRoles []string) int {
	positions := lo.SliceToMap(
		guildRoles, func(r *discordgo.Role) (string, int) {
			return r.ID, r.Position
		},
	)
	top := 0
	for _, id := range memberRoles {
		if p, ok := positions[id]; ok && p > top {
			top = p
		}
	}
	return top
}

func memberLabel(m *discordgo.Member) string {
	if m == nil || m.User == nil {
		return ""
	}
	return fmt.Sprintf("%s (%s)", m.User.Username, m.User.ID)
}
