package modconcierge

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/samber/lo"
	"log/slog"
	"slices"
	"strings"
	"time"
)

const (
	msgAutoRoleFailed = "❌ An error occurred while updating autoroles."

	autoRoleAuditReason = "AutoRole Assignment"
	defaultAutoRoleWait = 15 * time.Second
)

// AutoRoles gives members the guild's autorole_roles as they join, and
// implements the commands that manage that list.
type AutoRoles struct {
	session   DiscordSessionHandler
	settings  SettingsStore
	events    *EventLogger
	logger    *slog.Logger
	metrics   *metrics
	timeout   time.Duration
	paused    func() bool
	botUserID func() string
}

func newAutoRoles(
	session DiscordSessionHandler,
	settings SettingsStore,
	events *EventLogger,
	logger *slog.Logger,
) *AutoRoles {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoRoles{
		session:   session,
		settings:  settings,
		events:    events,
		logger:    logger.With(loggerNameKey, "autoroles"),
		timeout:   defaultAutoRoleWait,
		paused:    func() bool { return false },
		botUserID: func() string { return "" },
	}
}

// Roles returns the guild's autorole IDs, in the order they were added
func (a *AutoRoles) Roles(ctx context.Context, guildID string) ([]string, error) {
	v, err := settingString(ctx, a.settings, guildID, settingAutoroleRoles)
	if err != nil {
		return nil, err
	}
	return splitRoleList(v), nil
}

// Assign adds every autorole to the member. Bots are skipped. Each role
// is attempted even if an earlier one fails, and the returned slice
// holds the roles that were added.
func (a *AutoRoles) Assign(ctx context.Context, m *discordgo.Member) ([]string, error) {
	if m == nil || m.User == nil || m.User.Bot {
		return nil, nil
	}
	logger := contextLoggerOr(ctx, a.logger).With(columnGuildID, m.GuildID, columnUserID, m.User.ID)

	roles, err := a.Roles(ctx, m.GuildID)
	if err != nil {
		return nil, fmt.Errorf("error reading autoroles: %w", err)
	}

	var assigned []string
	var errs []error
	for _, roleID := range roles {
		if slices.Contains(m.Roles, roleID) {
			continue
		}
		roleErr := a.session.GuildMemberRoleAdd(
			m.GuildID,
			m.User.ID,
			roleID,
			discordgo.WithAuditLogReason(autoRoleAuditReason),
		)
		if a.metrics != nil {
			a.metrics.autoRolesAssigned.WithLabelValues(lo.Ternary(roleErr == nil, "ok", "error")).Inc()
		}
		if roleErr != nil {
			logger.WarnContext(ctx, "error assigning autorole", "role_id", roleID, tint.Err(roleErr))
			errs = append(errs, fmt.Errorf("role %s: %w", roleID, roleErr))
			continue
		}
		assigned = append(assigned, roleID)
	}

	if len(assigned) > 0 {
		logger.InfoContext(ctx, "assigned autoroles", "roles", assigned)
		if a.events != nil {
			a.events.log(ctx, autoRolesAssignedEvent(m, assigned))
		}
	}
	return assigned, errors.Join(errs...)
}

func (a *AutoRoles) handlers() []any {
	return []any{a.onGuildMemberAdd}
}

func (a *AutoRoles) onGuildMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || a.paused() {
		return
	}
	ctx, cancel := context.WithTimeout(WithLogger(context.Background(), a.logger), a.timeout)
	defer cancel()
	if _, err := a.Assign(ctx, m.Member); err != nil {
		a.logger.ErrorContext(ctx, "autorole assignment failed", columnGuildID, m.GuildID, tint.Err(err))
	}
}

func (a *AutoRoles) saveRoles(ctx context.Context, guildID string, roles []string) error {
	return setMany(ctx, a.settings, guildID, map[string]string{settingAutoroleRoles: strings.Join(roles, ",")})
}

// checkAssignable returns the guild role for roleID if the bot is able
// to give it to members
func (a *AutoRoles) checkAssignable(guildID, roleID string) (*discordgo.Role, error) {
	if roleID == "" {
		return nil, preconditionFailed("❌ Please specify a role.")
	}
	if roleID == guildID {
		return nil, preconditionFailed("❌ The @everyone role can't be an autorole.")
	}
	roles, err := a.session.GuildRoles(guildID)
	if err != nil {
		return nil, upstreamFailure(msgAutoRoleFailed, err)
	}
	role, ok := lo.Find(
		roles, func(r *discordgo.Role) bool {
			return r.ID == roleID
		},
	)
	if !ok {
		return nil, preconditionFailed("❌ That role doesn't exist in this server.")
	}
	if role.Managed {
		return nil, preconditionFailed("❌ That role is managed by an integration and can't be assigned.")
	}

	if botID := a.botUserID(); botID != "" {
		bot, botErr := a.session.GuildMember(guildID, botID)
		if botErr != nil {
			return nil, upstreamFailure(msgAutoRoleFailed, botErr)
		}
		if role.Position >= topRolePosition(roles, bot.Roles) {
			return nil, permissionDenied("❌ I cannot assign roles that are higher than my highest role!")
		}
	}
	return role, nil
}

// beginAutoRoleCommand checks the interaction is from a member who can
// manage roles
func beginAutoRoleCommand(h InteractionHandler) (*discordgo.InteractionCreate, error) {
	i := h.GetInteraction()
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return nil, preconditionFailed(msgGuildOnly)
	}
	if !hasPermission(i.Member.Permissions, discordgo.PermissionManageRoles) {
		return nil, permissionDenied(msgNoPermission)
	}
	return i, nil
}

// SetAutoRole handles /set-autorole, adding a role to the guild's list
func (a *AutoRoles) SetAutoRole(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	i, err := beginAutoRoleCommand(h)
	if err != nil {
		return nil, err
	}
	roleID := optionRoleID(commandOptions(i), "role")
	if _, err = a.checkAssignable(i.GuildID, roleID); err != nil {
		return nil, err
	}

	roles, err := a.Roles(ctx, i.GuildID)
	if err != nil {
		return nil, upstreamFailure(msgAutoRoleFailed, err)
	}
	if slices.Contains(roles, roleID) {
		return embedReply(
			newEmbed(
				"AutoRole Unchanged",
				fmt.Sprintf("%s is already an autorole.", roleMention(roleID)),
				colorBlue,
			).build(),
		), nil
	}
	if len(roles) >= settingRoleListMaxLength {
		return nil, preconditionFailed(
			fmt.Sprintf("❌ A server can have at most %d autoroles.", settingRoleListMaxLength),
		)
	}

	if err = a.saveRoles(ctx, i.GuildID, append(roles, roleID)); err != nil {
		return nil, upstreamFailure(msgAutoRoleFailed, err)
	}
	h.Logger().InfoContext(ctx, "added autorole", "role_id", roleID)
	return embedReply(
		newEmbed(
			"✅ AutoRole Updated",
			fmt.Sprintf("%s will now be automatically assigned to new members", roleMention(roleID)),
			colorGreen,
		).build(),
	), nil
}

// RemoveAutoRole handles /remove-autorole
func (a *AutoRoles) RemoveAutoRole(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	i, err := beginAutoRoleCommand(h)
	if err != nil {
		return nil, err
	}
	roleID := optionRoleID(commandOptions(i), "role")

	roles, err := a.Roles(ctx, i.GuildID)
	if err != nil {
		return nil, upstreamFailure(msgAutoRoleFailed, err)
	}
	if len(roles) == 0 {
		return nil, preconditionFailed("❌ No autoroles are currently set up.")
	}
	if !slices.Contains(roles, roleID) {
		return nil, preconditionFailed(fmt.Sprintf("❌ %s is not set as an autorole.", roleMention(roleID)))
	}

	if err = a.saveRoles(ctx, i.GuildID, lo.Without(roles, roleID)); err != nil {
		return nil, upstreamFailure(msgAutoRoleFailed, err)
	}
	h.Logger().InfoContext(ctx, "removed autorole", "role_id", roleID)
	return embedReply(
		newEmbed(
			"AutoRole Removed",
			fmt.Sprintf("%s will no longer be automatically assigned", roleMention(roleID)),
			colorOrange,
		).build(),
	), nil
}

// ListAutoRoles handles /list-autoroles. Roles that were deleted from
// the guild since they were added are marked.
func (a *AutoRoles) ListAutoRoles(ctx context.Context, h InteractionHandler) (*discordgo.WebhookEdit, error) {
	i := h.GetInteraction()
	if i.GuildID == "" {
		return nil, preconditionFailed(msgGuildOnly)
	}
	roles, err := a.Roles(ctx, i.GuildID)
	if err != nil {
		return nil, upstreamFailure(msgAutoRoleFailed, err)
	}
	if len(roles) == 0 {
		return embedReply(
			newEmbed("🎭 AutoRoles", "No autoroles are set up. Add one with /set-autorole.", colorBlue).build(),
		), nil
	}

	guildRoles, err := a.session.GuildRoles(i.GuildID)
	if err != nil {
		return nil, upstreamFailure(msgAutoRoleFailed, err)
	}
	existing := lo.SliceToMap(
		guildRoles, func(r *discordgo.Role) (string, bool) {
			return r.ID, true
		},
	)
	lines := lo.Map(
		roles, func(id string, _ int) string {
			if existing[id] {
				return "• " + roleMention(id)
			}
			return fmt.Sprintf("• %s (deleted)", id)
		},
	)
	return embedReply(
		newEmbed("🎭 AutoRoles", "New members are given:\n"+strings.Join(lines, "\n"), colorBlue).
			footer(fmt.Sprintf("%d of %d autoroles", len(roles), settingRoleListMaxLength)).
			build(),
	), nil
}
