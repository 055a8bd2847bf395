package modconcierge

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"log/slog"
)

const (
	columnRuntimeConfigAdminUsername = "admin_username"
	columnRuntimeConfigAdminPassword = "admin_password"
	columnRuntimeConfigPaused        = "paused"

	DefaultDiscordPausedMessage = "Commands are temporarily disabled. Please try again later."
)

// CommandOptions are the runtime settings consulted while a single
// interaction is handled
type CommandOptions struct {
	// RecoverPanic determines whether the bot should recover from panics
	// while processing user commands
	RecoverPanic bool `json:"recover_panic" gorm:"not null;default:false"`

	// Message shown to the user when a command fails for a reason they
	// shouldn't see the details of
	DiscordErrorMessage string `json:"discord_error_message" gorm:"type:string" binding:"max=2000"`

	// Message shown to the user when a command is used while the bot
	// is paused
	DiscordPausedMessage string `json:"discord_paused_message" gorm:"type:string" binding:"max=2000"`

	// If specified, the bot posts its startup message to this channel
	// when it connects.
	DiscordNotificationChannelID string `json:"discord_notification_channel_id" gorm:"type:string"`
}

// RuntimeConfig holds the settings that can be changed while the bot is
// running, through the admin API. There is a single row, which every
// instance sharing the database reads.
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime
	CommandOptions

	// Paused stops the bot from handling commands and logging events.
	// The gateway stays connected.
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// Opens a discord gateway websocket connection.
	// If the bot receives slash commands via gateway, this is required.
	// If the bot receives commands via webhook, enabling this allows the
	// bot to appear online, set its status and log guild events.
	DiscordGatewayEnabled bool `json:"discord_gateway_enabled" gorm:"not null"`

	// DiscordCustomStatus is the custom status message displayed for the bot on Discord.
	DiscordCustomStatus string `json:"discord_custom_status" gorm:"type:string" binding:"max=128"`

	// AdminUsername for the admin API
	AdminUsername string `json:"admin_username" gorm:"type:string" log:"[redacted]"`

	// AdminPassword stores the argon2 hash of the admin password
	AdminPassword string `json:"-" gorm:"type:string" log:"[redacted]"`

	LogLevel               DBLogLevel `gorm:"default:INFO;type:string;check:log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel        DBLogLevel `gorm:"default:INFO;type:string;check:discord_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discord_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel      DBLogLevel `gorm:"default:WARN;column:discordgo_log_level;type:string;check:discordgo_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discordgo_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel       DBLogLevel `gorm:"default:INFO;type:string;check:database_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"database_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	DiscordWebhookLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:discord_webhook_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discord_webhook_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
	APILogLevel            DBLogLevel `gorm:"default:INFO;type:string;check:api_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"api_log_level" binding:"oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "runtime_config"
}

func (r RuntimeConfig) LogValue() slog.Value {
	return structToSlogValue(r)
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		CommandOptions: CommandOptions{
			RecoverPanic:         false,
			DiscordErrorMessage:  DefaultDiscordErrorMessage,
			DiscordPausedMessage: DefaultDiscordPausedMessage,
		},
		DiscordGatewayEnabled:  true,
		DiscordCustomStatus:    DefaultDiscordCustomStatus,
		LogLevel:               DBLogLevelInfo,
		DiscordLogLevel:        DBLogLevelInfo,
		DiscordGoLogLevel:      DBLogLevelWarn,
		DatabaseLogLevel:       DBLogLevelInfo,
		DiscordWebhookLogLevel: DBLogLevelInfo,
		APILogLevel:            DBLogLevelInfo,
	}
}

// RuntimeConfigUpdate is the PATCH payload for [RuntimeConfig]. Nil
// fields are left unchanged. JSON keys match the column names, so the
// payload can be applied with a single Updates call.
//
//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused       *bool `json:"paused,omitempty"`
	RecoverPanic *bool `json:"recover_panic,omitempty"`

	DiscordGatewayEnabled        *bool   `json:"discord_gateway_enabled,omitempty"`
	DiscordCustomStatus          *string `json:"discord_custom_status,omitempty" binding:"omitnil,max=128"`
	DiscordErrorMessage          *string `json:"discord_error_message,omitempty" binding:"omitnil,min=1,max=2000"`
	DiscordPausedMessage         *string `json:"discord_paused_message,omitempty" binding:"omitnil,min=1,max=2000"`
	DiscordNotificationChannelID *string `json:"discord_notification_channel_id,omitempty" binding:"omitnil,max=32"`

	LogLevel               *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel        *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel      *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel       *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordWebhookLogLevel *DBLogLevel `json:"discord_webhook_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel            *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (b RuntimeConfigUpdate) validate() error {
	return structValidator.Struct(b)
}

// columns returns the update as a column/value map, omitting nil fields
func (b RuntimeConfigUpdate) columns() (map[string]any, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("error marshaling update: %w", err)
	}
	var updates map[string]any
	if err = json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("error unmarshaling update: %w", err)
	}
	return updates, nil
}

func getDiscordPresenceStatusUpdate(config RuntimeConfig) discordgo.UpdateStatusData {
	if config.Paused {
		return discordgo.UpdateStatusData{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	return discordgo.UpdateStatusData{
		Status: string(discordgo.StatusOnline),
		Activities: []*discordgo.Activity{
			{
				Name:  "Custom Status",
				Type:  discordgo.ActivityTypeCustom,
				State: config.DiscordCustomStatus,
			},
		},
	}
}

// UpdateRuntimeConfig validates and applies update, persists the new
// config, and announces it to the other instances. The updated config
// is returned. If validation or the database write fails, the current
// config is left unchanged.
func (m *ModConcierge) UpdateRuntimeConfig(
	ctx context.Context,
	update RuntimeConfigUpdate,
) (RuntimeConfig, error) {
	logger := contextLoggerOr(ctx, m.logger)

	if err := update.validate(); err != nil {
		return m.RuntimeConfig(), fmt.Errorf("invalid update: %w", err)
	}
	updates, err := update.columns()
	if err != nil {
		return m.RuntimeConfig(), err
	}

	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	previous := *m.runtimeConfig
	updated := previous

	if len(updates) > 0 {
		logger.InfoContext(ctx, "applying runtime config update", "updates", updates)
		err = m.writeDB.Transaction(
			ctx, func(tx *gorm.DB) error {
				if e := tx.Model(&updated).Updates(updates).Error; e != nil {
					return e
				}
				return structValidator.Struct(updated)
			},
		)
		if err != nil {
			logger.ErrorContext(ctx, "error updating runtime config", tint.Err(err))
			return previous, err
		}
	}

	m.runtimeConfig = &updated
	m.setRuntimeLevels(updated)
	m.paused.Store(updated.Paused)
	switch {
	case previous.Paused && !updated.Paused:
		logger.Info("unpaused bot")
	case updated.Paused && !previous.Paused:
		logger.Warn("paused bot")
	}

	// other instances apply this on refresh
	if m.discord != nil {
		m.applyGatewayState(ctx, previous, updated)
	}

	g := new(errgroup.Group)
	if m.discord != nil && m.discord.connected.Load() {
		if updated.DiscordNotificationChannelID != "" &&
			updated.DiscordNotificationChannelID != previous.DiscordNotificationChannelID {
			g.Go(
				func() error {
					return m.discord.sendStartupMessage(updated.DiscordNotificationChannelID)
				},
			)
		}
	}
	if e := g.Wait(); e != nil {
		logger.ErrorContext(ctx, "error applying runtime config side effects", tint.Err(e))
	}

	if m.dbNotifier != nil {
		if sent := m.dbNotifier.ReloadRuntimeConfig(ctx); !sent {
			logger.ErrorContext(ctx, "error sending config update notification")
		}
	}
	return updated, nil
}

// updateDiscordBotStatus updates the gateway presence when the paused
// state or custom status changes
func updateDiscordBotStatus(
	d *Discord,
	logger *slog.Logger,
	previous RuntimeConfig,
	current RuntimeConfig,
) error {
	if previous.Paused == current.Paused &&
		previous.DiscordCustomStatus == current.DiscordCustomStatus {
		return nil
	}
	status := getDiscordPresenceStatusUpdate(current)
	logger.Info("updating discord status", "status", status.Status, "afk", status.AFK)
	if err := d.session.UpdateStatusComplex(status); err != nil {
		return fmt.Errorf("error updating discord status: %w", err)
	}
	return nil
}
