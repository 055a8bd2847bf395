package modconcierge

import (
	"context"
	"fmt"
	"github.com/lmittmann/tint"
	"github.com/samber/lo"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	settingWhisperEnabled        = "whisper_enabled"
	settingWhisperChannel        = "whisper_channel"
	settingModerationEnabled     = "moderation_enabled"
	settingModLogChannel         = "mod_log_channel"
	settingUnifiedLoggingEnabled = "unified_logging_enabled"

	settingAutoroleRoles = "autorole_roles"

	settingLevelingEnabled    = "leveling_enabled"
	settingXPRate             = "xp_rate"
	settingXPCooldown         = "xp_cooldown"
	settingLevelUpMessage     = "level_up_message"
	settingLevelUpDestination = "level_up_destination"
	settingLevelUpChannel     = "level_channel"

	defaultLevelUpMessage     = "🎉 {user} reached level {level}!"
	levelUpDestinationSame    = "same"
	levelUpDestinationChannel = "channel"
	levelUpDestinationDM      = "dm"

	settingTextMaxLength     = 1000
	settingRoleListMaxLength = 10
)

type settingKind int

const (
	settingKindBool settingKind = iota
	settingKindChannel
	settingKindInt
	settingKindText
	// settingKindRoles is a comma-separated list of role IDs
	settingKindRoles
)

type settingDefinition struct {
	Kind    settingKind
	Default string

	// Min and Max bound settingKindInt values
	Min, Max int64

	// Choices, if set, are the only values allowed for settingKindText
	Choices []string
}

// knownSettings are the per-guild settings that can be read and written.
// Category logging settings are added in init.
var knownSettings = map[string]settingDefinition{
	settingWhisperEnabled:        {Kind: settingKindBool, Default: "true"},
	settingWhisperChannel:        {Kind: settingKindChannel},
	settingModerationEnabled:     {Kind: settingKindBool, Default: "true"},
	settingModLogChannel:         {Kind: settingKindChannel},
	settingUnifiedLoggingEnabled: {Kind: settingKindBool, Default: "true"},

	settingAutoroleRoles: {Kind: settingKindRoles},

	settingLevelingEnabled: {Kind: settingKindBool, Default: "true"},
	settingXPRate:          {Kind: settingKindInt, Default: "10", Min: 1, Max: 1000},
	settingXPCooldown:      {Kind: settingKindInt, Default: "60", Min: 0, Max: 86400},
	settingLevelUpMessage:  {Kind: settingKindText, Default: defaultLevelUpMessage},
	settingLevelUpChannel:  {Kind: settingKindChannel},
	settingLevelUpDestination: {
		Kind:    settingKindText,
		Default: levelUpDestinationSame,
		Choices: []string{levelUpDestinationSame, levelUpDestinationChannel, levelUpDestinationDM},
	},
}

func init() {
	for _, cat := range logCategories {
		knownSettings[cat.eventsSetting()] = settingDefinition{
			Kind:    settingKindBool,
			Default: "true",
		}
		knownSettings[cat.channelSetting()] = settingDefinition{Kind: settingKindChannel}
	}
}

// GuildSetting is a single per-guild setting.
type GuildSetting struct {
	GuildID   string `json:"guild_id" gorm:"primaryKey;not null"`
	Setting   string `json:"setting" gorm:"primaryKey;not null"`
	Value     string `json:"value" gorm:"type:string"`
	UpdatedAt int64  `json:"updated_at" gorm:"autoUpdateTime:milli"`
}

func (GuildSetting) TableName() string {
	return "guild_settings"
}

// SettingsStore reads and writes per-guild settings.
type SettingsStore interface {
	// Get returns the value of key for the guild, or def if it's unset
	Get(ctx context.Context, guildID, key, def string) (string, error)

	// Set writes the value of key for the guild
	Set(ctx context.Context, guildID, key, value string) error

	// Invalidate drops any cached settings for the guild
	Invalidate(guildID string)
}

// GuildSettings is the [SettingsStore] backed by the guild_settings
// table. Each guild's settings are loaded on first access and cached
// until invalidated.
type GuildSettings struct {
	db       DBI
	notifier DBNotifier
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]map[string]string
	// bumped by every Invalidate of the guild
	generation map[string]uint64
}

func NewGuildSettings(db DBI, notifier DBNotifier, logger *slog.Logger) *GuildSettings {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuildSettings{
		db:         db,
		notifier:   notifier,
		logger:     logger.With(loggerNameKey, "guild_settings"),
		cache:      map[string]map[string]string{},
		generation: map[string]uint64{},
	}
}

// load returns the guild's settings, from the cache if present. A read
// that overlaps an Invalidate isn't cached, since it may have seen the
// values from before the write.
func (g *GuildSettings) load(ctx context.Context, guildID string) (map[string]string, error) {
	g.mu.RLock()
	values, ok := g.cache[guildID]
	gen := g.generation[guildID]
	g.mu.RUnlock()
	if ok {
		return values, nil
	}

	db, cancel := reader(ctx, g.db)
	defer cancel()
	var rows []GuildSetting
	if err := db.Where("guild_id = ?", guildID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error loading settings for guild %s: %w", guildID, err)
	}
	values = lo.SliceToMap(
		rows, func(r GuildSetting) (string, string) {
			return r.Setting, r.Value
		},
	)

	g.mu.Lock()
	if g.generation[guildID] == gen {
		g.cache[guildID] = values
	}
	g.mu.Unlock()
	return values, nil
}

func (g *GuildSettings) Get(ctx context.Context, guildID, key, def string) (string, error) {
	values, err := g.load(ctx, guildID)
	if err != nil {
		return def, err
	}
	if v, ok := values[key]; ok {
		return v, nil
	}
	return def, nil
}

func (g *GuildSettings) Set(ctx context.Context, guildID, key, value string) error {
	row := &GuildSetting{GuildID: guildID, Setting: key, Value: value}
	_, err := g.db.Upsert(
		ctx,
		row,
		[]string{columnGuildID, "setting"},
		[]string{"value", "updated_at"},
	)
	if err != nil {
		return fmt.Errorf("error saving setting %q: %w", key, err)
	}
	g.Invalidate(guildID)
	g.logger.InfoContext(
		ctx,
		"updated guild setting",
		columnGuildID, guildID,
		"setting", key,
		"value", value,
	)
	if g.notifier != nil {
		if sent := g.notifier.GuildSettingsChanged(ctx, guildID); !sent {
			g.logger.WarnContext(ctx, "guild settings notification not sent", columnGuildID, guildID)
		}
	}
	return nil
}

func (g *GuildSettings) Invalidate(guildID string) {
	g.mu.Lock()
	delete(g.cache, guildID)
	g.generation[guildID]++
	g.mu.Unlock()
}

// SetMany validates and writes each setting. Validation happens before
// any write, so an invalid value means nothing is written.
func (g *GuildSettings) SetMany(ctx context.Context, guildID string, values map[string]string) error {
	normalized := make(map[string]string, len(values))
	for k, v := range values {
		nv, err := normalizeSetting(k, v)
		if err != nil {
			return err
		}
		normalized[k] = nv
	}
	keys := lo.Keys(normalized)
	sort.Strings(keys)
	for _, k := range keys {
		if err := g.Set(ctx, guildID, k, normalized[k]); err != nil {
			return err
		}
	}
	return nil
}

// Effective returns every known setting for the guild, with defaults
// filled in for unset keys.
func (g *GuildSettings) Effective(ctx context.Context, guildID string) (map[string]string, error) {
	values, err := g.load(ctx, guildID)
	if err != nil {
		return nil, err
	}
	rv := make(map[string]string, len(knownSettings))
	for k, def := range knownSettings {
		rv[k] = def.Default
	}
	for k, v := range values {
		rv[k] = v
	}
	return rv, nil
}

// normalizeSetting checks value against the setting's kind, and returns
// the value to store. Booleans are stored as "true" or "false".
func normalizeSetting(key, value string) (string, error) {
	def, ok := knownSettings[key]
	if !ok {
		return "", fmt.Errorf("unknown setting: %q", key)
	}
	switch def.Kind {
	case settingKindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("setting %q must be a boolean", key)
		}
		return strconv.FormatBool(b), nil
	case settingKindChannel:
		if value == "" {
			return value, nil
		}
		if _, err := strconv.ParseUint(value, 10, 64); err != nil {
			return "", fmt.Errorf("setting %q must be a channel ID", key)
		}
		return value, nil
	case settingKindInt:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || n < def.Min || n > def.Max {
			return "", fmt.Errorf("setting %q must be a number from %d to %d", key, def.Min, def.Max)
		}
		return strconv.FormatInt(n, 10), nil
	case settingKindText:
		value = strings.TrimSpace(value)
		if len(def.Choices) > 0 && !slices.Contains(def.Choices, value) {
			return "", fmt.Errorf("setting %q must be one of: %s", key, strings.Join(def.Choices, ", "))
		}
		if utf8.RuneCountInString(value) > settingTextMaxLength {
			return "", fmt.Errorf("setting %q is limited to %d characters", key, settingTextMaxLength)
		}
		return value, nil
	case settingKindRoles:
		roles := splitRoleList(value)
		if len(roles) > settingRoleListMaxLength {
			return "", fmt.Errorf("setting %q is limited to %d roles", key, settingRoleListMaxLength)
		}
		for _, r := range roles {
			if _, err := strconv.ParseUint(r, 10, 64); err != nil {
				return "", fmt.Errorf("setting %q must be a list of role IDs", key)
			}
		}
		return strings.Join(roles, ","), nil
	default:
		return value, nil
	}
}

// splitRoleList parses a settingKindRoles value, dropping blanks and
// duplicates
func splitRoleList(value string) []string {
	parts := lo.Map(
		strings.Split(value, ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		},
	)
	return lo.Uniq(lo.Compact(parts))
}

// settingBool reads a boolean setting. Unparseable values are logged
// and treated as def.
func settingBool(
	ctx context.Context,
	s SettingsStore,
	guildID string,
	key string,
	def bool,
) (bool, error) {
	v, err := s.Get(ctx, guildID, key, strconv.FormatBool(def))
	if err != nil {
		return def, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Default().WarnContext(
			ctx,
			"invalid boolean setting",
			columnGuildID, guildID,
			"setting", key,
			"value", v,
			tint.Err(err),
		)
		return def, nil
	}
	return b, nil
}

// settingInt reads a numeric setting. Unparseable values are logged
// and treated as def.
func settingInt(
	ctx context.Context,
	s SettingsStore,
	guildID string,
	key string,
	def int64,
) (int64, error) {
	v, err := s.Get(ctx, guildID, key, strconv.FormatInt(def, 10))
	if err != nil {
		return def, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Default().WarnContext(
			ctx,
			"invalid numeric setting",
			columnGuildID, guildID,
			"setting", key,
			"value", v,
			tint.Err(err),
		)
		return def, nil
	}
	return n, nil
}

// settingString reads a string setting, returning "" when unset
func settingString(
	ctx context.Context,
	s SettingsStore,
	guildID string,
	key string,
) (string, error) {
	return s.Get(ctx, guildID, key, "")
}
