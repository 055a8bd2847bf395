//nolint:lll // struct tags can't be split
package modconcierge

import (
	"crypto/tls"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"log/slog"
	"net/http"
	"slices"
	"time"
)

const (
	EnvvarSetEnvPrefix    = "MODCONCIERGE_ENV_PREFIX"
	DefaultEnvPrefix      = "MC"
	DefaultDatabaseType   = "sqlite"
	DefaultDatabase       = "modconcierge.sqlite3"
	DefaultLogLevel       = slog.LevelInfo
	DefaultStartupTimeout = 30 * time.Second

	DefaultShutdownTimeout = 60 * time.Second

	DefaultReadTimeout                       = 5 * time.Second
	DefaultReadHeaderTimeout                 = 5 * time.Second
	DefaultWriteTimeout                      = 10 * time.Second
	DefaultIdleTimeout                       = 30 * time.Second
	DefaultDiscordWebhookServerListen        = "127.0.0.1:5001"
	DefaultDiscordWebhookServerTLSminVersion = tls.VersionTLS12

	// DefaultDiscordGatewayIntent adds the privileged member and message
	// content intents, which the event log needs for joins, leaves and
	// message edits.
	DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentGuildMembers |
		discordgo.IntentMessageContent

	DefaultDiscordStateMaxMessages = 500
	DefaultDiscordWebhookLogLevel  = slog.LevelInfo
	DefaultDiscordLogLevel         = slog.LevelWarn
	DefaultDiscordErrorMessage     = "Something went wrong. Please try again later."
	DefaultDiscordCustomStatus     = "Keeping the peace"
	DefaultDiscordStartupMessage   = "I'm online!"
	discordMaxMessageLength        = 2000
	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultUITLSMinVersion         = tls.VersionTLS12
	DefaultAPISessionMaxAge        = 6 * time.Hour

	DefaultDatabaseSlowThreshold   = 200 * time.Millisecond
	DefaultDatabaseLogLevel        = slog.LevelInfo
	DefaultDiscordgoLogLevel       = slog.LevelWarn
	DefaultAPILogLevel             = slog.LevelInfo
	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = true

	DefaultRuntimeConfigTTL = 5 * time.Minute

	DefaultWhisperChannelName  = "🤫-whispers"
	DefaultWhisperChannelTopic = "Private communication channel - Staff only"

	// DefaultWhisperAutoArchive is the private thread auto-archive
	// duration, in minutes (one week)
	DefaultWhisperAutoArchive = 10080

	DefaultModerationDMTargets = true
)

// DiscordInteractionReceiveMethod is how an interaction reached the bot
type DiscordInteractionReceiveMethod string

const (
	discordInteractionReceiveMethodGateway DiscordInteractionReceiveMethod = "gateway"
	discordInteractionReceiveMethodWebhook DiscordInteractionReceiveMethod = "webhook"
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		"X-CSRF-Token",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		xRequestIDHeader,
		"Location",
		"ETag",
		"Authorization",
		"Last-Modified",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

// Config is the static configuration for ModConcierge, loaded from
// the environment (or a .env file) at startup. Settings that can change
// while the bot is running live in [RuntimeConfig], and per-guild
// settings live in [GuildSetting].
type Config struct {
	// Database is a file path for sqlite, or a DSN for postgres
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType is 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel applies to the gorm logger
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// Queries taking longer than DatabaseSlowThreshold are logged as warnings
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// API configures the admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Whisper configures how whisper threads and their management
	// channel are created
	Whisper *WhisperConfig `yaml:"whisper" mapstructure:"whisper" json:"whisper"`

	// Moderation configures moderation command behavior
	Moderation *ModerationConfig `yaml:"moderation" mapstructure:"moderation" json:"moderation"`

	// LogLevel applies to the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout bounds connecting to the database, loading the
	// runtime config and rebuilding the whisper registry. Startup fails
	// once it elapses.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout bounds how long in-flight interactions and server
	// shutdowns are waited on before exiting anyway.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// RuntimeConfigTTL is how often the cached RuntimeConfig is reloaded
	// from the database, so changes from other instances are picked up.
	// 0 disables the reload. On postgres, updates are also pushed with
	// LISTEN/NOTIFY.
	RuntimeConfigTTL time.Duration `yaml:"runtime_config_ttl" mapstructure:"runtime_config_ttl" json:"runtime_config_ttl"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig holds bot credentials and gateway settings
//
//nolint:lll // struct tags
type DiscordConfig struct {
	// Bot token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Application ID, used when registering commands
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// WebhookServer receives interactions over HTTP
	WebhookServer DiscordWebhookServerConfig `yaml:"webhook_server" mapstructure:"webhook_server" json:"webhook_server"`

	// Commands are registered to GuildID if set, and globally otherwise
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// LogLevel applies to gateway event handling
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// DiscordGoLogLevel applies to discordgo's internal logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// StartupMessage is posted to [RuntimeConfig.DiscordNotificationChannelID]
	// on each gateway connect, when that channel is set.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message" binding:"required"`

	// GatewayIntents requested on identify
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// StateMaxMessages is the number of messages per channel kept in the
	// discordgo state cache. Deleted/edited message logs can only show
	// the previous content of cached messages. 0 disables the state cache.
	StateMaxMessages int `yaml:"state_max_messages" mapstructure:"state_max_messages" json:"state_max_messages" binding:"min=0"`

	httpClient *http.Client
}

// DiscordWebhookServerConfig configures the interactions endpoint. It can
// run in place of, or alongside, the gateway.
type DiscordWebhookServerConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Listen address, ex: "127.0.0.1:5001"
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// ListenNetwork is one of tcp, tcp4, tcp6 or unix
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6 unix"`

	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// PublicKey is the hex-encoded application public key that request
	// signatures are checked against
	PublicKey string `yaml:"public_key" mapstructure:"public_key" json:"public_key" binding:"required_if=Enabled true"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Timeouts passed through to [http.Server]
	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// WhisperConfig sets how the management channel and private threads
// are created when a guild has no whisper channel configured yet.
type WhisperConfig struct {
	// Name of the management channel created on first use
	ChannelName string `yaml:"channel_name" mapstructure:"channel_name" json:"channel_name" binding:"required,max=100"`

	// Topic set on the management channel
	ChannelTopic string `yaml:"channel_topic" mapstructure:"channel_topic" json:"channel_topic" binding:"max=1024"`

	// Auto-archive duration for whisper threads, in minutes
	AutoArchiveDuration int `yaml:"auto_archive_duration" mapstructure:"auto_archive_duration" json:"auto_archive_duration" binding:"oneof=60 1440 4320 10080"`
}

// ModerationConfig configures moderation command side effects.
type ModerationConfig struct {
	// DMTargets sends the target a direct message before they're kicked,
	// banned, muted or warned
	DMTargets bool `yaml:"dm_targets" mapstructure:"dm_targets" json:"dm_targets"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	// Listen address, ex: "127.0.0.1:5000". Empty disables the API.
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen"`

	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Secret signs session cookies. A random one is generated if empty,
	// which logs everyone out on restart.
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// Without a cert and key, the API is served over plain HTTP
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=1s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`

	// SessionMaxAge is the session cookie lifetime
	SessionMaxAge time.Duration `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age"  binding:"min=10m,max=24h"`

	// Development relaxes the session cookie to SameSite=None, runs gin
	// in debug mode and mounts pprof under /debug/pprof
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig holds paths to a PEM cert/key pair
type SSLConfig struct {
	Cert          string `yaml:"cert" mapstructure:"cert" json:"cert"`
	Key           string `yaml:"key" mapstructure:"key" json:"key"`
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// Enabled reports whether both a cert and key are set
func (s SSLConfig) Enabled() bool {
	return s.Cert != "" && s.Key != ""
}

// CORSConfig is passed to the gin cors middleware on the API server
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = c.AllowOrigins
	cfg.AllowMethods = c.AllowMethods
	cfg.AllowHeaders = c.AllowHeaders
	cfg.ExposeHeaders = c.ExposeHeaders
	cfg.AllowCredentials = c.AllowCredentials
	cfg.MaxAge = c.MaxAge
	return cfg
}

// DefaultCORSConfig allows no origins. The header and method lists are
// copies, so callers can modify them.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     slices.Clone(DefaultCORSAllowMethods),
		AllowHeaders:     slices.Clone(DefaultCORSAllowHeaders),
		ExposeHeaders:    slices.Clone(DefaultCORSExposeHeaders),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

func newLevelVar(level slog.Level) *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(level)
	return v
}

// DefaultConfig returns a Config with every default applied. Each call
// returns new level vars, so changes to one config's levels don't leak
// into another.
func DefaultConfig() *Config {
	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      newLevelVar(DefaultDatabaseLogLevel),
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              newLevelVar(DefaultLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		RuntimeConfigTTL:      DefaultRuntimeConfigTTL,
		Whisper: &WhisperConfig{
			ChannelName:         DefaultWhisperChannelName,
			ChannelTopic:        DefaultWhisperChannelTopic,
			AutoArchiveDuration: DefaultWhisperAutoArchive,
		},
		Moderation: &ModerationConfig{DMTargets: DefaultModerationDMTargets},
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			StateMaxMessages:  DefaultDiscordStateMaxMessages,
			StartupMessage:    DefaultDiscordStartupMessage,
			LogLevel:          newLevelVar(DefaultDiscordLogLevel),
			DiscordGoLogLevel: newLevelVar(DefaultDiscordgoLogLevel),
			WebhookServer: DiscordWebhookServerConfig{
				Listen:            DefaultDiscordWebhookServerListen,
				ListenNetwork:     defaultListenNetwork,
				SSL:               SSLConfig{TLSMinVersion: DefaultDiscordWebhookServerTLSminVersion},
				LogLevel:          newLevelVar(DefaultDiscordWebhookLogLevel),
				ReadTimeout:       DefaultReadTimeout,
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				WriteTimeout:      DefaultWriteTimeout,
				IdleTimeout:       DefaultIdleTimeout,
			},
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			SSL:               SSLConfig{TLSMinVersion: DefaultUITLSMinVersion},
			LogLevel:          newLevelVar(DefaultAPILogLevel),
			CORS:              DefaultCORSConfig(),
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			SessionMaxAge:     DefaultAPISessionMaxAge,
		},
	}
}
