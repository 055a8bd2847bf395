package cmd

import (
	"context"
	"fmt"
	"github.com/arcward/modconcierge/modconcierge"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = modconcierge.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "modconcierge [flags]",
	Short: "Discord moderation bot with private whisper threads",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(" "),
					LevelToStringHookFunc(),
				),
			),
		)
	},
}

// LevelToStringHookFunc decodes level names (DEBUG, INFO, WARN, ERROR)
// into *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Ptr {
			return data, nil
		}
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := levelStringToLevelVar(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		return lvl, nil
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		log.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", modconcierge.DefaultDatabase)
	viper.SetDefault("database_type", modconcierge.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", modconcierge.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", modconcierge.DefaultDatabaseLogLevel.String())

	viper.SetDefault("runtime_config_ttl", modconcierge.DefaultRuntimeConfigTTL)
	viper.SetDefault("log_level", modconcierge.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", modconcierge.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", modconcierge.DefaultShutdownTimeout)

	// Whisper threads
	viper.SetDefault("whisper.channel_name", modconcierge.DefaultWhisperChannelName)
	viper.SetDefault("whisper.channel_topic", modconcierge.DefaultWhisperChannelTopic)
	viper.SetDefault("whisper.auto_archive_duration", modconcierge.DefaultWhisperAutoArchive)

	// Moderation
	viper.SetDefault("moderation.dm_targets", modconcierge.DefaultModerationDMTargets)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.log_level", modconcierge.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", modconcierge.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", int(modconcierge.DefaultDiscordGatewayIntent))
	viper.SetDefault("discord.state_max_messages", modconcierge.DefaultDiscordStateMaxMessages)
	viper.SetDefault("discord.startup_message", modconcierge.DefaultDiscordStartupMessage)

	// Discord: Webhook server
	viper.SetDefault("discord.webhook_server.enabled", false)
	viper.SetDefault("discord.webhook_server.listen", modconcierge.DefaultDiscordWebhookServerListen)
	viper.SetDefault("discord.webhook_server.listen_network", "tcp")
	viper.SetDefault("discord.webhook_server.public_key", "")
	viper.SetDefault("discord.webhook_server.read_timeout", modconcierge.DefaultReadTimeout)
	viper.SetDefault("discord.webhook_server.read_header_timeout", modconcierge.DefaultReadHeaderTimeout)
	viper.SetDefault("discord.webhook_server.write_timeout", modconcierge.DefaultWriteTimeout)
	viper.SetDefault("discord.webhook_server.idle_timeout", modconcierge.DefaultIdleTimeout)
	viper.SetDefault(
		"discord.webhook_server.log_level",
		modconcierge.DefaultDiscordWebhookLogLevel.String(),
	)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// Discord: Webhook server: SSL
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.cert"))
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.key"))
	viper.SetDefault(
		"discord.webhook_server.ssl.tls_min_version",
		modconcierge.DefaultDiscordWebhookServerTLSminVersion,
	)

	// API config
	viper.SetDefault("api.listen", modconcierge.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.log_level", modconcierge.DefaultAPILogLevel.String())
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.session_max_age", modconcierge.DefaultAPISessionMaxAge)
	viper.SetDefault("api.read_timeout", modconcierge.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", modconcierge.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", modconcierge.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", modconcierge.DefaultIdleTimeout)

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))
	viper.SetDefault("api.ssl.tls_min_version", modconcierge.DefaultUITLSMinVersion)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", modconcierge.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", modconcierge.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", modconcierge.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", modconcierge.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", modconcierge.DefaultAPICORSAllowCredentials)

	envPrefix := os.Getenv(modconcierge.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = modconcierge.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Space-separated env values to slices
	for _, key := range []string{
		"api.cors.allow_headers",
		"api.cors.allow_origins",
		"api.cors.allow_methods",
		"api.cors.expose_headers",
	} {
		viper.Set(key, viper.GetStringSlice(key))
	}

	// Level keys stay strings in viper, LevelToStringHookFunc converts
	// them on Unmarshal. initConfig runs on every Execute, so nothing
	// here may depend on a previous run's values.
	for _, key := range logLevelKeys {
		if _, err := levelStringToLevelVar(viper.GetString(key)); err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
	}
}

var logLevelKeys = []string{
	"log_level",
	"database_log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"discord.webhook_server.log_level",
	"api.log_level",
}

//nolint:gochecknoinits // cobra setup
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load configuration from (default: .env)",
	)
}
