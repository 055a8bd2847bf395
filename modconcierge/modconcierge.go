package modconcierge

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

const (
	runtimeConfigRefreshTimeout  = 30 * time.Second
	shutdownAnnouncementInterval = 10 * time.Second
)

// ModConcierge is the moderation bot. It owns the database connections,
// the discord session, the admin API and the command handlers.
type ModConcierge struct {
	config *Config

	logger     *slog.Logger
	logHandler slog.Handler

	// Read connection. Writes go through writeDB.
	db *gorm.DB

	writeDB DBI

	// Announces runtime config, whisper and guild setting changes to
	// other instances sharing the database
	dbNotifier    DBNotifier
	notifyTargets notifyTargets

	discord *Discord
	api     *API

	// Receives interactions over HTTP when the webhook server is enabled
	discordWebhookServer      *DiscordWebhookServer
	webhookInteractionHandler func(c *gin.Context)

	registry    *WhisperRegistry
	settings    *GuildSettings
	whispers    *Whispers
	moderation  *Moderation
	eventLogger *EventLogger
	autoRoles   *AutoRoles
	leveling    *Leveling
	metrics     *metrics

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished startup
	// and the bot is handling commands
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown has finished
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// tracks goroutines spawned while running, which shutdown waits on
	runtimeWG *sync.WaitGroup

	// While paused, commands are answered with the paused message and
	// no events are logged
	paused atomic.Bool

	startedAt time.Time

	// Set when no admin credentials exist yet. The API setup endpoint
	// is only usable while this is set.
	pendingSetup atomic.Bool

	// getInteractionHandlerFunc returns the [InteractionHandler] for an
	// interaction. Gateway and webhook interactions both start from the
	// handler returned here.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler

	runtimeConfig *RuntimeConfig
	cfgMu         sync.RWMutex

	commandsInProgress atomic.Int64
}

// New creates a ModConcierge from config. The database isn't opened
// and discord isn't connected until [ModConcierge.Run] is called.
func New(config *Config) (*ModConcierge, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.Discord == nil {
		return nil, errors.New("discord config required")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Whisper == nil {
		config.Whisper = DefaultConfig().Whisper
	}
	if config.Moderation == nil {
		config.Moderation = DefaultConfig().Moderation
	}

	m := &ModConcierge{
		config:        config,
		signalStop:    make(chan struct{}, 1),
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
		registry:      NewWhisperRegistry(),
		metrics:       newMetrics(),
		runtimeWG:     &sync.WaitGroup{},
	}
	m.notifyTargets = newNotifyTargets(m.signalStop)

	m.logHandler = newLogHandler(defaultLogWriter, config.LogLevel)
	m.logger = slog.New(m.logHandler)
	slog.SetDefault(m.logger)

	config.Discord.httpClient = config.HTTPClient
	disc, err := newDiscord(config.Discord)
	if err != nil {
		return m, errors.Join(append(errs, err)...)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(defaultLogWriter, config.Discord.DiscordGoLogLevel),
	)
	disc.logger = slog.New(
		newLogHandler(defaultLogWriter, config.Discord.LogLevel),
	).With(loggerNameKey, "discord")
	disc.mc = m
	m.discord = disc
	m.metrics.registerDiscordGauges(disc)

	api, err := newAPI(m, config.API)
	errs = append(errs, err)
	m.api = api

	if config.Discord.WebhookServer.Enabled {
		webhookServer, e := newWebhookServer(m, config.Discord.WebhookServer)
		errs = append(errs, e)
		m.discordWebhookServer = webhookServer
	}

	return m, errors.Join(errs...)
}

func (m *ModConcierge) ValidateConfig() error {
	return structValidator.Struct(m.config)
}

// RuntimeConfig returns a copy of the current runtime configuration
func (m *ModConcierge) RuntimeConfig() RuntimeConfig {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	if m.runtimeConfig == nil {
		return DefaultRuntimeConfig()
	}
	return *m.runtimeConfig
}

// RegisterSlashCommands overwrites the bot's slash commands with
// the current command set.
func (m *ModConcierge) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	if m.discord.session == nil {
		session, err := m.discord.newSession()
		if err != nil {
			return nil, err
		}
		m.discord.session = session
	}
	return m.discord.registerCommands(options...)
}

// Run starts the bot and blocks until ctx is canceled or a stop signal
// is received, then shuts down gracefully.
//
// Startup connects to the database, loads the runtime config, rebuilds
// the whisper registry and starts the API. Only then is the discord
// session opened, so no command is handled against an empty registry.
func (m *ModConcierge) Run(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.startedAt = time.Now()
	logger := m.logger

	if err := m.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", m.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-m.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			logger.Warn("context canceled")
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, m.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- m.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return errors.New("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if m.api != nil && m.config.API.Listen != "" {
		m.runtimeWG.Add(1)
		go func() {
			defer m.runtimeWG.Done()
			if httpErr := m.api.Serve(ctx); httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	runtimeCfg := m.RuntimeConfig()

	m.webhookInteractionHandler = webhookReceiveHandler(ctx, m)
	if m.discordWebhookServer != nil {
		m.startWebhookServer(ctx)
	} else if !runtimeCfg.DiscordGatewayEnabled {
		logger.WarnContext(ctx, "discord gateway and webhook server disabled")
	}

	if err := m.initDiscordSession(ctx); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return err
	}
	if err := m.discordInit(ctx, runtimeCfg); err != nil {
		return err
	}

	m.startRuntimeConfigRefresher(ctx)
	m.startNotificationListeners(ctx)

	m.signalReady <- struct{}{}
	logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()
	return m.shutdown(ctx)
}

// initRun opens the database, loads (or creates) the runtime config,
// builds the command handlers and rebuilds the whisper registry.
func (m *ModConcierge) initRun(ctx context.Context) error {
	if err := m.initDB(ctx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}

	notifier, err := newDBNotifier(
		m.config.DatabaseType,
		m.config.Database,
		m.writeDB,
		m.notifyTargets,
		m.logger,
	)
	if err != nil {
		return fmt.Errorf("error creating db notifier: %w", err)
	}
	m.dbNotifier = notifier

	var botState RuntimeConfig
	getStateErr := m.db.WithContext(ctx).Last(&botState).Error
	switch {
	case errors.Is(getStateErr, gorm.ErrRecordNotFound):
		botState = DefaultRuntimeConfig()
		if _, err = m.writeDB.Create(ctx, &botState); err != nil {
			return fmt.Errorf("error creating config: %w", err)
		}
	case getStateErr != nil:
		return fmt.Errorf("error getting config: %w", getStateErr)
	}
	if validationErr := structValidator.Struct(botState); validationErr != nil {
		return fmt.Errorf("invalid runtime config: %w", validationErr)
	}

	m.pendingSetup.Store(botState.AdminUsername == "" || botState.AdminPassword == "")
	m.paused.Store(botState.Paused)
	m.setRuntimeLevels(botState)
	m.cfgMu.Lock()
	m.runtimeConfig = &botState
	m.cfgMu.Unlock()

	if m.discord.session == nil {
		session, sessionErr := m.discord.newSession()
		if sessionErr != nil {
			return fmt.Errorf("error creating discord session: %w", sessionErr)
		}
		m.discord.session = session
	}
	m.initComponents()

	if err = m.whispers.Rebuild(ctx); err != nil {
		return err
	}
	return nil
}

// initComponents builds the settings store and command handlers on top
// of the open database and discord session
func (m *ModConcierge) initComponents() {
	session := m.discord.session

	m.settings = NewGuildSettings(m.writeDB, m.dbNotifier, m.logger)

	m.eventLogger = newEventLogger(session, m.settings, m.logger)
	m.eventLogger.metrics = m.metrics
	m.eventLogger.paused = m.paused.Load

	m.moderation = newModeration(
		session,
		m.writeDB,
		m.settings,
		m.eventLogger,
		m.config.Moderation,
		m.logger,
	)
	m.moderation.metrics = m.metrics
	m.moderation.botUserID = m.discord.botUserID

	m.whispers = newWhispers(
		session,
		newWhisperStore(m.writeDB),
		m.registry,
		m.settings,
		m.config.Whisper,
		m.logger,
	)
	m.whispers.notifier = m.dbNotifier
	m.whispers.events = m.eventLogger
	m.whispers.metrics = m.metrics
	m.whispers.botUserID = m.discord.botUserID

	m.autoRoles = newAutoRoles(session, m.settings, m.eventLogger, m.logger)
	m.autoRoles.metrics = m.metrics
	m.autoRoles.paused = m.paused.Load
	m.autoRoles.botUserID = m.discord.botUserID

	m.leveling = newLeveling(session, m.writeDB, m.settings, m.eventLogger, m.logger)
	m.leveling.metrics = m.metrics
	m.leveling.paused = m.paused.Load
}

func (m *ModConcierge) initDB(ctx context.Context) error {
	logger := contextLoggerOr(ctx, m.logger)

	gormLogger := newGORMLogger(
		newLogHandler(defaultLogWriter, m.config.DatabaseLogLevel),
		m.config.DatabaseSlowThreshold,
	)
	db, err := getDB(m.config.DatabaseType, m.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	m.db = db
	m.writeDB = NewDatabase(db, m.logger, m.config.DatabaseType == dbTypePostgres)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("error getting database connection: %w", err)
	}

	if m.config.DatabaseType == dbTypeSQLite {
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(pragmaErrors, db.WithContext(ctx).Exec(p).Error)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return pragmaErr
		}
	}

	logger.Debug("migrating database...")
	if err = migrate(ctx, db); err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return fmt.Errorf("error migrating database: %w", err)
	}
	logger.Debug("finished migrating database")
	return nil
}

// initDiscordSession adds the gateway handlers. Any handlers from a
// previous run are removed first.
func (m *ModConcierge) initDiscordSession(ctx context.Context) error {
	logger := m.logger.With(loggerNameKey, "discord_session")
	ctx = WithLogger(ctx, logger)

	if m.discord.session == nil {
		session, err := m.discord.newSession()
		if err != nil {
			return fmt.Errorf("error creating discord session: %w", err)
		}
		m.discord.session = session
	}

	for _, remove := range m.discord.discordgoRemoveHandlerFuncs {
		remove()
	}

	session := m.discord.session
	removeFuncs := []func(){
		session.AddHandler(m.discord.handlerConnect()),
		session.AddHandler(m.discord.handlerDisconnect()),
		session.AddHandler(m.discord.handlerReady()),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := m.getInteractionHandlerFunc(ctx, i)
				m.runtimeWG.Add(1)
				go func() {
					defer m.runtimeWG.Done()
					m.handleInteraction(ctx, handler)
				}()
			},
		),
	}
	handlers := slices.Concat(m.eventLogger.handlers(), m.autoRoles.handlers(), m.leveling.handlers())
	for _, h := range handlers {
		removeFuncs = append(removeFuncs, session.AddHandler(h))
	}
	m.discord.discordgoRemoveHandlerFuncs = removeFuncs

	if m.getInteractionHandlerFunc == nil {
		m.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     m.discord.session,
				interaction: i,
				config:      m.RuntimeConfig().CommandOptions,
				mu:          &sync.RWMutex{},
				logger: m.logger.With(
					slog.Group("interaction", interactionLogAttrs(*i)...),
				),
			}
		}
	}
	return nil
}

// discordInit opens the gateway connection, if it's enabled
func (m *ModConcierge) discordInit(ctx context.Context, runtimeCfg RuntimeConfig) error {
	if !runtimeCfg.DiscordGatewayEnabled {
		return nil
	}
	m.logger.InfoContext(ctx, "connecting to discord")
	if err := m.discord.session.Open(); err != nil {
		m.logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	return nil
}

func (m *ModConcierge) startWebhookServer(ctx context.Context) {
	m.runtimeWG.Add(1)
	go func() {
		defer m.runtimeWG.Done()
		httpErr := m.discordWebhookServer.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			m.logger.ErrorContext(ctx, "error serving webhook HTTP", tint.Err(httpErr))
		}
	}()
}

// startRuntimeConfigRefresher reloads the runtime config when a reload
// notification is received, and every RuntimeConfigTTL if it's set.
func (m *ModConcierge) startRuntimeConfigRefresher(ctx context.Context) {
	if ttl := m.config.RuntimeConfigTTL; ttl > 0 {
		m.runtimeWG.Add(1)
		go func() {
			defer m.runtimeWG.Done()
			ticker := time.NewTicker(ttl)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case m.notifyTargets.runtimeConfig <- false:
					default:
						m.logger.Debug("runtime config refresh already pending")
					}
				}
			}
		}()
	}

	m.runtimeWG.Add(1)
	go func() {
		defer m.runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case force := <-m.notifyTargets.runtimeConfig:
				refreshCtx, refreshCancel := context.WithTimeout(ctx, runtimeConfigRefreshTimeout)
				m.refreshRuntimeConfig(refreshCtx, force)
				refreshCancel()
			}
		}
	}()
}

// startNotificationListeners handles whisper reload and guild settings
// notifications, and starts a LISTEN loop for each notifier channel.
func (m *ModConcierge) startNotificationListeners(ctx context.Context) {
	m.runtimeWG.Add(1)
	go func() {
		defer m.runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.notifyTargets.whispers:
				reloadCtx, reloadCancel := context.WithTimeout(ctx, dbOperationTimeout)
				if err := m.whispers.Rebuild(reloadCtx); err != nil {
					m.logger.ErrorContext(ctx, "error rebuilding whisper registry", tint.Err(err))
				}
				reloadCancel()
			case guildID := <-m.notifyTargets.guildSettings:
				m.settings.Invalidate(guildID)
				m.logger.DebugContext(ctx, "invalidated guild settings", columnGuildID, guildID)
			}
		}
	}()

	for _, channel := range m.dbNotifier.Channels() {
		m.runtimeWG.Add(1)
		go func(ch string) {
			defer m.runtimeWG.Done()
			if err := m.dbNotifier.Listen(ctx, ch); err != nil {
				m.logger.ErrorContext(ctx, "error listening for notifications", "channel", ch, tint.Err(err))
			}
		}(channel)
	}
}

// refreshRuntimeConfig reloads the runtime config from the database if
// force is set, or if it was updated more than RuntimeConfigTTL ago.
func (m *ModConcierge) refreshRuntimeConfig(ctx context.Context, force bool) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	var refreshed RuntimeConfig
	if err := m.db.WithContext(ctx).Last(&refreshed).Error; err != nil {
		m.logger.ErrorContext(ctx, "error getting runtime config", tint.Err(err))
		return
	}

	previous := DefaultRuntimeConfig()
	if m.runtimeConfig != nil {
		previous = *m.runtimeConfig
	}
	lastUpdated := time.Since(time.UnixMilli(refreshed.UpdatedAt))
	if !force && lastUpdated <= m.config.RuntimeConfigTTL && refreshed.UpdatedAt == previous.UpdatedAt {
		m.logger.DebugContext(ctx, "runtime config is up to date, skipping refresh")
		return
	}

	m.logger.InfoContext(ctx, "refreshing runtime config", "last_updated", lastUpdated.String())
	m.applyGatewayState(ctx, previous, refreshed)

	m.runtimeConfig = &refreshed
	m.paused.Store(refreshed.Paused)
	m.pendingSetup.Store(refreshed.AdminUsername == "" || refreshed.AdminPassword == "")
	m.setRuntimeLevels(refreshed)
	m.logger.InfoContext(ctx, "refreshed runtime config")
}

// applyGatewayState opens or closes the gateway connection, and updates
// the bot's presence, when they differ between previous and current
func (m *ModConcierge) applyGatewayState(ctx context.Context, previous, current RuntimeConfig) {
	session := m.discord.session
	if session == nil {
		return
	}
	switch {
	case previous.DiscordGatewayEnabled && !current.DiscordGatewayEnabled:
		if err := session.Close(); err != nil {
			m.logger.ErrorContext(ctx, "error closing discord connection", tint.Err(err))
		}
	case !previous.DiscordGatewayEnabled && current.DiscordGatewayEnabled:
		if err := session.Open(); err != nil {
			m.logger.ErrorContext(ctx, "error opening discord connection", tint.Err(err))
		}
	case current.DiscordGatewayEnabled && m.discord.connected.Load():
		if err := updateDiscordBotStatus(m.discord, m.logger, previous, current); err != nil {
			m.logger.ErrorContext(ctx, "error updating discord status", tint.Err(err))
		}
	}
}

// setRuntimeLevels applies the log levels from state to each component
func (m *ModConcierge) setRuntimeLevels(state RuntimeConfig) {
	setLevel := func(v *slog.LevelVar, l DBLogLevel) {
		if v != nil && l != "" {
			v.Set(l.Level())
		}
	}
	setLevel(m.config.LogLevel, state.LogLevel)
	setLevel(m.config.DatabaseLogLevel, state.DatabaseLogLevel)
	if m.config.Discord != nil {
		setLevel(m.config.Discord.LogLevel, state.DiscordLogLevel)
		setLevel(m.config.Discord.DiscordGoLogLevel, state.DiscordGoLogLevel)
		setLevel(m.config.Discord.WebhookServer.LogLevel, state.DiscordWebhookLogLevel)
	}
	if m.config.API != nil {
		setLevel(m.config.API.LogLevel, state.APILogLevel)
	}
}

// handleInteraction logs an interaction and dispatches it. Application
// commands are acknowledged with a deferred ephemeral response before
// their handler runs.
func (m *ModConcierge) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	if i.Type == discordgo.InteractionPing {
		logger.DebugContext(ctx, "received ping")
		_ = handler.Respond(ctx, &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
		return
	}

	user := interactionUser(i)
	if user == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(
		ctx,
		"received new interaction",
		slog.Group("user", "id", user.ID, "username", user.Username),
	)
	m.metrics.interactionsReceived.WithLabelValues(
		string(handler.InteractionReceiveMethod()),
		i.Type.String(),
	).Inc()

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	interactionLog, err := newInteractionLog(i, user, handler.InteractionReceiveMethod())
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, createErr := m.writeDB.Create(context.WithoutCancel(ctx), interactionLog); createErr != nil {
				logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
			}
		}()
	}

	if user.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}

	if i.Type != discordgo.InteractionApplicationCommand {
		logger.WarnContext(ctx, "unsupported interaction type", "type", i.Type.String())
		return
	}
	m.runCommand(ctx, handler)
}

// runCommand runs the slash command for the interaction and edits the
// deferred response with the result. Errors are shown to the user
// through [UserMessage].
func (m *ModConcierge) runCommand(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	name := i.ApplicationCommandData().Name
	logger := contextLoggerOr(ctx, handler.Logger()).With("command", name)
	ctx = WithLogger(ctx, logger)
	cfg := handler.Config()

	if m.paused.Load() {
		logger.InfoContext(ctx, "paused, not running command")
		m.metrics.commandsHandled.WithLabelValues(name, "paused").Inc()
		_ = handler.Respond(ctx, ephemeralMessage(cfg.DiscordPausedMessage))
		return
	}

	run, ok := m.commandHandlers()[name]
	if !ok {
		logger.WarnContext(ctx, "unknown command")
		m.metrics.commandsHandled.WithLabelValues(name, "unknown").Inc()
		_ = handler.Respond(ctx, ephemeralMessage(cfg.DiscordErrorMessage))
		return
	}

	if err := handler.Respond(ctx, m.discord.ackResponse()); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		m.metrics.commandsHandled.WithLabelValues(name, "ack_failed").Inc()
		return
	}

	m.commandsInProgress.Add(1)
	defer m.commandsInProgress.Add(-1)

	start := time.Now()
	edit, err := m.executeCommand(ctx, run, handler, cfg.RecoverPanic)
	m.metrics.commandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	result := "ok"
	if err != nil {
		result = "error"
		var cmdErr *CommandError
		switch {
		case errors.As(err, &cmdErr) && (cmdErr.Kind == KindPermissionDenied || cmdErr.Kind == KindPreconditionFailed):
			result = string(cmdErr.Kind)
			logger.InfoContext(ctx, "command rejected", tint.Err(err))
		case errors.As(err, &cmdErr):
			result = string(cmdErr.Kind)
			logger.ErrorContext(ctx, "command failed", tint.Err(err))
		default:
			logger.ErrorContext(ctx, "command failed", tint.Err(err))
		}
		edit = contentReply(UserMessage(err, cfg.DiscordErrorMessage))
	}
	m.metrics.commandsHandled.WithLabelValues(name, result).Inc()

	if edit != nil {
		if _, editErr := handler.Edit(ctx, edit); editErr != nil {
			logger.ErrorContext(ctx, "error editing interaction response", tint.Err(editErr))
		}
	}

	if m.eventLogger != nil {
		m.eventLogger.log(ctx, commandUsedEvent(i))
	}
}

// executeCommand runs the command. If recoverPanic is set, a panic is
// logged and returned as an error.
func (m *ModConcierge) executeCommand(
	ctx context.Context,
	run commandFunc,
	handler InteractionHandler,
	recoverPanic bool,
) (edit *discordgo.WebhookEdit, err error) {
	if recoverPanic {
		defer func() {
			if rc := recover(); rc != nil {
				m.handleRecover(ctx, rc)
				edit = nil
				err = fmt.Errorf("recovered from panic: %v", rc)
			}
		}()
	}
	return run(ctx, handler)
}

func ephemeralMessage(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

func (*ModConcierge) handleRecover(ctx context.Context, rc any) {
	logger := contextLoggerOr(ctx, slog.Default())
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(errors.New(v)), "stack_trace", stackTrace)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}

// shutdown stops the HTTP servers, waits for in-flight handlers and
// then closes the discord session. If that takes longer than
// ShutdownTimeout, the servers are closed forcefully.
func (m *ModConcierge) shutdown(ctx context.Context) error {
	m.logger.WarnContext(ctx, "shutting down")
	defer func() {
		select {
		case m.eventShutdown <- struct{}{}:
		default:
		}
	}()

	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(m.config.ShutdownTimeout)
	closeCtx, closeCancel := context.WithDeadline(context.Background(), shutdownDeadline)
	defer closeCancel()

	m.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", m.config.ShutdownTimeout,
		"shutdown_deadline", shutdownDeadline,
	)

	gracefulShutdownCh := make(chan error, 1)
	go func() {
		// webhook interactions add to runtimeWG until the servers stop
		g := new(errgroup.Group)
		if m.api != nil && m.api.httpServer != nil {
			g.Go(
				func() error {
					return m.api.httpServer.Shutdown(closeCtx)
				},
			)
		}
		if m.discordWebhookServer != nil {
			g.Go(
				func() error {
					return m.discordWebhookServer.httpServer.Shutdown(closeCtx)
				},
			)
		}
		serverErr := g.Wait()

		m.runtimeWG.Wait()
		m.logger.InfoContext(
			ctx,
			"finished handling in-flight requests",
			"runtime_stop_duration", time.Since(shutdownStart),
		)

		var sessionErr error
		if m.discord.session != nil {
			sessionErr = m.discord.session.Close()
			for _, remove := range m.discord.discordgoRemoveHandlerFuncs {
				remove()
			}
			m.discord.discordgoRemoveHandlerFuncs = nil
		}
		gracefulShutdownCh <- errors.Join(serverErr, sessionErr)
	}()

	announcementTicker := time.NewTicker(shutdownAnnouncementInterval)
	defer announcementTicker.Stop()

	for {
		select {
		case err := <-gracefulShutdownCh:
			if err != nil {
				m.logger.WarnContext(ctx, "error during shutdown", tint.Err(err))
			}
			m.logger.InfoContext(ctx, "shutdown complete", "shutdown_duration", time.Since(shutdownStart))
			return nil
		case <-announcementTicker.C:
			m.logger.Warn(fmt.Sprintf("time until hard shutdown: %s", time.Until(shutdownDeadline)))
		case <-closeCtx.Done():
			m.logger.Warn("in-flight requests did not finish in time, forcing close")
			if m.api != nil && m.api.httpServer != nil {
				_ = m.api.httpServer.Close()
			}
			if m.discordWebhookServer != nil {
				_ = m.discordWebhookServer.httpServer.Close()
			}
			return errors.New("shutdown timed out")
		}
	}
}
