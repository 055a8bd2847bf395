package modconcierge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	pprofPrefix             = "/debug"
	apiPrefix               = "/api"
	apiPathQuit             = "/quit"
	apiPathLogin            = "/login"
	apiPathLogout           = "/logout"
	apiPathRegisterCommands = "/discord/register_commands"
	apiPathLoggedIn         = "/logged_in"
	apiHealthCheck          = "/healthz"
	apiPathMetrics          = "/metrics"
	apiPathConfig           = "/config"
	apiPathSetup            = "/setup"
	apiPathSetupStatus      = "/setup/status"
	apiPathGuildWhispers    = "/guilds/:guild_id/whispers"
	apiPathGuildSettings    = "/guilds/:guild_id/settings"
	apiPathGuildModLogs     = "/guilds/:guild_id/modlogs"
	apiPathReloadWhispers   = "/whispers/reload"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"

	defaultPageLimit = 25
)

var structValidator = validator.New()

var (
	Ascending  Sort = "asc"
	Descending Sort = "desc"
)

// API is the admin HTTP server. Everything under /api requires a
// session cookie, obtained from /login.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	logger              *slog.Logger

	handlers *APIHandlers
}

func newAPI(m *ModConcierge, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, nil
	}
	logger := slog.New(newLogHandler(defaultLogWriter, config.LogLevel)).With(
		loggerNameKey, "api",
	)

	r := gin.New()
	api := &API{
		config:              config,
		engine:              r,
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:              logger,
	}
	apiHandlers := NewAPIHandlers(m, config, logger)
	apiHandlers.api = api
	api.handlers = apiHandlers
	api.store = apiHandlers.store

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	if config.SSL.Enabled() {
		tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
		httpServer.TLSConfig = tlsCfg
	}
	api.httpServer = httpServer

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = config.Development
		if !config.Development {
			corsConfig.AllowOrigins = []string{"http://" + config.Listen, "https://" + config.Listen}
		}
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		metricMiddleware(m.metrics),
		cors.New(corsConfig),
		sessions.Sessions(sessionVarName, apiHandlers.store),
	)

	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)
	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.GET(apiPathMetrics, gin.WrapH(m.metrics.handler()))
	r.POST(apiPathSetup, apiHandlers.adminSetup)
	r.GET(apiPathSetupStatus, apiHandlers.setupStatus)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(m, api))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathConfig, apiHandlers.getConfig)
	protected.PATCH(apiPathConfig, apiHandlers.updateRuntimeConfig)
	protected.GET(apiPathGuildWhispers, apiHandlers.getGuildWhispers)
	protected.GET(apiPathGuildSettings, apiHandlers.getGuildSettings)
	protected.PATCH(apiPathGuildSettings, apiHandlers.updateGuildSettings)
	protected.GET(apiPathGuildModLogs, apiHandlers.getGuildModLogs)
	protected.POST(apiPathReloadWhispers, apiHandlers.reloadWhispers)
	protected.POST(apiPathRegisterCommands, apiHandlers.discordRegisterCommands)
	protected.POST(apiPathQuit, apiHandlers.botQuit)

	return api, nil
}

// Serve listens on [APIConfig.Listen] and serves until the server is shut
// down. TLS is used if the server has a TLS config.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		network := a.config.ListenNetwork
		if network == "" {
			network = defaultListenNetwork
		}
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, network, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		} else {
			a.logger.Warn("starting API without TLS", "listen", a.config.Listen)
		}
		a.listener = ln
	}
	return a.httpServer.Serve(a.listener)
}

func (a *API) getSessionUsername(c *gin.Context) (string, error) {
	session, err := a.store.Get(c.Request, sessionVarName)
	if err != nil {
		return "", err
	}
	username, ok := session.Values[sessionVarField]
	if !ok {
		return "", errors.New("username not found in session")
	}
	s, ok := username.(string)
	if !ok || s == "" {
		return "", errors.New("username not set in session")
	}
	return s, nil
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers implements the admin API endpoints
type APIHandlers struct {
	m      *ModConcierge
	api    *API
	config *APIConfig
	logger *slog.Logger
	store  CookieStore
}

// NewAPIHandlers creates the handlers and their cookie store. If no
// API secret is configured, a random one is generated, so sessions
// don't survive a restart.
func NewAPIHandlers(m *ModConcierge, config *APIConfig, logger *slog.Logger) *APIHandlers {
	var secretKey []byte
	switch sk := config.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	store.Options(sessionOptions(config))
	return &APIHandlers{m: m, config: config, logger: logger, store: store}
}

func sessionOptions(config *APIConfig) sessions.Options {
	sameSite := http.SameSiteStrictMode
	if config.Development {
		sameSite = http.SameSiteNoneMode
	}
	return sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		MaxAge:   int(config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
	}
}

// setupStatus reports whether admin credentials still need to be set
func (h *APIHandlers) setupStatus(c *gin.Context) {
	c.JSON(http.StatusOK, setupResponse{Required: h.m.pendingSetup.Load()})
}

// adminSetup sets the admin credentials. It's only allowed while no
// credentials exist.
//
// Responses:
//   - 201 Created: credentials were set
//   - 400 Bad Request: invalid payload
//   - 403 Forbidden: setup was already completed
//   - 500 Internal Server Error: error saving the credentials
func (h *APIHandlers) adminSetup(c *gin.Context) {
	h.m.cfgMu.Lock()
	defer h.m.cfgMu.Unlock()

	if !h.m.pendingSetup.Load() {
		c.JSON(http.StatusForbidden, httpError{Error: "Forbidden"})
		return
	}

	logger := ginContextLogger(c)
	logger.Info("first time admin setup")

	var payload adminSetupPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	password, err := HashPassword(payload.Password)
	if err != nil {
		logger.Error("error hashing password", tint.Err(err))
		ginReplyError(c, "error setting admin credentials")
		return
	}

	updated := *h.m.runtimeConfig
	if _, err = h.m.writeDB.Updates(
		c.Request.Context(),
		&updated,
		map[string]any{
			columnRuntimeConfigAdminUsername: payload.Username,
			columnRuntimeConfigAdminPassword: password,
		},
	); err != nil {
		logger.Error("error updating admin credentials", tint.Err(err))
		ginReplyError(c, "error updating admin credentials")
		return
	}
	h.m.runtimeConfig = &updated
	h.m.pendingSetup.Store(false)
	c.JSON(http.StatusCreated, httpReply{Message: "admin credentials set"})
}

// loginHandler checks the admin credentials and starts a session.
// Attempts are rate limited.
//
// Responses:
//   - 200 OK: logged in
//   - 400 Bad Request: invalid payload
//   - 401 Unauthorized: wrong credentials, or none set
//   - 429 Too Many Requests: rate limited
func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	if !h.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	runtimeConfig := h.m.RuntimeConfig()
	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	if login.Username != runtimeConfig.AdminUsername {
		logger.Warn("admin username incorrect")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	valid, err := VerifyPassword(runtimeConfig.AdminPassword, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	session := sessions.Default(c)
	session.Set(sessionVarField, login.Username)
	session.Options(sessionOptions(h.config))
	if err = session.Save(); err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	session := sessions.Default(c)
	session.Set(sessionVarField, "")
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		logger.Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  h.m.paused.Load(),
			DiscordGatewayConnected: h.m.discord.connected.Load(),
			OpenWhispers:            h.m.registry.Len(),
			CommandsInProgress:      h.m.commandsInProgress.Load(),
			Uptime:                  time.Since(h.m.startedAt).Round(time.Second).String(),
		},
	)
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, err := h.api.getSessionUsername(c)
	if err != nil {
		ginContextLogger(c).Warn("error getting session username", tint.Err(err))
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, loggedInResponse{Username: username})
}

func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.Info("registering commands")

	created, err := h.m.RegisterSlashCommands()
	if err != nil {
		logger.Error("error registering commands", tint.Err(err))
		ginReplyError(c, "error registering commands")
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.m.RuntimeConfig())
}

// updateRuntimeConfig applies a [RuntimeConfigUpdate].
//
// Responses:
//   - 202 Accepted: returns the updated config
//   - 400 Bad Request: invalid payload
//   - 500 Internal Server Error: error saving the config
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	logger := ginContextLogger(c)

	var update RuntimeConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	ctx := WithLogger(c.Request.Context(), logger)
	updated, err := h.m.UpdateRuntimeConfig(ctx, update)
	if err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
			return
		}
		ginReplyError(c, "error updating config")
		return
	}
	c.JSON(http.StatusAccepted, updated)
}

// getGuildWhispers lists a guild's whisper threads, newest first unless
// order=asc. With open set, only open (or only closed) threads are
// returned.
func (h *APIHandlers) getGuildWhispers(c *gin.Context) {
	var q getWhispersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid query"})
		return
	}
	q.setDefaults()

	query := h.m.db.WithContext(c.Request.Context()).Model(&WhisperThread{}).Where(
		"guild_id = ?",
		c.Param("guild_id"),
	)
	if q.Open != nil {
		query = query.Where("is_open = ?", *q.Open)
	}
	query = query.Order(q.orderBy()).Limit(q.Limit).Offset(q.Offset)

	var records []WhisperThread
	if err := query.Find(&records).Error; err != nil {
		ginContextLogger(c).ErrorContext(c, "error getting whispers", tint.Err(err))
		ginReplyError(c, "error getting whispers")
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *APIHandlers) getGuildSettings(c *gin.Context) {
	settings, err := h.m.settings.Effective(c.Request.Context(), c.Param("guild_id"))
	if err != nil {
		ginContextLogger(c).ErrorContext(c, "error getting settings", tint.Err(err))
		ginReplyError(c, "error getting settings")
		return
	}
	c.JSON(http.StatusOK, settings)
}

// updateGuildSettings writes the settings in the payload. Unknown keys
// or invalid values reject the whole payload.
func (h *APIHandlers) updateGuildSettings(c *gin.Context) {
	logger := ginContextLogger(c)
	guildID := c.Param("guild_id")

	var payload map[string]string
	if err := c.ShouldBindJSON(&payload); err != nil || len(payload) == 0 {
		c.JSON(http.StatusBadRequest, httpError{Error: "expected an object of setting values"})
		return
	}
	for k, v := range payload {
		if _, err := normalizeSetting(k, v); err != nil {
			c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
			return
		}
	}

	ctx := WithLogger(c.Request.Context(), logger)
	if err := h.m.settings.SetMany(ctx, guildID, payload); err != nil {
		logger.ErrorContext(ctx, "error updating settings", tint.Err(err))
		ginReplyError(c, "error updating settings")
		return
	}
	settings, err := h.m.settings.Effective(ctx, guildID)
	if err != nil {
		ginReplyError(c, "error getting settings")
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *APIHandlers) getGuildModLogs(c *gin.Context) {
	var q getModLogsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid query"})
		return
	}
	q.setDefaults()

	records, total, err := moderationLogs(
		c.Request.Context(),
		h.m.writeDB,
		ModerationLogQuery{
			GuildID:   c.Param("guild_id"),
			UserID:    q.UserID,
			Action:    ModerationAction(q.Action),
			Limit:     q.Limit,
			Offset:    q.Offset,
			Ascending: q.Order == Ascending,
		},
	)
	if err != nil {
		ginContextLogger(c).ErrorContext(c, "error getting moderation logs", tint.Err(err))
		ginReplyError(c, "error getting moderation logs")
		return
	}
	c.Header("X-Total-Count", strconv.FormatInt(total, 10))
	c.JSON(http.StatusOK, records)
}

// reloadWhispers rebuilds the local whisper registry, and tells other
// instances to do the same
func (h *APIHandlers) reloadWhispers(c *gin.Context) {
	logger := ginContextLogger(c)
	ctx, cancel := context.WithTimeout(WithLogger(c.Request.Context(), logger), dbOperationTimeout)
	defer cancel()

	if err := h.m.whispers.Rebuild(ctx); err != nil {
		logger.ErrorContext(ctx, "error rebuilding whisper registry", tint.Err(err))
		ginReplyError(c, "error rebuilding whisper registry")
		return
	}
	if h.m.dbNotifier != nil && !h.m.dbNotifier.ReloadWhispers(ctx) {
		logger.WarnContext(ctx, "whisper reload notification not sent")
	}
	c.JSON(http.StatusAccepted, reloadWhispersResponse{OpenWhispers: h.m.registry.Len()})
}

// botQuit sends a stop signal to every instance
func (h *APIHandlers) botQuit(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.Warn("sending stop signal")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		h.m.dbNotifier.Stop(ctx)
	}()
	select {
	case <-doneCh:
		ginReplyMessage(c, "quitting")
	case <-ctx.Done():
		logger.Warn("timeout sending stop signal")
		c.JSON(http.StatusGatewayTimeout, httpError{Error: "timeout sending stop signal"})
	}
}

// Pagination is the common limit/offset/order query for list endpoints
type Pagination struct {
	Limit  int  `form:"limit" binding:"omitempty,min=1,max=100"`
	Order  Sort `form:"order" binding:"omitempty,oneof=asc desc"`
	Offset int  `form:"offset" binding:"omitempty,min=0"`
}

func (p *Pagination) setDefaults() {
	if p.Order == "" {
		p.Order = Descending
	}
	if p.Limit == 0 {
		p.Limit = defaultPageLimit
	}
}

func (p Pagination) orderBy() string {
	if p.Order == Ascending {
		return "created_at asc, id asc"
	}
	return "created_at desc, id desc"
}

type getWhispersQuery struct {
	Pagination
	Open *bool `form:"open"`
}

//nolint:lll // struct tags can't be split
type getModLogsQuery struct {
	Pagination
	UserID string `form:"user_id" binding:"omitempty,numeric"`
	Action string `form:"action" binding:"omitempty,oneof=WARN MUTE UNMUTE KICK BAN UNBAN PURGE LOCK UNLOCK"`
}

// Sort is the order of list results, by creation time
type Sort string

type loggedInResponse struct {
	Username string `json:"username"`
}

type healthCheckResponse struct {
	Paused                  bool   `json:"paused"`
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
	OpenWhispers            int    `json:"open_whispers"`
	CommandsInProgress      int64  `json:"commands_in_progress"`
	Uptime                  string `json:"uptime"`
}

type reloadWhispersResponse struct {
	OpenWhispers int `json:"open_whispers"`
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// adminSetupPayload sets the initial admin credentials
type adminSetupPayload struct {
	Username        string `json:"username" binding:"required,max=64"`
	Password        string `json:"password" binding:"required,min=8,eqfield=ConfirmPassword"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// setupResponse is returned by the setup status endpoint. Required is
// true until admin credentials are set.
type setupResponse struct {
	Required bool `json:"required"`
}

// authMiddleware aborts with 401 unless the request has a session with
// a username. Every request is rejected while setup is pending.
func authMiddleware(m *ModConcierge, api *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		if m.pendingSetup.Load() {
			logger.Warn("admin username and password not set")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}

		username, err := api.getSessionUsername(c)
		if err != nil {
			logger.Warn("no session username", tint.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		logger.Debug("got session", sessionVarField, username)
		c.Next()
	}
}

// requestIDMiddleware sets a random request ID on the context and the
// response headers
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the logger set on the gin context. If there
// isn't one, a logger with request details is created and set.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := logger.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	return setGinContextLogger(c, slog.Default())
}

func setGinContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request when it finishes
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := setGinContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// metricMiddleware counts requests and their duration by route
func metricMiddleware(m *metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.apiRequests.WithLabelValues(
			route,
			c.Request.Method,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.apiRequestDuration.WithLabelValues(route, c.Request.Method).Observe(
			time.Since(start).Seconds(),
		)
	}
}

func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

//nolint:gochecknoinits // validators need the gin tag name
func init() {
	structValidator.SetTagName("binding")
}
