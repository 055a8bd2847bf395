package modconcierge

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const apiDiscordInteractions = "/discord/interactions"

// webhookResponseTimeout is how long the webhook handler waits for the
// initial interaction response. Discord requires one within 3 seconds.
var webhookResponseTimeout = 2500 * time.Millisecond

// DiscordWebhookServer receives interactions over HTTP
type DiscordWebhookServer struct {
	config     DiscordWebhookServerConfig
	httpServer *http.Server
	engine     *gin.Engine
	logger     *slog.Logger
}

func (d *DiscordWebhookServer) Serve(ctx context.Context) error {
	network := d.config.ListenNetwork
	if network == "" {
		network = defaultListenNetwork
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, network, d.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", d.httpServer.Addr, err)
	}
	if d.httpServer.TLSConfig == nil {
		d.logger.Warn("starting webhook server without TLS", "listen", d.httpServer.Addr)
		return d.httpServer.Serve(ln)
	}
	d.logger.Info("starting webhook server", "listen", d.httpServer.Addr)
	return d.httpServer.Serve(tls.NewListener(ln, d.httpServer.TLSConfig))
}

// newWebhookServer creates the webhook server. Requests are rejected
// unless they carry a valid discord signature.
func newWebhookServer(
	m *ModConcierge,
	config DiscordWebhookServerConfig,
) (*DiscordWebhookServer, error) {
	logger := slog.New(newLogHandler(defaultLogWriter, config.LogLevel)).With(
		loggerNameKey, "discord_webhook",
	)

	r := gin.New()
	server := &DiscordWebhookServer{config: config, engine: r, logger: logger}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	if config.SSL.Enabled() {
		tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading webhook SSL certs: %w", err)
		}
		httpServer.TLSConfig = tlsCfg
	}
	server.httpServer = httpServer

	if m.config.API != nil && m.config.API.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		discordRequestAuthenticationMiddleware(m.discord.publicKey),
	)

	r.POST(
		apiDiscordInteractions,
		func(c *gin.Context) {
			m.webhookInteractionHandler(c)
		},
	)
	return server, nil
}

// WebhookHandler is an [InteractionHandler] for interactions received
// via webhook. The initial response is written as the HTTP response
// body, so it can only be sent once, and only before the request
// handler gives up waiting on it.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint-validating-security-request-headers
//
//nolint:lll  // can't split link
type WebhookHandler struct {
	InteractionHandler
	ginContext *gin.Context
	once       *sync.Once
	responded  chan struct{}
	expired    *atomic.Bool
}

func newWebhookHandler(c *gin.Context, h InteractionHandler) WebhookHandler {
	return WebhookHandler{
		InteractionHandler: h,
		ginContext:         c,
		once:               &sync.Once{},
		responded:          make(chan struct{}),
		expired:            &atomic.Bool{},
	}
}

func (WebhookHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodWebhook
}

func (w WebhookHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := errWebhookResponseSent
	w.once.Do(
		func() {
			defer close(w.responded)
			w.ginContext.JSON(http.StatusOK, response)
			err = nil
		},
	)
	if err != nil && w.expired.Load() {
		err = errWebhookResponseExpired
	}
	if err != nil {
		w.Logger().WarnContext(ctx, "unable to respond to webhook interaction", tint.Err(err))
	}
	return err
}

// expire stops any later Respond from writing to the HTTP response
func (w WebhookHandler) expire() {
	w.once.Do(
		func() {
			w.expired.Store(true)
			close(w.responded)
		},
	)
}

var (
	errWebhookResponseSent    = errors.New("webhook interaction response already sent")
	errWebhookResponseExpired = errors.New("webhook interaction response deadline passed")
)

// webhookReceiveHandler returns a [gin.HandlerFunc] for discord webhook
// interactions. The interaction is handled in the background. The
// request returns as soon as the initial response is sent, or fails
// with 503 if no response is sent in time.
func webhookReceiveHandler(ctx context.Context, m *ModConcierge) func(c *gin.Context) {
	return func(c *gin.Context) {
		requestID, _ := c.Get(xRequestIDHeader)
		logger := ginContextLogger(c).With(
			slog.Group(
				"webhook_request",
				"remote_addr", c.Request.RemoteAddr,
				"remote_ip", c.RemoteIP(),
				"path", c.Request.URL.Path,
				xRequestIDHeader, requestID,
			),
		)
		runCtx := WithLogger(ctx, logger)

		defer func() {
			_ = c.Request.Body.Close()
		}()
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.ErrorContext(runCtx, "error getting raw data", tint.Err(err))
			c.JSON(http.StatusInternalServerError, httpError{Error: "error getting raw data"})
			return
		}

		var interaction discordgo.InteractionCreate
		if e := json.Unmarshal(body, &interaction); e != nil {
			logger.ErrorContext(runCtx, "error unmarshalling body", tint.Err(e))
			c.JSON(http.StatusBadRequest, httpError{Error: "error unmarshalling body"})
			return
		}

		handler := newWebhookHandler(c, m.getInteractionHandlerFunc(runCtx, &interaction))

		m.runtimeWG.Add(1)
		go func() {
			defer m.runtimeWG.Done()
			m.handleInteraction(runCtx, handler)
		}()

		timer := time.NewTimer(webhookResponseTimeout)
		defer timer.Stop()

		select {
		case <-handler.responded:
		case <-timer.C:
			handler.expire()
		case <-c.Request.Context().Done():
			handler.expire()
		}
		if handler.expired.Load() {
			logger.WarnContext(runCtx, "no interaction response sent in time")
			c.JSON(http.StatusServiceUnavailable, httpError{Error: "no response"})
		}
	}
}

// discordRequestAuthenticationMiddleware rejects requests without a valid
// discord signature.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint-validating-security-request-headers
//
//nolint:lll // can't split link
func discordRequestAuthenticationMiddleware(publicKey ed25519.PublicKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		if !verifyRequest(c.Request, publicKey) {
			logger.WarnContext(c, "invalid signature")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "invalid signature"})
			return
		}
		c.Next()
	}
}

// verifyRequest checks the ed25519 signature of a discord webhook
// request against the timestamp header and body. The body is replaced
// so it can be read again by the handler.
func verifyRequest(r *http.Request, key ed25519.PublicKey) bool {
	if len(key) != ed25519.PublicKeySize {
		return false
	}

	signature := r.Header.Get("X-Signature-Ed25519")
	if signature == "" {
		return false
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	if len(sig) != ed25519.SignatureSize || sig[63]&224 != 0 {
		return false
	}

	timestamp := r.Header.Get("X-Signature-Timestamp")
	if timestamp == "" {
		return false
	}

	var msg bytes.Buffer
	msg.WriteString(timestamp)

	var body bytes.Buffer
	defer func() {
		_ = r.Body.Close()
		r.Body = io.NopCloser(&body)
	}()
	if _, err = io.Copy(&msg, io.TeeReader(r.Body, &body)); err != nil {
		return false
	}

	return ed25519.Verify(key, msg.Bytes(), sig)
}
