package modconcierge

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"sync"
)

// InteractionLog is an audit row for each interaction received. Payload
// is the full event as received, JSON-encoded.
//
//nolint:lll // struct tags
type InteractionLog struct {
	ModelUintID
	InteractionID string                          `json:"interaction_id" gorm:"not null;index"`
	Method        DiscordInteractionReceiveMethod `json:"method" gorm:"type:string"`
	Type          string                          `json:"type" gorm:"type:string"`
	Command       string                          `json:"command" gorm:"type:string"`
	GuildID       string                          `json:"guild_id" gorm:"type:string;index"`
	ChannelID     string                          `json:"channel_id" gorm:"type:string"`
	UserID        string                          `json:"user_id" gorm:"not null"`
	Username      string                          `json:"username" gorm:"type:string"`
	Payload       string                          `json:"payload" gorm:"type:string"`
	CreatedAt     int64                           `json:"created_at,omitempty" gorm:"autoCreateTime:milli"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	method DiscordInteractionReceiveMethod,
) (*InteractionLog, error) {
	payload, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("unable to encode interaction %s: %w", i.ID, err)
	}

	var command string
	if i.Type == discordgo.InteractionApplicationCommand {
		command = i.ApplicationCommandData().Name
	}
	return &InteractionLog{
		InteractionID: i.ID,
		Method:        method,
		Type:          i.Type.String(),
		Command:       command,
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		UserID:        u.ID,
		Username:      u.String(),
		Payload:       string(payload),
	}, nil
}

// InteractionHandler responds to a single discord interaction. Over the
// gateway, the initial response is a REST call. Over the webhook, it's
// the body of the HTTP response.
type InteractionHandler interface {
	// Respond sends the initial response. It may only succeed once.
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// Edit replaces the content of a deferred response
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	Delete(ctx context.Context, opts ...discordgo.RequestOption)

	GetInteraction() *discordgo.InteractionCreate

	InteractionReceiveMethod() DiscordInteractionReceiveMethod

	Logger() *slog.Logger

	// Config is the snapshot of [CommandOptions] taken when the
	// interaction arrived
	Config() CommandOptions
}

// GatewayHandler answers interactions received over the websocket
// gateway, using the REST API for every response.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	config      CommandOptions
	mu          *sync.RWMutex
}

func (GatewayHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodGateway
}

func (h GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return h.interaction
}

func (h GatewayHandler) Logger() *slog.Logger {
	return h.logger
}

func (h GatewayHandler) Config() CommandOptions {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

func (h GatewayHandler) Respond(ctx context.Context, response *discordgo.InteractionResponse) error {
	err := h.session.InteractionRespond(h.interaction.Interaction, response)
	h.logResult(ctx, "respond", err)
	return err
}

func (h GatewayHandler) Edit(
	ctx context.Context,
	edit *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := h.session.InteractionResponseEdit(h.interaction.Interaction, edit, opts...)
	h.logResult(ctx, "edit", err)
	return msg, err
}

func (h GatewayHandler) Delete(ctx context.Context, opts ...discordgo.RequestOption) {
	err := h.session.InteractionResponseDelete(h.interaction.Interaction, opts...)
	h.logResult(ctx, "delete", err)
}

func (h GatewayHandler) logResult(ctx context.Context, action string, err error) {
	if err != nil {
		h.logger.ErrorContext(ctx, "interaction response failed", "action", action, tint.Err(err))
		return
	}
	h.logger.DebugContext(ctx, "interaction response sent", "action", action)
}
