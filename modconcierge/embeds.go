package modconcierge

import (
	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"time"
)

// Embed colors
const (
	colorGreen    = 0x2ecc71
	colorBlue     = 0x3498db
	colorRed      = 0xe74c3c
	colorPurple   = 0x9b59b6
	colorOrange   = 0xe67e22
	colorGold     = 0xf1c40f
	colorDarkGrey = 0x607d8b
	colorBlurple  = 0x5865f2
	colorYellow   = 0xfee75c
)

const (
	embedMaxFields     = 25
	embedFieldValueMax = 1024
	embedFieldNameMax  = 256
	embedTitleMax      = 256
	embedDescMax       = 4096
)

// embedBuilder builds a [discordgo.MessageEmbed], truncating values that
// are over discord's limits and dropping fields past the 25th.
type embedBuilder struct {
	embed *discordgo.MessageEmbed
}

func newEmbed(title string, description string, color int) *embedBuilder {
	return &embedBuilder{
		embed: &discordgo.MessageEmbed{
			Title:       truncate(title, embedTitleMax),
			Description: truncate(description, embedDescMax),
			Color:       color,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func (b *embedBuilder) field(name string, value string, inline bool) *embedBuilder {
	if len(b.embed.Fields) >= embedMaxFields {
		return b
	}
	if value == "" {
		value = "N/A"
	}
	b.embed.Fields = append(
		b.embed.Fields,
		&discordgo.MessageEmbedField{
			Name:   truncate(name, embedFieldNameMax),
			Value:  truncate(value, embedFieldValueMax),
			Inline: inline,
		},
	)
	return b
}

func (b *embedBuilder) footer(text string) *embedBuilder {
	b.embed.Footer = &discordgo.MessageEmbedFooter{Text: text}
	return b
}

func (b *embedBuilder) build() *discordgo.MessageEmbed {
	return b.embed
}

// embedReply builds an interaction edit showing a single embed
func embedReply(embeds ...*discordgo.MessageEmbed) *discordgo.WebhookEdit {
	embeds = lo.Filter(
		embeds, func(e *discordgo.MessageEmbed, _ int) bool {
			return e != nil
		},
	)
	empty := ""
	return &discordgo.WebhookEdit{Content: &empty, Embeds: &embeds}
}

// contentReply builds an interaction edit showing a plain message
func contentReply(content string) *discordgo.WebhookEdit {
	content = truncate(content, discordMaxMessageLength)
	return &discordgo.WebhookEdit{Content: &content}
}

// codeBlock wraps s in a code block, or returns a placeholder if s is
// empty
func codeBlock(s string) string {
	if s == "" {
		return "*No text content*"
	}
	return "```" + s + "```"
}

func enabledLabel(enabled bool) string {
	return lo.Ternary(enabled, "✅ Enabled", "❌ Disabled")
}
