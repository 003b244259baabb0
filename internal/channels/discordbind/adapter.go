// Package discordbind is the concrete channels.Adapter binding for
// Discord: a thin wrapper over discordgo covering outbound send and the
// platform's size limits. Gateway event ingestion lives outside the core
// and is not bound here.
package discordbind

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/mstavros/corebot/internal/channels"
)

// Discord's own limits: https://discord.com/developers/docs/resources/channel
const (
	maxMessageLength = 2000
	maxEmbedFields   = 25
	maxEmbedDescLen  = 4096
	maxEmbedsPerMsg  = 10
)

// Config holds the adapter's credential.
type Config struct {
	Token string
}

// Adapter binds the core's Renderer output to a Discord bot session.
type Adapter struct {
	session *discordgo.Session
}

// New opens a Discord session authenticated with cfg.Token. The session is
// not started (no gateway connection) since the core only ever sends
// messages; it never needs to receive them (the gateway owns ingress).
func New(cfg Config) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discordbind: token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discordbind: create session: %w", err)
	}
	return &Adapter{session: session}, nil
}

// Type identifies this binding.
func (a *Adapter) Type() channels.Type { return "discord" }

// Capabilities reports Discord's message/embed size limits.
func (a *Adapter) Capabilities() channels.Capabilities {
	return channels.Capabilities{
		MaxMessageLength: maxMessageLength,
		MaxEmbedFields:   maxEmbedFields,
		MaxEmbedDescLen:  maxEmbedDescLen,
		MaxEmbedsPerMsg:  maxEmbedsPerMsg,
	}
}

// Send posts one rendered message to its channel, attaching the structured
// embed (if any) in the same API call.
func (a *Adapter) Send(ctx context.Context, msg channels.Message) error {
	if msg.Embed == nil {
		_, err := a.session.ChannelMessageSend(msg.ChannelID, msg.Text, discordgo.WithContext(ctx))
		return err
	}

	embed := &discordgo.MessageEmbed{
		Title:       msg.Embed.Title,
		Description: msg.Embed.Description,
		Color:       msg.Embed.Color,
	}
	if msg.Embed.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: msg.Embed.Footer}
	}
	if msg.Embed.Timestamp != "" {
		embed.Timestamp = msg.Embed.Timestamp
	}
	for _, f := range msg.Embed.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}

	_, err := a.session.ChannelMessageSendComplex(msg.ChannelID, &discordgo.MessageSend{
		Content: msg.Text,
		Embed:   embed,
	}, discordgo.WithContext(ctx))
	return err
}
