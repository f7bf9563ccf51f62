package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"coursebot/internal/notify"
)

const maxEmbedDescription = 4096

// Sender delivers notify messages as Discord embeds.
type Sender struct {
	session *discordgo.Session
	limiter *rate.Limiter
}

// NewSender limits outgoing messages to 5 per second with a burst of 5.
func NewSender(session *discordgo.Session) *Sender {
	return &Sender{
		session: session,
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
}

// Send posts msg to a channel, or opens a DM channel first for a user target.
func (s *Sender) Send(ctx context.Context, target notify.Target, msg notify.Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	channelID := target.ChannelID
	if target.IsDirect() {
		ch, err := s.session.UserChannelCreate(target.UserID, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("open DM with %s: %w", target.UserID, err)
		}
		channelID = ch.ID
	}
	if channelID == "" {
		return errors.New("empty target")
	}

	if _, err := s.session.ChannelMessageSendComplex(channelID, toMessageSend(msg, time.Now()), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send to %s: %w", target, err)
	}
	return nil
}

func toMessageSend(msg notify.Message, now time.Time) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content: strings.Join(msg.Mentions, " "),
		Embeds:  []*discordgo.MessageEmbed{toEmbed(msg, now)},
	}
}

func toEmbed(msg notify.Message, now time.Time) *discordgo.MessageEmbed {
	desc := msg.Description
	if len(msg.Lines) > 0 {
		if desc != "" {
			desc += "\n\n"
		}
		desc += strings.Join(msg.Lines, "\n")
	}
	if r := []rune(desc); len(r) > maxEmbedDescription {
		desc = string(r[:maxEmbedDescription-1]) + "…"
	}

	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: desc,
		Color:       msg.Color,
		Timestamp:   now.Format(time.RFC3339),
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if msg.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: msg.Footer}
	}
	return embed
}
