package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	appLog "coursebot/internal/log"
)

// Bot connects the command surface to a Discord gateway session.
type Bot struct {
	session  *discordgo.Session
	commands *Commands
	status   string
}

// NewSession creates a bot session with the intents needed to read commands.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent
	return s, nil
}

func NewBot(session *discordgo.Session, commands *Commands, status string) *Bot {
	b := &Bot{session: session, commands: commands, status: status}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	return b
}

// Open connects to the gateway.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	appLog.Info("discord connected", "user", r.User.Username, "guilds", len(r.Guilds))
	if b.status == "" {
		return
	}
	if err := s.UpdateWatchStatus(0, b.status); err != nil {
		appLog.Error("discord status update failed", err)
	}
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	req := Request{
		UserID:  m.Author.ID,
		Content: m.Content,
		Roles:   roleNames(s, m.GuildID, m.Member),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reply, ok := b.commands.Handle(ctx, req)
	if !ok {
		return
	}

	send := &discordgo.MessageSend{
		Content:   reply.Text,
		Reference: m.Reference(),
	}
	if reply.Message != nil {
		send.Embeds = []*discordgo.MessageEmbed{toEmbed(*reply.Message, time.Now())}
	}
	if _, err := s.ChannelMessageSendComplex(m.ChannelID, send, discordgo.WithContext(ctx)); err != nil {
		appLog.Error("discord reply failed", err, "channel", m.ChannelID, "user", m.Author.ID)
	}
}

// roleNames resolves the member's role ids through the session state cache.
// Direct messages carry no member and therefore no roles.
func roleNames(s *discordgo.Session, guildID string, member *discordgo.Member) []string {
	if member == nil || guildID == "" || s.State == nil {
		return nil
	}
	names := make([]string, 0, len(member.Roles))
	for _, id := range member.Roles {
		role, err := s.State.Role(guildID, id)
		if err != nil {
			appLog.Debug("discord role not in state", "guild", guildID, "role", id)
			continue
		}
		names = append(names, role.Name)
	}
	return names
}
