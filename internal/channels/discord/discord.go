// Package discord implements the Discord channel adapter over gateway events.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/calder-ai/calder/internal/bus"
	"github.com/calder-ai/calder/internal/channels"
	"github.com/calder-ai/calder/internal/sessions"
)

// Discord rejects messages over 2000 characters.
const maxMessageLen = 2000

type Config struct {
	Token       string
	AllowFrom   []string
	MsgsPerSec  float64
	MaxImageDim int
}

// Channel connects to Discord via the gateway.
type Channel struct {
	channels.Base
	session   *discordgo.Session
	cfg       Config
	botUserID string
}

func New(cfg Config, msgBus bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		Base:    channels.NewBase("discord", msgBus, cfg.AllowFrom, cfg.MsgsPerSec),
		session: session,
		cfg:     cfg,
	}, nil
}

// Start opens the gateway connection and resolves the bot identity.
func (c *Channel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessage)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	slog.Info("discord connected", "username", user.Username)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	return c.session.Close()
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	if !c.IsAuthorized(m.Author.ID) {
		slog.Debug("discord sender not authorized", "sender", m.Author.ID)
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}

	meta := map[string]string{}
	if m.GuildID != "" {
		meta["peerKind"] = string(sessions.PeerGroup)
	}

	c.PublishInbound(bus.InboundMessage{
		ID:         "dc-" + m.ID,
		SenderID:   m.Author.ID,
		SenderName: displayName(m),
		ChatID:     m.ChannelID,
		Content:    content,
		Metadata:   meta,
		Timestamp:  m.Timestamp,
	})
}

func (c *Channel) SendMessage(ctx context.Context, chatID, text string) error {
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxMessageLen {
			cut := maxMessageLen
			if idx := strings.LastIndexByte(text[:maxMessageLen], '\n'); idx > maxMessageLen/2 {
				cut = idx + 1
			}
			chunk = text[:cut]
			text = text[cut:]
		} else {
			text = ""
		}
		if err := c.WaitSend(ctx); err != nil {
			return err
		}
		if _, err := c.session.ChannelMessageSend(chatID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

func (c *Channel) SendVoice(ctx context.Context, chatID, audioPath string) error {
	return c.sendFile(ctx, chatID, audioPath)
}

func (c *Channel) SendAttachment(ctx context.Context, chatID string, att bus.Attachment) error {
	path := att.Path
	if att.Type == "image" {
		resized, wasResized, err := channels.PrepareImage(path, c.cfg.MaxImageDim)
		if err != nil {
			slog.Warn("image downscale failed, sending original", "error", err)
		} else {
			path = resized
			if wasResized {
				defer os.Remove(resized)
			}
		}
	}
	return c.sendFile(ctx, chatID, path)
}

func (c *Channel) sendFile(ctx context.Context, chatID, path string) error {
	if err := c.WaitSend(ctx); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()
	if _, err := c.session.ChannelFileSend(chatID, filepath.Base(path), f); err != nil {
		return fmt.Errorf("send discord file: %w", err)
	}
	return nil
}

// displayName prefers the server nickname, then the global display name.
func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
