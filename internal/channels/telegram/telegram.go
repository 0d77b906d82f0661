// Package telegram implements the Telegram channel adapter over the Bot API
// with long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/calder-ai/calder/internal/bus"
	"github.com/calder-ai/calder/internal/channels"
	"github.com/calder-ai/calder/internal/sessions"
)

// Config for the Telegram adapter. The token comes from the environment,
// never from the config file.
type Config struct {
	Token       string
	AllowFrom   []string
	MsgsPerSec  float64
	MaxImageDim int
}

// Channel connects to Telegram via long polling.
type Channel struct {
	channels.Base
	bot         *telego.Bot
	cfg         Config
	pollCancel  context.CancelFunc
	pollDone    chan struct{}
}

func New(cfg Config, msgBus bus.MessageBus) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		Base: channels.NewBase("telegram", msgBus, cfg.AllowFrom, cfg.MsgsPerSec),
		bot:  bot,
		cfg:  cfg,
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}
	slog.Info("telegram connected")

	go func() {
		defer close(c.pollDone)
		for update := range updates {
			if update.Message != nil {
				c.handleMessage(update.Message)
			}
		}
	}()
	return nil
}

// Stop cancels polling and waits for the update goroutine.
func (c *Channel) Stop(ctx context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Channel) handleMessage(msg *telego.Message) {
	if msg.From == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !c.IsAuthorized(senderID) {
		slog.Debug("telegram sender not authorized", "sender", senderID)
		return
	}

	isGroup := msg.Chat.Type != telego.ChatTypePrivate
	meta := map[string]string{}
	if isGroup {
		meta["peerKind"] = string(sessions.PeerGroup)
	}

	c.PublishInbound(bus.InboundMessage{
		ID:         "tg-" + strconv.Itoa(msg.MessageID),
		SenderID:   senderID,
		SenderName: msg.From.FirstName,
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		Content:    messageText(msg),
		Metadata:   meta,
		Timestamp:  time.Unix(msg.Date, 0),
	})
}

func messageText(msg *telego.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func (c *Channel) SendMessage(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad telegram chat id %q: %w", chatID, err)
	}
	if err := c.WaitSend(ctx); err != nil {
		return err
	}
	_, err = c.bot.SendMessage(ctx, tu.Message(tu.ID(id), text))
	return err
}

func (c *Channel) SendVoice(ctx context.Context, chatID, audioPath string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad telegram chat id %q: %w", chatID, err)
	}
	if err := c.WaitSend(ctx); err != nil {
		return err
	}
	f, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("open voice file: %w", err)
	}
	defer f.Close()
	_, err = c.bot.SendVoice(ctx, tu.Voice(tu.ID(id), tu.File(f)))
	return err
}

func (c *Channel) SendAttachment(ctx context.Context, chatID string, att bus.Attachment) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad telegram chat id %q: %w", chatID, err)
	}
	if err := c.WaitSend(ctx); err != nil {
		return err
	}

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

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	switch att.Type {
	case "image":
		_, err = c.bot.SendPhoto(ctx, tu.Photo(tu.ID(id), tu.File(f)))
	default:
		_, err = c.bot.SendDocument(ctx, tu.Document(tu.ID(id), tu.File(f)))
	}
	return err
}
