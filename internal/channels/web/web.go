// Package web adapts the gateway's WebSocket hub to the channel interface.
// Inbound messages are published by the gateway's ws clients directly; this
// adapter is the outbound half.
package web

import (
	"context"
	"fmt"

	"github.com/calder-ai/calder/internal/bus"
	"github.com/calder-ai/calder/internal/channels"
	"github.com/calder-ai/calder/pkg/protocol"
)

// Hub is the subset of the gateway server the adapter delivers through.
type Hub interface {
	DeliverChat(ctx context.Context, chatID, text string) error
	DeliverEvent(chatID string, event protocol.EventFrame)
}

type Channel struct {
	channels.Base
	hub Hub
}

func New(hub Hub, msgBus bus.MessageBus, allowlist []string) *Channel {
	return &Channel{
		Base: channels.NewBase("web", msgBus, allowlist, 0),
		hub:  hub,
	}
}

// Start is a no-op; the gateway owns the listener.
func (c *Channel) Start(context.Context) error { return nil }

func (c *Channel) Stop(context.Context) error { return nil }

func (c *Channel) SendMessage(ctx context.Context, chatID, text string) error {
	return c.hub.DeliverChat(ctx, chatID, text)
}

// SendVoice delivers the audio path as an event; web clients fetch or play
// local files themselves.
func (c *Channel) SendVoice(_ context.Context, chatID, audioPath string) error {
	c.hub.DeliverEvent(chatID, protocol.NewEvent("chat.voice", map[string]string{
		"chatId": chatID,
		"path":   audioPath,
	}))
	return nil
}

func (c *Channel) SendAttachment(_ context.Context, chatID string, att bus.Attachment) error {
	if att.Path == "" {
		return fmt.Errorf("attachment has no path")
	}
	c.hub.DeliverEvent(chatID, protocol.NewEvent("chat.attachment", map[string]string{
		"chatId":   chatID,
		"path":     att.Path,
		"type":     att.Type,
		"fileName": att.FileName,
	}))
	return nil
}
