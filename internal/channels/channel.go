// Package channels connects external transports (Telegram, Discord, the web
// gateway) to the runtime. Adapters normalize platform messages onto the
// bus; the manager is the single outbound door.
package channels

import (
	"context"
	"sync"

	"github.com/calder-ai/calder/internal/bus"

	"golang.org/x/time/rate"
)

// Channel is one transport adapter.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "discord", "web").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// SendMessage delivers plain text.
	SendMessage(ctx context.Context, chatID, text string) error

	// SendVoice delivers an audio file as a voice note.
	SendVoice(ctx context.Context, chatID, audioPath string) error

	// SendAttachment delivers a file or image.
	SendAttachment(ctx context.Context, chatID string, att bus.Attachment) error

	// IsAuthorized reports whether the sender may talk to the agent.
	IsAuthorized(senderID string) bool
}

// Base carries the pieces every adapter shares: the bus to publish inbound
// messages on, an allowlist, and an outbound rate limiter.
type Base struct {
	ChannelName string
	Bus         bus.MessageBus

	mu        sync.RWMutex
	allowlist map[string]bool
	limiter   *rate.Limiter
}

// NewBase creates a Base. An empty allowlist authorizes everyone. msgsPerSec
// bounds outbound sends; zero disables limiting.
func NewBase(name string, b bus.MessageBus, allowlist []string, msgsPerSec float64) Base {
	var allowed map[string]bool
	if len(allowlist) > 0 {
		allowed = make(map[string]bool, len(allowlist))
		for _, id := range allowlist {
			allowed[id] = true
		}
	}
	var limiter *rate.Limiter
	if msgsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(msgsPerSec), 1)
	}
	return Base{ChannelName: name, Bus: b, allowlist: allowed, limiter: limiter}
}

func (b *Base) Name() string { return b.ChannelName }

func (b *Base) IsAuthorized(senderID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.allowlist == nil {
		return true
	}
	return b.allowlist[senderID]
}

// WaitSend blocks until the rate limiter admits one send.
func (b *Base) WaitSend(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

// PublishInbound normalizes and publishes a received message.
func (b *Base) PublishInbound(msg bus.InboundMessage) {
	msg.Channel = b.ChannelName
	b.Bus.PublishInbound(msg)
}
