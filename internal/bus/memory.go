package bus

import (
	"log/slog"
	"sync"
)

const defaultQueueSize = 256

// InMemoryBus is a buffered channel-backed MessageBus. Publishing to a full
// queue drops the message with a warning rather than blocking an adapter.
type InMemoryBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	closeOnce sync.Once
	closed    chan struct{}
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		inbound:  make(chan InboundMessage, defaultQueueSize),
		outbound: make(chan OutboundMessage, defaultQueueSize),
		closed:   make(chan struct{}),
	}
}

func (b *InMemoryBus) PublishInbound(msg InboundMessage) {
	select {
	case <-b.closed:
		return
	default:
	}
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound queue full, dropping message", "channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

func (b *InMemoryBus) PublishOutbound(msg OutboundMessage) {
	select {
	case <-b.closed:
		return
	default:
	}
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("outbound queue full, dropping message", "channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

func (b *InMemoryBus) ConsumeInbound() <-chan InboundMessage   { return b.inbound }
func (b *InMemoryBus) ConsumeOutbound() <-chan OutboundMessage { return b.outbound }

func (b *InMemoryBus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}
