package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/calder-ai/calder/internal/bus"
)

const (
	dedupeTTL       = 20 * time.Minute
	defaultDebounce = time.Second
)

// Consumer drains the inbound bus into the dispatcher. Duplicate messages
// (webhook retries, client double-taps) are dropped; rapid messages from the
// same sender are merged by a short debounce window. Control commands bypass
// the debounce so /stop reaches a running turn immediately.
type Consumer struct {
	bus      bus.MessageBus
	dispatch Dispatcher
	dedupe   *bus.Deduper
	debounce *bus.Debouncer
}

func NewConsumer(msgBus bus.MessageBus, dispatch Dispatcher, debounceWindow time.Duration) *Consumer {
	if debounceWindow <= 0 {
		debounceWindow = defaultDebounce
	}
	c := &Consumer{
		bus:      msgBus,
		dispatch: dispatch,
		dedupe:   bus.NewDeduper(dedupeTTL),
	}
	c.debounce = bus.NewDebouncer(debounceWindow, func(msg bus.InboundMessage) {
		c.deliver(msg)
	})
	return c
}

// Run blocks until ctx is cancelled or the bus closes.
func (c *Consumer) Run(ctx context.Context) {
	slog.Info("inbound consumer started")
	inbound := c.bus.ConsumeInbound()
	for {
		select {
		case <-ctx.Done():
			c.debounce.Flush()
			slog.Info("inbound consumer stopped")
			return
		case msg, ok := <-inbound:
			if !ok {
				c.debounce.Flush()
				slog.Info("inbound consumer stopped")
				return
			}
			c.handle(msg)
		}
	}
}

func (c *Consumer) handle(msg bus.InboundMessage) {
	if msg.ID != "" && c.dedupe.Seen(dedupeKey(msg)) {
		slog.Debug("duplicate inbound dropped", "channel", msg.Channel, "id", msg.ID)
		return
	}
	if strings.HasPrefix(strings.TrimSpace(msg.Content), "/") {
		c.deliver(msg)
		return
	}
	c.debounce.Add(msg)
}

func (c *Consumer) deliver(msg bus.InboundMessage) {
	if err := c.dispatch.ProcessMessage(context.Background(), msg); err != nil {
		slog.Warn("inbound dispatch failed", "channel", msg.Channel, "error", err)
	}
}

func dedupeKey(msg bus.InboundMessage) string {
	return msg.Channel + "|" + msg.SenderID + "|" + msg.ChatID + "|" + msg.ID
}
