package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/calder-ai/calder/internal/auto"
	"github.com/calder-ai/calder/internal/bus"
)

// Manager owns the registered channel adapters and is the single outbound
// path: the routing system and milestone notifier both go through it.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// Register adds an adapter.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns an adapter by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts every adapter; one failure aborts startup.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start channel %s: %w", name, err)
		}
		slog.Info("channel started", "channel", name)
	}
	return nil
}

// StopAll stops every adapter, logging failures.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			slog.Warn("channel stop failed", "channel", name, "error", err)
		}
	}
}

func (m *Manager) SendMessage(ctx context.Context, channel, chatID, text string) error {
	ch, ok := m.Get(channel)
	if !ok {
		return fmt.Errorf("unknown channel %s", channel)
	}
	return ch.SendMessage(ctx, chatID, text)
}

func (m *Manager) SendVoice(ctx context.Context, channel, chatID, audioPath string) error {
	ch, ok := m.Get(channel)
	if !ok {
		return fmt.Errorf("unknown channel %s", channel)
	}
	return ch.SendVoice(ctx, chatID, audioPath)
}

func (m *Manager) SendAttachment(ctx context.Context, channel, chatID string, att bus.Attachment) error {
	ch, ok := m.Get(channel)
	if !ok {
		return fmt.Errorf("unknown channel %s", channel)
	}
	return ch.SendAttachment(ctx, chatID, att)
}

// Notify delivers a milestone notification from the scheduler.
func (m *Manager) Notify(target auto.NotifyTarget, text string) {
	if err := m.SendMessage(context.Background(), target.Channel, target.ChatID, text); err != nil {
		slog.Warn("milestone notification failed", "channel", target.Channel, "error", err)
	}
}
