// Package bus carries messages between channel adapters and the runtime.
// Channels publish inbound messages; the runtime publishes outbound ones.
package bus

import "time"

// InboundMessage is a normalized message arriving from any channel.
type InboundMessage struct {
	ID          string            `json:"id"`
	Channel     string            `json:"channel"` // "telegram", "discord", "web", "hook", "auto"
	SenderID    string            `json:"sender_id"`
	SenderName  string            `json:"sender_name,omitempty"`
	ChatID      string            `json:"chat_id"` // peer identity within the channel
	Content     string            `json:"content"`
	AudioPath   string            `json:"audio_path,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// OutboundMessage is a response headed back to a channel.
type OutboundMessage struct {
	Channel     string            `json:"channel"`
	ChatID      string            `json:"chat_id"`
	Content     string            `json:"content"`
	AudioPath   string            `json:"audio_path,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Attachment references media carried with a message. Data stays on disk;
// the bus moves paths, not bytes.
type Attachment struct {
	Type     string `json:"type"` // "image", "audio", "document"
	Path     string `json:"path"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// MessageBus decouples channel adapters from the runtime loop.
type MessageBus interface {
	PublishInbound(msg InboundMessage)
	PublishOutbound(msg OutboundMessage)
	ConsumeInbound() <-chan InboundMessage
	ConsumeOutbound() <-chan OutboundMessage
	Close()
}
