package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/calder-ai/calder/internal/bus"
	"github.com/calder-ai/calder/internal/turn"
	"github.com/calder-ai/calder/internal/voice"
)

// ChannelSender resolves and drives the transport for one channel type.
// Implemented by the channel manager; narrowed here so the pipeline does
// not depend on concrete transports.
type ChannelSender interface {
	SendMessage(ctx context.Context, channel, chatID, text string) error
	SendVoice(ctx context.Context, channel, chatID, audioPath string) error
	SendAttachment(ctx context.Context, channel, chatID string, att bus.Attachment) error
}

// ResponseRouting is the only system that touches transports. It reads the
// OutgoingResponse contract and records a RoutingOutcome; send errors are
// captured, never thrown.
type ResponseRouting struct {
	Channels    ChannelSender
	Synthesizer voice.Synthesizer // nil when voice is unavailable
}

func (ResponseRouting) Name() string { return "response_routing" }
func (ResponseRouting) Order() int   { return OrderRouting }

func (ResponseRouting) ShouldProcess(tc *turn.Context) bool {
	if tc.OutgoingResponse == nil {
		return false // auto-mode synthetic turn with nothing to say
	}
	return true
}

func (r ResponseRouting) Process(ctx context.Context, tc *turn.Context) error {
	resp := tc.OutgoingResponse

	if tc.SkillTransitionRequest {
		tc.RoutingOutcome = &turn.RoutingOutcome{Suppressed: true}
		return nil
	}
	if resp.Text == "" && len(resp.Attachments) == 0 {
		tc.RoutingOutcome = &turn.RoutingOutcome{Suppressed: true}
		return nil
	}

	channel := tc.Identity.Channel
	chatID := tc.Identity.ChatID
	outcome := &turn.RoutingOutcome{Attempted: true}

	sendText := func(text string) {
		if text == "" {
			return
		}
		if err := r.Channels.SendMessage(ctx, channel, chatID, text); err != nil {
			outcome.ErrorMessage = fmt.Sprintf("send text: %v", err)
		} else {
			outcome.Delivered = true
			outcome.SentText = true
		}
	}

	// Strict delivery order: text, then voice, then attachments. A voice
	// failure falls back to delivering the speech text as plain text, but
	// only when it was not already sent as the text part.
	sendText(resp.Text)

	if resp.Voice && resp.SpeechText != "" && r.Synthesizer != nil {
		delivered := false
		audioPath, err := r.Synthesizer.Synthesize(ctx, resp.SpeechText, voice.SynthesizeOptions{})
		if err != nil {
			slog.Warn("voice synthesis failed", "error", err)
		} else {
			defer os.Remove(audioPath)
			if err := r.Channels.SendVoice(ctx, channel, chatID, audioPath); err != nil {
				slog.Warn("voice send failed", "error", err)
			} else {
				outcome.Delivered = true
				outcome.SentVoice = true
				delivered = true
			}
		}
		if !delivered && resp.SpeechText != resp.Text {
			sendText(resp.SpeechText)
		}
	}

	for _, att := range resp.Attachments {
		if err := r.Channels.SendAttachment(ctx, channel, chatID, att); err != nil {
			if outcome.ErrorMessage == "" {
				outcome.ErrorMessage = fmt.Sprintf("send attachment: %v", err)
			}
		} else {
			outcome.Delivered = true
			outcome.SentAttachments++
		}
	}

	tc.RoutingOutcome = outcome
	return nil
}
