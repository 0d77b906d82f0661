package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/calder-ai/calder/internal/bus"
	"github.com/calder-ai/calder/internal/sessions"
	"github.com/calder-ai/calder/internal/turn"
)

// fakeSender records sends per part and can fail selectively.
type fakeSender struct {
	texts       []string
	voices      []string
	attachments []bus.Attachment
	textErr     error
	attErr      error
}

func (f *fakeSender) SendMessage(ctx context.Context, channel, chatID, text string) error {
	if f.textErr != nil {
		return f.textErr
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) SendVoice(ctx context.Context, channel, chatID, audioPath string) error {
	f.voices = append(f.voices, audioPath)
	return nil
}

func (f *fakeSender) SendAttachment(ctx context.Context, channel, chatID string, att bus.Attachment) error {
	if f.attErr != nil {
		return f.attErr
	}
	f.attachments = append(f.attachments, att)
	return nil
}

// TestResponseRouting_OutcomePerPart verifies the routing outcome records
// which parts went out: text flag, attachment count, and overall delivery.
func TestResponseRouting_OutcomePerPart(t *testing.T) {
	sender := &fakeSender{}
	r := ResponseRouting{Channels: sender}
	tc := &turn.Context{
		Identity: sessions.Identity{Channel: "telegram", ChatID: "42"},
		OutgoingResponse: &turn.OutgoingResponse{
			Text: "here are the files",
			Attachments: []bus.Attachment{
				{Type: "document", Path: "/tmp/a.pdf"},
				{Type: "image", Path: "/tmp/b.png"},
			},
		},
	}
	if err := r.Process(context.Background(), tc); err != nil {
		t.Fatal(err)
	}

	out := tc.RoutingOutcome
	if out == nil {
		t.Fatal("no routing outcome")
	}
	if !out.Attempted || !out.Delivered || !out.SentText {
		t.Errorf("outcome = %+v", out)
	}
	if out.SentVoice {
		t.Error("voice marked sent without a voice part")
	}
	if out.SentAttachments != 2 || len(sender.attachments) != 2 {
		t.Errorf("attachments sent = %d (recorded %d)", out.SentAttachments, len(sender.attachments))
	}
}

// TestResponseRouting_PartialFailure verifies a failed text send still counts
// the turn as attempted, records the error, and lets attachments deliver.
func TestResponseRouting_PartialFailure(t *testing.T) {
	sender := &fakeSender{textErr: errors.New("connection reset")}
	r := ResponseRouting{Channels: sender}
	tc := &turn.Context{
		Identity: sessions.Identity{Channel: "discord", ChatID: "99"},
		OutgoingResponse: &turn.OutgoingResponse{
			Text:        "report attached",
			Attachments: []bus.Attachment{{Type: "document", Path: "/tmp/r.pdf"}},
		},
	}
	if err := r.Process(context.Background(), tc); err != nil {
		t.Fatal(err)
	}

	out := tc.RoutingOutcome
	if !out.Attempted {
		t.Error("failed send not marked attempted")
	}
	if out.SentText {
		t.Error("text marked sent despite the error")
	}
	if !out.Delivered || out.SentAttachments != 1 {
		t.Errorf("outcome = %+v", out)
	}
	if !strings.Contains(out.ErrorMessage, "send text") {
		t.Errorf("error message = %q", out.ErrorMessage)
	}
}

// TestResponseRouting_SuppressedIsNotAttempted verifies an empty response is
// suppressed without touching the transport.
func TestResponseRouting_SuppressedIsNotAttempted(t *testing.T) {
	sender := &fakeSender{}
	r := ResponseRouting{Channels: sender}
	tc := &turn.Context{
		Identity:         sessions.Identity{Channel: "web", ChatID: "u1"},
		OutgoingResponse: &turn.OutgoingResponse{},
	}
	if err := r.Process(context.Background(), tc); err != nil {
		t.Fatal(err)
	}

	out := tc.RoutingOutcome
	if !out.Suppressed || out.Attempted || out.Delivered {
		t.Errorf("outcome = %+v", out)
	}
	if len(sender.texts) != 0 || len(sender.attachments) != 0 {
		t.Error("suppressed response reached the transport")
	}
}
