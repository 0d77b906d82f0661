package pipeline

import (
	"context"

	"github.com/calder-ai/calder/internal/turn"
)

// FeedbackGuarantee makes sure every non-auto turn produces an outgoing
// response. It never overwrites an existing response and never touches raw
// history.
type FeedbackGuarantee struct {
	FallbackText string
}

func (FeedbackGuarantee) Name() string { return "feedback_guarantee" }
func (FeedbackGuarantee) Order() int   { return OrderFeedback }

func (FeedbackGuarantee) ShouldProcess(tc *turn.Context) bool {
	return tc.OutgoingResponse == nil && !tc.AutoMode
}

func (f FeedbackGuarantee) Process(ctx context.Context, tc *turn.Context) error {
	text := f.FallbackText
	if text == "" {
		text = "Something went wrong while handling that message. Please try again."
	}
	tc.OutgoingResponse = &turn.OutgoingResponse{Text: text, SkipAssistantHistory: true}
	return nil
}
