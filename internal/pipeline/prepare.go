package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/calder-ai/calder/internal/turn"
)

// NoReplyToken suppresses delivery when it is the whole assistant answer.
// History still records the turn.
const NoReplyToken = "NO_REPLY"

var (
	thinkingTagRe  = regexp.MustCompile(`(?s)<think(?:ing)?>.*?</think(?:ing)?>`)
	toolCallXMLRe  = regexp.MustCompile(`(?s)<tool_call>.*?</tool_call>|<function_call>.*?</function_call>`)
	toolCallTextRe = regexp.MustCompile(`(?m)^\[Tool Call: [^\]]*\]\s*$`)
	systemEchoRe   = regexp.MustCompile(`(?s)<\|im_start\|>system.*?<\|im_end\|>`)
)

// Preparation translates the loop outcome into the single OutgoingResponse
// contract routing reads. It owns assistant output cleanup: garbled tool
// markup, leaked thinking tags, echoed system blocks, duplicate paragraphs.
type Preparation struct{}

func (Preparation) Name() string                     { return "response_preparation" }
func (Preparation) Order() int                       { return OrderPreparation }
func (Preparation) ShouldProcess(*turn.Context) bool { return true }

func (p Preparation) Process(ctx context.Context, tc *turn.Context) error {
	text := tc.FinalAnswer
	if text == "" {
		text = stopReasonText(tc.StopReason)
	}

	text = SanitizeAssistantText(text)
	if text == "" && tc.StopReason == turn.StopSuccess && len(tc.Attachments) == 0 {
		// The whole answer was markup or a NO_REPLY: nothing to deliver.
		tc.OutgoingResponse = &turn.OutgoingResponse{SkipAssistantHistory: true}
		return nil
	}

	resp := &turn.OutgoingResponse{
		Text:                 text,
		Attachments:          tc.Attachments,
		SkipAssistantHistory: true,
	}
	if tc.VoiceRequested && text != "" {
		resp.Voice = true
		resp.SpeechText = text
	}
	tc.OutgoingResponse = resp
	return nil
}

// SanitizeAssistantText strips model artifacts that should never reach the
// user. Returns "" when nothing deliverable remains.
func SanitizeAssistantText(text string) string {
	if strings.TrimSpace(text) == NoReplyToken {
		return ""
	}
	text = thinkingTagRe.ReplaceAllString(text, "")
	text = toolCallXMLRe.ReplaceAllString(text, "")
	text = toolCallTextRe.ReplaceAllString(text, "")
	text = systemEchoRe.ReplaceAllString(text, "")
	text = dedupeParagraphs(text)
	return strings.TrimSpace(text)
}

// dedupeParagraphs drops consecutive identical paragraph blocks, a common
// failure mode of smaller models.
func dedupeParagraphs(text string) string {
	paras := strings.Split(text, "\n\n")
	out := paras[:0]
	prev := ""
	for _, p := range paras {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" && trimmed == prev {
			continue
		}
		out = append(out, p)
		prev = trimmed
	}
	return strings.Join(out, "\n\n")
}

func stopReasonText(reason turn.StopReason) string {
	switch reason {
	case turn.StopIterationLimit:
		return "I hit the work limit for this request before finishing. You can ask me to continue."
	case turn.StopDeadline:
		return "This request ran out of time before I could finish. You can ask me to continue."
	case turn.StopConfirmationDenied:
		return "I stopped because a required confirmation was denied."
	case turn.StopPolicyDenied:
		return "I stopped because a tool I needed is not permitted."
	case turn.StopToolFailure:
		return "I ran into a problem completing that request. Please try again."
	case turn.StopCancelled:
		return "Stopped."
	default:
		return ""
	}
}
