package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// View flattening limits.
const (
	flattenArgsMax   = 200
	flattenResultMax = 2000
)

// Flatten reason codes recorded in view diagnostics.
const (
	FlattenModelChanged   = "model_changed"
	FlattenToolsUnmappable = "provider_rejects_tool_messages"
)

// ViewDiagnostics records what the builder did to one projection. Stored in
// the turn context for observability only; never persisted.
type ViewDiagnostics struct {
	Flattened      bool   `json:"flattened"`
	Reason         string `json:"reason,omitempty"`
	FlattenedCount int    `json:"flattened_count,omitempty"`
	OrphanCount    int    `json:"orphan_count,omitempty"`
}

// ConversationView is a provider-safe projection of the raw history for one
// LLM call. The raw session history is never modified by view construction.
type ConversationView struct {
	Messages    []Message
	Diagnostics ViewDiagnostics
}

// BuildView projects raw history for a request against targetModel.
// priorModel is the model persisted on the session from the previous turn
// ("" when the session has never run). Tool-call and tool-result messages are
// flattened into plain assistant text when the target model differs from the
// prior one, or when the provider does not accept tool-role messages at all.
func BuildView(history []Message, targetModel, priorModel string, providerAcceptsTools bool) ConversationView {
	reason := ""
	if !providerAcceptsTools {
		reason = FlattenToolsUnmappable
	} else if priorModel != "" && priorModel != targetModel {
		reason = FlattenModelChanged
	}

	if reason == "" {
		out := make([]Message, len(history))
		copy(out, history)
		return ConversationView{Messages: out}
	}

	flattened, nFlat, nOrphan := FlattenToolMessages(history)
	return ConversationView{
		Messages: flattened,
		Diagnostics: ViewDiagnostics{
			Flattened:      true,
			Reason:         reason,
			FlattenedCount: nFlat,
			OrphanCount:    nOrphan,
		},
	}
}

// FlattenToolMessages rewrites assistant tool-call turns and their matched
// results into single plain assistant messages. Orphan tool messages (no
// matching assistant call) are rendered standalone. The operation is
// idempotent: output contains no tool calls and no tool-role messages.
func FlattenToolMessages(msgs []Message) (out []Message, flattened, orphans int) {
	out = make([]Message, 0, len(msgs))

	for i := 0; i < len(msgs); i++ {
		m := msgs[i]

		if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
			var sb strings.Builder
			if m.Content != "" {
				sb.WriteString(m.Content)
			}

			// Collect matched results that directly follow.
			results := map[string]Message{}
			for i+1 < len(msgs) && msgs[i+1].Role == RoleTool {
				i++
				results[msgs[i].ToolCallID] = msgs[i]
			}

			for _, tc := range m.ToolCalls {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(fmt.Sprintf("[Tool: %s | Args: %s]", tc.Name, truncate(renderArgs(tc.Arguments), flattenArgsMax)))
				if res, ok := results[tc.ID]; ok {
					sb.WriteString(fmt.Sprintf(" [Result: %s]", truncate(res.Content, flattenResultMax)))
				} else {
					sb.WriteString(" [Result: unavailable]")
				}
			}

			flat := m
			flat.ToolCalls = nil
			flat.Content = sb.String()
			out = append(out, flat)
			flattened++
			continue
		}

		if m.Role == RoleTool {
			// Orphan: no preceding assistant message claimed it.
			name := m.ToolName
			if name == "" {
				name = "unknown"
			}
			out = append(out, Message{
				ID:        m.ID,
				Role:      RoleAssistant,
				Content:   fmt.Sprintf("[Tool: %s][Result: %s]", name, truncate(m.Content, flattenResultMax)),
				Metadata:  m.Metadata,
				Timestamp: m.Timestamp,
			})
			orphans++
			continue
		}

		out = append(out, m)
	}
	return out, flattened, orphans
}

func renderArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
