package memory

import (
	"fmt"
	"strings"
)

// TurnRecord is the raw material extraction works from: what the user said,
// what the assistant answered, and which tools ran.
type TurnRecord struct {
	UserText      string
	AssistantText string
	ToolNames     []string
	ToolOutputs   []string // truncated by the caller
}

// promoteThreshold is the confidence above which an extracted durable item
// also lands in the semantic layer rather than staying episodic.
const promoteThreshold = 0.75

// Extract derives memory items from one completed turn. Always produces one
// episodic record; durable items (preferences, facts) are promoted when
// confidence clears the threshold. sessionScope bounds everything extracted
// here; promotion to global only happens through explicit tools.
func Extract(rec TurnRecord, sessionScope string) []Item {
	var out []Item

	ep := NewItem(LayerEpisodic, TypeCommandResult, episodeTitle(rec), episodeContent(rec), sessionScope)
	ep.Salience = 0.3
	if len(rec.ToolNames) > 0 {
		ep.Tags = append(ep.Tags, rec.ToolNames...)
	}
	out = append(out, ep)

	for _, pref := range extractPreferences(rec.UserText) {
		it := NewItem(LayerEpisodic, TypePreference, pref.title, pref.content, sessionScope)
		it.Confidence = pref.confidence
		it.Salience = 0.7
		if pref.confidence >= promoteThreshold {
			it.Layer = LayerSemantic
		}
		out = append(out, it)
	}

	out = append(out, extractFixes(rec, sessionScope)...)
	return out
}

func episodeTitle(rec TurnRecord) string {
	t := strings.TrimSpace(rec.UserText)
	if len(t) > 80 {
		t = t[:80]
	}
	if t == "" {
		t = "turn"
	}
	return t
}

func episodeContent(rec TurnRecord) string {
	var sb strings.Builder
	if rec.UserText != "" {
		sb.WriteString("user: " + clip(rec.UserText, 500))
	}
	if rec.AssistantText != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("assistant: " + clip(rec.AssistantText, 500))
	}
	if len(rec.ToolNames) > 0 {
		sb.WriteString(fmt.Sprintf("\ntools: %s", strings.Join(rec.ToolNames, ", ")))
	}
	return sb.String()
}

type extractedPref struct {
	title      string
	content    string
	confidence float64
}

// Preference markers are deliberately conservative. A false negative costs
// one lost hint; a false positive pollutes durable memory.
var prefMarkers = []struct {
	marker     string
	confidence float64
}{
	{"i prefer ", 0.85},
	{"call me ", 0.85},
	{"my name is ", 0.8},
	{"always ", 0.6},
	{"never ", 0.6},
	{"from now on ", 0.8},
}

func extractPreferences(userText string) []extractedPref {
	var out []extractedPref
	for _, line := range strings.Split(userText, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		for _, pm := range prefMarkers {
			if idx := strings.Index(lower, pm.marker); idx >= 0 {
				out = append(out, extractedPref{
					title:      "preference: " + clip(strings.TrimSpace(line), 60),
					content:    strings.TrimSpace(line),
					confidence: pm.confidence,
				})
				break
			}
		}
	}
	return out
}

// extractFixes records an error-then-success pattern in tool output as a
// procedural hint.
func extractFixes(rec TurnRecord, scope string) []Item {
	sawError := false
	for _, out := range rec.ToolOutputs {
		lower := strings.ToLower(out)
		if strings.Contains(lower, "error:") || strings.Contains(lower, "failed") {
			sawError = true
			continue
		}
		if sawError && strings.TrimSpace(out) != "" {
			it := NewItem(LayerEpisodic, TypeFix, "recovered after tool failure", clip(rec.AssistantText, 300), scope)
			it.Confidence = 0.5
			it.Salience = 0.6
			return []Item{it}
		}
	}
	return nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
