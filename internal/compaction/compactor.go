// Package compaction shrinks long session histories by replacing an old
// prefix with a single summary message, keeping recent turns verbatim.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/calder-ai/calder/internal/llm"
)

// SummaryMarker prefixes every compaction summary message so the compactor
// recognizes its own output on later passes.
const SummaryMarker = "[Conversation summary]"

const (
	defaultKeepLast      = 20
	defaultCharsPerToken = 3.5
	reportSchemaVersion  = 1
)

// Config bounds one compactor.
type Config struct {
	KeepLastMessages    int
	MaxContextTokens    int
	CharsPerToken       float64
	SystemPromptOverhead int // token allowance for prompt sections outside history
}

func (c Config) withDefaults() Config {
	if c.KeepLastMessages <= 0 {
		c.KeepLastMessages = defaultKeepLast
	}
	if c.CharsPerToken <= 0 {
		c.CharsPerToken = defaultCharsPerToken
	}
	return c
}

// Report describes one completed compaction.
type Report struct {
	SchemaVersion     int      `json:"schema_version"`
	Reason            string   `json:"reason"`
	SummarizedCount   int      `json:"summarized_count"`
	KeptCount         int      `json:"kept_count"`
	UsedLlmSummary    bool     `json:"used_llm_summary"`
	SplitTurnDetected bool     `json:"split_turn_detected"`
	FallbackUsed      bool     `json:"fallback_used"`
	DurationMs        int64    `json:"duration_ms"`
	ToolNames         []string `json:"tool_names,omitempty"`
	ReadFiles         []string `json:"read_files,omitempty"`
	ModifiedFiles     []string `json:"modified_files,omitempty"`
}

// Summarizer produces an LLM summary of old messages. Implemented by the
// llm router + provider in production; stubbed in tests.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []llm.Message) (string, error)
}

// Compactor applies the config to session histories.
type Compactor struct {
	cfg        Config
	summarizer Summarizer
}

func New(cfg Config, summarizer Summarizer) *Compactor {
	return &Compactor{cfg: cfg.withDefaults(), summarizer: summarizer}
}

// EstimateTokens approximates token usage for a history, including the
// configured system prompt overhead and the largest single tool result.
func (c *Compactor) EstimateTokens(msgs []llm.Message) int {
	chars := 0
	largestTool := 0
	for _, m := range msgs {
		n := len(m.Content)
		for _, tc := range m.ToolCalls {
			n += len(tc.Name) + 64
		}
		chars += n
		if m.Role == llm.RoleTool && n > largestTool {
			largestTool = n
		}
	}
	return int(float64(chars+largestTool)/c.cfg.CharsPerToken) + c.cfg.SystemPromptOverhead
}

// NeedsCompaction reports whether the history exceeds the token budget.
func (c *Compactor) NeedsCompaction(msgs []llm.Message) bool {
	if c.cfg.MaxContextTokens <= 0 {
		return false
	}
	return c.EstimateTokens(msgs) > c.cfg.MaxContextTokens
}

// Compact returns a new history with the old prefix replaced by one summary
// message, plus a report. Compacting an under-budget history is a no-op:
// the input is returned unchanged with a nil report.
func (c *Compactor) Compact(ctx context.Context, msgs []llm.Message, reason string) ([]llm.Message, *Report, error) {
	if !c.NeedsCompaction(msgs) {
		return msgs, nil, nil
	}

	start := time.Now()
	cut := len(msgs) - c.cfg.KeepLastMessages
	if cut <= 0 {
		return msgs, nil, nil
	}

	cut, split := adjustForSplitTurn(msgs, cut)
	if cut <= 0 {
		return msgs, nil, nil
	}

	prefix := msgs[:cut]
	kept := msgs[cut:]

	report := &Report{
		SchemaVersion:     reportSchemaVersion,
		Reason:            reason,
		SummarizedCount:   len(prefix),
		KeptCount:         len(kept),
		SplitTurnDetected: split,
	}
	report.ToolNames, report.ReadFiles, report.ModifiedFiles = collectToolFacts(prefix)

	summary := ""
	if c.summarizer != nil {
		s, err := c.summarizer.Summarize(ctx, prefix)
		if err != nil {
			slog.Warn("llm summary failed, using deterministic fallback", "error", err)
		} else if strings.TrimSpace(s) != "" {
			summary = strings.TrimSpace(s)
			report.UsedLlmSummary = true
		}
	}
	if summary == "" {
		summary = deterministicSummary(prefix, report)
		report.FallbackUsed = true
	}

	out := make([]llm.Message, 0, len(kept)+1)
	out = append(out, llm.Message{
		Role:      llm.RoleSystem,
		Content:   SummaryMarker + " " + summary,
		Timestamp: time.Now(),
	})
	out = append(out, kept...)

	report.DurationMs = time.Since(start).Milliseconds()
	return out, report, nil
}

// adjustForSplitTurn moves the cut left so an assistant tool-call message
// and its tool results land on the same side of the boundary. Tool results
// always directly follow their assistant message in raw history, so walking
// left off any tool result reaches the owning assistant message.
func adjustForSplitTurn(msgs []llm.Message, cut int) (int, bool) {
	moved := false
	for cut > 0 && cut < len(msgs) && msgs[cut].Role == llm.RoleTool {
		cut--
		moved = true
	}
	return cut, moved
}

func collectToolFacts(msgs []llm.Message) (toolNames, readFiles, modifiedFiles []string) {
	seenTool := map[string]bool{}
	seenRead := map[string]bool{}
	seenMod := map[string]bool{}
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			if !seenTool[tc.Name] {
				seenTool[tc.Name] = true
				toolNames = append(toolNames, tc.Name)
			}
			path, _ := tc.Arguments["path"].(string)
			if path == "" {
				continue
			}
			switch tc.Name {
			case "read_file", "list_dir":
				if !seenRead[path] {
					seenRead[path] = true
					readFiles = append(readFiles, path)
				}
			case "write_file", "edit_file", "append_file":
				if !seenMod[path] {
					seenMod[path] = true
					modifiedFiles = append(modifiedFiles, path)
				}
			}
		}
	}
	return
}

func deterministicSummary(msgs []llm.Message, report *Report) string {
	counts := map[string]int{}
	for _, m := range msgs {
		counts[m.Role]++
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Earlier conversation compacted: %d messages (%d user, %d assistant, %d tool results).",
		len(msgs), counts[llm.RoleUser], counts[llm.RoleAssistant], counts[llm.RoleTool])
	if len(report.ToolNames) > 0 {
		fmt.Fprintf(&sb, " Tools used: %s.", strings.Join(report.ToolNames, ", "))
	}
	if len(report.ReadFiles) > 0 {
		fmt.Fprintf(&sb, " Files read: %s.", strings.Join(report.ReadFiles, ", "))
	}
	if len(report.ModifiedFiles) > 0 {
		fmt.Fprintf(&sb, " Files modified: %s.", strings.Join(report.ModifiedFiles, ", "))
	}
	return sb.String()
}
