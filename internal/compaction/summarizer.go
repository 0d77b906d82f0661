package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/retry"
)

const summaryPrompt = `Summarize the conversation below for future context. Capture: decisions made, open questions, user preferences stated, tools used and their outcomes, and any files or resources touched. Be concise and factual. Output plain text only.`

// LLMSummarizer produces summaries through a chat provider. Tool-heavy
// histories are flattened first so any provider can summarize them.
type LLMSummarizer struct {
	provider  llm.Provider
	model     string
	maxTokens int
}

func NewLLMSummarizer(provider llm.Provider, model string) *LLMSummarizer {
	return &LLMSummarizer{provider: provider, model: model, maxTokens: 1024}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, msgs []llm.Message) (string, error) {
	flat, _, _ := llm.FlattenToolMessages(msgs)

	var sb strings.Builder
	for _, m := range flat {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	req := llm.ChatRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summaryPrompt},
			{Role: llm.RoleUser, Content: sb.String()},
		},
	}

	var resp *llm.ChatResponse
	_, err := retry.Do(ctx, retry.Config{MaxAttempts: 2}, llm.Retryable, func(ctx context.Context) error {
		var err error
		resp, err = s.provider.Chat(ctx, req)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return resp.Content, nil
}
