// Package llm defines the provider-agnostic LLM contract: conversation
// messages, chat requests/responses, tool definitions, and the Provider
// interface all backends must implement.
package llm

import (
	"context"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in the raw conversation history. The raw history is
// provider-agnostic; per-request projections are built by the ViewBuilder.
type Message struct {
	ID         string            `json:"id,omitempty"`
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCall        `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"` // for role="tool" responses
	ToolName   string            `json:"tool_name,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp,omitzero"`
	AudioPath  string            `json:"audio_path,omitempty"` // voice note source, if any
}

// ToolCall is a tool invocation requested by the LLM. ID is unique within
// its assistant message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ChatRequest is the input for one Chat/ChatStream call.
type ChatRequest struct {
	Messages        []Message        `json:"messages"`
	Tools           []ToolDefinition `json:"tools,omitempty"`
	Model           string           `json:"model,omitempty"`
	MaxTokens       int              `json:"max_tokens,omitempty"`
	Temperature     float64          `json:"temperature,omitempty"`
	ReasoningEffort string           `json:"reasoning_effort,omitempty"` // "low", "medium", "high"
}

// ChatResponse is the result of one LLM call.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"` // "stop", "tool_calls", "length"
	Usage        *Usage     `json:"usage,omitempty"`
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
}

// Usage tracks token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider is the LLM port. Implementations live behind this interface;
// the core never speaks a provider wire protocol directly.
type Provider interface {
	// Chat sends messages and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and streams chunks via callback, returning
	// the final complete response after streaming ends.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)

	// SupportsToolMessages reports whether the provider accepts tool-role
	// messages in request history. When false the ViewBuilder flattens.
	SupportsToolMessages() bool

	// DefaultModel returns the provider's default model id.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "openai").
	Name() string
}
