package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider against any OpenAI-compatible endpoint
// (OpenAI, OpenRouter, vLLM, Ollama's compat API). The base URL and model
// come from config; the API key only from the environment.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	callTimeout  time.Duration
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	Name         string // provider identifier, default "openai"
	APIKey       string
	BaseURL      string // empty = api.openai.com
	DefaultModel string
	CallTimeout  time.Duration // per-call cap, default 5m
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(c),
		name:         name,
		defaultModel: cfg.DefaultModel,
		callTimeout:  timeout,
	}
}

func (p *OpenAIProvider) Name() string              { return p.name }
func (p *OpenAIProvider) DefaultModel() string      { return p.defaultModel }
func (p *OpenAIProvider) SupportsToolMessages() bool { return true }

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, p.toRequest(req))
	if err != nil {
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: p.name, Kind: KindPermanent, Err: fmt.Errorf("empty choices")}
	}
	return p.fromResponse(&resp), nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	stream, err := p.client.CreateChatCompletionStream(ctx, p.toRequest(req))
	if err != nil {
		return nil, p.classify(err)
	}
	defer stream.Close()

	var content string
	acc := newToolCallAccumulator()
	finish := "stop"

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, p.classify(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content += delta.Content
			if onChunk != nil {
				onChunk(StreamChunk{Content: delta.Content})
			}
		}
		acc.add(delta.ToolCalls)
		if fr := chunk.Choices[0].FinishReason; fr != "" {
			finish = string(fr)
		}
	}
	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}

	return &ChatResponse{
		Content:      content,
		ToolCalls:    acc.calls(),
		FinishReason: finish,
	}, nil
}

func (p *OpenAIProvider) toRequest(req ChatRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if out.Model == "" {
		out.Model = p.defaultModel
	}
	if req.ReasoningEffort != "" {
		out.ReasoningEffort = req.ReasoningEffort
	}

	for _, m := range req.Messages {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out.Messages = append(out.Messages, om)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func (p *OpenAIProvider) fromResponse(resp *openai.ChatCompletionResponse) *ChatResponse {
	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			slog.Warn("unparseable tool arguments, passing raw",
				"tool", tc.Function.Name, "error", err)
			args = map[string]any{"_raw": tc.Function.Arguments}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out
}

func (p *OpenAIProvider) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Provider: p.name, Kind: classifyStatus(apiErr.HTTPStatusCode), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: p.name, Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Provider: p.name, Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &Error{Provider: p.name, Kind: KindTransient, Err: err}
}

// toolCallAccumulator stitches streamed tool call deltas back together.
type toolCallAccumulator struct {
	order []int
	byIdx map[int]*streamedCall
}

type streamedCall struct {
	id   string
	name string
	args string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIdx: make(map[int]*streamedCall)}
}

func (a *toolCallAccumulator) add(deltas []openai.ToolCall) {
	for _, d := range deltas {
		idx := 0
		if d.Index != nil {
			idx = *d.Index
		}
		sc, ok := a.byIdx[idx]
		if !ok {
			sc = &streamedCall{}
			a.byIdx[idx] = sc
			a.order = append(a.order, idx)
		}
		if d.ID != "" {
			sc.id = d.ID
		}
		if d.Function.Name != "" {
			sc.name = d.Function.Name
		}
		sc.args += d.Function.Arguments
	}
}

func (a *toolCallAccumulator) calls() []ToolCall {
	var out []ToolCall
	for _, idx := range a.order {
		sc := a.byIdx[idx]
		var args map[string]any
		if sc.args != "" {
			if err := json.Unmarshal([]byte(sc.args), &args); err != nil {
				args = map[string]any{"_raw": sc.args}
			}
		}
		out = append(out, ToolCall{ID: sc.id, Name: sc.name, Arguments: args})
	}
	return out
}
