package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/plan"
	"github.com/calder-ai/calder/internal/retry"
	"github.com/calder-ai/calder/internal/sessions"
	"github.com/calder-ai/calder/internal/tools"
	"github.com/calder-ai/calder/internal/turn"

	"github.com/google/uuid"
)

const (
	defaultMaxLlmCalls       = 200
	defaultMaxToolExecutions = 500
)

// ToolLoop runs the bounded LLM-call / tool-execution iteration for one
// turn: call the model, execute any requested tools, feed results back,
// repeat until a final text answer or a stop condition.
type ToolLoop struct {
	Sessions *sessions.Store
	Router   *llm.Router
	Registry *tools.Registry
	Executor *tools.Executor
	Plans    *plan.Manager // nil disables plan mode

	MaxLlmCalls       int
	MaxToolExecutions int
	StopOnAnyFailure  bool // halt the loop on any failed tool, not just denials
}

func (ToolLoop) Name() string                     { return "tool_loop" }
func (ToolLoop) Order() int                       { return OrderToolLoop }
func (ToolLoop) ShouldProcess(*turn.Context) bool { return true }

func (l ToolLoop) Process(ctx context.Context, tc *turn.Context) error {
	ctx = turn.NewContext(ctx, tc)
	maxCalls := l.MaxLlmCalls
	if maxCalls <= 0 {
		maxCalls = defaultMaxLlmCalls
	}
	maxTools := l.MaxToolExecutions
	if maxTools <= 0 {
		maxTools = defaultMaxToolExecutions
	}

	sel, err := l.Router.Resolve(tc.ModelTier, "", tc.UserModel)
	if err != nil {
		tc.StopReason = turn.StopToolFailure
		return fmt.Errorf("resolve model: %w", err)
	}
	if tc.ReasoningEffort == "" {
		tc.ReasoningEffort = sel.ReasoningEffort
	}

	sess, _ := l.Sessions.Get(tc.SessionKey)
	priorModel := ""
	if sess != nil {
		priorModel = sess.Model
	}

	// The inbound user message enters raw history exactly once, here.
	l.Sessions.AppendMessages(tc.SessionKey, llm.Message{
		ID:        tc.Inbound.ID,
		Role:      llm.RoleUser,
		Content:   tc.Inbound.Content,
		Metadata:  tc.Inbound.Metadata,
		Timestamp: time.Now(),
		AudioPath: tc.Inbound.AudioPath,
	})

	var activePlan *plan.Plan
	if l.Plans != nil && tc.PlanActive {
		if p, ok := l.Plans.Active(tc.SessionKey); ok && p.Status == plan.StatusCollecting {
			activePlan = p
			tc.PlanID = p.ID
		}
	}

	for {
		if reason, stopped := l.checkStop(ctx, tc, maxCalls, maxTools); stopped {
			return l.stop(tc, reason, sel, activePlan)
		}

		view := llm.BuildView(l.Sessions.History(tc.SessionKey), sel.Model, priorModel, sel.Provider.SupportsToolMessages())
		tc.ViewDiag = view.Diagnostics

		req := llm.ChatRequest{
			Messages:        append([]llm.Message{{Role: llm.RoleSystem, Content: tc.SystemPrompt}}, view.Messages...),
			Tools:           l.Registry.Definitions(),
			Model:           sel.Model,
			ReasoningEffort: tc.ReasoningEffort,
		}

		resp, err := l.chatWithRetry(ctx, tc, sel.Provider, req)
		tc.LlmCalls++
		if err != nil {
			return l.handleLlmError(ctx, tc, err, sel, activePlan)
		}
		if resp.Usage != nil {
			tc.Usage.PromptTokens += resp.Usage.PromptTokens
			tc.Usage.CompletionTokens += resp.Usage.CompletionTokens
			tc.Usage.TotalTokens += resp.Usage.TotalTokens
		}

		if len(resp.ToolCalls) == 0 {
			l.Sessions.AppendMessages(tc.SessionKey, llm.Message{
				ID:        uuid.NewString(),
				Role:      llm.RoleAssistant,
				Content:   resp.Content,
				Timestamp: time.Now(),
			})
			tc.FinalAnswer = resp.Content
			return l.stop(tc, turn.StopSuccess, sel, activePlan)
		}

		l.Sessions.AppendMessages(tc.SessionKey, llm.Message{
			ID:        uuid.NewString(),
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Timestamp: time.Now(),
		})

		// A batch with no LLM call left to consume its results never runs;
		// the calls get synthetic results instead.
		if tc.LlmCalls >= maxCalls {
			l.syntheticResults(tc, resp.ToolCalls, "llm call budget exhausted", tools.FailureExecutionFailed)
			return l.stop(tc, turn.StopIterationLimit, sel, activePlan)
		}

		if reason, stopped := l.executeCalls(ctx, tc, resp.ToolCalls, maxTools, activePlan); stopped {
			return l.stop(tc, reason, sel, activePlan)
		}
	}
}

// ctxStop maps a done context onto a stop reason. The orchestrator derives
// the turn context with the turn deadline, so deadline expiry surfaces here
// as context.DeadlineExceeded, not as an explicit cancel.
func ctxStop(ctx context.Context) (turn.StopReason, bool) {
	err := ctx.Err()
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, context.DeadlineExceeded):
		return turn.StopDeadline, true
	default:
		return turn.StopCancelled, true
	}
}

// checkStop enforces cancellation and budgets before each LLM call.
func (l ToolLoop) checkStop(ctx context.Context, tc *turn.Context, maxCalls, maxTools int) (turn.StopReason, bool) {
	if reason, stopped := ctxStop(ctx); stopped {
		return reason, true
	}
	now := time.Now()
	if tc.PastDeadline(now) {
		return turn.StopDeadline, true
	}
	if tc.LlmCalls >= maxCalls || tc.ToolExecutions >= maxTools {
		return turn.StopIterationLimit, true
	}
	return "", false
}

func (l ToolLoop) chatWithRetry(ctx context.Context, tc *turn.Context, provider llm.Provider, req llm.ChatRequest) (*llm.ChatResponse, error) {
	var resp *llm.ChatResponse
	attempts := 0
	res, err := retry.Do(ctx, retry.Config{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}, llm.Retryable, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			tc.Emit(turn.EventRetryStarted, map[string]any{"attempt": attempts})
		}
		var callErr error
		resp, callErr = provider.Chat(ctx, req)
		return callErr
	})
	if attempts > 1 {
		tc.Emit(turn.EventRetryFinished, map[string]any{
			"attempts": res.Attempts, "success": err == nil,
		})
	}
	return resp, err
}

// executeCalls runs one batch of tool calls. Returns a stop reason when a
// denial (or any failure under StopOnAnyFailure) halts the loop; remaining
// calls in the batch get synthetic skipped results first.
func (l ToolLoop) executeCalls(ctx context.Context, tc *turn.Context, calls []llm.ToolCall, maxTools int, activePlan *plan.Plan) (turn.StopReason, bool) {
	for i, call := range calls {
		if reason, stopped := ctxStop(ctx); stopped {
			msg := "cancelled"
			if reason == turn.StopDeadline {
				msg = "turn deadline exceeded"
			}
			l.syntheticResults(tc, calls[i:], msg, tools.FailureExecutionFailed)
			return reason, true
		}
		if tc.PastDeadline(time.Now()) {
			l.syntheticResults(tc, calls[i:], "turn deadline exceeded", tools.FailureExecutionFailed)
			return turn.StopDeadline, true
		}
		if tc.ToolExecutions >= maxTools {
			l.syntheticResults(tc, calls[i:], "tool execution budget exhausted", tools.FailureExecutionFailed)
			return turn.StopIterationLimit, true
		}

		// Collecting plan: record the call instead of executing, except the
		// plan finalization tool which must run for real.
		if activePlan != nil && call.Name != "plan_set_content" {
			if _, err := l.Plans.Collect(activePlan.ID, call); err != nil {
				slog.Warn("plan collect failed", "error", err)
			}
			l.appendToolResult(tc, call, plan.SyntheticResult)
			continue
		}

		tc.Emit(turn.EventToolStarted, map[string]any{"tool": call.Name, "call_id": call.ID})
		res := l.Executor.Execute(ctx, call)
		tc.ToolExecutions++
		tc.ToolNames = append(tc.ToolNames, call.Name)
		tc.ToolOutputs = append(tc.ToolOutputs, res.Text())
		tc.Emit(turn.EventToolFinished, map[string]any{
			"tool": call.Name, "call_id": call.ID, "success": res.Success, "failure_kind": string(res.FailureKind),
		})

		l.appendToolResult(tc, call, res.Text())

		if !res.Success {
			var reason turn.StopReason
			switch res.FailureKind {
			case tools.FailureConfirmationDenied:
				reason = turn.StopConfirmationDenied
			case tools.FailurePolicyDenied:
				reason = turn.StopPolicyDenied
			default:
				if l.StopOnAnyFailure {
					reason = turn.StopToolFailure
				}
			}
			if reason != "" {
				l.syntheticResults(tc, calls[i+1:], "skipped: a prior tool call was denied", res.FailureKind)
				return reason, true
			}
		}
	}
	return "", false
}

func (l ToolLoop) appendToolResult(tc *turn.Context, call llm.ToolCall, content string) {
	l.Sessions.AppendMessages(tc.SessionKey, llm.Message{
		ID:         uuid.NewString(),
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Timestamp:  time.Now(),
	})
}

// syntheticResults appends one tool result per unsatisfied call so the
// history never persists with dangling tool calls.
func (l ToolLoop) syntheticResults(tc *turn.Context, calls []llm.ToolCall, msg string, kind tools.FailureKind) {
	for _, call := range calls {
		l.appendToolResult(tc, call, fmt.Sprintf("Error: %s (%s)", msg, kind))
	}
}

// stop finalizes the loop: any dangling tool calls on the last assistant
// message get synthetic results, plan collection is finalized, and session
// metadata is recorded.
func (l ToolLoop) stop(tc *turn.Context, reason turn.StopReason, sel llm.Selection, activePlan *plan.Plan) error {
	tc.StopReason = reason
	l.healDangling(tc, reason)
	if activePlan != nil {
		if err := l.Plans.Finalize(activePlan.ID); err != nil {
			slog.Warn("plan finalize failed", "plan", activePlan.ID, "error", err)
		}
	}
	l.Sessions.Update(tc.SessionKey, func(s *sessions.Session) {
		s.Model = sel.Model
		s.Provider = sel.Provider.Name()
		s.InputTokens += int64(tc.Usage.PromptTokens)
		s.OutputTokens += int64(tc.Usage.CompletionTokens)
	})
	return nil
}

// healDangling scans the tail of history for tool calls without results and
// appends synthetic results carrying the stop reason's failure kind.
func (l ToolLoop) healDangling(tc *turn.Context, reason turn.StopReason) {
	history := l.Sessions.History(tc.SessionKey)
	idx := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleAssistant && len(history[i].ToolCalls) > 0 {
			idx = i
			break
		}
		if history[i].Role != llm.RoleTool {
			return
		}
	}
	if idx < 0 {
		return
	}

	answered := map[string]bool{}
	for _, m := range history[idx+1:] {
		if m.Role == llm.RoleTool {
			answered[m.ToolCallID] = true
		}
	}

	kind := tools.FailureExecutionFailed
	switch reason {
	case turn.StopConfirmationDenied:
		kind = tools.FailureConfirmationDenied
	case turn.StopPolicyDenied:
		kind = tools.FailurePolicyDenied
	}
	for _, call := range history[idx].ToolCalls {
		if !answered[call.ID] {
			l.appendToolResult(tc, call, fmt.Sprintf("Error: turn stopped (%s, %s)", reason, kind))
		}
	}
}

// handleLlmError translates a failed (post-retry) LLM call into a stop.
func (l ToolLoop) handleLlmError(ctx context.Context, tc *turn.Context, err error, sel llm.Selection, activePlan *plan.Plan) error {
	reason := turn.StopToolFailure
	if r, stopped := ctxStop(ctx); stopped {
		reason = r
	}
	if llm.IsRateLimit(err) {
		tc.RecordFailure("tool_loop", "rate limited: "+err.Error())
	}
	l.stop(tc, reason, sel, activePlan)
	return fmt.Errorf("llm call: %w", err)
}
