package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/telemetry"
)

const defaultToolTimeout = 60 * time.Second

// ConfirmationPort asks the user to approve a tool execution. A timed-out
// or unreachable confirmation resolves to denied.
type ConfirmationPort interface {
	RequestConfirmation(ctx context.Context, promptID, description string, expiresAt time.Time) bool
}

// AutoDeny denies every confirmation. Used for headless and scheduler runs
// where nobody can answer.
type AutoDeny struct{}

func (AutoDeny) RequestConfirmation(context.Context, string, string, time.Time) bool { return false }

// AutoApprove approves every confirmation. Used for plan execution after
// the user approved the plan as a whole.
type AutoApprove struct{}

func (AutoApprove) RequestConfirmation(context.Context, string, string, time.Time) bool { return true }

// Executor resolves and runs tool calls with timeout and confirmation
// enforcement.
type Executor struct {
	registry      *Registry
	confirmations ConfirmationPort
	toolTimeout   time.Duration
	confirmTTL    time.Duration
}

func NewExecutor(registry *Registry, confirmations ConfirmationPort) *Executor {
	if confirmations == nil {
		confirmations = AutoDeny{}
	}
	return &Executor{
		registry:      registry,
		confirmations: confirmations,
		toolTimeout:   defaultToolTimeout,
		confirmTTL:    2 * time.Minute,
	}
}

// WithTimeout overrides the per-call timeout.
func (e *Executor) WithTimeout(d time.Duration) *Executor {
	if d > 0 {
		e.toolTimeout = d
	}
	return e
}

// Execute runs one tool call to a classified result. It never panics out:
// tool panics become ExecutionFailed results.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) Result {
	tool, denial := e.registry.Resolve(call.Name)
	if denial != nil {
		return *denial
	}

	if cr, ok := tool.(ConfirmationRequired); ok && cr.RequiresConfirmation() {
		expires := time.Now().Add(e.confirmTTL)
		desc := fmt.Sprintf("Run tool %s?", call.Name)
		if !e.confirmations.RequestConfirmation(ctx, call.ID, desc, expires) {
			return Failure(FailureConfirmationDenied, fmt.Sprintf("user denied execution of %s", call.Name))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	defer cancel()

	ctx, span := telemetry.Tracer().Start(ctx, "tool."+call.Name)
	defer span.End()

	start := time.Now()
	res := e.run(ctx, tool, call)
	span.SetAttributes(
		attribute.Bool("success", res.Success),
		attribute.String("failure_kind", string(res.FailureKind)),
	)
	slog.Debug("tool executed",
		"tool", call.Name, "success", res.Success,
		"failure_kind", res.FailureKind, "duration", time.Since(start))

	if !res.Success && res.FailureKind == FailureNone {
		res.FailureKind = FailureExecutionFailed
	}
	return res
}

func (e *Executor) run(ctx context.Context, tool Tool, call llm.ToolCall) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", call.Name, "panic", r)
			res = Failure(FailureExecutionFailed, fmt.Sprintf("tool %s panicked: %v", call.Name, r))
		}
	}()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Failure(FailureExecutionFailed, fmt.Sprintf("tool %s panicked: %v", call.Name, r))
			}
		}()
		done <- tool.Execute(ctx, call.Arguments)
	}()

	select {
	case res = <-done:
		return res
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Failure(FailureExecutionFailed, fmt.Sprintf("tool %s timed out after %s", call.Name, e.toolTimeout))
		}
		return Failure(FailureExecutionFailed, fmt.Sprintf("tool %s cancelled", call.Name))
	}
}
