package tools

import (
	"context"

	"github.com/calder-ai/calder/internal/llm"
)

// Tool is one capability the LLM can invoke.
type Tool interface {
	// Definition returns the schema advertised to the LLM.
	Definition() llm.ToolDefinition

	// Execute runs the tool. Implementations must respect ctx cancellation;
	// the executor enforces the per-call timeout through it.
	Execute(ctx context.Context, args map[string]any) Result
}

// ConfirmationRequired is implemented by tools that need user approval
// before each execution.
type ConfirmationRequired interface {
	RequiresConfirmation() bool
}

// Func adapts a function into a Tool.
type Func struct {
	Def     llm.ToolDefinition
	Confirm bool
	Run     func(ctx context.Context, args map[string]any) Result
}

func (f *Func) Definition() llm.ToolDefinition { return f.Def }
func (f *Func) Execute(ctx context.Context, args map[string]any) Result {
	return f.Run(ctx, args)
}
func (f *Func) RequiresConfirmation() bool { return f.Confirm }

// String fetches a string argument, "" when absent or mistyped.
func String(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// Number fetches a numeric argument as float64.
func Number(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Bool fetches a boolean argument.
func Bool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
