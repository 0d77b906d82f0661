package plan

import (
	"context"

	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/tools"
)

type setContentArgs struct {
	Title   string `json:"title" jsonschema:"description=Short plan title"`
	Content string `json:"content" jsonschema:"description=Plan description in markdown,required"`
}

// SetContentTool lets the LLM finalize the collecting plan with a prose
// description. The tool executes for real even in plan mode.
func SetContentTool(m *Manager, planID func(ctx context.Context) string) tools.Tool {
	return &tools.Func{
		Def: llm.ToolDefinition{
			Name:        "plan_set_content",
			Description: "Finalize the current plan with a title and description. Call this once after proposing all steps.",
			Parameters:  tools.SchemaFor(&setContentArgs{}),
		},
		Run: func(ctx context.Context, args map[string]any) tools.Result {
			id := planID(ctx)
			if id == "" {
				return tools.Failure(tools.FailurePolicyDenied, "no plan is being collected")
			}
			if err := m.SetContent(id, tools.String(args, "title"), tools.String(args, "content")); err != nil {
				return tools.ExecutionError(err)
			}
			return tools.Success("Plan finalized and ready for review.")
		},
	}
}
