package auto

import (
	"context"
	"fmt"
	"strings"

	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/tools"
)

type goalAddArgs struct {
	Title   string `json:"title" jsonschema:"description=Goal title,required"`
	Cadence string `json:"cadence,omitempty" jsonschema:"description=Optional cron expression limiting when the goal is worked on"`
}

type goalIDArgs struct {
	GoalID string `json:"goal_id" jsonschema:"description=Goal id,required"`
}

type taskAddArgs struct {
	GoalID string `json:"goal_id" jsonschema:"description=Goal the task belongs to,required"`
	Title  string `json:"title" jsonschema:"description=Task title,required"`
	Order  int    `json:"order,omitempty" jsonschema:"description=Execution order within the goal"`
}

type taskUpdateArgs struct {
	GoalID string `json:"goal_id" jsonschema:"required"`
	TaskID string `json:"task_id" jsonschema:"required"`
	Status string `json:"status" jsonschema:"description=New status: in_progress | completed | failed | skipped,required"`
	Result string `json:"result,omitempty" jsonschema:"description=Outcome summary"`
}

// RegisterTools adds the goal management tools to the registry. sessionKey
// resolves the conversation the current turn belongs to, so goals created
// mid-conversation inherit its scope. milestone may be nil.
func RegisterTools(reg *tools.Registry, store *Store, sessionKey func(ctx context.Context) string, milestone func(goalID, text string)) {
	notify := milestone
	if notify == nil {
		notify = func(string, string) {}
	}

	reg.Register(&tools.Func{
		Def: llm.ToolDefinition{
			Name:        "goal_add",
			Description: "Create a new persistent goal for autonomous work.",
			Parameters:  tools.SchemaFor(&goalAddArgs{}),
		},
		Run: func(ctx context.Context, args map[string]any) tools.Result {
			title := strings.TrimSpace(tools.String(args, "title"))
			if title == "" {
				return tools.Failure(tools.FailureExecutionFailed, "title is required")
			}
			g := NewGoal(title, sessionKey(ctx))
			g.Cadence = tools.String(args, "cadence")
			if err := store.AddGoal(g); err != nil {
				return tools.ExecutionError(err)
			}
			return tools.Successf("Created goal %s: %q", g.ID, g.Title)
		},
	})

	reg.Register(&tools.Func{
		Def: llm.ToolDefinition{
			Name:        "goal_list",
			Description: "List all goals with their tasks and statuses.",
			Parameters:  tools.SchemaFor(&struct{}{}),
		},
		Run: func(ctx context.Context, args map[string]any) tools.Result {
			goals := store.Goals()
			if len(goals) == 0 {
				return tools.Success("No goals defined.")
			}
			var sb strings.Builder
			for _, g := range goals {
				fmt.Fprintf(&sb, "- %s [%s] %s\n", g.ID, g.Status, g.Title)
				for _, t := range g.Tasks {
					fmt.Fprintf(&sb, "    %d. %s [%s] %s\n", t.Order, t.ID, t.Status, t.Title)
				}
			}
			return tools.Success(sb.String())
		},
	})

	reg.Register(&tools.Func{
		Def: llm.ToolDefinition{
			Name:        "goal_complete",
			Description: "Mark a goal as completed.",
			Parameters:  tools.SchemaFor(&goalIDArgs{}),
		},
		Run: func(ctx context.Context, args map[string]any) tools.Result {
			id := tools.String(args, "goal_id")
			var title string
			err := store.UpdateGoal(id, func(g *Goal) {
				g.Status = GoalCompleted
				title = g.Title
			})
			if err != nil {
				return tools.ExecutionError(err)
			}
			notify(id, fmt.Sprintf("Goal completed: %s", title))
			return tools.Successf("Goal %s completed.", id)
		},
	})

	reg.Register(&tools.Func{
		Def: llm.ToolDefinition{
			Name:        "task_add",
			Description: "Add an ordered task to a goal.",
			Parameters:  tools.SchemaFor(&taskAddArgs{}),
		},
		Run: func(ctx context.Context, args map[string]any) tools.Result {
			goalID := tools.String(args, "goal_id")
			title := strings.TrimSpace(tools.String(args, "title"))
			if title == "" {
				return tools.Failure(tools.FailureExecutionFailed, "title is required")
			}
			order := 0
			if n, ok := tools.Number(args, "order"); ok {
				order = int(n)
			}
			var task Task
			err := store.UpdateGoal(goalID, func(g *Goal) {
				if order == 0 {
					order = len(g.Tasks) + 1
				}
				task = NewTask(goalID, title, order)
				g.Tasks = append(g.Tasks, task)
			})
			if err != nil {
				return tools.ExecutionError(err)
			}
			return tools.Successf("Added task %s (order %d) to goal %s.", task.ID, order, goalID)
		},
	})

	reg.Register(&tools.Func{
		Def: llm.ToolDefinition{
			Name:        "task_update",
			Description: "Update a task's status and record its outcome.",
			Parameters:  tools.SchemaFor(&taskUpdateArgs{}),
		},
		Run: func(ctx context.Context, args map[string]any) tools.Result {
			goalID := tools.String(args, "goal_id")
			taskID := tools.String(args, "task_id")
			status := TaskStatus(tools.String(args, "status"))
			switch status {
			case TaskInProgress, TaskCompleted, TaskFailed, TaskSkipped:
			default:
				return tools.Failure(tools.FailureExecutionFailed, fmt.Sprintf("invalid status %q", status))
			}
			var title string
			err := store.UpdateTask(goalID, taskID, func(t *Task) {
				t.Status = status
				if r := tools.String(args, "result"); r != "" {
					t.Result = r
				}
				title = t.Title
			})
			if err != nil {
				return tools.ExecutionError(err)
			}
			if status == TaskCompleted {
				notify(goalID, fmt.Sprintf("Task completed: %s", title))
			}
			return tools.Successf("Task %s is now %s.", taskID, status)
		},
	})
}
