package pipeline

import (
	"context"
	"log/slog"

	"github.com/calder-ai/calder/internal/memory"
	"github.com/calder-ai/calder/internal/turn"
)

// MemoryPersist extracts structured memory from the completed turn. Runs
// after the loop and before response preparation; failures are logged and
// never block delivery.
type MemoryPersist struct {
	Memory *memory.Store
}

func (MemoryPersist) Name() string { return "memory_persist" }
func (MemoryPersist) Order() int   { return OrderMemoryPersist }

func (m MemoryPersist) ShouldProcess(tc *turn.Context) bool {
	return m.Memory != nil && (tc.FinalAnswer != "" || len(tc.ToolNames) > 0)
}

func (m MemoryPersist) Process(ctx context.Context, tc *turn.Context) error {
	rec := memory.TurnRecord{
		UserText:      tc.Inbound.Content,
		AssistantText: tc.FinalAnswer,
		ToolNames:     tc.ToolNames,
		ToolOutputs:   tc.ToolOutputs,
	}

	items := memory.Extract(rec, memory.ScopeSession(tc.SessionKey))

	// Auto runs write intermediate state to task scope; goal runs also share
	// insights at goal scope. Promotion to global only happens via explicit
	// tools, never here.
	if tc.AutoMode && tc.TaskID != "" {
		state := memory.NewItem(memory.LayerEpisodic, memory.TypeTaskState,
			"task progress", clipText(tc.FinalAnswer, 400), memory.ScopeTask(tc.TaskID))
		items = append(items, state)
	}
	if tc.AutoMode && tc.RunKind == turn.RunGoal && tc.GoalID != "" && tc.FinalAnswer != "" {
		insight := memory.NewItem(memory.LayerEpisodic, memory.TypeProjectFact,
			"goal insight", clipText(tc.FinalAnswer, 400), memory.ScopeGoal(tc.GoalID))
		items = append(items, insight)
	}

	for _, item := range items {
		if _, err := m.Memory.Put(item); err != nil {
			slog.Warn("memory write failed", "title", item.Title, "error", err)
		}
	}
	return nil
}

func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
