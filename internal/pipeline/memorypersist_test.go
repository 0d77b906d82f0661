package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/calder-ai/calder/internal/bus"
	"github.com/calder-ai/calder/internal/memory"
	"github.com/calder-ai/calder/internal/sessions"
	"github.com/calder-ai/calder/internal/turn"
)

// TestMemoryPersist_GoalInsightCarriesAcrossRuns verifies an insight written
// during one run of a goal is retrieved when a later run of the same goal
// builds its context, even though every run gets its own session key.
func TestMemoryPersist_GoalInsightCarriesAcrossRuns(t *testing.T) {
	mem, err := memory.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	run1 := &turn.Context{
		SessionKey:  sessions.BuildAutoRunKey("goal-7", "run-a"),
		AutoMode:    true,
		RunKind:     turn.RunGoal,
		GoalID:      "goal-7",
		FinalAnswer: "The staging API rejects tokens older than an hour.",
	}
	if err := (MemoryPersist{Memory: mem}).Process(context.Background(), run1); err != nil {
		t.Fatal(err)
	}

	cb := ContextBuilding{Memory: mem}
	run2 := &turn.Context{
		SessionKey: sessions.BuildAutoRunKey("goal-7", "run-b"),
		AutoMode:   true,
		RunKind:    turn.RunGoal,
		GoalID:     "goal-7",
		Inbound:    bus.InboundMessage{Content: "continue the goal"},
	}
	if err := cb.Process(context.Background(), run2); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(run2.SystemPrompt, "rejects tokens older than an hour") {
		t.Errorf("system prompt missing the goal insight:\n%s", run2.SystemPrompt)
	}

	// A run of a different goal must not see it.
	other := &turn.Context{
		SessionKey: sessions.BuildAutoRunKey("goal-9", "run-a"),
		AutoMode:   true,
		RunKind:    turn.RunGoal,
		GoalID:     "goal-9",
		Inbound:    bus.InboundMessage{Content: "different goal"},
	}
	if err := cb.Process(context.Background(), other); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(other.SystemPrompt, "rejects tokens older") {
		t.Error("goal insight leaked across goals")
	}
}
