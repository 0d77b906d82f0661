package plan

import (
	"context"
	"strings"
	"testing"

	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/tools"
)

func newManagerFixture(t *testing.T, reg *tools.Registry) *Manager {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if reg == nil {
		reg = tools.NewRegistry()
	}
	return NewManager(store, tools.NewExecutor(reg, tools.AutoApprove{}))
}

// TestManager_StartIsIdempotent verifies starting plan mode twice returns the
// same collecting plan.
func TestManager_StartIsIdempotent(t *testing.T) {
	m := newManagerFixture(t, nil)

	p1, err := m.Start("web:direct:u1")
	if err != nil {
		t.Fatal(err)
	}
	if p1.Status != StatusCollecting {
		t.Errorf("status = %s", p1.Status)
	}

	p2, err := m.Start("web:direct:u1")
	if err != nil {
		t.Fatal(err)
	}
	if p2.ID != p1.ID {
		t.Errorf("second start created a new plan: %s vs %s", p2.ID, p1.ID)
	}

	other, err := m.Start("web:direct:u2")
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == p1.ID {
		t.Error("plans shared across sessions")
	}
}

// TestManager_CollectAndFinalize verifies collected calls become pending
// steps and finalization moves the plan to ready.
func TestManager_CollectAndFinalize(t *testing.T) {
	m := newManagerFixture(t, nil)
	p, _ := m.Start("web:direct:u1")

	synthetic, err := m.Collect(p.ID, llm.ToolCall{ID: "t1", Name: "write_file", Arguments: map[string]any{"path": "a.txt"}})
	if err != nil {
		t.Fatal(err)
	}
	if synthetic != SyntheticResult {
		t.Errorf("synthetic result = %q", synthetic)
	}
	m.Collect(p.ID, llm.ToolCall{ID: "t2", Name: "exec", Arguments: map[string]any{"command": "make"}})

	if err := m.Finalize(p.ID); err != nil {
		t.Fatal(err)
	}

	got, ok := m.Active("web:direct:u1")
	if !ok {
		t.Fatal("plan not active after finalize")
	}
	if got.Status != StatusReady {
		t.Errorf("status = %s, want ready", got.Status)
	}
	if got.PendingSteps() != 2 {
		t.Errorf("pending steps = %d", got.PendingSteps())
	}

	// Collecting after finalization is a no-op.
	m.Collect(p.ID, llm.ToolCall{ID: "t3", Name: "late"})
	got, _ = m.Active("web:direct:u1")
	if len(got.Steps) != 2 {
		t.Errorf("steps after late collect = %d", len(got.Steps))
	}
}

// TestManager_SetContent verifies the finalization tool path stores prose and
// readies the plan in one step.
func TestManager_SetContent(t *testing.T) {
	m := newManagerFixture(t, nil)
	p, _ := m.Start("web:direct:u1")

	if err := m.SetContent(p.ID, "Refactor", "Rename the package and fix imports."); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Active("web:direct:u1")
	if got.Title != "Refactor" || got.Status != StatusReady {
		t.Errorf("plan = %+v", got)
	}
}

// TestManager_ApproveRequiresReady verifies approval is rejected while still
// collecting.
func TestManager_ApproveRequiresReady(t *testing.T) {
	m := newManagerFixture(t, nil)
	p, _ := m.Start("web:direct:u1")

	if err := m.Approve(p.ID); err == nil {
		t.Error("approved a collecting plan")
	}
	m.Finalize(p.ID)
	if err := m.Approve(p.ID); err != nil {
		t.Errorf("approve after ready: %v", err)
	}
}

// TestManager_ExecuteRunsStepsInOrder verifies an approved plan replays its
// steps sequentially through the executor.
func TestManager_ExecuteRunsStepsInOrder(t *testing.T) {
	var ran []string
	reg := tools.NewRegistry()
	reg.Register(&tools.Func{
		Def: llm.ToolDefinition{Name: "step", Description: "records", Parameters: map[string]any{"type": "object"}},
		Run: func(ctx context.Context, args map[string]any) tools.Result {
			label := tools.String(args, "label")
			ran = append(ran, label)
			return tools.Success("did " + label)
		},
	})
	m := newManagerFixture(t, reg)
	p, _ := m.Start("web:direct:u1")
	m.Collect(p.ID, llm.ToolCall{ID: "t1", Name: "step", Arguments: map[string]any{"label": "first"}})
	m.Collect(p.ID, llm.ToolCall{ID: "t2", Name: "step", Arguments: map[string]any{"label": "second"}})
	m.Finalize(p.ID)
	m.Approve(p.ID)

	out, err := m.Execute(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}

	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Errorf("execution order = %v", ran)
	}
	if out.Status != StatusCompleted {
		t.Errorf("status = %s", out.Status)
	}
	for i, s := range out.Steps {
		if s.Status != StepExecuted {
			t.Errorf("step %d status = %s", i, s.Status)
		}
		if !strings.HasPrefix(s.Result, "did ") {
			t.Errorf("step %d result = %q", i, s.Result)
		}
	}
}

// TestManager_ExecuteStopsOnFailure verifies a failed step skips the rest and
// the plan ends partially completed.
func TestManager_ExecuteStopsOnFailure(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&tools.Func{
		Def: llm.ToolDefinition{Name: "ok", Description: "succeeds", Parameters: map[string]any{"type": "object"}},
		Run: func(context.Context, map[string]any) tools.Result { return tools.Success("fine") },
	})
	reg.Register(&tools.Func{
		Def: llm.ToolDefinition{Name: "bad", Description: "fails", Parameters: map[string]any{"type": "object"}},
		Run: func(context.Context, map[string]any) tools.Result {
			return tools.Failure(tools.FailureExecutionFailed, "disk full")
		},
	})
	m := newManagerFixture(t, reg)
	p, _ := m.Start("web:direct:u1")
	m.Collect(p.ID, llm.ToolCall{ID: "t1", Name: "ok"})
	m.Collect(p.ID, llm.ToolCall{ID: "t2", Name: "bad"})
	m.Collect(p.ID, llm.ToolCall{ID: "t3", Name: "ok"})
	m.Finalize(p.ID)
	m.Approve(p.ID)

	out, err := m.Execute(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}

	if out.Status != StatusPartiallyCompleted {
		t.Errorf("status = %s", out.Status)
	}
	wantSteps := []StepStatus{StepExecuted, StepFailed, StepSkipped}
	for i, want := range wantSteps {
		if out.Steps[i].Status != want {
			t.Errorf("step %d status = %s, want %s", i, out.Steps[i].Status, want)
		}
	}
	if !strings.Contains(out.Steps[1].Result, "disk full") {
		t.Errorf("failed step result = %q", out.Steps[1].Result)
	}
}

// TestManager_ExecuteRequiresApproval verifies ready-but-unapproved plans do
// not run.
func TestManager_ExecuteRequiresApproval(t *testing.T) {
	m := newManagerFixture(t, nil)
	p, _ := m.Start("web:direct:u1")
	m.Finalize(p.ID)

	if _, err := m.Execute(context.Background(), p.ID); err == nil {
		t.Error("unapproved plan executed")
	}
}

// TestManager_Cancel verifies cancellation ends the plan and frees the
// session for a new one.
func TestManager_Cancel(t *testing.T) {
	m := newManagerFixture(t, nil)
	p, _ := m.Start("web:direct:u1")

	if err := m.Cancel(p.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Active("web:direct:u1"); ok {
		t.Error("cancelled plan still active")
	}

	p2, err := m.Start("web:direct:u1")
	if err != nil {
		t.Fatal(err)
	}
	if p2.ID == p.ID {
		t.Error("cancelled plan resurrected")
	}
}

// TestStore_SurvivesRestart verifies plans reload from disk with their steps
// and status intact.
func TestStore_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	p := New("web:direct:u1")
	p.AddStep(llm.ToolCall{ID: "t1", Name: "deploy"})
	p.Status = StatusReady
	if err := store.Put(p); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := reloaded.Get(p.ID)
	if !ok {
		t.Fatal("plan lost across restart")
	}
	if got.Status != StatusReady || len(got.Steps) != 1 || got.Steps[0].Call.Name != "deploy" {
		t.Errorf("reloaded plan = %+v", got)
	}
	if active, ok := reloaded.ActiveForSession("web:direct:u1"); !ok || active.ID != p.ID {
		t.Error("reloaded plan not active for its session")
	}
}

// TestRender verifies the review rendering lists steps with their status.
func TestRender(t *testing.T) {
	m := newManagerFixture(t, nil)
	p, _ := m.Start("web:direct:u1")
	m.Collect(p.ID, llm.ToolCall{ID: "t1", Name: "write_file"})
	m.SetContent(p.ID, "Notes", "Write the notes file.")

	got, _ := m.Active("web:direct:u1")
	out := m.Render(got)
	if !strings.Contains(out, "Plan: Notes") {
		t.Errorf("title missing: %q", out)
	}
	if !strings.Contains(out, "1. write_file (pending)") {
		t.Errorf("step line missing: %q", out)
	}
}
