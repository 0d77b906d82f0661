package plan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/tools"
)

// Manager drives the plan lifecycle for sessions.
type Manager struct {
	store    *Store
	executor *tools.Executor
}

func NewManager(store *Store, executor *tools.Executor) *Manager {
	return &Manager{store: store, executor: executor}
}

// Start begins collecting a new plan for a session. An existing active plan
// for the session is returned instead, so starting plan mode twice is safe.
func (m *Manager) Start(sessionKey string) (*Plan, error) {
	if p, ok := m.store.ActiveForSession(sessionKey); ok {
		return p, nil
	}
	p := New(sessionKey)
	if err := m.store.Put(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Active returns the live plan for a session, if any.
func (m *Manager) Active(sessionKey string) (*Plan, bool) {
	return m.store.ActiveForSession(sessionKey)
}

// Collect records a proposed tool call on the collecting plan and returns
// the synthetic result text the LLM sees.
func (m *Manager) Collect(planID string, call llm.ToolCall) (string, error) {
	err := m.store.Update(planID, func(p *Plan) {
		if p.Status == StatusCollecting {
			p.AddStep(call)
		}
	})
	if err != nil {
		return "", err
	}
	return SyntheticResult, nil
}

// SetContent stores the plan prose and finalizes collection.
func (m *Manager) SetContent(planID, title, content string) error {
	return m.store.Update(planID, func(p *Plan) {
		p.Title = title
		p.Content = content
		if p.Status == StatusCollecting {
			p.Status = StatusReady
		}
	})
}

// Finalize moves a collecting plan to ready. Called when the LLM stops
// proposing tool calls without an explicit plan_set_content call.
func (m *Manager) Finalize(planID string) error {
	return m.store.Update(planID, func(p *Plan) {
		if p.Status == StatusCollecting {
			p.Status = StatusReady
		}
	})
}

// Approve marks a ready plan approved.
func (m *Manager) Approve(planID string) error {
	var bad Status
	err := m.store.Update(planID, func(p *Plan) {
		if p.Status != StatusReady {
			bad = p.Status
			return
		}
		p.Status = StatusApproved
	})
	if err != nil {
		return err
	}
	if bad != "" {
		return fmt.Errorf("plan %s is %s, not ready", planID, bad)
	}
	return nil
}

// Cancel terminates a plan in any non-terminal state.
func (m *Manager) Cancel(planID string) error {
	return m.store.Update(planID, func(p *Plan) {
		switch p.Status {
		case StatusCompleted, StatusPartiallyCompleted, StatusCancelled:
		default:
			p.Status = StatusCancelled
		}
	})
}

// Execute runs an approved plan's steps in order. Execution stops at the
// first failed step; remaining steps are marked skipped and the plan ends
// partially completed.
func (m *Manager) Execute(ctx context.Context, planID string) (*Plan, error) {
	p, ok := m.store.Get(planID)
	if !ok {
		return nil, fmt.Errorf("plan %s not found", planID)
	}
	if p.Status != StatusApproved {
		return nil, fmt.Errorf("plan %s is %s, not approved", planID, p.Status)
	}

	if err := m.store.Update(planID, func(p *Plan) { p.Status = StatusExecuting }); err != nil {
		return nil, err
	}

	failed := false
	for i := range p.Steps {
		idx := i
		if failed || ctx.Err() != nil {
			m.store.Update(planID, func(p *Plan) { p.Steps[idx].Status = StepSkipped })
			continue
		}

		step := p.Steps[idx]
		slog.Info("executing plan step", "plan", planID, "step", idx, "tool", step.Call.Name)
		res := m.executor.Execute(ctx, step.Call)

		status := StepExecuted
		if !res.Success {
			status = StepFailed
			failed = true
		}
		if err := m.store.Update(planID, func(p *Plan) {
			p.Steps[idx].Status = status
			p.Steps[idx].Result = resultSummary(res)
		}); err != nil {
			return nil, err
		}
	}

	final := StatusCompleted
	if failed || ctx.Err() != nil {
		final = StatusPartiallyCompleted
	}
	if err := m.store.Update(planID, func(p *Plan) { p.Status = final }); err != nil {
		return nil, err
	}

	out, _ := m.store.Get(planID)
	return out, nil
}

// Render formats a plan for user review.
func (m *Manager) Render(p *Plan) string {
	out := "Plan"
	if p.Title != "" {
		out += ": " + p.Title
	}
	out += "\n"
	if p.Content != "" {
		out += p.Content + "\n"
	}
	for i, s := range p.Steps {
		out += fmt.Sprintf("%d. %s (%s)\n", i+1, s.Call.Name, s.Status)
	}
	return out
}
