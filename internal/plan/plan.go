// Package plan implements plan mode: tool calls are collected into a plan
// instead of executing, the user reviews it, and approval replays the steps
// sequentially.
package plan

import (
	"time"

	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/tools"

	"github.com/google/uuid"
)

// Status of a plan through its lifecycle.
type Status string

const (
	StatusCollecting         Status = "collecting"
	StatusReady              Status = "ready"
	StatusApproved           Status = "approved"
	StatusExecuting          Status = "executing"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusCancelled          Status = "cancelled"
)

// StepStatus of one collected tool call.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepExecuted StepStatus = "executed"
	StepFailed   StepStatus = "failed"
	StepSkipped  StepStatus = "skipped"
)

// Step is one proposed tool call inside a plan.
type Step struct {
	ID     string       `json:"id"`
	Call   llm.ToolCall `json:"call"`
	Status StepStatus   `json:"status"`
	Result string       `json:"result,omitempty"`
}

// Plan is an ordered list of proposed tool calls for one session.
type Plan struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"session_key"`
	Title      string    `json:"title,omitempty"`
	Content    string    `json:"content,omitempty"` // prose description set via plan_set_content
	Steps      []Step    `json:"steps"`
	Status     Status    `json:"status"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// SyntheticResult is what the LLM sees in place of a real tool result while
// a plan is collecting.
const SyntheticResult = "[Planned]"

// New creates an empty collecting plan for a session.
func New(sessionKey string) *Plan {
	now := time.Now()
	return &Plan{
		ID:         uuid.NewString(),
		SessionKey: sessionKey,
		Status:     StatusCollecting,
		Created:    now,
		Updated:    now,
	}
}

// AddStep appends a proposed tool call.
func (p *Plan) AddStep(call llm.ToolCall) Step {
	step := Step{ID: uuid.NewString(), Call: call, Status: StepPending}
	p.Steps = append(p.Steps, step)
	p.Updated = time.Now()
	return step
}

// PendingSteps counts steps not yet executed or skipped.
func (p *Plan) PendingSteps() int {
	n := 0
	for _, s := range p.Steps {
		if s.Status == StepPending {
			n++
		}
	}
	return n
}

// resultSummary converts a tool result into the stored step result.
func resultSummary(res tools.Result) string {
	const max = 500
	t := res.Text()
	if len(t) > max {
		t = t[:max] + "..."
	}
	return t
}
