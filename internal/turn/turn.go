// Package turn defines the context one message turn flows through the
// pipeline with, plus the runtime events and outcome types systems produce.
package turn

import (
	"context"
	"time"

	"github.com/calder-ai/calder/internal/bus"
	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/sessions"
)

// StopReason says why the tool loop ended.
type StopReason string

const (
	StopSuccess            StopReason = "SUCCESS"
	StopIterationLimit     StopReason = "ITERATION_LIMIT"
	StopDeadline           StopReason = "DEADLINE"
	StopToolFailure        StopReason = "TOOL_FAILURE"
	StopConfirmationDenied StopReason = "CONFIRMATION_DENIED"
	StopPolicyDenied       StopReason = "POLICY_DENIED"
	StopCancelled          StopReason = "CANCELLED"
)

// RunKind distinguishes scheduler-originated turns.
type RunKind string

const (
	RunGoal RunKind = "GOAL_RUN"
	RunTask RunKind = "TASK_RUN"
)

// Context carries one turn through the pipeline. Systems read and write
// fields; only ResponseRouting touches transports.
type Context struct {
	Inbound    bus.InboundMessage
	Identity   sessions.Identity
	SessionKey string

	// Auto-mode metadata, set by the scheduler on synthetic turns.
	AutoMode bool
	GoalID   string
	TaskID   string
	RunKind  RunKind
	RunID    string

	// Sanitization results from system 10.
	SanitizationPerformed bool
	DetectedThreats       []string

	// Skill and model routing.
	ActiveSkill            string
	SkillTransitionRequest bool
	ModelTier              llm.Tier
	TierLocked             bool
	UserModel              string
	ReasoningEffort        string

	// Context building outputs.
	SystemPrompt  string
	MemoryPackIDs []string
	ViewDiag      llm.ViewDiagnostics

	// Plan mode.
	PlanActive bool
	PlanID     string

	// Loop outputs.
	FinalAnswer    string
	StopReason     StopReason
	LlmCalls       int
	ToolExecutions int
	ToolNames      []string
	ToolOutputs    []string
	Usage          llm.Usage

	// Response assembly.
	VoiceRequested   bool
	Attachments      []bus.Attachment
	OutgoingResponse *OutgoingResponse
	RoutingOutcome   *RoutingOutcome

	Failures []FailureEvent

	StartedAt time.Time
	Deadline  time.Time

	emit EventFunc
}

// OutgoingResponse is the single contract read by ResponseRouting.
type OutgoingResponse struct {
	Text                string
	Voice               bool
	SpeechText          string
	Attachments         []bus.Attachment
	SkipAssistantHistory bool
}

// RoutingOutcome records what ResponseRouting did, per response part.
// Attempted is true whenever routing ran against a transport, even if every
// send failed; Delivered means at least one part went out.
type RoutingOutcome struct {
	Attempted       bool
	Delivered       bool
	Suppressed      bool
	SentText        bool
	SentVoice       bool
	SentAttachments int
	ErrorMessage    string
}

// FailureEvent records a system fault without aborting the turn.
type FailureEvent struct {
	System  string    `json:"system"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// RecordFailure appends a failure event.
func (c *Context) RecordFailure(system, message string) {
	c.Failures = append(c.Failures, FailureEvent{System: system, Message: message, At: time.Now()})
}

// Event is one runtime event, broadcast to observers (web clients, logs).
type Event struct {
	Name       string         `json:"name"`
	SessionKey string         `json:"session_key"`
	At         time.Time      `json:"at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Runtime event names.
const (
	EventTurnStarted        = "turn.started"
	EventTurnFinished       = "turn.finished"
	EventTurnFailed         = "turn.failed"
	EventToolStarted        = "tool.started"
	EventToolFinished       = "tool.finished"
	EventRetryStarted       = "retry.started"
	EventRetryFinished      = "retry.finished"
	EventCompactionStarted  = "compaction.started"
	EventCompactionFinished = "compaction.finished"
)

// EventFunc receives runtime events. A nil sink drops them.
type EventFunc func(Event)

// SetEventSink installs the observer callback for this turn.
func (c *Context) SetEventSink(fn EventFunc) { c.emit = fn }

// Emit publishes a runtime event for this turn.
func (c *Context) Emit(name string, data map[string]any) {
	if c.emit == nil {
		return
	}
	c.emit(Event{Name: name, SessionKey: c.SessionKey, At: time.Now(), Data: data})
}

// PastDeadline reports whether the turn deadline has passed.
func (c *Context) PastDeadline(now time.Time) bool {
	return !c.Deadline.IsZero() && now.After(c.Deadline)
}

type ctxKey struct{}

// NewContext attaches the turn to a context so tools running under the
// executor can see which conversation invoked them.
func NewContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext returns the turn attached to ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(*Context)
	return tc, ok
}
