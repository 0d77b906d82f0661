// Package auto implements autonomous mode: persistent goals with ordered
// tasks, an append-only work diary, and the scheduler that turns pending
// work into synthetic turns.
package auto

import (
	"time"

	"github.com/google/uuid"
)

// GoalStatus lifecycle.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalPaused    GoalStatus = "paused"
	GoalCancelled GoalStatus = "cancelled"
)

// TaskStatus lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// Goal is a persistent objective with an ordered task list.
type Goal struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Status  GoalStatus `json:"status"`
	Cadence string     `json:"cadence,omitempty"` // optional cron expression gating ticks
	Tasks   []Task     `json:"tasks"`
	Created time.Time  `json:"created"`
	Updated time.Time  `json:"updated"`

	// SessionKey of the conversation that created the goal, kept for
	// attribution. Run memory is scoped by goal id, not this key.
	SessionKey string `json:"session_key,omitempty"`
}

// Task is one unit of work under a goal. A task with an empty GoalID is
// standalone and runs with TASK_RUN scope.
type Task struct {
	ID     string     `json:"id"`
	GoalID string     `json:"goal_id,omitempty"`
	Title  string     `json:"title"`
	Status TaskStatus `json:"status"`
	Order  int        `json:"order"`
	Result string     `json:"result,omitempty"`
}

// DiaryEntry is one append-only work log record, partitioned per UTC day.
type DiaryEntry struct {
	At      time.Time `json:"at"`
	GoalID  string    `json:"goal_id,omitempty"`
	TaskID  string    `json:"task_id,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
	Kind    string    `json:"kind"` // "run", "milestone", "note", "error"
	Content string    `json:"content"`
}

// NotifyTarget is where milestone notifications go, registered when
// auto-mode is enabled.
type NotifyTarget struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
}

// State is the persisted auto-mode switch.
type State struct {
	Enabled bool          `json:"enabled"`
	Notify  *NotifyTarget `json:"notify,omitempty"`
}

func NewGoal(title, sessionKey string) Goal {
	now := time.Now().UTC()
	return Goal{
		ID:         uuid.NewString(),
		Title:      title,
		Status:     GoalActive,
		SessionKey: sessionKey,
		Created:    now,
		Updated:    now,
	}
}

func NewTask(goalID, title string, order int) Task {
	return Task{
		ID:     uuid.NewString(),
		GoalID: goalID,
		Title:  title,
		Status: TaskPending,
		Order:  order,
	}
}
