package auto

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calder-ai/calder/internal/bus"
	"github.com/calder-ai/calder/internal/sessions"

	"github.com/adhocore/gronx"
)

const (
	defaultInterval = 15 * time.Minute
	tickWatchdog    = 5 * time.Minute
)

// Dispatcher feeds synthetic messages into the normal turn path.
type Dispatcher interface {
	ProcessMessage(ctx context.Context, msg bus.InboundMessage) error
}

// Notifier delivers milestone notifications to the registered channel.
type Notifier interface {
	Notify(target NotifyTarget, text string)
}

// Scheduler drives autonomous work. Each tick picks at most one piece of
// pending work and dispatches it as a synthetic turn; per-session
// single-flight in the orchestrator keeps runs from stacking up.
type Scheduler struct {
	store      *Store
	dispatcher Dispatcher
	notifier   Notifier
	interval   time.Duration
	cron       *gronx.Gronx
}

func NewScheduler(store *Store, dispatcher Dispatcher, notifier Notifier, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		notifier:   notifier,
		interval:   interval,
		cron:       gronx.New(),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass under the tick watchdog. An overrunning
// dispatch logs and keeps going; the watchdog bounds this pass only, it
// never cancels work already handed to the orchestrator.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.store.Enabled() {
		return
	}

	tickCtx, cancel := context.WithTimeout(ctx, tickWatchdog)
	defer cancel()

	start := time.Now()
	if err := s.tickOnce(tickCtx); err != nil {
		if tickCtx.Err() != nil {
			slog.Warn("scheduler tick overran watchdog", "elapsed", time.Since(start))
		} else {
			slog.Error("scheduler tick failed", "error", err)
		}
	}
}

func (s *Scheduler) tickOnce(ctx context.Context) error {
	goals := s.store.Goals()

	// First pending task across goals: oldest goal first, lowest order first.
	for _, g := range goals {
		if g.Status != GoalActive || !s.due(g) {
			continue
		}
		task, ok := firstPending(g)
		if !ok {
			continue
		}
		return s.dispatchTask(ctx, g, task)
	}

	// No pending tasks anywhere: ask for planning on the first goal with no
	// tasks at all.
	for _, g := range goals {
		if g.Status == GoalActive && len(g.Tasks) == 0 && s.due(g) {
			return s.dispatchPlanning(ctx, g)
		}
	}
	return nil
}

// due honors an optional cron cadence on the goal. No cadence means every
// tick is eligible.
func (s *Scheduler) due(g Goal) bool {
	if g.Cadence == "" {
		return true
	}
	ok, err := s.cron.IsDue(g.Cadence, time.Now())
	if err != nil {
		slog.Warn("invalid goal cadence, treating as always due", "goal", g.ID, "cadence", g.Cadence, "error", err)
		return true
	}
	return ok
}

func firstPending(g Goal) (Task, bool) {
	best := Task{}
	found := false
	for _, t := range g.Tasks {
		if t.Status != TaskPending {
			continue
		}
		if !found || t.Order < best.Order {
			best = t
			found = true
		}
	}
	return best, found
}

func (s *Scheduler) dispatchTask(ctx context.Context, g Goal, t Task) error {
	runID := sessions.NewRunID()
	kind := "GOAL_RUN"
	if t.GoalID == "" {
		kind = "TASK_RUN"
	}

	s.store.AppendDiary(DiaryEntry{
		GoalID: g.ID, TaskID: t.ID, RunID: runID, Kind: "run",
		Content: fmt.Sprintf("starting task %q", t.Title),
	})

	msg := bus.InboundMessage{
		ID:      "auto-" + runID,
		Channel: "auto",
		ChatID:  sessions.BuildAutoRunKey(g.ID, runID),
		Content: fmt.Sprintf("Work on the next task for goal %q: %s", g.Title, t.Title),
		Metadata: map[string]string{
			"autoMode": "true",
			"goalId":   g.ID,
			"taskId":   t.ID,
			"runKind":  kind,
			"runId":    runID,
		},
		Timestamp: time.Now(),
	}
	slog.Info("dispatching auto run", "goal", g.ID, "task", t.ID, "kind", kind, "run", runID)
	return s.dispatcher.ProcessMessage(ctx, msg)
}

func (s *Scheduler) dispatchPlanning(ctx context.Context, g Goal) error {
	runID := sessions.NewRunID()
	s.store.AppendDiary(DiaryEntry{
		GoalID: g.ID, RunID: runID, Kind: "run",
		Content: "requesting task planning",
	})

	msg := bus.InboundMessage{
		ID:      "auto-" + runID,
		Channel: "auto",
		ChatID:  sessions.BuildAutoRunKey(g.ID, runID),
		Content: fmt.Sprintf("Goal %q has no tasks yet. Break it down into concrete ordered tasks using the goal management tools.", g.Title),
		Metadata: map[string]string{
			"autoMode": "true",
			"goalId":   g.ID,
			"runKind":  "GOAL_RUN",
			"runId":    runID,
		},
		Timestamp: time.Now(),
	}
	slog.Info("dispatching planning run", "goal", g.ID, "run", runID)
	return s.dispatcher.ProcessMessage(ctx, msg)
}

// NotifyMilestone records and delivers a milestone event.
func (s *Scheduler) NotifyMilestone(goalID, text string) {
	s.store.AppendDiary(DiaryEntry{GoalID: goalID, Kind: "milestone", Content: text})
	target := s.store.NotifyTarget()
	if target == nil || s.notifier == nil {
		return
	}
	s.notifier.Notify(*target, text)
}
