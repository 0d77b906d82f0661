package pipeline

import (
	"context"
	"fmt"

	"github.com/calder-ai/calder/internal/compaction"
	"github.com/calder-ai/calder/internal/sessions"
	"github.com/calder-ai/calder/internal/turn"
)

// AutoCompaction shrinks the session history before context building when
// the token estimate exceeds the budget.
type AutoCompaction struct {
	Sessions  *sessions.Store
	Compactor *compaction.Compactor
}

func (AutoCompaction) Name() string                      { return "auto_compaction" }
func (AutoCompaction) Order() int                        { return OrderAutoCompaction }
func (AutoCompaction) ShouldProcess(*turn.Context) bool  { return true }

func (a AutoCompaction) Process(ctx context.Context, tc *turn.Context) error {
	history := a.Sessions.History(tc.SessionKey)
	if !a.Compactor.NeedsCompaction(history) {
		return nil
	}

	tc.Emit(turn.EventCompactionStarted, map[string]any{"messages": len(history)})

	compacted, report, err := a.Compactor.Compact(ctx, history, "context_budget")
	if err != nil {
		return fmt.Errorf("compact session %s: %w", tc.SessionKey, err)
	}
	if report == nil {
		return nil
	}

	a.Sessions.ReplaceHistory(tc.SessionKey, compacted)
	a.Sessions.Update(tc.SessionKey, func(s *sessions.Session) { s.CompactionCount++ })
	if err := a.Sessions.Save(tc.SessionKey); err != nil {
		return fmt.Errorf("persist compacted session: %w", err)
	}

	tc.Emit(turn.EventCompactionFinished, map[string]any{
		"schema_version":      report.SchemaVersion,
		"reason":              report.Reason,
		"summarized_count":    report.SummarizedCount,
		"kept_count":          report.KeptCount,
		"used_llm_summary":    report.UsedLlmSummary,
		"split_turn_detected": report.SplitTurnDetected,
		"fallback_used":       report.FallbackUsed,
		"duration_ms":         report.DurationMs,
		"tool_names":          report.ToolNames,
	})
	return nil
}
