package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/calder-ai/calder/internal/auto"
	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/memory"
	"github.com/calder-ai/calder/internal/rag"
	"github.com/calder-ai/calder/internal/skills"
	"github.com/calder-ai/calder/internal/turn"
)

// ContextBuilding assembles the system prompt: base persona, active skill
// prompt, the ranked memory pack, optional RAG context, and goal/task/diary
// context for auto-mode turns. It also sets the model tier.
type ContextBuilding struct {
	BasePrompt string
	Memory     *memory.Store
	Skills     *skills.Manager
	Auto       *auto.Store
	Rag        rag.Port // nil when disabled

	MemorySoftBudget int // tokens, default 600
	MemoryHardBudget int // tokens, default 1200
	DefaultTier      llm.Tier
}

func (ContextBuilding) Name() string                     { return "context_building" }
func (ContextBuilding) Order() int                       { return OrderContextBuilding }
func (ContextBuilding) ShouldProcess(*turn.Context) bool { return true }

func (c ContextBuilding) Process(ctx context.Context, tc *turn.Context) error {
	var sections []string
	if c.BasePrompt != "" {
		sections = append(sections, c.BasePrompt)
	}

	if tc.ActiveSkill != "" && c.Skills != nil {
		if skill, ok := c.Skills.Get(tc.ActiveSkill); ok {
			sections = append(sections, "## Active skill: "+skill.Name+"\n"+skill.Prompt)
			if tc.ModelTier == "" && skill.Tier != "" {
				tc.ModelTier = llm.Tier(skill.Tier)
			}
		}
	}

	if tc.ModelTier == "" {
		tc.ModelTier = c.DefaultTier
	}
	if tc.ModelTier == "" {
		tc.ModelTier = llm.TierBalanced
	}

	if c.Memory != nil {
		pack, ids := c.buildMemoryPack(tc)
		if pack != "" {
			sections = append(sections, "## Relevant memory\n"+pack)
			tc.MemoryPackIDs = ids
			c.Memory.Touch(ids)
		}
	}

	if c.Rag != nil && !tc.AutoMode {
		ragCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		result, err := c.Rag.Query(ragCtx, tc.Inbound.Content, "context")
		cancel()
		if err != nil {
			slog.Warn("rag query failed", "error", err)
		} else if strings.TrimSpace(result) != "" {
			sections = append(sections, "## Retrieved context\n"+result)
		}
	}

	if tc.AutoMode && c.Auto != nil {
		if sec := c.buildAutoSection(tc); sec != "" {
			sections = append(sections, sec)
		}
	}

	tc.SystemPrompt = strings.Join(sections, "\n\n")
	return nil
}

// buildMemoryPack retrieves with the scope chain matching the turn kind.
// GOAL_RUN: task > goal > session > global. TASK_RUN: task > session >
// global. Normal turns: session > global.
func (c ContextBuilding) buildMemoryPack(tc *turn.Context) (string, []string) {
	var scopes []string
	switch {
	case tc.AutoMode && tc.RunKind == turn.RunGoal:
		if tc.TaskID != "" {
			scopes = append(scopes, memory.ScopeTask(tc.TaskID))
		}
		scopes = append(scopes,
			memory.ScopeGoal(tc.GoalID),
			memory.ScopeSession(tc.SessionKey),
			memory.ScopeGlobal())
	case tc.AutoMode:
		if tc.TaskID != "" {
			scopes = append(scopes, memory.ScopeTask(tc.TaskID))
		}
		scopes = append(scopes, memory.ScopeSession(tc.SessionKey), memory.ScopeGlobal())
	default:
		scopes = append(scopes, memory.ScopeSession(tc.SessionKey), memory.ScopeGlobal())
	}

	items := c.Memory.Retrieve(memory.Query{Scopes: scopes, Limit: 50})
	soft, hard := c.MemorySoftBudget, c.MemoryHardBudget
	if hard <= 0 {
		hard = 1200
	}
	if soft <= 0 {
		soft = 600
	}
	return memory.Pack(items, soft, hard)
}

func (c ContextBuilding) buildAutoSection(tc *turn.Context) string {
	var sb strings.Builder
	sb.WriteString("## Autonomous run\n")
	if g, ok := c.Auto.Goal(tc.GoalID); ok {
		fmt.Fprintf(&sb, "Goal: %s (%s)\n", g.Title, g.Status)
		for _, t := range g.Tasks {
			marker := " "
			if t.ID == tc.TaskID {
				marker = ">"
			}
			fmt.Fprintf(&sb, "%s %d. [%s] %s\n", marker, t.Order, t.Status, t.Title)
		}
	}
	if entries := c.Auto.RecentDiary(2, 10); len(entries) > 0 {
		sb.WriteString("Recent diary:\n")
		for _, e := range entries {
			fmt.Fprintf(&sb, "- %s %s: %s\n", e.At.Format("01-02 15:04"), e.Kind, e.Content)
		}
	}
	return sb.String()
}
