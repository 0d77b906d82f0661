package pipeline

import (
	"context"
	"strings"

	"github.com/calder-ai/calder/internal/skills"
	"github.com/calder-ai/calder/internal/turn"
)

// SkillRouting selects the active skill for the turn. Only explicit
// `/skill <name>` requests route; there is no implicit content matching.
// Auto-mode turns never route through skills.
type SkillRouting struct {
	Skills *skills.Manager
}

func (SkillRouting) Name() string { return "skill_routing" }
func (SkillRouting) Order() int   { return OrderSkillRouting }

func (s SkillRouting) ShouldProcess(tc *turn.Context) bool {
	return !tc.AutoMode && s.Skills != nil
}

func (s SkillRouting) Process(ctx context.Context, tc *turn.Context) error {
	content := strings.TrimSpace(tc.Inbound.Content)
	if !strings.HasPrefix(content, "/skill ") {
		return nil
	}

	name := strings.TrimSpace(strings.TrimPrefix(content, "/skill "))
	rest := ""
	if idx := strings.IndexAny(name, " \n"); idx >= 0 {
		rest = strings.TrimSpace(name[idx:])
		name = name[:idx]
	}

	skill, ok := s.Skills.Get(name)
	if !ok {
		return nil // unknown skill name stays part of the message
	}

	tc.ActiveSkill = skill.Name
	if rest != "" {
		tc.Inbound.Content = rest
	} else {
		// Bare skill switch: the transition is control flow, not a question.
		tc.SkillTransitionRequest = true
		tc.Inbound.Content = "Skill activated: " + skill.Name
	}
	return nil
}
