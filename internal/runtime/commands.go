package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calder-ai/calder/internal/bus"
	"github.com/calder-ai/calder/internal/sessions"
)

// handleCommand intercepts control messages before they become turns.
// Returns true when the message was consumed.
func (o *Orchestrator) handleCommand(ctx context.Context, id sessions.Identity, msg bus.InboundMessage) bool {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "/") {
		return false
	}

	fields := strings.Fields(content)
	switch fields[0] {
	case "/stop":
		key := o.router.Resolve(id).Key
		if o.Stop(key) {
			o.reply(ctx, id, "Stopping the current turn.")
		} else {
			o.reply(ctx, id, "Nothing is running.")
		}
		return true

	case "/sessions":
		o.handleSessions(ctx, id, fields[1:])
		return true

	case "/plan":
		o.handlePlan(ctx, id, fields[1:])
		return true
	}
	return false
}

func (o *Orchestrator) handleSessions(ctx context.Context, id sessions.Identity, args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		infos := o.store.List(id.Channel)
		if len(infos) == 0 {
			o.reply(ctx, id, "No sessions yet.")
			return
		}
		active := o.router.Resolve(id).Key
		var sb strings.Builder
		sb.WriteString("Sessions:\n")
		for _, info := range infos {
			marker := "  "
			if info.Key == active {
				marker = "* "
			}
			fmt.Fprintf(&sb, "%s%s (%d messages)\n", marker, info.Key, info.MessageCount)
		}
		o.reply(ctx, id, sb.String())

	case "switch", "new":
		if len(args) < 2 {
			o.reply(ctx, id, fmt.Sprintf("Usage: /sessions %s <name>", args[0]))
			return
		}
		sess, err := o.router.Switch(id, args[1])
		if err != nil {
			o.reply(ctx, id, "Could not switch session: "+err.Error())
			return
		}
		o.reply(ctx, id, fmt.Sprintf("Now talking in %s (%d messages).", sess.Key, len(sess.Messages)))

	case "default":
		sess, err := o.router.SwitchDefault(id)
		if err != nil {
			o.reply(ctx, id, "Could not switch session: "+err.Error())
			return
		}
		o.reply(ctx, id, fmt.Sprintf("Back to the default session (%d messages).", len(sess.Messages)))

	case "delete":
		key := o.router.Resolve(id).Key
		if err := o.store.Delete(key); err != nil {
			o.reply(ctx, id, "Delete failed: "+err.Error())
			return
		}
		// Repoint to the most recent remaining session for this peer, or
		// fall back to a fresh default.
		next, err := o.router.Repoint(id)
		if err != nil {
			slog.Warn("repoint after delete failed", "error", err)
			o.reply(ctx, id, "Session deleted.")
			return
		}
		o.reply(ctx, id, fmt.Sprintf("Session deleted. Now talking in %s.", next.Key))

	default:
		o.reply(ctx, id, "Usage: /sessions [list|switch <name>|new <name>|default|delete]")
	}
}

func (o *Orchestrator) handlePlan(ctx context.Context, id sessions.Identity, args []string) {
	if o.plans == nil {
		o.reply(ctx, id, "Plan mode is not available.")
		return
	}
	key := o.router.Resolve(id).Key

	if len(args) == 0 {
		args = []string{"start"}
	}
	switch args[0] {
	case "start":
		p, err := o.plans.Start(key)
		if err != nil {
			o.reply(ctx, id, "Could not start plan mode: "+err.Error())
			return
		}
		o.store.Update(key, func(s *sessions.Session) {
			s.PlanMode = true
			s.PlanID = p.ID
		})
		o.saveQuiet(key)
		o.reply(ctx, id, "Plan mode on. I will collect steps instead of executing them. Approve with /plan approve.")

	case "show":
		p, ok := o.plans.Active(key)
		if !ok {
			o.reply(ctx, id, "No active plan.")
			return
		}
		o.reply(ctx, id, o.plans.Render(p))

	case "approve":
		p, ok := o.plans.Active(key)
		if !ok {
			o.reply(ctx, id, "No active plan.")
			return
		}
		if err := o.plans.Approve(p.ID); err != nil {
			o.reply(ctx, id, "Cannot approve: "+err.Error())
			return
		}
		o.exitPlanMode(key)
		done, err := o.plans.Execute(ctx, p.ID)
		if err != nil {
			o.reply(ctx, id, "Plan execution failed: "+err.Error())
			return
		}
		o.reply(ctx, id, fmt.Sprintf("Plan %s.\n%s", done.Status, o.plans.Render(done)))

	case "cancel":
		p, ok := o.plans.Active(key)
		if !ok {
			o.reply(ctx, id, "No active plan.")
			return
		}
		if err := o.plans.Cancel(p.ID); err != nil {
			o.reply(ctx, id, "Cancel failed: "+err.Error())
			return
		}
		o.exitPlanMode(key)
		o.reply(ctx, id, "Plan cancelled.")

	default:
		o.reply(ctx, id, "Usage: /plan [start|show|approve|cancel]")
	}
}

func (o *Orchestrator) exitPlanMode(key string) {
	o.store.Update(key, func(s *sessions.Session) {
		s.PlanMode = false
		s.PlanID = ""
	})
	o.saveQuiet(key)
}

func (o *Orchestrator) saveQuiet(key string) {
	if err := o.store.Save(key); err != nil {
		slog.Warn("session save failed", "session", key, "error", err)
	}
}

func (o *Orchestrator) reply(ctx context.Context, id sessions.Identity, text string) {
	if o.channels == nil {
		return
	}
	if err := o.channels.SendMessage(ctx, id.Channel, id.ChatID, text); err != nil {
		slog.Warn("command reply failed", "channel", id.Channel, "error", err)
	}
}
