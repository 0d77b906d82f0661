package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/calder-ai/calder/internal/llm"
	"github.com/calder-ai/calder/internal/sessions"
	"github.com/calder-ai/calder/internal/turn"
)

// codeExtensions mark file-operation tool calls as code activity.
var codeExtensions = []string{
	".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".rs", ".java", ".c", ".cc",
	".cpp", ".h", ".rb", ".sh", ".sql", ".yaml", ".yml", ".toml",
}

var stackTraceRe = regexp.MustCompile(`(?m)^\s+at .+\(.+:\d+\)|goroutine \d+ \[|Traceback \(most recent call last\)`)

var codeCommandPrefixes = []string{
	"go ", "npm ", "pip ", "cargo ", "make", "pytest", "git diff", "git log",
}

// DynamicTier upgrades the model tier to coding when recent history shows
// code activity and the user has not locked a tier.
type DynamicTier struct {
	Sessions     *sessions.Store
	RecentWindow int // messages inspected, default 10
}

func (DynamicTier) Name() string { return "dynamic_tier" }
func (DynamicTier) Order() int   { return OrderDynamicTier }

func (DynamicTier) ShouldProcess(tc *turn.Context) bool {
	return !tc.TierLocked && tc.UserModel == "" && tc.ModelTier != llm.TierCoding
}

func (d DynamicTier) Process(ctx context.Context, tc *turn.Context) error {
	window := d.RecentWindow
	if window <= 0 {
		window = 10
	}
	history := d.Sessions.History(tc.SessionKey)
	if len(history) > window {
		history = history[len(history)-window:]
	}

	if codeActivity(history) || codeActivityInText(tc.Inbound.Content) {
		tc.ModelTier = llm.TierCoding
	}
	return nil
}

func codeActivity(msgs []llm.Message) bool {
	for _, m := range msgs {
		for _, call := range m.ToolCalls {
			if path, ok := call.Arguments["path"].(string); ok && hasCodeExtension(path) {
				return true
			}
			if cmd, ok := call.Arguments["command"].(string); ok && isCodeCommand(cmd) {
				return true
			}
		}
		if m.Role == llm.RoleTool && stackTraceRe.MatchString(m.Content) {
			return true
		}
	}
	return false
}

func codeActivityInText(text string) bool {
	return strings.Contains(text, "```") || stackTraceRe.MatchString(text)
}

func hasCodeExtension(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range codeExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func isCodeCommand(cmd string) bool {
	trimmed := strings.TrimSpace(cmd)
	for _, p := range codeCommandPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}
