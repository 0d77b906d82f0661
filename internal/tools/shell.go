package tools

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"

	"github.com/calder-ai/calder/internal/llm"
)

// Command patterns denied before the confirmation prompt ever fires. These
// cover destructive filesystem operations, privilege escalation, reverse
// shell primitives, and secret dumping.
var execDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\brm\s+.*--(recursive|force)`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`/dev/tcp/`),
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-`),
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`\bcrontab\b`),
	regexp.MustCompile(`^\s*env\s*($|\||>)`),
	regexp.MustCompile(`\bprintenv\b`),
}

type execArgs struct {
	Command    string `json:"command" jsonschema:"description=The shell command to execute,required"`
	WorkingDir string `json:"working_dir" jsonschema:"description=Optional working directory relative to the workspace"`
}

// ExecTool runs shell commands inside the workspace. Execution requires
// per-call confirmation unless the tool is constructed unattended.
type ExecTool struct {
	workspace string
	restrict  bool
	confirm   bool
}

func NewExecTool(workspace string, restrict, confirm bool) *ExecTool {
	return &ExecTool{workspace: workspace, restrict: restrict, confirm: confirm}
}

func (t *ExecTool) RequiresConfirmation() bool { return t.confirm }

func (t *ExecTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "exec",
		Description: "Execute a shell command and return its output",
		Parameters:  SchemaFor(execArgs{}),
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) Result {
	command := String(args, "command")
	if command == "" {
		return Failure(FailureExecutionFailed, "command is required")
	}
	for _, pattern := range execDenyPatterns {
		if pattern.MatchString(command) {
			return Failure(FailurePolicyDenied, "command denied by safety policy")
		}
	}

	cwd := t.workspace
	if wd := String(args, "working_dir"); wd != "" {
		ft := &FileTools{workspace: t.workspace, restrict: t.restrict}
		resolved, err := ft.resolve(wd, true)
		if err != nil {
			return ExecutionError(err)
		}
		cwd = resolved
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	out := stdout.String()
	if stderr.Len() > 0 {
		if out != "" {
			out += "\n"
		}
		out += "STDERR:\n" + stderr.String()
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Failure(FailureExecutionFailed, "command timed out")
		}
		if out == "" {
			out = err.Error()
		}
		return Failure(FailureExecutionFailed, out)
	}
	if out == "" {
		out = "(command completed with no output)"
	}
	return Success(out)
}
