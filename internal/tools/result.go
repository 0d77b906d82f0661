// Package tools defines the tool contract, the registry the loop resolves
// against, and the executor that enforces timeouts and confirmation.
package tools

import "fmt"

// FailureKind classifies a failed tool execution. Carried on the result,
// never inferred from error strings.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureConfirmationDenied FailureKind = "confirmation_denied"
	FailurePolicyDenied       FailureKind = "policy_denied"
	FailureExecutionFailed    FailureKind = "execution_failed"
)

// Result is the outcome of one tool execution.
type Result struct {
	Success     bool        `json:"success"`
	Output      string      `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
}

// Text returns what goes into the tool result message.
func (r Result) Text() string {
	if r.Success {
		return r.Output
	}
	if r.Error != "" {
		return "Error: " + r.Error
	}
	return "Error: tool failed"
}

func Success(output string) Result {
	return Result{Success: true, Output: output}
}

func Successf(format string, args ...any) Result {
	return Success(fmt.Sprintf(format, args...))
}

func Failure(kind FailureKind, msg string) Result {
	return Result{Success: false, Error: msg, FailureKind: kind}
}

func ExecutionError(err error) Result {
	return Result{Success: false, Error: err.Error(), FailureKind: FailureExecutionFailed}
}
