package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Executor abstracts command execution for ip, nft, sysctl and systemctl interactions.
type Executor interface {
	Run(ctx context.Context, command string, args ...string) error
	Output(ctx context.Context, command string, args ...string) (string, error)
	RunWithInput(ctx context.Context, input string, command string, args ...string) error
}

// CommandError captures detailed failure information from command execution.
type CommandError struct {
	Command string
	Args    []string
	Output  string
	Err     error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	joined := strings.Join(e.Args, " ")
	if e.Output != "" {
		return fmt.Sprintf("command %s %s failed: %v: %s", e.Command, joined, e.Err, strings.TrimSpace(e.Output))
	}
	return fmt.Sprintf("command %s %s failed: %v", e.Command, joined, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As checks.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode reports the process exit code carried by err, if any.
func ExitCode(err error) (int, bool) {
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}

// IsNotFound reports whether err is the failure ip(8) returns when deleting
// a rule or route that does not exist.
func IsNotFound(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	out := strings.ToLower(cmdErr.Output)
	if strings.Contains(out, "no such file or directory") || strings.Contains(out, "no such process") {
		return true
	}
	code, ok := ExitCode(cmdErr.Err)
	return ok && code == 2 && out == ""
}

// RealExecutor executes commands on the host system.
type RealExecutor struct{}

// NewExecutor constructs a RealExecutor instance.
func NewExecutor() Executor {
	return &RealExecutor{}
}

// Run executes the provided command and returns detailed errors when it fails.
func (r *RealExecutor) Run(ctx context.Context, command string, args ...string) error {
	_, err := r.Output(ctx, command, args...)
	return err
}

// Output executes the command and returns its combined output.
func (r *RealExecutor) Output(ctx context.Context, command string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", &CommandError{
			Command: command,
			Args:    append([]string(nil), args...),
			Output:  string(output),
			Err:     err,
		}
	}
	return string(output), nil
}

// RunWithInput executes the command with input attached to stdin.
func (r *RealExecutor) RunWithInput(ctx context.Context, input string, command string, args ...string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdin = strings.NewReader(input)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &CommandError{
			Command: command,
			Args:    append([]string(nil), args...),
			Output:  string(output),
			Err:     err,
		}
	}
	return nil
}
