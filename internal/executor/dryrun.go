package executor

import (
	"context"
	"strings"
	"sync"
)

// DryRunExecutor records commands instead of running them. Read-only commands
// are answered by Responses, keyed by "command arg1 arg2 ...".
type DryRunExecutor struct {
	mu        sync.Mutex
	Commands  []string
	Inputs    map[string]string
	Responses map[string]string
}

// NewDryRunExecutor creates a new dry run executor.
func NewDryRunExecutor() *DryRunExecutor {
	return &DryRunExecutor{
		Inputs:    make(map[string]string),
		Responses: make(map[string]string),
	}
}

// Run logs the command instead of executing it.
func (d *DryRunExecutor) Run(_ context.Context, command string, args ...string) error {
	d.record(command, args)
	return nil
}

// Output logs the command and returns the canned response, if any.
func (d *DryRunExecutor) Output(_ context.Context, command string, args ...string) (string, error) {
	line := d.record(command, args)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Responses[line], nil
}

// RunWithInput logs the command and keeps the stdin payload for inspection.
func (d *DryRunExecutor) RunWithInput(_ context.Context, input string, command string, args ...string) error {
	line := d.record(command, args)
	d.mu.Lock()
	d.Inputs[line] = input
	d.mu.Unlock()
	return nil
}

// Recorded returns a copy of the commands seen so far.
func (d *DryRunExecutor) Recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.Commands...)
}

func (d *DryRunExecutor) record(command string, args []string) string {
	line := strings.TrimSpace(command + " " + strings.Join(args, " "))
	d.mu.Lock()
	d.Commands = append(d.Commands, line)
	d.mu.Unlock()
	return line
}
