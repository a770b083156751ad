// Package executor runs a remediation action's command list against a host.
// Implementations enforce a per-command timeout and an output-size cap, and
// report command failure in the result — an error return is reserved for
// environment and setup problems (unreachable host, bad config).
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
)

// Defaults applied when a limit is unset.
const (
	DefaultCommandTimeout = 60 * time.Second
	DefaultMaxOutputBytes = 64 * 1024
)

// CommandOutput is the outcome of one command in a batch.
type CommandOutput struct {
	Command  string `json:"command"`
	Output   string `json:"output,omitempty"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// Result is the outcome of executing a command batch on one host.
type Result struct {
	OK         bool            `json:"ok"`
	PerCommand []CommandOutput `json:"per_command"`
	Error      string          `json:"error,omitempty"`
}

// Executor executes a command batch against a host.
type Executor interface {
	Execute(ctx context.Context, host hostdir.Host, commands []string) (*Result, error)
}

// Limits bound a single command's execution.
type Limits struct {
	CommandTimeout time.Duration
	MaxOutputBytes int
}

func (l Limits) withDefaults() Limits {
	if l.CommandTimeout <= 0 {
		l.CommandTimeout = DefaultCommandTimeout
	}
	if l.MaxOutputBytes <= 0 {
		l.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return l
}

// truncate caps output at max bytes, marking the cut.
func truncate(out []byte, max int) string {
	if len(out) <= max {
		return string(out)
	}
	return string(out[:max]) + "\n[output truncated]"
}

// Local executes commands on the orchestrator's own host via sh -c.
// Used for the loopback probe host and in development.
type Local struct {
	limits Limits
}

// NewLocal builds a local executor.
func NewLocal(limits Limits) *Local {
	return &Local{limits: limits.withDefaults()}
}

// Execute runs each command in order, stopping at the first failure.
// A timeout is a normal command failure, not an error.
func (e *Local) Execute(ctx context.Context, host hostdir.Host, commands []string) (*Result, error) {
	res := &Result{OK: true}
	for _, command := range commands {
		if blocked, reason := IsCommandBlocked(command); blocked {
			res.OK = false
			res.PerCommand = append(res.PerCommand, CommandOutput{
				Command: command, ExitCode: -1, Error: "blocked: " + reason,
			})
			res.Error = fmt.Sprintf("command blocked: %s", reason)
			return res, nil
		}

		cmdCtx, cancel := context.WithTimeout(ctx, e.limits.CommandTimeout)
		cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
		var buf bytes.Buffer
		cmd.Stdout = &buf
		cmd.Stderr = &buf
		err := cmd.Run()
		cancel()

		out := CommandOutput{
			Command: command,
			Output:  truncate(buf.Bytes(), e.limits.MaxOutputBytes),
		}
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				out.ExitCode = exitErr.ExitCode()
			} else {
				out.ExitCode = -1
			}
			if cmdCtx.Err() == context.DeadlineExceeded {
				out.Error = fmt.Sprintf("timeout after %s", e.limits.CommandTimeout)
			} else {
				out.Error = err.Error()
			}
			res.PerCommand = append(res.PerCommand, out)
			res.OK = false
			res.Error = fmt.Sprintf("command %q failed: %s", command, out.Error)
			return res, nil
		}
		res.PerCommand = append(res.PerCommand, out)
	}
	return res, nil
}
