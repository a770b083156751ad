package agentlink

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tinkerbelle-io/fleetmend/internal/executor"
	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
)

// Remote executes command batches on hosts through their dialed-in agent.
// A host without a live link is an environment error, so the queue retries
// the run instead of dead-lettering it on the first pass.
type Remote struct {
	hub            *Hub
	commandTimeout time.Duration
}

// NewRemote builds an executor over the hub. timeout bounds one command;
// zero means the package default.
func NewRemote(hub *Hub, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = executor.DefaultCommandTimeout
	}
	return &Remote{hub: hub, commandTimeout: timeout}
}

// Execute pushes the batch to the host's agent and waits for the result.
func (r *Remote) Execute(ctx context.Context, host hostdir.Host, commands []string) (*executor.Result, error) {
	for _, command := range commands {
		if blocked, reason := executor.IsCommandBlocked(command); blocked {
			return &executor.Result{
				OK:    false,
				Error: fmt.Sprintf("command blocked: %s", reason),
				PerCommand: []executor.CommandOutput{{
					Command: command, ExitCode: -1, Error: "blocked: " + reason,
				}},
			}, nil
		}
	}

	conn := r.hub.get(host.ID)
	if conn == nil {
		return nil, fmt.Errorf("agentlink: no agent connected for host %s", host.ID)
	}

	req := execRequest{
		Type:           "exec",
		ID:             uuid.NewString(),
		Commands:       commands,
		TimeoutSeconds: r.commandTimeout.Seconds(),
	}
	ch, err := conn.send(req)
	if err != nil {
		return nil, fmt.Errorf("agentlink: %w", err)
	}

	// The agent enforces the per-command timeout; the batch deadline here is
	// the backstop for a wedged or vanished agent.
	deadline := time.Duration(len(commands)+1) * r.commandTimeout
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case resp := <-ch:
		result := resp.Result
		return &result, nil
	case <-timer.C:
		conn.drop(req.ID)
		return nil, fmt.Errorf("agentlink: host %s timed out after %s", host.ID, deadline)
	case <-ctx.Done():
		conn.drop(req.ID)
		return nil, fmt.Errorf("agentlink: host %s: %w", host.ID, ctx.Err())
	}
}
