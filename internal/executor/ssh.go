package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
)

// SSH executes command batches on remote hosts over SSH, reusing one
// connection per host across commands.
type SSH struct {
	user   string
	port   string
	limits Limits
	log    *slog.Logger

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// NewSSH builds an SSH executor that connects as user on the given port.
func NewSSH(user, port string, limits Limits) *SSH {
	if port == "" {
		port = "22"
	}
	return &SSH{
		user:    user,
		port:    port,
		limits:  limits.withDefaults(),
		log:     slog.Default().With("component", "ssh-executor"),
		clients: make(map[string]*ssh.Client),
	}
}

// Execute runs each command in order on the remote host, stopping at the
// first failure. Connection failures are environment errors; command
// failures and timeouts land in the result.
func (e *SSH) Execute(ctx context.Context, host hostdir.Host, commands []string) (*Result, error) {
	addr := host.Address
	if addr == "" {
		addr = host.ID
	}

	client, err := e.client(addr)
	if err != nil {
		return nil, fmt.Errorf("ssh connect %s: %w", addr, err)
	}

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

		out := e.runOne(ctx, client, command)
		res.PerCommand = append(res.PerCommand, out)
		if out.Error != "" {
			res.OK = false
			res.Error = fmt.Sprintf("command %q failed: %s", command, out.Error)
			return res, nil
		}
	}
	return res, nil
}

func (e *SSH) runOne(ctx context.Context, client *ssh.Client, command string) CommandOutput {
	out := CommandOutput{Command: command}

	session, err := client.NewSession()
	if err != nil {
		out.ExitCode = -1
		out.Error = fmt.Sprintf("ssh session: %v", err)
		return out
	}
	defer session.Close()

	cmdCtx, cancel := context.WithTimeout(ctx, e.limits.CommandTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-cmdCtx.Done():
			session.Signal(ssh.SIGTERM)
			session.Close()
		case <-done:
		}
	}()

	raw, err := session.CombinedOutput(command)
	close(done)

	out.Output = truncate(raw, e.limits.MaxOutputBytes)
	if cmdCtx.Err() == context.DeadlineExceeded {
		out.ExitCode = -1
		out.Error = fmt.Sprintf("timeout after %s", e.limits.CommandTimeout)
		return out
	}
	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			out.ExitCode = exitErr.ExitStatus()
		} else {
			out.ExitCode = -1
		}
		out.Error = err.Error()
	}
	return out
}

// client returns a cached connection to addr, dialing on first use.
func (e *SSH) client(addr string) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if client, ok := e.clients[addr]; ok {
		return client, nil
	}

	config, err := buildClientConfig(e.user)
	if err != nil {
		return nil, err
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(addr, e.port), config)
	if err != nil {
		return nil, err
	}
	e.clients[addr] = client
	return client, nil
}

// Close drops all cached connections.
func (e *SSH) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for addr, client := range e.clients {
		client.Close()
		delete(e.clients, addr)
	}
	return nil
}

// buildClientConfig prefers the SSH agent, falling back to default key
// files, with known_hosts verification when available.
func buildClientConfig(user string) (*ssh.ClientConfig, error) {
	var signers []ssh.Signer

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			if agentSigners, err := agent.NewClient(conn).Signers(); err == nil {
				signers = append(signers, agentSigners...)
			}
		}
	}

	home, _ := os.UserHomeDir()
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		data, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		return nil, fmt.Errorf("no SSH keys available (no agent and no key files found)")
	}

	var hostKeyCallback ssh.HostKeyCallback
	if cb, err := knownhosts.New(filepath.Join(home, ".ssh", "known_hosts")); err == nil {
		hostKeyCallback = cb
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signers...)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	}, nil
}
