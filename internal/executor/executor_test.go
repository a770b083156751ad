package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
)

func TestLocalExecuteSuccess(t *testing.T) {
	e := NewLocal(Limits{})
	res, err := e.Execute(context.Background(), hostdir.Host{ID: "local"}, []string{"echo one", "echo two"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("expected success: %+v", res)
	}
	if len(res.PerCommand) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(res.PerCommand))
	}
	if strings.TrimSpace(res.PerCommand[0].Output) != "one" {
		t.Errorf("unexpected output %q", res.PerCommand[0].Output)
	}
}

func TestLocalExecuteStopsAtFirstFailure(t *testing.T) {
	e := NewLocal(Limits{})
	res, err := e.Execute(context.Background(), hostdir.Host{ID: "local"}, []string{"false", "echo never"})
	if err != nil {
		t.Fatalf("command failure must not be an error: %v", err)
	}
	if res.OK {
		t.Fatal("expected failure result")
	}
	if len(res.PerCommand) != 1 {
		t.Errorf("should stop after first failure, got %d outputs", len(res.PerCommand))
	}
	if res.PerCommand[0].ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", res.PerCommand[0].ExitCode)
	}
	if res.Error == "" {
		t.Error("failure result should carry an error message")
	}
}

func TestLocalExecuteTimeout(t *testing.T) {
	e := NewLocal(Limits{CommandTimeout: 100 * time.Millisecond})
	res, err := e.Execute(context.Background(), hostdir.Host{ID: "local"}, []string{"sleep 5"})
	if err != nil {
		t.Fatalf("timeout must be a normal failure, not an error: %v", err)
	}
	if res.OK {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(res.PerCommand[0].Error, "timeout") {
		t.Errorf("expected timeout marker, got %q", res.PerCommand[0].Error)
	}
}

func TestLocalExecuteOutputCap(t *testing.T) {
	e := NewLocal(Limits{MaxOutputBytes: 32})
	res, err := e.Execute(context.Background(), hostdir.Host{ID: "local"}, []string{"yes x | head -n 1000"})
	if err != nil {
		t.Fatal(err)
	}
	out := res.PerCommand[0].Output
	if len(out) > 32+len("\n[output truncated]") {
		t.Errorf("output not capped: %d bytes", len(out))
	}
	if !strings.Contains(out, "[output truncated]") {
		t.Error("truncation marker missing")
	}
}

func TestLocalExecuteBlocksDestructiveCommands(t *testing.T) {
	e := NewLocal(Limits{})
	res, err := e.Execute(context.Background(), hostdir.Host{ID: "local"}, []string{"rm -rf /"})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("destructive command must be blocked")
	}
	if !strings.Contains(res.PerCommand[0].Error, "blocked") {
		t.Errorf("expected blocked marker, got %q", res.PerCommand[0].Error)
	}
}

func TestIsCommandBlocked(t *testing.T) {
	blockedCases := []string{
		"rm -rf /",
		"rm -rf   /",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"echo junk > /dev/sda",
		"shutdown -h now",
		"poweroff",
	}
	for _, cmd := range blockedCases {
		if blocked, _ := IsCommandBlocked(cmd); !blocked {
			t.Errorf("%q should be blocked", cmd)
		}
	}

	allowedCases := []string{
		"systemctl restart nginx",
		"rm -f /var/run/app.pid",
		"rm -rf /tmp/incident-work",
		"kill -9 1234",
		"iptables -A INPUT -s 10.0.0.5 -j DROP",
		"usermod -L baduser",
	}
	for _, cmd := range allowedCases {
		if blocked, reason := IsCommandBlocked(cmd); blocked {
			t.Errorf("%q should be allowed, blocked for %q", cmd, reason)
		}
	}
}
