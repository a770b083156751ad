package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tinkerbelle-io/fleetmend/internal/policy"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ExecutorMode != ExecModeLocal {
		t.Errorf("executor = %q, want local default", cfg.ExecutorMode)
	}
	if cfg.DefaultMaxAttempts != 3 || cfg.RetryBaseSeconds != 15 || cfg.RetryCapSeconds != 900 {
		t.Errorf("retry defaults wrong: %+v", cfg)
	}
	if cfg.Threshold() != policy.RiskHigh {
		t.Errorf("threshold = %q", cfg.Threshold())
	}
	if cfg.AutoTier() != policy.TierSafeAuto {
		t.Errorf("max auto tier = %q", cfg.AutoTier())
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetmend.yaml")
	body := `
db_path: /var/lib/fleetmend/queue.db
executor_mode: ssh
ssh_user: remediate
approval_threshold: medium
hard_max_hosts: 50
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/var/lib/fleetmend/queue.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
	if cfg.ExecutorMode != ExecModeSSH || cfg.SSHUser != "remediate" {
		t.Errorf("ssh settings not applied: %+v", cfg)
	}
	if cfg.Threshold() != policy.RiskMedium {
		t.Errorf("threshold = %q, want medium", cfg.Threshold())
	}
	if cfg.HardMaxHosts != 50 {
		t.Errorf("hard_max_hosts = %d", cfg.HardMaxHosts)
	}
	// Unset keys keep their defaults.
	if cfg.DrainLimit != 10 {
		t.Errorf("drain_limit = %d, want default 10", cfg.DrainLimit)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetmend.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9000\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FLEETMEND_LISTEN_ADDR", ":9999")
	t.Setenv("FLEETMEND_MAX_ATTEMPTS", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("listen_addr = %q, env must win over file", cfg.ListenAddr)
	}
	if cfg.DefaultMaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", cfg.DefaultMaxAttempts)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "fleetmend.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
}

func TestValidationRejectsUnknownExecutor(t *testing.T) {
	t.Setenv("FLEETMEND_EXECUTOR", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error for an unknown executor mode")
	}
}
