// Package config handles configuration for fleetmend. Values come from an
// optional YAML file, overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tinkerbelle-io/fleetmend/internal/policy"
)

// Executor modes.
const (
	ExecModeLocal = "local"
	ExecModeSSH   = "ssh"
	ExecModeAgent = "agent"
)

// Config holds all fleetmend configuration.
type Config struct {
	// Storage and inputs.
	DBPath        string `yaml:"db_path"`
	AuditLogPath  string `yaml:"audit_log_path"`
	CatalogPath   string `yaml:"catalog_path"`
	InventoryPath string `yaml:"inventory_path"`

	// Host directory source: "static" reads InventoryPath, "k8s" lists
	// cluster nodes.
	DirectorySource string `yaml:"directory_source"`
	Kubeconfig      string `yaml:"kubeconfig"`

	// Queue policy.
	DefaultMaxAttempts int     `yaml:"default_max_attempts"`
	RetryBaseSeconds   float64 `yaml:"retry_base_seconds"`
	RetryCapSeconds    float64 `yaml:"retry_cap_seconds"`
	ApprovalThreshold  string  `yaml:"approval_threshold"`

	// Autonomy policy.
	MaxAutoTier       string `yaml:"max_auto_tier"`
	BaseCanaryPercent int    `yaml:"base_canary_percent"`

	// Rollout hard caps.
	HardMaxHosts    int `yaml:"hard_max_hosts"`
	HardMaxPerGroup int `yaml:"hard_max_per_group"`
	HardMaxPercent  int `yaml:"hard_max_percent"`

	// Execution.
	ExecutorMode          string `yaml:"executor_mode"`
	SSHUser               string `yaml:"ssh_user"`
	SSHPort               int    `yaml:"ssh_port"`
	CommandTimeoutSeconds int    `yaml:"command_timeout_seconds"`

	// Server.
	ListenAddr           string `yaml:"listen_addr"`
	DrainIntervalSeconds int    `yaml:"drain_interval_seconds"`
	DrainLimit           int    `yaml:"drain_limit"`
	StaleGraceSeconds    int    `yaml:"stale_grace_seconds"`
	LogFormat            string `yaml:"log_format"`
}

func defaults() *Config {
	return &Config{
		DBPath:                "fleetmend.db",
		AuditLogPath:          "fleetmend-audit.log",
		CatalogPath:           "actions.yaml",
		InventoryPath:         "inventory.yaml",
		DirectorySource:       "static",
		DefaultMaxAttempts:    3,
		RetryBaseSeconds:      15,
		RetryCapSeconds:       900,
		ApprovalThreshold:     string(policy.RiskHigh),
		MaxAutoTier:           string(policy.TierSafeAuto),
		BaseCanaryPercent:     10,
		HardMaxHosts:          25,
		HardMaxPerGroup:       5,
		HardMaxPercent:        20,
		ExecutorMode:          ExecModeLocal,
		SSHUser:               "fleetmend",
		SSHPort:               22,
		CommandTimeoutSeconds: 60,
		ListenAddr:            ":8480",
		DrainIntervalSeconds:  30,
		DrainLimit:            10,
		StaleGraceSeconds:     600,
		LogFormat:             "text",
	}
}

// Load reads configuration from path (optional; empty path or a missing
// default file just yields defaults) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DBPath, "FLEETMEND_DB_PATH")
	setString(&cfg.AuditLogPath, "FLEETMEND_AUDIT_LOG")
	setString(&cfg.CatalogPath, "FLEETMEND_CATALOG")
	setString(&cfg.InventoryPath, "FLEETMEND_INVENTORY")
	setString(&cfg.DirectorySource, "FLEETMEND_DIRECTORY_SOURCE")
	setString(&cfg.Kubeconfig, "KUBECONFIG")
	setInt(&cfg.DefaultMaxAttempts, "FLEETMEND_MAX_ATTEMPTS")
	setFloat(&cfg.RetryBaseSeconds, "FLEETMEND_RETRY_BASE_SECONDS")
	setFloat(&cfg.RetryCapSeconds, "FLEETMEND_RETRY_CAP_SECONDS")
	setString(&cfg.ApprovalThreshold, "FLEETMEND_APPROVAL_THRESHOLD")
	setString(&cfg.MaxAutoTier, "FLEETMEND_MAX_AUTO_TIER")
	setInt(&cfg.BaseCanaryPercent, "FLEETMEND_CANARY_PERCENT")
	setInt(&cfg.HardMaxHosts, "FLEETMEND_HARD_MAX_HOSTS")
	setInt(&cfg.HardMaxPerGroup, "FLEETMEND_HARD_MAX_PER_GROUP")
	setInt(&cfg.HardMaxPercent, "FLEETMEND_HARD_MAX_PERCENT")
	setString(&cfg.ExecutorMode, "FLEETMEND_EXECUTOR")
	setString(&cfg.SSHUser, "FLEETMEND_SSH_USER")
	setInt(&cfg.SSHPort, "FLEETMEND_SSH_PORT")
	setInt(&cfg.CommandTimeoutSeconds, "FLEETMEND_COMMAND_TIMEOUT_SECONDS")
	setString(&cfg.ListenAddr, "FLEETMEND_LISTEN_ADDR")
	setInt(&cfg.DrainIntervalSeconds, "FLEETMEND_DRAIN_INTERVAL_SECONDS")
	setInt(&cfg.DrainLimit, "FLEETMEND_DRAIN_LIMIT")
	setInt(&cfg.StaleGraceSeconds, "FLEETMEND_STALE_GRACE_SECONDS")
	setString(&cfg.LogFormat, "FLEETMEND_LOG_FORMAT")
}

func (c *Config) validate() error {
	switch c.ExecutorMode {
	case ExecModeLocal, ExecModeSSH, ExecModeAgent:
	default:
		return fmt.Errorf("config: unknown executor_mode %q", c.ExecutorMode)
	}
	switch c.DirectorySource {
	case "static", "k8s":
	default:
		return fmt.Errorf("config: unknown directory_source %q", c.DirectorySource)
	}
	if c.DefaultMaxAttempts < 1 {
		return fmt.Errorf("config: default_max_attempts must be >= 1, got %d", c.DefaultMaxAttempts)
	}
	return nil
}

// Threshold returns the normalized approval threshold.
func (c *Config) Threshold() policy.RiskLevel {
	return policy.NormalizeApprovalThreshold(c.ApprovalThreshold, policy.RiskHigh)
}

// AutoTier returns the normalized maximum autonomous tier.
func (c *Config) AutoTier() policy.AutoTier {
	return policy.NormalizeAutoTier(c.MaxAutoTier)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
