package cmd

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinkerbelle-io/fleetmend/internal/actions"
	"github.com/tinkerbelle-io/fleetmend/internal/agentlink"
	"github.com/tinkerbelle-io/fleetmend/internal/audit"
	"github.com/tinkerbelle-io/fleetmend/internal/config"
	"github.com/tinkerbelle-io/fleetmend/internal/executor"
	"github.com/tinkerbelle-io/fleetmend/internal/fleet"
	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
	"github.com/tinkerbelle-io/fleetmend/internal/metrics"
	"github.com/tinkerbelle-io/fleetmend/internal/queue"
)

// deps is the wired-up orchestrator: every command builds one from config
// and uses the pieces it needs.
type deps struct {
	cfg      *config.Config
	catalog  *actions.Catalog
	dir      hostdir.Directory
	store    *queue.Store
	planner  *fleet.Planner
	auditor  *audit.Logger
	hub      *agentlink.Hub
	registry *prometheus.Registry
}

func (d *deps) close() {
	if d.store != nil {
		d.store.Close()
	}
	if d.auditor != nil {
		d.auditor.Close()
	}
}

func buildDeps(cfg *config.Config) (*deps, error) {
	catalog, err := actions.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	var dir hostdir.Directory
	switch cfg.DirectorySource {
	case "k8s":
		dir, err = hostdir.ConnectK8sDirectory()
		if err != nil {
			return nil, fmt.Errorf("connect k8s directory: %w", err)
		}
	default:
		dir, err = hostdir.LoadStaticDirectory(cfg.InventoryPath)
		if err != nil {
			return nil, err
		}
	}

	auditor, err := audit.NewLogger(cfg.AuditLogPath)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	mets := metrics.New(registry)

	timeout := time.Duration(cfg.CommandTimeoutSeconds) * time.Second
	limits := executor.Limits{CommandTimeout: timeout}

	var hub *agentlink.Hub
	var exec executor.Executor
	switch cfg.ExecutorMode {
	case config.ExecModeSSH:
		exec = executor.NewSSH(cfg.SSHUser, fmt.Sprintf("%d", cfg.SSHPort), limits)
	case config.ExecModeAgent:
		hub = agentlink.NewHub()
		exec = agentlink.NewRemote(hub, timeout)
	default:
		exec = executor.NewLocal(limits)
	}

	store, err := queue.Open(cfg.DBPath, queue.Options{
		Config: queue.Config{
			DefaultMaxAttempts: cfg.DefaultMaxAttempts,
			RetryBaseSeconds:   cfg.RetryBaseSeconds,
			RetryCapSeconds:    cfg.RetryCapSeconds,
			ApprovalThreshold:  cfg.Threshold(),
		},
		Executor:  exec,
		Directory: dir,
		Audit:     auditor,
		Metrics:   mets,
	})
	if err != nil {
		auditor.Close()
		return nil, err
	}

	planner := fleet.NewPlanner(dir, catalog, store, fleet.PlannerConfig{
		HardCaps: fleet.Caps{
			MaxHosts:                 cfg.HardMaxHosts,
			MaxPerGroup:              cfg.HardMaxPerGroup,
			MaxPercentOfEnabledFleet: cfg.HardMaxPercent,
		},
		BaseCanaryPercent: cfg.BaseCanaryPercent,
		MaxAutoTier:       cfg.AutoTier(),
	})

	return &deps{
		cfg:      cfg,
		catalog:  catalog,
		dir:      dir,
		store:    store,
		planner:  planner,
		auditor:  auditor,
		hub:      hub,
		registry: registry,
	}, nil
}
