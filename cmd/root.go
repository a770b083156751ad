package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/fleetmend/internal/config"
	"github.com/tinkerbelle-io/fleetmend/internal/logging"
)

var (
	// Flags
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "fleetmend",
	Short: "Fleet remediation orchestrator",
	Long: `fleetmend queues remediation actions against fleet hosts and executes
them with retry, backoff, and a dead-letter queue. Risky actions wait for
human approval, and fleet-wide rollouts go through a staged planner with
blast-radius caps and a canary cohort.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: fleetmend.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

// Execute runs the root command.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("fleetmend %s\n", version))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the config file and sets up logging.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		if _, err := os.Stat("fleetmend.yaml"); err == nil {
			path = "fleetmend.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logging.Setup(flagLogLevel, cfg.LogFormat)
	return cfg, nil
}
