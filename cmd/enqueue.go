package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagEnqueueReason  string
	flagEnqueueActor   string
	flagEnqueueConfirm string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <host-id> <action-id>",
	Short: "Queue a remediation action against one host",
	Long: `Queue one run. Actions marked requires_confirm in the catalog must be
confirmed by echoing their confirmation phrase via --confirm.`,
	Args: cobra.ExactArgs(2),
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&flagEnqueueReason, "reason", "", "Why this remediation is being queued")
	enqueueCmd.Flags().StringVar(&flagEnqueueActor, "requested-by", defaultActor(), "Who is requesting the run")
	enqueueCmd.Flags().StringVar(&flagEnqueueConfirm, "confirm", "", "Confirmation phrase for actions that require one")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	hostID, actionID := args[0], args[1]
	action, ok := d.catalog.Get(actionID)
	if !ok {
		return fmt.Errorf("unknown action %q (see the catalog at %s)", actionID, cfg.CatalogPath)
	}
	if err := action.CheckConfirm(flagEnqueueConfirm); err != nil {
		return err
	}

	rec, err := d.store.Enqueue(cmd.Context(), hostID, action, flagEnqueueReason, flagEnqueueActor)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
