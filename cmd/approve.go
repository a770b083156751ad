package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/fleetmend/internal/queue"
)

var (
	flagApprovalActor  string
	flagApprovalReason string
)

var approveCmd = &cobra.Command{
	Use:   "approve <run-id>",
	Short: "Approve a run waiting on its approval gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], queue.DecisionApprove)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <run-id>",
	Short: "Reject a gated run, canceling it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], queue.DecisionReject)
	},
}

func init() {
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVar(&flagApprovalActor, "actor", defaultActor(), "Who is deciding")
		c.Flags().StringVar(&flagApprovalReason, "reason", "", "Why")
	}
	rootCmd.AddCommand(approveCmd, rejectCmd)
}

func decide(cmd *cobra.Command, runID, decision string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	rec, err := d.store.SetApproval(cmd.Context(), runID, decision, flagApprovalActor, flagApprovalReason)
	if err != nil {
		return err
	}
	return printJSON(rec)
}
