package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/fleetmend/internal/fleet"
)

var (
	flagFleetAction    string
	flagFleetHosts     []string
	flagFleetGroups    []string
	flagFleetTags      []string
	flagFleetStageSize int
	flagFleetStrategy  string
	flagFleetMaxHosts  int
	flagFleetMaxGroup  int
	flagFleetMaxPct    int
	flagFleetStage     int
	flagFleetConfirm   string
	flagFleetReason    string
	flagFleetActor     string
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Plan and execute staged fleet rollouts",
}

var fleetPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Compute a rollout plan without touching the queue",
	RunE:  runFleetPreview,
}

var fleetExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Enqueue one stage of a previewed rollout",
	Long: `Execute enqueues the runs for one stage of a rollout. The plan is
recomputed from the same selector and caps, and the stage must be confirmed
with the exact phrase shown by preview (for stage N: "apply stage N").`,
	RunE: runFleetExecute,
}

func fleetSelectorFlags(c *cobra.Command) {
	c.Flags().StringVar(&flagFleetAction, "action", "", "Action id from the catalog (required)")
	c.Flags().StringSliceVar(&flagFleetHosts, "host", nil, "Host ids to match")
	c.Flags().StringSliceVar(&flagFleetGroups, "group", nil, "Groups to match")
	c.Flags().StringSliceVar(&flagFleetTags, "tag", nil, "Tags to match")
	c.Flags().IntVar(&flagFleetStageSize, "stage-size", 0, "Hosts per stage (0 = configured default)")
	c.Flags().StringVar(&flagFleetStrategy, "strategy", "", "Rollout strategy: sequential or group_canary")
	c.Flags().IntVar(&flagFleetMaxHosts, "max-hosts", 0, "Requested cap on total hosts (0 = hard cap only)")
	c.Flags().IntVar(&flagFleetMaxGroup, "max-per-group", 0, "Requested cap per group (0 = hard cap only)")
	c.Flags().IntVar(&flagFleetMaxPct, "max-percent", 0, "Requested cap as percent of enabled fleet (0 = hard cap only)")
	c.MarkFlagRequired("action")
}

func init() {
	fleetSelectorFlags(fleetPreviewCmd)
	fleetSelectorFlags(fleetExecuteCmd)
	fleetExecuteCmd.Flags().IntVar(&flagFleetStage, "stage", 0, "Stage index to execute")
	fleetExecuteCmd.Flags().StringVar(&flagFleetConfirm, "confirm", "", "Stage confirmation phrase from preview")
	fleetExecuteCmd.Flags().StringVar(&flagFleetReason, "reason", "", "Why this rollout is happening")
	fleetExecuteCmd.Flags().StringVar(&flagFleetActor, "requested-by", defaultActor(), "Who is requesting the rollout")

	fleetCmd.AddCommand(fleetPreviewCmd, fleetExecuteCmd)
	rootCmd.AddCommand(fleetCmd)
}

func fleetPreviewRequest() fleet.PreviewRequest {
	selector := map[string]any{}
	if len(flagFleetHosts) > 0 {
		selector["host_ids"] = flagFleetHosts
	}
	if len(flagFleetGroups) > 0 {
		selector["groups"] = flagFleetGroups
	}
	if len(flagFleetTags) > 0 {
		selector["tags"] = flagFleetTags
	}
	return fleet.PreviewRequest{
		ActionID:  flagFleetAction,
		Selector:  selector,
		StageSize: flagFleetStageSize,
		Strategy:  flagFleetStrategy,
		Caps: fleet.Caps{
			MaxHosts:                 flagFleetMaxHosts,
			MaxPerGroup:              flagFleetMaxGroup,
			MaxPercentOfEnabledFleet: flagFleetMaxPct,
		},
	}
}

func runFleetPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	plan, err := d.planner.Preview(cmd.Context(), fleetPreviewRequest())
	if err != nil {
		return err
	}
	return printJSON(plan)
}

func runFleetExecute(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	res, err := d.planner.ExecuteStage(cmd.Context(), fleet.ExecuteRequest{
		PreviewRequest: fleetPreviewRequest(),
		StageIndex:     flagFleetStage,
		Confirm:        flagFleetConfirm,
		Reason:         flagFleetReason,
		RequestedBy:    flagFleetActor,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}
