package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/fleetmend/internal/queue"
)

var (
	flagQueueLimit  int
	flagQueueDLQ    bool
	flagReplayRun   string
	flagReplayActor string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and operate the run queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts and recent runs",
	RunE:  runQueueStatus,
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Execute ready runs now instead of waiting for the serve loop",
	RunE:  runQueueDrain,
}

var queueReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay dead-lettered runs as fresh runs",
	Long: `Replay clones dead-lettered runs back onto the queue with a zeroed
attempt counter. The originals stay in the dead-letter queue for the audit
trail. Use --run to replay a single run, otherwise the oldest dead letters
up to --limit are replayed.`,
	RunE: runQueueReplay,
}

func init() {
	queueStatusCmd.Flags().IntVar(&flagQueueLimit, "limit", 20, "Runs to list")
	queueStatusCmd.Flags().BoolVar(&flagQueueDLQ, "dlq", false, "List only dead-lettered runs")
	queueDrainCmd.Flags().IntVar(&flagQueueLimit, "limit", queue.DefaultDrainLimit, "Runs to process")
	queueReplayCmd.Flags().IntVar(&flagQueueLimit, "limit", queue.DefaultDrainLimit, "Dead letters to replay")
	queueReplayCmd.Flags().StringVar(&flagReplayRun, "run", "", "Replay a single run id")
	queueReplayCmd.Flags().StringVar(&flagReplayActor, "requested-by", defaultActor(), "Who is requesting the replay")

	queueCmd.AddCommand(queueStatusCmd, queueDrainCmd, queueReplayCmd)
	rootCmd.AddCommand(queueCmd)
}

func runQueueStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	snap, err := d.store.Snapshot(cmd.Context(), queue.SnapshotOptions{
		Limit:   flagQueueLimit,
		DLQOnly: flagQueueDLQ,
	})
	if err != nil {
		return err
	}
	return printJSON(snap)
}

func runQueueDrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	res, err := d.store.Drain(cmd.Context(), flagQueueLimit)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runQueueReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	if flagReplayRun != "" {
		rec, err := d.store.ReplayRun(cmd.Context(), flagReplayRun, flagReplayActor)
		if err != nil {
			return err
		}
		return printJSON(rec)
	}

	res, err := d.store.ReplayDeadLetters(cmd.Context(), flagQueueLimit, flagReplayActor)
	if err != nil {
		return err
	}
	return printJSON(res)
}
