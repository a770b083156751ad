package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinkerbelle-io/fleetmend/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator: HTTP API plus the background drain loop",
	Long: `Run fleetmend as a long-lived service. The drain loop wakes on an
interval, executes ready runs, and re-queues runs stranded in the running
state by a crashed pass. The HTTP API serves enqueue, queue inspection,
approvals, fleet rollouts, and /metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	log := slog.Default().With("component", "serve")

	api := httpapi.New(httpapi.Options{
		Store:     d.store,
		Planner:   d.planner,
		Catalog:   d.catalog,
		Directory: d.dir,
		Hub:       d.hub,
		Gatherer:  d.registry,
	})
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go drainLoop(ctx, d, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr, "executor", cfg.ExecutorMode)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// drainLoop is the heartbeat of the queue: each tick recovers stale runs,
// then drains up to the configured limit.
func drainLoop(ctx context.Context, d *deps, log *slog.Logger) {
	interval := time.Duration(d.cfg.DrainIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	grace := time.Duration(d.cfg.StaleGraceSeconds) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := d.store.RequeueStale(ctx, grace); err != nil {
			log.Error("stale sweep failed", "error", err)
		} else if n > 0 {
			log.Warn("recovered stale runs", "count", n)
		}

		res, err := d.store.Drain(ctx, d.cfg.DrainLimit)
		if err != nil {
			log.Error("drain failed", "error", err)
			continue
		}
		if res.Processed > 0 {
			log.Info("drain pass complete", "processed", res.Processed)
		}
	}
}
