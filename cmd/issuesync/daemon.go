package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/issuesync/internal/daemon"
	"github.com/mschirtzinger/issuesync/internal/dashboard"
	"github.com/mschirtzinger/issuesync/internal/ledger"
	"github.com/mschirtzinger/issuesync/internal/metrics"
	"github.com/mschirtzinger/issuesync/internal/reconcile"
	"github.com/mschirtzinger/issuesync/internal/runlock"
	"github.com/mschirtzinger/issuesync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon [repository...]",
	GroupID: "sync",
	Short:   "Sync on a schedule (foreground)",
	Long: `Run sync sessions in the foreground until interrupted.

The daemon will:
  1. Run a session immediately
  2. Run again every --interval, skipping a run that comes due while the
     previous one is still going
  3. Re-run shortly after the --manifest file changes, with the new
     repository list
  4. With --dashboard-port, serve a WebSocket progress feed at /ws, plus
     /health and Prometheus /metrics

A session started by 'issuesync sync' while the daemon is running is refused
by the run lock, and vice versa.`,
	Example: `  issuesync daemon --interval 15m
  issuesync daemon --manifest repos.toml --dashboard-port 8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		port, _ := cmd.Flags().GetInt("dashboard-port")

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		// Fail fast on a bad repository list; each run resolves it again.
		if _, err := cfg.ResolveTargets(args); err != nil {
			return err
		}

		led, err := ledger.Open(cfg.LedgerPath(), newLogger("ledger"))
		if err != nil {
			return err
		}
		defer led.Close()

		collector := metrics.New()
		reporters := []reconcile.Reporter{led, collector}

		if port > 0 {
			server := dashboard.NewServer(&dashboard.Config{
				Port:    port,
				Metrics: collector.Handler(),
				Logger:  newLogger("dashboard"),
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer server.Stop()
			reporters = append(reporters, dashboard.NewHandler(server, newLogger("dashboard")))

			fmt.Printf("%s Dashboard on http://localhost:%d (WebSocket: ws://localhost:%d/ws)\n",
				ui.RenderAccent("📡"), port, port)
		}
		reporter := reconcile.NewMultiReporter(reporters...)

		logger := newLogger("daemon")
		run := func(ctx context.Context, trigger daemon.Trigger) error {
			targets, err := cfg.ResolveTargets(args)
			if err != nil {
				return err
			}

			lock, err := runlock.Acquire(cfg.LockPath())
			if err != nil {
				if errors.Is(err, runlock.ErrLocked) {
					logger.Printf("Skipping %s run: %v", trigger, err)
					return nil
				}
				return err
			}
			defer lock.Release()

			session, err := newSession(cfg, targets, false, reporter)
			if err != nil {
				return err
			}
			report, err := session.Run(ctx, targets.Repositories)
			if lerr := led.TakeErr(); lerr != nil {
				logger.Printf("Ledger not fully updated: %v", lerr)
			}
			if err != nil {
				return err
			}
			if report.HasFailures() {
				logger.Printf("%d writes failed; see 'issuesync status'", report.Failed())
			}
			return nil
		}

		d, err := daemon.New(run, &daemon.Config{
			Interval:         interval,
			ManifestPath:     cfg.Manifest,
			DebounceInterval: 500 * time.Millisecond,
			Logger:           logger,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s Syncing every %v (Ctrl+C to stop)\n", ui.RenderAccent("🔄"), interval)
		if err := d.Start(cmd.Context()); err != nil {
			return err
		}

		stats := d.Stats()
		fmt.Printf("\n%s Daemon stopped after %d runs (%d failed, %d skipped)\n",
			ui.RenderPass("✓"), stats.Runs, stats.Failures, stats.SkippedTicks)
		return nil
	},
}

func init() {
	daemonCmd.Flags().Duration("interval", 15*time.Minute, "Time between scheduled sessions")
	daemonCmd.Flags().IntP("dashboard-port", "p", 0, "Serve the dashboard on this port (0 disables it)")

	rootCmd.AddCommand(daemonCmd)
}
