package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/issuesync/internal/ledger"
	"github.com/mschirtzinger/issuesync/internal/metrics"
	"github.com/mschirtzinger/issuesync/internal/reconcile"
	"github.com/mschirtzinger/issuesync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync [repository...]",
	GroupID: "sync",
	Short:   "Run one sync session",
	Long: `Run one sync session against the configured Notion database.

Repositories given as arguments replace GITHUB_REPO_NAME; entries from
--manifest are added after them. Each repository may be "name" (resolved
against --owner) or "owner/name".

The session:
  1. Scans the database once and maps issue URLs to records
  2. Fetches every issue of each repository
  3. Creates records for new issues, in concurrent batches
  4. Updates the properties of known issues
  5. Rewrites the body block of known issues

Failed writes are reported and do not stop the session. The exit code is 1
when the session could not run at all, and 2 with --fail-on-item-error when
any single write failed.`,
	Example: `  issuesync sync                       # repositories from GITHUB_REPO_NAME
  issuesync sync api acme/web          # explicit repositories
  issuesync sync --since "2 days ago"  # only recently updated issues
  issuesync sync --dry-run             # plan without writing`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		failOnItem, _ := cmd.Flags().GetBool("fail-on-item-error")
		metricsFile, _ := cmd.Flags().GetString("metrics-file")
		wait, _ := cmd.Flags().GetDuration("wait")

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		targets, err := cfg.ResolveTargets(args)
		if err != nil {
			return err
		}

		lock, err := acquireLock(cmd.Context(), cfg.LockPath(), wait)
		if err != nil {
			return err
		}
		defer lock.Release()

		led, err := ledger.Open(cfg.LedgerPath(), newLogger("ledger"))
		if err != nil {
			return err
		}
		defer led.Close()

		collector := metrics.New()
		session, err := newSession(cfg, targets, dryRun, reconcile.NewMultiReporter(led, collector))
		if err != nil {
			return err
		}

		report, runErr := session.Run(cmd.Context(), targets.Repositories)
		printSessionReport(os.Stdout, report, runErr)

		if err := led.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "%s Ledger not fully updated: %v\n", ui.RenderWarn("⚠"), err)
		}
		if metricsFile != "" {
			if err := prometheus.WriteToTextfile(metricsFile, collector.Registry()); err != nil {
				fmt.Fprintf(os.Stderr, "%s Failed to write metrics: %v\n", ui.RenderWarn("⚠"), err)
			}
		}

		if runErr != nil {
			// Already printed with the report.
			return &exitError{code: 1}
		}
		if failOnItem && report.HasFailures() {
			return &exitError{code: 2}
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "Plan every repository but write nothing")
	syncCmd.Flags().Bool("fail-on-item-error", false, "Exit 2 when any single write failed")
	syncCmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this file (textfile collector format)")
	syncCmd.Flags().Duration("wait", 0, "Wait this long for another sync to finish instead of failing")

	rootCmd.AddCommand(syncCmd)
}
