package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/issuesync/internal/ledger"
	"github.com/mschirtzinger/issuesync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show what has been synced",
	Long: `Display the local sync ledger.

Shows:
  - Records written, per repository and state
  - The last session and its failures
  - Recent sessions (--runs)

The ledger mirrors what this machine has written. The Notion database stays
the source of truth for which issues have records.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, _ := cmd.Flags().GetInt("runs")

		path := cfg.LedgerPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Printf("\n%s No sync has run yet\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'issuesync sync' to start\n\n")
			return nil
		}

		led, err := ledger.Open(path, newLogger("ledger"))
		if err != nil {
			return err
		}
		defer led.Close()

		ctx := cmd.Context()
		stats, err := led.Stats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("📊"))
		fmt.Print(ui.KeyValues(0,
			"Ledger", path,
			"Records", fmt.Sprint(stats.Records),
			"Sessions", fmt.Sprint(stats.Runs),
		))

		if len(stats.Repositories) > 0 {
			fmt.Printf("\n%s\n", ui.RenderBold("Repositories"))
			for _, repo := range stats.Repositories {
				fmt.Printf("  %-30s %5d records  %s  %s\n", repo.Repository, repo.Records,
					ui.RenderPass(fmt.Sprintf("%d open", repo.Open)),
					ui.RenderMuted(fmt.Sprintf("%d closed", repo.Closed)))
			}
		}

		if stats.LastRun != nil {
			fmt.Printf("\n%s\n", ui.RenderBold("Last session"))
			printRun(stats.LastRun)

			failures, err := led.RunFailures(ctx, stats.LastRun.ID)
			if err != nil {
				return err
			}
			for _, f := range failures {
				line := fmt.Sprintf("%s %s", f.Op, f.IssueURL)
				if f.RecordID != "" {
					line += fmt.Sprintf(" (record %s)", f.RecordID)
				}
				fmt.Printf("  %s %s: %s\n", ui.RenderFail("✗"), line, f.Error)
			}
		}

		if runs > 0 {
			recent, err := led.RecentRuns(ctx, runs)
			if err != nil {
				return err
			}
			fmt.Printf("\n%s\n", ui.RenderBold("Recent sessions"))
			for _, run := range recent {
				fmt.Printf("  %s %s  %s\n", runMark(run), run.StartedAt.Local().Format("2006-01-02 15:04:05"), runSummary(run))
			}
		}
		fmt.Println()
		return nil
	},
}

func printRun(run *ledger.Run) {
	pairs := []string{
		"Started", run.StartedAt.Local().Format("2006-01-02 15:04:05"),
		"Duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String(),
		"Repositories", strings.Join(run.Repositories, ", "),
		"Result", runMark(run) + " " + runSummary(run),
	}
	if run.Error != "" {
		pairs = append(pairs, "Error", run.Error)
	}
	fmt.Print(ui.KeyValues(2, pairs...))
}

func runMark(run *ledger.Run) string {
	switch {
	case run.Error != "":
		return ui.RenderFail("✗")
	case run.Failed > 0:
		return ui.RenderWarn("⚠")
	default:
		return ui.RenderPass("✓")
	}
}

func runSummary(run *ledger.Run) string {
	s := fmt.Sprintf("%d created, %d updated, %d bodies, %d failed", run.Created, run.Updated, run.Bodies, run.Failed)
	if run.DryRun {
		s += " (dry run)"
	}
	return s
}

func init() {
	statusCmd.Flags().Int("runs", 0, "Also list this many recent sessions")

	rootCmd.AddCommand(statusCmd)
}
