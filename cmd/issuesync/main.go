// Command issuesync mirrors GitHub issues into a Notion database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/issuesync/internal/config"
	"github.com/mschirtzinger/issuesync/internal/reconcile"
	"github.com/mschirtzinger/issuesync/internal/ui"
)

// cfg is the configuration resolved before each command runs.
var cfg *config.Config

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

var rootCmd = &cobra.Command{
	Use:   "issuesync",
	Short: "Mirror GitHub issues into a Notion database",
	Long: `issuesync keeps a Notion database in step with the issues of one or more
GitHub repositories.

Each sync session scans the database once to learn which issues already have
a record, then for every repository creates records for new issues, updates
the properties of known ones and rewrites their body block.

Credentials are read from the environment (GITHUB_KEY, NOTION_KEY,
NOTION_DATABASE_ID, GITHUB_REPO_OWNER, GITHUB_REPO_NAME), a .env file, or
issuesync.toml. Run 'issuesync init' to create a config file interactively.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		noColor, _ := cmd.Flags().GetBool("no-color")
		ui.Init(noColor)

		if cmd.Annotations[skipConfig] != "" {
			return nil
		}

		configFile, _ := cmd.Flags().GetString("config")
		envFile, _ := cmd.Flags().GetString("env-file")
		loaded, err := config.Load(config.Options{
			ConfigFile: configFile,
			EnvFile:    envFile,
			Flags:      cmd.Flags(),
		})
		if err != nil {
			return err
		}
		cfg = loaded
		return setupLogging(cfg)
	},
}

// exitError carries a process exit code. A nil err exits silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default ./issuesync.{toml,yaml,json})")
	pf.String("env-file", ".env", "Dotenv file with credentials; ignored when missing")
	pf.Bool("no-color", false, "Disable colored output")

	pf.String("owner", "", "Default owner for repositories given without one")
	pf.String("github-url", "", "GitHub API base URL")
	pf.String("database", "", "Notion database ID")
	pf.String("notion-url", "", "Notion API base URL")
	pf.String("manifest", "", "TOML or YAML repository manifest")

	pf.Int("batch-size", reconcile.DefaultBatchSize, "Writes issued concurrently per batch")
	pf.Duration("timeout", 30*time.Second, "Timeout for each remote request")
	pf.Int("retry-attempts", 1, "Attempts per remote call for transient failures")
	pf.String("pull-requests", string(reconcile.PullRequestsInclude), "Pull request policy: include or exclude")
	pf.Bool("extended-properties", false, "Also write Milestone, Status and Pull Request")
	pf.String("since", "", `Only sync issues updated since (RFC3339, "72h", "3d" or "2 days ago")`)

	pf.String("state-dir", ".issuesync", "Directory for the ledger and run lock")
	pf.String("log-file", "", "Also write logs to this file, rotated")
	pf.String("log-level", "info", "Log level: debug, info, warn or error")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	closeLogs()

	if err == nil {
		return
	}

	code := 1
	var exit *exitError
	if errors.As(err, &exit) {
		code = exit.code
		if exit.err == nil {
			os.Exit(code)
		}
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
	os.Exit(code)
}
