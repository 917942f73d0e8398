package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/issuesync/internal/config"
	"github.com/mschirtzinger/issuesync/internal/reconcile"
	"github.com/mschirtzinger/issuesync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Create issuesync.toml interactively",
	Long: `Ask for credentials and sync settings and write them to a config file.

Answers are prefilled from the environment and any existing .env file. The
file holds tokens and is written readable by its owner only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		force, _ := cmd.Flags().GetBool("force")

		if !ui.IsTerminal(os.Stdin) || !ui.IsTerminal(os.Stdout) {
			return errors.New("init needs an interactive terminal; set GITHUB_KEY, NOTION_KEY and NOTION_DATABASE_ID instead")
		}
		if _, err := os.Stat(output); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", output)
		}

		answers := answersFrom(cfg)
		if err := initForm(answers).Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Println("Aborted; nothing written")
				return nil
			}
			return err
		}

		c, err := answers.config()
		if err != nil {
			return err
		}
		if err := config.WriteFile(output, c); err != nil {
			return err
		}

		fmt.Printf("\n%s Wrote %s\n", ui.RenderPass("✓"), output)
		fmt.Printf("   Run 'issuesync sync --dry-run' to check the setup\n\n")
		return nil
	},
}

// initAnswers holds the form fields as the form edits them.
type initAnswers struct {
	GitHubToken  string
	Owner        string
	Repositories string
	NotionToken  string
	DatabaseID   string
	PullRequests string
	BatchSize    string
	Extended     bool
}

func answersFrom(c *config.Config) *initAnswers {
	a := &initAnswers{
		PullRequests: string(reconcile.PullRequestsInclude),
		BatchSize:    strconv.Itoa(reconcile.DefaultBatchSize),
	}
	if c == nil {
		return a
	}
	a.GitHubToken = c.GitHub.Token
	a.Owner = c.GitHub.Owner
	a.Repositories = strings.Join(c.GitHub.Repositories, ", ")
	a.NotionToken = c.Notion.Token
	a.DatabaseID = c.Notion.DatabaseID
	if c.Sync.PullRequests != "" {
		a.PullRequests = c.Sync.PullRequests
	}
	if c.Sync.BatchSize > 0 {
		a.BatchSize = strconv.Itoa(c.Sync.BatchSize)
	}
	a.Extended = c.Sync.ExtendedProperties
	return a
}

// config converts the answers and validates the result.
func (a *initAnswers) config() (*config.Config, error) {
	batch, err := strconv.Atoi(strings.TrimSpace(a.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("batch size: %w", err)
	}

	c := &config.Config{
		GitHub: config.GitHubConfig{
			Token:        strings.TrimSpace(a.GitHubToken),
			Owner:        strings.TrimSpace(a.Owner),
			Repositories: config.SplitList(a.Repositories),
		},
		Notion: config.NotionConfig{
			Token:      strings.TrimSpace(a.NotionToken),
			DatabaseID: strings.TrimSpace(a.DatabaseID),
		},
		Sync: config.SyncConfig{
			BatchSize:          batch,
			Timeout:            30 * time.Second,
			RetryAttempts:      1,
			PullRequests:       a.PullRequests,
			ExtendedProperties: a.Extended,
		},
		Log: config.LogConfig{Level: "info"},
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return errors.New("enter a whole number of at least 1")
	}
	return nil
}

func initForm(a *initAnswers) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("GitHub token").
				Description("Personal access token with read access to issues").
				EchoMode(huh.EchoModePassword).
				Validate(required("GitHub token")).
				Value(&a.GitHubToken),
			huh.NewInput().
				Title("Repository owner").
				Description("Used for repositories listed without an owner").
				Value(&a.Owner),
			huh.NewInput().
				Title("Repositories").
				Description("Comma-separated, e.g. api, acme/web").
				Value(&a.Repositories),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Notion token").
				Description("Internal integration secret").
				EchoMode(huh.EchoModePassword).
				Validate(required("Notion token")).
				Value(&a.NotionToken),
			huh.NewInput().
				Title("Notion database ID").
				Validate(required("Database ID")).
				Value(&a.DatabaseID),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Pull requests").
				Options(
					huh.NewOption("Sync them like issues", string(reconcile.PullRequestsInclude)),
					huh.NewOption("Skip them", string(reconcile.PullRequestsExclude)),
				).
				Value(&a.PullRequests),
			huh.NewInput().
				Title("Batch size").
				Description("Writes issued concurrently").
				Validate(positiveInt).
				Value(&a.BatchSize),
			huh.NewConfirm().
				Title("Write Milestone, Status and Pull Request properties?").
				Description("The database needs these columns").
				Value(&a.Extended),
		),
	)
}

func init() {
	initCmd.Flags().StringP("output", "o", config.DefaultConfigName+".toml", "File to write")
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	rootCmd.AddCommand(initCmd)
}
