package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/issuesync/internal/reconcile"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// clearEnv isolates a test from the caller's credentials.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envBindings {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Sync.Timeout)
	assert.Equal(t, 1, cfg.Sync.RetryAttempts)
	assert.Equal(t, "include", cfg.Sync.PullRequests)
	assert.Equal(t, ".issuesync", cfg.StateDir)
	assert.Equal(t, "https://api.github.com", cfg.GitHub.BaseURL)
	assert.Empty(t, cfg.GitHub.Repositories)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_KEY")
	assert.Contains(t, err.Error(), "NOTION_KEY")
	assert.Contains(t, err.Error(), "NOTION_DATABASE_ID")
}

func TestLoad_EnvironmentNames(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("GITHUB_KEY", "gh")
	t.Setenv("GITHUB_REPO_OWNER", "acme")
	t.Setenv("GITHUB_REPO_NAME", "api, web,api")
	t.Setenv("NOTION_KEY", "nt")
	t.Setenv("NOTION_DATABASE_ID", "db")
	t.Setenv("ISSUESYNC_SYNC_BATCH_SIZE", "25")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "gh", cfg.GitHub.Token)
	assert.Equal(t, "acme", cfg.GitHub.Owner)
	assert.Equal(t, []string{"api", "web"}, cfg.GitHub.Repositories)
	assert.Equal(t, "nt", cfg.Notion.Token)
	assert.Equal(t, "db", cfg.Notion.DatabaseID)
	assert.Equal(t, 25, cfg.Sync.BatchSize)
}

func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	envFile := writeFile(t, dir, ".env", "GITHUB_KEY=from-dotenv\nNOTION_KEY=from-dotenv\nNOTION_DATABASE_ID=dotenv-db\n")
	configFile := writeFile(t, dir, "issuesync.toml", `
[notion]
token = "from-file"
database_id = "file-db"

[sync]
batch_size = 5
timeout = "45s"
pull_requests = "exclude"
`)
	t.Setenv("NOTION_KEY", "from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("batch-size", 10, "")
	flags.String("database", "", "")
	require.NoError(t, flags.Parse([]string{"--batch-size=7"}))

	cfg, err := Load(Options{ConfigFile: configFile, EnvFile: envFile, Flags: flags})
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.GitHub.Token, "dotenv fills what nothing else sets")
	assert.Equal(t, "from-env", cfg.Notion.Token, "environment beats file")
	assert.Equal(t, "file-db", cfg.Notion.DatabaseID, "file beats dotenv; unset flag is ignored")
	assert.Equal(t, 7, cfg.Sync.BatchSize, "flag beats file")
	assert.Equal(t, 45*time.Second, cfg.Sync.Timeout)
	assert.Equal(t, "exclude", cfg.Sync.PullRequests)
}

func TestLoad_MissingExplicitConfigFails(t *testing.T) {
	clearEnv(t)
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "nope.toml")})
	assert.Error(t, err)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	_, err := Load(Options{EnvFile: ".env"})
	assert.NoError(t, err)
}

func TestValidate_Ranges(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		GitHub: GitHubConfig{Token: "x"},
		Notion: NotionConfig{Token: "y", DatabaseID: "z"},
		Sync:   SyncConfig{BatchSize: 0, Timeout: 0, RetryAttempts: 0, PullRequests: "sometimes"},
		Log:    LogConfig{Level: "loud"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"batch_size", "timeout", "retry_attempts", "sometimes", "loud"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestVerbose(t *testing.T) {
	t.Parallel()
	for level, want := range map[string]bool{"debug": true, "info": true, "warn": false, "error": false} {
		cfg := &Config{Log: LogConfig{Level: level}}
		assert.Equal(t, want, cfg.Verbose(), level)
	}
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()
	cfg := &Config{Sync: SyncConfig{RetryAttempts: 1}}
	assert.Equal(t, reconcile.NoRetry, cfg.RetryPolicy())

	cfg.Sync.RetryAttempts = 4
	assert.Equal(t, 4, cfg.RetryPolicy().MaxAttempts)
}

func TestSplitList(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"a", "b", "c"}, SplitList("a, b", "", " c ,a"))
	assert.Nil(t, SplitList())
}

func TestResolveTargets(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	manifest := writeFile(t, dir, "repos.toml", `
[[repository]]
name = "web"
owner = "acme"
pull_requests = "exclude"

[[repository]]
name = "api"
`)

	cfg := &Config{GitHub: GitHubConfig{Repositories: []string{"api", "tools"}}, Manifest: manifest}
	targets, err := cfg.ResolveTargets(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "tools", "acme/web"}, targets.Repositories)
	assert.Equal(t, reconcile.PullRequestsExclude, targets.Overrides["acme/web"])

	targets, err = cfg.ResolveTargets([]string{"cli"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cli", "acme/web", "api"}, targets.Repositories)

	_, err = (&Config{}).ResolveTargets(nil)
	assert.Error(t, err)
}

func TestWriteFile_RoundTrip(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "issuesync.toml")

	in := &Config{
		GitHub: GitHubConfig{Token: "gh", Owner: "acme", Repositories: []string{"api", "web"}},
		Notion: NotionConfig{Token: "nt", DatabaseID: "db"},
		Sync:   SyncConfig{BatchSize: 20, Timeout: time.Minute, RetryAttempts: 3, PullRequests: "exclude"},
	}
	require.NoError(t, WriteFile(path, in))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := Load(Options{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, in.GitHub.Token, out.GitHub.Token)
	assert.Equal(t, in.GitHub.Repositories, out.GitHub.Repositories)
	assert.Equal(t, in.Notion.DatabaseID, out.Notion.DatabaseID)
	assert.Equal(t, 20, out.Sync.BatchSize)
	assert.Equal(t, time.Minute, out.Sync.Timeout)
	assert.Equal(t, 3, out.Sync.RetryAttempts)
	assert.Equal(t, "exclude", out.Sync.PullRequests)
}
