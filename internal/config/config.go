// Package config loads issuesync settings from flags, environment, config
// files and dotenv files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/mschirtzinger/issuesync/internal/reconcile"
)

// Config is the resolved configuration of one invocation.
type Config struct {
	GitHub   GitHubConfig `mapstructure:"github"`
	Notion   NotionConfig `mapstructure:"notion"`
	Sync     SyncConfig   `mapstructure:"sync"`
	Log      LogConfig    `mapstructure:"log"`
	StateDir string       `mapstructure:"state_dir"`

	// Manifest is an optional TOML or YAML repository list.
	Manifest string `mapstructure:"manifest"`
}

type GitHubConfig struct {
	Token        string   `mapstructure:"token"`
	Owner        string   `mapstructure:"owner"`
	Repositories []string `mapstructure:"repositories"`
	BaseURL      string   `mapstructure:"base_url"`
}

type NotionConfig struct {
	Token      string `mapstructure:"token"`
	DatabaseID string `mapstructure:"database_id"`
	BaseURL    string `mapstructure:"base_url"`
}

type SyncConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	Timeout            time.Duration `mapstructure:"timeout"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	PullRequests       string        `mapstructure:"pull_requests"`
	ExtendedProperties bool          `mapstructure:"extended_properties"`
	Since              string        `mapstructure:"since"`
}

type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"github.token":        "GITHUB_KEY",
	"github.owner":        "GITHUB_REPO_OWNER",
	"github.repositories": "GITHUB_REPO_NAME",
	"notion.token":        "NOTION_KEY",
	"notion.database_id":  "NOTION_DATABASE_ID",
}

// flagBindings maps config keys to command-line flag names.
var flagBindings = map[string]string{
	"github.owner":             "owner",
	"github.base_url":          "github-url",
	"notion.database_id":       "database",
	"notion.base_url":          "notion-url",
	"sync.batch_size":          "batch-size",
	"sync.timeout":             "timeout",
	"sync.retry_attempts":      "retry-attempts",
	"sync.pull_requests":       "pull-requests",
	"sync.extended_properties": "extended-properties",
	"sync.since":               "since",
	"state_dir":                "state-dir",
	"log.file":                 "log-file",
	"log.level":                "log-level",
	"manifest":                 "manifest",
}

// EnvPrefix prefixes the generic environment form of every key, e.g.
// ISSUESYNC_SYNC_BATCH_SIZE.
const EnvPrefix = "ISSUESYNC"

// DefaultConfigName is looked up in the working directory when no config
// file is given.
const DefaultConfigName = "issuesync"

func setDefaults(v *viper.Viper) {
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("notion.base_url", "https://api.notion.com")
	v.SetDefault("sync.batch_size", reconcile.DefaultBatchSize)
	v.SetDefault("sync.timeout", 30*time.Second)
	v.SetDefault("sync.retry_attempts", 1)
	v.SetDefault("sync.pull_requests", string(reconcile.PullRequestsInclude))
	v.SetDefault("sync.extended_properties", false)
	v.SetDefault("state_dir", ".issuesync")
	v.SetDefault("log.level", "info")

	// Keys without a real default still need one so that AutomaticEnv
	// sees them when decoding.
	for _, key := range []string{
		"github.token", "github.owner", "github.repositories",
		"notion.token", "notion.database_id",
		"sync.since", "log.file", "manifest",
	} {
		v.SetDefault(key, "")
	}
}

// Options selects the sources Load reads.
type Options struct {
	// ConfigFile is an explicit TOML, YAML or JSON file. When empty,
	// issuesync.{toml,yaml,yml,json} is looked up in the working directory.
	ConfigFile string

	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string

	// Flags are bound to their keys when set on the command line.
	Flags *pflag.FlagSet
}

// Load resolves configuration with precedence flags > environment >
// config file > dotenv file > defaults.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if opts.EnvFile != "" {
		if err := loadEnvFile(v, opts.EnvFile); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if opts.Flags != nil {
		for key, name := range flagBindings {
			if flag := opts.Flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.GitHub.Repositories = SplitList(cfg.GitHub.Repositories...)
	return &cfg, nil
}

// loadEnvFile reads a dotenv file and installs its values just above the
// defaults, so real environment variables and config files win.
func loadEnvFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	for key, name := range envBindings {
		if value := env.GetString(strings.ToLower(name)); value != "" {
			v.SetDefault(key, value)
		}
	}
	return nil
}

// SplitList flattens comma-separated entries, trimming blanks and dropping
// duplicates while keeping first-seen order.
func SplitList(entries ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, entry := range entries {
		for _, item := range strings.Split(entry, ",") {
			item = strings.TrimSpace(item)
			if item == "" || seen[item] {
				continue
			}
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var err error
	if c.GitHub.Token == "" {
		err = multierr.Append(err, errors.New("github token is not set (GITHUB_KEY)"))
	}
	if c.Notion.Token == "" {
		err = multierr.Append(err, errors.New("notion token is not set (NOTION_KEY)"))
	}
	if c.Notion.DatabaseID == "" {
		err = multierr.Append(err, errors.New("notion database id is not set (NOTION_DATABASE_ID)"))
	}
	if c.Sync.BatchSize < 1 {
		err = multierr.Append(err, fmt.Errorf("sync.batch_size must be at least 1, got %d", c.Sync.BatchSize))
	}
	if c.Sync.Timeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("sync.timeout must be positive, got %v", c.Sync.Timeout))
	}
	if c.Sync.RetryAttempts < 1 {
		err = multierr.Append(err, fmt.Errorf("sync.retry_attempts must be at least 1, got %d", c.Sync.RetryAttempts))
	}
	if _, perr := reconcile.ParsePullRequestPolicy(c.Sync.PullRequests); perr != nil {
		err = multierr.Append(err, perr)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	return err
}

// Verbose reports whether component progress logs should be written.
func (c *Config) Verbose() bool {
	return c.Log.Level == "debug" || c.Log.Level == "info"
}

// RetryPolicy converts the configured attempt count.
func (c *Config) RetryPolicy() reconcile.RetryPolicy {
	if c.Sync.RetryAttempts <= 1 {
		return reconcile.NoRetry
	}
	policy := reconcile.DefaultRetryPolicy()
	policy.MaxAttempts = c.Sync.RetryAttempts
	return policy
}

// LedgerPath is the SQLite ledger inside the state directory.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.StateDir, "ledger.db")
}

// LockPath is the run lock inside the state directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.StateDir, "sync.lock")
}

// WriteFile writes c as a TOML config file readable by Load. The file holds
// credentials and is created owner-only.
func WriteFile(path string, c *Config) error {
	doc := map[string]interface{}{
		"github": map[string]interface{}{
			"token":        c.GitHub.Token,
			"owner":        c.GitHub.Owner,
			"repositories": c.GitHub.Repositories,
		},
		"notion": map[string]interface{}{
			"token":       c.Notion.Token,
			"database_id": c.Notion.DatabaseID,
		},
		"sync": map[string]interface{}{
			"batch_size":          c.Sync.BatchSize,
			"timeout":             c.Sync.Timeout.String(),
			"retry_attempts":      c.Sync.RetryAttempts,
			"pull_requests":       c.Sync.PullRequests,
			"extended_properties": c.Sync.ExtendedProperties,
		},
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Targets is the resolved repository list of a session.
type Targets struct {
	Repositories []string
	Overrides    map[string]reconcile.PullRequestPolicy
}

// ResolveTargets merges explicit repositories, the configured list and the
// manifest, in that order, without duplicates. Explicit repositories replace
// the configured list but not the manifest.
func (c *Config) ResolveTargets(explicit []string) (*Targets, error) {
	configured := c.GitHub.Repositories
	if len(explicit) > 0 {
		configured = explicit
	}
	targets := &Targets{
		Repositories: SplitList(configured...),
		Overrides:    make(map[string]reconcile.PullRequestPolicy),
	}

	if c.Manifest != "" {
		manifest, err := LoadManifest(c.Manifest)
		if err != nil {
			return nil, err
		}
		if err := manifest.apply(targets); err != nil {
			return nil, err
		}
	}

	if len(targets.Repositories) == 0 {
		return nil, errors.New("no repositories configured (GITHUB_REPO_NAME, --manifest or arguments)")
	}
	return targets, nil
}
