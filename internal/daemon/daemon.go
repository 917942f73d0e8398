// Package daemon runs sync sessions on a schedule.
//
// The daemon:
//  1. Runs a session immediately on start
//  2. Runs again every Interval, skipping ticks that arrive during a run
//  3. Optionally watches the repository manifest and re-runs, debounced,
//     when it changes
//  4. Stops when its context is cancelled, after the current run returns
//
// Sessions are executed on a single goroutine, so two sessions started by
// one daemon never overlap.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Trigger says why a run was started.
type Trigger int

const (
	// TriggerStartup is the run performed when the daemon starts.
	TriggerStartup Trigger = iota
	// TriggerInterval is a scheduled run.
	TriggerInterval
	// TriggerManifest is a run caused by a manifest change.
	TriggerManifest
)

// String returns a human-readable representation of the trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerStartup:
		return "startup"
	case TriggerInterval:
		return "interval"
	case TriggerManifest:
		return "manifest"
	default:
		return "unknown"
	}
}

// RunFunc performs one sync session. It should reload anything that may
// have changed between runs, such as the repository list.
type RunFunc func(ctx context.Context, trigger Trigger) error

// Config holds configuration for the daemon.
type Config struct {
	// Interval between scheduled runs.
	Interval time.Duration

	// ManifestPath, when set, is watched for changes.
	ManifestPath string

	// DebounceInterval is how long the manifest must stay quiet before a
	// change triggers a run. This batches editor save bursts together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         15 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats counts daemon activity.
type Stats struct {
	Runs         int
	Failures     int
	SkippedTicks int
	LastTrigger  Trigger
	LastRunAt    time.Time
	LastErr      error
}

// Daemon schedules sync sessions.
type Daemon struct {
	run    RunFunc
	config *Config

	mu    sync.Mutex
	stats Stats
}

// New creates a daemon. Use Start() to begin scheduling.
func New(run RunFunc, config *Config) (*Daemon, error) {
	if run == nil {
		return nil, fmt.Errorf("run function cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	return &Daemon{run: run, config: config}, nil
}

// Start runs the schedule. It blocks until ctx is cancelled and returns nil
// on a clean shutdown. Run errors are logged and counted, never returned.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon (interval %v)", d.config.Interval)

	var events <-chan FileEvent
	var watchErrs <-chan error
	if d.config.ManifestPath != "" {
		watcher, err := NewFileWatcher()
		if err != nil {
			return err
		}
		if err := watcher.Start(d.config.ManifestPath); err != nil {
			_ = watcher.Stop()
			return fmt.Errorf("failed to watch manifest: %w", err)
		}
		defer watcher.Stop()
		events = watcher.Events()
		watchErrs = watcher.Errors()
		d.config.Logger.Printf("Watching manifest: %s", d.config.ManifestPath)
	}

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	debounce := time.NewTimer(d.config.DebounceInterval)
	debounce.Stop()
	defer debounce.Stop()

	d.runOnce(ctx, TriggerStartup, ticker)

	for {
		select {
		case <-ctx.Done():
			d.config.Logger.Println("Shutdown signal received")
			return nil

		case <-ticker.C:
			d.runOnce(ctx, TriggerInterval, ticker)

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Op == OpDelete {
				d.config.Logger.Printf("Manifest %s removed; waiting for it to return", event.Path)
				continue
			}
			d.config.Logger.Printf("Manifest event: %s %s", event.Op, event.Path)
			debounce.Reset(d.config.DebounceInterval)

		case <-debounce.C:
			d.runOnce(ctx, TriggerManifest, ticker)

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// runOnce performs a run and then discards a tick that fired meanwhile.
func (d *Daemon) runOnce(ctx context.Context, trigger Trigger, ticker *time.Ticker) {
	if ctx.Err() != nil {
		return
	}

	d.config.Logger.Printf("Running sync (%s)", trigger)
	start := time.Now()
	err := d.run(ctx, trigger)

	d.mu.Lock()
	d.stats.Runs++
	d.stats.LastTrigger = trigger
	d.stats.LastRunAt = start
	d.stats.LastErr = err
	if err != nil {
		d.stats.Failures++
	}
	d.mu.Unlock()

	if err != nil {
		d.config.Logger.Printf("Sync failed after %v: %v", time.Since(start).Round(time.Millisecond), err)
	} else {
		d.config.Logger.Printf("Sync finished in %v", time.Since(start).Round(time.Millisecond))
	}

	select {
	case <-ticker.C:
		d.mu.Lock()
		d.stats.SkippedTicks++
		d.mu.Unlock()
		d.config.Logger.Println("Skipped a scheduled run that came due during the previous run")
	default:
	}
}

// Stats returns a snapshot of the daemon's counters.
func (d *Daemon) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
