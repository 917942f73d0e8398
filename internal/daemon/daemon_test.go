package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietConfig(interval time.Duration) *Config {
	return &Config{
		Interval:         interval,
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// recorder is a RunFunc that records triggers and tracks overlap.
type recorder struct {
	mu        sync.Mutex
	triggers  []Trigger
	inFlight  atomic.Int32
	overlap   atomic.Bool
	delay     time.Duration
	err       error
	callCount atomic.Int32
}

func (r *recorder) run(ctx context.Context, trigger Trigger) error {
	if r.inFlight.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.inFlight.Add(-1)

	r.mu.Lock()
	r.triggers = append(r.triggers, trigger)
	r.mu.Unlock()
	r.callCount.Add(1)

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
		}
	}
	return r.err
}

func (r *recorder) snapshot() []Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Trigger(nil), r.triggers...)
}

// startDaemon runs d in the background and returns a stop function that
// waits for Start to return.
func startDaemon(t *testing.T, d *Daemon) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("daemon did not stop")
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNew(t *testing.T) {
	noop := func(context.Context, Trigger) error { return nil }

	tests := []struct {
		name    string
		run     RunFunc
		config  *Config
		wantErr bool
	}{
		{name: "valid configuration", run: noop, config: quietConfig(time.Minute)},
		{name: "default configuration", run: noop, config: nil},
		{name: "nil run function", run: nil, config: quietConfig(time.Minute), wantErr: true},
		{name: "zero interval", run: noop, config: quietConfig(0), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.run, tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestDaemon_RunsImmediatelyThenOnInterval tests the basic schedule
func TestDaemon_RunsImmediatelyThenOnInterval(t *testing.T) {
	rec := &recorder{}
	d, err := New(rec.run, quietConfig(30*time.Millisecond))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	stop := startDaemon(t, d)
	waitFor(t, 2*time.Second, func() bool { return rec.callCount.Load() >= 3 })
	stop()

	triggers := rec.snapshot()
	if triggers[0] != TriggerStartup {
		t.Errorf("first trigger = %v, want startup", triggers[0])
	}
	for _, trig := range triggers[1:] {
		if trig != TriggerInterval {
			t.Errorf("later trigger = %v, want interval", trig)
		}
	}
	if stats := d.Stats(); stats.Runs != len(triggers) {
		t.Errorf("Stats().Runs = %d, want %d", stats.Runs, len(triggers))
	}
}

// TestDaemon_RunsNeverOverlap tests that slow runs skip ticks instead of
// stacking up
func TestDaemon_RunsNeverOverlap(t *testing.T) {
	rec := &recorder{delay: 50 * time.Millisecond}
	d, err := New(rec.run, quietConfig(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	stop := startDaemon(t, d)
	waitFor(t, 2*time.Second, func() bool { return rec.callCount.Load() >= 3 })
	stop()

	if rec.overlap.Load() {
		t.Error("runs overlapped")
	}
	if d.Stats().SkippedTicks == 0 {
		t.Error("expected ticks during slow runs to be skipped")
	}
}

// TestDaemon_RunErrorsAreCounted tests that a failing run does not stop the
// daemon
func TestDaemon_RunErrorsAreCounted(t *testing.T) {
	rec := &recorder{err: errors.New("identity map unavailable")}
	d, err := New(rec.run, quietConfig(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	stop := startDaemon(t, d)
	waitFor(t, 2*time.Second, func() bool { return rec.callCount.Load() >= 2 })
	stop()

	stats := d.Stats()
	if stats.Failures < 2 || stats.LastErr == nil {
		t.Errorf("stats = %+v, want at least 2 failures", stats)
	}
}

// TestDaemon_ManifestChangeTriggersRun tests the debounced manifest watch
func TestDaemon_ManifestChangeTriggersRun(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "repos.toml")
	if err := os.WriteFile(manifest, []byte("[[repository]]\nname = \"api\"\n"), 0644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}

	rec := &recorder{}
	cfg := quietConfig(time.Hour)
	cfg.ManifestPath = manifest
	cfg.DebounceInterval = 100 * time.Millisecond
	d, err := New(rec.run, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	stop := startDaemon(t, d)
	defer stop()
	waitFor(t, 2*time.Second, func() bool { return rec.callCount.Load() >= 1 })

	// A burst of writes collapses into one run.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(manifest, []byte("[[repository]]\nname = \"web\"\n"), 0644); err != nil {
			t.Fatalf("Failed to rewrite manifest: %v", err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return rec.callCount.Load() >= 2 })
	time.Sleep(250 * time.Millisecond)

	triggers := rec.snapshot()
	if len(triggers) != 2 {
		t.Fatalf("triggers = %v, want startup + one manifest run", triggers)
	}
	if triggers[1] != TriggerManifest {
		t.Errorf("second trigger = %v, want manifest", triggers[1])
	}

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write other file: %v", err)
	}
	time.Sleep(250 * time.Millisecond)
	if n := rec.callCount.Load(); n != 2 {
		t.Errorf("runs = %d after unrelated write, want 2", n)
	}
}

// TestDaemon_MissingManifestDirectory tests that Start fails fast
func TestDaemon_MissingManifestDirectory(t *testing.T) {
	cfg := quietConfig(time.Hour)
	cfg.ManifestPath = filepath.Join(t.TempDir(), "missing", "repos.toml")
	d, err := New(func(context.Context, Trigger) error { return nil }, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("Start() should fail when the manifest directory does not exist")
	}
}

func TestTrigger_String(t *testing.T) {
	tests := map[Trigger]string{
		TriggerStartup:  "startup",
		TriggerInterval: "interval",
		TriggerManifest: "manifest",
		Trigger(99):     "unknown",
	}
	for trig, want := range tests {
		if got := trig.String(); got != want {
			t.Errorf("Trigger(%d).String() = %q, want %q", int(trig), got, want)
		}
	}
}
