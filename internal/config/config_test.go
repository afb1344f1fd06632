package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDecodeYAMLOverDefaults(t *testing.T) {
	t.Parallel()

	src := []byte(`
logging:
  level: debug
  console: true
storage:
  driver: memory
scheduler:
  enabled: true
  tick: 30s
  workers: 4
notifier:
  dry_run: true
`)
	cfg, err := Decode("medtrack.yaml", src)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Scheduler.Tick != "30s" || cfg.Scheduler.Workers != 4 {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	// Omitted keys keep their defaults.
	if cfg.Scheduler.DueWindow != "5m" || cfg.HTTP.Addr != "127.0.0.1:8080" {
		t.Fatalf("defaults lost: due_window=%q addr=%q", cfg.Scheduler.DueWindow, cfg.HTTP.Addr)
	}
	if !cfg.Notifier.DryRun {
		t.Fatalf("dry_run not set")
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		src  string
		want string
	}{
		{"unknown key", "c.json", `{"scheduler":{"enabled":true,"tix":"1m"}}`, "unknown field"},
		{"trailing data", "c.json", `{"storage":{"driver":"memory"}} {}`, "trailing data"},
		{"bad duration", "c.json", `{"storage":{"driver":"memory"},"scheduler":{"due_window":"soon"}}`, "scheduler.due_window"},
		{"negative duration", "c.json", `{"storage":{"driver":"memory"},"http":{"read_timeout":"-1s"}}`, "http.read_timeout"},
		{"unknown driver", "c.json", `{"storage":{"driver":"mongo"}}`, "storage.driver"},
		{"postgres needs dsn", "c.json", `{"storage":{"driver":"postgres"}}`, "storage.dsn"},
		{"email needs host", "c.yml", "storage:\n  driver: memory\nnotifier:\n  email:\n    enabled: true\n", "notifier.email.host"},
		{"bad yaml", "c.yaml", "storage: [", "yaml"},
	}
	for _, tc := range cases {
		_, err := Decode(tc.file, []byte(tc.src))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v, want it to mention %q", tc.name, err, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want time.Duration
		err  bool
	}{
		{"", time.Minute, false},
		{"0s", time.Minute, false},
		{"90s", 90 * time.Second, false},
		{" 2m ", 2 * time.Minute, false},
		{"-5s", 0, true},
		{"five", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationOrDefault("x", tc.raw, time.Minute)
		if (err != nil) != tc.err {
			t.Fatalf("%q: err = %v", tc.raw, err)
		}
		if !tc.err && got != tc.want {
			t.Fatalf("%q: got %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	a := Default()
	b := Default()
	b.Scheduler.Tick = "@every 30s"
	b.Storage.Driver = "postgres"
	b.Storage.DSN = "postgres://secret@db/medtrack"

	ch := SummarizeConfigChange(&a, &b)
	if strings.Join(ch.Sections, ",") != "storage,scheduler" {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if len(ch.Restart) != 1 || ch.Restart[0] != "storage" {
		t.Fatalf("restart = %v", ch.Restart)
	}
	if got := SummarizeConfigChange(&a, &a); len(got.Sections) != 0 {
		t.Fatalf("identical configs reported %v", got.Sections)
	}
}

func TestConfigManagerWatchPublishes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "medtrack.json")
	write := func(tick string) {
		t.Helper()
		body := `{"storage":{"driver":"memory"},"scheduler":{"enabled":true,"tick":"` + tick + `"}}`
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("1m")

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	rejected := make(chan struct{}, 1)
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Scheduler.Tick == "nope" {
			select {
			case rejected <- struct{}{}:
			default:
			}
			return os.ErrInvalid
		}
		return nil
	})
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)

	write("nope")
	select {
	case <-rejected:
	case <-time.After(5 * time.Second):
		t.Fatalf("validator was not consulted")
	}
	if got := m.Get().Scheduler.Tick; got != "1m" {
		t.Fatalf("rejected config committed: tick = %q", got)
	}

	write("2m")
	select {
	case cfg := <-sub:
		if cfg.Scheduler.Tick != "2m" {
			t.Fatalf("published tick = %q", cfg.Scheduler.Tick)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Watch did not return after cancel")
	}
}
