package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var knownDrivers = map[string]bool{
	"": true, "none": true, "memory": true, "mem": true, "file": true,
	"sqlite": true, "sqlite3": true, "postgres": true, "postgresql": true, "pg": true,
}

// Validate checks field syntax. Cross-component checks (tick spec, timezone,
// sender wiring) happen when the app maps the config onto its services.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "pretty", "json":
	default:
		add(fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	driver := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if !knownDrivers[driver] {
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	switch driver {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(fmt.Errorf("storage.path is required for driver %q", driver))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(errors.New("storage.dsn is required for postgres"))
		}
	}
	_, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	add(err)

	for path, raw := range map[string]string{
		"scheduler.due_window":      c.Scheduler.DueWindow,
		"scheduler.dedup_gap":       c.Scheduler.DedupGap,
		"scheduler.send_timeout":    c.Scheduler.SendTimeout,
		"notifier.email.timeout":    c.Notifier.Email.Timeout,
		"notifier.telegram.timeout": c.Notifier.Telegram.Timeout,
		"http.read_timeout":         c.HTTP.ReadTimeout,
		"http.write_timeout":        c.HTTP.WriteTimeout,
		"http.idle_timeout":         c.HTTP.IdleTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	if c.Scheduler.Workers < 0 {
		add(errors.New("scheduler.workers must be >= 0"))
	}
	if c.Notifier.RatePerSec < 0 {
		add(errors.New("notifier.rate_per_sec must be >= 0"))
	}
	if c.Notifier.Email.Enabled && strings.TrimSpace(c.Notifier.Email.Host) == "" {
		add(errors.New("notifier.email.host is required when email is enabled"))
	}
	if p := c.Notifier.Email.Port; p < 0 || p > 65535 {
		add(fmt.Errorf("notifier.email.port: out of range %d", p))
	}
	if c.Notifier.Telegram.Enabled && strings.TrimSpace(c.Notifier.Telegram.Token) == "" {
		add(errors.New("notifier.telegram.token is required when telegram is enabled"))
	}
	if c.HTTP.Enabled && strings.TrimSpace(c.HTTP.Addr) == "" {
		add(errors.New("http.addr is required when http is enabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ParseDurationField parses a Go duration string for key. Empty input is 0
// and negative durations are rejected.
func ParseDurationField(key, raw string) (time.Duration, error) {
	if key == "" {
		key = "duration"
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", key, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %s", key, raw)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when raw is empty or zero.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
