package app

import (
	"fmt"
	"strings"
	"time"

	"medtrack/internal/api"
	"medtrack/internal/config"
	"medtrack/internal/notifier"
	"medtrack/internal/reminder"
	"medtrack/internal/storage"
	logx "medtrack/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig reports enabled=false for driver "" or "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := storage.DriverName(sc.Driver)
	if driver == "" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, true, nil
}

func mapSchedulerConfig(cfg *config.Config) (reminder.Config, error) {
	sc := cfg.Scheduler
	window, err := config.ParseDurationOrDefault("scheduler.due_window", sc.DueWindow, reminder.DefaultDueWindow)
	if err != nil {
		return reminder.Config{}, err
	}
	gap, err := config.ParseDurationOrDefault("scheduler.dedup_gap", sc.DedupGap, reminder.DefaultDedupGap)
	if err != nil {
		return reminder.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("scheduler.send_timeout", sc.SendTimeout, reminder.DefaultSendTimeout)
	if err != nil {
		return reminder.Config{}, err
	}
	tick := strings.TrimSpace(sc.Tick)
	if _, err := reminder.ParseTick(tick); err != nil {
		return reminder.Config{}, fmt.Errorf("scheduler.tick: %w", err)
	}
	tz := strings.TrimSpace(sc.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return reminder.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return reminder.Config{
		Enabled:          sc.Enabled,
		Tick:             tick,
		Timezone:         tz,
		DueWindow:        window,
		DedupGap:         gap,
		SendTimeout:      sendTimeout,
		Workers:          sc.Workers,
		OnePerOccurrence: sc.OnePerOccurrence,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	emailTimeout, err := config.ParseDurationOrDefault("notifier.email.timeout", nc.Email.Timeout, 15*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	tgTimeout, err := config.ParseDurationOrDefault("notifier.telegram.timeout", nc.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		DryRun:            nc.DryRun,
		RatePerSec:        nc.RatePerSec,
		LowStockThreshold: nc.LowStockThreshold,
		Email: notifier.EmailConfig{
			Enabled:  nc.Email.Enabled,
			Host:     strings.TrimSpace(nc.Email.Host),
			Port:     nc.Email.Port,
			Username: nc.Email.Username,
			Password: nc.Email.Password,
			From:     strings.TrimSpace(nc.Email.From),
			Timeout:  emailTimeout,
		},
		Telegram: notifier.TelegramConfig{
			Enabled: nc.Telegram.Enabled,
			Token:   strings.TrimSpace(nc.Telegram.Token),
			Timeout: tgTimeout,
		},
	}, nil
}

func mapServerConfig(cfg *config.Config) (api.ServerConfig, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 15*time.Second)
	if err != nil {
		return api.ServerConfig{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 30*time.Second)
	if err != nil {
		return api.ServerConfig{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 60*time.Second)
	if err != nil {
		return api.ServerConfig{}, err
	}
	addr := strings.TrimSpace(hc.Addr)
	if addr == "" {
		addr = api.DefaultAddr
	}
	return api.ServerConfig{
		Enabled:       hc.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(hc.Token),
		AllowInsecure: hc.AllowInsecure,
		Pprof:         hc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// location resolves scheduler.timezone; an empty or invalid zone is time.Local.
func location(cfg *config.Config) *time.Location {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// validateReload rejects a config that parses but cannot be applied.
func validateReload(cfg *config.Config) error {
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	// Channel construction checks addresses and tokens without network I/O.
	if _, err := notifier.NewRouter(ncfg, location(cfg), logx.Nop(), nil); err != nil {
		return err
	}
	if _, err := mapServerConfig(cfg); err != nil {
		return err
	}
	return nil
}
