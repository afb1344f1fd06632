package config

import logx "medtrack/pkg/logx"

// Change summarizes a reload for logging. Attrs never carry secrets.
type Change struct {
	Sections []string
	Attrs    []logx.Field
	// Restart lists sections whose new values only take effect after a restart.
	Restart []string
}

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		mark("storage",
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Redacted("storage.dsn", newCfg.Storage.DSN),
		)
		ch.Restart = append(ch.Restart, "storage")
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		mark("scheduler",
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.tick", newCfg.Scheduler.Tick),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.due_window", newCfg.Scheduler.DueWindow),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
		)
	}

	on, nn := oldCfg.Notifier, newCfg.Notifier
	if on != nn {
		mark("notifier",
			logx.Bool("notifier.dry_run", nn.DryRun),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Bool("notifier.email", nn.Email.Enabled),
			logx.String("notifier.email_host", nn.Email.Host),
			logx.Bool("notifier.telegram", nn.Telegram.Enabled),
			logx.Redacted("notifier.telegram_token", nn.Telegram.Token),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		mark("http",
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Redacted("http.token", newCfg.HTTP.Token),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}
	return ch
}
