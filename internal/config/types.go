package config

// Config is the on-disk configuration. JSON and YAML share these keys.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  NotifierConfig  `json:"notifier"`
	HTTP      HTTPConfig      `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // "pretty" (default) or "json"
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/medtrack.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres only (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the reminder dispatch loop.
//
// Durations are Go duration strings. Tick also accepts a cron spec
// ("*/30 * * * * *", "@every 1m") or "HH:MM".
type SchedulerConfig struct {
	Enabled     bool   `json:"enabled"`
	Tick        string `json:"tick,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	DueWindow   string `json:"due_window,omitempty"`
	DedupGap    string `json:"dedup_gap,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	Workers     int    `json:"workers,omitempty"`

	OnePerOccurrence bool `json:"one_per_occurrence,omitempty"`
}

type NotifierConfig struct {
	// DryRun logs reminders instead of delivering them.
	DryRun            bool           `json:"dry_run"`
	RatePerSec        int            `json:"rate_per_sec,omitempty"`
	LowStockThreshold int            `json:"low_stock_threshold,omitempty"`
	Email             EmailConfig    `json:"email"`
	Telegram          TelegramConfig `json:"telegram"`
}

type EmailConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	From     string `json:"from,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"` // do not log
	Timeout string `json:"timeout,omitempty"`
}

// HTTPConfig controls the JSON API server.
//
// Security note:
//   - Prefer binding to localhost (the default).
//   - A non-loopback address needs a token or an explicit allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Pprof mounts net/http/pprof under /debug.
	Pprof bool `json:"pprof,omitempty"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "sqlite", Path: "./data/medtrack.db"},
		Scheduler: SchedulerConfig{
			Enabled:   true,
			Tick:      "@every 1m",
			DueWindow: "5m",
			DedupGap:  "3m",
		},
		Notifier: NotifierConfig{RatePerSec: 5},
		HTTP:     HTTPConfig{Enabled: true, Addr: "127.0.0.1:8080"},
	}
}
