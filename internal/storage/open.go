package storage

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	logx "medtrack/pkg/logx"
)

type opener func(Config, logx.Logger) (Store, error)

var openers = map[string]opener{
	"memory":   func(_ Config, log logx.Logger) (Store, error) { return newMemory(log), nil },
	"file":     openFile,
	"sqlite":   openSQLite,
	"postgres": openPostgres,
}

// DriverName maps driver aliases onto their canonical name. Disabled
// storage ("" or "none") maps to "".
func DriverName(raw string) string {
	switch d := strings.ToLower(strings.TrimSpace(raw)); d {
	case "none":
		return ""
	case "mem":
		return "memory"
	case "sqlite3":
		return "sqlite"
	case "postgresql", "pg":
		return "postgres"
	default:
		return d
	}
}

// Open returns the store for cfg.Driver, or nil when storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := DriverName(cfg.Driver)
	if name == "" {
		return nil, nil
	}
	open, ok := openers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.With(logx.String("driver", name)))
}

func newID() string { return uuid.NewString() }
