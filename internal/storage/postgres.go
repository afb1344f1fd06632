package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	logx "medtrack/pkg/logx"
)

var postgresDialect = dialect{
	name:        "postgres",
	dbAssignsID: true,
	timeArg:     func(t time.Time) any { return t.UTC() },
	boolArg:     func(b bool) any { return b },
}

var postgresPool = pool{
	maxOpen:  10,
	maxIdle:  5,
	idleTime: 5 * time.Minute,
	lifetime: 30 * time.Minute,
}

// openPostgres uses the pgx database/sql driver. Ids are read and compared
// as text, so an existing medications table with serial ids keeps working.
func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	st, err := openSQL(ctx, "pgx", dsn, postgresDialect, postgresPool, nil, "migrations/postgres.sql", log)
	if err != nil {
		return nil, err
	}
	log.Debug("postgres store opened")
	return st, nil
}
