// Package db opens the gorm connection and keeps the schema current.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/diewo77/go-blog/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectAttempts = 10

// Open connects using cfg. Postgres connections are retried to give the
// server time to start; sqlite opens with foreign keys enforced.
func Open(cfg config.DatabaseConfig, log *slog.Logger) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: newLogger(log, cfg.Debug), TranslateError: true}
	switch cfg.Driver {
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath, gcfg)
	case "postgres", "":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
	}

	var (
		conn *gorm.DB
		err  error
	)
	for i := 0; i < connectAttempts; i++ {
		conn, err = gorm.Open(postgres.Open(cfg.DSN()), gcfg)
		if err == nil {
			break
		}
		log.Warn("retrying database connection", "attempt", i+1, "err", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect database after retries: %w", err)
	}
	if err := Ping(context.Background(), conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// OpenSQLite opens a sqlite database at path (":memory:" or a file name).
func OpenSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	if gcfg == nil {
		gcfg = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true}
	}
	dsn := path
	if dsn == ":memory:" || dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	dsn += sep(dsn) + "_foreign_keys=1"
	conn, err := gorm.Open(sqlite.Open(dsn), gcfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return conn, nil
}

func sep(dsn string) string {
	for _, c := range dsn {
		if c == '?' {
			return "&"
		}
	}
	return "?"
}

// Ping runs a trivial query.
func Ping(ctx context.Context, conn *gorm.DB) error {
	if err := conn.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		return fmt.Errorf("db ping failed: %w", err)
	}
	return nil
}

// newLogger routes gorm's log lines through slog. Queries are only logged
// when debug is set; slow queries and errors always are.
func newLogger(log *slog.Logger, debug bool) logger.Interface {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	return logger.New(slog.NewLogLogger(log.Handler(), slog.LevelInfo), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}
