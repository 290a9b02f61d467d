package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quailyquaily/nightshift/internal/pathutil"
)

const defaultSQLitePath = "~/.nightshift/nightshift.db"

type Config struct {
	Driver      string
	DSN         string
	AutoMigrate bool
	Pool        PoolConfig
	SQLite      SQLiteConfig
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type SQLiteConfig struct {
	BusyTimeoutMs int
	WAL           bool
	ForeignKeys   bool
}

func DefaultConfig() Config {
	return Config{
		Driver:      "sqlite",
		AutoMigrate: true,
		Pool: PoolConfig{
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		SQLite: SQLiteConfig{
			BusyTimeoutMs: 5000,
			WAL:           true,
			ForeignKeys:   true,
		},
	}
}

// ResolveSQLiteDSN expands a configured path into a DSN gorm can open and
// makes sure the parent directory exists. "file:" DSNs and ":memory:" pass
// through unchanged.
func ResolveSQLiteDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}
	path := pathutil.ExpandHomePath(dsn)
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	return path, nil
}
