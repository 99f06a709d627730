package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPoolMinSize    int32 = 1
	DefaultPoolMaxSize    int32 = 10
	DefaultCommandTimeout       = 30 * time.Second
)

// PoolSettings sizes the database connection pool. Values are resolved once
// at startup and passed around by value.
type PoolSettings struct {
	DatabaseURL    string
	MinSize        int32
	MaxSize        int32
	CommandTimeout time.Duration
}

// IsConfigured reports whether a database URL was provided.
func (s PoolSettings) IsConfigured() bool {
	return s.DatabaseURL != ""
}

// PoolSettingsFromEnvironment reads DATABASE_URL, DB_POOL_MIN_SIZE,
// DB_POOL_MAX_SIZE and DB_COMMAND_TIMEOUT_SECONDS. It never fails: bad
// values are logged and replaced by their defaults, and a max size below
// the min size is raised to the min size.
func PoolSettingsFromEnvironment(logger *slog.Logger) PoolSettings {
	if logger == nil {
		logger = slog.Default()
	}

	settings := PoolSettings{
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MinSize:        envInt32(logger, "DB_POOL_MIN_SIZE", DefaultPoolMinSize, 0),
		MaxSize:        envInt32(logger, "DB_POOL_MAX_SIZE", DefaultPoolMaxSize, 1),
		CommandTimeout: time.Duration(envInt32(logger, "DB_COMMAND_TIMEOUT_SECONDS", int32(DefaultCommandTimeout/time.Second), 1)) * time.Second,
	}

	if settings.MaxSize < settings.MinSize {
		logger.Warn("DB_POOL_MAX_SIZE is lower than DB_POOL_MIN_SIZE, raising max to min",
			"min", settings.MinSize,
			"max", settings.MaxSize,
		)
		settings.MaxSize = settings.MinSize
	}

	return settings
}

func envInt32(logger *slog.Logger, name string, fallback, minimum int32) int32 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		logger.Warn("Invalid integer setting, using default", "name", name, "value", raw, "default", fallback)
		return fallback
	}
	if int32(v) < minimum {
		logger.Warn("Integer setting out of range, using default", "name", name, "value", v, "minimum", minimum, "default", fallback)
		return fallback
	}
	return int32(v)
}
