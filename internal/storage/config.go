package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/listenlog/listenlog/internal/config"
)

// A daily batch job holds one transaction at a time; a small pool is enough.
const (
	defaultMaxOpenConns    = 4
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
)

// ErrDatabaseURLEmpty is returned when the database url is an empty string.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// Config holds PostgreSQL connection configuration.
type Config struct {
	databaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfig loads PostgreSQL configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetEnvStr("DATABASE_URL", ""),
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
	}
}

// WithDatabaseURL returns a copy of the config pointing at url. A blank url keeps the current one.
func (c *Config) WithDatabaseURL(url string) *Config {
	out := *c

	if strings.TrimSpace(url) != "" {
		out.databaseURL = url
	}

	return &out
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// MaskDatabaseURL returns the database url with its password replaced by ***, safe for logging.
func (c *Config) MaskDatabaseURL() string {
	raw := c.databaseURL

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}

	// The last @ separates userinfo from the host, so passwords may contain @.
	at := strings.LastIndex(rest, "@")
	if at == -1 {
		return raw
	}

	user, password, hasPassword := strings.Cut(rest[:at], ":")
	if !hasPassword || password == "" {
		return raw
	}

	return scheme + "://" + user + ":***" + rest[at:]
}
