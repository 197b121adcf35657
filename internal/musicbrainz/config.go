package musicbrainz

import (
	"errors"
	"strings"
	"time"

	"github.com/listenlog/listenlog/internal/config"
)

const (
	defaultBaseURL           = "https://musicbrainz.org"
	defaultMinInterval       = 1 * time.Second
	defaultRateLimitCooldown = 1 * time.Second
	defaultMaxAttempts       = 10
	defaultTimeout           = 10 * time.Second
)

var (
	// ErrBaseURLEmpty is returned when the MusicBrainz base URL is blank.
	ErrBaseURLEmpty = errors.New("musicbrainz base URL cannot be empty")
	// ErrMaxAttemptsInvalid is returned when MaxAttempts is below one.
	ErrMaxAttemptsInvalid = errors.New("musicbrainz max attempts must be at least 1")
)

// Config controls the MusicBrainz client.
//
// MusicBrainz documents a far higher ceiling, but one request per second keeps a
// daily run well clear of it.
type Config struct {
	BaseURL           string
	MinInterval       time.Duration // Minimum spacing between any two requests
	RateLimitCooldown time.Duration // Pause after a 429 before resubmitting the same ISRC
	MaxAttempts       int           // Requests per ISRC before it is deferred to the next run
	Timeout           time.Duration
}

// LoadConfig loads the MusicBrainz configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		BaseURL:           config.GetEnvStr("MUSICBRAINZ_BASE_URL", defaultBaseURL),
		MinInterval:       config.GetEnvDuration("MUSICBRAINZ_MIN_INTERVAL", defaultMinInterval),
		RateLimitCooldown: config.GetEnvDuration("MUSICBRAINZ_RATE_LIMIT_COOLDOWN", defaultRateLimitCooldown),
		MaxAttempts:       config.GetEnvInt("MUSICBRAINZ_MAX_ATTEMPTS", defaultMaxAttempts),
		Timeout:           config.GetEnvDuration("MUSICBRAINZ_TIMEOUT", defaultTimeout),
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrBaseURLEmpty
	}

	if c.MaxAttempts < 1 {
		return ErrMaxAttemptsInvalid
	}

	return nil
}
