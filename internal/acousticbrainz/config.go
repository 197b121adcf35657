package acousticbrainz

import (
	"errors"
	"strings"
	"time"

	"github.com/listenlog/listenlog/internal/config"
)

const (
	defaultBaseURL           = "https://acousticbrainz.org"
	defaultRequestsPerWindow = 10
	defaultWindow            = 10 * time.Second
	defaultRateLimitCooldown = 10 * time.Second
	defaultMaxAttempts       = 6
	defaultTimeout           = 10 * time.Second
)

var (
	// ErrBaseURLEmpty is returned when the AcousticBrainz base URL is blank.
	ErrBaseURLEmpty = errors.New("acousticbrainz base URL cannot be empty")
	// ErrMaxAttemptsInvalid is returned when MaxAttempts is below one.
	ErrMaxAttemptsInvalid = errors.New("acousticbrainz max attempts must be at least 1")
	// ErrRequestsPerWindowInvalid is returned when the pacing window allows no requests.
	ErrRequestsPerWindowInvalid = errors.New("acousticbrainz requests per window must be at least 1")
)

// Config controls the AcousticBrainz client.
type Config struct {
	BaseURL           string
	RequestsPerWindow int
	Window            time.Duration
	RateLimitCooldown time.Duration
	MaxAttempts       int // Requests per MBID before it is abandoned for this run
	Timeout           time.Duration
}

// LoadConfig loads the AcousticBrainz configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		BaseURL:           config.GetEnvStr("ACOUSTICBRAINZ_BASE_URL", defaultBaseURL),
		RequestsPerWindow: config.GetEnvInt("ACOUSTICBRAINZ_REQUESTS_PER_WINDOW", defaultRequestsPerWindow),
		Window:            config.GetEnvDuration("ACOUSTICBRAINZ_WINDOW", defaultWindow),
		RateLimitCooldown: config.GetEnvDuration("ACOUSTICBRAINZ_RATE_LIMIT_COOLDOWN", defaultRateLimitCooldown),
		MaxAttempts:       config.GetEnvInt("ACOUSTICBRAINZ_MAX_ATTEMPTS", defaultMaxAttempts),
		Timeout:           config.GetEnvDuration("ACOUSTICBRAINZ_TIMEOUT", defaultTimeout),
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

	if c.RequestsPerWindow < 1 {
		return ErrRequestsPerWindowInvalid
	}

	return nil
}
