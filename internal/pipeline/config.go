package pipeline

import (
	"errors"

	"github.com/listenlog/listenlog/internal/config"
	"github.com/listenlog/listenlog/internal/enrichment"
)

// ErrMaxCandidatesNegative is returned when the candidate cap is below zero.
var ErrMaxCandidatesNegative = errors.New("max candidates cannot be negative")

// Config controls candidate selection for a run.
type Config struct {
	// AboveWatermark restricts selection to plays newer than the reporting watermark.
	// Off by default so ISRCs deferred by a transient upstream error are picked up again.
	AboveWatermark bool
	MaxCandidates  int // 0 means no cap
}

// LoadConfig loads the pipeline configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		AboveWatermark: config.GetEnvBool("LISTENLOG_SELECT_ABOVE_WATERMARK", false),
		MaxCandidates:  config.GetEnvInt("LISTENLOG_MAX_CANDIDATES", 0),
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.MaxCandidates < 0 {
		return ErrMaxCandidatesNegative
	}

	return nil
}

func (c *Config) selectOptions() enrichment.SelectOptions {
	return enrichment.SelectOptions{
		AboveWatermark: c.AboveWatermark,
		Limit:          c.MaxCandidates,
	}
}
