// Package upstream holds the plumbing shared by the MusicBrainz and AcousticBrainz clients:
// the identifying User-Agent, request pacing, and the bounded rate-limit retry policy.
package upstream

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/listenlog/listenlog/internal/config"
)

const (
	// DefaultConfigPath is the identity file read when LISTENLOG_CONFIG_PATH is unset.
	DefaultConfigPath = ".listenlog.yaml"
	// ConfigPathEnvVar overrides DefaultConfigPath.
	ConfigPathEnvVar = "LISTENLOG_CONFIG_PATH"
	// DefaultAppName is used when neither the file nor the environment names the client.
	DefaultAppName = "listenlog"
)

// ErrIdentityAppNameEmpty is returned when the client identity has no application name.
var ErrIdentityAppNameEmpty = errors.New("client identity app name cannot be empty")

// Identity names this client to upstream services. MusicBrainz rejects anonymous clients.
type Identity struct {
	AppName    string `yaml:"app_name"`
	AppVersion string `yaml:"app_version"`
	Contact    string `yaml:"contact"`
}

type identityFile struct {
	Client Identity `yaml:"client"`
}

// LoadIdentity reads the identity from a YAML file shaped like
//
//	client:
//	  app_name: listenlog
//	  app_version: 1.0.0
//	  contact: me@example.com
//
// A missing or unreadable file is not an error; LISTENLOG_APP_NAME and
// LISTENLOG_CONTACT override whatever the file provides. A nil logger uses slog.Default.
func LoadIdentity(path string, logger *slog.Logger) (*Identity, error) {
	if logger == nil {
		logger = slog.Default()
	}

	id := &Identity{}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted configuration
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Debug("Identity file not found, using environment and defaults", slog.String("path", path))
	case err != nil:
		logger.Warn("Failed to read identity file, using environment and defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))
	case len(data) > 0:
		var file identityFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse identity file %s: %w", path, err)
		}

		*id = file.Client
	}

	id.AppName = config.GetEnvStr("LISTENLOG_APP_NAME", id.AppName)
	id.Contact = config.GetEnvStr("LISTENLOG_CONTACT", id.Contact)

	if strings.TrimSpace(id.AppName) == "" {
		id.AppName = DefaultAppName
	}

	return id, nil
}

// LoadIdentityFromEnv loads the identity from LISTENLOG_CONFIG_PATH or DefaultConfigPath.
func LoadIdentityFromEnv(logger *slog.Logger) (*Identity, error) {
	return LoadIdentity(config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath), logger)
}

// Validate checks that the identity can produce a User-Agent.
func (i *Identity) Validate() error {
	if i == nil || strings.TrimSpace(i.AppName) == "" {
		return ErrIdentityAppNameEmpty
	}

	return nil
}

// UserAgent renders the identity in the "app/version ( contact )" form MusicBrainz asks for.
func (i *Identity) UserAgent() string {
	ua := strings.TrimSpace(i.AppName)

	if v := strings.TrimSpace(i.AppVersion); v != "" {
		ua += "/" + v
	}

	if c := strings.TrimSpace(i.Contact); c != "" {
		ua += " ( " + c + " )"
	}

	return ua
}
