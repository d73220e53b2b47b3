// Package config provides configuration management for the guildvault server.
// It handles loading and parsing YAML configuration files, and provides structured
// access to application settings including server port, storage location, Discord
// application credentials, and the tuning knobs of the backup/restore engine.
package config

import (
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by LoadConfig when the YAML omits a value.
const (
	DefaultPort             = 8317
	DefaultSafetyMargin     = 5 * time.Minute
	DefaultProgressInterval = 5 * time.Second
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the network port on which the HTTP server will listen.
	Port int `yaml:"port"`

	// DataDir is the directory holding the bbolt database file.
	DataDir string `yaml:"data-dir"`

	// Debug enables or disables debug-level logging and other debug features.
	Debug bool `yaml:"debug"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url"`

	// ManagementKey authenticates callers of the /v0 management endpoints.
	// When empty, the management API is not exposed at all.
	ManagementKey string `yaml:"management-key"`

	// Discord holds the Discord application and bot credentials.
	Discord Discord `yaml:"discord"`

	// SafetyMarginSeconds is the lead time before token expiry at which a
	// stored access token is proactively refreshed. Defaults to 300.
	SafetyMarginSeconds int `yaml:"safety-margin-seconds"`

	// ProgressIntervalSeconds is the minimum wall-clock gap between two
	// progress updates emitted by long-running operations. Defaults to 5.
	ProgressIntervalSeconds int `yaml:"progress-interval-seconds"`

	// RestoreLimit caps the number of snapshot entries processed per restore
	// invocation. Zero means unlimited.
	RestoreLimit int `yaml:"restore-limit"`

	// mu guards the fields ApplyReload may change while request handlers
	// read them.
	mu sync.RWMutex
}

// ApplyReload copies the runtime-adjustable fields from updated into c.
// Everything else (port, data dir, credentials) requires a restart and is
// left untouched.
func (c *Config) ApplyReload(updated *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Debug = updated.Debug
	c.ProgressIntervalSeconds = updated.ProgressIntervalSeconds
	c.RestoreLimit = updated.RestoreLimit
}

// Discord represents the credentials used against the Discord API: the
// OAuth2 application pair for token refresh and the bot token used by the
// membership-grant endpoint.
type Discord struct {
	// ClientID is the OAuth2 application client id.
	ClientID string `yaml:"client-id"`

	// ClientSecret is the OAuth2 application client secret. The
	// GUILDVAULT_CLIENT_SECRET environment variable overrides it.
	ClientSecret string `yaml:"client-secret"`

	// BotToken authorizes roster reads and membership grants. The
	// GUILDVAULT_BOT_TOKEN environment variable overrides it.
	BotToken string `yaml:"bot-token"`

	// RedirectURL is the OAuth2 callback URL registered for the application.
	RedirectURL string `yaml:"redirect-url"`
}

// SafetyMargin returns the configured token expiry safety margin.
func (c *Config) SafetyMargin() time.Duration {
	if c.SafetyMarginSeconds <= 0 {
		return DefaultSafetyMargin
	}
	return time.Duration(c.SafetyMarginSeconds) * time.Second
}

// ProgressInterval returns the configured progress update cadence.
func (c *Config) ProgressInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ProgressIntervalSeconds <= 0 {
		return DefaultProgressInterval
	}
	return time.Duration(c.ProgressIntervalSeconds) * time.Second
}

// RestoreLimitPerRun returns the configured per-invocation restore cap.
func (c *Config) RestoreLimitPerRun() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RestoreLimit
}

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it into a Config struct, applies defaults and environment
// variable overrides, and returns it.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.DataDir == "" {
		config.DataDir = "./data"
	}
	if secret := os.Getenv("GUILDVAULT_CLIENT_SECRET"); secret != "" {
		config.Discord.ClientSecret = secret
	}
	if token := os.Getenv("GUILDVAULT_BOT_TOKEN"); token != "" {
		config.Discord.BotToken = token
	}

	if strings.HasPrefix(config.DataDir, "~") {
		home, errHome := os.UserHomeDir()
		if errHome != nil {
			return nil, fmt.Errorf("failed to expand data dir: %w", errHome)
		}
		config.DataDir = path.Join(home, strings.TrimPrefix(config.DataDir, "~"))
	}

	return &config, nil
}
