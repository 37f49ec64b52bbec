// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// defaultDataDir returns the default directory for session credentials,
// rules files, and the state database. Fixed location regardless of CWD.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".dansbot")
}

// Config holds all configuration for the session supervisor and its
// surfaces.
type Config struct {
	// Paths
	DataDir string `mapstructure:"data_dir"`

	// Session
	SessionID string `mapstructure:"session_id"`

	// Reconnection
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnect_max_delay"`

	// Watchdog for sessions stuck waiting on a QR scan or pairing code.
	PendingTimeout time.Duration `mapstructure:"pending_timeout"`

	// HTTP dashboard
	HTTPAddr string `mapstructure:"http_addr"`

	// Telegram control bridge (optional; empty token disables it)
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// SessionDir returns the directory holding per-session credential databases.
func (c *Config) SessionDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// StateDBPath returns the path of the state history database.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// DefaultConfig returns a Config with sensible defaults. The backoff values
// mirror the production deployment: retry after 2s, 4s, 6s... capped at 15s.
func DefaultConfig() *Config {
	return &Config{
		DataDir:            defaultDataDir(),
		SessionID:          "main",
		ReconnectBaseDelay: 2 * time.Second,
		ReconnectMaxDelay:  15 * time.Second,
		PendingTimeout:     60 * time.Second,
		HTTPAddr:           ":3000",
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// Priority: Environment > Config file > Defaults.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("session_id", defaults.SessionID)
	v.SetDefault("reconnect_base_delay", defaults.ReconnectBaseDelay)
	v.SetDefault("reconnect_max_delay", defaults.ReconnectMaxDelay)
	v.SetDefault("pending_timeout", defaults.PendingTimeout)
	v.SetDefault("http_addr", defaults.HTTPAddr)
	v.SetDefault("telegram_token", "")
	v.SetDefault("telegram_chat_id", "")
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)

	// Environment variables with DANSBOT_ prefix
	v.SetEnvPrefix("DANSBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing default config.yaml falls back to built-in defaults;
			// only an unreadable explicit file is an error.
			isNotFound := errors.Is(err, os.ErrNotExist)
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}

	if c.SessionID == "" {
		return fmt.Errorf("session id must not be empty")
	}

	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be positive")
	}

	if c.ReconnectMaxDelay <= 0 {
		return fmt.Errorf("reconnect max delay must be positive")
	}

	if c.ReconnectBaseDelay > c.ReconnectMaxDelay {
		return fmt.Errorf("reconnect base delay must be less than or equal to max delay")
	}

	if c.PendingTimeout <= 0 {
		return fmt.Errorf("pending timeout must be positive")
	}

	if c.TelegramToken != "" && c.TelegramChatID == "" {
		return fmt.Errorf("telegram_chat_id is required when telegram_token is set")
	}

	return nil
}
