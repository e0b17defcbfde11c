// Package config loads agentrelay configuration from JSONC files and the
// process environment. Environment variables always win over file values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// Frame styles accepted by the stream decoder.
const (
	FrameStyleDataOnly     = "data-only"
	FrameStyleEventAndData = "event-and-data"
)

// Config holds all agentrelay configuration.
type Config struct {
	// Upstream agent API settings. All five are required.
	BotID        string `json:"botID"`
	APIBaseURL   string `json:"apiBaseURL"`
	CoreURL      string `json:"coreURL"`
	ClientID     string `json:"clientID"`
	ClientSecret string `json:"clientSecret"`

	// Server settings.
	Port     int    `json:"port"`
	LogLevel string `json:"logLevel"`
	Pretty   bool   `json:"pretty"`

	// Stream settings.
	FrameStyle         string `json:"frameStyle"`
	IdleTimeoutSeconds int    `json:"idleTimeoutSeconds"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Port:               8080,
		LogLevel:           "info",
		FrameStyle:         FrameStyleDataOnly,
		IdleTimeoutSeconds: 120,
	}
}

// IdleTimeout returns the stream idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// Validate checks that all required upstream settings are present.
func (c *Config) Validate() error {
	var missing []string
	if c.BotID == "" {
		missing = append(missing, "BOT_ID")
	}
	if c.APIBaseURL == "" {
		missing = append(missing, "AFP_API_URL")
	}
	if c.CoreURL == "" {
		missing = append(missing, "CORE_URL")
	}
	if c.ClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	switch c.FrameStyle {
	case FrameStyleDataOnly, FrameStyleEventAndData:
	default:
		return fmt.Errorf("unknown frame style %q", c.FrameStyle)
	}
	return nil
}

// Load loads configuration from multiple sources (priority order):
// 1. ~/.config/agentrelay/agentrelay.json(c)
// 2. ./agentrelay.json(c) in the given directory
// 3. AGENTRELAY_CONFIG file override
// 4. Environment variables (highest priority)
func Load(directory string) (*Config, error) {
	config := Default()

	loaded := make(map[string]bool)
	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config) == nil {
			loaded[absPath] = true
		}
	}

	if home := os.Getenv("HOME"); home != "" {
		globalDir := filepath.Join(home, ".config", "agentrelay")
		loadOnce(filepath.Join(globalDir, "agentrelay.json"))
		loadOnce(filepath.Join(globalDir, "agentrelay.jsonc"))
	}

	if directory != "" {
		loadOnce(filepath.Join(directory, "agentrelay.json"))
		loadOnce(filepath.Join(directory, "agentrelay.jsonc"))
	}

	if configPath := os.Getenv("AGENTRELAY_CONFIG"); configPath != "" {
		loadOnce(configPath)
	}

	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single JSONC config file with {env:VAR} interpolation.
func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} placeholders.
func interpolate(data []byte) []byte {
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
	return []byte(str)
}

// mergeConfig merges source config into target. Zero values do not overwrite.
func mergeConfig(target, source *Config) {
	if source.BotID != "" {
		target.BotID = source.BotID
	}
	if source.APIBaseURL != "" {
		target.APIBaseURL = source.APIBaseURL
	}
	if source.CoreURL != "" {
		target.CoreURL = source.CoreURL
	}
	if source.ClientID != "" {
		target.ClientID = source.ClientID
	}
	if source.ClientSecret != "" {
		target.ClientSecret = source.ClientSecret
	}
	if source.Port != 0 {
		target.Port = source.Port
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.Pretty {
		target.Pretty = true
	}
	if source.FrameStyle != "" {
		target.FrameStyle = source.FrameStyle
	}
	if source.IdleTimeoutSeconds != 0 {
		target.IdleTimeoutSeconds = source.IdleTimeoutSeconds
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&config.BotID, "BOT_ID")
	setString(&config.APIBaseURL, "AFP_API_URL")
	setString(&config.CoreURL, "CORE_URL")
	setString(&config.ClientID, "CLIENT_ID")
	setString(&config.ClientSecret, "CLIENT_SECRET")
	setString(&config.LogLevel, "AGENTRELAY_LOG_LEVEL")
	setString(&config.FrameStyle, "AGENTRELAY_FRAME_STYLE")

	if v := os.Getenv("AGENTRELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Port = port
		}
	}
	if v := os.Getenv("AGENTRELAY_IDLE_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			config.IdleTimeoutSeconds = secs
		}
	}
}
