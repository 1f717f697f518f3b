package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/raaihank/redactor/internal/redaction"
	"github.com/raaihank/redactor/internal/render"
)

var (
	mu     sync.Mutex
	active *viper.Viper
)

// Keys that can be set from the environment without appearing in a file.
var envKeys = []string{
	"server.port",
	"database.enabled",
	"database.database_url",
	"cache.enabled",
	"cache.redis_url",
	"websocket.username",
	"websocket.password",
	"logging.level",
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/redactor/")
	v.AddConfigPath("$HOME/.redactor/")

	// Environment variable overrides
	v.SetEnvPrefix("REDACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mu.Lock()
	active = v
	mu.Unlock()

	return config, nil
}

// Validate validates the loaded configuration
func Validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	r := config.Redaction
	switch r.Style {
	case render.StyleSolid, render.StyleHidden, render.StyleAltText, render.StyleSpoiler:
	default:
		return fmt.Errorf("invalid redaction style: %s (must be solid, hidden, alttext, or spoiler)", r.Style)
	}

	if r.Tooltips != "" && !render.TooltipPolicy(r.Tooltips).Valid() {
		return fmt.Errorf("invalid tooltip policy: %s (must be all, redactors, or none)", r.Tooltips)
	}

	if !redaction.FailurePolicy(r.FailurePolicy).Valid() {
		return fmt.Errorf("invalid failure policy: %s (must be closed or error)", r.FailurePolicy)
	}

	if r.MatchTimeout < 0 {
		return fmt.Errorf("invalid match timeout: %s", r.MatchTimeout)
	}

	if config.Server.RateLimit.Enabled && config.Server.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.Server.RateLimit.RequestsPerMin)
	}

	if config.Import.BatchSize <= 0 {
		return fmt.Errorf("invalid import batch size: %d", config.Import.BatchSize)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// RedactionSettings builds the reloadable engine settings from the redaction section.
func (c *Config) RedactionSettings() redaction.Settings {
	r := c.Redaction
	return redaction.Settings{
		Defaults: redaction.RenderDefaults{
			Roles: r.DefaultRoles,
			Style: r.Style,
			Options: render.Options{
				Color:    r.Color,
				AltText:  r.AltText,
				Tooltips: render.TooltipPolicy(r.Tooltips),
			},
		},
		Applicability: redaction.Applicability{
			Titles:     r.Titles,
			Comments:   r.Comments,
			Shortcodes: r.Shortcodes,
			Categories: r.Categories,
			Tags:       r.Tags,
			PostTypes:  r.PostTypes,
		},
	}
}

// Watch starts watching the configuration file for changes. The callback
// receives every new configuration that passes validation.
func Watch(log *zap.Logger, callback func(*Config)) error {
	mu.Lock()
	v := active
	mu.Unlock()
	if v == nil {
		return errors.New("configuration not loaded")
	}
	if v.ConfigFileUsed() == "" {
		log.Info("No configuration file in use, hot reload disabled")
		return nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			log.Error("Failed to reload configuration", zap.String("file", e.Name), zap.Error(err))
			return
		}

		if err := Validate(newConfig); err != nil {
			log.Error("Ignoring invalid configuration", zap.String("file", e.Name), zap.Error(err))
			return
		}

		log.Info("Configuration reloaded", zap.String("file", e.Name))
		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
