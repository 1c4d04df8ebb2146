// Package config provides configuration loading, validation, and management
// for the IRC bridge. It reads a YAML file, applies BRIDGE_* environment
// overrides and defaults, and decodes the bot definitions.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfiguration is returned for any configuration that cannot be used,
// including a bots value of an unrecognized shape.
var ErrConfiguration = errors.New("configuration error")

// Default values for optional configuration parameters.
const (
	DefaultLogLevel      = "info"
	DefaultDBPath        = "bridge.db"
	DefaultSlackAPIURL   = "https://slack.com/api/"
	DefaultStaggerStart  = 3 * time.Second
	DefaultStaggerStep   = 3 * time.Second
	DefaultAdminAddr     = ":8080"
	DefaultRosterSync    = "0 */15 * * * *"
	DefaultJournalPrune  = "0 30 4 * * *"
	DefaultJournalMaxAge = 30 * 24 * time.Hour
)

// DefaultReservedNames lists Slack members that never get a shadow bot.
var DefaultReservedNames = []string{"slackbot", "irc-bridge"}

// Config holds the application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Stagger   StaggerConfig   `mapstructure:"stagger"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// ReservedNames are Slack member names skipped during shadow creation.
	ReservedNames []string `mapstructure:"reserved_names"`

	// Bots is the raw bots value: a list of records or a single aggregate
	// record. It is decoded by ParseBots.
	Bots any `mapstructure:"bots"`
}

// LoggerConfig configures the slog handler.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig configures the spawn journal.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`

	// Retention is how long spawn events are kept before pruning.
	Retention time.Duration `mapstructure:"retention" validate:"gt=0"`
}

// SlackConfig configures the Slack Web API client.
type SlackConfig struct {
	APIURL string `mapstructure:"api_url" validate:"required,url"`
}

// StaggerConfig controls the delay between shadow bot creations.
type StaggerConfig struct {
	Initial time.Duration `mapstructure:"initial" validate:"gte=0"`
	Step    time.Duration `mapstructure:"step"    validate:"gte=0"`
}

// AdminConfig configures the admin HTTP endpoint.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// SchedulerConfig holds the periodic task definitions keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig configures one periodic task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// LoadConfig reads the configuration file at path, applies defaults and
// BRIDGE_* environment overrides, and validates the result. A missing file
// is not an error as long as the environment supplies the required values.
func LoadConfig(path string) (*Config, error) {
	startTime := time.Now()
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: failed to read config file %s: %v", ErrConfiguration, path, err)
		}
		slog.Info("Configuration file not found, using defaults and environment", "path", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Debug("Configuration loaded",
		"path", path,
		"log_level", cfg.Logger.Level,
		"db_path", cfg.Database.Path,
		"stagger_initial", cfg.Stagger.Initial,
		"stagger_step", cfg.Stagger.Step,
		"duration_ms", time.Since(startTime).Milliseconds())

	return cfg, nil
}

// Validate checks struct constraints and that the bots value has a usable shape.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if _, err := ParseBots(c.Bots); err != nil {
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", DefaultLogLevel)
	v.SetDefault("logger.json", false)

	v.SetDefault("database.path", DefaultDBPath)
	v.SetDefault("database.retention", DefaultJournalMaxAge)
	v.SetDefault("slack.api_url", DefaultSlackAPIURL)

	v.SetDefault("stagger.initial", DefaultStaggerStart)
	v.SetDefault("stagger.step", DefaultStaggerStep)

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.addr", DefaultAdminAddr)

	v.SetDefault("reserved_names", DefaultReservedNames)

	v.SetDefault("scheduler.tasks.roster_sync.enabled", true)
	v.SetDefault("scheduler.tasks.roster_sync.schedule", DefaultRosterSync)
	v.SetDefault("scheduler.tasks.journal_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.journal_maintenance.schedule", DefaultJournalPrune)
}
