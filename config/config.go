// Package config loads pressbeat configuration via Viper.
//
// Sources are merged in precedence order (lowest to highest):
// /etc/pressbeat/config.toml, ~/.pressbeat/config.toml, a project-local
// pressbeat.toml found by walking up from the working directory, then
// PRESSBEAT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the pressbeat configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
	Health    HealthConfig    `mapstructure:"health"`
	Lock      LockConfig      `mapstructure:"lock"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ScheduleConfig configures slot allocation and execution
type ScheduleConfig struct {
	CadenceMinutes       int `mapstructure:"cadence_minutes"`        // interval between slots (default: 15)
	FrontloadLeadMinutes int `mapstructure:"frontload_lead_minutes"` // lead before the first front-loaded slot (default: 2)
	MaxAttempts          int `mapstructure:"max_attempts"`           // publish attempts before an entry fails (default: 3)
	PublishTimeoutSecs   int `mapstructure:"publish_timeout_seconds"`
	RetentionDays        int `mapstructure:"retention_days"` // terminal entries older than this are prunable (default: 2)
}

// PublisherConfig configures the CMS publish endpoint
type PublisherConfig struct {
	URL               string  `mapstructure:"url"`
	Username          string  `mapstructure:"username"`
	Password          string  `mapstructure:"password"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"` // publish call pacing (default: 10)
}

// RecoveryConfig bounds the per-run recovery sweep
type RecoveryConfig struct {
	BatchSize int `mapstructure:"batch_size"` // failed entries re-enqueued per run (default: 3)
	MaxRounds int `mapstructure:"max_rounds"` // recovery rounds before an entry needs manual intervention (default: 2)
}

// HealthConfig configures the success-rate monitor
type HealthConfig struct {
	WindowHours       int     `mapstructure:"window_hours"`       // trailing window (default: 24)
	DegradedThreshold float64 `mapstructure:"degraded_threshold"` // success rate below this is degraded (default: 0.9)
	MinSamples        int     `mapstructure:"min_samples"`        // terminal transitions required before alerting (default: 5)
}

// LockConfig configures the inter-process run lock
type LockConfig struct {
	Path string `mapstructure:"path"` // lock file path (default: next to the database)
}

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the pressbeat configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// LoadWithViper loads configuration from a specific Viper instance
// (useful for testing with isolated configuration)
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from %s: %w", configPath, err)
	}

	return &config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	return initViper()
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("PRESSBEAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig searches for pressbeat.toml by walking up the directory tree
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, "pressbeat.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles merges configuration files in precedence order
// (lowest to highest): system < user < project < env vars
func mergeConfigFiles(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	configPaths := []string{
		"/etc/pressbeat/config.toml",
		filepath.Join(homeDir, ".pressbeat", "config.toml"),
	}
	if projectConfig := findProjectConfig(); projectConfig != "" {
		configPaths = append(configPaths, projectConfig)
	}

	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}
		tempViper := viper.New()
		tempViper.SetConfigFile(configPath)
		tempViper.SetConfigType("toml")

		if err := tempViper.ReadInConfig(); err == nil {
			for key, value := range tempViper.AllSettings() {
				v.Set(key, value)
			}
		}
	}
}

// GetDatabasePath returns the configured database path
func GetDatabasePath() (string, error) {
	// DB_PATH environment variable overrides config (dev mode)
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		return dbPath, nil
	}

	config, err := Load()
	if err != nil {
		return "", err
	}
	return config.Database.Path, nil
}

// Cadence returns the slot interval as a duration
func (c *Config) Cadence() time.Duration {
	if c.Schedule.CadenceMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Schedule.CadenceMinutes) * time.Minute
}

// FrontloadLead returns the lead time before the first front-loaded slot
func (c *Config) FrontloadLead() time.Duration {
	if c.Schedule.FrontloadLeadMinutes <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.Schedule.FrontloadLeadMinutes) * time.Minute
}

// PublishTimeout returns the per-publish deadline
func (c *Config) PublishTimeout() time.Duration {
	if c.Schedule.PublishTimeoutSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Schedule.PublishTimeoutSecs) * time.Second
}

// LockPath returns the lock file path, defaulting to a sibling of the database
func (c *Config) LockPath() string {
	if c.Lock.Path != "" {
		return c.Lock.Path
	}
	return c.Database.Path + ".lock"
}
