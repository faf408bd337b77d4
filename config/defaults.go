package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "pressbeat.db")

	// Schedule defaults: one slot every 15 minutes, 96 slots/day
	v.SetDefault("schedule.cadence_minutes", 15)
	v.SetDefault("schedule.frontload_lead_minutes", 2)
	v.SetDefault("schedule.max_attempts", 3)
	v.SetDefault("schedule.publish_timeout_seconds", 300)
	v.SetDefault("schedule.retention_days", 2)

	// Publisher defaults
	v.SetDefault("publisher.requests_per_minute", 10.0) // polite pacing toward the CMS

	// Recovery defaults
	v.SetDefault("recovery.batch_size", 3)
	v.SetDefault("recovery.max_rounds", 2)

	// Health defaults
	v.SetDefault("health.window_hours", 24)
	v.SetDefault("health.degraded_threshold", 0.9)
	v.SetDefault("health.min_samples", 5)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("publisher.url", "PRESSBEAT_PUBLISHER_URL")
	v.BindEnv("publisher.username", "PRESSBEAT_PUBLISHER_USERNAME")
	v.BindEnv("publisher.password", "PRESSBEAT_PUBLISHER_PASSWORD")
	v.BindEnv("database.path", "PRESSBEAT_DATABASE_PATH")
}
