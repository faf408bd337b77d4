package config

import "fmt"

// Validate checks configuration invariants. Zero values mean "use the
// built-in default" and are always valid; negative values are not.
func (c *Config) Validate() error {
	if c.Schedule.CadenceMinutes < 0 {
		return fmt.Errorf("schedule.cadence_minutes cannot be negative: %d", c.Schedule.CadenceMinutes)
	}
	if c.Schedule.FrontloadLeadMinutes < 0 {
		return fmt.Errorf("schedule.frontload_lead_minutes cannot be negative: %d", c.Schedule.FrontloadLeadMinutes)
	}
	if c.Schedule.MaxAttempts < 0 {
		return fmt.Errorf("schedule.max_attempts cannot be negative: %d", c.Schedule.MaxAttempts)
	}
	if c.Schedule.PublishTimeoutSecs < 0 {
		return fmt.Errorf("schedule.publish_timeout_seconds cannot be negative: %d", c.Schedule.PublishTimeoutSecs)
	}
	if c.Schedule.RetentionDays < 0 {
		return fmt.Errorf("schedule.retention_days cannot be negative: %d", c.Schedule.RetentionDays)
	}
	if c.Publisher.RequestsPerMinute < 0 {
		return fmt.Errorf("publisher.requests_per_minute cannot be negative: %f", c.Publisher.RequestsPerMinute)
	}
	if c.Recovery.BatchSize < 0 {
		return fmt.Errorf("recovery.batch_size cannot be negative: %d", c.Recovery.BatchSize)
	}
	if c.Recovery.MaxRounds < 0 {
		return fmt.Errorf("recovery.max_rounds cannot be negative: %d", c.Recovery.MaxRounds)
	}
	if c.Health.WindowHours < 0 {
		return fmt.Errorf("health.window_hours cannot be negative: %d", c.Health.WindowHours)
	}
	if c.Health.DegradedThreshold < 0 || c.Health.DegradedThreshold > 1 {
		return fmt.Errorf("health.degraded_threshold must be between 0 and 1: %f", c.Health.DegradedThreshold)
	}
	if c.Health.MinSamples < 0 {
		return fmt.Errorf("health.min_samples cannot be negative: %d", c.Health.MinSamples)
	}
	return nil
}
