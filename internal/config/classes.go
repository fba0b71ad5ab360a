package config

import (
	"fmt"
	"time"
)

// Endpoint classes. Each class owns one independent limiter in the scheduler.
const (
	ClassGeneral     = "general"
	ClassMaps        = "maps"
	ClassTaskPolling = "task_polling"
	ClassKeywords    = "keywords"
)

// RequiredClasses must all be present after defaults and overrides are merged.
var RequiredClasses = []string{ClassGeneral, ClassMaps, ClassTaskPolling, ClassKeywords}

// ClassConfig defines the throughput budget and retry policy of one endpoint class.
type ClassConfig struct {
	MaxConcurrent   int           `mapstructure:"max_concurrent"`   // in-flight ceiling
	MinTime         time.Duration `mapstructure:"min_time"`         // spacing between dispatches
	Reservoir       int           `mapstructure:"reservoir"`        // dispatches allowed per refresh interval, 0 = unlimited
	RefreshInterval time.Duration `mapstructure:"refresh_interval"` // reservoir window
	Timeout         time.Duration `mapstructure:"timeout"`          // per-attempt wall clock
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
}

type SchedulerConfig struct {
	Classes map[string]ClassConfig `mapstructure:"classes"`
}

// DefaultClasses mirrors the provider's published limits: 2000 requests per
// minute for live SERP endpoints, a slow task_get budget, and a heavily
// constrained keyword-data upstream.
func DefaultClasses() map[string]ClassConfig {
	serp := ClassConfig{
		MaxConcurrent:   30,
		MinTime:         20 * time.Millisecond,
		Reservoir:       2000,
		RefreshInterval: time.Minute,
		Timeout:         30 * time.Second,
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		Multiplier:      2,
		MaxDelay:        30 * time.Second,
	}
	return map[string]ClassConfig{
		ClassGeneral: serp,
		ClassMaps:    serp,
		ClassTaskPolling: {
			MaxConcurrent:   5,
			MinTime:         500 * time.Millisecond,
			Reservoir:       120,
			RefreshInterval: time.Minute,
			Timeout:         30 * time.Second,
			MaxAttempts:     3,
			BaseDelay:       2 * time.Second,
			Multiplier:      2,
			MaxDelay:        30 * time.Second,
		},
		ClassKeywords: {
			MaxConcurrent:   1,
			MinTime:         5 * time.Second,
			Reservoir:       12,
			RefreshInterval: time.Minute,
			Timeout:         60 * time.Second,
			MaxAttempts:     2,
			BaseDelay:       10 * time.Second,
			Multiplier:      2,
			MaxDelay:        time.Minute,
		},
	}
}

// Validate checks a single class budget.
func (c ClassConfig) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	if c.MinTime < 0 {
		return fmt.Errorf("min_time must not be negative")
	}
	if c.Reservoir < 0 {
		return fmt.Errorf("reservoir must not be negative")
	}
	if c.Reservoir > 0 && c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval is required when reservoir is set")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1")
	}
	return nil
}
