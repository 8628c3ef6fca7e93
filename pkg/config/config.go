// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config loads the tokenwatch configuration from file, environment,
// and defaults, and validates it before any component starts.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/teradata-labs/tokenwatch/pkg/alerting"
	"github.com/teradata-labs/tokenwatch/pkg/enforcer"
	"github.com/teradata-labs/tokenwatch/pkg/pattern"
)

// DefaultConfigFileName is the config file name searched for (tokenwatch.yaml).
const DefaultConfigFileName = "tokenwatch"

// Config holds all configuration for tokenwatch.
// Priority: CLI flags > config file > env vars > defaults.
type Config struct {
	// PersistPath is the accountant's persistence file.
	PersistPath string `mapstructure:"persist_path"`

	// AlertDBPath is the SQLite alert history database. Empty disables the
	// on-disk history.
	AlertDBPath string `mapstructure:"alert_db_path"`

	EnableRealTimeDetection bool `mapstructure:"enable_real_time_detection"`
	EnableCapEnforcement    bool `mapstructure:"enable_cap_enforcement"`
	EnableAlerting          bool `mapstructure:"enable_alerting"`

	// UpdateIntervalMs is the dashboard snapshot cadence in milliseconds.
	UpdateIntervalMs int `mapstructure:"update_interval_ms"`
	// RetentionPeriodHours bounds the dashboard snapshot history.
	RetentionPeriodHours int `mapstructure:"retention_period_hours"`
	// CheckIntervalSeconds is the alerting evaluation and health cadence.
	CheckIntervalSeconds int `mapstructure:"check_interval_seconds"`
	// DebounceTimeMs is the detector's per-source debounce window.
	DebounceTimeMs int `mapstructure:"debounce_time_ms"`
	// MaxCacheSize bounds the detector's recent-event ring.
	MaxCacheSize int `mapstructure:"max_cache_size"`
	// UsageRetentionDays bounds the accountant's record store.
	UsageRetentionDays int `mapstructure:"usage_retention_days"`

	// Monitored sources.
	MonitoredFiles               []string `mapstructure:"monitored_files"`
	MonitoredProcesses           []string `mapstructure:"monitored_processes"`
	MonitoredMultiplexerSessions []string `mapstructure:"monitored_multiplexer_sessions"`

	// Patterns augment the built-in detection patterns.
	Patterns []pattern.Spec `mapstructure:"patterns"`

	// Caps override the enforced component limits.
	Caps []enforcer.CapConfig `mapstructure:"caps"`
	// EnableInvasiveEnforcement gates invasive action descriptors.
	EnableInvasiveEnforcement bool `mapstructure:"enable_invasive_enforcement"`

	// AlertRules override or augment the built-in rules.
	AlertRules []alerting.Rule `mapstructure:"alert_rules"`
	// EnableSystemCommands gates the system_command alert action.
	EnableSystemCommands bool `mapstructure:"enable_system_commands"`

	Notifications alerting.NotificationConfig `mapstructure:"notifications"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
	File   string `mapstructure:"file"`   // optional file output
}

// UpdateInterval returns the snapshot cadence as a duration.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalMs) * time.Millisecond
}

// RetentionPeriod returns the dashboard history window as a duration.
func (c *Config) RetentionPeriod() time.Duration {
	return time.Duration(c.RetentionPeriodHours) * time.Hour
}

// CheckInterval returns the evaluation cadence as a duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// DebounceTime returns the detector debounce window as a duration.
func (c *Config) DebounceTime() time.Duration {
	return time.Duration(c.DebounceTimeMs) * time.Millisecond
}

// UsageRetention returns the accountant retention window as a duration.
func (c *Config) UsageRetention() time.Duration {
	return time.Duration(c.UsageRetentionDays) * 24 * time.Hour
}

// Load reads configuration with the usual priority:
// CLI flags > config file > environment variables > defaults.
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(DataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/tokenwatch/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; defaults + env vars + flags apply.
	}

	viper.SetEnvPrefix("TOKENWATCH")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("persist_path", filepath.Join(DataDir(), "usage.json"))
	viper.SetDefault("alert_db_path", filepath.Join(DataDir(), "alerts.db"))

	viper.SetDefault("enable_real_time_detection", true)
	viper.SetDefault("enable_cap_enforcement", true)
	viper.SetDefault("enable_alerting", true)

	viper.SetDefault("update_interval_ms", 5000)
	viper.SetDefault("retention_period_hours", 24)
	viper.SetDefault("check_interval_seconds", 30)
	viper.SetDefault("debounce_time_ms", 500)
	viper.SetDefault("max_cache_size", 1000)
	viper.SetDefault("usage_retention_days", 30)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// Validate rejects malformed configuration. Pattern and rule errors are
// fatal here, before any component starts.
func (c *Config) Validate() error {
	if c.PersistPath == "" {
		return fmt.Errorf("persist_path is required")
	}
	if c.UpdateIntervalMs <= 0 {
		return fmt.Errorf("update_interval_ms must be positive")
	}
	if c.RetentionPeriodHours <= 0 {
		return fmt.Errorf("retention_period_hours must be positive")
	}
	if c.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("check_interval_seconds must be positive")
	}
	if c.DebounceTimeMs <= 0 {
		return fmt.Errorf("debounce_time_ms must be positive")
	}
	if c.MaxCacheSize <= 0 {
		return fmt.Errorf("max_cache_size must be positive")
	}

	for i := range c.Patterns {
		if _, err := c.Patterns[i].Compile(); err != nil {
			return fmt.Errorf("pattern %q: %w", c.Patterns[i].Name, err)
		}
	}
	for i := range c.AlertRules {
		if err := c.AlertRules[i].Validate(); err != nil {
			return fmt.Errorf("alert rule: %w", err)
		}
	}
	for _, cc := range c.Caps {
		if cc.Component == "" {
			return fmt.Errorf("cap component name is required")
		}
		if cc.Limit <= 0 {
			return fmt.Errorf("cap for %q needs a positive limit", cc.Component)
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	return nil
}

// GenerateExampleConfig generates an example configuration file.
func GenerateExampleConfig() string {
	return `# tokenwatch configuration
# Priority: CLI flags > config file > environment variables > defaults

persist_path: ~/.tokenwatch/usage.json
alert_db_path: ~/.tokenwatch/alerts.db

enable_real_time_detection: true
enable_cap_enforcement: true
enable_alerting: true

update_interval_ms: 5000
retention_period_hours: 24
check_interval_seconds: 30
debounce_time_ms: 500
max_cache_size: 1000
usage_retention_days: 30

monitored_files:
  - /var/log/agents/inspector.log
monitored_processes: []
monitored_multiplexer_sessions:
  - main

# Extra detection patterns (augment the built-ins)
patterns: []
#  - name: custom-usage
#    gates: ['my-llm']
#    total: 'tokens used: ([0-9,]+)'
#    confidence: 0.8

# Component token caps
caps:
  - component: inspector
    limit: 100000
  - component: orchestrator
    limit: 100000

# Alert rules override or augment the built-ins by id
alert_rules: []

notifications:
  enable_webhooks: false
  enable_email: false
  enable_slack: false
  enable_nudge: true
  webhook_urls: []
  email_recipients: []
  slack_channels: []

logging:
  level: info  # debug, info, warn, error
  format: text # text, json
`
}
