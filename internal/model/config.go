// Package model defines orchestra's configuration and the data shared between engines.
package model

type Config struct {
	Project    ProjectConfig    `yaml:"project" mapstructure:"project"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Daemon     DaemonConfig     `yaml:"daemon" mapstructure:"daemon"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Health     HealthConfig     `yaml:"health" mapstructure:"health"`
	Assignment AssignmentConfig `yaml:"assignment" mapstructure:"assignment"`
	Quality    QualityConfig    `yaml:"quality" mapstructure:"quality"`
	Tmux       TmuxConfig       `yaml:"tmux" mapstructure:"tmux"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Agents     []AgentSpec      `yaml:"agents" mapstructure:"agents"`
}

type ProjectConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
	Path string `yaml:"path" mapstructure:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec" mapstructure:"shutdown_timeout_sec"`
}

type MonitoringConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	IntervalSec int  `yaml:"interval_sec" mapstructure:"interval_sec"`
}

type HealthConfig struct {
	Enabled             bool   `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSec    int    `yaml:"check_interval_sec" mapstructure:"check_interval_sec"`
	ObservationDelaySec int    `yaml:"observation_delay_sec" mapstructure:"observation_delay_sec"`
	SettleDelaySec      int    `yaml:"settle_delay_sec" mapstructure:"settle_delay_sec"`
	LaunchDelaySec      int    `yaml:"launch_delay_sec" mapstructure:"launch_delay_sec"`
	MaxFailures         int    `yaml:"max_failures" mapstructure:"max_failures"`
	RecoveryStrategy    string `yaml:"recovery_strategy" mapstructure:"recovery_strategy"`
}

type AssignmentConfig struct {
	RetentionHours           int     `yaml:"retention_hours" mapstructure:"retention_hours"`
	TrendWindowDays          int     `yaml:"trend_window_days" mapstructure:"trend_window_days"`
	DefaultPerformanceFactor float64 `yaml:"default_performance_factor" mapstructure:"default_performance_factor"`
}

type QualityConfig struct {
	RulesDir        string `yaml:"rules_dir" mapstructure:"rules_dir"`
	WatchRules      bool   `yaml:"watch_rules" mapstructure:"watch_rules"`
	UseDefaultRules bool   `yaml:"use_default_rules" mapstructure:"use_default_rules"`
}

type TmuxConfig struct {
	SessionPrefix     string `yaml:"session_prefix" mapstructure:"session_prefix"`
	LaunchCommand     string `yaml:"launch_command" mapstructure:"launch_command"`
	CommandTimeoutSec int    `yaml:"command_timeout_sec" mapstructure:"command_timeout_sec"`
	MaxRetryAttempts  int    `yaml:"max_retry_attempts" mapstructure:"max_retry_attempts"`
	BreakerThreshold  int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path" mapstructure:"db_path"`
}

// AgentSpec declares a supervised agent. Capabilities override the role's
// default profile; zero health fields fall back to the health section.
type AgentSpec struct {
	Name             string             `yaml:"name" mapstructure:"name"`
	Role             string             `yaml:"role" mapstructure:"role"`
	Target           string             `yaml:"target" mapstructure:"target"`
	Capabilities     map[string]float64 `yaml:"capabilities" mapstructure:"capabilities"`
	MaxFailures      int                `yaml:"max_failures" mapstructure:"max_failures"`
	RecoveryStrategy string             `yaml:"recovery_strategy" mapstructure:"recovery_strategy"`
	CheckIntervalSec int                `yaml:"check_interval_sec" mapstructure:"check_interval_sec"`
}
