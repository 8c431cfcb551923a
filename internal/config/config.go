// Package config loads orchestra's configuration from .orchestra/config.yaml
// with ORCHESTRA_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/msageha/orchestra/internal/model"
)

const (
	DirName   = ".orchestra"
	FileName  = "config.yaml"
	EnvPrefix = "ORCHESTRA"
)

// FindDir searches for .orchestra/ in start and its ancestors. It returns ""
// when none exists.
func FindDir(start string) string {
	dir := start
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Load reads dir/config.yaml if present, applies environment overrides
// (ORCHESTRA_HEALTH_MAX_FAILURES and so on) and falls back to defaults for
// everything else.
func Load(dir string) (model.Config, error) {
	v := newViper(dir)
	v.SetConfigFile(filepath.Join(dir, FileName))
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return model.Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg, err := decode(v, dir)
	if err != nil {
		return model.Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when no config file exists.
// Environment overrides still apply.
func Default(dir string) model.Config {
	cfg, _ := decode(newViper(dir), dir)
	return cfg
}

func newViper(dir string) *viper.Viper {
	v := viper.New()
	setDefaults(v, dir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper, dir string) (model.Config, error) {
	var cfg model.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return model.Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Quality.RulesDir = ResolvePath(dir, cfg.Quality.RulesDir)
	cfg.Storage.DBPath = ResolvePath(dir, cfg.Storage.DBPath)
	return cfg, nil
}

func defaultProject(dir string) model.ProjectConfig {
	root := filepath.Dir(dir)
	return model.ProjectConfig{Name: filepath.Base(root), Path: root}
}

func setDefaults(v *viper.Viper, dir string) {
	project := defaultProject(dir)
	v.SetDefault("project.name", project.Name)
	v.SetDefault("project.path", project.Path)

	v.SetDefault("logging.level", "info")
	v.SetDefault("daemon.shutdown_timeout_sec", 30)

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.interval_sec", 60)

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.check_interval_sec", 300)
	v.SetDefault("health.observation_delay_sec", 5)
	v.SetDefault("health.settle_delay_sec", 2)
	v.SetDefault("health.launch_delay_sec", 5)
	v.SetDefault("health.max_failures", 3)
	v.SetDefault("health.recovery_strategy", "restart")

	v.SetDefault("assignment.retention_hours", 24)
	v.SetDefault("assignment.trend_window_days", 3)
	v.SetDefault("assignment.default_performance_factor", 0.8)

	v.SetDefault("quality.rules_dir", "quality_rules")
	v.SetDefault("quality.watch_rules", true)
	v.SetDefault("quality.use_default_rules", true)

	v.SetDefault("tmux.session_prefix", "orchestra")
	v.SetDefault("tmux.launch_command", "claude --dangerously-skip-permissions")
	v.SetDefault("tmux.command_timeout_sec", 10)
	v.SetDefault("tmux.max_retry_attempts", 3)
	v.SetDefault("tmux.breaker_threshold", 5)

	v.SetDefault("storage.db_path", "metrics.db")
}

// Validate checks agent declarations.
func Validate(cfg model.Config) error {
	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a.Name == "" {
			return fmt.Errorf("agents[%d]: name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("agents[%d]: duplicate agent name %q", i, a.Name)
		}
		seen[a.Name] = true
		if a.Target == "" {
			return fmt.Errorf("agent %s: target is required", a.Name)
		}
		for skill, level := range a.Capabilities {
			if level < 0 || level > 1 {
				return fmt.Errorf("agent %s: capability %s level %v out of range [0,1]", a.Name, skill, level)
			}
		}
	}
	if f := cfg.Assignment.DefaultPerformanceFactor; f < 0 || f > 1 {
		return fmt.Errorf("assignment.default_performance_factor %v out of range [0,1]", f)
	}
	return nil
}

// ResolvePath makes p absolute relative to dir.
func ResolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Seconds converts a seconds field, using def when it is not positive.
func Seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
