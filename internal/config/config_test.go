package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, DirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if content != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
	}
	return dir
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	dir := writeConfig(t, "")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Base(filepath.Dir(dir)), cfg.Project.Name)
	assert.Equal(t, filepath.Dir(dir), cfg.Project.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 30, cfg.Daemon.ShutdownTimeoutSec)
	assert.True(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 60, cfg.Monitoring.IntervalSec)
	assert.Equal(t, 300, cfg.Health.CheckIntervalSec)
	assert.Equal(t, 3, cfg.Health.MaxFailures)
	assert.Equal(t, "restart", cfg.Health.RecoveryStrategy)
	assert.Equal(t, 24, cfg.Assignment.RetentionHours)
	assert.Equal(t, 3, cfg.Assignment.TrendWindowDays)
	assert.InDelta(t, 0.8, cfg.Assignment.DefaultPerformanceFactor, 1e-9)
	assert.Equal(t, filepath.Join(dir, "quality_rules"), cfg.Quality.RulesDir)
	assert.True(t, cfg.Quality.WatchRules)
	assert.True(t, cfg.Quality.UseDefaultRules)
	assert.Equal(t, "orchestra", cfg.Tmux.SessionPrefix)
	assert.Equal(t, 5, cfg.Tmux.BreakerThreshold)
	assert.Equal(t, filepath.Join(dir, "metrics.db"), cfg.Storage.DBPath)
	assert.Empty(t, cfg.Agents)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := writeConfig(t, `
project:
  name: demo
health:
  max_failures: 5
  recovery_strategy: notify
storage:
  db_path: /var/lib/orchestra/metrics.db
agents:
  - name: pm
    role: project_manager
    target: "orchestra-demo:0.0"
  - name: dev
    role: fullstack_developer
    target: "orchestra-demo:0.1"
    capabilities:
      backend_development: 0.95
    max_failures: 2
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Project.Name)
	assert.Equal(t, 5, cfg.Health.MaxFailures)
	assert.Equal(t, "notify", cfg.Health.RecoveryStrategy)
	assert.Equal(t, 300, cfg.Health.CheckIntervalSec, "unset keys keep defaults")
	assert.Equal(t, "/var/lib/orchestra/metrics.db", cfg.Storage.DBPath)

	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "pm", cfg.Agents[0].Name)
	assert.Equal(t, "project_manager", cfg.Agents[0].Role)
	assert.Equal(t, "orchestra-demo:0.1", cfg.Agents[1].Target)
	assert.InDelta(t, 0.95, cfg.Agents[1].Capabilities["backend_development"], 1e-9)
	assert.Equal(t, 2, cfg.Agents[1].MaxFailures)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := writeConfig(t, "health:\n  max_failures: 5\n")
	t.Setenv("ORCHESTRA_HEALTH_MAX_FAILURES", "7")
	t.Setenv("ORCHESTRA_LOGGING_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Health.MaxFailures)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := writeConfig(t, "health: [unclosed\n")
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "agents:\n  - target: s:0.0\n",
			wantErr: "name is required",
		},
		{
			name:    "duplicate name",
			content: "agents:\n  - name: a\n    target: s:0.0\n  - name: a\n    target: s:0.1\n",
			wantErr: "duplicate agent name",
		},
		{
			name:    "missing target",
			content: "agents:\n  - name: a\n",
			wantErr: "target is required",
		},
		{
			name:    "capability out of range",
			content: "agents:\n  - name: a\n    target: s:0.0\n    capabilities:\n      testing: 1.5\n",
			wantErr: "out of range",
		},
		{
			name:    "performance factor out of range",
			content: "assignment:\n  default_performance_factor: 2\n",
			wantErr: "default_performance_factor",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefault(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proj", DirName)
	cfg := Default(dir)
	assert.Equal(t, "proj", cfg.Project.Name)
	assert.Equal(t, 60, cfg.Monitoring.IntervalSec)
	assert.Equal(t, filepath.Join(dir, "metrics.db"), cfg.Storage.DBPath)
}

func TestFindDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, DirName)
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Equal(t, dir, FindDir(nested))
	assert.Equal(t, dir, FindDir(root))
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/base/rules", ResolvePath("/base", "rules"))
	assert.Equal(t, "/abs/rules", ResolvePath("/base", "/abs/rules"))
	assert.Equal(t, "", ResolvePath("/base", ""))
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 5*time.Second, Seconds(5, time.Minute))
	assert.Equal(t, time.Minute, Seconds(0, time.Minute))
	assert.Equal(t, time.Minute, Seconds(-3, time.Minute))
}
