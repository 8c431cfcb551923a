package metrics

import (
	"context"
	"fmt"
)

var migrations = []struct {
	version int
	sql     string
}{
	{1, migrationV1Metrics},
	{2, migrationV2QualityRuns},
}

// migrate applies pending migrations, one transaction each.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			m.version, s.now().UnixNano()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Metrics = `
CREATE TABLE IF NOT EXISTS agent_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_name TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	response_time REAL,
	task_completion_rate REAL,
	error_count INTEGER NOT NULL DEFAULT 0,
	uptime_minutes INTEGER NOT NULL DEFAULT 0,
	quality_score REAL,
	communication_frequency INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_agent_metrics_agent_ts ON agent_metrics(agent_name, timestamp);

CREATE TABLE IF NOT EXISTS project_health (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_name TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	velocity REAL,
	bug_density REAL,
	test_coverage REAL,
	deployment_frequency REAL,
	lead_time_hours REAL,
	team_satisfaction REAL
);
CREATE INDEX IF NOT EXISTS idx_project_health_project_ts ON project_health(project_name, timestamp);

CREATE TABLE IF NOT EXISTS agent_interactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	from_agent TEXT NOT NULL,
	to_agent TEXT NOT NULL,
	interaction_type TEXT NOT NULL,
	content TEXT,
	response_time REAL,
	success INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_agent_interactions_to_ts ON agent_interactions(to_agent, timestamp);
`

const migrationV2QualityRuns = `
CREATE TABLE IF NOT EXISTS quality_runs (
	id TEXT PRIMARY KEY,
	project TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	passed INTEGER NOT NULL,
	warnings INTEGER NOT NULL DEFAULT 0,
	errors INTEGER NOT NULL DEFAULT 0,
	checks_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quality_runs_project_ts ON quality_runs(project, timestamp);
`
