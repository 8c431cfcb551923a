// Package metrics persists agent samples, project health, interactions and
// quality runs, and derives performance trends from them.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/msageha/orchestra/internal/model"
	_ "modernc.org/sqlite"
)

// Store is the append-only metrics log. All reads are windowed by a lower
// timestamp bound and return rows oldest first.
type Store interface {
	RecordAgentMetrics(ctx context.Context, s model.MetricSample) error
	AgentMetricsSince(ctx context.Context, agent string, since time.Time) ([]model.MetricSample, error)

	RecordProjectHealth(ctx context.Context, h model.ProjectHealth) error
	ProjectHealthSince(ctx context.Context, project string, since time.Time) ([]model.ProjectHealth, error)

	RecordInteraction(ctx context.Context, in model.Interaction) error
	InteractionsSince(ctx context.Context, agent string, since time.Time) ([]model.Interaction, error)

	RecordQualityRun(ctx context.Context, run model.QualityRunRecord) error
	QualityRunsSince(ctx context.Context, project string, since time.Time) ([]model.QualityRunRecord, error)

	Close() error
}

// SQLiteStore implements Store on modernc.org/sqlite. Timestamps are stored
// as unix nanoseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates (if needed) and opens the database at dbPath with WAL
// journaling and a busy timeout, then applies migrations.
func Open(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	return openDSN(ctx, connStr)
}

// OpenMemory opens a private in-memory database. Each call gets its own
// database so parallel tests do not share rows.
func OpenMemory(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return openDSN(ctx, connStr)
}

func openDSN(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open metrics db: %w", err)
	}
	db.SetMaxOpenConns(2)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate metrics db: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) stamp(t time.Time) int64 {
	if t.IsZero() {
		t = s.now()
	}
	return t.UnixNano()
}

func (s *SQLiteStore) RecordAgentMetrics(ctx context.Context, m model.MetricSample) error {
	if m.AgentName == "" {
		return fmt.Errorf("record agent metrics: agent name is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_metrics (agent_name, timestamp, response_time, task_completion_rate,
			error_count, uptime_minutes, quality_score, communication_frequency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.AgentName, s.stamp(m.Timestamp), nullFloat(m.ResponseTime), nullFloat(m.TaskCompletionRate),
		m.ErrorCount, m.UptimeMinutes, nullFloat(m.QualityScore), m.CommunicationFrequency)
	if err != nil {
		return fmt.Errorf("record agent metrics agent=%s: %w", m.AgentName, err)
	}
	return nil
}

func (s *SQLiteStore) AgentMetricsSince(ctx context.Context, agent string, since time.Time) ([]model.MetricSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_name, timestamp, response_time, task_completion_rate,
			error_count, uptime_minutes, quality_score, communication_frequency
		FROM agent_metrics
		WHERE agent_name = ? AND timestamp >= ?
		ORDER BY timestamp ASC, id ASC
	`, agent, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query agent metrics agent=%s: %w", agent, err)
	}
	defer rows.Close()

	var out []model.MetricSample
	for rows.Next() {
		var (
			m                   model.MetricSample
			ts                  int64
			resp, rate, quality sql.NullFloat64
		)
		if err := rows.Scan(&m.AgentName, &ts, &resp, &rate, &m.ErrorCount, &m.UptimeMinutes,
			&quality, &m.CommunicationFrequency); err != nil {
			return nil, fmt.Errorf("scan agent metrics: %w", err)
		}
		m.Timestamp = time.Unix(0, ts)
		m.ResponseTime = floatPtr(resp)
		m.TaskCompletionRate = floatPtr(rate)
		m.QualityScore = floatPtr(quality)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordProjectHealth(ctx context.Context, h model.ProjectHealth) error {
	if h.ProjectName == "" {
		return fmt.Errorf("record project health: project name is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_health (project_name, timestamp, velocity, bug_density, test_coverage,
			deployment_frequency, lead_time_hours, team_satisfaction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ProjectName, s.stamp(h.Timestamp), h.Velocity, h.BugDensity, h.TestCoverage,
		h.DeploymentFrequency, h.LeadTimeHours, h.TeamSatisfaction)
	if err != nil {
		return fmt.Errorf("record project health project=%s: %w", h.ProjectName, err)
	}
	return nil
}

func (s *SQLiteStore) ProjectHealthSince(ctx context.Context, project string, since time.Time) ([]model.ProjectHealth, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_name, timestamp, COALESCE(velocity, 0), COALESCE(bug_density, 0),
			COALESCE(test_coverage, 0), COALESCE(deployment_frequency, 0),
			COALESCE(lead_time_hours, 0), COALESCE(team_satisfaction, 0)
		FROM project_health
		WHERE project_name = ? AND timestamp >= ?
		ORDER BY timestamp ASC, id ASC
	`, project, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query project health project=%s: %w", project, err)
	}
	defer rows.Close()

	var out []model.ProjectHealth
	for rows.Next() {
		var h model.ProjectHealth
		var ts int64
		if err := rows.Scan(&h.ProjectName, &ts, &h.Velocity, &h.BugDensity, &h.TestCoverage,
			&h.DeploymentFrequency, &h.LeadTimeHours, &h.TeamSatisfaction); err != nil {
			return nil, fmt.Errorf("scan project health: %w", err)
		}
		h.Timestamp = time.Unix(0, ts)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordInteraction(ctx context.Context, in model.Interaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_interactions (timestamp, from_agent, to_agent, interaction_type,
			content, response_time, success)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.stamp(in.Timestamp), in.FromAgent, in.ToAgent, in.InteractionType, in.Content,
		nullFloat(in.ResponseTime), in.Success)
	if err != nil {
		return fmt.Errorf("record interaction %s->%s: %w", in.FromAgent, in.ToAgent, err)
	}
	return nil
}

// InteractionsSince returns interactions where agent is sender or receiver.
func (s *SQLiteStore) InteractionsSince(ctx context.Context, agent string, since time.Time) ([]model.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, from_agent, to_agent, interaction_type, COALESCE(content, ''),
			response_time, success
		FROM agent_interactions
		WHERE (from_agent = ? OR to_agent = ?) AND timestamp >= ?
		ORDER BY timestamp ASC, id ASC
	`, agent, agent, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query interactions agent=%s: %w", agent, err)
	}
	defer rows.Close()

	var out []model.Interaction
	for rows.Next() {
		var (
			in   model.Interaction
			ts   int64
			resp sql.NullFloat64
		)
		if err := rows.Scan(&ts, &in.FromAgent, &in.ToAgent, &in.InteractionType, &in.Content,
			&resp, &in.Success); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		in.Timestamp = time.Unix(0, ts)
		in.ResponseTime = floatPtr(resp)
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordQualityRun(ctx context.Context, run model.QualityRunRecord) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	checks := string(run.Checks)
	if checks == "" {
		checks = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quality_runs (id, project, timestamp, passed, warnings, errors, checks_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Project, s.stamp(run.Timestamp), run.Passed, run.Warnings, run.Errors, checks)
	if err != nil {
		return fmt.Errorf("record quality run project=%s: %w", run.Project, err)
	}
	return nil
}

func (s *SQLiteStore) QualityRunsSince(ctx context.Context, project string, since time.Time) ([]model.QualityRunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project, timestamp, passed, warnings, errors, checks_json
		FROM quality_runs
		WHERE project = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`, project, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query quality runs project=%s: %w", project, err)
	}
	defer rows.Close()

	var out []model.QualityRunRecord
	for rows.Next() {
		var (
			r      model.QualityRunRecord
			ts     int64
			checks string
		)
		if err := rows.Scan(&r.ID, &r.Project, &ts, &r.Passed, &r.Warnings, &r.Errors, &checks); err != nil {
			return nil, fmt.Errorf("scan quality run: %w", err)
		}
		r.Timestamp = time.Unix(0, ts)
		r.Checks = []byte(checks)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
