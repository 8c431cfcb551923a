package model

import "time"

// MetricSample is one agent_metrics row. Nil pointer fields are stored as NULL
// and skipped by trend averages.
type MetricSample struct {
	AgentName              string    `json:"agent_name" yaml:"agent_name"`
	Timestamp              time.Time `json:"timestamp" yaml:"timestamp"`
	ResponseTime           *float64  `json:"response_time,omitempty" yaml:"response_time,omitempty"`
	TaskCompletionRate     *float64  `json:"task_completion_rate,omitempty" yaml:"task_completion_rate,omitempty"`
	ErrorCount             int       `json:"error_count" yaml:"error_count"`
	UptimeMinutes          int       `json:"uptime_minutes" yaml:"uptime_minutes"`
	QualityScore           *float64  `json:"quality_score,omitempty" yaml:"quality_score,omitempty"`
	CommunicationFrequency int       `json:"communication_frequency" yaml:"communication_frequency"`
}

// ProjectHealth is one project_health row.
type ProjectHealth struct {
	ProjectName         string    `json:"project_name" yaml:"project_name"`
	Timestamp           time.Time `json:"timestamp" yaml:"timestamp"`
	Velocity            float64   `json:"velocity" yaml:"velocity"`
	BugDensity          float64   `json:"bug_density" yaml:"bug_density"`
	TestCoverage        float64   `json:"test_coverage" yaml:"test_coverage"`
	DeploymentFrequency float64   `json:"deployment_frequency" yaml:"deployment_frequency"`
	LeadTimeHours       float64   `json:"lead_time_hours" yaml:"lead_time_hours"`
	TeamSatisfaction    float64   `json:"team_satisfaction" yaml:"team_satisfaction"`
}

// Interaction is one agent_interactions row.
type Interaction struct {
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
	FromAgent       string    `json:"from_agent" yaml:"from_agent"`
	ToAgent         string    `json:"to_agent" yaml:"to_agent"`
	InteractionType string    `json:"interaction_type" yaml:"interaction_type"`
	Content         string    `json:"content,omitempty" yaml:"content,omitempty"`
	ResponseTime    *float64  `json:"response_time,omitempty" yaml:"response_time,omitempty"`
	Success         bool      `json:"success" yaml:"success"`
}

// Float returns a pointer to v, for optional sample fields.
func Float(v float64) *float64 { return &v }

// QualityRunRecord is one quality_runs row. Checks holds the JSON-encoded
// outcomes in rule order.
type QualityRunRecord struct {
	ID        string    `json:"id" yaml:"id"`
	Project   string    `json:"project" yaml:"project"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Passed    bool      `json:"passed" yaml:"passed"`
	Warnings  int       `json:"warnings" yaml:"warnings"`
	Errors    int       `json:"errors" yaml:"errors"`
	Checks    []byte    `json:"checks" yaml:"-"`
}
