// Package report builds the project intelligence report: per-agent
// performance trends, a quality gate run, recommendations and health alerts.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/msageha/orchestra/internal/health"
	"github.com/msageha/orchestra/internal/logging"
	"github.com/msageha/orchestra/internal/metrics"
	"github.com/msageha/orchestra/internal/model"
	"github.com/msageha/orchestra/internal/quality"
)

const (
	// TrendWindowDays is the trend window used for agent performance.
	TrendWindowDays = 7
	// SupportThreshold is the average quality score below which an agent
	// gets a support recommendation.
	SupportThreshold = 0.7
	// HealthyRecommendation is emitted when nothing else is recommended.
	HealthyRecommendation = "Project health looks good - continue current practices"
)

type TrendSource interface {
	AgentPerformanceTrend(ctx context.Context, agent string, windowDays int) (metrics.Trend, error)
}

type GateRunner interface {
	CheckQualityGates(ctx context.Context, project string, checkCtx map[string]any) quality.RunResult
}

type HealthSource interface {
	Snapshot() []health.AgentStatus
}

type HealthRecorder interface {
	RecordProjectHealth(ctx context.Context, h model.ProjectHealth) error
}

// Alert flags an agent that is not currently serving.
type Alert struct {
	Agent               string       `json:"agent"`
	State               health.State `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Message             string       `json:"message"`
}

type Report struct {
	Project          string                   `json:"project_name"`
	Timestamp        time.Time                `json:"timestamp"`
	AgentPerformance map[string]metrics.Trend `json:"agent_performance"`
	QualityStatus    quality.RunResult        `json:"quality_status"`
	Recommendations  []string                 `json:"recommendations"`
	Alerts           []Alert                  `json:"alerts"`
}

type Options struct {
	Trends   TrendSource
	Gates    GateRunner
	Health   HealthSource
	Recorder HealthRecorder
	Logger   *logging.Logger
}

type Generator struct {
	opts   Options
	logger *logging.Logger
	now    func() time.Time
}

func NewGenerator(opts Options) *Generator {
	return &Generator{
		opts:   opts,
		logger: opts.Logger.With("report"),
		now:    time.Now,
	}
}

// Generate builds the report for project. agents lists whose trends to
// include; when empty, every supervised agent is used. checkCtx feeds the
// quality gates and, when it carries project health keys, is recorded as a
// project_health snapshot.
func (g *Generator) Generate(ctx context.Context, project string, agents []string, checkCtx map[string]any) (Report, error) {
	if project == "" {
		return Report{}, fmt.Errorf("generate report: project is required")
	}

	r := Report{
		Project:          project,
		Timestamp:        g.now(),
		AgentPerformance: make(map[string]metrics.Trend),
		Recommendations:  []string{},
		Alerts:           []Alert{},
	}

	var statuses []health.AgentStatus
	if g.opts.Health != nil {
		statuses = g.opts.Health.Snapshot()
	}
	if len(agents) == 0 {
		for _, st := range statuses {
			agents = append(agents, st.Name)
		}
	}

	if g.opts.Trends != nil {
		for _, name := range agents {
			t, err := g.opts.Trends.AgentPerformanceTrend(ctx, name, TrendWindowDays)
			if err != nil {
				g.logger.Warnf("trend agent=%s error=%v", name, err)
				continue
			}
			r.AgentPerformance[name] = t
		}
	}

	if g.opts.Gates != nil {
		r.QualityStatus = g.opts.Gates.CheckQualityGates(ctx, project, checkCtx)
	} else {
		r.QualityStatus = quality.RunResult{Project: project, Timestamp: r.Timestamp, Passed: true}
	}

	g.recordProjectHealth(ctx, project, r.Timestamp, checkCtx)

	r.Recommendations = Recommendations(r)
	r.Alerts = Alerts(statuses)
	g.logger.Infof("report project=%s agents=%d quality_passed=%t alerts=%d",
		project, len(r.AgentPerformance), r.QualityStatus.Passed, len(r.Alerts))
	return r, nil
}

// Recommendations derives advice from a report's trends and gate run.
// Agents are visited in name order.
func Recommendations(r Report) []string {
	var recs []string

	names := make([]string, 0, len(r.AgentPerformance))
	for name := range r.AgentPerformance {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := r.AgentPerformance[name]
		if t.NoData || t.QualitySamples == 0 {
			continue
		}
		if t.AvgQualityScore < SupportThreshold {
			recs = append(recs, fmt.Sprintf(
				"Consider additional training or support for %s - quality score below threshold", name))
		}
	}

	if !r.QualityStatus.Passed {
		for _, o := range r.QualityStatus.Errors {
			recs = append(recs, "Address quality issue: "+o.Message)
		}
	}

	if len(recs) == 0 {
		recs = append(recs, HealthyRecommendation)
	}
	return recs
}

// Alerts lists agents that are Unhealthy or Recovering, by name.
func Alerts(statuses []health.AgentStatus) []Alert {
	alerts := []Alert{}
	for _, st := range statuses {
		if st.State != health.StateUnhealthy && st.State != health.StateRecovering {
			continue
		}
		alerts = append(alerts, Alert{
			Agent:               st.Name,
			State:               st.State,
			ConsecutiveFailures: st.ConsecutiveFailures,
			Message: fmt.Sprintf("Agent %s is %s after %d consecutive failed checks",
				st.Name, st.State, st.ConsecutiveFailures),
		})
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Agent < alerts[j].Agent })
	return alerts
}

var projectHealthKeys = []string{
	"velocity", "bug_density", "test_coverage",
	"deployment_frequency", "lead_time_hours", "team_satisfaction",
}

func (g *Generator) recordProjectHealth(ctx context.Context, project string, at time.Time, checkCtx map[string]any) {
	if g.opts.Recorder == nil {
		return
	}
	values := make(map[string]float64, len(projectHealthKeys))
	for _, key := range projectHealthKeys {
		raw, ok := checkCtx[key]
		if !ok {
			continue
		}
		v, err := quality.ToFloat64(raw)
		if err != nil {
			g.logger.Debugf("project health key=%s skipped: %v", key, err)
			continue
		}
		values[key] = v
	}
	if len(values) == 0 {
		return
	}

	h := model.ProjectHealth{
		ProjectName:         project,
		Timestamp:           at,
		Velocity:            values["velocity"],
		BugDensity:          values["bug_density"],
		TestCoverage:        values["test_coverage"],
		DeploymentFrequency: values["deployment_frequency"],
		LeadTimeHours:       values["lead_time_hours"],
		TeamSatisfaction:    values["team_satisfaction"],
	}
	if err := g.opts.Recorder.RecordProjectHealth(ctx, h); err != nil {
		g.logger.Warnf("record project health project=%s error=%v", project, err)
	}
}
