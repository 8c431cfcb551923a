package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/msageha/orchestra/internal/health"
	"github.com/msageha/orchestra/internal/logging"
	"github.com/msageha/orchestra/internal/metrics"
	"github.com/msageha/orchestra/internal/model"
	"github.com/msageha/orchestra/internal/quality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrends map[string]metrics.Trend

func (f fakeTrends) AgentPerformanceTrend(ctx context.Context, agent string, windowDays int) (metrics.Trend, error) {
	t, ok := f[agent]
	if !ok {
		return metrics.Trend{}, errors.New("store unavailable")
	}
	t.AgentName = agent
	t.WindowDays = windowDays
	return t, nil
}

type fakeHealth []health.AgentStatus

func (f fakeHealth) Snapshot() []health.AgentStatus { return f }

type fakeRecorder struct {
	records []model.ProjectHealth
	err     error
}

func (f *fakeRecorder) RecordProjectHealth(ctx context.Context, h model.ProjectHealth) error {
	f.records = append(f.records, h)
	return f.err
}

func newGates(t *testing.T) *quality.Engine {
	t.Helper()
	e := quality.NewEngine(quality.Options{Logger: logging.Discard()})
	require.NoError(t, e.SetRules(quality.DefaultRules()))
	return e
}

func TestGenerate_Recommendations(t *testing.T) {
	gen := NewGenerator(Options{
		Trends: fakeTrends{
			"dev": {DataPoints: 4, QualitySamples: 4, AvgQualityScore: 0.55},
			"pm":  {DataPoints: 2, QualitySamples: 1, AvgQualityScore: 0.9},
			"qa":  {NoData: true},
			"ops": {DataPoints: 6},
		},
		Gates: newGates(t),
		Health: fakeHealth{
			{Name: "pm", State: health.StateHealthy},
			{Name: "qa", State: health.StateRecovering, ConsecutiveFailures: 3},
			{Name: "dev", State: health.StateUnhealthy, ConsecutiveFailures: 4},
		},
		Logger: logging.Discard(),
	})

	r, err := gen.Generate(context.Background(), "demo", nil, map[string]any{
		"test_coverage":            90,
		"avg_response_time":        350,
		"security_vulnerabilities": 0,
	})
	require.NoError(t, err)

	assert.Equal(t, "demo", r.Project)
	assert.Len(t, r.AgentPerformance, 3, "ops is not supervised")
	assert.Equal(t, TrendWindowDays, r.AgentPerformance["dev"].WindowDays)
	assert.False(t, r.QualityStatus.Passed)

	require.Len(t, r.Recommendations, 2)
	assert.Equal(t, "Consider additional training or support for dev - quality score below threshold", r.Recommendations[0])
	assert.True(t, strings.HasPrefix(r.Recommendations[1], "Address quality issue: "))

	require.Len(t, r.Alerts, 2)
	assert.Equal(t, "dev", r.Alerts[0].Agent)
	assert.Equal(t, health.StateUnhealthy, r.Alerts[0].State)
	assert.Equal(t, "qa", r.Alerts[1].Agent)
}

func TestGenerate_AllGood(t *testing.T) {
	gen := NewGenerator(Options{
		Trends: fakeTrends{"pm": {DataPoints: 3, QualitySamples: 3, AvgQualityScore: 0.85}},
		Gates:  newGates(t),
		Health: fakeHealth{{Name: "pm", State: health.StateSuspect, ConsecutiveFailures: 1}},
	})

	r, err := gen.Generate(context.Background(), "demo", []string{"pm"}, map[string]any{
		"test_coverage":            88.5,
		"avg_response_time":        150.0,
		"security_vulnerabilities": 0,
	})
	require.NoError(t, err)
	assert.True(t, r.QualityStatus.Passed)
	assert.Equal(t, []string{HealthyRecommendation}, r.Recommendations)
	assert.Empty(t, r.Alerts, "suspect agents do not raise alerts")
}

func TestGenerate_WarningOnlyFailureIsNotAnIssue(t *testing.T) {
	gen := NewGenerator(Options{Gates: newGates(t)})
	r, err := gen.Generate(context.Background(), "demo", nil, map[string]any{
		"test_coverage":            80,
		"avg_response_time":        100,
		"security_vulnerabilities": 0,
	})
	require.NoError(t, err)
	assert.True(t, r.QualityStatus.Passed)
	assert.Len(t, r.QualityStatus.Warnings, 1)
	assert.Equal(t, []string{HealthyRecommendation}, r.Recommendations)
}

func TestGenerate_TrendErrorSkipsAgent(t *testing.T) {
	gen := NewGenerator(Options{Trends: fakeTrends{}, Logger: logging.Discard()})
	r, err := gen.Generate(context.Background(), "demo", []string{"ghost"}, nil)
	require.NoError(t, err)
	assert.Empty(t, r.AgentPerformance)
	assert.True(t, r.QualityStatus.Passed)
	assert.Equal(t, []string{HealthyRecommendation}, r.Recommendations)
}

func TestGenerate_RequiresProject(t *testing.T) {
	_, err := NewGenerator(Options{}).Generate(context.Background(), "", nil, nil)
	assert.Error(t, err)
}

func TestGenerate_RecordsProjectHealth(t *testing.T) {
	rec := &fakeRecorder{}
	gen := NewGenerator(Options{Recorder: rec})
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	gen.now = func() time.Time { return at }

	_, err := gen.Generate(context.Background(), "demo", nil, map[string]any{
		"test_coverage": "87.5",
		"velocity":      12,
		"bug_density":   "n/a",
	})
	require.NoError(t, err)
	require.Len(t, rec.records, 1)
	h := rec.records[0]
	assert.Equal(t, "demo", h.ProjectName)
	assert.True(t, at.Equal(h.Timestamp))
	assert.InDelta(t, 87.5, h.TestCoverage, 1e-9)
	assert.InDelta(t, 12, h.Velocity, 1e-9)
	assert.Zero(t, h.BugDensity)
}

func TestGenerate_NoHealthKeysRecordsNothing(t *testing.T) {
	rec := &fakeRecorder{}
	gen := NewGenerator(Options{Recorder: rec})
	_, err := gen.Generate(context.Background(), "demo", nil, map[string]any{"avg_response_time": 100})
	require.NoError(t, err)
	assert.Empty(t, rec.records)
}

func TestGenerate_PersistsToSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := metrics.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.RecordAgentMetrics(ctx, model.MetricSample{
		AgentName:    "dev",
		Timestamp:    time.Now().Add(-time.Hour),
		QualityScore: model.Float(0.4),
	}))

	gen := NewGenerator(Options{Trends: metrics.NewAnalyzer(store), Recorder: store})
	r, err := gen.Generate(ctx, "demo", []string{"dev"}, map[string]any{"team_satisfaction": 4.2})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, r.AgentPerformance["dev"].AvgQualityScore, 1e-9)
	assert.Contains(t, r.Recommendations[0], "support for dev")

	rows, err := store.ProjectHealthSince(ctx, "demo", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 4.2, rows[0].TeamSatisfaction, 1e-9)
}

func TestReport_JSONShape(t *testing.T) {
	r := Report{
		Project:          "demo",
		AgentPerformance: map[string]metrics.Trend{},
		Recommendations:  []string{HealthyRecommendation},
		Alerts:           []Alert{{Agent: "qa", State: health.StateRecovering}},
	}
	b, err := json.Marshal(r)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "demo", got["project_name"])
	assert.Contains(t, got, "quality_status")
	alerts := got["alerts"].([]any)
	assert.Equal(t, "recovering", alerts[0].(map[string]any)["state"])
}

func TestWriteDashboard(t *testing.T) {
	dir := t.TempDir()
	r := Report{
		Project:   "demo",
		Timestamp: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		AgentPerformance: map[string]metrics.Trend{
			"qa":  {NoData: true},
			"dev": {DataPoints: 5, AvgResponseTime: 1.5, AvgCompletionRate: 0.9, AvgQualityScore: 0.8, Improving: true},
		},
		QualityStatus: quality.RunResult{
			Passed: false,
			Outcomes: []quality.Outcome{{
				RuleName: "security_vulnerabilities", Status: quality.StatusFailed,
				Actual:   2, Threshold: 0, Comparison: quality.CompareEQ, Severity: quality.SeverityError,
			}},
		},
		Recommendations: []string{"Address quality issue: fix it"},
		Alerts:          []Alert{{Agent: "qa", State: health.StateUnhealthy, Message: "Agent qa is unhealthy"}},
	}
	require.NoError(t, WriteDashboard(dir, r))

	b, err := os.ReadFile(filepath.Join(dir, DashboardFile))
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, "# Orchestra Dashboard: demo")
	assert.Contains(t, out, "| dev | 5 | 1.50 | 0.90 | 0.80 | improving |")
	assert.Contains(t, out, "| qa | 0 | - | - | - | no data |")
	assert.Contains(t, out, "## Quality Gates: FAILED")
	assert.Contains(t, out, "| security_vulnerabilities | failed | 2.00 | == | 0.00 | error |")
	assert.Contains(t, out, "- Address quality issue: fix it")
	assert.Contains(t, out, "- **qa** (unhealthy): Agent qa is unhealthy")
	assert.Less(t, strings.Index(out, "| dev |"), strings.Index(out, "| qa |"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file removed")
}

func TestRenderMarkdown_Empty(t *testing.T) {
	var b strings.Builder
	require.NoError(t, RenderMarkdown(&b, Report{Project: "demo", QualityStatus: quality.RunResult{Passed: true}}))
	out := b.String()
	assert.Contains(t, out, "| (none) |")
	assert.Contains(t, out, "| (no rules) |")
	assert.Contains(t, out, "## Quality Gates: PASSED")
	assert.Contains(t, out, "## Alerts\n\nNone")
}
