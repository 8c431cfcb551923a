package metrics

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// Trend summarizes an agent's samples within a window. NoData is set when the
// window holds no samples; every other field is then zero. Averages skip
// NULL fields, so AvgQualityScore is 0 when QualitySamples is 0.
type Trend struct {
	AgentName         string    `json:"agent_name"`
	WindowDays        int       `json:"window_days"`
	NoData            bool      `json:"no_data"`
	DataPoints        int       `json:"data_points"`
	QualitySamples    int       `json:"quality_samples"`
	AvgResponseTime   float64   `json:"avg_response_time"`
	AvgCompletionRate float64   `json:"avg_completion_rate"`
	AvgQualityScore   float64   `json:"avg_quality_score"`
	Improving         bool      `json:"trend_improving"`
	LastUpdate        time.Time `json:"last_update,omitempty"`
}

// Analyzer derives trends from a Store. Concurrent requests for the same
// agent and window share one query.
type Analyzer struct {
	store Store
	now   func() time.Time
	group singleflight.Group
}

func NewAnalyzer(store Store) *Analyzer {
	return &Analyzer{store: store, now: time.Now}
}

// AgentPerformanceTrend aggregates the agent's samples from the last
// windowDays days.
func (a *Analyzer) AgentPerformanceTrend(ctx context.Context, agent string, windowDays int) (Trend, error) {
	if windowDays <= 0 {
		return Trend{}, fmt.Errorf("trend window must be positive, got %d", windowDays)
	}

	key := fmt.Sprintf("%s:%d", agent, windowDays)
	v, err, _ := a.group.Do(key, func() (any, error) {
		since := a.now().Add(-time.Duration(windowDays) * 24 * time.Hour)
		samples, err := a.store.AgentMetricsSince(ctx, agent, since)
		if err != nil {
			return Trend{}, fmt.Errorf("load samples agent=%s: %w", agent, err)
		}

		t := Trend{AgentName: agent, WindowDays: windowDays}
		if len(samples) == 0 {
			t.NoData = true
			return t, nil
		}

		var resp, rate, quality []float64
		for _, s := range samples {
			if s.ResponseTime != nil {
				resp = append(resp, *s.ResponseTime)
			}
			if s.TaskCompletionRate != nil {
				rate = append(rate, *s.TaskCompletionRate)
			}
			if s.QualityScore != nil {
				quality = append(quality, *s.QualityScore)
			}
		}
		t.DataPoints = len(samples)
		t.QualitySamples = len(quality)
		t.AvgResponseTime = mean(resp)
		t.AvgCompletionRate = mean(rate)
		t.AvgQualityScore = mean(quality)
		t.Improving = CalculateTrend(quality)
		t.LastUpdate = samples[len(samples)-1].Timestamp
		return t, nil
	})
	if err != nil {
		return Trend{}, err
	}
	return v.(Trend), nil
}

// CalculateTrend reports whether the mean of the second half of values
// exceeds the mean of the first half. The split is at len/2, so the second
// half gets the extra element. Fewer than two values count as improving.
func CalculateTrend(values []float64) bool {
	if len(values) < 2 {
		return true
	}
	mid := len(values) / 2
	return mean(values[mid:]) > mean(values[:mid])
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
