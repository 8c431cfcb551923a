package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msageha/orchestra/internal/health"
	"github.com/msageha/orchestra/internal/metrics"
	"github.com/msageha/orchestra/internal/model"
	"github.com/msageha/orchestra/internal/quality"
)

// collectAgentHealth writes one sample per supervised agent from its
// supervision record.
func (d *Daemon) collectAgentHealth(ctx context.Context, store metrics.Store) error {
	now := time.Now()
	var errs []error
	for _, st := range d.supervisor.Snapshot() {
		if err := store.RecordAgentMetrics(ctx, agentHealthSample(st, now)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func agentHealthSample(st health.AgentStatus, now time.Time) model.MetricSample {
	s := model.MetricSample{
		AgentName:              st.Name,
		Timestamp:              now,
		ErrorCount:             st.ConsecutiveFailures,
		CommunicationFrequency: st.ProbesSent,
	}
	if !st.UpSince.IsZero() && now.After(st.UpSince) {
		s.UptimeMinutes = int(now.Sub(st.UpSince).Minutes())
	}
	if st.ProbesSent > 0 {
		s.ResponseTime = model.Float(st.LastProbeLatency.Seconds())
	}
	return s
}

// registerEvaluators installs evaluators that read live daemon state.
func (d *Daemon) registerEvaluators() error {
	evaluators := map[string]quality.Evaluator{
		"unhealthy_agents": func(ctx context.Context, checkCtx map[string]any) (any, error) {
			n := 0
			for _, st := range d.supervisor.Snapshot() {
				if st.State == health.StateUnhealthy || st.State == health.StateRecovering {
					n++
				}
			}
			return n, nil
		},
		"healthy_agent_ratio": func(ctx context.Context, checkCtx map[string]any) (any, error) {
			agents := d.supervisor.Snapshot()
			if len(agents) == 0 {
				return 1.0, nil
			}
			healthy := 0
			for _, st := range agents {
				if st.State == health.StateHealthy {
					healthy++
				}
			}
			return float64(healthy) / float64(len(agents)), nil
		},
	}
	for name, fn := range evaluators {
		if err := d.gates.RegisterEvaluator(name, fn); err != nil {
			return fmt.Errorf("register evaluator %s: %w", name, err)
		}
	}
	return nil
}
