package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/orchestra/internal/daemon"
	"github.com/msageha/orchestra/internal/model"
	"github.com/msageha/orchestra/internal/uds"
)

func newMetricsCmd(g *globalFlags) *cobra.Command {
	m := &cobra.Command{
		Use:   "metrics",
		Short: "Metrics store commands",
	}
	m.AddCommand(newMetricsRecordCmd(g), newMetricsProjectCmd(g))
	return m
}

func newMetricsRecordCmd(g *globalFlags) *cobra.Command {
	var (
		agent        string
		responseTime float64
		completion   float64
		quality      float64
		errorCount   int
		uptime       int
		comms        int
	)
	cmd := &cobra.Command{
		Use:     "record",
		Short:   "Record one agent metrics sample",
		Example: `  orchestra metrics record --agent dev1 --quality 0.92 --response-time 1.4`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if agent == "" {
				return fmt.Errorf("--agent is required")
			}
			s := model.MetricSample{
				AgentName:              agent,
				Timestamp:              time.Now(),
				ErrorCount:             errorCount,
				UptimeMinutes:          uptime,
				CommunicationFrequency: comms,
			}
			flags := cmd.Flags()
			if flags.Changed("response-time") {
				s.ResponseTime = model.Float(responseTime)
			}
			if flags.Changed("completion-rate") {
				s.TaskCompletionRate = model.Float(completion)
			}
			if flags.Changed("quality") {
				s.QualityScore = model.Float(quality)
			}
			return recordMetrics(cmd, g, daemon.RecordMetricsParams{Sample: &s})
		},
	}
	f := cmd.Flags()
	f.StringVar(&agent, "agent", "", "agent name")
	f.Float64Var(&responseTime, "response-time", 0, "response time in seconds")
	f.Float64Var(&completion, "completion-rate", 0, "task completion rate")
	f.Float64Var(&quality, "quality", 0, "quality score in [0,1]")
	f.IntVar(&errorCount, "errors", 0, "error count")
	f.IntVar(&uptime, "uptime", 0, "uptime in minutes")
	f.IntVar(&comms, "comms", 0, "communication frequency")
	return cmd
}

func newMetricsProjectCmd(g *globalFlags) *cobra.Command {
	var project string
	var h model.ProjectHealth
	cmd := &cobra.Command{
		Use:     "project",
		Short:   "Record one project health snapshot",
		Example: `  orchestra metrics project --coverage 87.5 --velocity 12 --bug-density 0.3`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h.ProjectName = project
			h.Timestamp = time.Now()
			return recordMetrics(cmd, g, daemon.RecordMetricsParams{ProjectHealth: &h})
		},
	}
	f := cmd.Flags()
	f.StringVar(&project, "project", "", "project name (default: configured project)")
	f.Float64Var(&h.Velocity, "velocity", 0, "velocity")
	f.Float64Var(&h.BugDensity, "bug-density", 0, "bug density")
	f.Float64Var(&h.TestCoverage, "coverage", 0, "test coverage percent")
	f.Float64Var(&h.DeploymentFrequency, "deploy-frequency", 0, "deployment frequency")
	f.Float64Var(&h.LeadTimeHours, "lead-time", 0, "lead time in hours")
	f.Float64Var(&h.TeamSatisfaction, "satisfaction", 0, "team satisfaction")
	return cmd
}

func recordMetrics(cmd *cobra.Command, g *globalFlags, params daemon.RecordMetricsParams) error {
	c, _, err := g.client(defaultCallTimeout)
	if err != nil {
		return err
	}
	var out map[string]bool
	if err := c.Call(cmd.Context(), uds.CmdRecordMetrics, params, &out); err != nil {
		return fmt.Errorf("record metrics: %w", err)
	}
	return writeJSON(cmd.OutOrStdout(), out)
}
