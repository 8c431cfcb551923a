package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/orchestra/internal/daemon"
	"github.com/msageha/orchestra/internal/report"
	"github.com/msageha/orchestra/internal/uds"
)

func newReportCmd(g *globalFlags) *cobra.Command {
	var (
		project  string
		agents   []string
		set      []string
		markdown bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate the project intelligence report",
		Long: `Generate the project intelligence report: agent performance trends,
a quality gate run, recommendations and health alerts.

The daemon also writes the report to .orchestra/dashboard.md.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checkCtx, err := parseSet(set)
			if err != nil {
				return err
			}
			c, _, err := g.client(defaultCallTimeout)
			if err != nil {
				return err
			}
			var r report.Report
			params := daemon.ReportParams{Project: project, Agents: agents, Context: checkCtx}
			if err := c.Call(cmd.Context(), uds.CmdReport, params, &r); err != nil {
				return fmt.Errorf("report: %w", err)
			}
			if markdown {
				return report.RenderMarkdown(cmd.OutOrStdout(), r)
			}
			return writeJSON(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project name (default: configured project)")
	cmd.Flags().StringSliceVar(&agents, "agents", nil, "agents to include (default: every supervised agent)")
	cmd.Flags().StringArrayVar(&set, "set", nil, "quality context value as key=value (repeatable)")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "print markdown instead of JSON")
	return cmd
}
