package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/orchestra/internal/daemon"
	"github.com/msageha/orchestra/internal/health"
	"github.com/msageha/orchestra/internal/uds"
)

func newHealthCmd(g *globalFlags) *cobra.Command {
	h := &cobra.Command{
		Use:   "health",
		Short: "Agent health commands",
	}
	check := &cobra.Command{
		Use:   "check [agent]",
		Short: "Probe one agent now, or every agent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params daemon.CheckHealthParams
			if len(args) == 1 {
				params.Agent = args[0]
			}
			c, _, err := g.client(healthCallTimeout)
			if err != nil {
				return err
			}
			var statuses []health.AgentStatus
			if err := c.Call(cmd.Context(), uds.CmdCheckHealth, params, &statuses); err != nil {
				return fmt.Errorf("health check: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), statuses)
		},
	}
	h.AddCommand(check)
	return h
}
