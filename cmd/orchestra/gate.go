package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/orchestra/internal/daemon"
	"github.com/msageha/orchestra/internal/quality"
	"github.com/msageha/orchestra/internal/uds"
)

var errGatesFailed = errors.New("quality gates failed")

func newGateCmd(g *globalFlags) *cobra.Command {
	gate := &cobra.Command{
		Use:   "gate",
		Short: "Quality gate commands",
	}

	var project string
	var set []string
	check := &cobra.Command{
		Use:   "check",
		Short: "Evaluate the loaded quality rules",
		Long: `Evaluate every loaded quality rule against the given context values.

Exits non-zero when any error-severity rule fails.`,
		Example: `  orchestra gate check --set test_coverage=91 --set avg_response_time=150 --set security_vulnerabilities=0`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checkCtx, err := parseSet(set)
			if err != nil {
				return err
			}
			c, _, err := g.client(defaultCallTimeout)
			if err != nil {
				return err
			}
			var run quality.RunResult
			params := daemon.QualityCheckParams{Project: project, Context: checkCtx}
			if err := c.Call(cmd.Context(), uds.CmdQualityCheck, params, &run); err != nil {
				return fmt.Errorf("quality check: %w", err)
			}
			if err := writeJSON(cmd.OutOrStdout(), run); err != nil {
				return err
			}
			if !run.Passed {
				return errGatesFailed
			}
			return nil
		},
	}
	check.Flags().StringVar(&project, "project", "", "project name (default: configured project)")
	check.Flags().StringArrayVar(&set, "set", nil, "context value as key=value (repeatable)")

	gate.AddCommand(check)
	return gate
}
