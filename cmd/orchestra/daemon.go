package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/orchestra/internal/config"
	"github.com/msageha/orchestra/internal/daemon"
	"github.com/msageha/orchestra/internal/status"
	"github.com/msageha/orchestra/internal/tmux"
	"github.com/msageha/orchestra/internal/uds"
)

func newDaemonCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the supervisor daemon in the foreground",
		Long: `Run the orchestra daemon until SIGINT/SIGTERM or 'orchestra shutdown'.

The daemon supervises configured agents, collects metrics, watches quality
rule files and serves CLI requests on .orchestra/orchestra.sock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := g.orchestraDir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			d, err := daemon.New(dir, cfg)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			if err := d.Run(); err != nil {
				return fmt.Errorf("daemon: %w", err)
			}
			return nil
		},
	}
}

func newShutdownCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the running daemon to stop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := g.client(defaultCallTimeout)
			if err != nil {
				return err
			}
			if err := c.Call(cmd.Context(), uds.CmdShutdown, nil, nil); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
			return nil
		},
	}
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and agent health",
		Long: `Display the daemon state and the health of every supervised agent.

Agents come from the live daemon when it answers, otherwise from the last
health snapshot in .orchestra/state/health.yaml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := g.orchestraDir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				cfg = config.Default(dir)
			}
			opts := status.Options{
				Dir:           dir,
				SessionPrefix: cfg.Tmux.SessionPrefix,
				Sessions:      tmux.NewClient(tmux.ExecRunner{}, config.Seconds(cfg.Tmux.CommandTimeoutSec, 10*time.Second)),
				Timeout:       3 * time.Second,
			}
			return status.Run(cmd.Context(), cmd.OutOrStdout(), opts, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	return cmd
}
