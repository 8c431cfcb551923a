package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/orchestra/internal/config"
	"github.com/msageha/orchestra/internal/formation"
	"github.com/msageha/orchestra/internal/model"
	"github.com/msageha/orchestra/internal/tmux"
)

func loadFormation(g *globalFlags) (string, model.Config, *tmux.Client, error) {
	dir, err := g.orchestraDir()
	if err != nil {
		return "", model.Config{}, nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return "", model.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	client := tmux.NewClient(tmux.ExecRunner{}, config.Seconds(cfg.Tmux.CommandTimeoutSec, 10*time.Second))
	return dir, cfg, client, nil
}

func newUpCmd(g *globalFlags) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the agent tmux session and the daemon",
		Long: `Create a tmux session with one pane per configured agent, launch each
agent and start the daemon in the background.

--reset stops a running daemon and session and clears the health snapshot
first. Metrics history is kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cfg, client, err := loadFormation(g)
			if err != nil {
				return err
			}
			return formation.RunUp(cmd.Context(), client, formation.UpOptions{
				Dir:    dir,
				Config: cfg,
				Reset:  reset,
				Out:    cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "stop everything and clear transient state first")
	return cmd
}

func newDownCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop the daemon and the agent tmux session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, cfg, client, err := loadFormation(g)
			if err != nil {
				return err
			}
			return formation.RunDown(cmd.Context(), client, formation.DownOptions{
				Dir:    dir,
				Config: cfg,
				Out:    cmd.OutOrStdout(),
			})
		},
	}
}
