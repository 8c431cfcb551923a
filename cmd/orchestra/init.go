package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/orchestra/internal/config"
	"github.com/msageha/orchestra/internal/setup"
)

func newInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init [project_dir]",
		Short: "Create the .orchestra directory with a default config and rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir := "."
			if len(args) == 1 {
				projectDir = args[0]
			}
			if err := setup.Run(projectDir, name); err != nil {
				return fmt.Errorf("init: %w", err)
			}
			absDir, _ := filepath.Abs(projectDir)
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s/ in %s\n", config.DirName, absDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name (default: directory name)")
	return cmd
}
