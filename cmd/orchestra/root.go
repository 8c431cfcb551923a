package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/orchestra/internal/config"
	"github.com/msageha/orchestra/internal/status"
	"github.com/msageha/orchestra/internal/uds"
)

const version = "0.1.0"

// defaultCallTimeout bounds one daemon request. Health checks wait out the
// observation delay per agent and get longer.
const (
	defaultCallTimeout = 30 * time.Second
	healthCallTimeout  = 5 * time.Minute
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	dir string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "orchestra",
		Short: "Agent fleet supervisor, task assigner and quality gate",
		Long: `Orchestra supervises a fleet of AI coding agents running in tmux panes.

Core capabilities:
- Probes agents periodically and recovers unresponsive ones
- Assigns tasks to the best-matching agent by capability, workload and trend
- Collects agent metrics into a local SQLite store
- Evaluates quality gates against rule files
- Generates project intelligence reports and a markdown dashboard`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.dir, "dir", "", "path to the .orchestra directory (default: search upwards from cwd)")

	root.AddCommand(
		newInitCmd(),
		newUpCmd(g),
		newDownCmd(g),
		newDaemonCmd(g),
		newStatusCmd(g),
		newAssignCmd(g),
		newCapabilitiesCmd(g),
		newGateCmd(g),
		newMetricsCmd(g),
		newReportCmd(g),
		newHealthCmd(g),
		newShutdownCmd(g),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// orchestraDir resolves --dir or searches upwards from the working directory.
func (g *globalFlags) orchestraDir() (string, error) {
	if g.dir != "" {
		if _, err := os.Stat(g.dir); err != nil {
			return "", fmt.Errorf("orchestra dir: %w", err)
		}
		return g.dir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	dir := config.FindDir(cwd)
	if dir == "" {
		return "", fmt.Errorf("%s/ directory not found. Run 'orchestra init <dir>' first", config.DirName)
	}
	return dir, nil
}

func (g *globalFlags) client(timeout time.Duration) (*uds.Client, string, error) {
	dir, err := g.orchestraDir()
	if err != nil {
		return nil, "", err
	}
	c := uds.NewClient(status.SocketPath(dir))
	c.SetTimeout(timeout)
	return c, dir, nil
}
