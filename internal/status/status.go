// Package status reports the daemon and agent fleet state for the CLI.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/msageha/orchestra/internal/health"
	"github.com/msageha/orchestra/internal/uds"
	orchyaml "github.com/msageha/orchestra/internal/yaml"
)

// HealthSnapshot is the on-disk health.yaml written by the daemon after each
// health cycle.
type HealthSnapshot struct {
	GeneratedAt time.Time            `yaml:"generated_at" json:"generated_at"`
	Agents      []health.AgentStatus `yaml:"agents" json:"agents"`
}

// DaemonInfo is the payload of the daemon's status command.
type DaemonInfo struct {
	PID        int                  `json:"pid"`
	Project    string               `json:"project"`
	StartedAt  time.Time            `json:"started_at"`
	Rules      int                  `json:"rules"`
	Assignable []string             `json:"assignable_agents"`
	Agents     []health.AgentStatus `json:"agents"`
}

type DaemonStatus struct {
	Running bool        `json:"running"`
	Info    *DaemonInfo `json:"info,omitempty"`
}

// Report is everything `orchestra status` prints. Agents come from the live
// daemon when it answers, otherwise from the last snapshot.
type Report struct {
	Daemon       DaemonStatus         `json:"daemon"`
	Agents       []health.AgentStatus `json:"agents,omitempty"`
	AgentsSource string               `json:"agents_source,omitempty"`
	SnapshotAt   time.Time            `json:"snapshot_at,omitempty"`
	Sessions     []string             `json:"sessions,omitempty"`
}

// SessionLister is satisfied by *tmux.Client.
type SessionLister interface {
	ListSessions(ctx context.Context, prefix string) ([]string, error)
}

type Options struct {
	Dir           string
	SessionPrefix string
	Sessions      SessionLister
	Timeout       time.Duration
}

// Paths inside the runtime directory.
func SnapshotPath(dir string) string  { return filepath.Join(dir, "state", "health.yaml") }
func QuarantineDir(dir string) string { return filepath.Join(dir, "quarantine") }
func SocketPath(dir string) string    { return filepath.Join(dir, uds.DefaultSocketName) }

// Collect gathers the report. It never fails; unavailable parts are left
// empty.
func Collect(ctx context.Context, opts Options) Report {
	var r Report
	r.Daemon = checkDaemon(ctx, SocketPath(opts.Dir), opts.Timeout)

	if r.Daemon.Info != nil {
		r.Agents = r.Daemon.Info.Agents
		r.AgentsSource = "daemon"
	} else if snap, err := ReadSnapshot(opts.Dir); err == nil {
		r.Agents = snap.Agents
		r.AgentsSource = "snapshot"
		r.SnapshotAt = snap.GeneratedAt
	}
	sort.Slice(r.Agents, func(i, j int) bool { return r.Agents[i].Name < r.Agents[j].Name })

	if opts.Sessions != nil {
		if names, err := opts.Sessions.ListSessions(ctx, opts.SessionPrefix); err == nil {
			r.Sessions = names
		}
	}
	return r
}

func checkDaemon(ctx context.Context, sockPath string, timeout time.Duration) DaemonStatus {
	client := uds.NewClient(sockPath)
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	var info DaemonInfo
	if err := client.Call(ctx, uds.CmdStatus, nil, &info); err != nil {
		return DaemonStatus{Running: false}
	}
	return DaemonStatus{Running: true, Info: &info}
}

// ReadSnapshot loads health.yaml, recovering from its backup if corrupt.
func ReadSnapshot(dir string) (HealthSnapshot, error) {
	var snap HealthSnapshot
	if _, err := orchyaml.Read(SnapshotPath(dir), QuarantineDir(dir), &snap); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snap, fmt.Errorf("no health snapshot yet: %w", err)
		}
		return snap, err
	}
	return snap, nil
}

// WriteSnapshot atomically replaces health.yaml.
func WriteSnapshot(dir string, agents []health.AgentStatus, at time.Time) error {
	return orchyaml.AtomicWrite(SnapshotPath(dir), HealthSnapshot{GeneratedAt: at, Agents: agents})
}

// Run collects and prints the report as JSON or text.
func Run(ctx context.Context, w io.Writer, opts Options, jsonOutput bool) error {
	r := Collect(ctx, opts)
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	Render(w, r)
	return nil
}

func stateColor(s health.State) *color.Color {
	switch s {
	case health.StateHealthy:
		return color.New(color.FgGreen)
	case health.StateSuspect:
		return color.New(color.FgYellow)
	case health.StateRecovering:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

// Render prints a human-readable report.
func Render(w io.Writer, r Report) {
	if r.Daemon.Running {
		fmt.Fprintf(w, "Daemon: %s", color.GreenString("running"))
		if info := r.Daemon.Info; info != nil {
			fmt.Fprintf(w, " (pid=%d project=%s rules=%d up=%s)",
				info.PID, info.Project, info.Rules, time.Since(info.StartedAt).Truncate(time.Second))
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintf(w, "Daemon: %s\n", color.RedString("stopped"))
	}

	if len(r.Agents) == 0 {
		fmt.Fprintln(w, "\nAgents: none")
	} else {
		header := "\nAgents:"
		if r.AgentsSource == "snapshot" {
			header = fmt.Sprintf("\nAgents (snapshot %s):", r.SnapshotAt.Format(time.RFC3339))
		}
		fmt.Fprintln(w, header)
		fmt.Fprintf(w, "  %-16s  %-10s  %8s  %-20s  %s\n", "NAME", "STATE", "FAILURES", "LAST RESPONSE", "TARGET")
		for _, a := range r.Agents {
			last := "-"
			if !a.LastResponse.IsZero() {
				last = a.LastResponse.Format("2006-01-02 15:04:05")
			}
			state := stateColor(a.State).Sprintf("%-10s", a.State)
			fmt.Fprintf(w, "  %-16s  %s  %8d  %-20s  %s\n", a.Name, state, a.ConsecutiveFailures, last, a.Target)
		}
	}

	if len(r.Sessions) > 0 {
		fmt.Fprintln(w, "\nSessions:")
		for _, s := range r.Sessions {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}
}
