// Package formation brings the agent tmux session and the daemon up and down.
package formation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/msageha/orchestra/internal/lock"
	"github.com/msageha/orchestra/internal/model"
	"github.com/msageha/orchestra/internal/status"
	"github.com/msageha/orchestra/internal/tmux"
	"github.com/msageha/orchestra/internal/uds"
)

// WindowName is the tmux window that holds one pane per agent.
const WindowName = "agents"

// Tmux is the subset of *tmux.Client formation needs.
type Tmux interface {
	SessionExists(ctx context.Context, session string) bool
	NewSession(ctx context.Context, session, window string) error
	KillSession(ctx context.Context, session string) error
	SplitWindow(ctx context.Context, target string) error
	SelectLayout(ctx context.Context, target, layout string) error
	SetPaneTitle(ctx context.Context, target, title string) error
	SendCommand(ctx context.Context, target, command string) error
}

// UpOptions holds configuration for `orchestra up`.
type UpOptions struct {
	Dir    string
	Config model.Config
	// Reset stops a running daemon and clears transient state first.
	Reset bool
	Out   io.Writer
	// StartDaemon launches the daemon in the background. Nil runs
	// `<this executable> --dir <Dir> daemon`.
	StartDaemon func(dir string) error
	// ReadyTimeout bounds the wait for the daemon socket.
	ReadyTimeout time.Duration
}

// SessionName is the tmux session formation creates for cfg.
func SessionName(cfg model.Config) string {
	prefix := cfg.Tmux.SessionPrefix
	if prefix == "" {
		prefix = "orchestra"
	}
	return tmux.SessionName(prefix+"-", cfg.Project.Name)
}

// RunUp creates the agent session, launches every agent and starts the
// daemon.
func RunUp(ctx context.Context, tm Tmux, opts UpOptions) error {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	if opts.Reset {
		if err := resetFormation(ctx, tm, opts.Dir, opts.Config); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		fmt.Fprintln(out, "Formation reset complete.")
	}

	if err := startupRecovery(opts.Dir); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	launched, err := createFormation(ctx, tm, opts.Config, out)
	if err != nil {
		return fmt.Errorf("create formation: %w", err)
	}

	start := opts.StartDaemon
	if start == nil {
		start = startDaemon
	}
	if err := start(opts.Dir); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := waitReady(ctx, opts.Dir, timeout); err != nil {
		return err
	}

	fmt.Fprintf(out, "Orchestra formation is up: session=%s agents=%d\n", SessionName(opts.Config), launched)
	return nil
}

// resetFormation stops the daemon and session and drops the health
// snapshot. Metrics history and quarantine are preserved.
func resetFormation(ctx context.Context, tm Tmux, dir string, cfg model.Config) error {
	client := uds.NewClient(status.SocketPath(dir))
	client.SetTimeout(5 * time.Second)
	if err := client.Call(ctx, uds.CmdShutdown, nil, nil); err == nil {
		_ = waitSocketGone(ctx, status.SocketPath(dir), 30*time.Second)
	}

	if session := SessionName(cfg); tm.SessionExists(ctx, session) {
		if err := tm.KillSession(ctx, session); err != nil {
			return fmt.Errorf("kill session %s: %w", session, err)
		}
	}

	for _, p := range []string{status.SnapshotPath(dir), status.SnapshotPath(dir) + ".bak"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// startupRecovery ensures the directory layout and that no daemon holds the
// lock.
func startupRecovery(dir string) error {
	for _, d := range []string{"state", "logs", "locks", "quarantine"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0755); err != nil {
			return fmt.Errorf("ensure dir %s: %w", d, err)
		}
	}

	fl := lock.NewFileLock(filepath.Join(dir, "locks", "daemon.lock"))
	if err := fl.TryLock(); err != nil {
		return fmt.Errorf("daemon lock check: another instance may be running: %w", err)
	}
	_ = fl.Unlock()
	return nil
}

// createFormation builds one pane per agent in the agents window and types
// the launch command into each. Agents whose target lives outside the
// session are left to the operator. It returns the number launched.
func createFormation(ctx context.Context, tm Tmux, cfg model.Config, out io.Writer) (int, error) {
	session := SessionName(cfg)
	if tm.SessionExists(ctx, session) {
		if err := tm.KillSession(ctx, session); err != nil {
			return 0, fmt.Errorf("kill existing session: %w", err)
		}
	}
	if err := tm.NewSession(ctx, session, WindowName); err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}

	window := session + ":0"
	for i := 1; i < len(cfg.Agents); i++ {
		if err := tm.SplitWindow(ctx, window); err != nil {
			return 0, fmt.Errorf("split window for %s: %w", cfg.Agents[i].Name, err)
		}
		// Tiling after every split keeps panes large enough to split again.
		if err := tm.SelectLayout(ctx, window, "tiled"); err != nil {
			return 0, fmt.Errorf("select layout: %w", err)
		}
	}

	launchCmd := cfg.Tmux.LaunchCommand
	if launchCmd == "" {
		launchCmd = tmux.DefaultLaunchCommand
	}

	launched := 0
	for _, a := range cfg.Agents {
		if !strings.HasPrefix(a.Target, session+":") {
			fmt.Fprintf(out, "Skipping agent %s: target %s is outside session %s\n", a.Name, a.Target, session)
			continue
		}
		if err := tm.SetPaneTitle(ctx, a.Target, a.Name); err != nil {
			return launched, fmt.Errorf("title pane %s: %w", a.Target, err)
		}
		if err := tm.SendCommand(ctx, a.Target, launchCmd); err != nil {
			return launched, fmt.Errorf("launch agent %s in %s: %w", a.Name, a.Target, err)
		}
		launched++
	}
	return launched, nil
}

// startDaemon starts the orchestra daemon as a background process.
func startDaemon(dir string) error {
	execPath, err := os.Executable()
	if err != nil {
		execPath = "orchestra"
	}
	cmd := exec.Command(execPath, "--dir", dir, "daemon")
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

// waitReady polls the daemon with ping until it answers.
func waitReady(ctx context.Context, dir string, timeout time.Duration) error {
	client := uds.NewClient(status.SocketPath(dir))
	client.SetTimeout(time.Second)
	deadline := time.Now().Add(timeout)
	for {
		if err := client.Call(ctx, uds.CmdPing, nil, nil); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon not ready after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
