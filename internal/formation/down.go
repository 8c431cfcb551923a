package formation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/msageha/orchestra/internal/model"
	"github.com/msageha/orchestra/internal/status"
	"github.com/msageha/orchestra/internal/uds"
)

// DownOptions holds configuration for `orchestra down`.
type DownOptions struct {
	Dir    string
	Config model.Config
	Out    io.Writer
	// StopTimeout bounds the wait for the daemon to remove its socket.
	StopTimeout time.Duration
}

// RunDown stops the daemon and kills the agent session.
func RunDown(ctx context.Context, tm Tmux, opts DownOptions) error {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	socketPath := status.SocketPath(opts.Dir)
	session := SessionName(opts.Config)

	killSession := func() error {
		if tm.SessionExists(ctx, session) {
			if err := tm.KillSession(ctx, session); err != nil {
				return fmt.Errorf("kill tmux session: %w", err)
			}
		}
		return nil
	}

	if _, err := os.Stat(socketPath); errors.Is(err, os.ErrNotExist) {
		if err := killSession(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Daemon is not running. Formation stopped.")
		return nil
	}

	client := uds.NewClient(socketPath)
	client.SetTimeout(5 * time.Second)
	if err := client.Call(ctx, uds.CmdShutdown, nil, nil); err != nil {
		var detail *uds.ErrorDetail
		if errors.As(err, &detail) {
			return fmt.Errorf("shutdown request rejected by daemon: %w", err)
		}
		// Stale socket: the daemon is already gone.
		fmt.Fprintf(out, "Warning: could not connect to daemon: %v\n", err)
		fmt.Fprintln(out, "Cleaning up tmux session...")
		_ = os.Remove(socketPath)
		return killSession()
	}

	fmt.Fprintln(out, "Shutdown accepted. Waiting for daemon to stop...")

	timeout := opts.StopTimeout
	if timeout <= 0 {
		timeout = 100 * time.Second
	}
	if err := waitSocketGone(ctx, socketPath, timeout); err != nil {
		fmt.Fprintln(out, "Warning: daemon did not stop within timeout.")
		return err
	}

	if err := killSession(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Orchestra formation stopped.")
	return nil
}

func waitSocketGone(ctx context.Context, socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(socketPath); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("shutdown timeout after %v", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
