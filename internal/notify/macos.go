// Package notify raises desktop alerts for agents that need a human.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Notifier delivers a short alert to the operator.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// New returns the osascript notifier on macOS and a no-op elsewhere.
func New() Notifier {
	if runtime.GOOS == "darwin" {
		return &OSAScript{run: runOSAScript, timeout: 5 * time.Second}
	}
	return Noop{}
}

// OSAScript posts macOS notifications with sound via osascript.
type OSAScript struct {
	run     func(ctx context.Context, script string) ([]byte, error)
	timeout time.Duration
}

func (n *OSAScript) Notify(ctx context.Context, title, message string) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if out, err := n.run(ctx, buildScript(title, message)); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

type Noop struct{}

func (Noop) Notify(context.Context, string, string) error { return nil }

func buildScript(title, message string) string {
	return `display notification "` + escapeAppleScript(message) +
		`" with title "` + escapeAppleScript(title) + `" sound name "default"`
}

func runOSAScript(ctx context.Context, script string) ([]byte, error) {
	return exec.CommandContext(ctx, "osascript", "-e", script).CombinedOutput()
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
