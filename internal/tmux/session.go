// Package tmux drives agent panes through the tmux CLI.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

// Runner executes one tmux command. stdin may be empty.
type Runner interface {
	Run(ctx context.Context, stdin string, args ...string) (string, error)
}

// ExecRunner runs the real tmux binary.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// bufSeq keeps concurrent SendText calls from sharing a paste buffer.
var bufSeq atomic.Int64

// Client wraps tmux commands for agent panes. Every command runs under its
// own timeout derived from the caller's context.
type Client struct {
	runner     Runner
	timeout    time.Duration
	pasteDelay time.Duration
	sleep      func(time.Duration)
}

func NewClient(runner Runner, timeout time.Duration) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		runner:     runner,
		timeout:    timeout,
		pasteDelay: 500 * time.Millisecond,
		sleep:      time.Sleep,
	}
}

func (c *Client) run(ctx context.Context, stdin string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.runner.Run(ctx, stdin, args...)
}

// SendText pastes text into the pane as one bracketed paste, then submits it
// with Enter.
func (c *Client) SendText(ctx context.Context, target, text string) error {
	bufName := fmt.Sprintf("orchestra-msg-%d", bufSeq.Add(1))

	if _, err := c.run(ctx, text, "load-buffer", "-b", bufName, "-"); err != nil {
		return err
	}
	// -p bracketed paste, -r keep LF, -d drop the buffer afterwards
	if _, err := c.run(ctx, "", "paste-buffer", "-pr", "-b", bufName, "-d", "-t", target); err != nil {
		return err
	}
	c.sleep(c.pasteDelay)
	return c.SendKeys(ctx, target, "Enter")
}

func (c *Client) SendKeys(ctx context.Context, target string, keys ...string) error {
	args := append([]string{"send-keys", "-t", target}, keys...)
	_, err := c.run(ctx, "", args...)
	return err
}

// SendCommand types command into the pane and presses Enter.
func (c *Client) SendCommand(ctx context.Context, target, command string) error {
	return c.SendKeys(ctx, target, command, "Enter")
}

func (c *Client) SendCtrlC(ctx context.Context, target string) error {
	return c.SendKeys(ctx, target, "C-c")
}

// CapturePane returns the pane's text with wrapped lines joined. lastN > 0
// limits the capture to that many lines of history.
func (c *Client) CapturePane(ctx context.Context, target string, lastN int) (string, error) {
	args := []string{"capture-pane", "-p", "-J", "-t", target}
	if lastN > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lastN))
	}
	return c.run(ctx, "", args...)
}

func (c *Client) SessionExists(ctx context.Context, session string) bool {
	_, err := c.run(ctx, "", "has-session", "-t", session)
	return err == nil
}

// NewSession creates a detached session whose first window is named window.
func (c *Client) NewSession(ctx context.Context, session, window string) error {
	_, err := c.run(ctx, "", "new-session", "-d", "-s", session, "-n", window)
	return err
}

func (c *Client) KillSession(ctx context.Context, session string) error {
	_, err := c.run(ctx, "", "kill-session", "-t", session)
	return err
}

// SplitWindow adds a pane to the window holding target.
func (c *Client) SplitWindow(ctx context.Context, target string) error {
	_, err := c.run(ctx, "", "split-window", "-t", target)
	return err
}

func (c *Client) SelectLayout(ctx context.Context, target, layout string) error {
	_, err := c.run(ctx, "", "select-layout", "-t", target, layout)
	return err
}

func (c *Client) SetPaneTitle(ctx context.Context, target, title string) error {
	_, err := c.run(ctx, "", "select-pane", "-t", target, "-T", title)
	return err
}

// ListSessions returns session names starting with prefix. A missing tmux
// server yields an empty list.
func (c *Client) ListSessions(ctx context.Context, prefix string) ([]string, error) {
	out, err := c.run(ctx, "", "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.HasPrefix(line, prefix) {
			names = append(names, line)
		}
	}
	return names, nil
}

// GetPaneCurrentCommand returns the foreground command of the pane.
func (c *Client) GetPaneCurrentCommand(ctx context.Context, target string) (string, error) {
	out, err := c.run(ctx, "", "display-message", "-t", target, "-p", "#{pane_current_command}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

var unsafeSessionChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SessionName builds a tmux-safe session name from prefix and project.
// tmux reserves ':' and '.' for target resolution.
func SessionName(prefix, project string) string {
	name := unsafeSessionChars.ReplaceAllString(prefix+project, "_")
	if name == "" {
		return "orchestra"
	}
	return name
}

var shellCommands = map[string]bool{
	"bash": true, "zsh": true, "fish": true,
	"sh":   true, "dash": true, "tcsh": true, "csh": true,
}

// IsShellCommand reports whether cmd is a plain shell, meaning the agent
// process in that pane has exited.
func IsShellCommand(cmd string) bool {
	return shellCommands[cmd]
}
