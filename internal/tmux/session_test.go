package tmux

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	stdin string
	args  []string
}

// fakeRunner records commands and answers from a per-subcommand script.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	outputs map[string]string
	errs    map[string][]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]string{}, errs: map[string][]error{}}
}

// failNext queues errors for the next invocations of subcommand.
func (f *fakeRunner) failNext(subcommand string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[subcommand] = append(f.errs[subcommand], errs...)
}

func (f *fakeRunner) Run(ctx context.Context, stdin string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{stdin: stdin, args: args})
	if q := f.errs[args[0]]; len(q) > 0 {
		f.errs[args[0]] = q[1:]
		return "", q[0]
	}
	return f.outputs[args[0]], nil
}

func (f *fakeRunner) subcommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.args[0]
	}
	return out
}

func newTestClient(r Runner) *Client {
	c := NewClient(r, time.Second)
	c.sleep = func(time.Duration) {}
	return c
}

func TestClient_SendTextPastesThenSubmits(t *testing.T) {
	r := newFakeRunner()
	c := newTestClient(r)

	require.NoError(t, c.SendText(context.Background(), "orchestra-shop:0.1", "line one\nline two"))

	require.Len(t, r.calls, 3)
	assert.Equal(t, "load-buffer", r.calls[0].args[0])
	assert.Equal(t, "line one\nline two", r.calls[0].stdin)
	bufName := r.calls[0].args[2]
	assert.True(t, strings.HasPrefix(bufName, "orchestra-msg-"))

	assert.Equal(t, []string{"paste-buffer", "-pr", "-b", bufName, "-d", "-t", "orchestra-shop:0.1"}, r.calls[1].args)
	assert.Equal(t, []string{"send-keys", "-t", "orchestra-shop:0.1", "Enter"}, r.calls[2].args)
}

func TestClient_SendTextStopsOnLoadFailure(t *testing.T) {
	r := newFakeRunner()
	r.failNext("load-buffer", errors.New("no server"))
	c := newTestClient(r)

	assert.Error(t, c.SendText(context.Background(), "t", "hi"))
	assert.Equal(t, []string{"load-buffer"}, r.subcommands())
}

func TestClient_CapturePaneArgs(t *testing.T) {
	r := newFakeRunner()
	r.outputs["capture-pane"] = "HEALTHY\n"
	c := newTestClient(r)

	out, err := c.CapturePane(context.Background(), "s:0.0", 0)
	require.NoError(t, err)
	assert.Equal(t, "HEALTHY\n", out)
	assert.Equal(t, []string{"capture-pane", "-p", "-J", "-t", "s:0.0"}, r.calls[0].args)

	_, err = c.CapturePane(context.Background(), "s:0.0", 200)
	require.NoError(t, err)
	assert.Equal(t, []string{"capture-pane", "-p", "-J", "-t", "s:0.0", "-S", "-200"}, r.calls[1].args)
}

func TestClient_ListSessionsFiltersByPrefix(t *testing.T) {
	r := newFakeRunner()
	r.outputs["list-sessions"] = "orchestra-shop\nscratch\norchestra-blog\n"
	c := newTestClient(r)

	names, err := c.ListSessions(context.Background(), "orchestra-")
	require.NoError(t, err)
	assert.Equal(t, []string{"orchestra-shop", "orchestra-blog"}, names)

	r.failNext("list-sessions", errors.New("tmux list-sessions: exit status 1: no server running on /tmp/tmux-0/default"))
	names, err = c.ListSessions(context.Background(), "orchestra-")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestClient_SessionLayoutCommands(t *testing.T) {
	r := newFakeRunner()
	c := newTestClient(r)
	ctx := context.Background()

	require.NoError(t, c.NewSession(ctx, "orchestra-shop", "agents"))
	require.NoError(t, c.SplitWindow(ctx, "orchestra-shop:0"))
	require.NoError(t, c.SelectLayout(ctx, "orchestra-shop:0", "tiled"))
	require.NoError(t, c.SetPaneTitle(ctx, "orchestra-shop:0.1", "dev"))
	require.NoError(t, c.KillSession(ctx, "orchestra-shop"))

	require.Len(t, r.calls, 5)
	assert.Equal(t, []string{"new-session", "-d", "-s", "orchestra-shop", "-n", "agents"}, r.calls[0].args)
	assert.Equal(t, []string{"split-window", "-t", "orchestra-shop:0"}, r.calls[1].args)
	assert.Equal(t, []string{"select-layout", "-t", "orchestra-shop:0", "tiled"}, r.calls[2].args)
	assert.Equal(t, []string{"select-pane", "-t", "orchestra-shop:0.1", "-T", "dev"}, r.calls[3].args)
	assert.Equal(t, []string{"kill-session", "-t", "orchestra-shop"}, r.calls[4].args)
}

func TestClient_CommandsHaveDeadline(t *testing.T) {
	var sawDeadline bool
	c := newTestClient(runnerFunc(func(ctx context.Context, stdin string, args ...string) (string, error) {
		_, sawDeadline = ctx.Deadline()
		return "", nil
	}))
	require.NoError(t, c.SendCtrlC(context.Background(), "t"))
	assert.True(t, sawDeadline)
}

func TestSessionName(t *testing.T) {
	assert.Equal(t, "orchestra-my_shop_v2", SessionName("orchestra-", "my.shop:v2"))
	assert.Equal(t, "orchestra", SessionName("", ""))
}

func TestIsShellCommand(t *testing.T) {
	assert.True(t, IsShellCommand("zsh"))
	assert.False(t, IsShellCommand("claude"))
}

func TestExecRunner_RealTmux(t *testing.T) {
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not found, skipping")
	}
	c := NewClient(ExecRunner{}, 5*time.Second)
	assert.False(t, c.SessionExists(context.Background(), "orchestra-test-does-not-exist"))
}

type runnerFunc func(ctx context.Context, stdin string, args ...string) (string, error)

func (f runnerFunc) Run(ctx context.Context, stdin string, args ...string) (string, error) {
	return f(ctx, stdin, args...)
}
