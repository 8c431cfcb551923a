package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/msageha/orchestra/internal/health"
	"github.com/msageha/orchestra/internal/logging"
	"github.com/msageha/orchestra/internal/uds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

type fakeSessions struct {
	names []string
	err   error
}

func (f fakeSessions) ListSessions(ctx context.Context, prefix string) ([]string, error) {
	return f.names, f.err
}

func shortDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "orc-st-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestCollect_DaemonStoppedFallsBackToSnapshot(t *testing.T) {
	dir := shortDir(t)
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, WriteSnapshot(dir, []health.AgentStatus{
		{Name: "qa", Target: "s:0.2", State: health.StateSuspect, ConsecutiveFailures: 1},
		{Name: "pm", Target: "s:0.0", State: health.StateHealthy},
	}, at))

	r := Collect(context.Background(), Options{
		Dir:      dir,
		Sessions: fakeSessions{names: []string{"orchestra-demo"}},
		Timeout:  time.Second,
	})

	assert.False(t, r.Daemon.Running)
	assert.Equal(t, "snapshot", r.AgentsSource)
	assert.True(t, at.Equal(r.SnapshotAt))
	require.Len(t, r.Agents, 2)
	assert.Equal(t, "pm", r.Agents[0].Name)
	assert.Equal(t, health.StateSuspect, r.Agents[1].State)
	assert.Equal(t, []string{"orchestra-demo"}, r.Sessions)
}

func TestCollect_NothingAvailable(t *testing.T) {
	r := Collect(context.Background(), Options{
		Dir:      shortDir(t),
		Sessions: fakeSessions{err: errors.New("tmux missing")},
		Timeout:  time.Second,
	})
	assert.False(t, r.Daemon.Running)
	assert.Empty(t, r.Agents)
	assert.Empty(t, r.Sessions)

	var buf bytes.Buffer
	Render(&buf, r)
	assert.Contains(t, buf.String(), "Daemon: stopped")
	assert.Contains(t, buf.String(), "Agents: none")
}

func TestCollect_LiveDaemon(t *testing.T) {
	dir := shortDir(t)
	srv := uds.NewServer(SocketPath(dir), logging.Discard())
	srv.Handle(uds.CmdStatus, func(ctx context.Context, req *uds.Request) *uds.Response {
		return uds.SuccessResponse(DaemonInfo{
			PID:       4242,
			Project:   "demo",
			StartedAt: time.Now().Add(-time.Minute),
			Rules:     3,
			Agents: []health.AgentStatus{
				{Name: "dev", Target: "s:0.1", State: health.StateUnhealthy, ConsecutiveFailures: 3},
			},
		})
	})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	r := Collect(context.Background(), Options{Dir: dir, Timeout: 2 * time.Second})
	require.True(t, r.Daemon.Running)
	require.NotNil(t, r.Daemon.Info)
	assert.Equal(t, 4242, r.Daemon.Info.PID)
	assert.Equal(t, "daemon", r.AgentsSource)
	require.Len(t, r.Agents, 1)
	assert.Equal(t, health.StateUnhealthy, r.Agents[0].State)

	var buf bytes.Buffer
	Render(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "Daemon: running (pid=4242 project=demo rules=3")
	assert.Contains(t, out, "dev")
	assert.Contains(t, out, "unhealthy")
}

func TestRun_JSON(t *testing.T) {
	dir := shortDir(t)
	require.NoError(t, WriteSnapshot(dir, []health.AgentStatus{{Name: "pm", State: health.StateRecovering}}, time.Now()))

	var buf bytes.Buffer
	require.NoError(t, Run(context.Background(), &buf, Options{Dir: dir, Timeout: time.Second}, true))

	var got struct {
		Daemon struct {
			Running bool `json:"running"`
		} `json:"daemon"`
		Agents []struct {
			Name  string `json:"name"`
			State string `json:"state"`
		} `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.False(t, got.Daemon.Running)
	require.Len(t, got.Agents, 1)
	assert.Equal(t, "recovering", got.Agents[0].State)
}

func TestReadSnapshot_Missing(t *testing.T) {
	_, err := ReadSnapshot(shortDir(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no health snapshot yet")
}

func TestRender_SnapshotHeaderAndLastResponse(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	r := Report{
		AgentsSource: "snapshot",
		SnapshotAt:   at,
		Agents: []health.AgentStatus{
			{Name: "pm", State: health.StateHealthy, LastResponse: at, Target: "s:0.0"},
		},
		Sessions: []string{"orchestra-demo"},
	}
	var buf bytes.Buffer
	Render(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "Agents (snapshot 2026-05-01T09:00:00Z):")
	assert.Contains(t, out, "2026-05-01 09:00:00")
	assert.Contains(t, out, "Sessions:\n  orchestra-demo")
}
