package metrics

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/msageha/orchestra/internal/logging"
	"github.com/msageha/orchestra/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_CollectAllIsolatesFailures(t *testing.T) {
	store := testStore(t)
	var buf bytes.Buffer
	m := NewMonitor(store, logging.New(&buf, logging.LevelDebug))

	var order []string
	m.Register("b_panics", func(ctx context.Context, s Store) error {
		order = append(order, "b")
		panic("collector blew up")
	})
	m.Register("a_errors", func(ctx context.Context, s Store) error {
		order = append(order, "a")
		return errors.New("tmux unreachable")
	})
	m.Register("c_writes", func(ctx context.Context, s Store) error {
		order = append(order, "c")
		return s.RecordAgentMetrics(ctx, model.MetricSample{AgentName: "dev-1", Timestamp: time.Now()})
	})

	err := m.CollectAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 collectors failed")
	assert.Equal(t, []string{"a", "b", "c"}, order)

	got, err := store.AgentMetricsSince(context.Background(), "dev-1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	out := buf.String()
	assert.Contains(t, out, "collector failed name=a_errors error=tmux unreachable")
	assert.Contains(t, out, "collector b_panics panicked: collector blew up")
}

func TestMonitor_Unregister(t *testing.T) {
	m := NewMonitor(testStore(t), nil)
	called := false
	m.Register("x", func(ctx context.Context, s Store) error {
		called = true
		return nil
	})
	m.Unregister("x")

	require.NoError(t, m.CollectAll(context.Background()))
	assert.False(t, called)
}
