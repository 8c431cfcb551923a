package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/msageha/orchestra/internal/logging"
)

// Collector gathers one source of samples into the store.
type Collector func(ctx context.Context, store Store) error

// Monitor holds named collectors and runs them against a Store. It is driven
// by a scheduler.Loop in the daemon.
type Monitor struct {
	store  Store
	logger *logging.Logger

	mu         sync.RWMutex
	collectors map[string]Collector
}

func NewMonitor(store Store, logger *logging.Logger) *Monitor {
	return &Monitor{
		store:      store,
		logger:     logger.With("metrics"),
		collectors: make(map[string]Collector),
	}
}

// Register adds or replaces the collector under name.
func (m *Monitor) Register(name string, c Collector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectors[name] = c
}

func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collectors, name)
}

// CollectAll runs every collector in name order. A failing or panicking
// collector is logged and counted; the rest still run. The returned error
// reports how many collectors failed.
func (m *Monitor) CollectAll(ctx context.Context) error {
	m.mu.RLock()
	names := make([]string, 0, len(m.collectors))
	for name := range m.collectors {
		names = append(names, name)
	}
	collectors := make(map[string]Collector, len(m.collectors))
	for k, v := range m.collectors {
		collectors[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(names)

	failed := 0
	for _, name := range names {
		if err := m.runCollector(ctx, name, collectors[name]); err != nil {
			failed++
			m.logger.Errorf("collector failed name=%s error=%v", name, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d collectors failed", failed, len(names))
	}
	return nil
}

func (m *Monitor) runCollector(ctx context.Context, name string, c Collector) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collector %s panicked: %v", name, r)
		}
	}()
	return c(ctx, m.store)
}
