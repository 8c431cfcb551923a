// Package scheduler runs periodic cycles that stop cooperatively.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/msageha/orchestra/internal/logging"
)

// CycleFunc is one iteration of a loop. Returned errors are logged and the
// loop keeps going.
type CycleFunc func(ctx context.Context) error

// Loop invokes a CycleFunc immediately on Start and then once per interval.
// Stop (or cancellation of the Start context) is observed between cycles
// only; a running cycle always completes and sees a context that is never
// cancelled.
type Loop struct {
	name     string
	interval time.Duration
	cycle    CycleFunc
	logger   *logging.Logger

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewLoop(name string, interval time.Duration, cycle CycleFunc, logger *logging.Logger) *Loop {
	if interval <= 0 {
		interval = time.Second
	}
	return &Loop{
		name:     name,
		interval: interval,
		cycle:    cycle,
		logger:   logger.With("scheduler"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (l *Loop) Name() string { return l.name }

// Start launches the loop goroutine. Calling Start twice is an error.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return fmt.Errorf("loop %s already started", l.name)
	}
	l.started = true
	go l.run(ctx)
	return nil
}

// Stop signals the loop and waits for the in-flight cycle, if any, to finish.
// Safe to call more than once and before Start.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })

	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if started {
		<-l.done
	}
}

// Done is closed when the loop goroutine exits.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	cycleCtx := context.WithoutCancel(ctx)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Debugf("loop started name=%s interval=%s", l.name, l.interval)
	for {
		if l.stopping(ctx) {
			l.logger.Debugf("loop stopped name=%s", l.name)
			return
		}
		l.runCycle(cycleCtx)

		select {
		case <-l.stopCh:
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

func (l *Loop) stopping(ctx context.Context) bool {
	select {
	case <-l.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (l *Loop) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorf("cycle panic name=%s panic=%v\n%s", l.name, r, debug.Stack())
		}
	}()
	if err := l.cycle(ctx); err != nil {
		l.logger.Warnf("cycle failed name=%s error=%v", l.name, err)
	}
}
