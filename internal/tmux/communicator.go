package tmux

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/msageha/orchestra/internal/logging"
)

// DefaultLaunchCommand starts an agent in a pane after an interrupt.
const DefaultLaunchCommand = "claude --dangerously-skip-permissions"

type CommunicatorConfig struct {
	LaunchCommand string
	// MaxRetries bounds re-sends after the first attempt.
	MaxRetries int
	// BreakerThreshold is the consecutive send failures that open a
	// target's breaker.
	BreakerThreshold int
	BreakerTimeout   time.Duration
	RetryInitial     time.Duration
	// CaptureLines > 0 includes that many lines of scrollback in captures.
	CaptureLines int
}

func (c *CommunicatorConfig) applyDefaults() {
	if c.LaunchCommand == "" {
		c.LaunchCommand = DefaultLaunchCommand
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 200 * time.Millisecond
	}
}

// Communicator talks to agents in tmux panes. Sends are retried with
// exponential backoff and guarded by a circuit breaker per target, so an
// unreachable pane fails fast once its breaker opens.
type Communicator struct {
	client *Client
	cfg    CommunicatorConfig
	logger *logging.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewCommunicator(client *Client, cfg CommunicatorConfig, logger *logging.Logger) *Communicator {
	cfg.applyDefaults()
	return &Communicator{
		client:   client,
		cfg:      cfg,
		logger:   logger.With("tmux"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *Communicator) breaker(target string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[target]; ok {
		return cb
	}
	threshold := uint32(c.cfg.BreakerThreshold)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        target,
		MaxRequests: 1,
		Timeout:     c.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warnf("breaker target=%s %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	c.breakers[target] = cb
	return cb
}

// BreakerState reports the breaker state for target, closed if unseen.
func (c *Communicator) BreakerState(target string) gobreaker.State {
	return c.breaker(target).State()
}

// Send delivers msg to target and reports whether delivery succeeded. It
// never returns an error; failures are logged.
func (c *Communicator) Send(ctx context.Context, target, msg string) bool {
	cb := c.breaker(target)

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		_, err := cb.Execute(func() (any, error) {
			return nil, c.client.SendText(ctx, target, msg)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInitial
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 30 * time.Second
	b := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), uint64(c.cfg.MaxRetries))

	if err := backoff.Retry(operation, b); err != nil {
		c.logger.Warnf("send failed target=%s error=%v", target, err)
		return false
	}
	return true
}

// CaptureOutput returns the pane text, or "" if the capture fails.
func (c *Communicator) CaptureOutput(ctx context.Context, target string) string {
	out, err := c.client.CapturePane(ctx, target, c.cfg.CaptureLines)
	if err != nil {
		c.logger.Warnf("capture failed target=%s error=%v", target, err)
		return ""
	}
	return out
}

// Interrupt sends Ctrl-C to the agent's pane.
func (c *Communicator) Interrupt(ctx context.Context, target string) error {
	return c.client.SendCtrlC(ctx, target)
}

// Relaunch starts the agent command in the pane. A pane still running a
// non-shell process gets one more interrupt first.
func (c *Communicator) Relaunch(ctx context.Context, target string) error {
	if cmd, err := c.client.GetPaneCurrentCommand(ctx, target); err == nil && cmd != "" && !IsShellCommand(cmd) {
		c.logger.Infof("pane still running command=%s target=%s, interrupting again", cmd, target)
		if err := c.client.SendCtrlC(ctx, target); err != nil {
			return err
		}
	}
	return c.client.SendCommand(ctx, target, c.cfg.LaunchCommand)
}
