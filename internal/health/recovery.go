package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/msageha/orchestra/internal/events"
)

const (
	StrategyRestart    = "restart"
	StrategyNotifyOnly = "notify_only"
)

// RecoveryTarget describes the agent a recovery strategy acts on.
type RecoveryTarget struct {
	Name                string
	Target              string
	ConsecutiveFailures int
}

// RecoveryFunc runs a recovery strategy. recovered=true resets the failure
// counter and returns the agent to Healthy; false leaves it Unhealthy.
type RecoveryFunc func(ctx context.Context, t RecoveryTarget) (recovered bool, err error)

// RegisterRecovery adds or replaces the strategy under name.
func (s *Supervisor) RegisterRecovery(name string, fn RecoveryFunc) error {
	if name == "" {
		return fmt.Errorf("recovery strategy name is required")
	}
	if fn == nil {
		return fmt.Errorf("recovery strategy %q: handler is nil", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveries[name] = fn
	return nil
}

func (s *Supervisor) recoveryFor(name string) (RecoveryFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.recoveries[name]
	return fn, ok
}

// ReinitMessage is sent to an agent after it has been relaunched.
func ReinitMessage(agent string) string {
	return fmt.Sprintf("You are being restarted due to health check failure. Please resume your role as %s and continue your assigned tasks.", agent)
}

// restart interrupts the agent, relaunches it, and re-sends its role. The
// relaunch is not verified, so it always reports recovered; step failures
// come back joined in err.
func (s *Supervisor) restart(ctx context.Context, t RecoveryTarget) (bool, error) {
	s.logger.Infof("restarting agent=%s target=%s", t.Name, t.Target)

	var errs []error
	if err := s.comm.Interrupt(ctx, t.Target); err != nil {
		errs = append(errs, fmt.Errorf("interrupt: %w", err))
	}
	s.sleep(s.opts.SettleDelay)

	if err := s.comm.Relaunch(ctx, t.Target); err != nil {
		errs = append(errs, fmt.Errorf("relaunch: %w", err))
	}
	s.sleep(s.opts.LaunchDelay)

	if !s.comm.Send(ctx, t.Target, ReinitMessage(t.Name)) {
		errs = append(errs, fmt.Errorf("send reinit message: delivery failed"))
	}
	return true, errors.Join(errs...)
}

// notifyOnly raises an alert and leaves the agent's process alone.
func (s *Supervisor) notifyOnly(ctx context.Context, t RecoveryTarget) (bool, error) {
	msg := fmt.Sprintf("Agent %s failed %d consecutive health checks", t.Name, t.ConsecutiveFailures)
	s.logger.Warnf("agent=%s unhealthy, notify only", t.Name)

	if s.opts.Publisher != nil {
		s.opts.Publisher.Publish(events.EventAgentAlert, map[string]any{
			"agent":    t.Name,
			"target":   t.Target,
			"failures": t.ConsecutiveFailures,
			"message":  msg,
		})
	}
	if s.opts.Notifier != nil {
		if err := s.opts.Notifier.Notify(ctx, "orchestra: agent unhealthy", msg); err != nil {
			return false, fmt.Errorf("notify: %w", err)
		}
	}
	return false, nil
}
