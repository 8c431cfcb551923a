// Package health supervises agents with periodic liveness probes and runs a
// recovery strategy once an agent fails too many in a row.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// State is an agent's position in the supervision state machine:
// Healthy -> Suspect -> Unhealthy -> Recovering -> Healthy.
type State int

const (
	StateHealthy State = iota
	StateSuspect
	StateUnhealthy
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateSuspect:
		return "suspect"
	case StateUnhealthy:
		return "unhealthy"
	case StateRecovering:
		return "recovering"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "healthy":
		*s = StateHealthy
	case "suspect":
		*s = StateSuspect
	case "unhealthy":
		*s = StateUnhealthy
	case "recovering":
		*s = StateRecovering
	default:
		return fmt.Errorf("unknown health state %q", b)
	}
	return nil
}

const (
	// ProbeMessage is sent to an agent on every check.
	ProbeMessage = "Health check: Please respond with 'HEALTHY' to confirm you're operating normally."
	// HealthyMarker must appear in the tail of the captured output.
	HealthyMarker = "HEALTHY"
	// ResponseWindow is how many trailing characters of output are searched.
	ResponseWindow = 500
)

const (
	DefaultMaxFailures      = 3
	DefaultRecoveryStrategy = StrategyRestart
	DefaultCheckInterval    = 5 * time.Minute
	DefaultObservationDelay = 5 * time.Second
	DefaultSettleDelay      = 2 * time.Second
	DefaultLaunchDelay      = 5 * time.Second
)

// Communicator reaches an agent's terminal. Implementations enforce their
// own timeouts.
type Communicator interface {
	// Send reports whether msg was delivered. It never errors.
	Send(ctx context.Context, target, msg string) bool
	// CaptureOutput returns recent terminal output, or "" on failure.
	CaptureOutput(ctx context.Context, target string) string
	Interrupt(ctx context.Context, target string) error
	Relaunch(ctx context.Context, target string) error
}

// Config is the per-agent supervision policy. Zero fields fall back to the
// supervisor's defaults.
type Config struct {
	MaxFailures      int           `yaml:"max_failures" json:"max_failures"`
	RecoveryStrategy string        `yaml:"recovery_strategy" json:"recovery_strategy"`
	CheckInterval    time.Duration `yaml:"check_interval" json:"check_interval"`
}

func (c Config) withDefaults(d Config) Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.RecoveryStrategy == "" {
		c.RecoveryStrategy = d.RecoveryStrategy
	}
	if c.RecoveryStrategy == "" {
		c.RecoveryStrategy = DefaultRecoveryStrategy
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	return c
}

// AgentStatus is a point-in-time copy of one agent's supervision record.
type AgentStatus struct {
	Name                string        `yaml:"name" json:"name"`
	Target              string        `yaml:"target" json:"target"`
	State               State         `yaml:"state" json:"state"`
	ConsecutiveFailures int           `yaml:"consecutive_failures" json:"consecutive_failures"`
	LastResponse        time.Time     `yaml:"last_response" json:"last_response"`
	LastCheck           time.Time     `yaml:"last_check,omitempty" json:"last_check,omitempty"`
	LastProbeLatency    time.Duration `yaml:"last_probe_latency" json:"last_probe_latency"`
	ProbesSent          int           `yaml:"probes_sent" json:"probes_sent"`
	UpSince             time.Time     `yaml:"up_since" json:"up_since"`
	Config              Config        `yaml:"config" json:"config"`
}

// containsMarker reports whether HealthyMarker occurs in the last
// ResponseWindow characters of output.
func containsMarker(output string) bool {
	runes := []rune(output)
	if len(runes) > ResponseWindow {
		runes = runes[len(runes)-ResponseWindow:]
	}
	return strings.Contains(string(runes), HealthyMarker)
}
